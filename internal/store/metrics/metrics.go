package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	OpsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kvdex_store_operations_total",
		Help: "The total number of store operations",
	}, []string{"op", "outcome"})

	OpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "kvdex_store_operation_duration_seconds",
		Help: "The duration of store operations",
	}, []string{"op"})

	LockWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "kvdex_store_lock_wait_seconds",
		Help: "Time spent waiting for per-key write locks",
	})

	IndexUpdates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kvdex_store_index_updates_total",
		Help: "The total number of index slot moves applied on commit",
	}, []string{"index"})
)

func init() {
	prometheus.MustRegister(OpsTotal)
	prometheus.MustRegister(OpDuration)
	prometheus.MustRegister(LockWait)
	prometheus.MustRegister(IndexUpdates)
}

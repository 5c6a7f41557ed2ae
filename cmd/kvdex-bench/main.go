// kvdex-bench exercises the indexed store engine under concurrent
// writers and reports throughput. The backend and lock mode come from
// the config file, so the same benchmark runs against the in-memory
// backend or any of the persistent ones.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/syntrixbase/kvdex/internal/config"
	"github.com/syntrixbase/kvdex/internal/dlock"
	"github.com/syntrixbase/kvdex/internal/store"
	"github.com/syntrixbase/kvdex/internal/store/memory"
	"github.com/syntrixbase/kvdex/internal/store/mongodb"
	"github.com/syntrixbase/kvdex/internal/store/pebblestore"
	"github.com/syntrixbase/kvdex/internal/store/postgres"
)

type benchDoc struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Count  int    `json:"count"`
}

func (d *benchDoc) Clone() store.Value {
	cp := *d
	return &cp
}

func main() {
	configPath := flag.String("config", "config/config.yml", "Path to config file")
	keys := flag.Int("keys", 100, "Number of distinct keys")
	workers := flag.Int("workers", 8, "Concurrent writers")
	rounds := flag.Int("rounds", 500, "Updates per worker")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := cfg.BuildLogger()
	slog.SetDefault(logger)

	ctx := context.Background()
	backend, cleanup, err := buildBackend(ctx, cfg)
	if err != nil {
		logger.Error("failed to build backend", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	opts := []store.Option{store.WithLogger(logger)}
	if cfg.Lock.Mode == "nats" {
		cache, err := dlock.NewNATSCache(ctx, cfg.Lock.NATS, logger)
		if err != nil {
			logger.Error("failed to build lock cache", "error", err)
			os.Exit(1)
		}
		lockCfg := cfg.Lock.Settings
		opts = append(opts, store.WithLockFactory(func(key string) (store.KeyLock, error) {
			return dlock.New("kvdex/"+key, cache, lockCfg, logger), nil
		}))
	}
	s := store.New(backend, opts...)

	if err := s.CreateIndex(ctx, "status", func(v store.Value) (string, bool) {
		d := v.(*benchDoc)
		return d.Status, d.Status != ""
	}); err != nil {
		logger.Error("failed to create index", "error", err)
		os.Exit(1)
	}

	logger.Info("seeding", "keys", *keys)
	for i := 0; i < *keys; i++ {
		key := fmt.Sprintf("k%d", i)
		if err := s.Insert(ctx, key, &benchDoc{ID: key, Status: "new"}); err != nil {
			logger.Error("seed insert failed", "key", key, "error", err)
			os.Exit(1)
		}
	}

	statuses := []string{"new", "active", "done"}
	logger.Info("running", "workers", *workers, "rounds", *rounds)
	start := time.Now()

	var wg sync.WaitGroup
	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < *rounds; i++ {
				key := fmt.Sprintf("k%d", (w+i)%*keys)
				_, err := s.Update(ctx, key, func(v store.Value) bool {
					d := v.(*benchDoc)
					d.Count++
					d.Status = statuses[d.Count%len(statuses)]
					return true
				})
				if err != nil {
					logger.Error("update failed", "key", key, "error", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	total := *workers * *rounds
	fmt.Printf("updates: %d in %s (%.0f ops/sec)\n",
		total, elapsed.Round(time.Millisecond), float64(total)/elapsed.Seconds())

	// Sanity check: no lost updates across all keys.
	sum := 0
	for i := 0; i < *keys; i++ {
		v, err := s.Get(ctx, fmt.Sprintf("k%d", i))
		if err != nil {
			logger.Error("final read failed", "error", err)
			os.Exit(1)
		}
		sum += v.(*benchDoc).Count
	}
	if sum != total {
		fmt.Printf("LOST UPDATES: expected %d, got %d\n", total, sum)
		os.Exit(1)
	}
	fmt.Printf("verified: %d updates, none lost\n", sum)

	for _, status := range statuses {
		keysOf, err := s.KeysOf("status", status)
		if err != nil {
			logger.Error("index query failed", "error", err)
			os.Exit(1)
		}
		fmt.Printf("status=%s: %d keys\n", status, len(keysOf))
	}
}

func buildBackend(ctx context.Context, cfg *config.Config) (store.Backend, func(), error) {
	codec := store.JSONCodec{NewValue: func() store.Value { return &benchDoc{} }}

	switch cfg.Backend.Type {
	case "memory":
		return memory.New(), func() {}, nil
	case "mongodb":
		b, err := mongodb.New(ctx, cfg.Backend.Mongo, codec)
		if err != nil {
			return nil, nil, err
		}
		return b, func() { _ = b.Close(context.Background()) }, nil
	case "postgres":
		b, err := postgres.New(cfg.Backend.Postgres, codec)
		if err != nil {
			return nil, nil, err
		}
		return b, func() { _ = b.Close() }, nil
	case "pebble":
		b, err := pebblestore.New(cfg.Backend.Pebble, codec)
		if err != nil {
			return nil, nil, err
		}
		return b, func() { _ = b.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend type %q", cfg.Backend.Type)
	}
}

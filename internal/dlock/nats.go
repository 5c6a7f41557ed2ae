package dlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// natsCache implements CacheService over a NATS JetStream key-value
// bucket. Marker expiry comes from the bucket's MaxAge, so every lock
// sharing a bucket shares one TTL; PutIfAbsent callers asking for a
// different ttl get the bucket's.
type natsCache struct {
	kv     jetstream.KeyValue
	ttl    time.Duration
	logger *slog.Logger
}

// NATSCacheConfig configures the JetStream-backed cache service.
type NATSCacheConfig struct {
	// URL of the NATS server, used only by NewNATSCache.
	URL string `yaml:"url"`

	// Bucket is the KV bucket holding lock markers.
	Bucket string `yaml:"bucket"`

	// TTL is applied to the bucket as MaxAge.
	TTL time.Duration `yaml:"ttl"`
}

// DefaultNATSCacheConfig returns the default bucket settings.
func DefaultNATSCacheConfig() NATSCacheConfig {
	return NATSCacheConfig{
		URL:    nats.DefaultURL,
		Bucket: "kvdex_locks",
		TTL:    30 * time.Second,
	}
}

// NewNATSCache connects to NATS and builds the cache service on top of
// a KV bucket, creating the bucket if needed.
func NewNATSCache(ctx context.Context, cfg NATSCacheConfig, logger *slog.Logger) (CacheService, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	cs, err := NewNATSCacheFromConn(ctx, nc, cfg, logger)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return cs, nil
}

// NewNATSCacheFromConn builds the cache service over an existing
// connection. The caller keeps ownership of the connection.
func NewNATSCacheFromConn(ctx context.Context, nc *nats.Conn, cfg NATSCacheConfig, logger *slog.Logger) (CacheService, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultNATSCacheConfig().Bucket
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultNATSCacheConfig().TTL
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	kv, err := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "kvdex distributed lock markers",
		TTL:         cfg.TTL,
		Storage:     jetstream.MemoryStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure lock bucket: %w", err)
	}

	return &natsCache{kv: kv, ttl: cfg.TTL, logger: logger}, nil
}

func (c *natsCache) PutIfAbsent(ctx context.Context, name string, marker []byte, ttl time.Duration) (bool, error) {
	if ttl != c.ttl {
		c.logger.Debug("lock ttl differs from bucket MaxAge, bucket wins",
			"name", name, "requested", ttl, "bucket", c.ttl)
	}

	_, err := c.kv.Create(ctx, name, marker)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *natsCache) Delete(ctx context.Context, name string) (bool, error) {
	// Purge rather than Delete so the key does not linger as a
	// tombstone in the bucket history.
	err := c.kv.Purge(ctx, name)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

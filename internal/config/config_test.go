package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Backend.Type)
	assert.Equal(t, "local", cfg.Lock.Mode)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	data := `
logging:
  level: debug
  format: json
backend:
  type: pebble
  pebble:
    path: /tmp/kvdex-test.db
lock:
  mode: nats
  ttl: 10s
  poll_interval: 50ms
  nats:
    bucket: test_locks
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "pebble", cfg.Backend.Type)
	assert.Equal(t, "/tmp/kvdex-test.db", cfg.Backend.Pebble.Path)
	assert.Equal(t, "nats", cfg.Lock.Mode)
	assert.Equal(t, 10*time.Second, cfg.Lock.Settings.TTL)
	assert.Equal(t, 50*time.Millisecond, cfg.Lock.Settings.PollInterval)
	assert.Equal(t, "test_locks", cfg.Lock.NATS.Bucket)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("backend:\n  type: cassandra\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsUnknownLockMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("lock:\n  mode: zookeeper\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestBuildLogger(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	logger := cfg.BuildLogger()
	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
}

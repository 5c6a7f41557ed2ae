// Package config loads the application configuration: which backend
// persists entries, how per-key write locks are provided, and logging.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/syntrixbase/kvdex/internal/dlock"
	"github.com/syntrixbase/kvdex/internal/store/mongodb"
	"github.com/syntrixbase/kvdex/internal/store/pebblestore"
	"github.com/syntrixbase/kvdex/internal/store/postgres"
)

// Config holds the application configuration.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Backend BackendConfig `yaml:"backend"`
	Lock    LockConfig    `yaml:"lock"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// BackendConfig selects and configures the persistence backend.
type BackendConfig struct {
	Type     string             `yaml:"type"` // memory, mongodb, postgres, pebble
	Mongo    mongodb.Config     `yaml:"mongo"`
	Postgres postgres.Config    `yaml:"postgres"`
	Pebble   pebblestore.Config `yaml:"pebble"`
}

// LockConfig selects how per-key write locks are provided. Mode
// "local" keeps locks in-process; "nats" shares them through a
// JetStream KV bucket so the single-writer guarantee spans processes.
type LockConfig struct {
	Mode     string                `yaml:"mode"` // local, nats
	Settings dlock.Config          `yaml:",inline"`
	NATS     dlock.NATSCacheConfig `yaml:"nats"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Backend: BackendConfig{
			Type:     "memory",
			Mongo:    mongodb.DefaultConfig(),
			Postgres: postgres.DefaultConfig(),
			Pebble:   pebblestore.DefaultConfig(),
		},
		Lock: LockConfig{
			Mode:     "local",
			Settings: dlock.DefaultConfig(),
			NATS:     dlock.DefaultNATSCacheConfig(),
		},
	}
}

// Load reads the configuration file at path over the defaults. A
// missing file is not an error; the defaults apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects unknown backend and lock modes.
func (c *Config) Validate() error {
	switch c.Backend.Type {
	case "memory", "mongodb", "postgres", "pebble":
	default:
		return fmt.Errorf("unknown backend type %q", c.Backend.Type)
	}
	switch c.Lock.Mode {
	case "local", "nats":
	default:
		return fmt.Errorf("unknown lock mode %q", c.Lock.Mode)
	}
	return nil
}

// BuildLogger constructs the slog logger described by the logging
// section.
func (c *Config) BuildLogger() *slog.Logger {
	var level slog.Level
	switch c.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if c.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// Package postgres provides the relational Backend. Entries live in a
// single table; the engine-supplied index field values are persisted
// as a JSONB column with a GIN index so they stay queryable in SQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/syntrixbase/kvdex/internal/store"
)

// Config configures the PostgreSQL backend.
type Config struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

// DefaultConfig returns the default backend settings.
func DefaultConfig() Config {
	return Config{
		DSN:   "postgres://localhost/kvdex?sslmode=disable",
		Table: "kvdex_entries",
	}
}

// Backend implements store.Backend over a PostgreSQL table.
type Backend struct {
	db    *sql.DB
	table string
	codec store.Codec
}

// New opens a connection pool and builds the backend, creating the
// schema if needed.
func New(cfg Config, codec store.Codec) (*Backend, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	b := NewFromDB(db, cfg.Table, codec)
	if err := b.EnsureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

// NewFromDB builds the backend over an existing pool. The caller keeps
// ownership of the pool.
func NewFromDB(db *sql.DB, table string, codec store.Codec) *Backend {
	if table == "" {
		table = DefaultConfig().Table
	}
	return &Backend{db: db, table: table, codec: codec}
}

// EnsureSchema creates the entries table and its indexes if they don't
// exist.
func (b *Backend) EnsureSchema() error {
	schema := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
    key         TEXT PRIMARY KEY,
    value       BYTEA NOT NULL,
    fields      JSONB NOT NULL DEFAULT '{}',
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_%[1]s_fields ON %[1]s USING GIN (fields);
`, b.table)
	_, err := b.db.Exec(schema)
	return err
}

func (b *Backend) Read(ctx context.Context, key string, _ store.Purpose) (store.Value, error) {
	var raw []byte
	query := fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, b.table)
	err := b.db.QueryRowContext(ctx, query, key).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return b.codec.Decode(raw)
}

func (b *Backend) Write(ctx context.Context, key string, value store.Value, fields map[string]string) error {
	raw, err := b.codec.Encode(value)
	if err != nil {
		return err
	}
	if fields == nil {
		fields = map[string]string{}
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (key, value, fields, updated_at) VALUES ($1, $2, $3, NOW())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, fields = EXCLUDED.fields, updated_at = NOW()`,
		b.table)
	_, err = b.db.ExecContext(ctx, query, key, raw, fieldsJSON)
	return err
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, b.table)
	result, err := b.db.ExecContext(ctx, query, key)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (b *Backend) DeleteAll(ctx context.Context) (int, error) {
	query := fmt.Sprintf(`DELETE FROM %s`, b.table)
	result, err := b.db.ExecContext(ctx, query)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func (b *Backend) Keys(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf(`SELECT key FROM %s`, b.table)
	rows, err := b.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (b *Backend) Count(ctx context.Context) (int, error) {
	var n int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, b.table)
	err := b.db.QueryRowContext(ctx, query).Scan(&n)
	return n, err
}

// Close closes the connection pool.
func (b *Backend) Close() error {
	return b.db.Close()
}

// Package pebblestore provides a local durable Backend over PebbleDB.
// Entries and their index field values live under separate key
// prefixes so a value read never pays for the fields blob.
package pebblestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/syntrixbase/kvdex/internal/store"
)

// Key layout: e/<key> -> encoded value, f/<key> -> fields JSON.
var (
	entryPrefix  = []byte("e/")
	fieldsPrefix = []byte("f/")
)

// Config configures the Pebble backend.
type Config struct {
	// Path is the directory holding the database.
	Path string `yaml:"path"`
}

// DefaultConfig returns the default backend settings.
func DefaultConfig() Config {
	return Config{Path: "data/kvdex.db"}
}

// Backend implements store.Backend over a Pebble database.
type Backend struct {
	db    *pebble.DB
	codec store.Codec
}

// New opens (or creates) the database at cfg.Path.
func New(cfg Config, codec store.Codec) (*Backend, error) {
	db, err := pebble.Open(cfg.Path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db: %w", err)
	}
	return &Backend{db: db, codec: codec}, nil
}

func entryKey(key string) []byte {
	return append(append([]byte{}, entryPrefix...), key...)
}

func fieldsKey(key string) []byte {
	return append(append([]byte{}, fieldsPrefix...), key...)
}

func (b *Backend) Read(_ context.Context, key string, _ store.Purpose) (store.Value, error) {
	raw, closer, err := b.db.Get(entryKey(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	buf := append([]byte{}, raw...)
	if err := closer.Close(); err != nil {
		return nil, err
	}
	return b.codec.Decode(buf)
}

func (b *Backend) Write(_ context.Context, key string, value store.Value, fields map[string]string) error {
	raw, err := b.codec.Encode(value)
	if err != nil {
		return err
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return err
	}

	batch := b.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(entryKey(key), raw, nil); err != nil {
		return err
	}
	if err := batch.Set(fieldsKey(key), fieldsJSON, nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (b *Backend) Delete(_ context.Context, key string) error {
	// Pebble deletes are blind; probe first so missing keys report
	// not-found like the other backends.
	_, closer, err := b.db.Get(entryKey(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return store.ErrNotFound
		}
		return err
	}
	if err := closer.Close(); err != nil {
		return err
	}

	batch := b.db.NewBatch()
	defer batch.Close()
	if err := batch.Delete(entryKey(key), nil); err != nil {
		return err
	}
	if err := batch.Delete(fieldsKey(key), nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (b *Backend) DeleteAll(ctx context.Context) (int, error) {
	n, err := b.Count(ctx)
	if err != nil {
		return 0, err
	}

	batch := b.db.NewBatch()
	defer batch.Close()
	if err := batch.DeleteRange(entryPrefix, prefixEnd(entryPrefix), nil); err != nil {
		return 0, err
	}
	if err := batch.DeleteRange(fieldsPrefix, prefixEnd(fieldsPrefix), nil); err != nil {
		return 0, err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, err
	}
	return n, nil
}

func (b *Backend) Keys(context.Context) ([]string, error) {
	iter, err := b.db.NewIter(&pebble.IterOptions{
		LowerBound: entryPrefix,
		UpperBound: prefixEnd(entryPrefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var keys []string
	for iter.First(); iter.Valid(); iter.Next() {
		keys = append(keys, string(iter.Key()[len(entryPrefix):]))
	}
	return keys, iter.Error()
}

func (b *Backend) Count(ctx context.Context) (int, error) {
	keys, err := b.Keys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Fields returns the persisted index field values for key. Intended
// for tests and offline inspection.
func (b *Backend) Fields(key string) (map[string]string, error) {
	raw, closer, err := b.db.Get(fieldsKey(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()

	var fields map[string]string
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// Close flushes and closes the database.
func (b *Backend) Close() error {
	return b.db.Close()
}

// prefixEnd returns the smallest key greater than every key with the
// given prefix.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte{}, prefix...)
	end[len(end)-1]++
	return end
}

// Package memory provides the in-process Backend. It is the reference
// implementation for the engine's concurrency semantics and the default
// choice for tests and single-process deployments.
package memory

import (
	"context"
	"sync"

	"github.com/syntrixbase/kvdex/internal/store"
)

type entry struct {
	value  store.Value
	fields map[string]string
}

// Backend stores entries in a map guarded by a read-write mutex.
// Values are stored by reference: the engine owns the copy-before-
// mutate discipline, so a stored value is never mutated in place, only
// replaced wholesale on commit.
type Backend struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// New creates an empty in-memory backend.
func New() *Backend {
	return &Backend{entries: make(map[string]entry)}
}

// Read returns the stored value. Every purpose takes the same path: an
// in-process map has no cheaper read strategy to pick.
func (b *Backend) Read(_ context.Context, key string, _ store.Purpose) (store.Value, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return e.value, nil
}

func (b *Backend) Write(_ context.Context, key string, value store.Value, fields map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[key] = entry{value: value, fields: fields}
	return nil
}

func (b *Backend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.entries[key]; !ok {
		return store.ErrNotFound
	}
	delete(b.entries, key)
	return nil
}

func (b *Backend) DeleteAll(context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.entries)
	b.entries = make(map[string]entry)
	return n, nil
}

func (b *Backend) Keys(context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.entries))
	for k := range b.entries {
		keys = append(keys, k)
	}
	return keys, nil
}

func (b *Backend) Count(context.Context) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries), nil
}

// Fields returns the index field values persisted with key's entry.
// Intended for tests asserting what a backend was told to persist.
func (b *Backend) Fields(key string) map[string]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[key]
	if !ok {
		return nil
	}
	out := make(map[string]string, len(e.fields))
	for k, v := range e.fields {
		out[k] = v
	}
	return out
}

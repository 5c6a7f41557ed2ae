// Package store implements the indexed key-value storage engine: the
// get/insert/replace/update/delete protocol, its per-key locking
// discipline, the copy-before-mutate consistency model, and secondary
// index maintenance. Persistence itself is delegated to a Backend.
//
// Multiple readers proceed concurrently and never block on the per-key
// write lock; at most one writer mutates a given key at a time.
// Different keys are fully independent: no cross-key locking or
// ordering is provided.
package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/syntrixbase/kvdex/internal/multimap"
	"github.com/syntrixbase/kvdex/internal/store/metrics"
)

// UpdateFunc mutates its private copy of the value in place and reports
// whether anything changed. A false return skips the commit entirely.
type UpdateFunc func(value Value) (changed bool)

// UpdateManyFunc is UpdateFunc for batch updates, with early-stop
// support: returning stop aborts the iteration after the current key.
type UpdateManyFunc func(key string, value Value) (changed bool, stop bool)

// Store orchestrates operations against a Backend while maintaining
// registered secondary indexes. Construct with New; a zero Store is not
// usable.
type Store struct {
	backend Backend
	logger  *slog.Logger
	locks   *lockRegistry
	factory LockFactory

	mu      sync.RWMutex
	indexes map[string]*index
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithLockFactory plugs in the factory that builds per-key write
// locks. Pass a factory producing distributed locks to make the
// single-writer guarantee hold across processes; the default factory
// produces in-process mutexes.
func WithLockFactory(factory LockFactory) Option {
	return func(s *Store) { s.factory = factory }
}

// New creates a store over the given backend.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		logger:  slog.Default(),
		indexes: make(map[string]*index),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.locks = newLockRegistry(s.factory, s.logger)
	return s
}

// updateOpts carries the per-call hooks of the update protocol.
type updateOpts struct {
	notFound   func(key string)
	postCommit func(key string, value Value)
}

// UpdateOption configures a single mutating call.
type UpdateOption func(*updateOpts)

// WithEntryNotFound installs the hook invoked when the target entry
// does not exist. Not-found is a defined outcome of the protocol, not
// a failure; the operation still returns ErrNotFound to its caller.
func WithEntryNotFound(fn func(key string)) UpdateOption {
	return func(o *updateOpts) { o.notFound = fn }
}

// WithPostCommit installs the hook invoked with the committed value
// while the per-key lock is still held, so the hook can read other
// entries without racing a concurrent updater of the same key.
func WithPostCommit(fn func(key string, value Value)) UpdateOption {
	return func(o *updateOpts) { o.postCommit = fn }
}

func applyUpdateOpts(opts []UpdateOption) updateOpts {
	var o updateOpts
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Get returns the value stored under key, or ErrNotFound. Reads take no
// lock.
func (s *Store) Get(ctx context.Context, key string) (Value, error) {
	defer s.observe("get", time.Now())
	v, err := s.backend.Read(ctx, key, PurposeRead)
	s.count("get", err)
	return v, err
}

// Insert stores a new entry without taking the per-key lock. This is
// the fast path for keys known not to exist yet; calling it for a key
// that might already exist is unsafe, and what happens then is
// backend-defined.
func (s *Store) Insert(ctx context.Context, key string, value Value) error {
	defer s.observe("insert", time.Now())
	if err := s.backend.Write(ctx, key, value, s.fieldsOf(value)); err != nil {
		s.count("insert", err)
		return err
	}
	s.applyIndexes(key, nil, value)
	s.count("insert", nil)
	return nil
}

// Replace stores value under key whether or not an entry exists
// (upsert). Unlike Insert it runs under the per-key lock.
func (s *Store) Replace(ctx context.Context, key string, value Value) error {
	defer s.observe("replace", time.Now())
	unlock, err := s.lockKey(ctx, key)
	if err != nil {
		s.count("replace", err)
		return err
	}
	defer unlock()

	old, err := s.backend.Read(ctx, key, PurposeReplace)
	if err != nil && !errors.Is(err, ErrNotFound) {
		s.count("replace", err)
		return err
	}

	if err := s.backend.Write(ctx, key, value, s.fieldsOf(value)); err != nil {
		s.count("replace", err)
		return err
	}
	s.applyIndexes(key, old, value)
	s.count("replace", nil)
	return nil
}

// Update applies fn to a private copy of the value stored under key and
// commits the copy if fn reports a change. The committed (or unchanged)
// value is returned. Concurrent updates of the same key serialize on
// the per-key lock, so no update is ever lost.
func (s *Store) Update(ctx context.Context, key string, fn UpdateFunc, opts ...UpdateOption) (Value, error) {
	o := applyUpdateOpts(opts)
	defer s.observe("update", time.Now())
	v, _, err := s.updateOne(ctx, key, func(k string, v Value) (bool, bool) {
		return fn(v), false
	}, o)
	s.count("update", err)
	return v, err
}

// UpdateMultiple applies fn to each listed key in order, stopping early
// when fn asks to. Keys without an entry invoke the not-found hook and
// are skipped.
func (s *Store) UpdateMultiple(ctx context.Context, keys []string, fn UpdateManyFunc, opts ...UpdateOption) error {
	o := applyUpdateOpts(opts)
	defer s.observe("update_multiple", time.Now())
	for _, key := range keys {
		_, stop, err := s.updateOne(ctx, key, fn, o)
		if err != nil && !errors.Is(err, ErrNotFound) {
			s.count("update_multiple", err)
			return err
		}
		if stop {
			break
		}
	}
	s.count("update_multiple", nil)
	return nil
}

// UpdateAll applies fn to every entry in the store, stopping early when
// fn asks to. The key snapshot is taken once up front; entries inserted
// during the sweep may or may not be visited.
func (s *Store) UpdateAll(ctx context.Context, fn UpdateManyFunc, opts ...UpdateOption) error {
	keys, err := s.backend.Keys(ctx)
	if err != nil {
		return err
	}
	return s.UpdateMultiple(ctx, keys, fn, opts...)
}

// updateOne runs the update protocol for a single key: existence probe,
// lock, re-read, private copy to fn, commit plus reindex on change,
// post-commit hook under the lock.
func (s *Store) updateOne(ctx context.Context, key string, fn UpdateManyFunc, o updateOpts) (Value, bool, error) {
	// Cheap existence probe before paying for the lock.
	if _, err := s.backend.Read(ctx, key, PurposeModify); err != nil {
		if errors.Is(err, ErrNotFound) && o.notFound != nil {
			o.notFound(key)
		}
		return nil, false, err
	}

	unlock, err := s.lockKey(ctx, key)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	// Re-read under the lock; the entry may have been deleted while we
	// waited, and the pre-lock snapshot may be stale.
	current, err := s.backend.Read(ctx, key, PurposeModify)
	if err != nil {
		if errors.Is(err, ErrNotFound) && o.notFound != nil {
			o.notFound(key)
		}
		return nil, false, err
	}

	work := current.Clone()
	changed, stop := fn(key, work)
	if !changed {
		if o.postCommit != nil {
			o.postCommit(key, current)
		}
		return current, stop, nil
	}

	if err := s.backend.Write(ctx, key, work, s.fieldsOf(work)); err != nil {
		return nil, stop, err
	}
	s.applyIndexes(key, current, work)

	if o.postCommit != nil {
		o.postCommit(key, work)
	}
	return work, stop, nil
}

// Delete removes the entry stored under key and unmaps it from every
// index, or returns ErrNotFound.
func (s *Store) Delete(ctx context.Context, key string, opts ...UpdateOption) error {
	o := applyUpdateOpts(opts)
	defer s.observe("delete", time.Now())

	unlock, err := s.lockKey(ctx, key)
	if err != nil {
		s.count("delete", err)
		return err
	}
	defer unlock()

	old, err := s.backend.Read(ctx, key, PurposeModify)
	if err != nil {
		if errors.Is(err, ErrNotFound) && o.notFound != nil {
			o.notFound(key)
		}
		s.count("delete", err)
		return err
	}

	if err := s.backend.Delete(ctx, key); err != nil {
		s.count("delete", err)
		return err
	}
	s.applyIndexes(key, old, nil)
	s.count("delete", nil)
	return nil
}

// Truncate removes every entry and clears all indexes, returning how
// many entries were removed. Truncation is not atomic with respect to
// concurrent writers of individual keys.
func (s *Store) Truncate(ctx context.Context) (int, error) {
	defer s.observe("truncate", time.Now())
	n, err := s.backend.DeleteAll(ctx)
	if err != nil {
		s.count("truncate", err)
		return n, err
	}

	s.mu.RLock()
	for _, idx := range s.indexes {
		idx.entries.Clear()
	}
	s.mu.RUnlock()
	s.count("truncate", nil)
	return n, nil
}

// CreateIndex registers a hash index on the field extracted by fn. The
// store must still be empty: indexing pre-existing data is a reported
// error, never a silent partial index.
func (s *Store) CreateIndex(ctx context.Context, name string, fn FieldFunc) error {
	return s.createIndex(ctx, name, fn, false)
}

// CreateOrderedIndex registers an index whose field values are kept
// sorted, enabling RangeOf in addition to the equality queries.
func (s *Store) CreateOrderedIndex(ctx context.Context, name string, fn FieldFunc) error {
	return s.createIndex(ctx, name, fn, true)
}

func (s *Store) createIndex(ctx context.Context, name string, fn FieldFunc, ordered bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.indexes[name]; dup {
		return ErrIndexExists
	}
	n, err := s.backend.Count(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrStoreNotEmpty
	}

	idx := &index{name: name, field: fn}
	if ordered {
		om := multimap.NewOrdered[string, string]()
		idx.entries = om
		idx.ordered = om
	} else {
		idx.entries = multimap.New[string, string]()
	}
	s.indexes[name] = idx
	return nil
}

// KeysOf returns the keys whose indexed field equals field, sorted.
func (s *Store) KeysOf(indexName, field string) ([]string, error) {
	idx, err := s.index(indexName)
	if err != nil {
		return nil, err
	}
	return idx.keysOf(field), nil
}

// ValuesOf returns the values whose indexed field equals field. Entries
// deleted between the index lookup and the read are skipped.
func (s *Store) ValuesOf(ctx context.Context, indexName, field string) ([]Value, error) {
	idx, err := s.index(indexName)
	if err != nil {
		return nil, err
	}
	return s.readAll(ctx, idx.keysOf(field))
}

// FirstValueOf returns one value whose indexed field equals field (the
// one with the smallest key), or ErrNotFound.
func (s *Store) FirstValueOf(ctx context.Context, indexName, field string) (Value, error) {
	idx, err := s.index(indexName)
	if err != nil {
		return nil, err
	}
	for _, key := range idx.keysOf(field) {
		v, err := s.backend.Read(ctx, key, PurposeRead)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		return v, err
	}
	return nil, ErrNotFound
}

// RangeOf returns the values whose indexed field falls within the given
// bounds. The index must have been created with CreateOrderedIndex, and
// at least one bound must be non-nil.
func (s *Store) RangeOf(ctx context.Context, indexName string, from *string, fromInclusive bool, to *string, toInclusive bool) ([]Value, error) {
	idx, err := s.index(indexName)
	if err != nil {
		return nil, err
	}
	if idx.ordered == nil {
		return nil, ErrIndexNotOrdered
	}
	keys, err := idx.ordered.GetRange(from, fromInclusive, to, toInclusive)
	if err != nil {
		return nil, err
	}
	return s.readAll(ctx, keys)
}

func (s *Store) readAll(ctx context.Context, keys []string) ([]Value, error) {
	out := make([]Value, 0, len(keys))
	for _, key := range keys {
		v, err := s.backend.Read(ctx, key, PurposeRead)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *Store) index(name string) (*index, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.indexes[name]
	if !ok {
		return nil, ErrIndexNotFound
	}
	return idx, nil
}

// fieldsOf computes the current index field values for value, keyed by
// index name, for backends that persist them alongside the entry.
func (s *Store) fieldsOf(value Value) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.indexes) == 0 {
		return nil
	}
	fields := make(map[string]string, len(s.indexes))
	for name, idx := range s.indexes {
		if f, ok := idx.field(value); ok {
			fields[name] = f
		}
	}
	return fields
}

// applyIndexes synchronously moves key's index slots from oldValue's
// fields to newValue's. Runs before the surrounding lock is released,
// so the indexes are consistent with the committed value by the time
// any later writer of the key can observe it.
func (s *Store) applyIndexes(key string, oldValue, newValue Value) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for name, idx := range s.indexes {
		if idx.apply(key, oldValue, newValue) {
			metrics.IndexUpdates.WithLabelValues(name).Inc()
		}
	}
}

func (s *Store) lockKey(ctx context.Context, key string) (func(), error) {
	start := time.Now()
	unlock, err := s.locks.lock(ctx, key)
	metrics.LockWait.Observe(time.Since(start).Seconds())
	return unlock, err
}

func (s *Store) observe(op string, start time.Time) {
	metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (s *Store) count(op string, err error) {
	outcome := "ok"
	switch {
	case errors.Is(err, ErrNotFound):
		outcome = "not_found"
	case err != nil:
		outcome = "error"
	}
	metrics.OpsTotal.WithLabelValues(op, outcome).Inc()
}

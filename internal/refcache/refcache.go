// Package refcache provides a reference-counted cache for lazily created
// shared resources. Concurrent acquirers of the same key share a single
// resource instance whose factory runs exactly once; the resource is
// evicted when the last holder releases it.
package refcache

import (
	"sync"
)

// holder pairs a lazily computed resource with its reference count.
// Holders are immutable: every refcount transition swaps in a fresh
// holder via CompareAndSwap so that concurrent transitions can detect
// each other and retry.
type holder[V any] struct {
	refs int
	cell *cell[V]
}

// cell owns the one-shot factory computation. It is shared across every
// holder generation for a key, so the factory result (or its error) is
// observed by all acquirers regardless of how many refcount swaps
// happened in between.
type cell[V any] struct {
	once    sync.Once
	factory func() (V, error)
	value   V
	err     error
}

func (c *cell[V]) resolve() (V, error) {
	c.once.Do(func() {
		c.value, c.err = c.factory()
		c.factory = nil
	})
	return c.value, c.err
}

// Cache is a concurrent map from string keys to reference-counted,
// lazily initialized resources. The zero value is ready to use.
type Cache[V any] struct {
	entries sync.Map // string -> *holder[V]
}

// New creates an empty cache.
func New[V any]() *Cache[V] {
	return &Cache[V]{}
}

// Acquire returns the resource for key, creating it via factory on the
// first acquisition. The factory runs at most once per resource
// lifetime, even under concurrent acquirers; every other caller blocks
// until the winning caller's factory completes and then shares its
// result. Each successful call increments the key's reference count and
// must be paired with a Release.
//
// A factory error is returned to every acquirer of the resource. The
// entry stays in the map until released like any other; whether a
// failed entry should instead be dropped eagerly is an open question
// inherited from the original design, so failed entries are kept.
func (c *Cache[V]) Acquire(key string, factory func() (V, error)) (V, error) {
	for {
		cur, ok := c.entries.Load(key)
		if !ok {
			h := &holder[V]{refs: 1, cell: &cell[V]{factory: factory}}
			actual, loaded := c.entries.LoadOrStore(key, h)
			if !loaded {
				// We won the insert; run (or join) the computation.
				return h.cell.resolve()
			}
			cur = actual
		}

		h := cur.(*holder[V])
		next := &holder[V]{refs: h.refs + 1, cell: h.cell}
		if c.entries.CompareAndSwap(key, h, next) {
			return next.cell.resolve()
		}
		// Lost a race with another acquire/release; retry from scratch.
	}
}

// Release decrements the reference count for key and removes the entry
// when the count reaches zero. It returns true if this call removed the
// entry. Releasing a key that is not held is a no-op returning false.
func (c *Cache[V]) Release(key string) bool {
	for {
		cur, ok := c.entries.Load(key)
		if !ok {
			return false
		}

		h := cur.(*holder[V])
		if h.refs == 1 {
			// Remove only if the holder is still the one we read, so a
			// concurrent Acquire that bumped the count is not clobbered.
			if c.entries.CompareAndDelete(key, h) {
				return true
			}
			continue
		}

		next := &holder[V]{refs: h.refs - 1, cell: h.cell}
		if c.entries.CompareAndSwap(key, h, next) {
			return false
		}
	}
}

// Refs returns the current reference count for key, or zero if the key
// is not present. Intended for tests and introspection; the value may
// be stale by the time it is observed.
func (c *Cache[V]) Refs(key string) int {
	cur, ok := c.entries.Load(key)
	if !ok {
		return 0
	}
	return cur.(*holder[V]).refs
}

// Len returns the number of live entries.
func (c *Cache[V]) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

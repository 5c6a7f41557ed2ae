// Package multimap provides thread-safe one-to-many maps used to back
// secondary indexes: a hash-based Map for equality lookups and an
// Ordered variant that additionally supports range queries.
package multimap

import (
	"sync"
)

// valueSet is the set of values stored under a single key. Each set has
// its own lock, so operations on different keys never contend. A set
// that has been pruned from the map is marked dead; writers that raced
// the prune observe the flag and retry against a fresh set.
type valueSet[V comparable] struct {
	mu   sync.Mutex
	vals map[V]struct{}
	dead bool
}

// Map is a concurrency-safe multimap from key to a set of values.
// The zero value is not usable; construct with New.
type Map[K comparable, V comparable] struct {
	mu   sync.RWMutex
	sets map[K]*valueSet[V]

	// onInsert/onRemove, when set, run under the map write lock as a
	// key enters or leaves the map. Used by Ordered to mirror the key
	// space into its tree.
	onInsert func(key K)
	onRemove func(key K)
}

// New creates an empty multimap.
func New[K comparable, V comparable]() *Map[K, V] {
	return &Map[K, V]{sets: make(map[K]*valueSet[V])}
}

// Put adds value to the set stored under key.
func (m *Map[K, V]) Put(key K, value V) {
	for {
		s := m.lookupOrCreate(key)
		s.mu.Lock()
		if s.dead {
			s.mu.Unlock()
			continue
		}
		s.vals[value] = struct{}{}
		s.mu.Unlock()
		return
	}
}

func (m *Map[K, V]) lookupOrCreate(key K) *valueSet[V] {
	m.mu.RLock()
	s, ok := m.sets[key]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sets[key]; ok {
		return s
	}
	s = &valueSet[V]{vals: make(map[V]struct{})}
	m.sets[key] = s
	if m.onInsert != nil {
		m.onInsert(key)
	}
	return s
}

// Remove deletes value from the set stored under key, pruning the key
// entirely once its set is empty. It returns true if the value was
// present.
func (m *Map[K, V]) Remove(key K, value V) bool {
	m.mu.RLock()
	s, ok := m.sets[key]
	m.mu.RUnlock()
	if !ok {
		return false
	}

	s.mu.Lock()
	_, present := s.vals[value]
	delete(s.vals, value)
	empty := len(s.vals) == 0
	s.mu.Unlock()

	if empty {
		m.prune(key, s)
	}
	return present
}

// prune removes key from the map if its set is still the one we
// emptied and no writer repopulated it in the meantime.
func (m *Map[K, V]) prune(key K, s *valueSet[V]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sets[key] != s {
		return
	}
	s.mu.Lock()
	if len(s.vals) == 0 && !s.dead {
		s.dead = true
		delete(m.sets, key)
		if m.onRemove != nil {
			m.onRemove(key)
		}
	}
	s.mu.Unlock()
}

// RemoveValue deletes value from every key's set (removeFromAll). It
// returns the number of sets the value was removed from.
func (m *Map[K, V]) RemoveValue(value V) int {
	removed := 0
	for _, key := range m.Keys() {
		if m.Remove(key, value) {
			removed++
		}
	}
	return removed
}

// Get returns an independent copy of the set stored under key. The
// returned slice is owned by the caller and never mutated by the map.
func (m *Map[K, V]) Get(key K) []V {
	m.mu.RLock()
	s, ok := m.sets[key]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return s.snapshot()
}

func (s *valueSet[V]) snapshot() []V {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]V, 0, len(s.vals))
	for v := range s.vals {
		out = append(out, v)
	}
	return out
}

// Contains reports whether value is present under key.
func (m *Map[K, V]) Contains(key K, value V) bool {
	m.mu.RLock()
	s, ok := m.sets[key]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, present := s.vals[value]
	return present
}

// Keys returns a snapshot of the keys currently present.
func (m *Map[K, V]) Keys() []K {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]K, 0, len(m.sets))
	for k := range m.sets {
		out = append(out, k)
	}
	return out
}

// Len returns the number of distinct keys.
func (m *Map[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sets)
}

// Clear removes all entries.
func (m *Map[K, V]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, s := range m.sets {
		s.mu.Lock()
		s.dead = true
		s.mu.Unlock()
		delete(m.sets, k)
		if m.onRemove != nil {
			m.onRemove(k)
		}
	}
}

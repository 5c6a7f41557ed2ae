package dlock

import (
	"context"
	"sync"
	"time"
)

// CacheService is the narrow shared-cache contract the lock needs: an
// atomic insert-if-absent with expiry, and a delete. The marker with
// its TTL is the sole cross-process synchronization point.
type CacheService interface {
	// PutIfAbsent stores marker under name only if no live marker is
	// present, returning whether the insert happened. The marker
	// expires on its own after ttl.
	PutIfAbsent(ctx context.Context, name string, marker []byte, ttl time.Duration) (bool, error)

	// Delete removes the marker stored under name, returning whether a
	// marker was present.
	Delete(ctx context.Context, name string) (bool, error)
}

// memoryCache is an in-process CacheService. It backs single-process
// deployments and the test suite; markers expire lazily on access.
type memoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	marker  []byte
	expires time.Time
}

// NewMemoryCache creates an in-process CacheService.
func NewMemoryCache() CacheService {
	return &memoryCache{entries: make(map[string]memoryEntry)}
}

func (c *memoryCache) PutIfAbsent(_ context.Context, name string, marker []byte, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[name]; ok && time.Now().Before(e.expires) {
		return false, nil
	}
	c.entries[name] = memoryEntry{marker: marker, expires: time.Now().Add(ttl)}
	return true, nil
}

func (c *memoryCache) Delete(_ context.Context, name string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[name]
	if !ok {
		return false, nil
	}
	delete(c.entries, name)
	return time.Now().Before(e.expires), nil
}

// Package dlock implements a named, reentrant mutual-exclusion lock
// whose held state is visible across processes through a shared cache
// service. Threads in the same process serialize on a local mutex
// first; the winner then claims a global marker with an
// insert-if-absent write carrying a TTL, so a crashed holder cannot
// wedge the lock forever.
package dlock

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotHeld is returned by Unlock when the lock is not held.
	ErrNotHeld = errors.New("dlock: lock is not held")
	// ErrNotOwner is returned by Unlock when the calling context does
	// not carry the holder's owner token.
	ErrNotOwner = errors.New("dlock: unlock by non-owner")
)

// Config tunes a Lock.
type Config struct {
	// TTL bounds how long the global marker survives a crashed holder.
	// A marker expiring while still logically held leaves a bounded
	// inconsistency window; that is an accepted tradeoff of the design.
	TTL time.Duration `yaml:"ttl"`

	// PollInterval is the target interval between global acquisition
	// attempts while waiting. The round-trip time of the previous
	// attempt is subtracted so the effective polling frequency stays
	// constant regardless of cache latency.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// DefaultConfig returns the default lock tuning.
func DefaultConfig() Config {
	return Config{
		TTL:          30 * time.Second,
		PollInterval: 100 * time.Millisecond,
	}
}

func (c *Config) normalize() {
	if c.TTL <= 0 {
		c.TTL = DefaultConfig().TTL
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultConfig().PollInterval
	}
}

// Lock is a reentrant mutual-exclusion lock keyed by a globally unique
// name. Two Lock instances built with the same name and the same cache
// service mutually exclude each other even across processes. Condition
// variables are not supported.
type Lock struct {
	name   string
	cache  CacheService
	cfg    Config
	logger *slog.Logger
	marker []byte

	// local admission: a one-slot channel so blocked acquirers can be
	// cancelled through their context.
	local chan struct{}

	mu    sync.Mutex
	owner uint64 // token of the current holder, 0 when anonymous
	depth int    // reentrancy depth, 0 when unlocked
}

// New creates a lock named name over the given cache service.
func New(name string, cache CacheService, cfg Config, logger *slog.Logger) *Lock {
	cfg.normalize()
	if logger == nil {
		logger = slog.Default()
	}
	return &Lock{
		name:   name,
		cache:  cache,
		cfg:    cfg,
		logger: logger,
		marker: []byte(uuid.NewString()),
		local:  make(chan struct{}, 1),
	}
}

// Name returns the lock's global name.
func (l *Lock) Name() string { return l.name }

// Lock acquires the lock, blocking until it is available or ctx is
// cancelled. Cancellation during the wait releases the local admission
// already held and returns ctx.Err(). A context produced by WithOwner
// makes the acquisition reentrant for that owner.
func (l *Lock) Lock(ctx context.Context) error {
	tok := ownerFrom(ctx)
	if l.reenter(tok) {
		return nil
	}

	select {
	case l.local <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := l.acquireGlobal(ctx); err != nil {
		<-l.local
		return err
	}
	l.setHolder(tok)
	return nil
}

// TryLock attempts a single non-blocking acquisition, returning whether
// the lock was obtained.
func (l *Lock) TryLock(ctx context.Context) (bool, error) {
	tok := ownerFrom(ctx)
	if l.reenter(tok) {
		return true, nil
	}

	select {
	case l.local <- struct{}{}:
	default:
		return false, nil
	}

	ok, err := l.cache.PutIfAbsent(ctx, l.name, l.marker, l.cfg.TTL)
	if err != nil || !ok {
		<-l.local
		return false, err
	}
	l.setHolder(tok)
	return true, nil
}

// TryLockTimeout acquires the lock like Lock but gives up after the
// given timeout, returning whether the lock was obtained. No partial
// global state is left behind on timeout.
func (l *Lock) TryLockTimeout(ctx context.Context, timeout time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := l.Lock(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Unlock releases one level of the lock. The global marker is cleared
// only when the reentrancy depth reaches zero; a failure to delete the
// marker (already expired, evicted) is reported in the log but the
// lock still releases locally.
func (l *Lock) Unlock(ctx context.Context) error {
	tok := ownerFrom(ctx)

	l.mu.Lock()
	if l.depth == 0 {
		l.mu.Unlock()
		return ErrNotHeld
	}
	if l.owner != 0 && tok != l.owner {
		l.mu.Unlock()
		return ErrNotOwner
	}
	l.depth--
	if l.depth > 0 {
		l.mu.Unlock()
		return nil
	}
	l.owner = 0
	l.mu.Unlock()

	if ok, err := l.cache.Delete(ctx, l.name); err != nil {
		l.logger.Warn("failed to delete global lock marker", "lock", l.name, "error", err)
	} else if !ok {
		l.logger.Warn("global lock marker already gone on unlock", "lock", l.name)
	}

	<-l.local
	return nil
}

// Held reports whether the lock is currently held by anyone in this
// process. Intended for tests.
func (l *Lock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.depth > 0
}

func (l *Lock) reenter(tok uint64) bool {
	if tok == 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.depth > 0 && l.owner == tok {
		l.depth++
		return true
	}
	return false
}

func (l *Lock) setHolder(tok uint64) {
	l.mu.Lock()
	l.owner = tok
	l.depth = 1
	l.mu.Unlock()
}

// acquireGlobal claims the global marker, polling until success or
// cancellation. The previous attempt's round trip is deducted from the
// sleep so attempts stay on a fixed cadence.
func (l *Lock) acquireGlobal(ctx context.Context) error {
	for {
		start := time.Now()
		ok, err := l.cache.PutIfAbsent(ctx, l.name, l.marker, l.cfg.TTL)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		wait := l.cfg.PollInterval - time.Since(start)
		if wait <= 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			continue
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

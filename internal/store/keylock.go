package store

import (
	"context"
	"errors"
	"log/slog"

	"github.com/syntrixbase/kvdex/internal/refcache"
)

// KeyLock is the write-lock taken around a single key's mutation.
// Local deployments use an in-process mutex; multi-process deployments
// plug in a distributed lock (dlock.Lock satisfies this directly).
type KeyLock interface {
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
}

// LockFactory builds the lock guarding a key. The engine treats locks
// as shared, disposable resources: instances are deduplicated and
// reference-counted per key, and disposed once the last holder
// releases, so two writers of one key always contend on one instance.
type LockFactory func(key string) (KeyLock, error)

// lockRegistry hands out per-key write locks through a ref-counted
// cache, so lock instances never outlive their last concurrent user
// and the registry's size tracks the set of keys being written.
type lockRegistry struct {
	cache   *refcache.Cache[KeyLock]
	factory LockFactory
	logger  *slog.Logger
}

func newLockRegistry(factory LockFactory, logger *slog.Logger) *lockRegistry {
	if factory == nil {
		factory = func(string) (KeyLock, error) { return newLocalKeyLock(), nil }
	}
	return &lockRegistry{
		cache:   refcache.New[KeyLock](),
		factory: factory,
		logger:  logger,
	}
}

// lock acquires the write lock for key and returns the release
// function. The release both unlocks and drops this holder's reference
// on the lock instance.
func (r *lockRegistry) lock(ctx context.Context, key string) (func(), error) {
	kl, err := r.cache.Acquire(key, func() (KeyLock, error) {
		return r.factory(key)
	})
	if err != nil {
		r.cache.Release(key)
		return nil, err
	}

	if err := kl.Lock(ctx); err != nil {
		r.cache.Release(key)
		return nil, err
	}

	return func() {
		if err := kl.Unlock(ctx); err != nil {
			r.logger.Warn("failed to release key lock", "key", key, "error", err)
		}
		r.cache.Release(key)
	}, nil
}

// localKeyLock is a context-aware in-process mutex.
type localKeyLock struct {
	ch chan struct{}
}

func newLocalKeyLock() *localKeyLock {
	return &localKeyLock{ch: make(chan struct{}, 1)}
}

func (l *localKeyLock) Lock(ctx context.Context) error {
	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *localKeyLock) Unlock(context.Context) error {
	select {
	case <-l.ch:
		return nil
	default:
		return errors.New("unlock of unheld key lock")
	}
}

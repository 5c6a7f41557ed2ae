package dlock

import (
	"context"
	"sync/atomic"
)

type ownerKey struct{}

var ownerSeq atomic.Uint64

// WithOwner returns a context carrying a fresh owner token. Reentrancy
// is tracked per token: a Lock call whose context carries the token of
// the current holder re-enters instead of blocking. This replaces the
// thread-local holder tracking the design was originally built on.
func WithOwner(ctx context.Context) context.Context {
	return context.WithValue(ctx, ownerKey{}, ownerSeq.Add(1))
}

// ownerFrom extracts the owner token, or zero when the context carries
// none. Token zero never matches a holder, so anonymous callers are
// always treated as distinct, non-reentrant owners.
func ownerFrom(ctx context.Context) uint64 {
	tok, _ := ctx.Value(ownerKey{}).(uint64)
	return tok
}

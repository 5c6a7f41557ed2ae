package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no entry exists for a key.
	ErrNotFound = errors.New("entry not found")
	// ErrStoreNotEmpty is returned when an index is created against a
	// store that already holds data.
	ErrStoreNotEmpty = errors.New("cannot create index on non-empty store")
	// ErrIndexExists is returned when an index name is registered twice.
	ErrIndexExists = errors.New("index already exists")
	// ErrIndexNotFound is returned when querying an unregistered index.
	ErrIndexNotFound = errors.New("index not found")
	// ErrIndexNotOrdered is returned when a range query targets an
	// index without an ordered key space.
	ErrIndexNotOrdered = errors.New("index does not support range queries")
)

// Value is the capability contract for stored entries. Clone must
// return a deep copy with no aliasing to the receiver; the engine hands
// clones to update functions so the live value stays untouched until
// commit.
type Value interface {
	Clone() Value
}

// Purpose tags a backend read with its intended use so a backend can
// pick a cheaper code path for plain reads than for reads that precede
// a write.
type Purpose int

const (
	// PurposeRead marks a read whose result will not be written back.
	PurposeRead Purpose = iota
	// PurposeModify marks a read feeding an in-place update.
	PurposeModify
	// PurposeReplace marks an existence probe before a full overwrite.
	PurposeReplace
)

// String returns the purpose name.
func (p Purpose) String() string {
	switch p {
	case PurposeRead:
		return "read"
	case PurposeModify:
		return "modify"
	case PurposeReplace:
		return "replace"
	default:
		return "unknown"
	}
}

// Backend is the persistence contract consumed by the engine. The
// fields argument of Write carries the entry's current index field
// values so a backend can persist them alongside the entry (extra
// columns, document properties) for later equality or range queries.
//
// Backends own durability and raw persistence mechanics; all locking
// and index bookkeeping happens above them in the engine.
type Backend interface {
	// Read returns the value stored under key, or ErrNotFound.
	Read(ctx context.Context, key string, purpose Purpose) (Value, error)

	// Write stores value under key, overwriting any previous entry.
	Write(ctx context.Context, key string, value Value, fields map[string]string) error

	// Delete removes the entry stored under key, or returns
	// ErrNotFound.
	Delete(ctx context.Context, key string) error

	// DeleteAll removes every entry, returning how many were removed.
	DeleteAll(ctx context.Context) (int, error)

	// Keys returns a snapshot of all stored keys.
	Keys(ctx context.Context) ([]string, error)

	// Count returns the number of stored entries.
	Count(ctx context.Context) (int, error)
}

// Codec converts values to and from their persisted byte form. Used by
// backends that serialize (document stores, relational tables, local
// key-value files); the in-memory backend keeps values as-is.
type Codec interface {
	Encode(Value) ([]byte, error)
	Decode([]byte) (Value, error)
}

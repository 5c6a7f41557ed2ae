package store

import (
	"sort"

	"github.com/syntrixbase/kvdex/internal/multimap"
)

// FieldFunc extracts the indexed field from a value. ok is false when
// the field is absent for this value; absent values are simply not
// indexed.
type FieldFunc func(v Value) (field string, ok bool)

// indexMap is the slice of the multimap surface the engine needs.
// Both multimap.Map and multimap.Ordered satisfy it.
type indexMap interface {
	Put(field, key string)
	Remove(field, key string) bool
	RemoveValue(key string) int
	Get(field string) []string
	Clear()
}

// index is a registered secondary index: a named mapping function plus
// the multimap it maintains from field value to primary keys.
type index struct {
	name    string
	field   FieldFunc
	entries indexMap
	ordered *multimap.Ordered[string, string] // nil for hash indexes
}

// fieldChanged implements the index equality rule: a reindex is needed
// when presence flips, or when both sides are present with different
// values. A transition to or from absent counts as a change even though
// the field is nominally "unset" rather than "changed".
func fieldChanged(oldField string, oldOk bool, newField string, newOk bool) bool {
	if oldOk != newOk {
		return true
	}
	return oldOk && oldField != newField
}

// apply moves key from its old field slot to its new one, touching the
// multimap only when the field actually changed. It reports whether a
// move happened.
func (idx *index) apply(key string, oldValue, newValue Value) bool {
	var oldField, newField string
	var oldOk, newOk bool
	if oldValue != nil {
		oldField, oldOk = idx.field(oldValue)
	}
	if newValue != nil {
		newField, newOk = idx.field(newValue)
	}

	if !fieldChanged(oldField, oldOk, newField, newOk) {
		return false
	}
	if oldOk {
		idx.entries.Remove(oldField, key)
	}
	if newOk {
		idx.entries.Put(newField, key)
	}
	return true
}

// keysOf returns the keys indexed under field, sorted for deterministic
// iteration.
func (idx *index) keysOf(field string) []string {
	keys := idx.entries.Get(field)
	sort.Strings(keys)
	return keys
}

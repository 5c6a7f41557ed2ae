package multimap

import (
	"cmp"
	"errors"

	"github.com/google/btree"
)

// ErrUnbounded is returned when a range query supplies neither bound.
var ErrUnbounded = errors.New("multimap: range query requires at least one bound")

// Ordered is a multimap whose key space is kept sorted, adding range
// queries on top of Map. Keys are mirrored into a btree as their sets
// appear and disappear.
type Ordered[K cmp.Ordered, V comparable] struct {
	Map[K, V]
	tree *btree.BTreeG[K]
}

// NewOrdered creates an empty ordered multimap.
func NewOrdered[K cmp.Ordered, V comparable]() *Ordered[K, V] {
	o := &Ordered[K, V]{
		tree: btree.NewG[K](32, func(a, b K) bool { return a < b }),
	}
	o.sets = make(map[K]*valueSet[V])
	// Hooks run under the map write lock, which also guards the tree.
	o.onInsert = func(key K) { o.tree.ReplaceOrInsert(key) }
	o.onRemove = func(key K) { o.tree.Delete(key) }
	return o
}

// GetRange returns an independent copy of the union of all value-sets
// whose key falls within the given bounds. A nil bound leaves that side
// open; at least one bound must be non-nil.
func (o *Ordered[K, V]) GetRange(from *K, fromInclusive bool, to *K, toInclusive bool) ([]V, error) {
	if from == nil && to == nil {
		return nil, ErrUnbounded
	}

	keys := o.rangeKeys(from, fromInclusive, to, toInclusive)

	seen := make(map[V]struct{})
	var out []V
	for _, k := range keys {
		for _, v := range o.Get(k) {
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out, nil
}

// rangeKeys snapshots the in-range keys in sorted order.
func (o *Ordered[K, V]) rangeKeys(from *K, fromInclusive bool, to *K, toInclusive bool) []K {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var keys []K
	visit := func(k K) bool {
		if from != nil {
			if k < *from || (!fromInclusive && k == *from) {
				return true
			}
		}
		if to != nil {
			if k > *to || (!toInclusive && k == *to) {
				return false
			}
		}
		keys = append(keys, k)
		return true
	}

	if from != nil {
		o.tree.AscendGreaterOrEqual(*from, visit)
	} else {
		o.tree.Ascend(visit)
	}
	return keys
}

// MinKey returns the smallest key present, if any.
func (o *Ordered[K, V]) MinKey() (K, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.tree.Min()
}

// MaxKey returns the largest key present, if any.
func (o *Ordered[K, V]) MaxKey() (K, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.tree.Max()
}

package multimap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func newPopulated() *Ordered[string, string] {
	o := NewOrdered[string, string]()
	o.Put("a", "k-a1")
	o.Put("a", "k-a2")
	o.Put("c", "k-c")
	o.Put("e", "k-e")
	o.Put("g", "k-g")
	return o
}

func TestGetRangeInclusiveExclusive(t *testing.T) {
	o := newPopulated()

	// [a, e): a and c, not e.
	got, err := o.GetRange(ptr("a"), true, ptr("e"), false)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"k-a1", "k-a2", "k-c"}, got)

	// (a, e]: c and e, not a.
	got, err = o.GetRange(ptr("a"), false, ptr("e"), true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"k-c", "k-e"}, got)
}

func TestGetRangeHalfBounded(t *testing.T) {
	o := newPopulated()

	got, err := o.GetRange(ptr("e"), true, nil, false)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"k-e", "k-g"}, got)

	got, err = o.GetRange(nil, false, ptr("c"), true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"k-a1", "k-a2", "k-c"}, got)
}

func TestGetRangeUnbounded(t *testing.T) {
	o := newPopulated()

	_, err := o.GetRange(nil, false, nil, false)
	assert.ErrorIs(t, err, ErrUnbounded)
}

func TestGetRangeBoundsBetweenKeys(t *testing.T) {
	o := newPopulated()

	// Bounds that fall between stored keys.
	got, err := o.GetRange(ptr("b"), true, ptr("f"), true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"k-c", "k-e"}, got)
}

func TestGetRangeEmptyResult(t *testing.T) {
	o := newPopulated()

	got, err := o.GetRange(ptr("x"), true, ptr("z"), true)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestOrderedTracksPrunes(t *testing.T) {
	o := NewOrdered[string, string]()
	o.Put("m", "k")
	o.Remove("m", "k")

	got, err := o.GetRange(ptr("a"), true, ptr("z"), true)
	require.NoError(t, err)
	assert.Empty(t, got, "pruned key must leave the range too")

	_, ok := o.MinKey()
	assert.False(t, ok)
}

func TestMinMaxKey(t *testing.T) {
	o := newPopulated()

	minKey, ok := o.MinKey()
	require.True(t, ok)
	assert.Equal(t, "a", minKey)

	maxKey, ok := o.MaxKey()
	require.True(t, ok)
	assert.Equal(t, "g", maxKey)
}

func TestGetRangeDeduplicatesValues(t *testing.T) {
	o := NewOrdered[string, string]()
	o.Put("a", "shared")
	o.Put("b", "shared")

	got, err := o.GetRange(ptr("a"), true, ptr("b"), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"shared"}, got)
}

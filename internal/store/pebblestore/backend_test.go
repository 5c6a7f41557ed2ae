package pebblestore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/kvdex/internal/store"
)

type item struct {
	Name string `json:"name"`
}

func (i *item) Clone() store.Value {
	cp := *i
	return &cp
}

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New(Config{Path: t.TempDir()}, store.JSONCodec{
		NewValue: func() store.Value { return &item{} },
	})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestReadWriteDelete(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	_, err := b.Read(ctx, "k", store.PurposeRead)
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, b.Write(ctx, "k", &item{Name: "x"}, map[string]string{"name": "x"}))

	v, err := b.Read(ctx, "k", store.PurposeModify)
	require.NoError(t, err)
	assert.Equal(t, "x", v.(*item).Name)

	fields, err := b.Fields("k")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "x"}, fields)

	require.NoError(t, b.Delete(ctx, "k"))
	assert.ErrorIs(t, b.Delete(ctx, "k"), store.ErrNotFound)
	_, err = b.Fields("k")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestKeysAndCount(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Write(ctx, "a", &item{}, nil))
	require.NoError(t, b.Write(ctx, "b", &item{}, nil))

	keys, err := b.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, keys)

	n, err := b.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestDeleteAll(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Write(ctx, "a", &item{}, nil))
	require.NoError(t, b.Write(ctx, "b", &item{}, nil))

	n, err := b.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = b.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestEngineOverPebble(t *testing.T) {
	b := newTestBackend(t)
	s := store.New(b)
	ctx := context.Background()

	require.NoError(t, s.CreateIndex(ctx, "name", func(v store.Value) (string, bool) {
		i := v.(*item)
		return i.Name, i.Name != ""
	}))

	require.NoError(t, s.Insert(ctx, "1", &item{Name: "x"}))
	_, err := s.Update(ctx, "1", func(v store.Value) bool {
		v.(*item).Name = "y"
		return true
	})
	require.NoError(t, err)

	keys, err := s.KeysOf("name", "y")
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, keys)

	v, err := s.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "y", v.(*item).Name)
}

package mongodb

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/syntrixbase/kvdex/internal/store"
)

type item struct {
	Name string `json:"name"`
}

func (i *item) Clone() store.Value {
	cp := *i
	return &cp
}

func TestEntryID(t *testing.T) {
	a := entryID("key-1")
	b := entryID("key-1")
	c := entryID("key-2")

	assert.Equal(t, a, b, "id derivation must be deterministic")
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 32, "128-bit id in hex")
}

// setupBackend connects to the MongoDB named by KVDEX_MONGO_URI and
// returns a backend over a collection that is dropped on cleanup. Tests
// are skipped when no server is configured.
func setupBackend(t *testing.T) *Backend {
	t.Helper()
	uri := os.Getenv("KVDEX_MONGO_URI")
	if uri == "" {
		t.Skip("KVDEX_MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)

	coll := client.Database("kvdex_test").
		Collection(fmt.Sprintf("entries_%d", time.Now().UnixNano()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = coll.Drop(ctx)
		_ = client.Disconnect(ctx)
	})

	b := NewFromCollection(coll, store.JSONCodec{
		NewValue: func() store.Value { return &item{} },
	})
	require.NoError(t, b.EnsureIndexes(ctx))
	return b
}

func TestReadWriteDelete(t *testing.T) {
	b := setupBackend(t)
	ctx := context.Background()

	_, err := b.Read(ctx, "k", store.PurposeRead)
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, b.Write(ctx, "k", &item{Name: "x"}, map[string]string{"name": "x"}))

	v, err := b.Read(ctx, "k", store.PurposeModify)
	require.NoError(t, err)
	assert.Equal(t, "x", v.(*item).Name)

	require.NoError(t, b.Delete(ctx, "k"))
	assert.ErrorIs(t, b.Delete(ctx, "k"), store.ErrNotFound)
}

func TestWriteOverwrites(t *testing.T) {
	b := setupBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Write(ctx, "k", &item{Name: "old"}, nil))
	require.NoError(t, b.Write(ctx, "k", &item{Name: "new"}, nil))

	v, err := b.Read(ctx, "k", store.PurposeRead)
	require.NoError(t, err)
	assert.Equal(t, "new", v.(*item).Name)

	n, err := b.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestKeysCountDeleteAll(t *testing.T) {
	b := setupBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Write(ctx, "a", &item{}, nil))
	require.NoError(t, b.Write(ctx, "b", &item{}, nil))

	keys, err := b.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, keys)

	n, err := b.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := b.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

// Package mongodb provides the MongoDB Backend. Entries are stored as
// documents carrying the serialized value plus the engine-supplied
// index field values as queryable properties.
package mongodb

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/zeebo/blake3"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/syntrixbase/kvdex/internal/store"
)

// Config configures the MongoDB backend.
type Config struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// DefaultConfig returns the default backend settings.
func DefaultConfig() Config {
	return Config{
		URI:        "mongodb://localhost:27017",
		Database:   "kvdex",
		Collection: "entries",
	}
}

// record is the persisted document shape. Fields is written alongside
// the value so equality and range queries can run server-side later.
type record struct {
	ID        string            `bson:"_id"` // 128-bit BLAKE3 of the key, hex
	Key       string            `bson:"key"`
	Value     []byte            `bson:"value"`
	Fields    map[string]string `bson:"fields,omitempty"`
	UpdatedAt int64             `bson:"updated_at"`
}

// Backend implements store.Backend over a MongoDB collection.
type Backend struct {
	client *mongo.Client
	coll   *mongo.Collection
	codec  store.Codec
}

// New connects to MongoDB and builds the backend, ensuring the
// collection's indexes exist.
func New(ctx context.Context, cfg Config, codec store.Codec) (*Backend, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	b := NewFromCollection(client.Database(cfg.Database).Collection(cfg.Collection), codec)
	b.client = client
	if err := b.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return b, nil
}

// NewFromCollection builds the backend over an existing collection. The
// caller keeps ownership of the client.
func NewFromCollection(coll *mongo.Collection, codec store.Codec) *Backend {
	return &Backend{coll: coll, codec: codec}
}

// EnsureIndexes creates the key index and a wildcard index over the
// persisted field values.
func (b *Backend) EnsureIndexes(ctx context.Context) error {
	_, err := b.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "key", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "fields.$**", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to ensure indexes: %w", err)
	}
	return nil
}

// entryID derives the document id from the key, 128-bit BLAKE3 in hex.
func entryID(key string) string {
	sum := blake3.Sum256([]byte(key))
	return hex.EncodeToString(sum[:16])
}

func (b *Backend) Read(ctx context.Context, key string, purpose store.Purpose) (store.Value, error) {
	opts := options.FindOne()
	if purpose == store.PurposeRead {
		// Plain reads don't need the field properties back.
		opts.SetProjection(bson.M{"fields": 0})
	}

	var rec record
	err := b.coll.FindOne(ctx, bson.M{"_id": entryID(key)}, opts).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return b.codec.Decode(rec.Value)
}

func (b *Backend) Write(ctx context.Context, key string, value store.Value, fields map[string]string) error {
	raw, err := b.codec.Encode(value)
	if err != nil {
		return err
	}

	rec := record{
		ID:        entryID(key),
		Key:       key,
		Value:     raw,
		Fields:    fields,
		UpdatedAt: time.Now().UnixMilli(),
	}
	_, err = b.coll.ReplaceOne(ctx, bson.M{"_id": rec.ID}, rec, options.Replace().SetUpsert(true))
	return err
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	result, err := b.coll.DeleteOne(ctx, bson.M{"_id": entryID(key)})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (b *Backend) DeleteAll(ctx context.Context) (int, error) {
	result, err := b.coll.DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, err
	}
	return int(result.DeletedCount), nil
}

func (b *Backend) Keys(ctx context.Context) ([]string, error) {
	cursor, err := b.coll.Find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"key": 1}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var keys []string
	for cursor.Next(ctx) {
		var rec record
		if err := cursor.Decode(&rec); err != nil {
			return nil, err
		}
		keys = append(keys, rec.Key)
	}
	return keys, cursor.Err()
}

func (b *Backend) Count(ctx context.Context) (int, error) {
	n, err := b.coll.CountDocuments(ctx, bson.M{})
	return int(n), err
}

// Close disconnects the client if this backend owns one.
func (b *Backend) Close(ctx context.Context) error {
	if b.client == nil {
		return nil
	}
	return b.client.Disconnect(ctx)
}

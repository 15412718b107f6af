package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
)

// DefaultMongoCollection is the collection client state is kept in.
const DefaultMongoCollection = "client_state"

type mongoEntry struct {
	Key       string     `bson:"_id"`
	Value     string     `bson:"value"`
	ExpiresAt *time.Time `bson:"expires_at,omitempty"`
	UpdatedAt time.Time  `bson:"updated_at"`
}

// MongoStore implements Store on a MongoDB collection. Expiry is enforced on read
// and by a TTL index on expires_at. The change feed is local to this process.
type MongoStore struct {
	coll      *mongo.Collection
	notifier  notifier
	closeOnce sync.Once
}

var _ Store = (*MongoStore)(nil)

// ConnectMongo connects to uri with OpenTelemetry instrumentation and verifies
// the connection against the primary.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	clientOptions := options.Client().ApplyURI(uri)
	clientOptions.SetConnectTimeout(10 * time.Second)
	clientOptions.SetMonitor(otelmongo.NewMonitor())

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB primary: %w", err)
	}

	log.Info().Msg("MongoDB client initialized successfully.")
	return client, nil
}

// NewMongoStore creates a MongoStore on db.collection and ensures the TTL index.
func NewMongoStore(ctx context.Context, db *mongo.Database, collection string) (*MongoStore, error) {
	if collection == "" {
		collection = DefaultMongoCollection
	}
	coll := db.Collection(collection)

	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0).SetName("expires_at_ttl"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create TTL index on %s: %w", collection, err)
	}

	return &MongoStore{coll: coll}, nil
}

// Get implements Store.Get.
func (s *MongoStore) Get(ctx context.Context, key string) (string, bool, error) {
	var entry mongoEntry
	err := s.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s: %w", key, err)
	}

	// The TTL monitor runs once a minute, so expired documents can still be around.
	if entry.ExpiresAt != nil && time.Now().After(*entry.ExpiresAt) {
		return "", false, nil
	}

	return entry.Value, true, nil
}

// Set implements Store.Set.
func (s *MongoStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	now := time.Now().UTC()
	entry := mongoEntry{Key: key, Value: value, UpdatedAt: now}
	if ttl > 0 {
		expiresAt := now.Add(ttl)
		entry.ExpiresAt = &expiresAt
	}

	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": key}, entry, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}

	s.notifier.publish(Change{Key: key, Value: value})
	return nil
}

// Delete implements Store.Delete.
func (s *MongoStore) Delete(ctx context.Context, key string) error {
	if _, err := s.coll.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}

	s.notifier.publish(Change{Key: key, Deleted: true})
	return nil
}

// Subscribe implements Store.Subscribe.
func (s *MongoStore) Subscribe(fn func(Change)) func() {
	return s.notifier.subscribe(fn)
}

// Close stops all subscriptions. The Mongo client is left connected.
func (s *MongoStore) Close() error {
	s.closeOnce.Do(s.notifier.closeAll)
	return nil
}

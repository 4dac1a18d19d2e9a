// Package mongostore implements store.Store on top of MongoDB, the way the
// teacher pack's other services ground their persistence layer on a
// purpose-built driver package (see backend/store/postgres).
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/whisper-darkly/eventstream/events"
	"github.com/whisper-darkly/eventstream/store"
)

const (
	rawEventsCollection  = "raw_events"
	aggregatesCollection = "aggregates"
)

var _ store.Store = (*DB)(nil)

// DB implements store.Store using the official mongo-driver client.
type DB struct {
	client *mongo.Client
	db     *mongo.Database
}

// Open connects to uri and selects dbName, verifying connectivity before
// returning.
func Open(ctx context.Context, uri, dbName string) (*DB, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo.Connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return &DB{client: client, db: client.Database(dbName)}, nil
}

// EnsureIndexes creates the unique eventId index, the TTL index on receivedAt, and
// the compound (window, bucketStart) index. Called on every startup; index
// creation with an identical spec is a no-op.
func (d *DB) EnsureIndexes(ctx context.Context, rawEventsTTL time.Duration) error {
	raw := d.db.Collection(rawEventsCollection)
	_, err := raw.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "eventId", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("eventId_unique"),
		},
		{
			Keys: bson.D{{Key: "receivedAt", Value: 1}},
			Options: options.Index().
				SetExpireAfterSeconds(int32(rawEventsTTL.Seconds())).
				SetName("receivedAt_ttl"),
		},
	})
	if err != nil {
		return fmt.Errorf("raw_events indexes: %w", err)
	}

	agg := d.db.Collection(aggregatesCollection)
	_, err = agg.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "window", Value: 1}, {Key: "bucketStart", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("window_bucketStart"),
	})
	if err != nil {
		return fmt.Errorf("aggregates indexes: %w", err)
	}
	return nil
}

// rawEventDoc adds the TTL anchor field to the persisted shape of a raw
// event without polluting the validated events.Event type with a
// storage-only field.
type rawEventDoc struct {
	events.Event `bson:",inline"`
	ReceivedAt   time.Time `bson:"receivedAt"`
}

// InsertRawEvents performs an unordered bulk insert and tolerates
// duplicate-key errors on the unique eventId index — those records are
// counted as duplicates, not failures.
func (d *DB) InsertRawEvents(ctx context.Context, batch []events.Event) (store.InsertResult, error) {
	if len(batch) == 0 {
		return store.InsertResult{}, nil
	}

	now := time.Now()
	docs := make([]any, 0, len(batch))
	for _, ev := range batch {
		docs = append(docs, rawEventDoc{Event: ev, ReceivedAt: now})
	}

	coll := d.db.Collection(rawEventsCollection)
	res, err := coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))

	result := store.InsertResult{}
	if res != nil {
		result.Inserted = len(res.InsertedIDs)
	}

	if err == nil {
		return result, nil
	}
	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) {
		for _, we := range bwe.WriteErrors {
			if we.Code == 11000 { // duplicate key
				result.Duplicate++
				continue
			}
			return result, fmt.Errorf("insert raw events: %w", err)
		}
		return result, nil
	}
	return result, fmt.Errorf("insert raw events: %w", err)
}

// UpsertAggregateDelta idempotently adds delta counts to the durable
// aggregate document for (window, bucketStart), creating it with a
// createdAt stamp on first write.
func (d *DB) UpsertAggregateDelta(ctx context.Context, window string, bucketStart int64, countDelta, errorsDelta int64) error {
	coll := d.db.Collection(aggregatesCollection)
	now := time.Now()

	filter := bson.D{{Key: "window", Value: window}, {Key: "bucketStart", Value: bucketStart}}
	update := bson.D{
		{Key: "$inc", Value: bson.D{
			{Key: "count", Value: countDelta},
			{Key: "errors", Value: errorsDelta},
		}},
		{Key: "$set", Value: bson.D{{Key: "updatedAt", Value: now}}},
		{Key: "$setOnInsert", Value: bson.D{{Key: "createdAt", Value: time.UnixMilli(bucketStart).UTC()}}},
	}
	_, err := coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert aggregate: %w", err)
	}
	return nil
}

// Ping verifies the client can still reach the server.
func (d *DB) Ping(ctx context.Context) error {
	return d.client.Ping(ctx, nil)
}

// Close disconnects the underlying client.
func (d *DB) Close(ctx context.Context) error {
	return d.client.Disconnect(ctx)
}

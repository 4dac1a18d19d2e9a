// Package store defines the persistence abstraction for eventstream.
package store

import (
	"context"
	"time"

	"github.com/whisper-darkly/eventstream/events"
)

// AggregateDoc is the durable, idempotent-upsert form of one (window,
// bucketStart) aggregate cell, per spec §3's persisted-aggregate shape.
type AggregateDoc struct {
	Window      string    `bson:"window"`
	BucketStart int64     `bson:"bucketStart"`
	Count       int64     `bson:"count"`
	Errors      int64     `bson:"errors"`
	CreatedAt   time.Time `bson:"createdAt"`
	UpdatedAt   time.Time `bson:"updatedAt"`
}

// InsertResult reports how many of a raw-event batch were newly persisted
// versus rejected as duplicates of an already-stored eventId.
type InsertResult struct {
	Inserted  int
	Duplicate int
}

// Store is the persistence abstraction. All methods are context-aware so
// callers can bound them with request or shutdown deadlines.
type Store interface {
	// EnsureIndexes creates (or verifies) every index the store depends on:
	// a unique index on eventId for idempotent inserts, a TTL index on the
	// server receipt time (receivedAt) for raw event expiry, and a compound index on (window, bucketStart)
	// for aggregate lookups. Safe to call on every startup.
	EnsureIndexes(ctx context.Context, rawEventsTTL time.Duration) error

	// InsertRawEvents persists a validated batch. Records whose eventId
	// already exists are silently skipped, not treated as an error —
	// idempotency is a property of the call, not a failure mode.
	InsertRawEvents(ctx context.Context, batch []events.Event) (InsertResult, error)

	// UpsertAggregateDelta adds delta counts to the durable aggregate
	// document for (window, bucketStart), creating it on first write.
	UpsertAggregateDelta(ctx context.Context, window string, bucketStart int64, countDelta, errorsDelta int64) error

	// Ping verifies connectivity, for the /ready endpoint.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close(ctx context.Context) error
}

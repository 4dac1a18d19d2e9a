// Package storetest provides an in-memory store.Store for use in tests of
// packages that depend on persistence without requiring a live MongoDB.
package storetest

import (
	"context"
	"sync"
	"time"

	"github.com/whisper-darkly/eventstream/events"
	"github.com/whisper-darkly/eventstream/store"
)

var _ store.Store = (*Fake)(nil)

// Fake is a minimal, concurrency-safe in-memory store.Store.
type Fake struct {
	mu         sync.Mutex
	seenIDs    map[string]struct{}
	aggregates map[string]*store.AggregateDoc

	PingErr error
}

// New builds an empty Fake.
func New() *Fake {
	return &Fake{
		seenIDs:    make(map[string]struct{}),
		aggregates: make(map[string]*store.AggregateDoc),
	}
}

func (f *Fake) EnsureIndexes(ctx context.Context, rawEventsTTL time.Duration) error {
	return nil
}

func (f *Fake) InsertRawEvents(ctx context.Context, batch []events.Event) (store.InsertResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var res store.InsertResult
	for _, ev := range batch {
		if _, ok := f.seenIDs[ev.EventID]; ok {
			res.Duplicate++
			continue
		}
		f.seenIDs[ev.EventID] = struct{}{}
		res.Inserted++
	}
	return res, nil
}

func (f *Fake) UpsertAggregateDelta(ctx context.Context, window string, bucketStart int64, countDelta, errorsDelta int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := window + ":" + time.UnixMilli(bucketStart).String()
	doc, ok := f.aggregates[key]
	if !ok {
		doc = &store.AggregateDoc{Window: window, BucketStart: bucketStart, CreatedAt: time.Now()}
		f.aggregates[key] = doc
	}
	doc.Count += countDelta
	doc.Errors += errorsDelta
	doc.UpdatedAt = time.Now()
	return nil
}

func (f *Fake) Ping(ctx context.Context) error { return f.PingErr }

func (f *Fake) Close(ctx context.Context) error { return nil }

// Aggregate returns the current durable aggregate for (window, bucketStart),
// for test assertions.
func (f *Fake) Aggregate(window string, bucketStart int64) (store.AggregateDoc, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := window + ":" + time.UnixMilli(bucketStart).String()
	doc, ok := f.aggregates[key]
	if !ok {
		return store.AggregateDoc{}, false
	}
	return *doc, true
}

// InsertedCount returns how many distinct eventIds have been persisted.
func (f *Fake) InsertedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seenIDs)
}

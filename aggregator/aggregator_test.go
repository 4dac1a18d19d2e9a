package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/whisper-darkly/eventstream/events"
)

func TestIngestCountsAndUniques(t *testing.T) {
	a := New([]int{1, 5, 60})
	a.now = func() time.Time { return time.Unix(100, 0) }

	deltas := a.Ingest([]events.Event{
		{UserID: "u1", Route: "/a", Action: "view"},
		{UserID: "u1", Route: "/a", Action: "view"},
		{UserID: "u2", Route: "/b", Action: "error"},
	})
	require.Len(t, deltas, 3) // one per window

	snap := a.Snapshot()
	for _, w := range []string{"1s", "5s", "60s"} {
		s := snap[w]
		require.Equal(t, 3, s.Count)
		require.Equal(t, 2, s.Uniques)
		require.Equal(t, 1, s.Errors)
	}
}

func TestTopRoutesOrderingAndTiebreak(t *testing.T) {
	a := New([]int{1})
	a.now = func() time.Time { return time.Unix(0, 0) }

	a.Ingest([]events.Event{
		{Route: "/c", Action: "view"},
		{Route: "/a", Action: "view"},
		{Route: "/a", Action: "view"},
		{Route: "/b", Action: "view"},
		{Route: "/c", Action: "view"},
		{Route: "/b", Action: "view"},
	})
	snap := a.Snapshot()["1s"]
	require.Equal(t, []RoutePair{
		{Route: "/c", Count: 2},
		{Route: "/a", Count: 2},
		{Route: "/b", Count: 2},
	}, snap.Routes)
}

func TestTopRoutesLimitedToTen(t *testing.T) {
	a := New([]int{1})
	a.now = func() time.Time { return time.Unix(0, 0) }

	batch := make([]events.Event, 0, 15)
	for i := 0; i < 15; i++ {
		batch = append(batch, events.Event{Route: string(rune('a' + i)), Action: "view"})
	}
	a.Ingest(batch)
	snap := a.Snapshot()["1s"]
	require.Len(t, snap.Routes, topRoutesLimit)
}

func TestIngestEmptyBatchNoDeltas(t *testing.T) {
	a := New([]int{1})
	require.Nil(t, a.Ingest(nil))
}

func TestEvictOlderThanDropsAgedBuckets(t *testing.T) {
	a := New([]int{1})
	a.now = func() time.Time { return time.Unix(0, 0) }
	a.Ingest([]events.Event{{Route: "/a", Action: "view"}})

	evicted := a.evictOlderThan(time.Unix(0, 0).Add(10*time.Second), retentionWidths)
	require.Equal(t, 1, evicted)

	snap := a.Snapshot()["1s"]
	require.Equal(t, 0, snap.Count)
}

func TestJanitorStopIsClean(t *testing.T) {
	a := New([]int{1})
	j := NewJanitor(a, 5*time.Millisecond)
	j.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	j.Stop()
}

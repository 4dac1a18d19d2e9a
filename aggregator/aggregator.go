// Package aggregator maintains rolling fixed-window counters over the
// receipt wall-clock, per spec §3/§4.2: every ingested event is folded into
// one bucket per configured window, keyed by the window's bucket start, and
// a Bucket Janitor evicts buckets that have aged out.
package aggregator

import (
	"sync"
	"time"

	"github.com/whisper-darkly/eventstream/events"
	"github.com/whisper-darkly/eventstream/metrics"
)

// windowKey names a bucket map entry as "<seconds>s", matching the wire
// naming used in agg_snapshot/agg_delta frames (spec §6).
func windowKey(windowSec int) string {
	switch windowSec {
	case 1:
		return "1s"
	case 5:
		return "5s"
	case 60:
		return "60s"
	default:
		return time.Duration(windowSec * int(time.Second)).String()
	}
}

// bucketStart floors now to the start of the windowSec-wide bucket it falls
// in, in unix milliseconds. Aggregation is always keyed off receipt time,
// never the event's own ts field — see spec §3's BucketStart note.
func bucketStart(now time.Time, windowSec int) int64 {
	ms := now.UnixMilli()
	width := int64(windowSec) * 1000
	return (ms / width) * width
}

// Delta is the set of (window, bucketStart) cells touched by one ingest
// call, used to drive agg_delta frames without re-broadcasting untouched
// windows.
type Delta struct {
	Window      string
	BucketStart int64
	Snapshot    Snapshot
}

// Aggregator holds the live buckets for every configured window. A single
// mutex guards the whole structure; batches are folded in one lock
// acquisition so two concurrent ingest calls are strictly ordered relative
// to each other, per spec §5's ordering guarantee.
type Aggregator struct {
	mu      sync.Mutex
	windows []int
	buckets map[int]map[int64]*bucket // windowSec -> bucketStart -> bucket
	now     func() time.Time
}

// New builds an Aggregator for the given set of window widths, in seconds.
func New(windows []int) *Aggregator {
	buckets := make(map[int]map[int64]*bucket, len(windows))
	for _, w := range windows {
		buckets[w] = make(map[int64]*bucket)
	}
	return &Aggregator{
		windows: append([]int(nil), windows...),
		buckets: buckets,
		now:     time.Now,
	}
}

// Ingest folds a validated batch into every configured window's current
// bucket and returns the set of cells that changed, for delta broadcast.
func (a *Aggregator) Ingest(batch []events.Event) []Delta {
	if len(batch) == 0 {
		return nil
	}
	now := a.now()

	a.mu.Lock()
	defer a.mu.Unlock()

	touched := make(map[int]int64, len(a.windows))
	for _, w := range a.windows {
		start := bucketStart(now, w)
		b, ok := a.buckets[w][start]
		if !ok {
			b = newBucket()
			a.buckets[w][start] = b
		}
		for _, ev := range batch {
			b.add(ev.UserID, ev.Route, ev.Action)
		}
		touched[w] = start
		metrics.BucketCount.WithLabelValues(windowKey(w)).Set(float64(len(a.buckets[w])))
	}

	deltas := make([]Delta, 0, len(touched))
	for w, start := range touched {
		deltas = append(deltas, Delta{
			Window:      windowKey(w),
			BucketStart: start,
			Snapshot:    a.buckets[w][start].serialize(),
		})
	}
	return deltas
}

// Snapshot returns the current-bucket snapshot for every configured window,
// for the initial agg_snapshot frame sent to a new subscriber.
func (a *Aggregator) Snapshot() map[string]Snapshot {
	now := a.now()

	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]Snapshot, len(a.windows))
	for _, w := range a.windows {
		start := bucketStart(now, w)
		if b, ok := a.buckets[w][start]; ok {
			out[windowKey(w)] = b.serialize()
		} else {
			out[windowKey(w)] = emptySnapshot()
		}
	}
	return out
}

// evictOlderThan drops every bucket in every window whose start is older
// than the retention horizon (5 widths, per the Bucket Janitor in spec
// §4.8). Exposed unexported for the janitor and for tests.
func (a *Aggregator) evictOlderThan(now time.Time, retentionWidths int) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	evicted := 0
	for _, w := range a.windows {
		horizon := now.UnixMilli() - int64(retentionWidths*w)*1000
		for start := range a.buckets[w] {
			if start < horizon {
				delete(a.buckets[w], start)
				evicted++
			}
		}
		metrics.BucketCount.WithLabelValues(windowKey(w)).Set(float64(len(a.buckets[w])))
	}
	return evicted
}

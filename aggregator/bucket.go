package aggregator

import (
	"encoding/json"
	"sort"
)

// bucket is a single aggregation cell for one (window, bucketStart) pair.
type bucket struct {
	count   int
	uniques map[string]struct{}
	errors  int

	routeCounts map[string]int
	routeOrder  []string // first-seen order, for top-routes tie-breaking
}

func newBucket() *bucket {
	return &bucket{
		uniques:     make(map[string]struct{}),
		routeCounts: make(map[string]int),
	}
}

// add folds one event into the bucket. Mirrors the algorithm in spec §4.2:
// count always increments, uniques only for non-empty userId, routes always,
// errors only for the literal action "error".
func (b *bucket) add(userID, route, action string) {
	b.count++
	if userID != "" {
		b.uniques[userID] = struct{}{}
	}
	if _, seen := b.routeCounts[route]; !seen {
		b.routeOrder = append(b.routeOrder, route)
	}
	b.routeCounts[route]++
	if action == errorAction {
		b.errors++
	}
}

const errorAction = "error"

// RoutePair is a (route, count) tuple that serializes as a 2-element JSON
// array, matching the wire shape ["/a", 5] required by spec §8 scenario 4.
type RoutePair struct {
	Route string
	Count int
}

// MarshalJSON renders the pair as a 2-element array.
func (p RoutePair) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{p.Route, p.Count})
}

// Snapshot is the serialized shape of a bucket, per spec §3.
type Snapshot struct {
	Count   int         `json:"count"`
	Uniques int         `json:"uniques"`
	Routes  []RoutePair `json:"routes"`
	Errors  int         `json:"errors"`
}

const topRoutesLimit = 10

// serialize produces the wire-shaped snapshot of a live bucket: top-10
// routes ordered by count descending, ties broken by first-seen order.
func (b *bucket) serialize() Snapshot {
	pairs := make([]RoutePair, 0, len(b.routeOrder))
	firstSeen := make(map[string]int, len(b.routeOrder))
	for i, r := range b.routeOrder {
		firstSeen[r] = i
		pairs = append(pairs, RoutePair{Route: r, Count: b.routeCounts[r]})
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		if pairs[i].Count != pairs[j].Count {
			return pairs[i].Count > pairs[j].Count
		}
		return firstSeen[pairs[i].Route] < firstSeen[pairs[j].Route]
	})
	if len(pairs) > topRoutesLimit {
		pairs = pairs[:topRoutesLimit]
	}
	return Snapshot{
		Count:   b.count,
		Uniques: len(b.uniques),
		Routes:  pairs,
		Errors:  b.errors,
	}
}

func emptySnapshot() Snapshot {
	return Snapshot{Routes: []RoutePair{}}
}

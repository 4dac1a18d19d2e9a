// Package metrics declares the Prometheus collectors exposed on /metrics,
// registered against the default registry the way promhttp.Handler expects.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "eventstream"

var (
	// EventsReceived counts every record seen on /ingest or an inbound
	// "events" WebSocket frame, valid or not.
	EventsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_ingested_total",
		Help:      "Total number of event records received for ingestion.",
	})

	// EventsValid counts records that passed per-record validation.
	EventsValid = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_valid_total",
		Help:      "Total number of event records that passed validation.",
	})

	// EventsDropped counts records rejected by per-record validation.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_invalid_total",
		Help:      "Total number of event records dropped by validation.",
	})

	// ActiveSubscriptions tracks the number of currently open streaming
	// connections, counted from upgrade whether or not they have subscribed.
	ActiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_subscriptions",
		Help:      "Current number of open WebSocket streaming subscriptions.",
	})

	// BroadcastSubscribersDropped counts outbound frames dropped because a
	// subscriber exceeded its backpressure threshold or had a full channel.
	BroadcastSubscribersDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcast_subscribers_dropped_total",
		Help:      "Total number of outbound broadcast frames dropped for backpressure.",
	})

	// BucketCount reports the number of live buckets currently held per
	// aggregation window, as a gauge labeled by window.
	BucketCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "bucket_count",
		Help:      "Current number of live aggregation buckets held per window.",
	}, []string{"window"})

	// AggregateUpsertErrors counts failed durable-aggregate writes.
	AggregateUpsertErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "aggregate_upsert_errors_total",
		Help:      "Total number of failed durable aggregate upserts.",
	})
)

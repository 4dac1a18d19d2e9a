// Package topic implements the pub/sub fan-out side-table used to route
// aggregate deltas to streaming subscribers. Per spec §9's redesign
// guidance, subscriptions are NOT attached to the connection object itself;
// the Registry owns a topic -> subscriber side-table (and the reverse index
// needed to unsubscribe a departing connection from everything at once).
package topic

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/whisper-darkly/eventstream/metrics"
)

// Subscriber is a single outbound fan-out destination. Connections obtain
// one from the Registry and drain Out() in their own write loop.
type Subscriber struct {
	id  string
	out chan []byte

	outstanding int64 // bytes queued but not yet drained, atomic
	dropped     int64 // messages dropped for backpressure, atomic
}

// Out returns the channel a connection's write pump should drain.
func (s *Subscriber) Out() <-chan []byte { return s.out }

// Push enqueues data directly to this subscriber, bypassing topic
// broadcast. Used for connection-specific sends (e.g. the initial
// snapshot) that must still flow through the single write-pump goroutine.
// Returns false if the queue was full and the message was dropped.
func (s *Subscriber) Push(data []byte) bool {
	select {
	case s.out <- data:
		atomic.AddInt64(&s.outstanding, int64(len(data)))
		return true
	default:
		atomic.AddInt64(&s.dropped, 1)
		metrics.BroadcastSubscribersDropped.Inc()
		return false
	}
}

// Dropped returns the number of messages this subscriber has had dropped,
// either for exceeding the backpressure threshold or because its channel
// was full.
func (s *Subscriber) Dropped() int64 { return atomic.LoadInt64(&s.dropped) }

// Registry is the topic -> subscriber side-table plus its reverse index.
type Registry struct {
	mu         sync.RWMutex
	bySubject  map[string]map[string]*Subscriber // topic -> subscriber id -> subscriber
	byConn     map[string]map[string]struct{}    // subscriber id -> set of topics
	threshold  int64                             // backpressure byte threshold per subscriber
	bufferSize int                               // channel capacity per subscriber
}

// NewRegistry builds a Registry. threshold is the maximum number of
// outstanding bytes a subscriber may have queued before new messages are
// dropped rather than blocking the broadcaster; bufferSize bounds the
// channel depth backing each subscriber.
func NewRegistry(threshold int64, bufferSize int) *Registry {
	return &Registry{
		bySubject:  make(map[string]map[string]*Subscriber),
		byConn:     make(map[string]map[string]struct{}),
		threshold:  threshold,
		bufferSize: bufferSize,
	}
}

// NewSubscriber allocates a Subscriber identified by id. The caller is
// responsible for calling UnsubscribeAll when the connection closes.
func (r *Registry) NewSubscriber(id string) *Subscriber {
	return &Subscriber{id: id, out: make(chan []byte, r.bufferSize)}
}

// Subscribe adds sub to topic's fan-out set.
func (r *Registry) Subscribe(topicName string, sub *Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.bySubject[topicName] == nil {
		r.bySubject[topicName] = make(map[string]*Subscriber)
	}
	r.bySubject[topicName][sub.id] = sub

	if r.byConn[sub.id] == nil {
		r.byConn[sub.id] = make(map[string]struct{})
	}
	r.byConn[sub.id][topicName] = struct{}{}
}

// Unsubscribe removes sub from a single topic's fan-out set.
func (r *Registry) Unsubscribe(topicName string, sub *Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(topicName, sub.id)
}

// UnsubscribeAll removes sub from every topic it is currently subscribed
// to. Connections must call this exactly once, on close.
func (r *Registry) UnsubscribeAll(sub *Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for topicName := range r.byConn[sub.id] {
		r.removeLocked(topicName, sub.id)
	}
	delete(r.byConn, sub.id)
}

func (r *Registry) removeLocked(topicName, subID string) {
	if subs, ok := r.bySubject[topicName]; ok {
		delete(subs, subID)
		if len(subs) == 0 {
			delete(r.bySubject, topicName)
		}
	}
	if topics, ok := r.byConn[subID]; ok {
		delete(topics, topicName)
	}
}

// Broadcast fans data out to every subscriber of topic. A subscriber whose
// outstanding bytes would exceed the backpressure threshold has the
// message dropped instead of blocking the broadcaster — slow readers lose
// data, they never stall the aggregator.
func (r *Registry) Broadcast(topicName string, data []byte) {
	r.mu.RLock()
	subs := make([]*Subscriber, 0, len(r.bySubject[topicName]))
	for _, s := range r.bySubject[topicName] {
		subs = append(subs, s)
	}
	r.mu.RUnlock()

	for _, s := range subs {
		r.send(s, data)
	}
}

func (r *Registry) send(s *Subscriber, data []byte) {
	if atomic.LoadInt64(&s.outstanding)+int64(len(data)) > r.threshold {
		atomic.AddInt64(&s.dropped, 1)
		metrics.BroadcastSubscribersDropped.Inc()
		log.Warn().Str("subscriber", s.id).Msg("topic: dropping message, backpressure threshold exceeded")
		return
	}
	select {
	case s.out <- data:
		atomic.AddInt64(&s.outstanding, int64(len(data)))
	default:
		atomic.AddInt64(&s.dropped, 1)
		metrics.BroadcastSubscribersDropped.Inc()
		log.Warn().Str("subscriber", s.id).Msg("topic: dropping message, subscriber channel full")
	}
}

// Ack must be called by the write pump after a message has been written to
// the wire, to release its bytes from the outstanding counter.
func (s *Subscriber) Ack(n int) {
	atomic.AddInt64(&s.outstanding, -int64(n))
}

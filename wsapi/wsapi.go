// Package wsapi implements the streaming endpoint: a persistent WebSocket
// connection that pushes aggregate snapshots and deltas to subscribers.
// The upgrade/read-pump/write-pump shape follows the hub pattern grounded
// in the pack's websocket handler example, combined with the teacher's own
// dial/read/write loop idiom from its overseer client.
package wsapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/whisper-darkly/eventstream/aggregator"
	"github.com/whisper-darkly/eventstream/auth"
	"github.com/whisper-darkly/eventstream/events"
	"github.com/whisper-darkly/eventstream/metrics"
	"github.com/whisper-darkly/eventstream/topic"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	aggregateTopic = "aggregates"
)

// Deps holds all dependencies for the streaming API.
type Deps struct {
	Aggregator     *aggregator.Aggregator
	Topics         *topic.Registry
	JWTSecret      []byte
	AllowedOrigins []string
	MaxMsgBytes    int64
}

// New builds the streaming HTTP handler. It is served on its own port
// (config.StreamPort), separate from the ingestion API, per spec §6.
func New(d Deps) http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     checkOrigin(d.AllowedOrigins),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", handleWS(d, upgrader))
	return mux
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	allowAll := false
	allowSet := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			allowAll = true
		}
		allowSet[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if allowAll {
			return true
		}
		_, ok := allowSet[origin]
		return ok
	}
}

func handleWS(d Deps, upgrader websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := auth.Verify(d.JWTSecret, r)
		if identity == nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("wsapi: upgrade failed")
			return
		}

		sub := d.Topics.NewSubscriber(uuid.NewString())
		metrics.ActiveSubscriptions.Inc()

		c := &connection{
			conn:    conn,
			sub:     sub,
			deps:    d,
			subject: identity.Subject,
		}
		go c.writePump()
		go c.readPump()
	}
}

// connection binds one upgraded socket to its topic subscriber. It carries
// no subscription state itself — the Registry's side-table is the sole
// source of truth for what this connection receives.
type connection struct {
	conn    *websocket.Conn
	sub     *topic.Subscriber
	deps    Deps
	subject string
}

// queueInitialSnapshot enqueues the current aggregate snapshot onto the
// subscriber's own outbound channel, so it is written by the same
// single-writer write pump as every other frame this connection receives.
// Called in response to the client's subscribe frame, not unconditionally
// on connect.
func (c *connection) queueInitialSnapshot() {
	snap := c.deps.Aggregator.Snapshot()
	payload, err := json.Marshal(map[string]any{
		"type": "agg_snapshot",
		"data": snap,
	})
	if err != nil {
		return
	}
	c.sub.Push(payload)
}

func (c *connection) readPump() {
	defer func() {
		c.deps.Topics.UnsubscribeAll(c.sub)
		metrics.ActiveSubscriptions.Dec()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.deps.MaxMsgBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("subject", c.subject).Msg("wsapi: connection closed unexpectedly")
			}
			return
		}
		c.handleInbound(message)
	}
}

// handleInbound processes a client-sent frame: a raw events batch to ingest
// inline, or a subscribe request that registers the connection against the
// aggregate topic and immediately answers with the current snapshot.
func (c *connection) handleInbound(message []byte) {
	var env struct {
		Type  string `json:"type"`
		Topic string `json:"topic"`
	}
	if err := json.Unmarshal(message, &env); err != nil {
		return
	}
	switch env.Type {
	case "events":
		c.handleEventsFrame(message)
	case "subscribe":
		c.handleSubscribeFrame(env.Topic)
	}
}

// handleSubscribeFrame registers the connection with the registry and
// answers with the current aggregate snapshot. The snapshot is anchored to
// this acknowledgement, not to the connection's upgrade.
func (c *connection) handleSubscribeFrame(requestedTopic string) {
	topicName := requestedTopic
	if topicName == "" {
		topicName = aggregateTopic
	}
	c.deps.Topics.Subscribe(topicName, c.sub)
	c.queueInitialSnapshot()
}

type eventsFrame struct {
	Events json.RawMessage `json:"events"`
}

func (c *connection) handleEventsFrame(message []byte) {
	var frame eventsFrame
	if err := json.Unmarshal(message, &frame); err != nil || len(frame.Events) == 0 {
		return
	}
	raws, err := events.DecodeBatch(frame.Events)
	if err != nil {
		return
	}
	valid := events.Validate(raws)
	metrics.EventsReceived.Add(float64(len(raws)))
	metrics.EventsValid.Add(float64(len(valid)))
	metrics.EventsDropped.Add(float64(len(raws) - len(valid)))
	if len(valid) == 0 {
		return
	}

	deltas := c.deps.Aggregator.Ingest(valid)
	broadcastDeltas(c.deps.Topics, deltas)
}

// broadcastDeltas assembles every window touched by one ingest batch into a
// single agg_delta frame, per spec §4.6/§5: deltas for a batch are broadcast
// together, not one frame per window.
func broadcastDeltas(reg *topic.Registry, deltas []aggregator.Delta) {
	if len(deltas) == 0 {
		return
	}
	data := make(map[string]aggregator.Snapshot, len(deltas))
	for _, delta := range deltas {
		data[delta.Window] = delta.Snapshot
	}
	payload, err := json.Marshal(map[string]any{
		"type": "agg_delta",
		"data": data,
	})
	if err != nil {
		return
	}
	reg.Broadcast(aggregateTopic, payload)
}

func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.sub.Out():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
			c.sub.Ack(len(message))
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

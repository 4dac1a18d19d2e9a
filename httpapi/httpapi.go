// Package httpapi registers the ingestion-side HTTP endpoints: health,
// readiness, dev token issuance, event ingestion, and the Prometheus
// metrics handler. Uses vanilla net/http (Go 1.22+ mux), the same way the
// teacher's router package does.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/whisper-darkly/eventstream/aggregator"
	"github.com/whisper-darkly/eventstream/auth"
	"github.com/whisper-darkly/eventstream/events"
	"github.com/whisper-darkly/eventstream/metrics"
	"github.com/whisper-darkly/eventstream/store"
	"github.com/whisper-darkly/eventstream/topic"
)

// Deps holds all dependencies for the HTTP ingestion API.
type Deps struct {
	Store          store.Store
	Aggregator     *aggregator.Aggregator
	Topics         *topic.Registry
	JWTSecret         []byte
	AllowedOrigins    []string
	MaxMsgBytes       int64
	MetricsEnabled    bool
	AdminPasswordHash string
}

// AggregateTopic is the topic name agg_delta frames are broadcast on.
const AggregateTopic = "aggregates"

// New builds and returns the application HTTP handler for the ingestion API.
func New(d Deps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", health(d))
	mux.HandleFunc("GET /ready", ready(d))
	mux.HandleFunc("GET /token", issueToken(d))
	mux.HandleFunc("POST /ingest", ingest(d))

	if d.MetricsEnabled {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return withCORS(d.AllowedOrigins, mux)
}

// ---- response helpers ----

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// ---- CORS ----

func withCORS(allowed []string, next http.Handler) http.Handler {
	allowSet := make(map[string]struct{}, len(allowed))
	allowAll := false
	for _, o := range allowed {
		if o == "*" {
			allowAll = true
		}
		allowSet[o] = struct{}{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if _, ok := allowSet[origin]; ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ---- handlers ----

func health(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func ready(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := d.Store.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func issueToken(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		subject := query.Get("userId")
		if subject == "" {
			subject = auth.DefaultSubject
		}
		if subject == auth.AdminSubject {
			if err := auth.CheckAdminPassword(d.AdminPasswordHash, query.Get("adminPassword")); err != nil {
				writeError(w, http.StatusForbidden, "admin token issuance requires a valid password")
				return
			}
		}

		tok, err := auth.IssueToken(d.JWTSecret, subject, auth.DefaultTokenTTL)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "could not issue token")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"token": tok})
	}
}

func ingest(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if auth.Verify(d.JWTSecret, r) == nil {
			writeError(w, http.StatusUnauthorized, "missing or invalid credential")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, d.MaxMsgBytes)
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}

		raws, err := events.DecodeBatch(body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		if len(raws) == 0 {
			writeError(w, http.StatusBadRequest, "empty payload")
			return
		}
		valid := events.Validate(raws)
		metrics.EventsReceived.Add(float64(len(raws)))
		metrics.EventsValid.Add(float64(len(valid)))
		metrics.EventsDropped.Add(float64(len(raws) - len(valid)))

		if len(valid) == 0 {
			writeError(w, http.StatusBadRequest, "no valid events")
			return
		}

		res, err := d.Store.InsertRawEvents(r.Context(), valid)
		if err != nil {
			log.Error().Err(err).Msg("httpapi: insert raw events failed")
		}

		deltas := d.Aggregator.Ingest(valid)
		errCount := 0
		for _, ev := range valid {
			if ev.Action == events.ActionError {
				errCount++
			}
		}
		for _, delta := range deltas {
			go persistDelta(r.Context(), d.Store, delta, int64(len(valid)), int64(errCount))
		}
		broadcastDeltas(d.Topics, deltas)

		writeJSON(w, http.StatusAccepted, map[string]any{
			"accepted":  len(valid),
			"inserted":  res.Inserted,
			"duplicate": res.Duplicate,
		})
	}
}

func persistDelta(ctx context.Context, s store.Store, delta aggregator.Delta, countDelta, errorsDelta int64) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.UpsertAggregateDelta(ctx, delta.Window, delta.BucketStart, countDelta, errorsDelta); err != nil {
		metrics.AggregateUpsertErrors.Inc()
		log.Error().Err(err).Str("window", delta.Window).Msg("httpapi: persist aggregate delta failed")
	}
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
	reg.Broadcast(AggregateTopic, payload)
}

package wsapi

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/whisper-darkly/eventstream/aggregator"
	"github.com/whisper-darkly/eventstream/auth"
	"github.com/whisper-darkly/eventstream/topic"
)

var testSecret = []byte("test-secret")

func newTestServer(t *testing.T) (*httptest.Server, Deps) {
	d := Deps{
		Aggregator:     aggregator.New([]int{1, 5, 60}),
		Topics:         topic.NewRegistry(1<<20, 16),
		JWTSecret:      testSecret,
		AllowedOrigins: []string{"*"},
		MaxMsgBytes:    32 * 1024,
	}
	srv := httptest.NewServer(New(d))
	t.Cleanup(srv.Close)
	return srv, d
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestUpgradeRejectedWithoutToken(t *testing.T) {
	srv, _ := newTestServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, 401, resp.StatusCode)
}

func TestSubscribeFrameReceivesSnapshot(t *testing.T) {
	srv, _ := newTestServer(t)
	tok, err := auth.IssueToken(testSecret, "u1", time.Hour)
	require.NoError(t, err)

	conn := dial(t, srv, tok)
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "subscribe", "topic": "aggregates"}))

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	require.Equal(t, "agg_snapshot", msg["type"])
	require.Contains(t, msg, "data")
}

func TestInboundEventsFrameBroadcastsCombinedDelta(t *testing.T) {
	srv, _ := newTestServer(t)
	tok, err := auth.IssueToken(testSecret, "u1", time.Hour)
	require.NoError(t, err)

	conn := dial(t, srv, tok)
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "subscribe", "topic": "aggregates"}))
	_, _, err = conn.ReadMessage() // discard initial snapshot
	require.NoError(t, err)

	frame := map[string]any{
		"type": "events",
		"events": []map[string]any{
			{"eventId": "a", "ts": 1000, "sessionId": "s1", "route": "/x", "action": "view"},
		},
	}
	require.NoError(t, conn.WriteJSON(frame))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	require.Equal(t, "agg_delta", msg["type"])

	payload, ok := msg["data"].(map[string]any)
	require.True(t, ok)
	for _, window := range []string{"1s", "5s", "60s"} {
		snap, ok := payload[window].(map[string]any)
		require.True(t, ok, "missing window %s", window)
		require.Equal(t, float64(1), snap["count"])
	}
}

package mongostore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/whisper-darkly/eventstream/events"
)

// TestRawEventDocInlinesEventFields guards the bson wire shape: the TTL
// anchor field must sit alongside the inlined event fields, not nested
// under a sub-document, so the receivedAt TTL index can see it.
func TestRawEventDocInlinesEventFields(t *testing.T) {
	doc := rawEventDoc{
		Event: events.Event{
			EventID: "e1",
			TS:      1000,
			Route:   "/a",
			Action:  "view",
		},
		ReceivedAt: time.Unix(0, 0),
	}
	require.Equal(t, "e1", doc.Event.EventID)
	require.Equal(t, time.Unix(0, 0), doc.ReceivedAt)

	data, err := bson.Marshal(doc)
	require.NoError(t, err)
	var m bson.M
	require.NoError(t, bson.Unmarshal(data, &m))
	require.Equal(t, "e1", m["eventId"])
	require.Contains(t, m, "receivedAt")
	require.NotContains(t, m, "event")
}


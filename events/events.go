// Package events defines the validated Event record and the batch
// validator that filters raw ingestion payloads per-record.
package events

import "encoding/json"

// ActionError is the action value that marks an event as an error event.
const ActionError = "error"

// Event is a validated, normalized input record.
type Event struct {
	EventID   string                 `json:"eventId" bson:"eventId"`
	TS        int64                  `json:"ts" bson:"ts"`
	UserID    string                 `json:"userId" bson:"userId"`
	SessionID string                 `json:"sessionId" bson:"sessionId"`
	Route     string                 `json:"route" bson:"route"`
	Action    string                 `json:"action" bson:"action"`
	Metadata  map[string]any         `json:"metadata" bson:"metadata"`
}

// raw is the loosely-typed shape used to decode an ingestion payload before
// field-level validation — every field is optional at this stage so that a
// malformed record can be dropped individually rather than failing decode
// for the whole batch.
type raw struct {
	EventID   *string         `json:"eventId"`
	TS        *int64          `json:"ts"`
	UserID    *string         `json:"userId"`
	SessionID *string         `json:"sessionId"`
	Route     *string         `json:"route"`
	Action    *string         `json:"action"`
	Metadata  json.RawMessage `json:"metadata"`
}

// DecodeBatch unmarshals an ingestion body that is either a single event
// object or a JSON array of event objects.
func DecodeBatch(body []byte) ([]json.RawMessage, error) {
	trimmed := trimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var arr []json.RawMessage
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return nil, err
		}
		return arr, nil
	}
	return []json.RawMessage{trimmed}, nil
}

func trimSpace(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && isSpace(b[start]) {
		start++
	}
	for end > start && isSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// Validate applies the shape/presence rules to each raw record and returns
// the subset that passes, normalized into Event values. Records that fail
// any rule are dropped silently — this is per-record filtering, not batch
// rejection.
func Validate(raws []json.RawMessage) []Event {
	out := make([]Event, 0, len(raws))
	for _, r := range raws {
		ev, ok := validateOne(r)
		if ok {
			out = append(out, ev)
		}
	}
	return out
}

func validateOne(data json.RawMessage) (Event, bool) {
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return Event{}, false
	}
	if r.EventID == nil || *r.EventID == "" {
		return Event{}, false
	}
	if r.TS == nil || *r.TS < 0 {
		return Event{}, false
	}
	if r.SessionID == nil || *r.SessionID == "" {
		return Event{}, false
	}
	if r.Route == nil || *r.Route == "" {
		return Event{}, false
	}
	if r.Action == nil || *r.Action == "" {
		return Event{}, false
	}

	ev := Event{
		EventID:   *r.EventID,
		TS:        *r.TS,
		SessionID: *r.SessionID,
		Route:     *r.Route,
		Action:    *r.Action,
		Metadata:  map[string]any{},
	}
	if r.UserID != nil {
		ev.UserID = *r.UserID
	}
	if len(r.Metadata) > 0 {
		var m map[string]any
		if err := json.Unmarshal(r.Metadata, &m); err == nil && m != nil {
			ev.Metadata = m
		}
	}
	return ev, true
}

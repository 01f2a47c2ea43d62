package model

import (
	"encoding/json"
	"strings"
)

// MessageKey is the server-assigned event name used for interval pushes.
type MessageKey string

func (k MessageKey) String() string { return string(k) }

// RandomMessage is an opaque payload returned for random requests.
type RandomMessage struct {
	Data json.RawMessage
}

// Decode unmarshals the payload into v.
func (m RandomMessage) Decode(v any) error {
	return json.Unmarshal(m.Data, v)
}

// Text returns the payload as a plain string when it is a JSON string,
// otherwise the raw JSON.
func (m RandomMessage) Text() string {
	var s string
	if err := json.Unmarshal(m.Data, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(m.Data))
}

// SearchResult is an opaque payload returned for search requests.
type SearchResult struct {
	Data json.RawMessage
}

// Decode unmarshals the payload into v.
func (r SearchResult) Decode(v any) error {
	return json.Unmarshal(r.Data, v)
}

package relayclient

import (
	"context"
	"encoding/json"
)

// Message is one frame received from the relay.
type Message struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// Decode unmarshals the whole frame into v
func (m *Message) Decode(v any) error {
	return json.Unmarshal(m.Raw, v)
}

// Field returns a top-level field as a string, formatting numbers as-is
func (m *Message) Field(key string) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(m.Raw, &fields); err != nil {
		return ""
	}
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// MessageHandler handles one relay message
type MessageHandler func(ctx context.Context, msg *Message) error

// OnConnectHandler runs after every successful (re)connect
type OnConnectHandler func(ctx context.Context) error

// Envelope is an outbound frame. Extra fields are merged at the top level.
type Envelope map[string]any

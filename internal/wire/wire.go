// Package wire defines the frame envelope and payload shapes shared by the
// realtime client and the hub. Every message on the socket is a single JSON
// frame: a named event plus an optional data object.
package wire

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
)

var ErrEmptyEvent = errors.New("frame has no event name")

// Frame is the envelope for every inbound and outbound message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode marshals an event and payload into a single frame.
// A nil payload produces a frame with no data field.
func Encode(event string, payload any) ([]byte, error) {
	frame := Frame{Event: event}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", event, err)
		}
		frame.Data = data
	}

	out, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("marshal %s frame: %w", event, err)
	}
	return out, nil
}

// Decode parses a raw frame. Frames without an event name are rejected so
// the caller never dispatches to the empty event.
func Decode(data []byte) (*Frame, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("unmarshal frame: %w", err)
	}
	if frame.Event == "" {
		return nil, ErrEmptyEvent
	}
	return &frame, nil
}

// Bind unmarshals the frame's data into v.
func (f *Frame) Bind(v any) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("%s frame has no data", f.Event)
	}
	return json.Unmarshal(f.Data, v)
}

// Auth is the handshake payload binding a connection to a logical identity.
type Auth struct {
	UserID string `json:"userId"`
	OrgID  string `json:"orgId"`
}

// Authenticated is the server's handshake verdict.
type Authenticated struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Subscription identifies one (entityType, entityId) tuple. The same shape
// is used for subscribe and unsubscribe.
type Subscription struct {
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
}

// Key returns the tuple in the canonical "type:id" form used for
// subscription routing on both sides.
func (s Subscription) Key() string {
	return s.EntityType + ":" + s.EntityID
}

// Update is the decoded head of a data:updated payload. The full payload
// carries arbitrary extra fields alongside these two; handlers receive the
// raw data so nothing is lost in transit.
type Update struct {
	EntityType string `json:"entityType"`
	Action     string `json:"action"`
	EntityID   string `json:"entityId,omitempty"`
}

// UpdatePayload flattens entity metadata and extra fields into the single
// object shape the clients expect: { entityType, action, entityId, ... }.
func UpdatePayload(entityType, action, entityID string, extra map[string]any) map[string]any {
	payload := make(map[string]any, len(extra)+3)
	for k, v := range extra {
		payload[k] = v
	}
	payload["entityType"] = entityType
	payload["action"] = action
	if entityID != "" {
		payload["entityId"] = entityID
	}
	return payload
}

package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// MaxMessageSize bounds both inbound and outbound frames.
const MaxMessageSize = 1 << 20 // 1MB

// ErrInvalidMessage is wrapped by every Decode failure.
var ErrInvalidMessage = errors.New("invalid message")

// Event is the envelope exchanged with game connections in both directions:
//
//	{ "name": string, "data"?: object }
//
// Decoded events always carry Data as map[string]any (nil when absent).
type Event struct {
	Name string `json:"name"`
	Data any    `json:"data,omitempty"`
}

// Envelope wraps a broadcast event with the id of the player that caused it.
type Envelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// Encode serializes ev to its JSON text frame.
func Encode(ev Event) ([]byte, error) {
	if ev.Name == "" {
		return nil, errors.New("event name is empty")
	}
	return marshal(ev)
}

// EncodeFrom serializes ev wrapped as {origin, event}.
func EncodeFrom(origin string, ev Event) ([]byte, error) {
	if ev.Name == "" {
		return nil, errors.New("event name is empty")
	}
	return marshal(Envelope{Origin: origin, Event: ev})
}

func marshal(v any) ([]byte, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	if len(out) > MaxMessageSize {
		return nil, fmt.Errorf("message size %d exceeds maximum %d bytes", len(out), MaxMessageSize)
	}
	return out, nil
}

// Decode parses an inbound frame. It rejects frames that are not JSON, not a
// JSON object, lack a non-empty string "name", or carry a non-object "data".
func Decode(data []byte) (Event, error) {
	if len(data) > MaxMessageSize {
		return Event{}, fmt.Errorf("%w: size %d exceeds maximum %d bytes", ErrInvalidMessage, len(data), MaxMessageSize)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return Event{}, fmt.Errorf("%w: message must be a JSON object", ErrInvalidMessage)
	}

	rawName, ok := fields["name"]
	if !ok {
		return Event{}, fmt.Errorf("%w: missing \"name\" field", ErrInvalidMessage)
	}
	var ev Event
	if err := json.Unmarshal(rawName, &ev.Name); err != nil {
		return Event{}, fmt.Errorf("%w: \"name\" must be a string", ErrInvalidMessage)
	}
	if ev.Name == "" {
		return Event{}, fmt.Errorf("%w: \"name\" must not be empty", ErrInvalidMessage)
	}

	if rawData, ok := fields["data"]; ok && !bytes.Equal(bytes.TrimSpace(rawData), []byte("null")) {
		var payload map[string]any
		if err := json.Unmarshal(rawData, &payload); err != nil {
			return Event{}, fmt.Errorf("%w: \"data\" must be a JSON object", ErrInvalidMessage)
		}
		ev.Data = payload
	}
	return ev, nil
}

// DecodeEnvelope parses an origin-wrapped broadcast frame.
func DecodeEnvelope(data []byte) (string, Event, error) {
	var env struct {
		Origin string          `json:"origin"`
		Event  json.RawMessage `json:"event"`
	}
	if err := json.Unmarshal(data, &env); err != nil || env.Event == nil {
		return "", Event{}, fmt.Errorf("%w: not an origin envelope", ErrInvalidMessage)
	}
	ev, err := Decode(env.Event)
	if err != nil {
		return "", Event{}, err
	}
	return env.Origin, ev, nil
}

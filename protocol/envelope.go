package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrEmptyEvent is returned when a frame carries no event name.
	ErrEmptyEvent = errors.New("protocol: empty event name")
	// ErrMalformedFrame is returned when a frame is not a JSON envelope.
	ErrMalformedFrame = errors.New("protocol: malformed frame")
)

// Envelope is the single framing unit on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into an envelope for event. A nil payload
// produces an empty object so peers can always decode Data.
func NewEnvelope(event string, payload any) (Envelope, error) {
	if event == "" {
		return Envelope{}, ErrEmptyEvent
	}
	if payload == nil {
		return Envelope{Event: event, Data: json.RawMessage(`{}`)}, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		if len(raw) == 0 {
			raw = json.RawMessage(`{}`)
		}
		return Envelope{Event: event, Data: raw}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("protocol: encode %s: %w", event, err)
	}
	return Envelope{Event: event, Data: data}, nil
}

// Encode returns the frame bytes for event and payload.
func Encode(event string, payload any) ([]byte, error) {
	env, err := NewEnvelope(event, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Decode parses one frame.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Event == "" {
		return Envelope{}, ErrEmptyEvent
	}
	return env, nil
}

// Bind decodes the envelope data into out. Missing data leaves out untouched.
func (e Envelope) Bind(out any) error {
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(e.Data, out); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformedFrame, e.Event, err)
	}
	return nil
}

package realtime

import (
	"encoding/json"
	"fmt"
)

// Reserved event names.
const (
	EventPing     = "ping"
	EventPong     = "pong"
	EventWildcard = "*"
)

// Envelope is the wire format for every frame exchanged with the server.
type Envelope struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// HeartbeatPayload is the data carried by ping frames.
type HeartbeatPayload struct {
	Timestamp int64 `json:"timestamp"`
}

func isLiveness(event string) bool {
	return event == EventPing || event == EventPong
}

func encodeEnvelope(event string, data any, timestamp int64) ([]byte, error) {
	env := Envelope{Event: event, Timestamp: timestamp}
	if data != nil {
		if raw, ok := data.(json.RawMessage); ok {
			env.Data = raw
		} else {
			b, err := json.Marshal(data)
			if err != nil {
				return nil, fmt.Errorf("encode %q data: %w", event, err)
			}
			env.Data = b
		}
	}
	return json.Marshal(env)
}

func decodeEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Event == "" {
		return env, fmt.Errorf("%w: missing event", ErrMalformedFrame)
	}
	return env, nil
}

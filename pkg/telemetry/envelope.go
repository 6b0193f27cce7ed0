package telemetry

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Envelope wraps a payload for buses that carry self-describing JSON.
// JSON payloads are embedded as is; any other payload becomes a JSON string.
type Envelope struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Timestamp int64             `json:"ts"` // Unix nanoseconds
	Meta      map[string]string `json:"meta,omitempty"`
	Value     json.RawMessage   `json:"value"`
}

// NewEnvelope creates an envelope with a fresh id.
func NewEnvelope(topic string, payload []byte, ts int64, meta map[string]string) (*Envelope, error) {
	value, err := encodeValue(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		ID:        uuid.NewString(),
		Topic:     topic,
		Timestamp: ts,
		Meta:      meta,
		Value:     value,
	}, nil
}

// NewFileEnvelope creates an envelope carrying file contents as base64.
func NewFileEnvelope(topic, filename string, data []byte, ts int64) (*Envelope, error) {
	encoded, err := json.Marshal(base64.StdEncoding.EncodeToString(data))
	if err != nil {
		return nil, err
	}
	return &Envelope{
		ID:        uuid.NewString(),
		Topic:     topic,
		Timestamp: ts,
		Meta: map[string]string{
			"filename": filename,
			"encoding": "base64",
		},
		Value: encoded,
	}, nil
}

// Bytes returns the JSON-encoded envelope.
func (e *Envelope) Bytes() ([]byte, error) {
	return json.Marshal(e)
}

// Payload returns the original payload bytes: raw JSON for JSON payloads,
// the unquoted string otherwise.
func (e *Envelope) Payload() ([]byte, error) {
	var s string
	if err := json.Unmarshal(e.Value, &s); err == nil {
		return []byte(s), nil
	}
	return e.Value, nil
}

// ParseEnvelope parses a JSON envelope.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to parse envelope: %w", err)
	}
	return &e, nil
}

func encodeValue(payload []byte) (json.RawMessage, error) {
	if len(payload) > 0 && json.Valid(payload) {
		return json.RawMessage(payload), nil
	}
	b, err := json.Marshal(string(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return b, nil
}

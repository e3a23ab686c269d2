package camsync

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ============================================================================
// Wire format
// ============================================================================

// Envelope is the wire format for every channel message.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Message types on the wire.
const (
	TypeStats       = "stats"
	TypeEvent       = "event"
	TypeDetections  = "detections"
	TypePersonAlert = "person_alert"
	TypePing        = "ping"
	TypePong        = "pong"
)

// Message is the decoded form of an inbound envelope. The concrete types are
// StatsMessage, EventMessage, DetectionsMessage, PersonAlertMessage, PingMessage
// and PongMessage.
type Message interface {
	MessageType() string
}

type StatsMessage struct {
	Telemetry TelemetrySnapshot
}

type EventMessage struct {
	Event EventRecord
}

type DetectionsMessage struct {
	Detections []Detection
}

// PersonAlertMessage is raised by the recorder when a person is confirmed.
type PersonAlertMessage struct {
	Timestamp  float64     `json:"timestamp"`
	Detections []Detection `json:"detections"`
}

type PingMessage struct {
	RequestID string `json:"request_id,omitempty"`
}

type PongMessage struct {
	RequestID string `json:"request_id,omitempty"`
}

func (StatsMessage) MessageType() string       { return TypeStats }
func (EventMessage) MessageType() string       { return TypeEvent }
func (DetectionsMessage) MessageType() string  { return TypeDetections }
func (PersonAlertMessage) MessageType() string { return TypePersonAlert }
func (PingMessage) MessageType() string        { return TypePing }
func (PongMessage) MessageType() string        { return TypePong }

// Event converts the alert into an event record for the event cache.
func (m PersonAlertMessage) Event() EventRecord {
	ev := EventRecord{Type: TypePersonAlert, Class: "person", Timestamp: m.Timestamp}
	for _, d := range m.Detections {
		if d.Confidence > ev.Confidence {
			ev.Confidence = d.Confidence
		}
	}
	if n := len(m.Detections); n > 1 {
		ev.Description = fmt.Sprintf("%d people", n)
	}
	return ev
}

// DecodeMessage decodes one envelope. Unknown tags yield ErrUnknownMessage.
// When data is absent the whole object is taken as the payload.
func DecodeMessage(raw []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	payload := []byte(env.Data)
	if len(bytes.TrimSpace(payload)) == 0 || bytes.Equal(payload, []byte("null")) {
		payload = raw
	}

	var (
		msg Message
		err error
	)
	switch env.Type {
	case TypeStats:
		var m StatsMessage
		err = decodePayload(env.Type, payload, &m.Telemetry)
		msg = m
	case TypeEvent:
		var m EventMessage
		err = decodePayload(env.Type, payload, &m.Event)
		msg = m
	case TypeDetections:
		var m DetectionsMessage
		// Detections arrive either as a bare array or wrapped in {"detections": [...]}.
		trimmed := bytes.TrimSpace(payload)
		if len(trimmed) > 0 && trimmed[0] == '[' {
			err = decodePayload(env.Type, trimmed, &m.Detections)
		} else {
			var wrapped struct {
				Detections []Detection `json:"detections"`
			}
			err = decodePayload(env.Type, payload, &wrapped)
			m.Detections = wrapped.Detections
		}
		msg = m
	case TypePersonAlert:
		var m PersonAlertMessage
		err = decodePayload(env.Type, payload, &m)
		msg = m
	case TypePing:
		var m PingMessage
		err = decodePayload(env.Type, payload, &m)
		msg = m
	case TypePong:
		var m PongMessage
		err = decodePayload(env.Type, payload, &m)
		msg = m
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, env.Type)
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func decodePayload(msgType string, payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode %s: %w", msgType, err)
	}
	return nil
}

// encodeCommand builds an outbound envelope.
func encodeCommand(msgType string, data any) ([]byte, error) {
	env := Envelope{Type: msgType}
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		env.Data = b
	}
	return json.Marshal(env)
}

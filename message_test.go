package camsync

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeMessage(t *testing.T) {
	t.Run("stats", func(t *testing.T) {
		m, err := DecodeMessage([]byte(`{"type":"stats","data":{"fps":29.7,"inference_ms":41.2,"frame_count":1200,"tracked_objects":3,"uptime":3600}}`))
		if err != nil {
			t.Fatal(err)
		}
		s := m.(StatsMessage).Telemetry
		want := TelemetrySnapshot{FPS: 29.7, InferenceLatencyMs: 41.2, FrameCount: 1200, TrackedObjectCount: 3, UptimeSeconds: 3600}
		if s != want {
			t.Errorf("telemetry = %+v, want %+v", s, want)
		}
	})

	t.Run("event with string id", func(t *testing.T) {
		m, err := DecodeMessage([]byte(`{"type":"event","data":{"id":"a1","type":"person_detected","class":"person","confidence":0.91,"timestamp":1714564800,"snapshot_path":"snap.jpg"}}`))
		if err != nil {
			t.Fatal(err)
		}
		ev := m.(EventMessage).Event
		if ev.ID != "a1" || ev.Type != "person_detected" || ev.SnapshotRef != "snap.jpg" {
			t.Errorf("event = %+v", ev)
		}
	})

	t.Run("detections bare and wrapped", func(t *testing.T) {
		for _, raw := range []string{
			`{"type":"detections","data":[{"track_id":4,"class":"dog","confidence":0.7}]}`,
			`{"type":"detections","data":{"detections":[{"track_id":4,"class":"dog","confidence":0.7}]}}`,
		} {
			m, err := DecodeMessage([]byte(raw))
			if err != nil {
				t.Fatalf("%s: %v", raw, err)
			}
			d := m.(DetectionsMessage).Detections
			if len(d) != 1 || d[0].TrackID != 4 || d[0].Class != "dog" {
				t.Errorf("%s: detections = %+v", raw, d)
			}
		}
	})

	t.Run("person alert without data wrapper", func(t *testing.T) {
		m, err := DecodeMessage([]byte(`{"type":"person_alert","timestamp":1714564800.25,"detections":[{"class":"person","confidence":0.6},{"class":"person","confidence":0.8}]}`))
		if err != nil {
			t.Fatal(err)
		}
		alert := m.(PersonAlertMessage)
		ev := alert.Event()
		if ev.Type != TypePersonAlert || ev.Class != "person" || ev.Confidence != 0.8 || ev.Description != "2 people" {
			t.Errorf("alert event = %+v", ev)
		}
		if ev.Key() == "" {
			t.Error("alert event has no identity")
		}
	})

	t.Run("heartbeat types", func(t *testing.T) {
		m, err := DecodeMessage([]byte(`{"type":"pong"}`))
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := m.(PongMessage); !ok {
			t.Errorf("pong decoded as %T", m)
		}
		m, err = DecodeMessage([]byte(`{"type":"ping","data":{"request_id":"r1"}}`))
		if err != nil || m.(PingMessage).RequestID != "r1" {
			t.Errorf("ping = %#v, %v", m, err)
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := DecodeMessage([]byte(`{"type":"firmware_update","data":{}}`))
		if !errors.Is(err, ErrUnknownMessage) {
			t.Errorf("err = %v, want ErrUnknownMessage", err)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		if _, err := DecodeMessage([]byte(`{"type":"stats","data":{"fps":"fast"}}`)); err == nil {
			t.Error("expected decode error")
		}
		if _, err := DecodeMessage([]byte(`nope`)); err == nil {
			t.Error("expected envelope error")
		}
	})
}

func TestEncodeCommand(t *testing.T) {
	b, err := encodeCommand(TypePing, PingMessage{RequestID: "abc"})
	if err != nil {
		t.Fatal(err)
	}
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		t.Fatal(err)
	}
	if env.Type != "ping" || string(env.Data) != `{"request_id":"abc"}` {
		t.Errorf("envelope = %s", b)
	}

	b, _ = encodeCommand(TypePong, nil)
	if string(b) != `{"type":"pong"}` {
		t.Errorf("bare command = %s", b)
	}
}

package camsync

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakePublisher struct {
	mu   sync.Mutex
	fail error
	msgs map[string][][]byte
	// block, when set, holds every Publish until closed.
	block chan struct{}
}

func (p *fakePublisher) Publish(topic string, payload []byte) error {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	if p.msgs == nil {
		p.msgs = make(map[string][][]byte)
	}
	p.msgs[topic] = append(p.msgs[topic], payload)
	return nil
}

func (p *fakePublisher) last(topic string) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.msgs[topic]); n > 0 {
		return p.msgs[topic][n-1]
	}
	return nil
}

func TestMirror(t *testing.T) {
	h := newSessionHarness(t, Config{})
	pub := &fakePublisher{}
	m := NewMirror(pub, "cam/front/", zerolog.Nop())
	t.Cleanup(m.Close)
	m.Attach(h.s)

	h.s.Start(context.Background())
	conn := h.dialer.next(t)
	h.waitState(t, StateOpen)

	waitFor(t, "connected status", func() bool {
		var st struct{ Status string }
		return json.Unmarshal(pub.last("cam/front/status"), &st) == nil && st.Status == "Connected"
	})

	conn.push(`{"type":"stats","data":{"fps":12,"inference_ms":30,"frame_count":5,"tracked_objects":1,"uptime":9}}`)
	conn.push(`{"type":"event","data":{"id":"push-1","type":"person_detected","class":"person","confidence":0.8,"timestamp":1714564900}}`)
	conn.push(`{"type":"person_alert","timestamp":1714564901,"detections":[{"class":"person","confidence":0.7}]}`)

	waitFor(t, "mirrored alert", func() bool { return m.Stats().Published["cam/front/alerts"] == 1 })

	var tel TelemetrySnapshot
	if err := json.Unmarshal(pub.last("cam/front/telemetry"), &tel); err != nil || tel.FPS != 12 {
		t.Errorf("telemetry = %+v, %v", tel, err)
	}
	var ev EventRecord
	if err := json.Unmarshal(pub.last("cam/front/events"), &ev); err != nil || ev.ID != "push-1" {
		t.Errorf("event = %+v, %v", ev, err)
	}
	if st := m.Stats(); st.Errors != 0 || st.Published["cam/front/alerts"] != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestMirrorPublishErrors(t *testing.T) {
	pub := &fakePublisher{fail: errors.New("broker down")}
	m := NewMirror(pub, "cam", zerolog.Nop())
	m.status(Status{Indicator: IndicatorReconnecting, Attempt: 2})
	m.Close()
	if st := m.Stats(); st.Errors != 1 || len(st.Published) != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestMirrorSlowBroker(t *testing.T) {
	pub := &fakePublisher{block: make(chan struct{})}
	m := NewMirror(pub, "cam", zerolog.Nop())

	// The first message occupies the publisher; the rest fill the queue and overflow.
	returned := make(chan struct{})
	go func() {
		for i := 0; i < mirrorQueueSize+10; i++ {
			m.status(Status{Indicator: IndicatorReconnecting, Attempt: i})
		}
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("status handler blocked on a stalled broker")
	}

	close(pub.block)
	m.Close()
	st := m.Stats()
	if st.Dropped == 0 {
		t.Error("no drops reported with a stalled broker")
	}
	if got := st.Published["cam/status"] + st.Dropped; got != mirrorQueueSize+10 {
		t.Errorf("published+dropped = %d, want %d", got, mirrorQueueSize+10)
	}

	// Messages after Close are ignored.
	m.status(Status{Indicator: IndicatorConnected})
	if m.Stats().Published["cam/status"] != st.Published["cam/status"] {
		t.Error("published after Close")
	}
}

package camsync

import (
	"context"
	"errors"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// ============================================================================
// Test Helpers
// ============================================================================

type sessionHarness struct {
	clock  *fakeClock
	dialer *fakeDialer
	api    *requestLog
	store  *MemoryStore
	s      *Session
}

func newSessionHarness(t *testing.T, cfg Config) *sessionHarness {
	t.Helper()
	h := &sessionHarness{
		clock:  newFakeClock(),
		dialer: newFakeDialer(),
		api:    &requestLog{},
		store:  NewMemoryStore(),
	}
	srv := httptest.NewServer(deviceAPI(t, h.api))
	t.Cleanup(srv.Close)

	u, _ := url.Parse(srv.URL)
	port, _ := strconv.Atoi(u.Port())
	target := ConnectionTarget{Host: u.Hostname(), Port: port}

	h.s = NewSession(target, cfg,
		WithLogger(zerolog.Nop()),
		WithMetrics(NewMetrics()),
		WithStore(h.store),
		WithSessionDialer(h.dialer),
		WithSessionClock(h.clock),
		WithSessionHTTPClient(srv.Client()),
	)
	t.Cleanup(h.s.Stop)
	return h
}

func (h *sessionHarness) waitState(t *testing.T, want ChannelState) {
	t.Helper()
	waitFor(t, "state "+string(want), func() bool { return h.s.ChannelState() == want })
}

// ============================================================================
// Tests
// ============================================================================

func TestSessionStartStop(t *testing.T) {
	h := newSessionHarness(t, Config{})
	var mu sync.Mutex
	var media []string
	h.s.OnMedia(func(u string) {
		mu.Lock()
		media = append(media, u)
		mu.Unlock()
	})

	h.s.Start(context.Background())
	conn := h.dialer.next(t)
	h.waitState(t, StateOpen)

	if st := h.s.Status(); st.Indicator != IndicatorConnected {
		t.Errorf("status = %s", st)
	}
	if target, ok := LoadTarget(h.store); !ok || target != h.s.Target() {
		t.Errorf("persisted target = %+v %v", target, ok)
	}
	waitFor(t, "snapshot pull on open", func() bool {
		return h.api.count("/api/events") == 1 && h.api.count("/api/settings") == 1
	})
	mu.Lock()
	if len(media) == 0 || !strings.Contains(media[0], "/api/stream?t=") {
		t.Errorf("media = %v", media)
	}
	mu.Unlock()

	h.s.Stop()
	if h.s.ChannelState() != StateDisconnected {
		t.Fatalf("state after Stop = %s", h.s.ChannelState())
	}
	// A close reported by the transport after Stop must not bring the channel back.
	conn.Close(CloseAbnormal, "late")
	h.clock.Advance(2 * time.Minute)
	time.Sleep(20 * time.Millisecond)
	if n := h.dialer.Dials(); n != 1 {
		t.Errorf("dials after Stop = %d, want 1", n)
	}
	if h.s.ChannelState() != StateDisconnected {
		t.Errorf("state = %s", h.s.ChannelState())
	}
	if n := len(h.clock.Active()); n != 0 {
		t.Errorf("timers left after Stop = %d", n)
	}
}

func TestSessionRefreshRateLimited(t *testing.T) {
	h := newSessionHarness(t, Config{RefreshRate: 1, RefreshBurst: 2})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := h.s.Refresh(ctx); err != nil {
			t.Fatalf("refresh %d: %v", i, err)
		}
	}
	if err := h.s.Refresh(ctx); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if n := h.api.count("/api/events"); n != 2 {
		t.Errorf("event pulls = %d, want 2", n)
	}
	h.clock.Advance(time.Second)
	if err := h.s.Refresh(ctx); err != nil {
		t.Errorf("refresh after interval: %v", err)
	}
}

func TestSessionFallbackPoll(t *testing.T) {
	cfg := Config{FallbackPollInterval: 10 * time.Second, SystemPollInterval: 10 * time.Second}

	t.Run("skipped while open", func(t *testing.T) {
		h := newSessionHarness(t, cfg)
		h.s.Start(context.Background())
		h.dialer.next(t)
		h.waitState(t, StateOpen)

		h.clock.Advance(10 * time.Second)
		if n := h.api.count("/api/stats"); n != 0 {
			t.Errorf("telemetry polls while open = %d", n)
		}
		if n := h.api.count("/api/system"); n != 1 {
			t.Errorf("system polls = %d, want 1", n)
		}
	})

	t.Run("runs while reconnecting", func(t *testing.T) {
		h := newSessionHarness(t, cfg)
		h.dialer.setFail(errors.New("connection refused"))
		h.s.Start(context.Background())
		h.waitState(t, StateReconnecting)

		h.clock.Advance(10 * time.Second)
		if n := h.api.count("/api/stats"); n != 1 {
			t.Errorf("telemetry polls = %d, want 1", n)
		}
		if _, ok := h.s.State().Telemetry(); !ok {
			t.Error("polled telemetry not cached")
		}
	})
}

func TestSessionLifecycle(t *testing.T) {
	cfg := Config{FallbackPollInterval: 10 * time.Second, SystemPollInterval: 10 * time.Second}
	h := newSessionHarness(t, cfg)
	h.dialer.setFail(errors.New("connection refused"))
	h.s.Start(context.Background())
	h.waitState(t, StateReconnecting)

	h.s.Lifecycle().Handle(SignalSuspend)
	h.clock.Advance(30 * time.Second)
	if n := h.api.count("/api/stats") + h.api.count("/api/system"); n != 0 {
		t.Errorf("polls while suspended = %d", n)
	}
	if h.s.ChannelState() == StateDisconnected {
		t.Error("suspend closed the channel")
	}

	// Reconnecting means no dial is in flight.
	h.waitState(t, StateReconnecting)
	before := h.s.Media()
	dials := h.dialer.Dials()
	h.dialer.setFail(nil)
	h.s.Lifecycle().Handle(SignalResume)
	h.dialer.next(t)
	h.waitState(t, StateOpen)
	if h.dialer.Dials() != dials+1 {
		t.Errorf("dials = %d, want %d", h.dialer.Dials(), dials+1)
	}
	if h.s.Media() == before {
		t.Error("media reference not refreshed on resume")
	}

	h.clock.Advance(10 * time.Second)
	if n := h.api.count("/api/system"); n != 1 {
		t.Errorf("system polls after resume = %d, want 1", n)
	}
}

func TestSessionPushToken(t *testing.T) {
	h := newSessionHarness(t, Config{DeviceName: "hall"})
	if res := h.s.SetPushToken(context.Background(), "tok"); !res.Deferred {
		t.Fatalf("token before start = %+v", res)
	}
	h.s.Start(context.Background())
	h.dialer.next(t)
	waitFor(t, "registration", func() bool {
		return h.api.count("/api/notifications/register") == 1
	})
	if v, _ := h.store.Get(KeyPushToken); v != "tok" {
		t.Errorf("stored token = %q", v)
	}
}

func TestSessionTokenAfterQuickDrop(t *testing.T) {
	for i := 0; i < 25; i++ {
		h := newSessionHarness(t, Config{})
		reconnecting := make(chan struct{}, 1)
		h.s.Channel().OnStatus(func(st Status) {
			if st.Indicator == IndicatorReconnecting {
				select {
				case reconnecting <- struct{}{}:
				default:
				}
			}
		})

		h.s.Start(context.Background())
		h.dialer.next(t).Close(CloseAbnormal, "dropped")
		// Status is dispatched after the close handlers, in order.
		select {
		case <-reconnecting:
		case <-time.After(2 * time.Second):
			t.Fatal("channel never reported Reconnecting")
		}

		if res := h.s.SetPushToken(context.Background(), "tok"); !res.Deferred {
			t.Fatalf("run %d: SetPushToken while reconnecting = %+v, want deferred", i, res)
		}
		if n := h.api.count("/api/notifications/register"); n != 0 {
			t.Fatalf("run %d: registration attempted while channel not open", i)
		}
		h.s.Stop()
	}
}

func TestSessionPreferences(t *testing.T) {
	h := newSessionHarness(t, Config{})
	if err := h.s.SetPreference("overlays", "off"); err != nil {
		t.Fatal(err)
	}
	if v, ok := h.s.Preference("overlays"); !ok || v != "off" {
		t.Errorf("preference = %q %v", v, ok)
	}
	if _, ok := h.store.Get("prefs.overlays"); !ok {
		t.Error("preference not namespaced")
	}
}

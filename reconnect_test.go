package camsync

import (
	"testing"
	"time"
)

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: 3 * time.Second, Max: 30 * time.Second}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 3 * time.Second},
		{1, 3 * time.Second},
		{2, 6 * time.Second},
		{3, 12 * time.Second},
		{4, 24 * time.Second},
		{5, 30 * time.Second},
		{6, 30 * time.Second},
		{64, 30 * time.Second},
	}
	for _, tc := range cases {
		if got := b.Delay(tc.attempt); got != tc.want {
			t.Errorf("Delay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestRetryTimer(t *testing.T) {
	t.Run("schedule replaces pending", func(t *testing.T) {
		clock := newFakeClock()
		r := newRetryTimer(clock)
		var fired []string
		r.Schedule(3*time.Second, func() { fired = append(fired, "first") })
		r.Schedule(6*time.Second, func() { fired = append(fired, "second") })

		if n := len(clock.Active()); n != 1 {
			t.Fatalf("armed timers = %d, want 1", n)
		}
		clock.Advance(10 * time.Second)
		if len(fired) != 1 || fired[0] != "second" {
			t.Fatalf("fired = %v", fired)
		}
		if r.Pending() {
			t.Error("still pending after firing")
		}
	})

	t.Run("stop disarms", func(t *testing.T) {
		clock := newFakeClock()
		r := newRetryTimer(clock)
		fired := false
		r.Schedule(time.Second, func() { fired = true })
		if !r.Pending() {
			t.Fatal("expected pending")
		}
		r.Stop()
		clock.Advance(time.Minute)
		if fired || r.Pending() {
			t.Error("stopped retry fired")
		}
	})
}

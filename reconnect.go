package camsync

import (
	"sync"
	"time"
)

// ============================================================================
// Backoff
// ============================================================================

// Backoff computes min(Base * 2^(attempt-1), Max).
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait before retry number attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Max || d <= 0 {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

// ============================================================================
// Retry timer
// ============================================================================

// retryTimer keeps at most one pending retry. Scheduling replaces the previous
// timer, and a callback that lost the race with Stop or Schedule does nothing.
type retryTimer struct {
	clock Clock

	mu    sync.Mutex
	timer Timer
	seq   uint64
}

func newRetryTimer(clock Clock) *retryTimer {
	return &retryTimer{clock: clock}
}

// Schedule cancels any pending retry and arms a new one.
func (r *retryTimer) Schedule(d time.Duration, fire func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
	r.seq++
	seq := r.seq
	r.timer = r.clock.AfterFunc(d, func() {
		r.mu.Lock()
		if r.seq != seq || r.timer == nil {
			r.mu.Unlock()
			return
		}
		r.timer = nil
		r.mu.Unlock()
		fire()
	})
}

// Stop disarms the pending retry, if any.
func (r *retryTimer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.seq++
}

// Pending reports whether a retry is armed.
func (r *retryTimer) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timer != nil
}

package camsync

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Signal is an application lifecycle notification delivered by an adapter
// (platform hooks, OS signals).
type Signal int

const (
	SignalResume Signal = iota
	SignalSuspend
)

func (s Signal) String() string {
	if s == SignalSuspend {
		return "suspend"
	}
	return "resume"
}

// Phase is the application visibility.
type Phase string

const (
	Foreground Phase = "foreground"
	Background Phase = "background"
)

// LifecycleHost is the session surface the coordinator drives.
type LifecycleHost interface {
	ChannelState() ChannelState
	Reopen()
	RefreshMedia()
	SetVisible(visible bool)
}

// Lifecycle reacts to foreground and background transitions. Resume refreshes the
// media reference and reopens the channel if it is not open; resumes within the
// debounce window of the last handled one are dropped. Suspend never tears the
// channel down.
type Lifecycle struct {
	host     LifecycleHost
	clock    Clock
	debounce time.Duration
	log      zerolog.Logger

	mu         sync.Mutex
	phase      Phase
	lastResume time.Time
}

func NewLifecycle(host LifecycleHost, clock Clock, debounce time.Duration, log zerolog.Logger) *Lifecycle {
	if clock == nil {
		clock = SystemClock
	}
	return &Lifecycle{
		host:     host,
		clock:    clock,
		debounce: debounce,
		log:      log,
		phase:    Foreground,
	}
}

// Phase returns the current visibility.
func (l *Lifecycle) Phase() Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phase
}

// Handle applies one signal and reports whether it caused any work.
func (l *Lifecycle) Handle(sig Signal) bool {
	switch sig {
	case SignalResume:
		return l.resume()
	case SignalSuspend:
		return l.suspend()
	}
	return false
}

func (l *Lifecycle) resume() bool {
	now := l.clock.Now()
	l.mu.Lock()
	if !l.lastResume.IsZero() && now.Sub(l.lastResume) < l.debounce {
		l.mu.Unlock()
		l.log.Debug().Msg("resume debounced")
		return false
	}
	l.lastResume = now
	l.phase = Foreground
	l.mu.Unlock()

	l.host.SetVisible(true)
	l.host.RefreshMedia()
	state := l.host.ChannelState()
	if state != StateOpen {
		l.log.Info().Str("state", string(state)).Msg("resumed with channel down, reopening")
		l.host.Reopen()
	}
	return true
}

func (l *Lifecycle) suspend() bool {
	l.mu.Lock()
	if l.phase == Background {
		l.mu.Unlock()
		return false
	}
	l.phase = Background
	l.mu.Unlock()

	l.log.Debug().Msg("suspended")
	l.host.SetVisible(false)
	return true
}

package camsync

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ============================================================================
// Options
// ============================================================================

// Option configures a Session.
type Option func(*Session)

func WithLogger(l zerolog.Logger) Option { return func(s *Session) { s.log = l } }

func WithMetrics(m *Metrics) Option { return func(s *Session) { s.metrics = m } }

// WithStore sets where the target, push token and preferences are persisted.
func WithStore(st Store) Option { return func(s *Session) { s.store = st } }

func WithSessionDialer(d Dialer) Option { return func(s *Session) { s.dialer = d } }

func WithSessionClock(c Clock) Option { return func(s *Session) { s.clock = c } }

func WithSessionHTTPClient(c *http.Client) Option { return func(s *Session) { s.httpClient = c } }

// ============================================================================
// Session
// ============================================================================

// Session is the composition root for one device connection. It owns exactly one
// Channel and hands explicit references to the reconciler, registrar and
// lifecycle coordinator.
type Session struct {
	target     ConnectionTarget
	cfg        Config
	log        zerolog.Logger
	metrics    *Metrics
	store      Store
	clock      Clock
	dialer     Dialer
	httpClient *http.Client

	client    *Client
	channel   *Channel
	state     *Reconciler
	registrar *Registrar
	lifecycle *Lifecycle
	limiter   *rate.Limiter

	mu         sync.Mutex
	started    bool
	visible    bool
	ctx        context.Context
	cancel     context.CancelFunc
	fallback   Timer
	systemPoll Timer
	pollSeq    uint64
	media      string
	onMedia    []func(string)
}

// NewSession wires a session for target. Nothing touches the network until Start.
func NewSession(target ConnectionTarget, cfg Config, opts ...Option) *Session {
	cfg.defaults()
	s := &Session{
		target:  target,
		cfg:     cfg,
		log:     zerolog.Nop(),
		clock:   SystemClock,
		dialer:  WebSocketDialer{},
		visible: true,
		ctx:     context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = NewMemoryStore()
	}

	clientOpts := []ClientOption{WithClientLogger(s.log)}
	if s.httpClient != nil {
		clientOpts = append(clientOpts, WithHTTPClient(s.httpClient))
	}
	s.client = NewClient(target, clientOpts...)
	s.channel = NewChannel(cfg,
		WithDialer(s.dialer),
		WithClock(s.clock),
		WithChannelLogger(s.log.With().Str("component", "channel").Logger()),
		WithChannelMetrics(s.metrics),
	)
	s.state = NewReconciler(s.client, cfg, s.log.With().Str("component", "reconciler").Logger(), s.metrics)
	s.registrar = NewRegistrar(s.client, s.store, cfg, s.log.With().Str("component", "registrar").Logger(), s.metrics)
	s.lifecycle = NewLifecycle(s, s.clock, cfg.ResumeDebounce, s.log.With().Str("component", "lifecycle").Logger())
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RefreshRate), cfg.RefreshBurst)

	s.channel.OnMessage(s.state.Apply)
	s.channel.OnOpened(s.opened)
	s.channel.OnClosed(func(code int, reason string) {
		s.registrar.Closed()
	})
	s.channel.OnError(func(err error) {
		s.log.Debug().Err(err).Msg("channel error")
	})
	return s
}

func (s *Session) Target() ConnectionTarget { return s.target }
func (s *Session) Client() *Client          { return s.client }
func (s *Session) Channel() *Channel        { return s.channel }
func (s *Session) State() *Reconciler       { return s.state }
func (s *Session) Registrar() *Registrar    { return s.registrar }
func (s *Session) Lifecycle() *Lifecycle    { return s.lifecycle }
func (s *Session) Status() Status           { return s.channel.Status() }

// Start persists the target, opens the channel and starts the pollers.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	if s.visible {
		s.startPollersLocked()
	}
	s.mu.Unlock()

	if err := SaveTarget(s.store, s.target); err != nil {
		s.log.Warn().Err(err).Msg("persist target")
	}
	s.log.Info().Str("target", s.target.String()).Msg("session starting")
	s.channel.Open(s.target)
	s.RefreshMedia()
}

// Stop cancels every timer and closes the channel intentionally. No reconnection
// happens afterwards, even if a late close event fires.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.stopPollersLocked()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.channel.Close(true)
	s.registrar.Closed()
	s.log.Info().Msg("session stopped")
}

func (s *Session) running() (context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx, s.started
}

func (s *Session) opened() {
	ctx, ok := s.running()
	if !ok {
		return
	}
	s.RefreshMedia()
	// Open and close handlers share the dispatch goroutine; only the HTTP call leaves it.
	s.registrar.MarkOpen()
	go func() {
		if res := s.registrar.Register(ctx); res.Err != nil && !res.Deferred {
			s.log.Debug().Err(res.Err).Msg("registration on open")
		}
	}()
	go func() {
		if err := s.state.RefreshAll(ctx); err != nil {
			s.log.Debug().Err(err).Msg("snapshot refresh on open")
		}
	}()
}

// SetPushToken hands a freshly issued push token to the registrar.
func (s *Session) SetPushToken(ctx context.Context, token string) Result {
	return s.registrar.SetToken(ctx, token)
}

// Refresh pulls every snapshot. Calls beyond the configured rate fail with
// ErrRateLimited without touching the network.
func (s *Session) Refresh(ctx context.Context) error {
	if !s.limiter.AllowN(s.clock.Now(), 1) {
		return ErrRateLimited
	}
	return s.state.RefreshAll(ctx)
}

// Preference reads a display preference.
func (s *Session) Preference(name string) (string, bool) {
	return s.store.Get(PrefsPrefix + name)
}

func (s *Session) SetPreference(name, value string) error {
	return s.store.Set(PrefsPrefix+name, value)
}

// ----------------------------------------------------------------------------
// LifecycleHost
// ----------------------------------------------------------------------------

func (s *Session) ChannelState() ChannelState { return s.channel.State() }

// Reopen re-arms the channel if the session is running.
func (s *Session) Reopen() {
	if _, ok := s.running(); ok {
		s.channel.Open(s.target)
	}
}

// RefreshMedia replaces the live stream reference so a stale frame is not shown.
func (s *Session) RefreshMedia() {
	url := s.client.StreamURL(s.clock.Now())
	s.mu.Lock()
	s.media = url
	handlers := append([]func(string){}, s.onMedia...)
	s.mu.Unlock()
	for _, h := range handlers {
		h(url)
	}
}

// Media returns the current stream reference.
func (s *Session) Media() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.media
}

// OnMedia registers a handler for stream reference changes.
func (s *Session) OnMedia(h func(url string)) {
	s.mu.Lock()
	s.onMedia = append(s.onMedia, h)
	s.mu.Unlock()
}

// SetVisible pauses or resumes the pollers. The channel is left alone.
func (s *Session) SetVisible(visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.visible == visible {
		return
	}
	s.visible = visible
	if !s.started {
		return
	}
	if visible {
		s.startPollersLocked()
	} else {
		s.stopPollersLocked()
	}
}

// ----------------------------------------------------------------------------
// Pollers
// ----------------------------------------------------------------------------

func (s *Session) startPollersLocked() {
	s.stopPollersLocked()
	seq := s.pollSeq
	s.fallback = s.clock.AfterFunc(s.cfg.FallbackPollInterval, func() { s.pollTelemetry(seq) })
	s.systemPoll = s.clock.AfterFunc(s.cfg.SystemPollInterval, func() { s.pollSystem(seq) })
}

func (s *Session) stopPollersLocked() {
	s.pollSeq++
	if s.fallback != nil {
		s.fallback.Stop()
		s.fallback = nil
	}
	if s.systemPoll != nil {
		s.systemPoll.Stop()
		s.systemPoll = nil
	}
}

// rearm schedules the next tick and returns the session context, or false when
// the poller generation was cancelled.
func (s *Session) rearm(seq uint64, slot *Timer, d time.Duration, next func()) (context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.pollSeq || !s.started {
		return nil, false
	}
	*slot = s.clock.AfterFunc(d, next)
	return s.ctx, true
}

// pollTelemetry is the fallback for when push is not delivering stats.
func (s *Session) pollTelemetry(seq uint64) {
	ctx, ok := s.rearm(seq, &s.fallback, s.cfg.FallbackPollInterval, func() { s.pollTelemetry(seq) })
	if !ok || s.channel.State() == StateOpen {
		return
	}
	_ = s.state.RefreshTelemetry(ctx)
}

func (s *Session) pollSystem(seq uint64) {
	ctx, ok := s.rearm(seq, &s.systemPoll, s.cfg.SystemPollInterval, func() { s.pollSystem(seq) })
	if !ok {
		return
	}
	_ = s.state.RefreshSystem(ctx)
	_ = s.state.RefreshSummary(ctx)
}

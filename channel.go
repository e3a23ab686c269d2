package camsync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const sendBuffer = 16

// ============================================================================
// Event dispatch
// ============================================================================

// dispatchQueue runs handlers one at a time in the order they were queued.
// Handlers may call back into the Channel.
type dispatchQueue struct {
	mu      sync.Mutex
	items   []func()
	running bool
}

func (q *dispatchQueue) push(fns ...func()) {
	q.mu.Lock()
	q.items = append(q.items, fns...)
	if q.running || len(q.items) == 0 {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()
	go q.drain()
}

func (q *dispatchQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		f := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		q.mu.Unlock()
		f()
	}
}

type channelListeners struct {
	mu           sync.RWMutex
	opened       []func()
	message      []func(Message)
	closed       []func(code int, reason string)
	errs         []func(error)
	reconnecting []func(attempt int, delay time.Duration)
	status       []func(Status)
}

// ============================================================================
// Channel
// ============================================================================

// ChannelOption configures a Channel.
type ChannelOption func(*Channel)

func WithDialer(d Dialer) ChannelOption { return func(c *Channel) { c.dialer = d } }

func WithClock(clock Clock) ChannelOption { return func(c *Channel) { c.clock = clock } }

func WithChannelLogger(l zerolog.Logger) ChannelOption { return func(c *Channel) { c.log = l } }

func WithChannelMetrics(m *Metrics) ChannelOption { return func(c *Channel) { c.metrics = m } }

// Channel owns the single duplex connection of a session. It sends liveness probes,
// detects silent death and reconnects with capped exponential backoff for as long as
// the caller intends to stay connected. No method blocks on the network.
type Channel struct {
	cfg       Config
	dialer    Dialer
	clock     Clock
	backoff   Backoff
	log       zerolog.Logger
	metrics   *Metrics
	listeners channelListeners
	queue     dispatchQueue
	retry     *retryTimer

	mu       sync.Mutex
	target   ConnectionTarget
	state    ChannelState
	intended bool
	attempts int
	gen      uint64
	conn     Conn
	out      chan []byte
	cancel   context.CancelFunc
	lastSeen time.Time
	hb       Timer
	hbSeq    uint64
}

// NewChannel creates a disconnected channel.
func NewChannel(cfg Config, opts ...ChannelOption) *Channel {
	cfg.defaults()
	c := &Channel{
		cfg:    cfg,
		dialer: WebSocketDialer{},
		clock:  SystemClock,
		log:    zerolog.Nop(),
		state:  StateDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.backoff = Backoff{Base: cfg.ReconnectBaseDelay, Max: cfg.ReconnectMaxDelay}
	c.retry = newRetryTimer(c.clock)
	return c
}

// OnOpened registers a handler for a confirmed connection.
func (c *Channel) OnOpened(h func()) {
	c.listeners.mu.Lock()
	c.listeners.opened = append(c.listeners.opened, h)
	c.listeners.mu.Unlock()
}

// OnMessage registers a handler for decoded inbound messages. Heartbeat traffic
// and unknown types are never delivered.
func (c *Channel) OnMessage(h func(Message)) {
	c.listeners.mu.Lock()
	c.listeners.message = append(c.listeners.message, h)
	c.listeners.mu.Unlock()
}

// OnClosed registers a handler for connection closure.
func (c *Channel) OnClosed(h func(code int, reason string)) {
	c.listeners.mu.Lock()
	c.listeners.closed = append(c.listeners.closed, h)
	c.listeners.mu.Unlock()
}

// OnError registers a handler for transport errors. They are not fatal; a close follows.
func (c *Channel) OnError(h func(error)) {
	c.listeners.mu.Lock()
	c.listeners.errs = append(c.listeners.errs, h)
	c.listeners.mu.Unlock()
}

// OnReconnecting registers a handler called each time a retry is scheduled.
func (c *Channel) OnReconnecting(h func(attempt int, delay time.Duration)) {
	c.listeners.mu.Lock()
	c.listeners.reconnecting = append(c.listeners.reconnecting, h)
	c.listeners.mu.Unlock()
}

// OnStatus registers a handler for indicator changes.
func (c *Channel) OnStatus(h func(Status)) {
	c.listeners.mu.Lock()
	c.listeners.status = append(c.listeners.status, h)
	c.listeners.mu.Unlock()
}

// State returns the current channel state.
func (c *Channel) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the reconnect counter.
func (c *Channel) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Status returns the user-facing indicator.
func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

// Target returns the address the channel was last opened against.
func (c *Channel) Target() ConnectionTarget {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

func (c *Channel) statusLocked() Status {
	switch {
	case c.state == StateOpen:
		return Status{Indicator: IndicatorConnected}
	case c.intended && c.attempts > 0:
		return Status{Indicator: IndicatorReconnecting, Attempt: c.attempts}
	default:
		return Status{Indicator: IndicatorDisconnected}
	}
}

// Open records the intent to stay connected and starts connecting. A pending retry
// is cancelled and replaced by an immediate attempt. Open on an Open or Connecting
// channel only re-arms the intent.
func (c *Channel) Open(target ConnectionTarget) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.intended = true
	c.target = target
	if c.hb == nil {
		c.armHeartbeatLocked()
	}
	if c.state == StateOpen || c.state == StateConnecting {
		return
	}
	c.retry.Stop()
	c.connectLocked()
}

// Close tears the connection down. An intentional close disarms reconnection until
// the next Open; otherwise the reconnection policy takes over as for any failure.
func (c *Channel) Close(intentional bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !intentional {
		if c.state == StateOpen || c.state == StateConnecting {
			c.abandonLocked("closed by client")
		}
		return
	}

	c.intended = false
	c.retry.Stop()
	c.stopHeartbeatLocked()
	wasActive := c.state != StateDisconnected
	conn := c.conn
	c.gen++
	c.detachLocked()
	c.attempts = 0
	c.setStateLocked(StateDisconnected)
	if conn != nil {
		go conn.Close(CloseNormal, "client disconnect")
	}
	if wasActive {
		c.log.Info().Msg("channel closed by client")
		c.pushClosed(CloseNormal, "client disconnect")
	}
}

// Send queues one outbound message. It fails with ErrNotOpen unless the channel is Open.
func (c *Channel) Send(msgType string, data any) error {
	b, err := encodeCommand(msgType, data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enqueueLocked(b)
}

func (c *Channel) enqueueLocked(b []byte) error {
	if c.state != StateOpen || c.out == nil {
		return ErrNotOpen
	}
	select {
	case c.out <- b:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// ----------------------------------------------------------------------------
// Connection lifecycle
// ----------------------------------------------------------------------------

func (c *Channel) connectLocked() {
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.setStateLocked(StateConnecting)
	c.log.Info().Str("target", c.target.String()).Int("attempt", c.attempts).Msg("channel connecting")
	go c.dial(ctx, gen, c.target.ChannelURL())
}

func (c *Channel) dial(ctx context.Context, gen uint64, url string) {
	dctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	conn, err := c.dialer.Dial(dctx, url)
	cancel()

	c.mu.Lock()
	if gen != c.gen || !c.intended {
		c.mu.Unlock()
		if conn != nil {
			conn.Close(CloseNormal, "superseded")
		}
		return
	}
	if err != nil {
		c.log.Debug().Err(err).Str("target", c.target.String()).Msg("channel dial failed")
		c.pushError(&TransportError{Op: "dial", Err: err})
		c.detachLocked()
		c.closedLocked(CloseAbnormal, err.Error(), true)
		c.mu.Unlock()
		return
	}

	out := make(chan []byte, sendBuffer)
	c.conn = conn
	c.out = out
	c.attempts = 0
	c.lastSeen = c.clock.Now()
	c.setStateLocked(StateOpen)
	c.log.Info().Str("target", c.target.String()).Msg("channel open")
	c.queue.push(func() {
		c.listeners.mu.RLock()
		handlers := append([]func(){}, c.listeners.opened...)
		c.listeners.mu.RUnlock()
		for _, h := range handlers {
			h()
		}
	})
	c.mu.Unlock()

	go c.readLoop(ctx, gen, conn)
	go c.writeLoop(ctx, gen, conn, out)
}

func (c *Channel) readLoop(ctx context.Context, gen uint64, conn Conn) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			c.handleClosed(gen, CloseCode(err), err.Error())
			return
		}

		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return
		}
		c.lastSeen = c.clock.Now()
		c.mu.Unlock()

		msg, err := DecodeMessage(data)
		if err != nil {
			if errors.Is(err, ErrUnknownMessage) {
				c.log.Debug().Err(err).Msg("ignoring message")
			} else {
				c.log.Warn().Err(err).Msg("malformed message")
			}
			continue
		}
		c.metrics.received(msg.MessageType())

		switch m := msg.(type) {
		case PongMessage:
			continue
		case PingMessage:
			if err := c.Send(TypePong, PongMessage{RequestID: m.RequestID}); err != nil {
				c.log.Debug().Err(err).Msg("pong not sent")
			}
			continue
		}

		c.queue.push(func() {
			c.listeners.mu.RLock()
			handlers := append([]func(Message){}, c.listeners.message...)
			c.listeners.mu.RUnlock()
			for _, h := range handlers {
				h(msg)
			}
		})
	}
}

func (c *Channel) writeLoop(ctx context.Context, gen uint64, conn Conn, out <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-out:
			wctx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
			err := conn.Write(wctx, b)
			cancel()
			if err == nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			c.mu.Lock()
			if gen == c.gen {
				c.pushError(&TransportError{Op: "write", Err: err})
			}
			c.mu.Unlock()
			// The read loop observes the close and drives recovery.
			conn.Close(CloseGoingAway, "write failed")
			return
		}
	}
}

func (c *Channel) handleClosed(gen uint64, code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.detachLocked()
	c.closedLocked(code, reason, true)
}

// closedLocked is the single place recovery is decided.
func (c *Channel) closedLocked(code int, reason string, notify bool) {
	if notify {
		c.pushClosed(code, reason)
	}
	if !c.intended {
		c.setStateLocked(StateDisconnected)
		return
	}
	c.attempts++
	attempt := c.attempts
	delay := c.backoff.Delay(attempt)
	c.retry.Schedule(delay, c.retryNow)
	c.setStateLocked(StateReconnecting)
	c.metrics.reconnect()
	c.log.Info().Int("code", code).Int("attempt", attempt).Dur("delay", delay).Msg("channel reconnecting")
	c.queue.push(func() {
		c.listeners.mu.RLock()
		handlers := append([]func(int, time.Duration){}, c.listeners.reconnecting...)
		c.listeners.mu.RUnlock()
		for _, h := range handlers {
			h(attempt, delay)
		}
	})
}

func (c *Channel) retryNow() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.intended || c.state == StateOpen || c.state == StateConnecting {
		return
	}
	c.connectLocked()
}

// abandonLocked drops the current connection without waiting for the transport to
// report it, detaching its loops first so a late close is ignored.
func (c *Channel) abandonLocked(reason string) {
	conn := c.conn
	hadConn := conn != nil || c.state == StateConnecting
	c.gen++
	c.detachLocked()
	if conn != nil {
		go conn.Close(CloseGoingAway, reason)
	}
	c.log.Warn().Str("reason", reason).Msg("channel abandoned")
	c.closedLocked(CloseAbnormal, reason, hadConn)
}

func (c *Channel) detachLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.conn = nil
	c.out = nil
}

// ----------------------------------------------------------------------------
// Heartbeat
// ----------------------------------------------------------------------------

func (c *Channel) armHeartbeatLocked() {
	c.hbSeq++
	seq := c.hbSeq
	c.hb = c.clock.AfterFunc(c.cfg.HeartbeatInterval, func() { c.beat(seq) })
}

func (c *Channel) stopHeartbeatLocked() {
	if c.hb != nil {
		c.hb.Stop()
		c.hb = nil
	}
	c.hbSeq++
}

func (c *Channel) beat(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.hbSeq || !c.intended {
		return
	}
	c.armHeartbeatLocked()

	switch c.state {
	case StateOpen:
		if idle := c.clock.Now().Sub(c.lastSeen); idle > c.cfg.LivenessTimeout {
			c.abandonLocked("liveness timeout")
			return
		}
		b, err := encodeCommand(TypePing, PingMessage{RequestID: uuid.NewString()})
		if err == nil {
			err = c.enqueueLocked(b)
		}
		if err != nil {
			c.abandonLocked("heartbeat: " + err.Error())
			return
		}
		c.metrics.heartbeat()
	case StateDisconnected, StateReconnecting:
		if !c.retry.Pending() {
			c.abandonLocked("channel not open")
		}
	}
}

// ----------------------------------------------------------------------------
// Emit helpers (called with c.mu held)
// ----------------------------------------------------------------------------

func (c *Channel) setStateLocked(s ChannelState) {
	if c.state == s {
		return
	}
	c.state = s
	c.metrics.setState(s)
	status := c.statusLocked()
	c.queue.push(func() {
		c.listeners.mu.RLock()
		handlers := append([]func(Status){}, c.listeners.status...)
		c.listeners.mu.RUnlock()
		for _, h := range handlers {
			h(status)
		}
	})
}

func (c *Channel) pushClosed(code int, reason string) {
	c.queue.push(func() {
		c.listeners.mu.RLock()
		handlers := append([]func(int, string){}, c.listeners.closed...)
		c.listeners.mu.RUnlock()
		for _, h := range handlers {
			h(code, reason)
		}
	})
}

func (c *Channel) pushError(err error) {
	c.queue.push(func() {
		c.listeners.mu.RLock()
		handlers := append([]func(error){}, c.listeners.errs...)
		c.listeners.mu.RUnlock()
		for _, h := range handlers {
			h(err)
		}
	})
}

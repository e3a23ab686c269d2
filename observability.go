package camsync

import (
	"io"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// ============================================================================
// Logging
// ============================================================================

// NewLogger builds a leveled JSON logger. With pretty set, output is human readable.
func NewLogger(level string, pretty bool) zerolog.Logger {
	lvl := zerolog.InfoLevel
	switch strings.ToLower(level) {
	case "debug":
		lvl = zerolog.DebugLevel
	case "warn":
		lvl = zerolog.WarnLevel
	case "error":
		lvl = zerolog.ErrorLevel
	}
	var w io.Writer = os.Stdout
	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stderr}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// ============================================================================
// Metrics
// ============================================================================

// Metrics groups the session collectors on a private registry.
type Metrics struct {
	registry           *prometheus.Registry
	ChannelState       prometheus.Gauge
	ReconnectAttempts  prometheus.Counter
	HeartbeatsSent     prometheus.Counter
	MessagesReceived   *prometheus.CounterVec
	PullErrors         *prometheus.CounterVec
	CacheEvictions     *prometheus.CounterVec
	TokenRegistrations *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	r := prometheus.NewRegistry()
	m := &Metrics{
		registry: r,
		ChannelState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "camsync",
			Name:      "channel_state",
			Help:      "Channel state: 0 disconnected, 1 connecting, 2 open, 3 reconnecting",
		}),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "camsync",
			Name:      "reconnect_attempts_total",
			Help:      "Reconnection retries scheduled",
		}),
		HeartbeatsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "camsync",
			Name:      "heartbeats_sent_total",
			Help:      "Liveness probes queued",
		}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "camsync",
			Name:      "messages_received_total",
			Help:      "Inbound channel messages by type",
		}, []string{"type"}),
		PullErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "camsync",
			Name:      "pull_errors_total",
			Help:      "Failed REST pulls by resource",
		}, []string{"resource"}),
		CacheEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "camsync",
			Name:      "cache_evictions_total",
			Help:      "Entries evicted from bounded caches",
		}, []string{"cache"}),
		TokenRegistrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "camsync",
			Name:      "token_registrations_total",
			Help:      "Push token registration attempts by result",
		}, []string{"result"}),
	}
	r.MustRegister(m.ChannelState, m.ReconnectAttempts, m.HeartbeatsSent,
		m.MessagesReceived, m.PullErrors, m.CacheEvictions, m.TokenRegistrations)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) setState(s ChannelState) {
	if m == nil {
		return
	}
	v := 0.0
	switch s {
	case StateConnecting:
		v = 1
	case StateOpen:
		v = 2
	case StateReconnecting:
		v = 3
	}
	m.ChannelState.Set(v)
}

func (m *Metrics) reconnect() {
	if m != nil {
		m.ReconnectAttempts.Inc()
	}
}

func (m *Metrics) heartbeat() {
	if m != nil {
		m.HeartbeatsSent.Inc()
	}
}

func (m *Metrics) received(msgType string) {
	if m != nil {
		m.MessagesReceived.WithLabelValues(msgType).Inc()
	}
}

func (m *Metrics) pullError(resource string) {
	if m != nil {
		m.PullErrors.WithLabelValues(resource).Inc()
	}
}

func (m *Metrics) evicted(cache string, n int) {
	if m != nil && n > 0 {
		m.CacheEvictions.WithLabelValues(cache).Add(float64(n))
	}
}

func (m *Metrics) registration(result string) {
	if m != nil {
		m.TokenRegistrations.WithLabelValues(result).Inc()
	}
}

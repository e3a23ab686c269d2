package camsync

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// ============================================================================
// Publisher
// ============================================================================

// Publisher delivers a payload to a topic.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// MQTTConfig addresses the broker the mirror publishes to.
type MQTTConfig struct {
	Broker   string // tcp://host:1883
	ClientID string
	Username string
	Password string
	QoS      byte
	Retain   bool
}

// MQTTPublisher is a Publisher backed by a paho client with auto-reconnect.
type MQTTPublisher struct {
	client mqtt.Client
	qos    byte
	retain bool
	log    zerolog.Logger
}

// NewMQTTPublisher connects to the broker.
func NewMQTTPublisher(cfg MQTTConfig, log zerolog.Logger) (*MQTTPublisher, error) {
	broker := cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", broker).Msg("mqtt connection lost, will auto-reconnect")
	}

	cli := mqtt.NewClient(opts)
	token := cli.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect error: %w", err)
	}
	log.Info().Str("broker", broker).Msg("mqtt connected")
	return &MQTTPublisher{client: cli, qos: cfg.QoS, retain: cfg.Retain, log: log}, nil
}

func (p *MQTTPublisher) Publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	return token.Error()
}

func (p *MQTTPublisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}

// ============================================================================
// Mirror
// ============================================================================

// Mirror republishes session state as JSON under a topic prefix:
// <prefix>/status, <prefix>/telemetry, <prefix>/events and <prefix>/alerts.
// Publishing happens on its own goroutine; when the broker falls behind by more
// than the queue holds, messages are dropped.
type Mirror struct {
	pub    Publisher
	prefix string
	log    zerolog.Logger

	queue chan mirrorMsg
	done  chan struct{}

	mu        sync.Mutex
	closed    bool
	published map[string]uint64
	errors    uint64
	dropped   uint64
}

type mirrorMsg struct {
	topic   string
	payload []byte
}

const mirrorQueueSize = 256

func NewMirror(pub Publisher, prefix string, log zerolog.Logger) *Mirror {
	m := &Mirror{
		pub:       pub,
		prefix:    strings.TrimRight(prefix, "/"),
		log:       log,
		queue:     make(chan mirrorMsg, mirrorQueueSize),
		done:      make(chan struct{}),
		published: make(map[string]uint64),
	}
	go m.run()
	return m
}

// Close stops accepting messages and waits for the queued ones to be published.
func (m *Mirror) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		<-m.done
		return
	}
	m.closed = true
	close(m.queue)
	m.mu.Unlock()
	<-m.done
}

func (m *Mirror) run() {
	defer close(m.done)
	for msg := range m.queue {
		err := m.pub.Publish(msg.topic, msg.payload)
		m.mu.Lock()
		if err != nil {
			m.errors++
		} else {
			m.published[msg.topic]++
		}
		m.mu.Unlock()
		if err != nil {
			m.log.Warn().Err(err).Str("topic", msg.topic).Msg("mirror publish failed")
		}
	}
}

// Attach subscribes the mirror to a session.
func (m *Mirror) Attach(s *Session) {
	s.Channel().OnStatus(m.status)
	state := s.State()
	state.OnChange(func(ch Change) { m.change(state, ch) })
}

func (m *Mirror) status(st Status) {
	m.publish("status", struct {
		Status    string    `json:"status"`
		Attempt   int       `json:"attempt,omitempty"`
		Timestamp time.Time `json:"timestamp"`
	}{st.String(), st.Attempt, time.Now().UTC()})
}

func (m *Mirror) change(state *Reconciler, ch Change) {
	switch ch.Kind {
	case ChangeTelemetry:
		if t, ok := state.Telemetry(); ok {
			m.publish("telemetry", t)
		}
	case ChangeEvents:
		if ch.Event != nil {
			m.publish("events", ch.Event)
		}
	case ChangeAlert:
		if ch.Event != nil {
			m.publish("alerts", ch.Event)
		}
	}
}

// publish never blocks the caller, which is the session's dispatch goroutine.
func (m *Mirror) publish(sub string, v any) {
	topic := m.prefix + "/" + sub
	payload, err := json.Marshal(v)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.errors++
		m.log.Warn().Err(err).Str("topic", topic).Msg("mirror encode failed")
		return
	}
	if m.closed {
		return
	}
	select {
	case m.queue <- mirrorMsg{topic: topic, payload: payload}:
	default:
		m.dropped++
		m.log.Warn().Str("topic", topic).Msg("mirror queue full, message dropped")
	}
}

// MirrorStats counts publishes per topic.
type MirrorStats struct {
	Published map[string]uint64
	Errors    uint64
	Dropped   uint64
}

func (m *Mirror) Stats() MirrorStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	published := make(map[string]uint64, len(m.published))
	for k, v := range m.published {
		published[k] = v
	}
	return MirrorStats{Published: published, Errors: m.errors, Dropped: m.dropped}
}

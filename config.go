package camsync

import "time"

// DefaultPort is used when the user leaves the port empty.
const DefaultPort = 8080

// Config tunes a session. Zero fields take their defaults.
type Config struct {
	HeartbeatInterval  time.Duration
	LivenessTimeout    time.Duration
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
	DialTimeout        time.Duration
	WriteTimeout       time.Duration
	ProbeTimeout       time.Duration
	ResumeDebounce     time.Duration

	EventCacheSize     int
	RecordingCacheSize int
	EventPullLimit     int
	RecordingPullLimit int

	FallbackPollInterval time.Duration
	SystemPollInterval   time.Duration

	// RefreshRate and RefreshBurst throttle user-triggered full pulls.
	RefreshRate  float64
	RefreshBurst int

	// DeviceName and Platform are sent with the push token.
	DeviceName string
	Platform   string
}

func (c *Config) defaults() {
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 15 * time.Second
	}
	if c.LivenessTimeout == 0 {
		c.LivenessTimeout = 3 * c.HeartbeatInterval
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 3 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = 5 * time.Second
	}
	if c.ResumeDebounce == 0 {
		c.ResumeDebounce = 2 * time.Second
	}
	if c.EventCacheSize == 0 {
		c.EventCacheSize = 100
	}
	if c.RecordingCacheSize == 0 {
		c.RecordingCacheSize = 200
	}
	if c.EventPullLimit == 0 {
		c.EventPullLimit = 50
	}
	if c.RecordingPullLimit == 0 {
		c.RecordingPullLimit = 50
	}
	if c.FallbackPollInterval == 0 {
		c.FallbackPollInterval = 10 * time.Second
	}
	if c.SystemPollInterval == 0 {
		c.SystemPollInterval = 10 * time.Second
	}
	if c.RefreshRate == 0 {
		c.RefreshRate = 1
	}
	if c.RefreshBurst == 0 {
		c.RefreshBurst = 3
	}
	if c.Platform == "" {
		c.Platform = "go"
	}
}

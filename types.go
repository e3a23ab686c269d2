package camsync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"
)

// ============================================================================
// Connection
// ============================================================================

// ConnectionTarget is a validated device address. It does not change during a session.
type ConnectionTarget struct {
	Host string `json:"host" toml:"host"`
	Port int    `json:"port" toml:"port"`
}

func (t ConnectionTarget) String() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// BaseURL is the HTTP root of the device API.
func (t ConnectionTarget) BaseURL() string {
	return "http://" + t.String()
}

// ChannelURL is the WebSocket endpoint of the device.
func (t ConnectionTarget) ChannelURL() string {
	return "ws://" + t.String() + "/ws"
}

// ChannelState is owned by the Channel; exactly one value holds at a time.
type ChannelState string

const (
	StateDisconnected ChannelState = "disconnected"
	StateConnecting   ChannelState = "connecting"
	StateOpen         ChannelState = "open"
	StateReconnecting ChannelState = "reconnecting"
)

// Indicator is the user-facing connection status.
type Indicator string

const (
	IndicatorConnected    Indicator = "Connected"
	IndicatorReconnecting Indicator = "Reconnecting"
	IndicatorDisconnected Indicator = "Disconnected"
)

// Status is the tri-state indicator shown to the user.
type Status struct {
	Indicator Indicator `json:"indicator"`
	Attempt   int       `json:"attempt,omitempty"`
}

func (s Status) String() string {
	if s.Indicator == IndicatorReconnecting {
		return fmt.Sprintf("Reconnecting(%d)", s.Attempt)
	}
	return string(s.Indicator)
}

// ============================================================================
// Records
// ============================================================================

// RecordID accepts both numeric and string ids from the device.
type RecordID string

func (id *RecordID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = RecordID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("record id: %w", err)
	}
	*id = RecordID(n.String())
	return nil
}

// EventRecord is a detection event. It is never mutated after insertion.
type EventRecord struct {
	ID          RecordID `json:"id,omitempty"`
	Type        string   `json:"type"`
	Class       string   `json:"class"`
	Confidence  float64  `json:"confidence"`
	Timestamp   float64  `json:"timestamp"`
	Description string   `json:"description,omitempty"`
	Color       string   `json:"color,omitempty"`
	SnapshotRef string   `json:"snapshot_path,omitempty"`
	VideoRef    string   `json:"video_path,omitempty"`
}

// Key is the identity used for de-duplication. Events that arrive without an id
// are identified by type, class and timestamp.
func (e EventRecord) Key() string {
	if e.ID != "" {
		return string(e.ID)
	}
	return e.Type + "|" + e.Class + "|" + strconv.FormatFloat(e.Timestamp, 'f', -1, 64)
}

// Time converts the device timestamp (seconds since epoch).
func (e EventRecord) Time() time.Time { return unixSeconds(e.Timestamp) }

// RecordingRecord is a recorded clip on the device.
type RecordingRecord struct {
	ID           RecordID `json:"id"`
	Path         string   `json:"path"`
	StartTime    float64  `json:"start_time"`
	Duration     float64  `json:"duration"`
	Size         int64    `json:"file_size"`
	ThumbnailRef string   `json:"thumbnail_path,omitempty"`
	TriggerType  string   `json:"trigger_type,omitempty"`
}

func (r RecordingRecord) Key() string {
	if r.ID != "" {
		return string(r.ID)
	}
	return r.Path
}

// Date is the local calendar date of the recording start, YYYY-MM-DD.
func (r RecordingRecord) Date() string {
	return unixSeconds(r.StartTime).Format(time.DateOnly)
}

// TelemetrySnapshot is transient; each value supersedes the previous one.
type TelemetrySnapshot struct {
	FPS                float64 `json:"fps"`
	InferenceLatencyMs float64 `json:"inference_ms"`
	FrameCount         int64   `json:"frame_count"`
	TrackedObjectCount int     `json:"tracked_objects"`
	UptimeSeconds      float64 `json:"uptime"`
}

// Detection is an object currently visible to the device.
type Detection struct {
	TrackID    int       `json:"track_id,omitempty"`
	Class      string    `json:"class"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox,omitempty"`
}

// Summary is the quick dashboard summary.
type Summary struct {
	EventsToday int     `json:"events_today"`
	FPS         float64 `json:"fps"`
	Uptime      string  `json:"uptime"`
	Tracked     int     `json:"tracked"`
}

// SystemStats is the device host report (cpu, memory, gpu, disk, temperature, network).
type SystemStats map[string]any

// PTZStatus reports the pan-tilt-zoom controller.
type PTZStatus struct {
	Connected    bool `json:"connected"`
	AutoTracking bool `json:"auto_tracking"`
}

// ============================================================================
// Settings
// ============================================================================

type DetectionSettings struct {
	Confidence   float64 `json:"confidence"`
	IoUThreshold float64 `json:"iou_threshold"`
}

type PTZSettings struct {
	Enabled     bool    `json:"enabled"`
	TrackSpeed  float64 `json:"track_speed"`
	Deadzone    float64 `json:"deadzone"`
	Host        string  `json:"host,omitempty"`
	Port        int     `json:"port,omitempty"`
	Username    string  `json:"username,omitempty"`
	HasPassword bool    `json:"has_password,omitempty"`
}

type ModelSettings struct {
	Enabled bool `json:"enabled"`
	Loaded  bool `json:"loaded"`
}

type DisplaySettings struct {
	ShowOverlays  bool `json:"show_overlays"`
	DetectPerson  bool `json:"detect_person"`
	DetectVehicle bool `json:"detect_vehicle"`
	DetectPackage bool `json:"detect_package"`
}

type StreamSettings struct {
	Quality int `json:"quality"`
	Width   int `json:"width"`
	Height  int `json:"height"`
}

// Settings is the full device settings document.
type Settings struct {
	Detection  DetectionSettings `json:"detection"`
	PTZ        PTZSettings       `json:"ptz"`
	Pose       ModelSettings     `json:"pose"`
	Classifier ModelSettings     `json:"classifier"`
	Display    DisplaySettings   `json:"display"`
	Stream     StreamSettings    `json:"stream"`
}

func unixSeconds(s float64) time.Time {
	sec := int64(s)
	return time.Unix(sec, int64((s-float64(sec))*1e9))
}

// Package camsync keeps a live, resilient view of a remote camera device.
//
// A Session opens one heartbeat-monitored WebSocket channel to the device,
// reconnects with capped exponential backoff, folds pushed deltas and pulled
// REST snapshots into bounded caches, survives app suspension and registers a
// push-notification token once the channel is open.
//
// Example:
//
//	target, err := camsync.NewResolver(cfg).Resolve(ctx, "192.168.1.20", "8080")
//	if err != nil { ... }
//	sess := camsync.NewSession(target, cfg, camsync.WithLogger(log))
//	sess.State().OnChange(func(ch camsync.Change) { ... })
//	sess.Start(ctx)
//	defer sess.Stop()
package camsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTimeout bounds every pull request.
const DefaultTimeout = 15 * time.Second

// ============================================================================
// Client
// ============================================================================

// Client talks to the device REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

type ClientOption func(*Client)

func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithClientLogger(l zerolog.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// NewClient creates a client for target.
func NewClient(target ConnectionTarget, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    target.BaseURL(),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string { return c.baseURL }

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body any, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		c.log.Debug().Str("path", path).Int("status", resp.StatusCode).Msg("api error")
		return nil, apiErr
	}
	return data, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

func get[T any](ctx context.Context, c *Client, path string, query url.Values) (*T, error) {
	data, err := c.doRequest(ctx, http.MethodGet, path, nil, query)
	if err != nil {
		return nil, err
	}
	return decodeJSON[T](data)
}

// ============================================================================
// Telemetry
// ============================================================================

// Telemetry reads the runtime section of the full stats document.
func (c *Client) Telemetry(ctx context.Context) (*TelemetrySnapshot, error) {
	res, err := get[struct {
		System struct {
			TelemetrySnapshot
			UptimeSeconds float64 `json:"uptime_seconds"`
		} `json:"system"`
	}](ctx, c, "/api/stats", nil)
	if err != nil {
		return nil, err
	}
	t := res.System.TelemetrySnapshot
	if t.UptimeSeconds == 0 {
		t.UptimeSeconds = res.System.UptimeSeconds
	}
	return &t, nil
}

func (c *Client) Summary(ctx context.Context) (*Summary, error) {
	return get[Summary](ctx, c, "/api/stats/summary", nil)
}

func (c *Client) SystemStats(ctx context.Context) (SystemStats, error) {
	res, err := get[SystemStats](ctx, c, "/api/system", nil)
	if err != nil {
		return nil, err
	}
	return *res, nil
}

// ============================================================================
// Events and recordings
// ============================================================================

// EventQuery filters the event list. Zero values mean no filter / server default.
type EventQuery struct {
	Type  string
	Limit int
}

func (c *Client) ListEvents(ctx context.Context, q EventQuery) ([]EventRecord, error) {
	query := url.Values{}
	if q.Type != "" {
		query.Set("type", q.Type)
	}
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}
	res, err := get[[]EventRecord](ctx, c, "/api/events", query)
	if err != nil {
		return nil, err
	}
	return *res, nil
}

// RecordingQuery filters the recording list. Date is YYYY-MM-DD.
type RecordingQuery struct {
	Date   string
	Limit  int
	Offset int
}

func (c *Client) ListRecordings(ctx context.Context, q RecordingQuery) ([]RecordingRecord, error) {
	query := url.Values{}
	if q.Date != "" {
		query.Set("date", q.Date)
	}
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		query.Set("offset", strconv.Itoa(q.Offset))
	}
	res, err := get[struct {
		Recordings []RecordingRecord `json:"recordings"`
	}](ctx, c, "/api/recordings", query)
	if err != nil {
		return nil, err
	}
	return res.Recordings, nil
}

func (c *Client) RecordingDates(ctx context.Context) ([]string, error) {
	res, err := get[struct {
		Dates []string `json:"dates"`
	}](ctx, c, "/api/recordings/dates", nil)
	if err != nil {
		return nil, err
	}
	return res.Dates, nil
}

// ============================================================================
// Settings and PTZ
// ============================================================================

func (c *Client) Settings(ctx context.Context) (*Settings, error) {
	return get[Settings](ctx, c, "/api/settings", nil)
}

// UpdateSettings posts one settings section (detection, ptz, pose, classifier,
// display, stream).
func (c *Client) UpdateSettings(ctx context.Context, section string, values map[string]any) error {
	_, err := c.doRequest(ctx, http.MethodPost, "/api/settings/"+url.PathEscape(section), values, nil)
	return err
}

func (c *Client) PTZStatus(ctx context.Context) (*PTZStatus, error) {
	return get[PTZStatus](ctx, c, "/api/ptz/status", nil)
}

func (c *Client) PTZMove(ctx context.Context, pan, tilt float64) error {
	_, err := c.doRequest(ctx, http.MethodPost, "/api/ptz/move", map[string]float64{"pan": pan, "tilt": tilt}, nil)
	return err
}

func (c *Client) PTZStop(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodPost, "/api/ptz/stop", nil, nil)
	return err
}

// ============================================================================
// Push notifications
// ============================================================================

// TokenRegistration associates a push token with the device. The device treats it
// as an upsert.
type TokenRegistration struct {
	Token      string `json:"token"`
	DeviceName string `json:"device_name,omitempty"`
	Platform   string `json:"platform,omitempty"`
}

func (c *Client) RegisterPushToken(ctx context.Context, reg TokenRegistration) error {
	_, err := c.doRequest(ctx, http.MethodPost, "/api/notifications/register", reg, nil)
	return err
}

func (c *Client) UnregisterPushToken(ctx context.Context, token string) error {
	_, err := c.doRequest(ctx, http.MethodPost, "/api/notifications/unregister", map[string]string{"token": token}, nil)
	return err
}

// ============================================================================
// Media references
// ============================================================================

// StreamURL is the live MJPEG stream. A non-zero at adds a cache-busting parameter.
func (c *Client) StreamURL(at time.Time) string {
	u := c.baseURL + "/api/stream"
	if !at.IsZero() {
		u += "?t=" + strconv.FormatInt(at.UnixMilli(), 10)
	}
	return u
}

// MediaURL resolves a device-relative reference (snapshot, thumbnail, clip).
func (c *Client) MediaURL(ref string) string {
	if ref == "" || strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	if !strings.HasPrefix(ref, "/") {
		ref = "/api/snapshots/" + ref
	}
	return c.baseURL + ref
}

// RecordingStreamURL is the playback URL of one recording.
func (c *Client) RecordingStreamURL(id RecordID) string {
	return c.baseURL + "/api/recordings/" + url.PathEscape(string(id)) + "/stream"
}

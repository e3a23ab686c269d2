package camsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"nhooyr.io/websocket"
)

// Close codes used by the channel.
const (
	CloseNormal    = int(websocket.StatusNormalClosure)
	CloseGoingAway = int(websocket.StatusGoingAway)
	CloseAbnormal  = int(websocket.StatusAbnormalClosure)
)

// Dialer opens a duplex connection to a device.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Conn is one duplex connection. Read returns an error carrying the close code
// (see CloseCode) once the connection ends.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(code int, reason string) error
}

// CloseError reports how a connection ended.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("closed: code %d %s", e.Code, e.Reason)
}

// CloseCode extracts the close code from a read error; transports that give none
// are reported as abnormal closure.
func CloseCode(err error) int {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	if code := websocket.CloseStatus(err); code != -1 {
		return int(code)
	}
	return CloseAbnormal
}

// ============================================================================
// nhooyr.io/websocket implementation
// ============================================================================

// WebSocketDialer dials the device channel over WebSocket.
type WebSocketDialer struct {
	HTTPClient *http.Client
	// ReadLimit caps one inbound message; alerts can carry screenshots.
	ReadLimit int64
}

func (d WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	var opts *websocket.DialOptions
	if d.HTTPClient != nil {
		opts = &websocket.DialOptions{HTTPClient: d.HTTPClient}
	}
	conn, _, err := websocket.Dial(ctx, url, opts)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	limit := d.ReadLimit
	if limit == 0 {
		limit = 4 << 20
	}
	conn.SetReadLimit(limit)
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		if code := websocket.CloseStatus(err); code != -1 {
			var ce websocket.CloseError
			errors.As(err, &ce)
			return nil, &CloseError{Code: int(code), Reason: ce.Reason}
		}
		return nil, err
	}
	return data, nil
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close(code int, reason string) error {
	return c.conn.Close(websocket.StatusCode(code), reason)
}

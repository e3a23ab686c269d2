package camsync

import (
	"errors"
	"fmt"
)

// ============================================================================
// Sentinels
// ============================================================================

var (
	// ErrNotOpen is returned by Send when the channel is not Open.
	ErrNotOpen = errors.New("channel not open")
	// ErrSendQueueFull is returned when the outbound buffer of the current connection is full.
	ErrSendQueueFull = errors.New("send queue full")
	// ErrUnknownMessage is returned by DecodeMessage for an unrecognized type tag.
	ErrUnknownMessage = errors.New("unknown message type")
	// ErrNoToken is returned by the registrar when no push token is known yet.
	ErrNoToken = errors.New("no push token")
	// ErrRateLimited is returned by Session.Refresh when called too often.
	ErrRateLimited = errors.New("refresh rate limited")
)

// ============================================================================
// Resolution
// ============================================================================

// ResolutionKind classifies why a target could not be resolved.
type ResolutionKind string

const (
	InvalidHost  ResolutionKind = "invalid_host"
	InvalidPort  ResolutionKind = "invalid_port"
	Unreachable  ResolutionKind = "unreachable"
	NetworkError ResolutionKind = "network_error"
)

// ResolutionError is fatal to connecting. It is surfaced to the user and never retried
// without new input.
type ResolutionError struct {
	Kind   ResolutionKind
	Target ConnectionTarget
	Err    error
}

func (e *ResolutionError) Error() string {
	msg := "resolve " + string(e.Kind)
	if e.Target.Host != "" {
		msg += " " + e.Target.String()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// IsResolution reports whether err is a ResolutionError of the given kind.
func IsResolution(err error, kind ResolutionKind) bool {
	var re *ResolutionError
	return errors.As(err, &re) && re.Kind == kind
}

// ============================================================================
// Transport / Pull / Registration
// ============================================================================

// TransportError is transient. It precedes a close and triggers the reconnection policy.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// PullError means one REST fetch failed; the affected cache is left as it was.
type PullError struct {
	Resource string
	Err      error
}

func (e *PullError) Error() string { return fmt.Sprintf("pull %s: %v", e.Resource, e.Err) }
func (e *PullError) Unwrap() error { return e.Err }

// RegistrationError means push-token registration failed; in-channel alerts still work.
type RegistrationError struct {
	Err error
}

func (e *RegistrationError) Error() string { return "register push token: " + e.Err.Error() }
func (e *RegistrationError) Unwrap() error { return e.Err }

// APIError is a non-2xx reply from the device REST API.
type APIError struct {
	Status int    `json:"-"`
	Detail string `json:"detail"`
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Detail)
}

package camsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultProbePath is requested to check that a candidate device answers.
const DefaultProbePath = "/api/stats/summary"

// Resolver turns user input into a validated ConnectionTarget. It is the only place
// user input reaches the network before a session exists.
type Resolver struct {
	HTTPClient  *http.Client
	Timeout     time.Duration
	DefaultPort int
	ProbePath   string
	Log         zerolog.Logger
}

// NewResolver creates a resolver with the probe timeout from cfg.
func NewResolver(cfg Config) *Resolver {
	cfg.defaults()
	return &Resolver{
		HTTPClient:  http.DefaultClient,
		Timeout:     cfg.ProbeTimeout,
		DefaultPort: DefaultPort,
		ProbePath:   DefaultProbePath,
		Log:         zerolog.Nop(),
	}
}

// Parse validates host and port input without touching the network. The host may
// carry a scheme, a trailing path or an embedded port.
func (r *Resolver) Parse(hostInput, portInput string) (ConnectionTarget, error) {
	host := strings.TrimSpace(hostInput)
	host = strings.TrimPrefix(strings.TrimPrefix(host, "http://"), "https://")
	host = strings.TrimPrefix(strings.TrimPrefix(host, "ws://"), "wss://")
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}

	portStr := strings.TrimSpace(portInput)
	if h, p, err := net.SplitHostPort(host); err == nil {
		host = h
		if portStr == "" {
			portStr = p
		}
	}
	host = strings.Trim(host, "[]")
	if host == "" || strings.ContainsAny(host, " \t") {
		return ConnectionTarget{}, &ResolutionError{Kind: InvalidHost, Err: fmt.Errorf("host %q", hostInput)}
	}

	port := r.DefaultPort
	if port == 0 {
		port = DefaultPort
	}
	if portStr != "" {
		n, err := strconv.Atoi(portStr)
		if err != nil || n < 1 || n > 65535 {
			return ConnectionTarget{}, &ResolutionError{
				Kind:   InvalidPort,
				Target: ConnectionTarget{Host: host},
				Err:    fmt.Errorf("port %q", portInput),
			}
		}
		port = n
	}
	return ConnectionTarget{Host: host, Port: port}, nil
}

// Resolve parses the input and probes the candidate with one bounded request.
// A timeout or non-success reply fails with Unreachable; any other network failure
// fails with NetworkError.
func (r *Resolver) Resolve(ctx context.Context, hostInput, portInput string) (ConnectionTarget, error) {
	target, err := r.Parse(hostInput, portInput)
	if err != nil {
		return ConnectionTarget{}, err
	}
	if err := r.Probe(ctx, target); err != nil {
		return ConnectionTarget{}, err
	}
	return target, nil
}

// Probe checks that target answers the probe path.
func (r *Resolver) Probe(ctx context.Context, target ConnectionTarget) error {
	timeout := r.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	path := r.ProbePath
	if path == "" {
		path = DefaultProbePath
	}
	client := r.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(pctx, http.MethodGet, target.BaseURL()+path, nil)
	if err != nil {
		return &ResolutionError{Kind: InvalidHost, Target: target, Err: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		kind := NetworkError
		if isTimeout(err) || errors.Is(pctx.Err(), context.DeadlineExceeded) {
			kind = Unreachable
		}
		r.Log.Warn().Err(err).Str("target", target.String()).Str("kind", string(kind)).Msg("probe failed")
		return &ResolutionError{Kind: kind, Target: target, Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		r.Log.Warn().Int("status", resp.StatusCode).Str("target", target.String()).Msg("probe rejected")
		return &ResolutionError{Kind: Unreachable, Target: target, Err: &APIError{Status: resp.StatusCode}}
	}
	r.Log.Debug().Str("target", target.String()).Msg("probe ok")
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

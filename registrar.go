package camsync

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// keyDeviceName holds the generated device label sent with the push token.
const keyDeviceName = "push.device_name"

// TokenAPI is the part of the REST API the registrar uses. *Client implements it.
type TokenAPI interface {
	RegisterPushToken(ctx context.Context, reg TokenRegistration) error
	UnregisterPushToken(ctx context.Context, token string) error
}

// Result describes one registration attempt.
type Result struct {
	// Registered is set when the device accepted the token.
	Registered bool
	// Deferred is set when the channel is not open or no token is known yet.
	Deferred bool
	// Degraded is set when registration failed; push alerts are unavailable.
	Degraded bool
	Err      error
}

// Registrar associates the local push token with the device. The token and the
// open channel can arrive in either order; registration happens once both exist
// and again on every reopen, which the device treats as an upsert.
type Registrar struct {
	api      TokenAPI
	store    Store
	log      zerolog.Logger
	metrics  *Metrics
	name     string
	platform string

	mu       sync.Mutex
	token    string
	open     bool
	epoch    uint64
	degraded bool
}

// NewRegistrar loads a previously issued token from store.
func NewRegistrar(api TokenAPI, store Store, cfg Config, log zerolog.Logger, metrics *Metrics) *Registrar {
	cfg.defaults()
	if store == nil {
		store = NewMemoryStore()
	}
	r := &Registrar{
		api:      api,
		store:    store,
		log:      log,
		metrics:  metrics,
		name:     cfg.DeviceName,
		platform: cfg.Platform,
	}
	if tok, ok := store.Get(KeyPushToken); ok {
		r.token = tok
	}
	if r.name == "" {
		name, ok := store.Get(keyDeviceName)
		if !ok || name == "" {
			name = "camsync-" + uuid.NewString()[:8]
			if err := store.Set(keyDeviceName, name); err != nil {
				log.Warn().Err(err).Msg("persist device name")
			}
		}
		r.name = name
	}
	return r
}

// Token returns the current token, or "" when none was issued.
func (r *Registrar) Token() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.token
}

// Degraded reports whether the last attempt failed.
func (r *Registrar) Degraded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.degraded
}

// SetToken records a freshly issued token and registers it if the channel is open.
func (r *Registrar) SetToken(ctx context.Context, token string) Result {
	if token == "" {
		return Result{Deferred: true, Err: ErrNoToken}
	}
	r.mu.Lock()
	changed := token != r.token
	r.token = token
	open, epoch := r.open, r.epoch
	r.mu.Unlock()

	if changed {
		if err := r.store.Set(KeyPushToken, token); err != nil {
			r.log.Warn().Err(err).Msg("persist push token")
		}
	}
	if !open {
		r.log.Debug().Msg("push token cached until channel opens")
		r.metrics.registration("deferred")
		return Result{Deferred: true}
	}
	return r.register(ctx, token, epoch)
}

// MarkOpen records that the channel reached Open. It makes no network call, so
// it can run in order with Closed on the channel's dispatch goroutine.
func (r *Registrar) MarkOpen() {
	r.mu.Lock()
	r.open = true
	r.epoch++
	r.mu.Unlock()
}

// Opened marks the channel open and registers the current token, if any.
func (r *Registrar) Opened(ctx context.Context) Result {
	r.MarkOpen()
	return r.Register(ctx)
}

// Closed is called when the channel leaves Open or the session stops.
func (r *Registrar) Closed() {
	r.mu.Lock()
	r.open = false
	r.epoch++
	r.mu.Unlock()
}

// Register retries registration with the current token. It is deferred unless
// the channel is open.
func (r *Registrar) Register(ctx context.Context) Result {
	r.mu.Lock()
	token, open, epoch := r.token, r.open, r.epoch
	r.mu.Unlock()
	switch {
	case token == "":
		r.log.Debug().Msg("waiting for push token")
		return Result{Deferred: true, Err: ErrNoToken}
	case !open:
		return Result{Deferred: true}
	}
	return r.register(ctx, token, epoch)
}

func (r *Registrar) register(ctx context.Context, token string, epoch uint64) Result {
	err := r.api.RegisterPushToken(ctx, TokenRegistration{
		Token:      token,
		DeviceName: r.name,
		Platform:   r.platform,
	})

	r.mu.Lock()
	// A channel that closed during the call says nothing about push delivery.
	if epoch == r.epoch {
		r.degraded = err != nil
	}
	r.mu.Unlock()

	if err != nil {
		r.metrics.registration("failed")
		r.log.Warn().Err(err).Msg("push registration failed, alerts limited to channel")
		return Result{Degraded: true, Err: &RegistrationError{Err: err}}
	}
	r.metrics.registration("registered")
	r.log.Info().Str("device_name", r.name).Msg("push token registered")
	return Result{Registered: true}
}

// Unregister removes the token from the device. The local copy is kept.
func (r *Registrar) Unregister(ctx context.Context) error {
	token := r.Token()
	if token == "" {
		return ErrNoToken
	}
	if err := r.api.UnregisterPushToken(ctx, token); err != nil {
		return &RegistrationError{Err: err}
	}
	r.metrics.registration("unregistered")
	return nil
}

package camsync

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ============================================================================
// Types
// ============================================================================

// Puller is the subset of the REST API the reconciler pulls snapshots from.
// *Client implements it.
type Puller interface {
	Telemetry(ctx context.Context) (*TelemetrySnapshot, error)
	Summary(ctx context.Context) (*Summary, error)
	SystemStats(ctx context.Context) (SystemStats, error)
	ListEvents(ctx context.Context, q EventQuery) ([]EventRecord, error)
	ListRecordings(ctx context.Context, q RecordingQuery) ([]RecordingRecord, error)
	Settings(ctx context.Context) (*Settings, error)
	PTZStatus(ctx context.Context) (*PTZStatus, error)
}

// ChangeKind names the cache that changed.
type ChangeKind string

const (
	ChangeTelemetry  ChangeKind = "telemetry"
	ChangeEvents     ChangeKind = "events"
	ChangeDetections ChangeKind = "detections"
	ChangeAlert      ChangeKind = "alert"
	ChangeRecordings ChangeKind = "recordings"
	ChangeSettings   ChangeKind = "settings"
	ChangePTZ        ChangeKind = "ptz"
	ChangeSystem     ChangeKind = "system"
	ChangeSummary    ChangeKind = "summary"
)

// Change is delivered to OnChange handlers. Event is set for single pushed
// events and alerts.
type Change struct {
	Kind  ChangeKind
	Event *EventRecord
}

type pushedEvent struct {
	seq uint64
	ev  EventRecord
}

// ============================================================================
// Reconciler
// ============================================================================

// Reconciler folds pushed deltas and pulled snapshots into display caches. The
// caches are advisory copies; any of them can be dropped and rebuilt by a pull.
type Reconciler struct {
	api     Puller
	cfg     Config
	log     zerolog.Logger
	metrics *Metrics

	mu         sync.RWMutex
	events     *boundedList[EventRecord]
	recordings *boundedList[RecordingRecord]
	eventType  string
	telemetry  TelemetrySnapshot
	hasTelem   bool
	statsSeq   uint64
	detections []Detection
	settings   *Settings
	ptz        *PTZStatus
	system     SystemStats
	summary    *Summary
	pushSeq    uint64
	recentPush []pushedEvent

	hmu      sync.RWMutex
	handlers []func(Change)
}

// NewReconciler creates empty caches sized from cfg.
func NewReconciler(api Puller, cfg Config, log zerolog.Logger, metrics *Metrics) *Reconciler {
	cfg.defaults()
	return &Reconciler{
		api:        api,
		cfg:        cfg,
		log:        log,
		metrics:    metrics,
		events:     newBoundedList[EventRecord](cfg.EventCacheSize),
		recordings: newBoundedList[RecordingRecord](cfg.RecordingCacheSize),
	}
}

// OnChange registers a handler called after every cache update.
func (r *Reconciler) OnChange(h func(Change)) {
	r.hmu.Lock()
	r.handlers = append(r.handlers, h)
	r.hmu.Unlock()
}

func (r *Reconciler) notify(ch Change) {
	r.hmu.RLock()
	handlers := append([]func(Change){}, r.handlers...)
	r.hmu.RUnlock()
	for _, h := range handlers {
		h(ch)
	}
}

// ----------------------------------------------------------------------------
// Push path
// ----------------------------------------------------------------------------

// Apply folds one pushed message into the caches. Redelivered events are ignored.
func (r *Reconciler) Apply(msg Message) {
	switch m := msg.(type) {
	case StatsMessage:
		r.mu.Lock()
		r.telemetry = m.Telemetry
		r.hasTelem = true
		r.statsSeq++
		r.mu.Unlock()
		r.notify(Change{Kind: ChangeTelemetry})
	case EventMessage:
		if added, _ := r.insertEvent(m.Event); added {
			ev := m.Event
			r.notify(Change{Kind: ChangeEvents, Event: &ev})
		}
	case PersonAlertMessage:
		ev := m.Event()
		if _, dup := r.insertEvent(ev); !dup {
			r.notify(Change{Kind: ChangeAlert, Event: &ev})
		}
	case DetectionsMessage:
		r.mu.Lock()
		r.detections = append([]Detection(nil), m.Detections...)
		r.mu.Unlock()
		r.notify(Change{Kind: ChangeDetections})
	default:
		r.log.Debug().Str("type", msg.MessageType()).Msg("message not reconciled")
	}
}

// insertEvent reports whether ev was added and whether it was already cached.
// Events outside the current type filter are neither.
func (r *Reconciler) insertEvent(ev EventRecord) (added, dup bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.eventType != "" && ev.Type != r.eventType {
		return false, false
	}
	added, evicted := r.events.Prepend(ev)
	if !added {
		return false, true
	}
	r.metrics.evicted("events", evicted)
	r.pushSeq++
	r.recentPush = append(r.recentPush, pushedEvent{seq: r.pushSeq, ev: ev})
	if n := len(r.recentPush) - r.cfg.EventCacheSize; n > 0 {
		r.recentPush = append(r.recentPush[:0], r.recentPush[n:]...)
	}
	return true, false
}

// ----------------------------------------------------------------------------
// Pull path
// ----------------------------------------------------------------------------

func (r *Reconciler) pullFailed(resource string, err error) error {
	r.metrics.pullError(resource)
	r.log.Warn().Err(err).Str("resource", resource).Msg("pull failed, keeping cached data")
	return &PullError{Resource: resource, Err: err}
}

// RefreshEvents replaces the event cache with a pulled list. Events pushed while
// the pull was in flight are kept. On failure the cache is untouched.
func (r *Reconciler) RefreshEvents(ctx context.Context, eventType string) error {
	r.mu.RLock()
	seq := r.pushSeq
	r.mu.RUnlock()

	list, err := r.api.ListEvents(ctx, EventQuery{Type: eventType, Limit: r.cfg.EventPullLimit})
	if err != nil {
		return r.pullFailed("events", err)
	}

	r.mu.Lock()
	evicted := r.events.Replace(list)
	r.eventType = eventType
	for _, p := range r.recentPush {
		if p.seq <= seq {
			continue
		}
		if eventType != "" && p.ev.Type != eventType {
			continue
		}
		_, n := r.events.Prepend(p.ev)
		evicted += n
	}
	r.mu.Unlock()
	r.metrics.evicted("events", evicted)
	r.notify(Change{Kind: ChangeEvents})
	return nil
}

// RefreshRecordings replaces the recording cache. date (YYYY-MM-DD) may be empty.
func (r *Reconciler) RefreshRecordings(ctx context.Context, date string) error {
	list, err := r.api.ListRecordings(ctx, RecordingQuery{Date: date, Limit: r.cfg.RecordingPullLimit})
	if err != nil {
		return r.pullFailed("recordings", err)
	}
	r.mu.Lock()
	evicted := r.recordings.Replace(list)
	r.mu.Unlock()
	r.metrics.evicted("recordings", evicted)
	r.notify(Change{Kind: ChangeRecordings})
	return nil
}

func (r *Reconciler) RefreshSettings(ctx context.Context) error {
	s, err := r.api.Settings(ctx)
	if err != nil {
		return r.pullFailed("settings", err)
	}
	r.mu.Lock()
	r.settings = s
	r.mu.Unlock()
	r.notify(Change{Kind: ChangeSettings})
	return nil
}

func (r *Reconciler) RefreshPTZ(ctx context.Context) error {
	s, err := r.api.PTZStatus(ctx)
	if err != nil {
		return r.pullFailed("ptz", err)
	}
	r.mu.Lock()
	r.ptz = s
	r.mu.Unlock()
	r.notify(Change{Kind: ChangePTZ})
	return nil
}

// RefreshTelemetry pulls the telemetry snapshot; it is the fallback for when the
// channel is not delivering stats. A push that lands while the pull is in flight
// is newer and wins.
func (r *Reconciler) RefreshTelemetry(ctx context.Context) error {
	r.mu.RLock()
	seq := r.statsSeq
	r.mu.RUnlock()

	t, err := r.api.Telemetry(ctx)
	if err != nil {
		return r.pullFailed("telemetry", err)
	}
	r.mu.Lock()
	if r.statsSeq != seq {
		r.mu.Unlock()
		r.log.Debug().Msg("pulled telemetry superseded by push")
		return nil
	}
	r.telemetry = *t
	r.hasTelem = true
	r.mu.Unlock()
	r.notify(Change{Kind: ChangeTelemetry})
	return nil
}

func (r *Reconciler) RefreshSystem(ctx context.Context) error {
	s, err := r.api.SystemStats(ctx)
	if err != nil {
		return r.pullFailed("system", err)
	}
	r.mu.Lock()
	r.system = s
	r.mu.Unlock()
	r.notify(Change{Kind: ChangeSystem})
	return nil
}

func (r *Reconciler) RefreshSummary(ctx context.Context) error {
	s, err := r.api.Summary(ctx)
	if err != nil {
		return r.pullFailed("summary", err)
	}
	r.mu.Lock()
	r.summary = s
	r.mu.Unlock()
	r.notify(Change{Kind: ChangeSummary})
	return nil
}

// RefreshAll pulls events, recordings, settings and PTZ status in parallel. Each
// failure is independent; the returned error joins all of them.
func (r *Reconciler) RefreshAll(ctx context.Context) error {
	r.mu.RLock()
	eventType := r.eventType
	r.mu.RUnlock()

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	run := func(f func(context.Context) error) {
		g.Go(func() error {
			if err := f(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	run(func(ctx context.Context) error { return r.RefreshEvents(ctx, eventType) })
	run(func(ctx context.Context) error { return r.RefreshRecordings(ctx, "") })
	run(r.RefreshSettings)
	run(r.RefreshPTZ)
	g.Wait()
	return errors.Join(errs...)
}

// ----------------------------------------------------------------------------
// Reads
// ----------------------------------------------------------------------------

// Events returns a copy of the event cache, newest first.
func (r *Reconciler) Events() []EventRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.events.Snapshot()
}

// Event looks up by index in the current cache. Indices shift on every insert,
// so callers must not hold on to them.
func (r *Reconciler) Event(i int) (EventRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.events.At(i)
}

// EventByID returns an event and its current index.
func (r *Reconciler) EventByID(key string) (EventRecord, int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.events.Find(key)
}

func (r *Reconciler) Recordings() []RecordingRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recordings.Snapshot()
}

// RecordingsOn filters the cached recordings by local calendar date (YYYY-MM-DD).
func (r *Reconciler) RecordingsOn(date string) []RecordingRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []RecordingRecord
	for _, rec := range r.recordings.items {
		if rec.Date() == date {
			out = append(out, rec)
		}
	}
	return out
}

func (r *Reconciler) RecordingByID(key string) (RecordingRecord, int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recordings.Find(key)
}

// Telemetry returns the latest snapshot and whether one was ever received.
func (r *Reconciler) Telemetry() (TelemetrySnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.telemetry, r.hasTelem
}

func (r *Reconciler) Detections() []Detection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Detection(nil), r.detections...)
}

func (r *Reconciler) Settings() (Settings, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.settings == nil {
		return Settings{}, false
	}
	return *r.settings, true
}

func (r *Reconciler) PTZ() (PTZStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.ptz == nil {
		return PTZStatus{}, false
	}
	return *r.ptz, true
}

func (r *Reconciler) System() SystemStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.system
}

func (r *Reconciler) Summary() (Summary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.summary == nil {
		return Summary{}, false
	}
	return *r.summary, true
}

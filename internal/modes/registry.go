package modes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/continuity/internal/sanitize"
	"github.com/fyrsmithlabs/continuity/internal/statestore"
)

const instrumentationName = "github.com/fyrsmithlabs/continuity/internal/modes"

// DefaultStaleAfter is how long a mode marker stays valid without being
// refreshed.
const DefaultStaleAfter = time.Hour

// State is the persisted marker for one active mode in one session.
type State struct {
	Mode        Mode      `json:"mode"`
	SessionID   string    `json:"session_id"`
	ActivatedAt time.Time `json:"activated_at"`
	// PID of the process that activated the mode, for diagnostics.
	PID int `json:"pid,omitempty"`
}

// Decision is the answer of CanStartMode.
type Decision struct {
	Allowed   bool   `json:"allowed"`
	BlockedBy Mode   `json:"blocked_by,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Registry is the mode registry over a statestore.Store.
//
// Activate and deactivate are primitives: ActivateMode writes without
// checking exclusivity, so callers consult CanStartMode first. Queries
// treat invalid sessions and read failures as "nothing active"; writes
// return their errors.
type Registry struct {
	store      statestore.Store
	catalog    Catalog
	staleAfter time.Duration
	now        func() time.Time
	logger     *zap.Logger
	tracer     trace.Tracer
	metrics    *Metrics
}

// Option configures a Registry.
type Option func(*Registry)

// WithCatalog replaces the built-in mode table.
func WithCatalog(c Catalog) Option {
	return func(r *Registry) { r.catalog = c }
}

// WithStaleAfter sets the staleness threshold.
func WithStaleAfter(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.staleAfter = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithMeter sets the meter used for registry counters.
func WithMeter(m metric.Meter) Option {
	return func(r *Registry) {
		if m != nil {
			r.metrics = newMetrics(m, r.logger)
		}
	}
}

// NewRegistry creates a registry over store.
func NewRegistry(store statestore.Store, opts ...Option) (*Registry, error) {
	if store == nil {
		return nil, errors.New("state store is required")
	}
	r := &Registry{
		store:      store,
		catalog:    DefaultCatalog,
		staleAfter: DefaultStaleAfter,
		now:        time.Now,
		logger:     zap.NewNop(),
		tracer:     otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = newMetrics(otel.Meter(instrumentationName), r.logger)
	}
	return r, nil
}

// Catalog returns the mode table in use.
func (r *Registry) Catalog() Catalog { return r.catalog }

// StaleAfter returns the staleness threshold.
func (r *Registry) StaleAfter() time.Duration { return r.staleAfter }

func (r *Registry) isStale(s State) bool {
	return r.now().Sub(s.ActivatedAt) > r.staleAfter
}

// readState loads a marker. Any failure reads as absent.
func (r *Registry) readState(ctx context.Context, mode Mode, sessionID string) (State, bool) {
	data, err := r.store.Get(ctx, statestore.NamespaceModes, sessionID, string(mode))
	if err != nil {
		if !errors.Is(err, statestore.ErrNotFound) {
			r.logger.Debug("mode state unreadable, treating as inactive",
				zap.String("session_id", sessionID),
				zap.String("mode", string(mode)),
				zap.Error(err))
		}
		return State{}, false
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		r.logger.Debug("mode state corrupt, treating as inactive",
			zap.String("session_id", sessionID),
			zap.String("mode", string(mode)),
			zap.Error(err))
		return State{}, false
	}
	return s, true
}

// ActiveStates returns the non-stale markers of a session, ordered by the
// catalog with unknown modes last.
func (r *Registry) ActiveStates(ctx context.Context, sessionID string) []State {
	if !sanitize.IsValidSessionID(sessionID) {
		return nil
	}
	keys, err := r.store.Keys(ctx, statestore.NamespaceModes, sessionID)
	if err != nil {
		r.logger.Debug("failed to list mode states",
			zap.String("session_id", sessionID), zap.Error(err))
		return nil
	}

	var out []State
	for _, k := range keys {
		s, ok := r.readState(ctx, Mode(k), sessionID)
		if !ok || r.isStale(s) {
			continue
		}
		s.Mode = Mode(k)
		out = append(out, s)
	}
	r.sortStates(out)
	return out
}

func (r *Registry) sortStates(states []State) {
	rank := make(map[Mode]int)
	for i, m := range r.catalog.Modes() {
		rank[m] = i
	}
	sort.SliceStable(states, func(i, j int) bool {
		ri, iok := rank[states[i].Mode]
		rj, jok := rank[states[j].Mode]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return states[i].Mode < states[j].Mode
		}
	})
}

// GetActiveModes lists the active modes of a session.
func (r *Registry) GetActiveModes(ctx context.Context, sessionID string) []Mode {
	states := r.ActiveStates(ctx, sessionID)
	if len(states) == 0 {
		return nil
	}
	out := make([]Mode, len(states))
	for i, s := range states {
		out[i] = s.Mode
	}
	return out
}

// IsModeActive reports whether mode has a fresh marker in the session.
func (r *Registry) IsModeActive(ctx context.Context, mode Mode, sessionID string) bool {
	if !sanitize.IsValidSessionID(sessionID) || sanitize.ValidateRecordKey(string(mode)) != nil {
		return false
	}
	s, ok := r.readState(ctx, mode, sessionID)
	return ok && !r.isStale(s)
}

// IsAnyModeActive reports whether the session has any fresh marker.
func (r *Registry) IsAnyModeActive(ctx context.Context, sessionID string) bool {
	return len(r.ActiveStates(ctx, sessionID)) > 0
}

// CanStartMode reports whether mode may start in the session. An
// exclusive mode is blocked by any other active exclusive mode;
// non-exclusive modes are always allowed.
func (r *Registry) CanStartMode(ctx context.Context, mode Mode, sessionID string) Decision {
	if !sanitize.IsValidSessionID(sessionID) {
		return Decision{Reason: "invalid session id"}
	}
	spec, ok := r.catalog.Lookup(mode)
	if !ok {
		return Decision{Reason: fmt.Sprintf("unknown mode %q", mode)}
	}
	if !spec.Exclusive {
		return Decision{Allowed: true}
	}

	for _, s := range r.ActiveStates(ctx, sessionID) {
		if s.Mode == mode {
			continue
		}
		if other, ok := r.catalog.Lookup(s.Mode); ok && other.Exclusive {
			r.metrics.RecordBlocked(ctx, mode)
			return Decision{
				BlockedBy: s.Mode,
				Reason:    fmt.Sprintf("%s is already active in this session", s.Mode),
			}
		}
	}
	return Decision{Allowed: true}
}

// ActivateMode writes the marker for mode, replacing any previous one.
func (r *Registry) ActivateMode(ctx context.Context, mode Mode, sessionID string) error {
	ctx, span := r.tracer.Start(ctx, "modes.activate")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("mode", string(mode)),
	)

	if err := sanitize.ValidateSessionID(sessionID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid session id")
		return err
	}
	if _, ok := r.catalog.Lookup(mode); !ok {
		err := fmt.Errorf("%w: %q", ErrUnknownMode, mode)
		span.RecordError(err)
		span.SetStatus(codes.Error, "unknown mode")
		return err
	}

	data, err := json.Marshal(State{
		Mode:        mode,
		SessionID:   sessionID,
		ActivatedAt: r.now().UTC(),
		PID:         os.Getpid(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode mode state: %w", err)
	}
	if err := r.store.Put(ctx, statestore.NamespaceModes, sessionID, string(mode), data); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		return fmt.Errorf("failed to activate mode %s: %w", mode, err)
	}

	r.metrics.RecordActivation(ctx, mode)
	r.logger.Info("mode activated",
		zap.String("session_id", sessionID),
		zap.String("mode", string(mode)))
	return nil
}

// DeactivateMode removes the marker. Removing an absent marker succeeds.
func (r *Registry) DeactivateMode(ctx context.Context, mode Mode, sessionID string) error {
	if err := sanitize.ValidateSessionID(sessionID); err != nil {
		return err
	}
	if err := r.store.Delete(ctx, statestore.NamespaceModes, sessionID, string(mode)); err != nil {
		return fmt.Errorf("failed to deactivate mode %s: %w", mode, err)
	}

	r.metrics.RecordDeactivation(ctx, mode)
	r.logger.Info("mode deactivated",
		zap.String("session_id", sessionID),
		zap.String("mode", string(mode)))
	return nil
}

// DeactivateAll removes every marker of a session, stale ones included,
// and returns the modes removed.
func (r *Registry) DeactivateAll(ctx context.Context, sessionID string) ([]Mode, error) {
	if err := sanitize.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	keys, err := r.store.Keys(ctx, statestore.NamespaceModes, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list modes: %w", err)
	}

	var removed []Mode
	var errs []error
	for _, k := range keys {
		if err := r.DeactivateMode(ctx, Mode(k), sessionID); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, Mode(k))
	}
	return removed, errors.Join(errs...)
}

// Sessions lists sessions holding any marker, stale or not.
func (r *Registry) Sessions(ctx context.Context) ([]string, error) {
	return r.store.Sessions(ctx, statestore.NamespaceModes)
}

// CleanupStaleMarkers deletes markers older than the staleness threshold
// across all sessions. Markers that cannot be decoded are removed too.
// It returns the number removed and the joined delete errors.
func (r *Registry) CleanupStaleMarkers(ctx context.Context) (int, error) {
	ctx, span := r.tracer.Start(ctx, "modes.cleanup_stale")
	defer span.End()

	sessions, err := r.store.Sessions(ctx, statestore.NamespaceModes)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	removed := 0
	var errs []error
	for _, sessionID := range sessions {
		keys, err := r.store.Keys(ctx, statestore.NamespaceModes, sessionID)
		if err != nil {
			r.logger.Warn("failed to list modes during sweep",
				zap.String("session_id", sessionID), zap.Error(err))
			continue
		}
		for _, k := range keys {
			if !r.sweepable(ctx, sessionID, k) {
				continue
			}
			if err := r.store.Delete(ctx, statestore.NamespaceModes, sessionID, k); err != nil {
				errs = append(errs, fmt.Errorf("session %s mode %s: %w", sessionID, k, err))
				continue
			}
			removed++
			r.logger.Info("removed stale mode marker",
				zap.String("session_id", sessionID),
				zap.String("mode", k))
		}
	}

	span.SetAttributes(attribute.Int("modes.swept", removed))
	r.metrics.RecordSwept(ctx, removed)
	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sweep incomplete")
		return removed, err
	}
	return removed, nil
}

// sweepable reports whether a marker is stale or undecodable. Markers that
// cannot be read at all are left for the next sweep.
func (r *Registry) sweepable(ctx context.Context, sessionID, key string) bool {
	data, err := r.store.Get(ctx, statestore.NamespaceModes, sessionID, key)
	if err != nil {
		return false
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return true
	}
	return r.isStale(s)
}

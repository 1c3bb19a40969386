package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fyrsmithlabs/continuity/internal/lock"
	"github.com/fyrsmithlabs/continuity/internal/sanitize"
	"github.com/fyrsmithlabs/continuity/internal/statestore"
)

const instrumentationName = "github.com/fyrsmithlabs/continuity/internal/checkpoint"

var (
	// ErrPruneFailed wraps retention failures after a successful write.
	ErrPruneFailed = errors.New("checkpoint retention failed")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("service is closed")

	// ErrNotFound reports a checkpoint ID that resolves to nothing.
	ErrNotFound = errors.New("checkpoint not found")
)

// Service provides checkpoint management operations.
type Service interface {
	// Create builds a checkpoint in memory. It performs no I/O.
	Create(sessionID string, trigger Trigger, payload Payload) (*Checkpoint, error)

	// Save persists a checkpoint and prunes the session to the retention
	// limit. The ID is returned even when only the prune failed; that
	// error wraps ErrPruneFailed.
	Save(ctx context.Context, cp *Checkpoint) (string, error)

	// Load finds a checkpoint by ID in any session.
	Load(ctx context.Context, id string) (*Checkpoint, bool)

	// LoadForSession reads a checkpoint directly.
	LoadForSession(ctx context.Context, sessionID, id string) (*Checkpoint, bool)

	// Latest returns the session's newest checkpoint.
	Latest(ctx context.Context, sessionID string) (*Checkpoint, bool)

	// List returns the session's checkpoints, newest first.
	List(ctx context.Context, sessionID string) []*Checkpoint

	// Sessions lists sessions that have checkpoints.
	Sessions(ctx context.Context) ([]string, error)

	// Delete removes one checkpoint.
	Delete(ctx context.Context, sessionID, id string) error

	// Prune applies the retention limit and returns how many were removed.
	Prune(ctx context.Context, sessionID string) (int, error)

	// Snapshot takes the session lock, builds the payload, then creates
	// and saves a checkpoint. Concurrent calls for one session share a
	// single snapshot. A busy lock yields lock.ErrLockTimeout.
	Snapshot(ctx context.Context, sessionID string, trigger Trigger, build BuildFunc) (*SnapshotResult, error)

	// Close closes the service. The store is owned by the caller.
	Close() error
}

// BuildFunc collects the payload while the session lock is held.
type BuildFunc func(ctx context.Context) (Payload, error)

// SnapshotResult is the outcome of Snapshot.
type SnapshotResult struct {
	Checkpoint *Checkpoint
	// Coalesced reports that the result was shared with a concurrent
	// caller for the same session.
	Coalesced bool
}

// Config configures the checkpoint service.
type Config struct {
	// MaxCheckpointsPerSession limits checkpoints per session (default: 10)
	MaxCheckpointsPerSession int
}

// DefaultServiceConfig returns sensible defaults.
func DefaultServiceConfig() *Config {
	return &Config{
		MaxCheckpointsPerSession: 10,
	}
}

// service implements the Service interface.
type service struct {
	config *Config
	store  statestore.Store
	locker lock.Locker
	logger *zap.Logger
	group  singleflight.Group

	tracer  trace.Tracer
	metrics *metrics

	mu     sync.RWMutex
	closed bool
}

// NewService creates a new checkpoint service. A nil locker uses an
// in-process lock with the default timeout.
func NewService(cfg *Config, store statestore.Store, locker lock.Locker, logger *zap.Logger) (Service, error) {
	if cfg == nil {
		cfg = DefaultServiceConfig()
	}
	if cfg.MaxCheckpointsPerSession < 1 {
		return nil, fmt.Errorf("max checkpoints per session must be positive, got %d", cfg.MaxCheckpointsPerSession)
	}
	if store == nil {
		return nil, errors.New("state store is required")
	}
	if locker == nil {
		locker = lock.NewKeyedLocker(lock.DefaultTimeout)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &service{
		config:  cfg,
		store:   store,
		locker:  locker,
		logger:  logger,
		tracer:  otel.Tracer(instrumentationName),
		metrics: newMetrics(otel.Meter(instrumentationName), logger),
	}, nil
}

func (s *service) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// Create builds a checkpoint. Mode states are copied so later changes to
// the caller's map do not leak into the checkpoint.
func (s *service) Create(sessionID string, trigger Trigger, payload Payload) (*Checkpoint, error) {
	if err := sanitize.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	if !trigger.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTrigger, trigger)
	}

	modeStates := make(map[string]ModeSnapshot, len(payload.ModeStates))
	for k, v := range payload.ModeStates {
		modeStates[k] = v
	}
	return &Checkpoint{
		ID:            newID(),
		SessionID:     sessionID,
		Trigger:       trigger,
		CreatedAt:     time.Now().UTC(),
		ModeStates:    modeStates,
		WorkflowState: append(json.RawMessage(nil), payload.WorkflowState...),
		MemoryContext: append(json.RawMessage(nil), payload.MemoryContext...),
	}, nil
}

// Save persists cp, then prunes.
func (s *service) Save(ctx context.Context, cp *Checkpoint) (string, error) {
	ctx, span := s.tracer.Start(ctx, "checkpoint.save")
	defer span.End()

	if err := s.checkOpen(); err != nil {
		return "", err
	}
	if cp == nil {
		return "", errors.New("checkpoint is nil")
	}
	span.SetAttributes(
		attribute.String("session.id", cp.SessionID),
		attribute.String("checkpoint.id", cp.ID),
		attribute.String("checkpoint.trigger", string(cp.Trigger)),
	)
	if !cp.Trigger.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidTrigger, cp.Trigger)
	}

	data, err := json.Marshal(cp)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	if err := s.store.Put(ctx, statestore.NamespaceCheckpoints, cp.SessionID, cp.ID, data); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		return "", fmt.Errorf("failed to save checkpoint: %w", err)
	}

	s.metrics.recordSave(ctx, cp.Trigger)
	s.logger.Info("saved checkpoint",
		zap.String("id", cp.ID),
		zap.String("session_id", cp.SessionID),
		zap.String("trigger", string(cp.Trigger)),
		zap.Strings("active_modes", cp.ActiveModes()),
	)

	if _, err := s.Prune(ctx, cp.SessionID); err != nil {
		span.RecordError(err)
		return cp.ID, fmt.Errorf("%w: %w", ErrPruneFailed, err)
	}
	return cp.ID, nil
}

// read decodes one checkpoint. corrupt is true when the record exists but
// does not decode.
func (s *service) read(ctx context.Context, sessionID, id string) (cp *Checkpoint, corrupt bool) {
	data, err := s.store.Get(ctx, statestore.NamespaceCheckpoints, sessionID, id)
	if err != nil {
		if !errors.Is(err, statestore.ErrNotFound) {
			s.logger.Debug("checkpoint unreadable",
				zap.String("session_id", sessionID),
				zap.String("id", id),
				zap.Error(err))
		}
		return nil, false
	}
	var out Checkpoint
	if err := json.Unmarshal(data, &out); err != nil {
		s.logger.Warn("checkpoint corrupt",
			zap.String("session_id", sessionID),
			zap.String("id", id),
			zap.Error(err))
		return nil, true
	}
	return &out, false
}

func (s *service) LoadForSession(ctx context.Context, sessionID, id string) (*Checkpoint, bool) {
	if !sanitize.IsValidSessionID(sessionID) || sanitize.ValidateRecordKey(id) != nil {
		return nil, false
	}
	cp, _ := s.read(ctx, sessionID, id)
	return cp, cp != nil
}

func (s *service) Load(ctx context.Context, id string) (*Checkpoint, bool) {
	ctx, span := s.tracer.Start(ctx, "checkpoint.load")
	defer span.End()
	span.SetAttributes(attribute.String("checkpoint.id", id))

	if sanitize.ValidateRecordKey(id) != nil {
		return nil, false
	}
	sessions, err := s.store.Sessions(ctx, statestore.NamespaceCheckpoints)
	if err != nil {
		s.logger.Debug("failed to list checkpoint sessions", zap.Error(err))
		return nil, false
	}
	for _, sessionID := range sessions {
		if cp, _ := s.read(ctx, sessionID, id); cp != nil {
			return cp, true
		}
	}
	return nil, false
}

// listSession returns decodable checkpoints newest first plus the keys of
// corrupt records.
func (s *service) listSession(ctx context.Context, sessionID string) ([]*Checkpoint, []string) {
	if !sanitize.IsValidSessionID(sessionID) {
		return nil, nil
	}
	keys, err := s.store.Keys(ctx, statestore.NamespaceCheckpoints, sessionID)
	if err != nil {
		s.logger.Debug("failed to list checkpoints",
			zap.String("session_id", sessionID), zap.Error(err))
		return nil, nil
	}

	cps := make([]*Checkpoint, 0, len(keys))
	var corrupt []string
	for _, k := range keys {
		cp, bad := s.read(ctx, sessionID, k)
		switch {
		case cp != nil:
			cps = append(cps, cp)
		case bad:
			corrupt = append(corrupt, k)
		}
	}
	newerFirst(cps)
	return cps, corrupt
}

func (s *service) List(ctx context.Context, sessionID string) []*Checkpoint {
	cps, _ := s.listSession(ctx, sessionID)
	if len(cps) == 0 {
		return nil
	}
	return cps
}

func (s *service) Latest(ctx context.Context, sessionID string) (*Checkpoint, bool) {
	cps, _ := s.listSession(ctx, sessionID)
	if len(cps) == 0 {
		return nil, false
	}
	return cps[0], true
}

func (s *service) Sessions(ctx context.Context) ([]string, error) {
	return s.store.Sessions(ctx, statestore.NamespaceCheckpoints)
}

func (s *service) Delete(ctx context.Context, sessionID, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, statestore.NamespaceCheckpoints, sessionID, id); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// Prune deletes checkpoints beyond the retention limit, oldest first.
// Corrupt records are deleted as well.
func (s *service) Prune(ctx context.Context, sessionID string) (int, error) {
	if err := sanitize.ValidateSessionID(sessionID); err != nil {
		return 0, err
	}
	cps, corrupt := s.listSession(ctx, sessionID)

	victims := corrupt
	if excess := len(cps) - s.config.MaxCheckpointsPerSession; excess > 0 {
		for _, cp := range cps[s.config.MaxCheckpointsPerSession:] {
			victims = append(victims, cp.ID)
		}
	}

	removed := 0
	var errs []error
	for _, id := range victims {
		if err := s.store.Delete(ctx, statestore.NamespaceCheckpoints, sessionID, id); err != nil {
			errs = append(errs, fmt.Errorf("checkpoint %s: %w", id, err))
			continue
		}
		removed++
	}

	s.metrics.recordPruned(ctx, removed)
	if removed > 0 {
		s.logger.Debug("pruned checkpoints",
			zap.String("session_id", sessionID),
			zap.Int("removed", removed),
			zap.Int("limit", s.config.MaxCheckpointsPerSession))
	}
	return removed, errors.Join(errs...)
}

// Snapshot runs under the session lock. The first caller's ctx drives the
// shared snapshot.
func (s *service) Snapshot(ctx context.Context, sessionID string, trigger Trigger, build BuildFunc) (*SnapshotResult, error) {
	ctx, span := s.tracer.Start(ctx, "checkpoint.snapshot")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("checkpoint.trigger", string(trigger)),
	)

	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := sanitize.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	if !trigger.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTrigger, trigger)
	}

	// The shared call must not inherit one caller's cancellation; the lock
	// timeout bounds it instead. Each caller still stops waiting on its own
	// ctx.
	flight := context.WithoutCancel(ctx)
	ch := s.group.DoChan(sessionID, func() (v interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("snapshot panicked: %v", r)
			}
		}()
		return s.snapshotLocked(flight, sessionID, trigger, build)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		span.RecordError(ctx.Err())
		span.SetStatus(codes.Error, "snapshot abandoned")
		return nil, ctx.Err()
	}
	v, err, shared := res.Val, res.Err, res.Shared
	if shared {
		s.metrics.recordCoalesced(ctx)
		span.SetAttributes(attribute.Bool("checkpoint.coalesced", true))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "snapshot failed")
		if errors.Is(err, lock.ErrLockTimeout) {
			s.metrics.recordLockTimeout(ctx)
		}
		return nil, err
	}

	cp := v.(*Checkpoint)
	span.SetAttributes(attribute.String("checkpoint.id", cp.ID))
	return &SnapshotResult{Checkpoint: cp, Coalesced: shared}, nil
}

func (s *service) snapshotLocked(ctx context.Context, sessionID string, trigger Trigger, build BuildFunc) (*Checkpoint, error) {
	unlock, err := s.locker.Lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var payload Payload
	if build != nil {
		payload, err = build(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to collect checkpoint state: %w", err)
		}
	}

	cp, err := s.Create(sessionID, trigger, payload)
	if err != nil {
		return nil, err
	}
	if _, err := s.Save(ctx, cp); err != nil {
		if !errors.Is(err, ErrPruneFailed) {
			return nil, err
		}
		s.logger.Warn("checkpoint saved but retention failed",
			zap.String("session_id", sessionID),
			zap.String("id", cp.ID),
			zap.Error(err))
	}
	return cp, nil
}

// Close closes the service.
func (s *service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Package recovery snapshots session state before a context compaction
// and reports it back when a session starts again.
//
// Nothing here reactivates modes on its own. Replay is a separate,
// explicit call.
package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/continuity/internal/checkpoint"
	"github.com/fyrsmithlabs/continuity/internal/lock"
	"github.com/fyrsmithlabs/continuity/internal/modes"
	"github.com/fyrsmithlabs/continuity/internal/sanitize"
	"github.com/fyrsmithlabs/continuity/internal/statestore"
)

// ModeSource is the part of the mode registry recovery needs.
type ModeSource interface {
	GetActiveModes(ctx context.Context, sessionID string) []modes.Mode
	CanStartMode(ctx context.Context, mode modes.Mode, sessionID string) modes.Decision
	ActivateMode(ctx context.Context, mode modes.Mode, sessionID string) error
}

// StateProvider supplies the opaque workflow and memory blobs owned by
// other components. A nil blob is stored as absent.
type StateProvider interface {
	WorkflowState(ctx context.Context, sessionID string) (json.RawMessage, error)
	MemoryContext(ctx context.Context, sessionID string) (json.RawMessage, error)
}

// PreCompactResult is returned to the harness before a compaction.
type PreCompactResult struct {
	Continue      bool   `json:"continue"`
	SystemMessage string `json:"systemMessage,omitempty"`
	CheckpointID  string `json:"checkpoint_id,omitempty"`
	Coalesced     bool   `json:"coalesced,omitempty"`
}

// ReplayResult reports which modes Replay restored.
type ReplayResult struct {
	Restored []modes.Mode              `json:"restored"`
	Blocked  map[modes.Mode]modes.Mode `json:"blocked,omitempty"`
	Failed   map[modes.Mode]string     `json:"failed,omitempty"`
}

// Handler implements pre-compaction snapshots and session-start recovery.
type Handler struct {
	checkpoints checkpoint.Service
	modes       ModeSource
	state       StateProvider
	logger      *zap.Logger
}

// NewHandler wires the handler. state may be nil.
func NewHandler(cps checkpoint.Service, ms ModeSource, state StateProvider, logger *zap.Logger) (*Handler, error) {
	if cps == nil {
		return nil, errors.New("checkpoint service is required")
	}
	if ms == nil {
		return nil, errors.New("mode source is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{checkpoints: cps, modes: ms, state: state, logger: logger}, nil
}

// HandlePreCompact snapshots the session before a compaction. It never
// fails the caller: a busy lock or a write failure is reported in the
// system message and the checkpoint is skipped.
func (h *Handler) HandlePreCompact(ctx context.Context, sessionID string) PreCompactResult {
	return h.snapshot(ctx, sessionID, checkpoint.TriggerCompact)
}

// Snapshot takes a checkpoint with an explicit trigger, with the same soft
// failure handling as HandlePreCompact.
func (h *Handler) Snapshot(ctx context.Context, sessionID string, trigger checkpoint.Trigger) PreCompactResult {
	return h.snapshot(ctx, sessionID, trigger)
}

func (h *Handler) snapshot(ctx context.Context, sessionID string, trigger checkpoint.Trigger) PreCompactResult {
	if !sanitize.IsValidSessionID(sessionID) {
		h.logger.Warn("skipping checkpoint for invalid session id")
		return PreCompactResult{Continue: true, SystemMessage: "Checkpoint skipped: invalid session id."}
	}

	res, err := h.checkpoints.Snapshot(ctx, sessionID, trigger, func(ctx context.Context) (checkpoint.Payload, error) {
		return h.collect(ctx, sessionID), nil
	})
	if err != nil {
		if errors.Is(err, lock.ErrLockTimeout) {
			h.logger.Warn("checkpoint skipped, session lock busy",
				zap.String("session_id", sessionID), zap.Error(err))
			return PreCompactResult{Continue: true, SystemMessage: "Checkpoint skipped: another checkpoint for this session is in progress."}
		}
		h.logger.Error("checkpoint failed",
			zap.String("session_id", sessionID), zap.Error(err))
		return PreCompactResult{Continue: true, SystemMessage: "Checkpoint failed: " + err.Error()}
	}

	cp := res.Checkpoint
	active := cp.ActiveModes()
	msg := fmt.Sprintf("Checkpoint %s saved for session %s", cp.ID, sessionID)
	if len(active) > 0 {
		msg += fmt.Sprintf(" (%d active mode(s))", len(active))
	}
	return PreCompactResult{
		Continue:      true,
		SystemMessage: msg + ".",
		CheckpointID:  cp.ID,
		Coalesced:     res.Coalesced,
	}
}

// collect builds the payload. Collaborator failures drop that blob rather
// than the whole checkpoint.
func (h *Handler) collect(ctx context.Context, sessionID string) checkpoint.Payload {
	p := checkpoint.Payload{ModeStates: map[string]checkpoint.ModeSnapshot{}}
	for _, m := range h.modes.GetActiveModes(ctx, sessionID) {
		p.ModeStates[string(m)] = checkpoint.ModeSnapshot{Active: true}
	}
	if h.state == nil {
		return p
	}

	wf, err := h.state.WorkflowState(ctx, sessionID)
	if err != nil {
		h.logger.Warn("workflow state unavailable",
			zap.String("session_id", sessionID), zap.Error(err))
	} else {
		p.WorkflowState = wf
	}

	mem, err := h.state.MemoryContext(ctx, sessionID)
	if err != nil {
		h.logger.Warn("memory context unavailable",
			zap.String("session_id", sessionID), zap.Error(err))
	} else {
		p.MemoryContext = mem
	}
	return p
}

// CheckRecovery returns the session's latest checkpoint, if any.
func (h *Handler) CheckRecovery(ctx context.Context, sessionID string) (*checkpoint.Checkpoint, bool) {
	return h.checkpoints.Latest(ctx, sessionID)
}

// Replay reactivates every mode recorded as active in cp, asking the
// registry first so exclusivity still holds. Modes blocked by
// another mode are reported in Blocked. Modes that cannot be started at
// all, and write failures, land in Failed; only write failures are
// returned as errors.
func (h *Handler) Replay(ctx context.Context, cp *checkpoint.Checkpoint) (ReplayResult, error) {
	if cp == nil {
		return ReplayResult{}, errors.New("checkpoint is nil")
	}
	if err := sanitize.ValidateSessionID(cp.SessionID); err != nil {
		return ReplayResult{}, err
	}

	var res ReplayResult
	var errs []error
	for _, name := range cp.ActiveModes() {
		m := modes.Mode(name)
		d := h.modes.CanStartMode(ctx, m, cp.SessionID)
		if !d.Allowed && d.BlockedBy == "" {
			if res.Failed == nil {
				res.Failed = map[modes.Mode]string{}
			}
			res.Failed[m] = d.Reason
			continue
		}
		if !d.Allowed {
			if res.Blocked == nil {
				res.Blocked = map[modes.Mode]modes.Mode{}
			}
			res.Blocked[m] = d.BlockedBy
			continue
		}
		if err := h.modes.ActivateMode(ctx, m, cp.SessionID); err != nil {
			if res.Failed == nil {
				res.Failed = map[modes.Mode]string{}
			}
			res.Failed[m] = err.Error()
			errs = append(errs, err)
			continue
		}
		res.Restored = append(res.Restored, m)
	}

	h.logger.Info("replayed checkpoint",
		zap.String("session_id", cp.SessionID),
		zap.String("checkpoint_id", cp.ID),
		zap.Int("restored", len(res.Restored)),
		zap.Int("blocked", len(res.Blocked)))
	return res, errors.Join(errs...)
}

// StoreStateProvider reads workflow and memory blobs that other
// components write to the state store under the key "current".
type StoreStateProvider struct {
	Store statestore.Store
}

// CurrentKey is the record key holding a session's current blob.
const CurrentKey = "current"

func (p StoreStateProvider) WorkflowState(ctx context.Context, sessionID string) (json.RawMessage, error) {
	return p.get(ctx, statestore.NamespaceWorkflow, sessionID)
}

func (p StoreStateProvider) MemoryContext(ctx context.Context, sessionID string) (json.RawMessage, error) {
	return p.get(ctx, statestore.NamespaceMemory, sessionID)
}

func (p StoreStateProvider) get(ctx context.Context, ns statestore.Namespace, sessionID string) (json.RawMessage, error) {
	data, err := p.Store.Get(ctx, ns, sessionID, CurrentKey)
	if errors.Is(err, statestore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%s state for session %s is not valid JSON", ns, sessionID)
	}
	return data, nil
}

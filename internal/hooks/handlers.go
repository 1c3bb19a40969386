package hooks

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/continuity/internal/checkpoint"
	"github.com/fyrsmithlabs/continuity/internal/classify"
	"github.com/fyrsmithlabs/continuity/internal/logging"
	"github.com/fyrsmithlabs/continuity/internal/modes"
	"github.com/fyrsmithlabs/continuity/internal/recovery"
	"github.com/fyrsmithlabs/continuity/internal/sanitize"
	"github.com/fyrsmithlabs/continuity/internal/stop"
)

// ModeController is the part of the mode registry the hooks drive.
type ModeController interface {
	Catalog() modes.Catalog
	CanStartMode(ctx context.Context, mode modes.Mode, sessionID string) modes.Decision
	ActivateMode(ctx context.Context, mode modes.Mode, sessionID string) error
	DeactivateAll(ctx context.Context, sessionID string) ([]modes.Mode, error)
}

// Deps are the handlers the default hooks dispatch to.
type Deps struct {
	Modes    ModeController
	Stop     *stop.Handler
	Recovery *recovery.Handler
}

// Validate reports missing dependencies.
func (d Deps) Validate() error {
	var errs []error
	if d.Modes == nil {
		errs = append(errs, errors.New("mode controller is required"))
	}
	if d.Stop == nil {
		errs = append(errs, errors.New("stop handler is required"))
	}
	if d.Recovery == nil {
		errs = append(errs, errors.New("recovery handler is required"))
	}
	return errors.Join(errs...)
}

// NewDefaultManager builds a manager with the built-in handler for every
// hook type.
func NewDefaultManager(cfg *Config, deps Deps, logger *zap.Logger) (*HookManager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := deps.Validate(); err != nil {
		return nil, err
	}

	m := NewHookManager(cfg, logger)
	d := &dispatcher{cfg: cfg, deps: deps, logger: m.logger}
	m.RegisterHandler(HookStop, d.onStop)
	m.RegisterHandler(HookPreCompact, d.onPreCompact)
	m.RegisterHandler(HookSessionStart, d.onSessionStart)
	m.RegisterHandler(HookUserPromptSubmit, d.onUserPromptSubmit)
	return m, nil
}

type dispatcher struct {
	cfg    *Config
	deps   Deps
	logger *zap.Logger
}

// sessionContext tags ctx with the payload's session id when it is valid.
func sessionContext(ctx context.Context, payload classify.StopContext) (context.Context, string, bool) {
	id := payload.SessionID()
	if !sanitize.IsValidSessionID(id) {
		return ctx, id, false
	}
	return logging.WithSessionID(ctx, id), id, true
}

func (d *dispatcher) onStop(ctx context.Context, payload classify.StopContext) (Output, error) {
	ctx = logging.WithHookEvent(ctx, string(HookStop))
	res := d.deps.Stop.HandleStop(ctx, payload)
	out := Output{
		Continue: true,
		Mode:     string(res.Mode),
		Message:  res.Message,
	}

	if res.Mode != stop.ModeContextLimit || !d.cfg.AutoCheckpointOnContextLimit {
		return out, nil
	}
	ctx, sessionID, ok := sessionContext(ctx, payload)
	if !ok {
		return out, nil
	}
	snap := d.deps.Recovery.Snapshot(ctx, sessionID, checkpoint.TriggerAuto)
	out.CheckpointID = snap.CheckpointID
	out.SystemMessage = snap.SystemMessage
	return out, nil
}

func (d *dispatcher) onPreCompact(ctx context.Context, payload classify.StopContext) (Output, error) {
	ctx = logging.WithHookEvent(ctx, string(HookPreCompact))
	ctx, sessionID, _ := sessionContext(ctx, payload)
	res := d.deps.Recovery.HandlePreCompact(ctx, sessionID)
	return Output{
		Continue:      true,
		SystemMessage: res.SystemMessage,
		CheckpointID:  res.CheckpointID,
	}, nil
}

func (d *dispatcher) onSessionStart(ctx context.Context, payload classify.StopContext) (Output, error) {
	out := Output{Continue: true}
	if !d.cfg.AutoResumeOnStart {
		return out, nil
	}
	ctx = logging.WithHookEvent(ctx, string(HookSessionStart))
	ctx, sessionID, ok := sessionContext(ctx, payload)
	if !ok {
		return out, nil
	}

	cp, found := d.deps.Recovery.CheckRecovery(ctx, sessionID)
	if !found {
		return out, nil
	}
	d.logger.Info("recovery checkpoint found",
		append(logging.ContextFields(ctx), zap.String("checkpoint_id", cp.ID))...)
	out.AdditionalContext = recovery.FormatRecoveryMessage(cp)
	return out, nil
}

func (d *dispatcher) onUserPromptSubmit(ctx context.Context, payload classify.StopContext) (Output, error) {
	out := Output{Continue: true}
	kw, found := classify.GetPrimaryKeyword(payload.Prompt(), classify.DetectOptions{TeamEnabled: d.cfg.TeamEnabled})
	if !found {
		return out, nil
	}
	out.Keyword = string(kw.Type)

	ctx = logging.WithHookEvent(ctx, string(HookUserPromptSubmit))
	ctx, sessionID, ok := sessionContext(ctx, payload)
	if !ok {
		return out, nil
	}

	if kw.Type == classify.KeywordCancel {
		cancelled, err := d.deps.Modes.DeactivateAll(ctx, sessionID)
		if err != nil {
			return out, fmt.Errorf("failed to cancel modes: %w", err)
		}
		if len(cancelled) == 0 {
			out.Message = "No active modes to cancel."
			return out, nil
		}
		names := make([]string, len(cancelled))
		for i, m := range cancelled {
			names[i] = string(m)
		}
		out.Message = "Cancelled modes: " + strings.Join(names, ", ")
		return out, nil
	}

	if !d.cfg.ActivateOnKeyword {
		return out, nil
	}
	mode := modes.Mode(kw.Type)
	if _, known := d.deps.Modes.Catalog().Lookup(mode); !known {
		return out, nil
	}

	ctx = logging.WithMode(ctx, string(mode))
	dec := d.deps.Modes.CanStartMode(ctx, mode, sessionID)
	if !dec.Allowed {
		out.Message = fmt.Sprintf("Cannot start %s: %s", mode, dec.Reason)
		d.logger.Info("keyword activation blocked",
			append(logging.ContextFields(ctx), zap.String("blocked_by", string(dec.BlockedBy)))...)
		return out, nil
	}
	if err := d.deps.Modes.ActivateMode(ctx, mode, sessionID); err != nil {
		return out, fmt.Errorf("failed to activate %s: %w", mode, err)
	}
	out.Message = fmt.Sprintf("Activated %s mode.", mode)
	return out, nil
}

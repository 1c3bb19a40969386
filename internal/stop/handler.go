// Package stop classifies why an agent turn ended.
//
// The handler never blocks the turn: every result has Continue set, and
// the mode and message are advisory.
package stop

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/continuity/internal/classify"
	"github.com/fyrsmithlabs/continuity/internal/modes"
	"github.com/fyrsmithlabs/continuity/internal/sanitize"
)

const instrumentationName = "github.com/fyrsmithlabs/continuity/internal/stop"

// Mode is the stop classification.
type Mode string

const (
	ModeContextLimit   Mode = "context-limit"
	ModeUserAbort      Mode = "user-abort"
	ModeActiveWorkflow Mode = "active-workflow"
	ModeActiveMode     Mode = "active-mode"
	ModeNone           Mode = "none"
)

// DefaultWorkflowContinuationMessage is attached to active-workflow results
// when no message is configured.
const DefaultWorkflowContinuationMessage = "A workflow is still in progress. Continue with the next step."

// Result is the stop decision.
type Result struct {
	// Continue is always true.
	Continue bool   `json:"continue"`
	Mode     Mode   `json:"mode"`
	Message  string `json:"message,omitempty"`
	// Matched is the classifier pattern behind a context-limit or
	// user-abort decision.
	Matched string `json:"matched,omitempty"`
	// ActiveModes lists the modes behind an active-mode decision.
	ActiveModes []string `json:"active_modes,omitempty"`
}

// ModeQuerier reports the active modes of a session.
type ModeQuerier interface {
	GetActiveModes(ctx context.Context, sessionID string) []modes.Mode
}

// Config configures the handler.
type Config struct {
	WorkflowContinuationMessage string
}

// Handler implements the stop decision.
type Handler struct {
	modes     ModeQuerier
	config    Config
	logger    *zap.Logger
	decisions metric.Int64Counter
}

// NewHandler creates a handler. q may be nil, in which case only the
// context's own active_mode hint is consulted.
func NewHandler(q ModeQuerier, cfg Config, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WorkflowContinuationMessage == "" {
		cfg.WorkflowContinuationMessage = DefaultWorkflowContinuationMessage
	}
	h := &Handler{modes: q, config: cfg, logger: logger}

	counter, err := otel.Meter(instrumentationName).Int64Counter(
		"continuity.stop.decisions_total",
		metric.WithDescription("Stop decisions by mode"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		logger.Warn("failed to create decisions counter", zap.Error(err))
	} else {
		h.decisions = counter
	}
	return h
}

// HandleStop classifies sc. Precedence: context-limit, user-abort,
// active-workflow, active-mode, none. It has no side effects besides
// logging and metrics, and recovers from panics in collaborators.
func (h *Handler) HandleStop(ctx context.Context, sc classify.StopContext) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("stop classification panicked", zap.Any("panic", r))
			res = Result{Continue: true, Mode: ModeNone}
		}
		res.Continue = true
		if h.decisions != nil {
			h.decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", string(res.Mode))))
		}
	}()

	if p, ok := classify.ContextLimit.FirstMatch(sc); ok {
		return Result{Mode: ModeContextLimit, Matched: p}
	}
	if p, ok := classify.UserAbort.FirstMatch(sc); ok {
		return Result{Mode: ModeUserAbort, Matched: p}
	}
	if sc.ActiveWorkflow() {
		return Result{Mode: ModeActiveWorkflow, Message: h.config.WorkflowContinuationMessage}
	}
	if active := h.activeModes(ctx, sc); len(active) > 0 {
		return Result{
			Mode:        ModeActiveMode,
			ActiveModes: active,
			Message:     fmt.Sprintf("Active modes: %s", strings.Join(active, ", ")),
		}
	}
	return Result{Mode: ModeNone}
}

// activeModes asks the registry for valid sessions and otherwise falls
// back to the context's active_mode hint.
func (h *Handler) activeModes(ctx context.Context, sc classify.StopContext) []string {
	sessionID := sc.SessionID()
	if h.modes != nil && sanitize.IsValidSessionID(sessionID) {
		found := h.modes.GetActiveModes(ctx, sessionID)
		if len(found) > 0 {
			out := make([]string, len(found))
			for i, m := range found {
				out[i] = string(m)
			}
			return out
		}
		return nil
	}

	switch hint := sc.ActiveModeHint(); hint {
	case "":
		return nil
	case "true":
		return []string{"unknown"}
	default:
		return []string{hint}
	}
}

package hooks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/continuity/internal/classify"
)

const instrumentationName = "github.com/fyrsmithlabs/continuity/internal/hooks"

// MaxInputBytes bounds the hook payload read from stdin.
const MaxInputBytes = 1 << 20

// HookType represents different lifecycle hooks
type HookType string

const (
	// HookStop is called when an agent turn ends
	HookStop HookType = "stop"

	// HookPreCompact is called right before the context is compacted
	HookPreCompact HookType = "pre_compact"

	// HookSessionStart is called when a session starts or resumes
	HookSessionStart HookType = "session_start"

	// HookUserPromptSubmit is called when the user submits a prompt
	HookUserPromptSubmit HookType = "user_prompt_submit"
)

// ErrUnknownHook is returned by ParseHookType.
var ErrUnknownHook = errors.New("unknown hook type")

var harnessNames = map[string]HookType{
	"Stop":             HookStop,
	"PreCompact":       HookPreCompact,
	"SessionStart":     HookSessionStart,
	"UserPromptSubmit": HookUserPromptSubmit,
}

// HookTypes lists the supported hooks.
func HookTypes() []HookType {
	return []HookType{HookStop, HookPreCompact, HookSessionStart, HookUserPromptSubmit}
}

// ParseHookType accepts both the snake_case names and the harness's own
// event names.
func ParseHookType(s string) (HookType, error) {
	s = strings.TrimSpace(s)
	if t, ok := harnessNames[s]; ok {
		return t, nil
	}
	for _, t := range HookTypes() {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownHook, s)
}

// Output is written back to the harness as JSON.
type Output struct {
	Continue          bool   `json:"continue"`
	SystemMessage     string `json:"systemMessage,omitempty"`
	Mode              string `json:"mode,omitempty"`
	Message           string `json:"message,omitempty"`
	CheckpointID      string `json:"checkpoint_id,omitempty"`
	Keyword           string `json:"keyword,omitempty"`
	AdditionalContext string `json:"additionalContext,omitempty"`
}

// merge folds next into o. Messages accumulate; single-valued fields keep
// the first value set.
func (o *Output) merge(next Output) {
	o.SystemMessage = joinLines(o.SystemMessage, next.SystemMessage)
	o.AdditionalContext = joinLines(o.AdditionalContext, next.AdditionalContext)
	o.Message = joinLines(o.Message, next.Message)
	if o.Mode == "" {
		o.Mode = next.Mode
	}
	if o.CheckpointID == "" {
		o.CheckpointID = next.CheckpointID
	}
	if o.Keyword == "" {
		o.Keyword = next.Keyword
	}
}

func joinLines(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + "\n" + b
}

// ReadInput reads and decodes one hook payload.
func ReadInput(r io.Reader) (classify.StopContext, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxInputBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read hook input: %w", err)
	}
	if len(data) > MaxInputBytes {
		return nil, fmt.Errorf("hook input exceeds %d bytes", MaxInputBytes)
	}
	return classify.ParseStopContext(data)
}

// HookHandler is a function that handles a hook event
type HookHandler func(ctx context.Context, payload classify.StopContext) (Output, error)

// HookManager manages lifecycle hooks
type HookManager struct {
	config   *Config
	handlers map[HookType][]HookHandler
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewHookManager creates a new hook manager
func NewHookManager(config *Config, logger *zap.Logger) *HookManager {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HookManager{
		config:   config,
		handlers: make(map[HookType][]HookHandler),
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
	}
}

// RegisterHandler registers a handler for a hook type
func (h *HookManager) RegisterHandler(hookType HookType, handler HookHandler) {
	h.handlers[hookType] = append(h.handlers[hookType], handler)
}

// Execute runs every handler for the hook type and merges their outputs.
// The result always has Continue set; handler errors and panics are
// logged and skipped.
func (h *HookManager) Execute(ctx context.Context, hookType HookType, payload classify.StopContext) Output {
	ctx, span := h.tracer.Start(ctx, "hooks.execute")
	defer span.End()
	span.SetAttributes(attribute.String("hook.event", string(hookType)))

	if payload == nil {
		payload = classify.StopContext{}
	}

	out := Output{Continue: true}
	for i, handler := range h.handlers[hookType] {
		res, err := h.run(ctx, handler, payload)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "hook handler failed")
			h.logger.Error("hook handler failed",
				zap.String("hook", string(hookType)),
				zap.Int("handler", i),
				zap.Error(err))
			continue
		}
		out.merge(res)
	}
	out.Continue = true
	return out
}

func (h *HookManager) run(ctx context.Context, handler HookHandler, payload classify.StopContext) (out Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook handler panicked: %v", r)
		}
	}()
	return handler(ctx, payload)
}

// Config returns the hook configuration
func (h *HookManager) Config() *Config {
	return h.config
}

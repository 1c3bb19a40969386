package hooks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/continuity/internal/checkpoint"
	"github.com/fyrsmithlabs/continuity/internal/classify"
	"github.com/fyrsmithlabs/continuity/internal/modes"
	"github.com/fyrsmithlabs/continuity/internal/recovery"
	"github.com/fyrsmithlabs/continuity/internal/statestore"
	"github.com/fyrsmithlabs/continuity/internal/stop"
)

type harness struct {
	manager  *HookManager
	registry *modes.Registry
	cps      checkpoint.Service
}

func newHarness(t *testing.T, cfg *Config) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store, err := statestore.NewFileStore(t.TempDir())
	require.NoError(t, err)

	reg, err := modes.NewRegistry(store, modes.WithLogger(logger))
	require.NoError(t, err)
	cps, err := checkpoint.NewService(nil, store, nil, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cps.Close() })

	rec, err := recovery.NewHandler(cps, reg, recovery.StoreStateProvider{Store: store}, logger)
	require.NoError(t, err)

	m, err := NewDefaultManager(cfg, Deps{
		Modes:    reg,
		Stop:     stop.NewHandler(reg, stop.Config{}, logger),
		Recovery: rec,
	}, logger)
	require.NoError(t, err)
	return &harness{manager: m, registry: reg, cps: cps}
}

func TestNewDefaultManager_RequiresDeps(t *testing.T) {
	_, err := NewDefaultManager(nil, Deps{}, nil)
	assert.Error(t, err)

	bad := DefaultConfig()
	bad.WorkflowContinuationMessage = ""
	_, err = NewDefaultManager(bad, Deps{}, nil)
	assert.Error(t, err)
}

func TestStopHook_ContextLimitTakesAutoCheckpoint(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	require.NoError(t, h.registry.ActivateMode(ctx, modes.ModeRalph, "s1"))

	out := h.manager.Execute(ctx, HookStop, classify.StopContext{
		"session_id":  "s1",
		"stop_reason": "context_limit_reached",
	})
	assert.True(t, out.Continue)
	assert.Equal(t, string(stop.ModeContextLimit), out.Mode)
	require.NotEmpty(t, out.CheckpointID)

	cp, ok := h.cps.Latest(ctx, "s1")
	require.True(t, ok)
	assert.Equal(t, out.CheckpointID, cp.ID)
	assert.Equal(t, checkpoint.TriggerAuto, cp.Trigger)
	assert.Equal(t, []string{"ralph"}, cp.ActiveModes())
}

func TestStopHook_AutoCheckpointDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoCheckpointOnContextLimit = false
	h := newHarness(t, cfg)

	out := h.manager.Execute(context.Background(), HookStop, classify.StopContext{
		"sessionId":  "s1",
		"stopReason": "max_tokens",
	})
	assert.Equal(t, string(stop.ModeContextLimit), out.Mode)
	assert.Empty(t, out.CheckpointID)
	assert.Empty(t, h.cps.List(context.Background(), "s1"))
}

func TestStopHook_ActiveMode(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	require.NoError(t, h.registry.ActivateMode(ctx, modes.ModeAutopilot, "s2"))

	out := h.manager.Execute(ctx, HookStop, classify.StopContext{"session_id": "s2"})
	assert.True(t, out.Continue)
	assert.Equal(t, string(stop.ModeActiveMode), out.Mode)
	assert.Contains(t, out.Message, "autopilot")
	assert.Empty(t, out.CheckpointID)
}

func TestPreCompactHook(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	require.NoError(t, h.registry.ActivateMode(ctx, modes.ModeAutopilot, "s3"))

	out := h.manager.Execute(ctx, HookPreCompact, classify.StopContext{"session_id": "s3"})
	assert.True(t, out.Continue)
	require.NotEmpty(t, out.CheckpointID)
	assert.Contains(t, out.SystemMessage, out.CheckpointID)

	out = h.manager.Execute(ctx, HookPreCompact, classify.StopContext{"session_id": "../etc"})
	assert.True(t, out.Continue)
	assert.Empty(t, out.CheckpointID)
}

func TestSessionStartHook(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	out := h.manager.Execute(ctx, HookSessionStart, classify.StopContext{"session_id": "s4"})
	assert.Empty(t, out.AdditionalContext)

	require.NoError(t, h.registry.ActivateMode(ctx, modes.ModeSwarm, "s4"))
	h.manager.Execute(ctx, HookPreCompact, classify.StopContext{"session_id": "s4"})

	out = h.manager.Execute(ctx, HookSessionStart, classify.StopContext{"session_id": "s4"})
	assert.True(t, out.Continue)
	assert.Contains(t, out.AdditionalContext, "[SESSION RECOVERY]")
	assert.Contains(t, out.AdditionalContext, "swarm")
}

func TestSessionStartHook_Disabled(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.AutoResumeOnStart = false
	h := newHarness(t, cfg)

	h.manager.Execute(ctx, HookPreCompact, classify.StopContext{"session_id": "s5"})
	out := h.manager.Execute(ctx, HookSessionStart, classify.StopContext{"session_id": "s5"})
	assert.Empty(t, out.AdditionalContext)
}

func TestUserPromptSubmit_Cancel(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	require.NoError(t, h.registry.ActivateMode(ctx, modes.ModeAutopilot, "s6"))
	require.NoError(t, h.registry.ActivateMode(ctx, modes.ModeRalph, "s6"))

	out := h.manager.Execute(ctx, HookUserPromptSubmit, classify.StopContext{
		"session_id": "s6",
		"prompt":     "ralph cancelomc please",
	})
	assert.True(t, out.Continue)
	assert.Equal(t, "cancel", out.Keyword)
	assert.Equal(t, "Cancelled modes: autopilot, ralph", out.Message)
	assert.False(t, h.registry.IsAnyModeActive(ctx, "s6"))

	out = h.manager.Execute(ctx, HookUserPromptSubmit, classify.StopContext{
		"session_id": "s6",
		"prompt":     "stopomc",
	})
	assert.Equal(t, "No active modes to cancel.", out.Message)
}

func TestUserPromptSubmit_ReportsKeywordWithoutActivating(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	out := h.manager.Execute(ctx, HookUserPromptSubmit, classify.StopContext{
		"session_id": "s7",
		"prompt":     "go autopilot on this",
	})
	assert.Equal(t, "autopilot", out.Keyword)
	assert.Empty(t, out.Message)
	assert.False(t, h.registry.IsModeActive(ctx, modes.ModeAutopilot, "s7"))
}

func TestUserPromptSubmit_ActivateOnKeyword(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.ActivateOnKeyword = true
	h := newHarness(t, cfg)

	out := h.manager.Execute(ctx, HookUserPromptSubmit, classify.StopContext{
		"session_id": "s8",
		"userPrompt": "swarm the failing tests",
	})
	assert.Equal(t, "swarm", out.Keyword)
	assert.Equal(t, "Activated swarm mode.", out.Message)
	assert.True(t, h.registry.IsModeActive(ctx, modes.ModeSwarm, "s8"))

	out = h.manager.Execute(ctx, HookUserPromptSubmit, classify.StopContext{
		"session_id": "s8",
		"prompt":     "autopilot now",
	})
	assert.Equal(t, "autopilot", out.Keyword)
	assert.Contains(t, out.Message, "Cannot start autopilot")
	assert.False(t, h.registry.IsModeActive(ctx, modes.ModeAutopilot, "s8"))
}

func TestUserPromptSubmit_NonModeKeyword(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ActivateOnKeyword = true
	h := newHarness(t, cfg)

	out := h.manager.Execute(context.Background(), HookUserPromptSubmit, classify.StopContext{
		"session_id": "s9",
		"prompt":     "please use tdd here",
	})
	assert.Equal(t, "tdd", out.Keyword)
	assert.Empty(t, out.Message)
}

func TestUserPromptSubmit_NoKeyword(t *testing.T) {
	h := newHarness(t, nil)
	out := h.manager.Execute(context.Background(), HookUserPromptSubmit, classify.StopContext{
		"session_id": "s10",
		"prompt":     "fix the flaky test in `autopilot.go`",
	})
	assert.Equal(t, Output{Continue: true}, out)
}

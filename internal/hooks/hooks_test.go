package hooks

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/continuity/internal/classify"
)

func TestParseHookType(t *testing.T) {
	tests := []struct {
		in      string
		want    HookType
		wantErr bool
	}{
		{"stop", HookStop, false},
		{"Stop", HookStop, false},
		{"pre_compact", HookPreCompact, false},
		{"PreCompact", HookPreCompact, false},
		{"session_start", HookSessionStart, false},
		{"SessionStart", HookSessionStart, false},
		{" user_prompt_submit ", HookUserPromptSubmit, false},
		{"UserPromptSubmit", HookUserPromptSubmit, false},
		{"session_end", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseHookType(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownHook)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadInput(t *testing.T) {
	sc, err := ReadInput(strings.NewReader(`{"session_id":"s1","stop_reason":"end_turn"}`))
	require.NoError(t, err)
	assert.Equal(t, "s1", sc.SessionID())

	sc, err = ReadInput(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, sc)

	_, err = ReadInput(strings.NewReader(`[1,2]`))
	assert.Error(t, err)

	big := `{"prompt":"` + strings.Repeat("x", MaxInputBytes) + `"}`
	_, err = ReadInput(strings.NewReader(big))
	assert.Error(t, err)
}

func TestHookManager_ExecuteMergesOutputs(t *testing.T) {
	hm := NewHookManager(nil, nil)
	hm.RegisterHandler(HookStop, func(ctx context.Context, _ classify.StopContext) (Output, error) {
		return Output{Mode: "first", SystemMessage: "one"}, nil
	})
	hm.RegisterHandler(HookStop, func(ctx context.Context, _ classify.StopContext) (Output, error) {
		return Output{Mode: "second", SystemMessage: "two", CheckpointID: "cp"}, nil
	})

	out := hm.Execute(context.Background(), HookStop, nil)
	assert.True(t, out.Continue)
	assert.Equal(t, "first", out.Mode)
	assert.Equal(t, "one\ntwo", out.SystemMessage)
	assert.Equal(t, "cp", out.CheckpointID)
}

func TestHookManager_ExecuteSwallowsFailures(t *testing.T) {
	hm := NewHookManager(DefaultConfig(), nil)
	hm.RegisterHandler(HookPreCompact, func(ctx context.Context, _ classify.StopContext) (Output, error) {
		return Output{}, errors.New("boom")
	})
	hm.RegisterHandler(HookPreCompact, func(ctx context.Context, _ classify.StopContext) (Output, error) {
		panic("worse")
	})
	hm.RegisterHandler(HookPreCompact, func(ctx context.Context, _ classify.StopContext) (Output, error) {
		return Output{Message: "survivor"}, nil
	})

	out := hm.Execute(context.Background(), HookPreCompact, classify.StopContext{})
	assert.True(t, out.Continue)
	assert.Equal(t, "survivor", out.Message)
}

func TestHookManager_NoHandlers(t *testing.T) {
	hm := NewHookManager(nil, nil)
	out := hm.Execute(context.Background(), HookSessionStart, nil)
	assert.Equal(t, Output{Continue: true}, out)
	assert.NotNil(t, hm.Config())
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.WorkflowContinuationMessage = ""
	assert.Error(t, cfg.Validate())

	var nilCfg *Config
	assert.Error(t, nilCfg.Validate())
}

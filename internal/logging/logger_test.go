package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func captureStderr(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := stderr
	stderr = &buf
	t.Cleanup(func() { stderr = prev })
	return &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestNewLogger_WritesToStderr(t *testing.T) {
	buf := captureStderr(t)

	logger, err := NewLogger(nil, nil)
	require.NoError(t, err)

	ctx := WithSessionID(context.Background(), "sess-1")
	logger.Info(ctx, "mode activated", zap.String("mode", "autopilot"))
	require.NoError(t, logger.Sync())

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "mode activated", lines[0]["msg"])
	assert.Equal(t, "sess-1", lines[0]["session.id"])
	assert.Equal(t, "continuity", lines[0]["service"])
	assert.Equal(t, "info", lines[0]["level"])
}

func TestNewLogger_RedactsAndTruncates(t *testing.T) {
	buf := captureStderr(t)

	logger, err := NewLogger(NewDefaultConfig(), nil)
	require.NoError(t, err)

	long := strings.Repeat("p", 100)
	logger.Info(context.Background(), "prompt received",
		zap.String("prompt", long),
		zap.String("api_key", "sk-123"),
		zap.ByteString("workflow_state", []byte(strings.Repeat("w", 80))),
		zap.Any("memory_context", json.RawMessage(`{"a":1}`)),
	)

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, strings.Repeat("p", 64)+"...[truncated:36]", lines[0]["prompt"])
	assert.Equal(t, "[REDACTED]", lines[0]["api_key"])
	assert.Equal(t, strings.Repeat("w", 64)+"...[truncated:16]", lines[0]["workflow_state"])
	assert.Equal(t, "[OMITTED]", lines[0]["memory_context"])
}

func TestNewLogger_WithFieldsAreRedacted(t *testing.T) {
	buf := captureStderr(t)

	logger, err := NewLogger(nil, nil)
	require.NoError(t, err)

	child := logger.With(zap.String("token", "abc"))
	child.Warn(context.Background(), "child log")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "[REDACTED]", lines[0]["token"])
}

func TestNewLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "continuity.log")
	cfg := NewDefaultConfig()
	cfg.Output.Stderr = false
	cfg.Output.File = path

	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	logger.Error(context.Background(), "written to file")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	_, err := NewLogger(cfg, nil)
	assert.Error(t, err)

	cfg = NewDefaultConfig()
	cfg.Output.Stderr = false
	_, err = NewLogger(cfg, nil)
	assert.Error(t, err)

	cfg = NewDefaultConfig()
	cfg.Output.Stderr = false
	cfg.Output.OTEL = true
	_, err = NewLogger(cfg, nil)
	assert.Error(t, err, "otel output without a provider leaves no core")
}

func TestLogger_ContextAwareMethods(t *testing.T) {
	core, observed := observer.New(TraceLevel)
	logger := &Logger{zap: zap.New(core), config: NewDefaultConfig()}
	ctx := WithHookEvent(WithMode(context.Background(), "ralph"), "stop")

	logger.Trace(ctx, "trace message")
	logger.Debug(ctx, "debug message")
	logger.Info(ctx, "info message")
	logger.Warn(ctx, "warn message")
	logger.Error(ctx, "error message")

	entries := observed.All()
	require.Len(t, entries, 5)
	levels := []zapcore.Level{TraceLevel, zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel}
	for i, e := range entries {
		assert.Equal(t, levels[i], e.Level)
		fields := e.ContextMap()
		assert.Equal(t, "ralph", fields["mode"])
		assert.Equal(t, "stop", fields["hook.event"])
	}
}

func TestLogger_TraceDisabled(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	logger := &Logger{zap: zap.New(core), config: NewDefaultConfig()}

	logger.Trace(context.Background(), "hidden")
	assert.Zero(t, observed.Len())
	assert.False(t, logger.Enabled(TraceLevel))
}

func TestLogger_NamedAndUnderlying(t *testing.T) {
	tl := NewTestLogger()
	named := tl.Named("checkpoint")
	named.Info(context.Background(), "hello")

	entries := tl.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "checkpoint", entries[0].LoggerName)
	assert.NotNil(t, named.Underlying())
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	assert.Same(t, tl.Logger, FromContext(ctx))
}

func TestLevelFromString(t *testing.T) {
	l, err := LevelFromString("trace")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, l)

	l, err = LevelFromString("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, l)

	_, err = LevelFromString("loud")
	assert.Error(t, err)
}

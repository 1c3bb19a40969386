package logging

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newTestEncoder(t *testing.T, cfg RedactionConfig) *RedactingEncoder {
	t.Helper()
	enc, err := NewRedactingEncoder(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), cfg)
	require.NoError(t, err)
	return enc
}

func encode(t *testing.T, enc zapcore.Encoder, fields ...zapcore.Field) string {
	t.Helper()
	buf, err := enc.EncodeEntry(zapcore.Entry{Message: "m"}, fields)
	require.NoError(t, err)
	return buf.String()
}

func TestRedactingEncoder_Fields(t *testing.T) {
	enc := newTestEncoder(t, NewDefaultConfig().Redaction)

	out := encode(t, enc,
		zap.String("Password", "hunter2"),
		zap.String("note", "Bearer abc.def"),
		zap.String("session_id", "sess-1"),
		zap.Binary("private_key", []byte("k")),
	)
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, `"Password":"[REDACTED]"`)
	assert.Contains(t, out, `"note":"[REDACTED:pattern]"`)
	assert.Contains(t, out, `"session_id":"sess-1"`)
	assert.Contains(t, out, `"private_key":"[REDACTED]"`)
}

func TestRedactingEncoder_Truncate(t *testing.T) {
	enc := newTestEncoder(t, RedactionConfig{
		Enabled:   true,
		Truncate:  []string{"prompt"},
		MaxLength: 4,
	})

	out := encode(t, enc, zap.String("prompt", "héllo world"))
	assert.Contains(t, out, `"prompt":"héll...[truncated:7]"`)

	out = encode(t, enc, zap.String("prompt", "hi"))
	assert.Contains(t, out, `"prompt":"hi"`)
}

func TestRedactingEncoder_AddMethods(t *testing.T) {
	enc := newTestEncoder(t, NewDefaultConfig().Redaction)
	clone := enc.Clone()

	clone.AddString("secret", "s")
	clone.AddByteString("token", []byte("t"))
	clone.AddString("prompt", strings.Repeat("x", 70))
	require.NoError(t, clone.AddReflected("workflow_state", map[string]int{"step": 1}))
	require.NoError(t, clone.AddReflected("credential", "c"))

	out := encode(t, clone)
	assert.Contains(t, out, `"secret":"[REDACTED]"`)
	assert.Contains(t, out, `"token":"[REDACTED]"`)
	assert.Contains(t, out, "...[truncated:6]")
	assert.Contains(t, out, `"workflow_state":"[OMITTED]"`)
	assert.Contains(t, out, `"credential":"[REDACTED]"`)
}

func TestRedactingEncoder_Disabled(t *testing.T) {
	enc := newTestEncoder(t, RedactionConfig{Enabled: false, Fields: []string{"password"}})
	out := encode(t, enc, zap.String("password", "visible"))
	assert.Contains(t, out, "visible")
}

func TestNewRedactingEncoder_BadPattern(t *testing.T) {
	_, err := NewRedactingEncoder(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), RedactionConfig{
		Enabled:  true,
		Patterns: []string{"("},
	})
	assert.Error(t, err)
}

func TestRedactedString(t *testing.T) {
	f := RedactedString("authorization", "Bearer xyz")
	assert.Equal(t, "[REDACTED:10]", f.String)
}

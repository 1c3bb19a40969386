package logging

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestTestLogger(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithSessionID(context.Background(), "sess-9")

	tl.Info(ctx, "checkpoint saved", zap.String("checkpoint_id", "cp-1"))
	tl.AssertLogged(t, zapcore.InfoLevel, "checkpoint saved")
	tl.AssertNotLogged(t, zapcore.ErrorLevel, "checkpoint saved")
	tl.AssertField(t, "checkpoint saved", "checkpoint_id", "cp-1")
	tl.AssertSessionCorrelation(t, "checkpoint saved", "sess-9")
	tl.AssertNoSecrets(t)

	tl.Reset()
	if len(tl.All()) != 0 {
		t.Fatalf("expected no entries after reset")
	}
}

// Package logging wraps zap for the continuity binary.
//
// Hook invocations answer the harness on stdout, so log output goes to
// stderr, an optional file, and optionally the OpenTelemetry log pipeline.
// Never stdout.
//
// Context helpers attach correlation fields that every ctx-aware call
// picks up:
//
//	ctx = logging.WithSessionID(ctx, "sess-42")
//	ctx = logging.WithHookEvent(ctx, "pre_compact")
//	logger.Info(ctx, "checkpoint saved", zap.String("checkpoint_id", id))
//
// which renders as
//
//	{"level":"info","msg":"checkpoint saved","session.id":"sess-42","hook.event":"pre_compact","checkpoint_id":"..."}
//
// The encoder redacts fields named like secrets and truncates opaque blobs
// such as prompts and workflow state.
//
// Use TestLogger in tests:
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "mode activated")
//	tl.AssertLogged(t, zapcore.InfoLevel, "mode activated")
package logging

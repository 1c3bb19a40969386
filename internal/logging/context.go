package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/continuity/internal/sanitize"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if id := SessionIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("session.id", id))
	}
	if m := ModeFromContext(ctx); m != "" {
		fields = append(fields, zap.String("mode", m))
	}
	if ev := HookEventFromContext(ctx); ev != "" {
		fields = append(fields, zap.String("hook.event", ev))
	}
	return fields
}

type sessionCtxKey struct{}
type modeCtxKey struct{}
type hookCtxKey struct{}

// SessionIDFromContext extracts session ID from context.
func SessionIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(sessionCtxKey{}).(string)
	return s
}

// WithSessionID adds a session ID to ctx. Invalid ids are ignored so they
// never reach log output.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	if !sanitize.IsValidSessionID(sessionID) {
		return ctx
	}
	return context.WithValue(ctx, sessionCtxKey{}, sessionID)
}

// ModeFromContext extracts the mode name from context.
func ModeFromContext(ctx context.Context) string {
	m, _ := ctx.Value(modeCtxKey{}).(string)
	return m
}

// WithMode adds a mode name to ctx.
func WithMode(ctx context.Context, mode string) context.Context {
	if mode == "" {
		return ctx
	}
	return context.WithValue(ctx, modeCtxKey{}, mode)
}

// HookEventFromContext extracts the hook event from context.
func HookEventFromContext(ctx context.Context) string {
	e, _ := ctx.Value(hookCtxKey{}).(string)
	return e
}

// WithHookEvent adds the hook event name to ctx.
func WithHookEvent(ctx context.Context, event string) context.Context {
	if event == "" {
		return ctx
	}
	return context.WithValue(ctx, hookCtxKey{}, event)
}

type loggerCtxKey struct{}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}

// Package telemetry sets up OpenTelemetry tracing and metrics for the
// continuity binary.
//
// Hook invocations are short-lived, so providers use batching exporters
// and the caller must Shutdown before exit to flush:
//
//	tel, err := telemetry.New(ctx, cfg, logger)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// New installs the providers globally, so services that call
// otel.Tracer and otel.Meter pick them up without extra wiring.
//
// An unreachable or misconfigured collector never fails a hook. The
// instance is marked degraded and the global noop providers stay in
// place.
//
// Tests use NewTestTelemetry, which records spans in memory and exposes a
// manual metric reader.
package telemetry

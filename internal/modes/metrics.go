package modes

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Metrics holds mode registry instruments. A nil *Metrics records nothing.
type Metrics struct {
	activations   metric.Int64Counter
	deactivations metric.Int64Counter
	blocked       metric.Int64Counter
	swept         metric.Int64Counter
}

func newMetrics(meter metric.Meter, logger *zap.Logger) *Metrics {
	m := &Metrics{}
	var err error

	m.activations, err = meter.Int64Counter(
		"continuity.modes.activations_total",
		metric.WithDescription("Total number of mode activations"),
		metric.WithUnit("{activation}"),
	)
	if err != nil {
		logger.Warn("failed to create activations counter", zap.Error(err))
	}

	m.deactivations, err = meter.Int64Counter(
		"continuity.modes.deactivations_total",
		metric.WithDescription("Total number of mode deactivations"),
		metric.WithUnit("{deactivation}"),
	)
	if err != nil {
		logger.Warn("failed to create deactivations counter", zap.Error(err))
	}

	m.blocked, err = meter.Int64Counter(
		"continuity.modes.blocked_total",
		metric.WithDescription("Start checks refused because an exclusive mode was active"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		logger.Warn("failed to create blocked counter", zap.Error(err))
	}

	m.swept, err = meter.Int64Counter(
		"continuity.modes.swept_total",
		metric.WithDescription("Stale mode markers removed by sweeps"),
		metric.WithUnit("{marker}"),
	)
	if err != nil {
		logger.Warn("failed to create swept counter", zap.Error(err))
	}
	return m
}

func (m *Metrics) add(ctx context.Context, c metric.Int64Counter, n int64, mode Mode) {
	if m == nil || c == nil || n == 0 {
		return
	}
	if mode == "" {
		c.Add(ctx, n)
		return
	}
	c.Add(ctx, n, metric.WithAttributes(attribute.String("mode", string(mode))))
}

func (m *Metrics) RecordActivation(ctx context.Context, mode Mode) {
	if m != nil {
		m.add(ctx, m.activations, 1, mode)
	}
}

func (m *Metrics) RecordDeactivation(ctx context.Context, mode Mode) {
	if m != nil {
		m.add(ctx, m.deactivations, 1, mode)
	}
}

func (m *Metrics) RecordBlocked(ctx context.Context, mode Mode) {
	if m != nil {
		m.add(ctx, m.blocked, 1, mode)
	}
}

func (m *Metrics) RecordSwept(ctx context.Context, n int) {
	if m != nil {
		m.add(ctx, m.swept, int64(n), "")
	}
}

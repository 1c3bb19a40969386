package checkpoint

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

type metrics struct {
	saves        metric.Int64Counter
	pruned       metric.Int64Counter
	lockTimeouts metric.Int64Counter
	coalesced    metric.Int64Counter
}

func newMetrics(meter metric.Meter, logger *zap.Logger) *metrics {
	m := &metrics{}
	var err error

	m.saves, err = meter.Int64Counter(
		"continuity.checkpoint.saves_total",
		metric.WithDescription("Total number of checkpoints saved"),
		metric.WithUnit("{save}"),
	)
	if err != nil {
		logger.Warn("failed to create save counter", zap.Error(err))
	}

	m.pruned, err = meter.Int64Counter(
		"continuity.checkpoint.pruned_total",
		metric.WithDescription("Checkpoints removed by retention"),
		metric.WithUnit("{checkpoint}"),
	)
	if err != nil {
		logger.Warn("failed to create prune counter", zap.Error(err))
	}

	m.lockTimeouts, err = meter.Int64Counter(
		"continuity.checkpoint.lock_timeouts_total",
		metric.WithDescription("Snapshots skipped because the session lock was busy"),
		metric.WithUnit("{snapshot}"),
	)
	if err != nil {
		logger.Warn("failed to create lock timeout counter", zap.Error(err))
	}

	m.coalesced, err = meter.Int64Counter(
		"continuity.checkpoint.coalesced_total",
		metric.WithDescription("Snapshot calls that shared a concurrent snapshot"),
		metric.WithUnit("{snapshot}"),
	)
	if err != nil {
		logger.Warn("failed to create coalesced counter", zap.Error(err))
	}
	return m
}

func (m *metrics) recordSave(ctx context.Context, t Trigger) {
	if m.saves != nil {
		m.saves.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", string(t))))
	}
}

func (m *metrics) recordPruned(ctx context.Context, n int) {
	if m.pruned != nil && n > 0 {
		m.pruned.Add(ctx, int64(n))
	}
}

func (m *metrics) recordLockTimeout(ctx context.Context) {
	if m.lockTimeouts != nil {
		m.lockTimeouts.Add(ctx, 1)
	}
}

func (m *metrics) recordCoalesced(ctx context.Context) {
	if m.coalesced != nil {
		m.coalesced.Add(ctx, 1)
	}
}

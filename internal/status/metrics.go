package status

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const namespace = "continuity"

var (
	modeActiveDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "mode_active"),
		"Active mode markers by session and mode (1=active)",
		[]string{"session", "mode"}, nil,
	)
	modeAgeDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "mode_age_seconds"),
		"Seconds since the mode was activated",
		[]string{"session", "mode"}, nil,
	)
	checkpointsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "checkpoints"),
		"Retained checkpoints by session",
		[]string{"session"}, nil,
	)
	latestDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "checkpoint_latest_timestamp_seconds"),
		"Creation time of the newest checkpoint by session",
		[]string{"session"}, nil,
	)
	upDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "status_up"),
		"Whether the last status collection read every session (1=complete, 0=partial)",
		nil, nil,
	)
)

// Exporter exposes Collector reports as Prometheus metrics. Each scrape
// builds a fresh report, so values are never stale.
type Exporter struct {
	collector *Collector
	timeout   time.Duration
	logger    *zap.Logger
}

var _ prometheus.Collector = (*Exporter)(nil)

// NewExporter wraps c. A non-positive timeout means 5s per scrape.
func NewExporter(c *Collector, timeout time.Duration, logger *zap.Logger) *Exporter {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{collector: c, timeout: timeout, logger: logger}
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- modeActiveDesc
	ch <- modeAgeDesc
	ch <- checkpointsDesc
	ch <- latestDesc
	ch <- upDesc
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	rep, err := e.collector.Report(ctx)
	up := 1.0
	if err != nil {
		e.logger.Warn("status collection incomplete", zap.Error(err))
		up = 0
	}
	ch <- prometheus.MustNewConstMetric(upDesc, prometheus.GaugeValue, up)
	if rep == nil {
		return
	}

	for _, s := range rep.Sessions {
		for _, m := range s.Modes {
			ch <- prometheus.MustNewConstMetric(modeActiveDesc, prometheus.GaugeValue, 1, s.SessionID, string(m.Mode))
			ch <- prometheus.MustNewConstMetric(modeAgeDesc, prometheus.GaugeValue, m.Age.Seconds(), s.SessionID, string(m.Mode))
		}
		ch <- prometheus.MustNewConstMetric(checkpointsDesc, prometheus.GaugeValue, float64(s.Checkpoints), s.SessionID)
		if s.Latest != nil {
			ch <- prometheus.MustNewConstMetric(latestDesc, prometheus.GaugeValue,
				float64(s.Latest.CreatedAt.Unix()), s.SessionID)
		}
	}
}

// Registry returns a fresh registry holding only this exporter.
func (e *Exporter) Registry() (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(e); err != nil {
		return nil, fmt.Errorf("register status exporter: %w", err)
	}
	return reg, nil
}

// WriteTextfile writes the current metrics in the node_exporter textfile
// format. The file is replaced atomically.
func (e *Exporter) WriteTextfile(path string) error {
	reg, err := e.Registry()
	if err != nil {
		return err
	}
	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("write textfile %s: %w", path, err)
	}
	return nil
}

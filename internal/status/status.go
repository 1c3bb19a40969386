// Package status reports active modes and checkpoints across sessions.
//
// The same Report feeds the CLI, the Prometheus exporter and the live
// dashboard.
package status

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/continuity/internal/checkpoint"
	"github.com/fyrsmithlabs/continuity/internal/modes"
)

// ModeSource is the subset of the mode registry the collector reads.
type ModeSource interface {
	Sessions(ctx context.Context) ([]string, error)
	ActiveStates(ctx context.Context, sessionID string) []modes.State
}

// CheckpointSource is the subset of the checkpoint service the collector reads.
type CheckpointSource interface {
	Sessions(ctx context.Context) ([]string, error)
	List(ctx context.Context, sessionID string) []*checkpoint.Checkpoint
}

// ModeStatus is one active mode.
type ModeStatus struct {
	Mode        modes.Mode    `json:"mode"`
	ActivatedAt time.Time     `json:"activated_at"`
	Age         time.Duration `json:"age_ns"`
	PID         int           `json:"pid,omitempty"`
}

// CheckpointSummary identifies a checkpoint without its payload.
type CheckpointSummary struct {
	ID        string             `json:"id"`
	Trigger   checkpoint.Trigger `json:"trigger"`
	CreatedAt time.Time          `json:"created_at"`
}

// SessionStatus is everything known about one session.
type SessionStatus struct {
	SessionID   string             `json:"session_id"`
	Modes       []ModeStatus       `json:"modes,omitempty"`
	Checkpoints int                `json:"checkpoints"`
	Latest      *CheckpointSummary `json:"latest,omitempty"`
}

// Report is a point-in-time view of the state directory.
type Report struct {
	GeneratedAt   time.Time       `json:"generated_at"`
	Sessions      []SessionStatus `json:"sessions"`
	ActiveModes   int             `json:"active_modes"`
	Checkpoints   int             `json:"checkpoints"`
	MaxPerSession int             `json:"max_per_session,omitempty"`
}

// Collector builds reports.
type Collector struct {
	modes         ModeSource
	checkpoints   CheckpointSource
	maxPerSession int
	now           func() time.Time
	logger        *zap.Logger
}

// Option configures a Collector.
type Option func(*Collector)

// WithMaxPerSession records the checkpoint retention limit in reports.
func WithMaxPerSession(n int) Option {
	return func(c *Collector) { c.maxPerSession = n }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Collector) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCollector creates a collector. Either source may be nil.
func NewCollector(ms ModeSource, cps CheckpointSource, opts ...Option) *Collector {
	c := &Collector{
		modes:       ms,
		checkpoints: cps,
		now:         time.Now,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Report gathers the status of every session, ordered by session ID.
// Listing failures are returned joined alongside whatever could be read.
func (c *Collector) Report(ctx context.Context) (*Report, error) {
	now := c.now()
	rep := &Report{GeneratedAt: now.UTC(), MaxPerSession: c.maxPerSession}

	var errs []error
	seen := make(map[string]struct{})
	if c.modes != nil {
		ids, err := c.modes.Sessions(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("list mode sessions: %w", err))
		}
		for _, id := range ids {
			seen[id] = struct{}{}
		}
	}
	if c.checkpoints != nil {
		ids, err := c.checkpoints.Sessions(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("list checkpoint sessions: %w", err))
		}
		for _, id := range ids {
			seen[id] = struct{}{}
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		s := c.session(ctx, id, now)
		if len(s.Modes) == 0 && s.Checkpoints == 0 {
			continue
		}
		rep.ActiveModes += len(s.Modes)
		rep.Checkpoints += s.Checkpoints
		rep.Sessions = append(rep.Sessions, s)
	}

	if err := errors.Join(errs...); err != nil {
		c.logger.Debug("status report incomplete", zap.Error(err))
		return rep, err
	}
	return rep, nil
}

func (c *Collector) session(ctx context.Context, id string, now time.Time) SessionStatus {
	s := SessionStatus{SessionID: id}
	if c.modes != nil {
		for _, st := range c.modes.ActiveStates(ctx, id) {
			age := now.Sub(st.ActivatedAt)
			if age < 0 {
				age = 0
			}
			s.Modes = append(s.Modes, ModeStatus{
				Mode:        st.Mode,
				ActivatedAt: st.ActivatedAt,
				Age:         age,
				PID:         st.PID,
			})
		}
	}
	if c.checkpoints != nil {
		cps := c.checkpoints.List(ctx, id)
		s.Checkpoints = len(cps)
		if len(cps) > 0 {
			s.Latest = &CheckpointSummary{
				ID:        cps[0].ID,
				Trigger:   cps[0].Trigger,
				CreatedAt: cps[0].CreatedAt,
			}
		}
	}
	return s
}

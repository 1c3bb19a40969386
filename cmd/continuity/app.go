package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/fyrsmithlabs/continuity/internal/checkpoint"
	"github.com/fyrsmithlabs/continuity/internal/config"
	"github.com/fyrsmithlabs/continuity/internal/hooks"
	"github.com/fyrsmithlabs/continuity/internal/lock"
	"github.com/fyrsmithlabs/continuity/internal/logging"
	"github.com/fyrsmithlabs/continuity/internal/modes"
	"github.com/fyrsmithlabs/continuity/internal/recovery"
	"github.com/fyrsmithlabs/continuity/internal/statestore"
	"github.com/fyrsmithlabs/continuity/internal/status"
	"github.com/fyrsmithlabs/continuity/internal/stop"
	"github.com/fyrsmithlabs/continuity/internal/telemetry"
)

// app holds every wired component for one CLI invocation.
type app struct {
	cfg         *config.Config
	logger      *logging.Logger
	telemetry   *telemetry.Telemetry
	store       statestore.Store
	registry    *modes.Registry
	checkpoints checkpoint.Service
	stop        *stop.Handler
	recovery    *recovery.Handler
	hooks       *hooks.HookManager
}

// loadConfig applies the persistent flags on top of config.Load.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if stateDir != "" {
		cfg.State.Dir = config.ExpandHome(stateDir)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loggingConfig(c config.LoggingConfig) (*logging.Config, error) {
	lc := logging.NewDefaultConfig()
	level, err := logging.LevelFromString(c.Level)
	if err != nil {
		return nil, err
	}
	lc.Level = level
	lc.Format = c.Format
	lc.Output.File = c.File
	lc.Output.OTEL = c.OTEL
	return lc, nil
}

func telemetryConfig(c config.TelemetryConfig) *telemetry.Config {
	tc := telemetry.NewDefaultConfig()
	tc.Enabled = c.Enabled
	tc.Endpoint = c.Endpoint
	tc.Protocol = c.Protocol
	tc.ServiceName = c.ServiceName
	tc.ServiceVersion = version
	tc.Insecure = c.Insecure
	tc.SampleRate = c.SampleRate
	tc.Metrics.Enabled = c.MetricsEnabled
	tc.Metrics.ExportInterval = c.MetricsInterval
	tc.Shutdown.Timeout = c.ShutdownTimeout
	return tc
}

func hooksConfig(c config.HooksConfig) *hooks.Config {
	return &hooks.Config{
		TeamEnabled:                  c.TeamEnabled,
		WorkflowContinuationMessage:  c.WorkflowContinuationMessage,
		AutoResumeOnStart:            c.AutoResumeOnStart,
		AutoCheckpointOnContextLimit: c.AutoCheckpointOnContextLimit,
		ActivateOnKeyword:            c.ActivateOnKeyword,
	}
}

func newLocker(c config.CheckpointConfig, dir string) (lock.Locker, error) {
	timeout := c.LockTimeout.Duration()
	if c.LockMode == "file" {
		return lock.NewFileLocker(filepath.Join(dir, "locks"), timeout)
	}
	return lock.NewKeyedLocker(timeout), nil
}

// newApp wires the components described by cfg. The caller must Close it.
func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(ctx)
		}
	}()

	logCfg, err := loggingConfig(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logging config: %w", err)
	}
	if a.logger, err = logging.NewLogger(logCfg, nil); err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	a.telemetry, err = telemetry.New(ctx, telemetryConfig(cfg.Telemetry), a.logger.Underlying())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if logCfg.Output.OTEL {
		// Rebuild with the OTEL bridge now that a provider exists.
		_ = a.logger.Close()
		if a.logger, err = logging.NewLogger(logCfg, a.telemetry.LoggerProvider()); err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}
	zl := a.logger.Underlying()

	a.store, err = statestore.Open(ctx, statestore.Options{
		Backend:     cfg.State.Backend,
		Dir:         cfg.State.Dir,
		SyncWrites:  cfg.State.SyncWrites,
		Logger:      zl,
		OpenTimeout: cfg.Checkpoint.LockTimeout.Duration(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	a.registry, err = modes.NewRegistry(a.store,
		modes.WithStaleAfter(cfg.Modes.StaleAfter.Duration()),
		modes.WithLogger(zl),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mode registry: %w", err)
	}

	locker, err := newLocker(cfg.Checkpoint, cfg.State.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkpoint locker: %w", err)
	}
	a.checkpoints, err = checkpoint.NewService(&checkpoint.Config{
		MaxCheckpointsPerSession: cfg.Checkpoint.MaxPerSession,
	}, a.store, locker, zl)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkpoint service: %w", err)
	}

	a.stop = stop.NewHandler(a.registry, stop.Config{
		WorkflowContinuationMessage: cfg.Hooks.WorkflowContinuationMessage,
	}, zl)

	a.recovery, err = recovery.NewHandler(a.checkpoints, a.registry,
		recovery.StoreStateProvider{Store: a.store}, zl)
	if err != nil {
		return nil, fmt.Errorf("failed to create recovery handler: %w", err)
	}

	a.hooks, err = hooks.NewDefaultManager(hooksConfig(cfg.Hooks), hooks.Deps{
		Modes:    a.registry,
		Stop:     a.stop,
		Recovery: a.recovery,
	}, zl)
	if err != nil {
		return nil, fmt.Errorf("failed to create hook manager: %w", err)
	}
	return a, nil
}

// statusCollector builds a collector over the app's registry and checkpoints.
func (a *app) statusCollector() *status.Collector {
	return status.NewCollector(a.registry, a.checkpoints,
		status.WithMaxPerSession(a.cfg.Checkpoint.MaxPerSession),
		status.WithLogger(a.logger.Underlying()))
}

// Close releases components in reverse order of creation.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.checkpoints != nil {
		errs = append(errs, a.checkpoints.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.telemetry != nil {
		errs = append(errs, a.telemetry.Shutdown(context.WithoutCancel(ctx)))
	}
	if a.logger != nil {
		errs = append(errs, a.logger.Close())
	}
	return errors.Join(errs...)
}

// withApp loads config, wires the app, runs fn and closes the app.
func withApp(ctx context.Context, fn func(*app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(ctx)
	return fn(a)
}

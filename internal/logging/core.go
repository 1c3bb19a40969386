package logging

import (
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zapcore"
)

const otelScope = "github.com/fyrsmithlabs/continuity"

// stderr is swapped in tests.
var stderr io.Writer = os.Stderr

// newCore tees the enabled outputs. The returned closers release opened
// files.
func newCore(cfg *Config, otelProvider log.LoggerProvider) (zapcore.Core, []io.Closer, error) {
	var (
		cores   []zapcore.Core
		closers []io.Closer
	)

	encoder := func() (zapcore.Encoder, error) {
		enc, err := NewRedactingEncoder(newEncoder(cfg.Format), cfg.Redaction)
		if err != nil {
			return nil, fmt.Errorf("failed to create redacting encoder: %w", err)
		}
		return enc, nil
	}

	if cfg.Output.Stderr {
		enc, err := encoder()
		if err != nil {
			return nil, nil, err
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(stderr), cfg.Level))
	}

	if cfg.Output.File != "" {
		enc, err := encoder()
		if err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(cfg.Output.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		closers = append(closers, f)
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(f), cfg.Level))
	}

	if cfg.Output.OTEL && otelProvider != nil {
		cores = append(cores, otelzap.NewCore(otelScope, otelzap.WithLoggerProvider(otelProvider)))
	}

	switch len(cores) {
	case 0:
		return nil, nil, fmt.Errorf("at least one output must be enabled and available")
	case 1:
		return cores[0], closers, nil
	}
	return zapcore.NewTee(cores...), closers, nil
}

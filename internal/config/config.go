// Package config loads continuity configuration.
//
// Values are layered: embedded defaults, then an optional YAML file, then
// CONTINUITY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds the complete continuity configuration.
type Config struct {
	State      StateConfig      `koanf:"state" validate:"required"`
	Modes      ModesConfig      `koanf:"modes"`
	Checkpoint CheckpointConfig `koanf:"checkpoint"`
	Hooks      HooksConfig      `koanf:"hooks"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

// StateConfig selects where mode markers and checkpoints live.
type StateConfig struct {
	Dir        string `koanf:"dir" validate:"required"`
	Backend    string `koanf:"backend" validate:"statebackend"`
	SyncWrites bool   `koanf:"sync_writes"`
}

// ModesConfig tunes the mode registry.
type ModesConfig struct {
	StaleAfter Duration `koanf:"stale_after" validate:"gt=0"`
}

// CheckpointConfig tunes checkpoint retention and locking.
type CheckpointConfig struct {
	MaxPerSession int      `koanf:"max_per_session" validate:"min=1,max=1000"`
	LockTimeout   Duration `koanf:"lock_timeout" validate:"gt=0"`
	LockMode      string   `koanf:"lock_mode" validate:"oneof=process file"`
}

// HooksConfig toggles hook side effects.
type HooksConfig struct {
	TeamEnabled                  bool   `koanf:"team_enabled"`
	WorkflowContinuationMessage  string `koanf:"workflow_continuation_message" validate:"required,max=2000"`
	AutoResumeOnStart            bool   `koanf:"auto_resume_on_start"`
	AutoCheckpointOnContextLimit bool   `koanf:"auto_checkpoint_on_context_limit"`
	ActivateOnKeyword            bool   `koanf:"activate_on_keyword"`
}

// LoggingConfig is the user-facing subset of logging options.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	File   string `koanf:"file"`
	OTEL   bool   `koanf:"otel"`
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Enabled         bool     `koanf:"enabled"`
	Endpoint        string   `koanf:"endpoint" validate:"required_if=Enabled true"`
	Protocol        string   `koanf:"protocol" validate:"oneof=grpc http/protobuf"`
	ServiceName     string   `koanf:"service_name" validate:"required"`
	Insecure        bool     `koanf:"insecure"`
	SampleRate      float64  `koanf:"sample_rate" validate:"gte=0,lte=1"`
	MetricsEnabled  bool     `koanf:"metrics_enabled"`
	MetricsInterval Duration `koanf:"metrics_interval" validate:"gt=0"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// StateBackends lists the accepted state.backend values.
var StateBackends = []string{"file", "badger"}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("statebackend", func(fl validator.FieldLevel) bool {
		backend := strings.ToLower(fl.Field().String())
		for _, b := range StateBackends {
			if backend == b {
				return true
			}
		}
		return false
	})
	return v
}

var validate = newValidator()

// Validate checks every section.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	// Badger admits one process per directory, so opening it already
	// serializes hook processes and a file lock on top never contends.
	if strings.EqualFold(c.State.Backend, "badger") && c.Checkpoint.LockMode == "file" {
		return fmt.Errorf("%w: checkpoint.lock_mode file requires state.backend file", ErrInvalidConfig)
	}
	return nil
}

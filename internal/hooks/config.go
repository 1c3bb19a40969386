package hooks

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/fyrsmithlabs/continuity/internal/stop"
)

// Config holds hook behavior switches.
type Config struct {
	// TeamEnabled allows the team keyword to be detected.
	TeamEnabled bool `koanf:"team_enabled" json:"team_enabled"`

	// WorkflowContinuationMessage is attached to active-workflow stops.
	WorkflowContinuationMessage string `koanf:"workflow_continuation_message" json:"workflow_continuation_message" validate:"required,max=2000"`

	// AutoResumeOnStart adds the recovery message on session start.
	AutoResumeOnStart bool `koanf:"auto_resume_on_start" json:"auto_resume_on_start"`

	// AutoCheckpointOnContextLimit snapshots the session when a stop is
	// classified as context-limit.
	AutoCheckpointOnContextLimit bool `koanf:"auto_checkpoint_on_context_limit" json:"auto_checkpoint_on_context_limit"`

	// ActivateOnKeyword activates the mode named by the primary keyword of
	// a submitted prompt.
	ActivateOnKeyword bool `koanf:"activate_on_keyword" json:"activate_on_keyword"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		WorkflowContinuationMessage:  stop.DefaultWorkflowContinuationMessage,
		AutoResumeOnStart:            true,
		AutoCheckpointOnContextLimit: true,
	}
}

var validate = validator.New()

// Validate validates the configuration
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("hooks config is nil")
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid hooks config: %w", err)
	}
	return nil
}

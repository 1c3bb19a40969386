package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Trigger records why a checkpoint was taken.
type Trigger string

const (
	// TriggerCompact is taken right before a context compaction.
	TriggerCompact Trigger = "compact"
	// TriggerManual is requested by a user or the dashboard.
	TriggerManual Trigger = "manual"
	// TriggerAuto is taken by policy, e.g. on a context-limit stop.
	TriggerAuto Trigger = "auto"
)

// ErrInvalidTrigger is returned for triggers other than the three above.
var ErrInvalidTrigger = errors.New("invalid checkpoint trigger")

// Valid reports whether t is a known trigger.
func (t Trigger) Valid() bool {
	switch t {
	case TriggerCompact, TriggerManual, TriggerAuto:
		return true
	}
	return false
}

// ParseTrigger converts a string to a Trigger.
func ParseTrigger(s string) (Trigger, error) {
	t := Trigger(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidTrigger, s)
	}
	return t, nil
}

// ModeSnapshot is the recorded state of one mode.
type ModeSnapshot struct {
	Active bool `json:"active"`
}

// Checkpoint is a persisted snapshot. It is never modified after save.
type Checkpoint struct {
	// ID is a time-ordered UUID.
	ID string `json:"id"`

	// SessionID is the session this checkpoint belongs to.
	SessionID string `json:"session_id"`

	// Trigger is why the checkpoint was taken.
	Trigger Trigger `json:"trigger"`

	// CreatedAt is when the checkpoint was built.
	CreatedAt time.Time `json:"created_at"`

	// ModeStates maps mode name to its state at snapshot time.
	ModeStates map[string]ModeSnapshot `json:"mode_states"`

	// WorkflowState is owned by the workflow engine and stored verbatim.
	WorkflowState json.RawMessage `json:"workflow_state,omitempty"`

	// MemoryContext is owned by the memory layer and stored verbatim.
	MemoryContext json.RawMessage `json:"memory_context,omitempty"`
}

// ActiveModes returns the modes recorded as active, sorted by name.
func (c *Checkpoint) ActiveModes() []string {
	if c == nil {
		return nil
	}
	var out []string
	for name, st := range c.ModeStates {
		if st.Active {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Payload is the state captured by Create.
type Payload struct {
	ModeStates    map[string]ModeSnapshot
	WorkflowState json.RawMessage
	MemoryContext json.RawMessage
}

// newerFirst orders checkpoints by CreatedAt descending. IDs are
// time-ordered, so equal timestamps fall back to the ID.
func newerFirst(cps []*Checkpoint) {
	sort.SliceStable(cps, func(i, j int) bool {
		if !cps[i].CreatedAt.Equal(cps[j].CreatedAt) {
			return cps[i].CreatedAt.After(cps[j].CreatedAt)
		}
		return cps[i].ID > cps[j].ID
	})
}

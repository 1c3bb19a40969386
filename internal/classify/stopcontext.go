package classify

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StopContext is the loosely structured payload the harness sends when a
// turn ends. Emitters disagree on key casing, so logical fields are read
// through ordered alias lists.
type StopContext map[string]any

// Alias lists per logical field. The snake_case key is listed first and is
// authoritative when both spellings are present.
var (
	StopReasonKeys     = []string{"stop_reason", "stopReason"}
	EndTurnReasonKeys  = []string{"end_turn_reason", "endTurnReason"}
	UserRequestedKeys  = []string{"user_requested", "userRequested"}
	SessionIDKeys      = []string{"session_id", "sessionId"}
	ActiveWorkflowKeys = []string{"active_workflow", "activeWorkflow"}
	ActiveModeKeys     = []string{"active_mode", "activeMode"}
	PromptKeys         = []string{"prompt", "user_prompt", "userPrompt"}
)

// ParseStopContext decodes a JSON object. An empty document yields an empty
// context; anything other than an object is an error.
func ParseStopContext(data []byte) (StopContext, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return StopContext{}, nil
	}
	var sc StopContext
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to decode stop context: %w", err)
	}
	if sc == nil {
		sc = StopContext{}
	}
	return sc, nil
}

// lookup returns the value of the first alias present in the context.
func (c StopContext) lookup(keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := c[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// Text resolves a string field. A present alias holding a non-string
// value resolves to "" rather than falling through to the next alias.
func (c StopContext) Text(keys []string) string {
	v, ok := c.lookup(keys)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Flag resolves a boolean field. Only a real JSON boolean counts; strings
// such as "true" do not.
func (c StopContext) Flag(keys []string) (value, ok bool) {
	v, found := c.lookup(keys)
	if !found {
		return false, false
	}
	b, isBool := v.(bool)
	return b, isBool
}

func (c StopContext) StopReason() string    { return c.Text(StopReasonKeys) }
func (c StopContext) EndTurnReason() string { return c.Text(EndTurnReasonKeys) }
func (c StopContext) SessionID() string     { return c.Text(SessionIDKeys) }
func (c StopContext) Prompt() string        { return c.Text(PromptKeys) }

// UserRequested reports whether the user_requested flag is literally true.
func (c StopContext) UserRequested() bool {
	b, ok := c.Flag(UserRequestedKeys)
	return ok && b
}

// ActiveWorkflow reports whether the harness flagged a running workflow.
func (c StopContext) ActiveWorkflow() bool {
	b, ok := c.Flag(ActiveWorkflowKeys)
	return ok && b
}

// ActiveModeHint returns the harness's own active-mode hint: a mode name,
// "true" for a bare boolean flag, or "" when absent.
func (c StopContext) ActiveModeHint() string {
	v, ok := c.lookup(ActiveModeKeys)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case bool:
		if t {
			return "true"
		}
	}
	return ""
}

// reasons returns the stop-reason style fields checked by the stop
// classifiers, in a fixed order. Empty fields are skipped.
func (c StopContext) reasons() []string {
	out := make([]string, 0, 2)
	for _, s := range []string{c.StopReason(), c.EndTurnReason()} {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

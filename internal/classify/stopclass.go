package classify

// StopClassifier is the shared shape of the stop-event classifiers.
type StopClassifier interface {
	IsMatch(c StopContext) bool
	FirstMatch(c StopContext) (string, bool)
	AllMatches(c StopContext) []string
}

// ContextLimitPatterns are the stop-reason fragments that mean the context
// window was exhausted, in tie-break order.
var ContextLimitPatterns = []string{
	"context_limit",
	"context_window",
	"token_limit",
	"max_tokens",
	"conversation_too_long",
}

// UserAbortExactPatterns must equal the whole field.
var UserAbortExactPatterns = []string{"aborted", "abort", "cancel", "interrupt"}

// UserAbortSubstringPatterns may appear anywhere in the field.
var UserAbortSubstringPatterns = []string{"user_cancel", "user_interrupt", "ctrl_c", "manual_stop"}

// UserRequestedPattern is reported when the user_requested flag is true.
const UserRequestedPattern = "user_requested"

// ContextLimit detects turns that ended on an exhausted context window.
var ContextLimit StopClassifier = contextLimitClassifier{m: NewSubstringMatcher(ContextLimitPatterns...)}

// UserAbort detects turns ended by an explicit human cancel or interrupt.
var UserAbort StopClassifier = userAbortClassifier{
	exact:     NewExactMatcher(UserAbortExactPatterns...),
	substring: NewSubstringMatcher(UserAbortSubstringPatterns...),
}

// IsContextLimitStop reports whether c describes a context-limit stop.
func IsContextLimitStop(c StopContext) bool { return ContextLimit.IsMatch(c) }

// IsUserAbort reports whether c describes a user abort.
func IsUserAbort(c StopContext) bool { return UserAbort.IsMatch(c) }

type contextLimitClassifier struct{ m Matcher }

func (k contextLimitClassifier) IsMatch(c StopContext) bool {
	return k.m.IsMatch(c.reasons()...)
}

func (k contextLimitClassifier) FirstMatch(c StopContext) (string, bool) {
	return k.m.FirstMatch(c.reasons()...)
}

func (k contextLimitClassifier) AllMatches(c StopContext) []string {
	return k.m.AllMatches(c.reasons()...)
}

// userAbortClassifier checks the user_requested flag, then the exact tier,
// then the substring tier.
type userAbortClassifier struct {
	exact     Matcher
	substring Matcher
}

func (k userAbortClassifier) IsMatch(c StopContext) bool {
	_, ok := k.FirstMatch(c)
	return ok
}

func (k userAbortClassifier) FirstMatch(c StopContext) (string, bool) {
	if c.UserRequested() {
		return UserRequestedPattern, true
	}
	reasons := c.reasons()
	if p, ok := k.exact.FirstMatch(reasons...); ok {
		return p, true
	}
	return k.substring.FirstMatch(reasons...)
}

func (k userAbortClassifier) AllMatches(c StopContext) []string {
	var out []string
	if c.UserRequested() {
		out = append(out, UserRequestedPattern)
	}
	reasons := c.reasons()
	out = append(out, k.exact.AllMatches(reasons...)...)
	return append(out, k.substring.AllMatches(reasons...)...)
}

package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatcher_Exact(t *testing.T) {
	m := NewExactMatcher("cancel", "abort")

	assert.True(t, m.IsMatch("cancel"))
	assert.True(t, m.IsMatch("  CANCEL \n"))
	assert.False(t, m.IsMatch("cancelled_order"))
	assert.False(t, m.IsMatch("user_cancel"))
	assert.False(t, m.IsMatch())
	assert.Equal(t, []string{"cancel", "abort"}, m.AllMatches("abort", "cancel"))
}

func TestMatcher_FirstMatchDeclarationOrder(t *testing.T) {
	m := NewSubstringMatcher("b", "a")
	got, ok := m.FirstMatch("xa", "xb")
	assert.True(t, ok)
	assert.Equal(t, "b", got)

	assert.Equal(t, []string{"b", "a"}, m.AllMatches("ab", "ba"))
}

func TestIsContextLimitStop(t *testing.T) {
	tests := []struct {
		name string
		sc   StopContext
		want bool
	}{
		{name: "context window token limit", sc: StopContext{"stop_reason": "context_window_token_limit"}, want: true},
		{name: "camel key", sc: StopContext{"stopReason": "MAX_TOKENS"}, want: true},
		{name: "end turn reason", sc: StopContext{"end_turn_reason": "conversation_too_long"}, want: true},
		{name: "ordinary end", sc: StopContext{"stop_reason": "end_turn"}, want: false},
		{name: "empty", sc: StopContext{}, want: false},
		{name: "non-string reason", sc: StopContext{"stop_reason": []any{"context_limit"}}, want: false},
		{name: "nil", sc: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsContextLimitStop(tt.sc))
		})
	}
}

func TestContextLimit_FirstAndAllMatches(t *testing.T) {
	sc := StopContext{"stop_reason": "context_window_token_limit"}
	first, ok := ContextLimit.FirstMatch(sc)
	assert.True(t, ok)
	assert.Equal(t, "context_window", first)

	sc = StopContext{
		"stop_reason":     "max_tokens",
		"end_turn_reason": "context_limit_reached",
	}
	assert.Equal(t, []string{"context_limit", "max_tokens"}, ContextLimit.AllMatches(sc))

	sc = StopContext{"stop_reason": "token_limit", "end_turn_reason": "token_limit"}
	assert.Equal(t, []string{"token_limit"}, ContextLimit.AllMatches(sc))
}

func TestIsUserAbort(t *testing.T) {
	tests := []struct {
		name string
		sc   StopContext
		want bool
	}{
		{name: "exact cancel", sc: StopContext{"stop_reason": "cancel"}, want: true},
		{name: "exact with padding", sc: StopContext{"stop_reason": "  Aborted "}, want: true},
		{name: "exact tier does not substring match", sc: StopContext{"stop_reason": "cancelled_order"}, want: false},
		{name: "interrupted is not exact", sc: StopContext{"stop_reason": "interrupted_by_system"}, want: false},
		{name: "substring tier", sc: StopContext{"stop_reason": "user_cancelled_by_client"}, want: true},
		{name: "ctrl_c in end turn reason", sc: StopContext{"endTurnReason": "sigint_ctrl_c"}, want: true},
		{name: "user requested true", sc: StopContext{"user_requested": true}, want: true},
		{name: "user requested false", sc: StopContext{"user_requested": false}, want: false},
		{name: "user requested string", sc: StopContext{"userRequested": "yes"}, want: false},
		{name: "empty", sc: StopContext{}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsUserAbort(tt.sc))
		})
	}
}

func TestUserAbort_Matches(t *testing.T) {
	sc := StopContext{"user_requested": true, "stop_reason": "abort", "end_turn_reason": "manual_stop"}

	first, ok := UserAbort.FirstMatch(sc)
	assert.True(t, ok)
	assert.Equal(t, UserRequestedPattern, first)
	assert.Equal(t, []string{UserRequestedPattern, "abort", "manual_stop"}, UserAbort.AllMatches(sc))

	first, ok = UserAbort.FirstMatch(StopContext{"stop_reason": "manual_stop"})
	assert.True(t, ok)
	assert.Equal(t, "manual_stop", first)

	_, ok = UserAbort.FirstMatch(StopContext{})
	assert.False(t, ok)
	assert.Empty(t, UserAbort.AllMatches(StopContext{}))
}

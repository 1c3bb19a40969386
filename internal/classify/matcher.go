package classify

import "strings"

// Matcher tests lowercased values against an ordered literal pattern list.
// Patterns are matched in declaration order, which makes FirstMatch
// deterministic when one value contains several patterns.
type Matcher struct {
	patterns []string
	exact    bool
}

// NewSubstringMatcher matches when a value contains a pattern.
func NewSubstringMatcher(patterns ...string) Matcher {
	return Matcher{patterns: lowerAll(patterns)}
}

// NewExactMatcher matches when the trimmed, lowercased value equals a
// pattern. "cancelled_order" does not match "cancel".
func NewExactMatcher(patterns ...string) Matcher {
	return Matcher{patterns: lowerAll(patterns), exact: true}
}

// Patterns returns a copy of the pattern list.
func (m Matcher) Patterns() []string {
	return append([]string(nil), m.patterns...)
}

func (m Matcher) matches(pattern, value string) bool {
	if m.exact {
		return strings.ToLower(strings.TrimSpace(value)) == pattern
	}
	return strings.Contains(strings.ToLower(value), pattern)
}

// IsMatch reports whether any value matches any pattern.
func (m Matcher) IsMatch(values ...string) bool {
	_, ok := m.FirstMatch(values...)
	return ok
}

// FirstMatch returns the earliest declared pattern matching any value.
func (m Matcher) FirstMatch(values ...string) (string, bool) {
	for _, p := range m.patterns {
		for _, v := range values {
			if m.matches(p, v) {
				return p, true
			}
		}
	}
	return "", false
}

// AllMatches returns every pattern matching at least one value, each once,
// in declaration order.
func (m Matcher) AllMatches(values ...string) []string {
	var out []string
	for _, p := range m.patterns {
		for _, v := range values {
			if m.matches(p, v) {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

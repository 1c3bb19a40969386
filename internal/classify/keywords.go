package classify

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// KeywordType names a directive the user can trigger from a prompt.
type KeywordType string

const (
	KeywordCancel     KeywordType = "cancel"
	KeywordRalph      KeywordType = "ralph"
	KeywordAutopilot  KeywordType = "autopilot"
	KeywordUltrapilot KeywordType = "ultrapilot"
	KeywordTeam       KeywordType = "team"
	KeywordUltrawork  KeywordType = "ultrawork"
	KeywordSwarm      KeywordType = "swarm"
	KeywordPipeline   KeywordType = "pipeline"
	KeywordRalplan    KeywordType = "ralplan"
	KeywordPlan       KeywordType = "plan"
	KeywordTDD        KeywordType = "tdd"
	KeywordUltrathink KeywordType = "ultrathink"
	KeywordDeepsearch KeywordType = "deepsearch"
	KeywordAnalyze    KeywordType = "analyze"
	KeywordCodex      KeywordType = "codex"
	KeywordGemini     KeywordType = "gemini"
)

// KeywordPriority is the conflict-resolution order, highest first.
var KeywordPriority = []KeywordType{
	KeywordCancel,
	KeywordRalph,
	KeywordAutopilot,
	KeywordUltrapilot,
	KeywordTeam,
	KeywordUltrawork,
	KeywordSwarm,
	KeywordPipeline,
	KeywordRalplan,
	KeywordPlan,
	KeywordTDD,
	KeywordUltrathink,
	KeywordDeepsearch,
	KeywordAnalyze,
	KeywordCodex,
	KeywordGemini,
}

var keywordRank = func() map[KeywordType]int {
	m := make(map[KeywordType]int, len(KeywordPriority))
	for i, k := range KeywordPriority {
		m[k] = i
	}
	return m
}()

// DetectedKeyword is one keyword hit in sanitized text.
type DetectedKeyword struct {
	Type KeywordType `json:"type"`
	// Match is the substring that matched, as written by the user.
	Match string `json:"match"`
	// Position is the rune offset of the first occurrence in the sanitized
	// text.
	Position int `json:"position"`
}

// DetectOptions tunes keyword detection.
type DetectOptions struct {
	// TeamEnabled allows the team keyword to be detected at all.
	TeamEnabled bool
}

type keywordRule struct {
	kind    KeywordType
	pattern *regexp.Regexp
	// reject drops a candidate match at byte offset start.
	reject func(text string, start int) bool
}

// keywordRules holds one case-insensitive pattern per keyword type, in
// priority order.
var keywordRules = []keywordRule{
	{kind: KeywordCancel, pattern: regexp.MustCompile(`(?i)\b(?:cancelomc|stopomc)\b`)},
	{kind: KeywordRalph, pattern: regexp.MustCompile(`(?i)\b(?:ralph|don't stop|must complete|until done)\b`)},
	{kind: KeywordAutopilot, pattern: regexp.MustCompile(`(?i)\b(?:autopilot|auto[\s-]pilot|full\s+auto)\b`)},
	{kind: KeywordUltrapilot, pattern: regexp.MustCompile(`(?i)\b(?:ultrapilot|ultra-pilot|parallel\s+build)\b`)},
	{kind: KeywordTeam, pattern: regexp.MustCompile(`(?i)\bteam\b`), reject: afterDeterminer},
	{kind: KeywordUltrawork, pattern: regexp.MustCompile(`(?i)\b(?:ultrawork|ulw)\b`)},
	{kind: KeywordSwarm, pattern: regexp.MustCompile(`(?i)\bswarm\b`)},
	{kind: KeywordPipeline, pattern: regexp.MustCompile(`(?i)\b(?:agent\s+pipeline|pipeline\s+mode|chain\s+agents)\b`)},
	{kind: KeywordRalplan, pattern: regexp.MustCompile(`(?i)\bralplan\b`)},
	{kind: KeywordPlan, pattern: regexp.MustCompile(`(?i)\b(?:plan\s+(?:this|the|it|out)|planning\s+mode)\b`)},
	{kind: KeywordTDD, pattern: regexp.MustCompile(`(?i)\b(?:tdd|test[\s-]first)\b`)},
	{kind: KeywordUltrathink, pattern: regexp.MustCompile(`(?i)\b(?:ultrathink|think\s+hard(?:er)?|think\s+deeply)\b`)},
	{kind: KeywordDeepsearch, pattern: regexp.MustCompile(`(?i)\b(?:deep\s*search|search\s+the\s+codebase)\b`)},
	{kind: KeywordAnalyze, pattern: regexp.MustCompile(`(?i)\b(?:deep\s*analy[sz]e|investigate\s+(?:the|this|why)|debug\s+(?:the|this|why))\b`)},
	{kind: KeywordCodex, pattern: regexp.MustCompile(`(?i)\b(?:ask|use|delegate\s+to)\s+(?:codex|gpt)\b`)},
	{kind: KeywordGemini, pattern: regexp.MustCompile(`(?i)\b(?:ask|use|delegate\s+to)\s+gemini\b`)},
}

var determiners = map[string]struct{}{
	"a": {}, "the": {}, "my": {}, "our": {}, "your": {},
	"his": {}, "her": {}, "their": {}, "its": {},
}

// afterDeterminer rejects "team" used as a plain noun ("my team").
func afterDeterminer(text string, start int) bool {
	fields := strings.Fields(text[:start])
	if len(fields) == 0 {
		return false
	}
	_, ok := determiners[strings.ToLower(fields[len(fields)-1])]
	return ok
}

func (r keywordRule) find(text string) (DetectedKeyword, bool) {
	for _, loc := range r.pattern.FindAllStringIndex(text, -1) {
		if r.reject != nil && r.reject(text, loc[0]) {
			continue
		}
		return DetectedKeyword{
			Type:     r.kind,
			Match:    text[loc[0]:loc[1]],
			Position: utf8.RuneCountInString(text[:loc[0]]),
		}, true
	}
	return DetectedKeyword{}, false
}

// DetectKeywords returns every keyword type found in the sanitized text,
// one hit per type, ordered by position. No conflict resolution is applied.
func DetectKeywords(text string, opts DetectOptions) []DetectedKeyword {
	clean := SanitizeText(text)
	if strings.TrimSpace(clean) == "" {
		return nil
	}

	var found []DetectedKeyword
	for _, rule := range keywordRules {
		if rule.kind == KeywordTeam && !opts.TeamEnabled {
			continue
		}
		if hit, ok := rule.find(clean); ok {
			found = append(found, hit)
		}
	}

	sort.SliceStable(found, func(i, j int) bool {
		if found[i].Position != found[j].Position {
			return found[i].Position < found[j].Position
		}
		return keywordRank[found[i].Type] < keywordRank[found[j].Type]
	})
	return found
}

// resolve applies conflict rules and returns the survivors in priority
// order.
func resolve(hits []DetectedKeyword) []DetectedKeyword {
	byType := make(map[KeywordType]DetectedKeyword, len(hits))
	for _, h := range hits {
		byType[h.Type] = h
	}
	if c, ok := byType[KeywordCancel]; ok {
		return []DetectedKeyword{c}
	}
	if _, ok := byType[KeywordTeam]; ok {
		delete(byType, KeywordAutopilot)
	}

	out := make([]DetectedKeyword, 0, len(byType))
	for _, k := range KeywordPriority {
		if h, ok := byType[k]; ok {
			out = append(out, h)
		}
	}
	return out
}

// GetAllKeywords returns the keyword types that survive conflict
// resolution, highest priority first.
func GetAllKeywords(text string, opts DetectOptions) []KeywordType {
	resolved := resolve(DetectKeywords(text, opts))
	if len(resolved) == 0 {
		return nil
	}
	out := make([]KeywordType, len(resolved))
	for i, h := range resolved {
		out[i] = h.Type
	}
	return out
}

// GetPrimaryKeyword returns the highest-priority surviving keyword.
func GetPrimaryKeyword(text string, opts DetectOptions) (DetectedKeyword, bool) {
	resolved := resolve(DetectKeywords(text, opts))
	if len(resolved) == 0 {
		return DetectedKeyword{}, false
	}
	return resolved[0], true
}

// HasKeyword reports whether any keyword is present.
func HasKeyword(text string, opts DetectOptions) bool {
	return len(DetectKeywords(text, opts)) > 0
}

package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keywordTypes(hits []DetectedKeyword) []KeywordType {
	out := make([]KeywordType, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.Type)
	}
	return out
}

func TestDetectKeywords(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		opts    DetectOptions
		want    []KeywordType
		notWant []KeywordType
	}{
		{name: "plain autopilot", text: "use autopilot mode", want: []KeywordType{KeywordAutopilot}},
		{name: "inline code excluded", text: "use `autopilot` in code", notWant: []KeywordType{KeywordAutopilot}},
		{name: "fenced code excluded", text: "look:\n```\nralph autopilot\n```\ndone", notWant: []KeywordType{KeywordRalph, KeywordAutopilot}},
		{name: "tilde fence excluded", text: "~~~go\nulw\n~~~", notWant: []KeywordType{KeywordUltrawork}},
		{name: "tag content excluded", text: "<system-reminder>autopilot is on</system-reminder> hello", notWant: []KeywordType{KeywordAutopilot}},
		{name: "url excluded", text: "see https://example.com/autopilot/docs", notWant: []KeywordType{KeywordAutopilot}},
		{name: "path excluded", text: "open ./scripts/ralph.sh and /opt/swarm/run", notWant: []KeywordType{KeywordRalph, KeywordSwarm}},
		{name: "ulw alias", text: "ULW fix the tests", want: []KeywordType{KeywordUltrawork}},
		{name: "team disabled by default", text: "team mode please", notWant: []KeywordType{KeywordTeam}},
		{name: "team enabled", text: "team mode please", opts: DetectOptions{TeamEnabled: true}, want: []KeywordType{KeywordTeam}},
		{name: "team as plain noun", text: "tell my team", opts: DetectOptions{TeamEnabled: true}, notWant: []KeywordType{KeywordTeam}},
		{name: "tdd and ultrathink", text: "tdd this and think hard", want: []KeywordType{KeywordTDD, KeywordUltrathink}},
		{name: "gemini", text: "ask gemini for a review", want: []KeywordType{KeywordGemini}},
		{name: "word boundary", text: "the autopilots are here", notWant: []KeywordType{KeywordAutopilot}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := keywordTypes(DetectKeywords(tt.text, tt.opts))
			for _, w := range tt.want {
				assert.Contains(t, got, w)
			}
			for _, nw := range tt.notWant {
				assert.NotContains(t, got, nw)
			}
		})
	}
}

func TestDetectKeywords_MatchAndPosition(t *testing.T) {
	hits := DetectKeywords("please Autopilot now", DetectOptions{})
	require.Len(t, hits, 1)
	assert.Equal(t, KeywordAutopilot, hits[0].Type)
	assert.Equal(t, "Autopilot", hits[0].Match)
	assert.Equal(t, 7, hits[0].Position)

	hits = DetectKeywords("héllo ralph", DetectOptions{})
	require.Len(t, hits, 1)
	assert.Equal(t, 6, hits[0].Position)
}

func TestDetectKeywords_OrderedByPosition(t *testing.T) {
	hits := DetectKeywords("ulw then ralph", DetectOptions{})
	assert.Equal(t, []KeywordType{KeywordUltrawork, KeywordRalph}, keywordTypes(hits))
}

func TestGetAllKeywords(t *testing.T) {
	assert.Equal(t, []KeywordType{KeywordCancel}, GetAllKeywords("cancelomc and autopilot", DetectOptions{}))

	got := GetAllKeywords("use autopilot and team mode", DetectOptions{TeamEnabled: true})
	assert.Contains(t, got, KeywordTeam)
	assert.NotContains(t, got, KeywordAutopilot)

	got = GetAllKeywords("use autopilot and team mode", DetectOptions{})
	assert.Equal(t, []KeywordType{KeywordAutopilot}, got)

	got = GetAllKeywords("ulw first, then ralph", DetectOptions{})
	assert.Equal(t, []KeywordType{KeywordRalph, KeywordUltrawork}, got, "priority order, not text order")
}

func TestGetAllKeywords_NonASCIITags(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []KeywordType
	}{
		{name: "invalid utf8 inside tag", in: "<b>\xff\xff</b> ralph", want: []KeywordType{KeywordRalph}},
		{name: "byte growing fold inside tag", in: "<note>ȺȺȺȺ</note> cancelomc", want: []KeywordType{KeywordCancel}},
		{name: "dotted capital I inside tag", in: "<b>İ</b> use autopilot", want: []KeywordType{KeywordAutopilot}},
		{name: "keyword inside tag stays hidden", in: "<b>İ ralph</b> nothing", want: []KeywordType{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []KeywordType
			require.NotPanics(t, func() { got = GetAllKeywords(tt.in, DetectOptions{}) })
			assert.ElementsMatch(t, tt.want, got)
		})
	}
}

func TestGetPrimaryKeyword(t *testing.T) {
	kw, ok := GetPrimaryKeyword("deepsearch then autopilot", DetectOptions{})
	require.True(t, ok)
	assert.Equal(t, KeywordAutopilot, kw.Type)
	assert.Equal(t, "autopilot", kw.Match)

	_, ok = GetPrimaryKeyword("nothing to see", DetectOptions{})
	assert.False(t, ok)
}

func TestKeywordDetection_EmptyInput(t *testing.T) {
	assert.Empty(t, DetectKeywords("", DetectOptions{}))
	assert.Empty(t, GetAllKeywords("   ", DetectOptions{TeamEnabled: true}))
	assert.False(t, HasKeyword("", DetectOptions{}))
	_, ok := GetPrimaryKeyword("", DetectOptions{})
	assert.False(t, ok)
}

func TestKeywordPriorityCoversRules(t *testing.T) {
	require.Len(t, keywordRules, len(KeywordPriority))
	for i, r := range keywordRules {
		assert.Equal(t, KeywordPriority[i], r.kind)
	}
}

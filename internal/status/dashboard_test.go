package status

import (
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDashboard() Dashboard {
	ms, cps := newFixture()
	c := NewCollector(ms, cps, WithMaxPerSession(10), WithClock(func() time.Time { return testNow }))
	return NewDashboard(c, time.Second)
}

func TestNewDashboard_DefaultInterval(t *testing.T) {
	d := NewDashboard(NewCollector(nil, nil), 0)
	assert.Equal(t, 2*time.Second, d.interval)
	assert.False(t, d.quitting)
}

func TestDashboard_Init(t *testing.T) {
	assert.NotNil(t, newTestDashboard().Init())
}

func TestDashboard_QuitKey(t *testing.T) {
	updated, cmd := newTestDashboard().Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	d := updated.(Dashboard)
	assert.True(t, d.quitting)
	assert.NotNil(t, cmd)
	assert.Empty(t, d.View())
}

func TestDashboard_RefreshKey(t *testing.T) {
	updated, cmd := newTestDashboard().Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}})
	require.NotNil(t, cmd)
	assert.False(t, updated.(Dashboard).quitting)

	msg, ok := cmd().(reportMsg)
	require.True(t, ok)
	require.NoError(t, msg.err)
	assert.Len(t, msg.report.Sessions, 2)
}

func TestDashboard_TickSchedulesRefresh(t *testing.T) {
	_, cmd := newTestDashboard().Update(tickMsg(time.Now()))
	assert.NotNil(t, cmd)
}

func TestDashboard_ReportUpdatesView(t *testing.T) {
	d := newTestDashboard()
	assert.Contains(t, d.View(), "collecting...")

	rep, err := d.collector.Report(t.Context())
	require.NoError(t, err)
	updated, _ := d.Update(reportMsg{report: rep})
	d = updated.(Dashboard)

	assert.Equal(t, []float64{2}, d.modeHistory)
	assert.Equal(t, []float64{3}, d.checkpointHistory)
	view := d.View()
	assert.Contains(t, view, "sess-a")
	assert.Contains(t, view, "sess-b")
	assert.Contains(t, view, "ralph (5m)")
	assert.Contains(t, view, "cp-3")
}

func TestDashboard_ErrorKeepsLastReport(t *testing.T) {
	d := newTestDashboard()
	rep, err := d.collector.Report(t.Context())
	require.NoError(t, err)
	updated, _ := d.Update(reportMsg{report: rep})
	updated, _ = updated.(Dashboard).Update(reportMsg{err: errors.New("disk gone")})
	d = updated.(Dashboard)

	assert.Same(t, rep, d.report)
	assert.Contains(t, d.View(), "disk gone")
}

func TestAppendToHistory_Bounded(t *testing.T) {
	var h []float64
	for i := 0; i < historySize+5; i++ {
		h = appendToHistory(h, float64(i))
	}
	assert.Len(t, h, historySize)
	assert.Equal(t, float64(5), h[0])
}

package status

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
	refreshTimeout  = 5 * time.Second
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	activeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// Dashboard is the bubbletea model behind `continuity status --watch`.
type Dashboard struct {
	collector  *Collector
	interval   time.Duration
	report     *Report
	lastUpdate time.Time
	err        error
	quitting   bool

	modeHistory       []float64
	checkpointHistory []float64
	retention         progress.Model
}

// NewDashboard creates a dashboard refreshing every interval.
func NewDashboard(c *Collector, interval time.Duration) Dashboard {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return Dashboard{
		collector: c,
		interval:  interval,
		retention: progress.New(
			progress.WithGradient("#00ff00", "#ff0000"),
			progress.WithWidth(30),
		),
		modeHistory:       make([]float64, 0, historySize),
		checkpointHistory: make([]float64, 0, historySize),
	}
}

type tickMsg time.Time

type reportMsg struct {
	report *Report
	err    error
}

// Init implements tea.Model.
func (d Dashboard) Init() tea.Cmd {
	return tea.Batch(tick(d.interval), d.refresh())
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (d Dashboard) refresh() tea.Cmd {
	c := d.collector
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		rep, err := c.Report(ctx)
		return reportMsg{report: rep, err: err}
	}
}

// Update implements tea.Model.
func (d Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			d.quitting = true
			return d, tea.Quit
		case "r":
			return d, d.refresh()
		}

	case tickMsg:
		return d, tea.Batch(tick(d.interval), d.refresh())

	case reportMsg:
		d.err = msg.err
		if msg.report != nil {
			d.report = msg.report
			d.lastUpdate = msg.report.GeneratedAt
			d.modeHistory = appendToHistory(d.modeHistory, float64(msg.report.ActiveModes))
			d.checkpointHistory = appendToHistory(d.checkpointHistory, float64(msg.report.Checkpoints))
		}
		return d, nil
	}
	return d, nil
}

func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

func renderSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}
	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	spark.Draw()
	return sparklineStyle.Render(spark.View())
}

// View implements tea.Model.
func (d Dashboard) View() string {
	if d.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(" continuity status ") + "\n")

	updated := "never"
	if !d.lastUpdate.IsZero() {
		updated = d.lastUpdate.Local().Format("3:04:05 PM")
	}
	b.WriteString(dimStyle.Render("updated "+updated) + "\n")

	if d.err != nil {
		b.WriteString(warningStyle.Render("partial: ") + errorStyle.Render(d.err.Error()) + "\n")
	}

	if d.report == nil {
		b.WriteString("\n" + dimStyle.Render("collecting...") + "\n")
	} else {
		d.renderReport(&b)
	}

	b.WriteString(footerStyle.Render(
		footerKeyStyle.Render("[q]") + " quit  " +
			footerKeyStyle.Render("[r]") + " refresh  " +
			fmt.Sprintf("auto: %v", d.interval)))

	return containerStyle.Render(b.String())
}

func (d Dashboard) renderReport(b *strings.Builder) {
	rep := d.report

	b.WriteString("\n" + sectionStyle.Render("┃ Totals") + "\n")
	b.WriteString(labelStyle.Render("  Active modes: ") +
		valueStyle.Render(fmt.Sprintf("%d", rep.ActiveModes)) + "   " +
		renderSparkline(d.modeHistory) + "\n")
	b.WriteString(labelStyle.Render("  Checkpoints:  ") +
		valueStyle.Render(fmt.Sprintf("%d", rep.Checkpoints)) + "   " +
		renderSparkline(d.checkpointHistory) + "\n")

	b.WriteString("\n" + sectionStyle.Render("┃ Sessions") + "\n")
	if len(rep.Sessions) == 0 {
		b.WriteString(dimStyle.Render("  no sessions with active modes or checkpoints") + "\n")
		return
	}
	for _, s := range rep.Sessions {
		badge := dimStyle.Render("[idle]")
		if len(s.Modes) > 0 {
			badge = activeStyle.Render("[active]")
		}
		b.WriteString("  " + valueStyle.Render(s.SessionID) + " " + badge + "\n")
		b.WriteString(labelStyle.Render("    modes: ") + FormatModes(s.Modes) + "\n")

		line := labelStyle.Render("    checkpoints: ") + valueStyle.Render(fmt.Sprintf("%d", s.Checkpoints))
		if rep.MaxPerSession > 0 {
			fill := float64(s.Checkpoints) / float64(rep.MaxPerSession)
			if fill > 1 {
				fill = 1
			}
			line += dimStyle.Render(fmt.Sprintf("/%d ", rep.MaxPerSession)) + d.retention.ViewAs(fill)
		}
		b.WriteString(line + "\n")

		if s.Latest != nil {
			b.WriteString(labelStyle.Render("    latest: ") + s.Latest.ID +
				dimStyle.Render(fmt.Sprintf(" (%s, %s ago)", s.Latest.Trigger,
					FormatAge(rep.GeneratedAt.Sub(s.Latest.CreatedAt)))) + "\n")
		}
	}
}

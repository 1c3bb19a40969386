package status

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// FormatAge renders a duration as "Xh Ym", "Xm" or "Xs".
func FormatAge(d time.Duration) string {
	seconds := int64(d / time.Second)
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm", minutes)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// FormatModes joins mode names with their age, e.g. "ralph (5m), swarm (1h 2m)".
func FormatModes(ms []ModeStatus) string {
	if len(ms) == 0 {
		return "none"
	}
	parts := make([]string, len(ms))
	for i, m := range ms {
		parts[i] = fmt.Sprintf("%s (%s)", m.Mode, FormatAge(m.Age))
	}
	return strings.Join(parts, ", ")
}

// WriteText renders a report as plain text, one block per session.
func WriteText(w io.Writer, rep *Report) error {
	if rep == nil || len(rep.Sessions) == 0 {
		_, err := fmt.Fprintln(w, "No sessions with active modes or checkpoints.")
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d session(s), %d active mode(s), %d checkpoint(s)\n",
		len(rep.Sessions), rep.ActiveModes, rep.Checkpoints)
	for _, s := range rep.Sessions {
		fmt.Fprintf(&b, "\n%s\n", s.SessionID)
		fmt.Fprintf(&b, "  modes:       %s\n", FormatModes(s.Modes))
		if rep.MaxPerSession > 0 {
			fmt.Fprintf(&b, "  checkpoints: %d/%d\n", s.Checkpoints, rep.MaxPerSession)
		} else {
			fmt.Fprintf(&b, "  checkpoints: %d\n", s.Checkpoints)
		}
		if s.Latest != nil {
			fmt.Fprintf(&b, "  latest:      %s (%s, %s ago)\n",
				s.Latest.ID, s.Latest.Trigger, FormatAge(rep.GeneratedAt.Sub(s.Latest.CreatedAt)))
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/continuity/internal/hooks"
	"github.com/fyrsmithlabs/continuity/internal/status"
)

var (
	statusTextfile string
	statusWatch    bool
	statusInterval time.Duration
)

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(statuslineCmd)

	statusCmd.Flags().StringVar(&statusTextfile, "textfile", "", "also write Prometheus metrics to this file (node_exporter textfile format)")
	statusCmd.Flags().BoolVar(&statusWatch, "watch", false, "open a live dashboard")
	statusCmd.Flags().DurationVar(&statusInterval, "interval", 2*time.Second, "dashboard refresh interval")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show active modes and checkpoints across sessions",
	Long: `Show active modes and checkpoints across every session in the state
directory.

Examples:
  # One-shot report
  continuity status

  # Export for the node_exporter textfile collector
  continuity status --textfile /var/lib/node_exporter/continuity.prom

  # Live dashboard
  continuity status --watch`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var statuslineCmd = &cobra.Command{
	Use:   "statusline",
	Short: "Print a one-line session summary for the harness status bar",
	Long: `Print a one-line summary of the session named in the JSON payload on
stdin, for use as the harness statusline command. It never fails.

Example:
  echo '{"session_id":"abc"}' | continuity statusline`,
	Args: cobra.NoArgs,
	RunE: runStatusline,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	return withApp(ctx, func(a *app) error {
		collector := a.statusCollector()

		if statusTextfile != "" {
			exp := status.NewExporter(collector, 0, a.logger.Underlying())
			if err := exp.WriteTextfile(statusTextfile); err != nil {
				return err
			}
		}

		if statusWatch {
			p := tea.NewProgram(status.NewDashboard(collector, statusInterval),
				tea.WithContext(ctx), tea.WithOutput(cmd.OutOrStdout()))
			_, err := p.Run()
			return err
		}

		rep, err := collector.Report(ctx)
		if err != nil {
			a.logger.Warn(ctx, "status report incomplete")
		}
		if jsonOutput {
			return outputJSON(cmd.OutOrStdout(), rep)
		}
		return status.WriteText(cmd.OutOrStdout(), rep)
	})
}

func runStatusline(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(commandContext(cmd), 2*time.Second)
	defer cancel()

	line := "continuity: -"
	payload, err := hooks.ReadInput(cmd.InOrStdin())
	if err == nil {
		if sid := payload.SessionID(); sid != "" {
			_ = withApp(ctx, func(a *app) error {
				line = formatStatusline(
					a.registry.GetActiveModes(ctx, sid),
					len(a.checkpoints.List(ctx, sid)),
				)
				return nil
			})
		}
	}
	printf(cmd, "%s\n", line)
	return nil
}

func formatStatusline[M ~string](active []M, checkpoints int) string {
	modes := "idle"
	if len(active) > 0 {
		names := make([]string, len(active))
		for i, m := range active {
			names[i] = string(m)
		}
		modes = strings.Join(names, "+")
	}
	return fmt.Sprintf("modes: %s | checkpoints: %d", modes, checkpoints)
}

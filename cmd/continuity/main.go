// Package main implements the continuity CLI: hook entry points for the
// agent harness plus commands for inspecting modes and checkpoints.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var (
	// configPath overrides the config file search.
	configPath string
	// stateDir overrides state.dir.
	stateDir string
	// logLevel overrides logging.level.
	logLevel string
	// jsonOutput switches human output to JSON.
	jsonOutput bool
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "continuity",
	Short: "Session continuity and mode coordination for agent sessions",
	Long: `continuity keeps long-running agent sessions coherent across stops,
context compactions and restarts.

It is normally invoked by harness hooks (see "continuity hook"), but every
piece of state it keeps can also be inspected and changed from the command
line.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: search .continuity/config.yaml, ~/.config/continuity/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "state directory (overrides state.dir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output results as JSON")
}

func outputJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// printf writes to the command's stdout.
func printf(cmd *cobra.Command, format string, args ...interface{}) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}

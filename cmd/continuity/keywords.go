package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/continuity/internal/classify"
	"github.com/fyrsmithlabs/continuity/internal/hooks"
)

var keywordsTeam bool

func init() {
	rootCmd.AddCommand(keywordsCmd)
	keywordsCmd.AddCommand(keywordsDetectCmd)
	keywordsCmd.AddCommand(keywordsClassifyStopCmd)

	keywordsDetectCmd.Flags().BoolVar(&keywordsTeam, "team", false, "enable the team keyword")
}

var keywordsCmd = &cobra.Command{
	Use:   "keywords",
	Short: "Run the prompt and stop classifiers without touching state",
}

var keywordsDetectCmd = &cobra.Command{
	Use:   "detect <text...>",
	Short: "Detect magic keywords in prompt text",
	Long: `Detect magic keywords in prompt text. Code blocks, inline code, URLs and
file paths are ignored.

Examples:
  continuity keywords detect "ralph: fix the flaky test"
  continuity keywords detect --team "spin up a team for this"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runKeywordsDetect,
}

var keywordsClassifyStopCmd = &cobra.Command{
	Use:   "classify-stop",
	Short: "Classify a stop payload read from stdin",
	Long: `Classify a stop payload read from stdin as a context-limit stop, a user
abort, or neither.

Example:
  echo '{"stop_reason":"context_window_exceeded"}' | continuity keywords classify-stop`,
	Args: cobra.NoArgs,
	RunE: runKeywordsClassifyStop,
}

type keywordReport struct {
	Detected []classify.DetectedKeyword `json:"detected"`
	Resolved []classify.KeywordType     `json:"resolved"`
	Primary  *classify.DetectedKeyword  `json:"primary,omitempty"`
}

func runKeywordsDetect(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, " ")
	opts := classify.DetectOptions{TeamEnabled: keywordsTeam}

	rep := keywordReport{
		Detected: classify.DetectKeywords(text, opts),
		Resolved: classify.GetAllKeywords(text, opts),
	}
	if kw, ok := classify.GetPrimaryKeyword(text, opts); ok {
		rep.Primary = &kw
	}

	if jsonOutput {
		return outputJSON(cmd.OutOrStdout(), rep)
	}
	if rep.Primary == nil {
		printf(cmd, "No keywords detected\n")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEYWORD\tMATCH\tPOSITION")
	for _, d := range rep.Detected {
		fmt.Fprintf(w, "%s\t%s\t%d\n", d.Type, d.Match, d.Position)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	resolved := make([]string, len(rep.Resolved))
	for i, k := range rep.Resolved {
		resolved[i] = string(k)
	}
	printf(cmd, "\nResolved: %s\nPrimary:  %s\n", strings.Join(resolved, ", "), rep.Primary.Type)
	return nil
}

type stopReport struct {
	ContextLimit   bool     `json:"context_limit"`
	UserAbort      bool     `json:"user_abort"`
	Matches        []string `json:"matches,omitempty"`
	UserRequested  bool     `json:"user_requested"`
	ActiveWorkflow bool     `json:"active_workflow"`
}

func runKeywordsClassifyStop(cmd *cobra.Command, args []string) error {
	sc, err := hooks.ReadInput(cmd.InOrStdin())
	if err != nil {
		return err
	}
	rep := stopReport{
		ContextLimit:   classify.IsContextLimitStop(sc),
		UserAbort:      classify.IsUserAbort(sc),
		UserRequested:  sc.UserRequested(),
		ActiveWorkflow: sc.ActiveWorkflow(),
	}
	rep.Matches = append(rep.Matches, classify.ContextLimit.AllMatches(sc)...)
	rep.Matches = append(rep.Matches, classify.UserAbort.AllMatches(sc)...)

	if jsonOutput {
		return outputJSON(cmd.OutOrStdout(), rep)
	}
	switch {
	case rep.ContextLimit:
		printf(cmd, "context limit (%s)\n", strings.Join(rep.Matches, ", "))
	case rep.UserAbort:
		printf(cmd, "user abort (%s)\n", strings.Join(rep.Matches, ", "))
	default:
		printf(cmd, "ordinary stop\n")
	}
	return nil
}

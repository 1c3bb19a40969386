package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/continuity/internal/checkpoint"
	"github.com/fyrsmithlabs/continuity/internal/modes"
	"github.com/fyrsmithlabs/continuity/internal/recovery"
)

var (
	cpSessionID string
	cpTrigger   string
	cpLimit     int
)

func init() {
	rootCmd.AddCommand(checkpointCmd)
	checkpointCmd.AddCommand(checkpointCreateCmd)
	checkpointCmd.AddCommand(checkpointListCmd)
	checkpointCmd.AddCommand(checkpointShowCmd)
	checkpointCmd.AddCommand(checkpointLatestCmd)
	checkpointCmd.AddCommand(checkpointRestoreCmd)
	checkpointCmd.AddCommand(checkpointDeleteCmd)
	checkpointCmd.AddCommand(checkpointPruneCmd)

	checkpointCmd.PersistentFlags().StringVar(&cpSessionID, "session", "", "session ID")
	checkpointCreateCmd.Flags().StringVar(&cpTrigger, "trigger", string(checkpoint.TriggerManual), "trigger: manual, auto or compact")
	checkpointListCmd.Flags().IntVar(&cpLimit, "limit", 20, "maximum number of checkpoints to show (0 = all)")
}

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Manage session checkpoints",
	Long: `Manage session checkpoints.

A checkpoint captures the modes active in a session together with the
workflow state and memory context other components left in the state
directory. Checkpoints are taken automatically before compactions and can
be replayed to restore modes after a restart.

Examples:
  # Take a checkpoint now
  continuity checkpoint create --session abc

  # List a session's checkpoints
  continuity checkpoint list --session abc

  # Reactivate the modes recorded in the newest checkpoint
  continuity checkpoint restore --session abc`,
}

var checkpointCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Take a checkpoint of a session",
	Args:  cobra.NoArgs,
	RunE:  runCheckpointCreate,
}

var checkpointListCmd = &cobra.Command{
	Use:   "list",
	Short: "List checkpoints, newest first",
	Long: `List checkpoints, newest first. Without --session every session is
listed.`,
	Args: cobra.NoArgs,
	RunE: runCheckpointList,
}

var checkpointShowCmd = &cobra.Command{
	Use:   "show <checkpoint-id>",
	Short: "Show one checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpointShow,
}

var checkpointLatestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Show the recovery summary for a session's newest checkpoint",
	Args:  cobra.NoArgs,
	RunE:  runCheckpointLatest,
}

var checkpointRestoreCmd = &cobra.Command{
	Use:   "restore [checkpoint-id]",
	Short: "Reactivate the modes recorded in a checkpoint",
	Long: `Reactivate the modes recorded in a checkpoint. Without an ID the
newest checkpoint of --session is used. Exclusive modes blocked by a mode
that is already active are reported and skipped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCheckpointRestore,
}

var checkpointDeleteCmd = &cobra.Command{
	Use:   "delete <checkpoint-id>",
	Short: "Delete a checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpointDelete,
}

var checkpointPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Apply the retention limit to a session",
	Args:  cobra.NoArgs,
	RunE:  runCheckpointPrune,
}

func requireCheckpointSession() error {
	if cpSessionID == "" {
		return errors.New("--session is required")
	}
	return nil
}

func runCheckpointCreate(cmd *cobra.Command, args []string) error {
	if err := requireCheckpointSession(); err != nil {
		return err
	}
	trigger, err := checkpoint.ParseTrigger(cpTrigger)
	if err != nil {
		return err
	}
	return withApp(commandContext(cmd), func(a *app) error {
		res := a.recovery.Snapshot(commandContext(cmd), cpSessionID, trigger)
		if jsonOutput {
			if err := outputJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
		} else {
			printf(cmd, "%s\n", res.SystemMessage)
		}
		if res.CheckpointID == "" {
			return errors.New("checkpoint was not saved")
		}
		return nil
	})
}

func runCheckpointList(cmd *cobra.Command, args []string) error {
	return withApp(commandContext(cmd), func(a *app) error {
		ctx := commandContext(cmd)
		sessions := []string{cpSessionID}
		if cpSessionID == "" {
			var err error
			if sessions, err = a.checkpoints.Sessions(ctx); err != nil {
				return fmt.Errorf("failed to list sessions: %w", err)
			}
		}

		var cps []*checkpoint.Checkpoint
		for _, id := range sessions {
			cps = append(cps, a.checkpoints.List(ctx, id)...)
		}
		sort.SliceStable(cps, func(i, j int) bool { return cps[i].CreatedAt.After(cps[j].CreatedAt) })
		if cpLimit > 0 && len(cps) > cpLimit {
			cps = cps[:cpLimit]
		}

		if jsonOutput {
			return outputJSON(cmd.OutOrStdout(), cps)
		}
		if len(cps) == 0 {
			printf(cmd, "No checkpoints found\n")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSESSION\tTRIGGER\tCREATED\tMODES")
		for _, cp := range cps {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				cp.ID,
				truncate(cp.SessionID, 24),
				cp.Trigger,
				cp.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				strings.Join(cp.ActiveModes(), ","),
			)
		}
		return w.Flush()
	})
}

func loadCheckpoint(cmd *cobra.Command, a *app, id string) (*checkpoint.Checkpoint, error) {
	ctx := commandContext(cmd)
	var (
		cp *checkpoint.Checkpoint
		ok bool
	)
	if cpSessionID != "" {
		cp, ok = a.checkpoints.LoadForSession(ctx, cpSessionID, id)
	} else {
		cp, ok = a.checkpoints.Load(ctx, id)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", checkpoint.ErrNotFound, id)
	}
	return cp, nil
}

func runCheckpointShow(cmd *cobra.Command, args []string) error {
	return withApp(commandContext(cmd), func(a *app) error {
		cp, err := loadCheckpoint(cmd, a, args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(cmd.OutOrStdout(), cp)
		}
		printf(cmd, "ID:       %s\n", cp.ID)
		printf(cmd, "Session:  %s\n", cp.SessionID)
		printf(cmd, "Trigger:  %s\n", cp.Trigger)
		printf(cmd, "Created:  %s\n", cp.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		printf(cmd, "Modes:    %s\n", joinOrNone(cp.ActiveModes()))
		printf(cmd, "Workflow: %d bytes\n", len(cp.WorkflowState))
		printf(cmd, "Memory:   %d bytes\n", len(cp.MemoryContext))
		return nil
	})
}

func joinOrNone(s []string) string {
	if len(s) == 0 {
		return "none"
	}
	return strings.Join(s, ", ")
}

func runCheckpointLatest(cmd *cobra.Command, args []string) error {
	if err := requireCheckpointSession(); err != nil {
		return err
	}
	return withApp(commandContext(cmd), func(a *app) error {
		cp, ok := a.recovery.CheckRecovery(commandContext(cmd), cpSessionID)
		if !ok {
			if jsonOutput {
				return outputJSON(cmd.OutOrStdout(), nil)
			}
			printf(cmd, "No checkpoints for session %s\n", cpSessionID)
			return nil
		}
		if jsonOutput {
			return outputJSON(cmd.OutOrStdout(), cp)
		}
		printf(cmd, "%s\n", recovery.FormatRecoveryMessage(cp))
		return nil
	})
}

func runCheckpointRestore(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		if err := requireCheckpointSession(); err != nil {
			return errors.New("give a checkpoint ID or --session")
		}
	}
	return withApp(commandContext(cmd), func(a *app) error {
		ctx := commandContext(cmd)
		var cp *checkpoint.Checkpoint
		if len(args) == 1 {
			var err error
			if cp, err = loadCheckpoint(cmd, a, args[0]); err != nil {
				return err
			}
		} else {
			var ok bool
			if cp, ok = a.recovery.CheckRecovery(ctx, cpSessionID); !ok {
				return fmt.Errorf("no checkpoints for session %s", cpSessionID)
			}
		}

		res, err := a.recovery.Replay(ctx, cp)
		if jsonOutput {
			if encErr := outputJSON(cmd.OutOrStdout(), res); encErr != nil {
				return encErr
			}
			return err
		}
		printRestore(cmd, cp, res)
		return err
	})
}

func printRestore(cmd *cobra.Command, cp *checkpoint.Checkpoint, res recovery.ReplayResult) {
	printf(cmd, "Checkpoint %s (session %s)\n", cp.ID, cp.SessionID)
	restored := make([]string, len(res.Restored))
	for i, m := range res.Restored {
		restored[i] = string(m)
	}
	printf(cmd, "Restored: %s\n", joinOrNone(restored))
	for _, m := range sortedModes(res.Blocked) {
		printf(cmd, "Blocked:  %s (by %s)\n", m, res.Blocked[m])
	}
	for _, m := range sortedModes(res.Failed) {
		printf(cmd, "Failed:   %s (%s)\n", m, res.Failed[m])
	}
}

func sortedModes[V any](m map[modes.Mode]V) []modes.Mode {
	out := make([]modes.Mode, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func runCheckpointDelete(cmd *cobra.Command, args []string) error {
	return withApp(commandContext(cmd), func(a *app) error {
		cp, err := loadCheckpoint(cmd, a, args[0])
		if err != nil {
			return err
		}
		if err := a.checkpoints.Delete(commandContext(cmd), cp.SessionID, cp.ID); err != nil {
			return err
		}
		printf(cmd, "Deleted checkpoint %s\n", cp.ID)
		return nil
	})
}

func runCheckpointPrune(cmd *cobra.Command, args []string) error {
	if err := requireCheckpointSession(); err != nil {
		return err
	}
	return withApp(commandContext(cmd), func(a *app) error {
		n, err := a.checkpoints.Prune(commandContext(cmd), cpSessionID)
		if err != nil {
			return err
		}
		printf(cmd, "Pruned %d checkpoint(s) from session %s\n", n, cpSessionID)
		return nil
	})
}

package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/continuity/internal/modes"
)

var (
	modeSessionID string
	modeForce     bool
	modeAll       bool
)

func init() {
	rootCmd.AddCommand(modeCmd)
	modeCmd.AddCommand(modeListCmd)
	modeCmd.AddCommand(modeActivateCmd)
	modeCmd.AddCommand(modeDeactivateCmd)
	modeCmd.AddCommand(modeCanStartCmd)
	modeCmd.AddCommand(modeSweepCmd)
	modeCmd.AddCommand(modeWatchCmd)

	modeCmd.PersistentFlags().StringVar(&modeSessionID, "session", "", "session ID")
	modeActivateCmd.Flags().BoolVar(&modeForce, "force", false, "activate even when an exclusive mode blocks it")
	modeDeactivateCmd.Flags().BoolVar(&modeAll, "all", false, "deactivate every mode of the session")
}

var modeCmd = &cobra.Command{
	Use:   "mode",
	Short: "Inspect and change active modes",
	Long: `Inspect and change the modes active in a session.

Exclusive modes (autopilot, ultrapilot, swarm, pipeline) cannot run
alongside each other in one session. The others stack freely.

Examples:
  # Show the catalog and what is active in a session
  continuity mode list --session abc

  # Start ralph mode
  continuity mode activate ralph --session abc

  # Drop every mode of a session
  continuity mode deactivate --all --session abc`,
}

var modeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known modes, marking those active in --session",
	Args:  cobra.NoArgs,
	RunE:  runModeList,
}

var modeActivateCmd = &cobra.Command{
	Use:   "activate <mode>",
	Short: "Activate a mode in a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runModeActivate,
}

var modeDeactivateCmd = &cobra.Command{
	Use:   "deactivate [mode]",
	Short: "Deactivate a mode, or all modes with --all",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runModeDeactivate,
}

var modeCanStartCmd = &cobra.Command{
	Use:   "can-start <mode>",
	Short: "Report whether a mode may start in a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runModeCanStart,
}

var modeSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove stale mode markers across all sessions",
	Args:  cobra.NoArgs,
	RunE:  runModeSweep,
}

var modeWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream mode changes made by any process (file backend only)",
	Args:  cobra.NoArgs,
	RunE:  runModeWatch,
}

func requireSession() error {
	if modeSessionID == "" {
		return errors.New("--session is required")
	}
	return nil
}

type modeRow struct {
	Mode        modes.Mode `json:"mode"`
	Exclusive   bool       `json:"exclusive"`
	Description string     `json:"description"`
	Active      bool       `json:"active"`
}

func runModeList(cmd *cobra.Command, args []string) error {
	return withApp(commandContext(cmd), func(a *app) error {
		ctx := commandContext(cmd)
		active := make(map[modes.Mode]bool)
		if modeSessionID != "" {
			for _, m := range a.registry.GetActiveModes(ctx, modeSessionID) {
				active[m] = true
			}
		}

		cat := a.registry.Catalog()
		rows := make([]modeRow, 0, len(cat.Modes()))
		for _, m := range cat.Modes() {
			spec, _ := cat.Lookup(m)
			rows = append(rows, modeRow{
				Mode:        m,
				Exclusive:   spec.Exclusive,
				Description: spec.Description,
				Active:      active[m],
			})
		}

		if jsonOutput {
			return outputJSON(cmd.OutOrStdout(), rows)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "MODE\tEXCLUSIVE\tACTIVE\tDESCRIPTION")
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Mode, yesNo(r.Exclusive), yesNo(r.Active), r.Description)
		}
		return w.Flush()
	})
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return ""
}

func runModeActivate(cmd *cobra.Command, args []string) error {
	if err := requireSession(); err != nil {
		return err
	}
	mode := modes.Mode(args[0])
	return withApp(commandContext(cmd), func(a *app) error {
		ctx := commandContext(cmd)
		if !modeForce {
			d := a.registry.CanStartMode(ctx, mode, modeSessionID)
			if !d.Allowed {
				return fmt.Errorf("cannot start %s: %s", mode, d.Reason)
			}
		}
		if err := a.registry.ActivateMode(ctx, mode, modeSessionID); err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(cmd.OutOrStdout(), map[string]interface{}{
				"session_id": modeSessionID,
				"mode":       mode,
				"active":     true,
			})
		}
		printf(cmd, "Activated %s in session %s\n", mode, modeSessionID)
		return nil
	})
}

func runModeDeactivate(cmd *cobra.Command, args []string) error {
	if err := requireSession(); err != nil {
		return err
	}
	if modeAll == (len(args) == 1) {
		return errors.New("give exactly one of <mode> or --all")
	}
	return withApp(commandContext(cmd), func(a *app) error {
		ctx := commandContext(cmd)
		var removed []modes.Mode
		if modeAll {
			var err error
			if removed, err = a.registry.DeactivateAll(ctx, modeSessionID); err != nil {
				return err
			}
		} else {
			mode := modes.Mode(args[0])
			if err := a.registry.DeactivateMode(ctx, mode, modeSessionID); err != nil {
				return err
			}
			removed = []modes.Mode{mode}
		}

		if jsonOutput {
			return outputJSON(cmd.OutOrStdout(), map[string]interface{}{
				"session_id":  modeSessionID,
				"deactivated": removed,
			})
		}
		if len(removed) == 0 {
			printf(cmd, "No modes to deactivate in session %s\n", modeSessionID)
			return nil
		}
		for _, m := range removed {
			printf(cmd, "Deactivated %s in session %s\n", m, modeSessionID)
		}
		return nil
	})
}

func runModeCanStart(cmd *cobra.Command, args []string) error {
	if err := requireSession(); err != nil {
		return err
	}
	mode := modes.Mode(args[0])
	return withApp(commandContext(cmd), func(a *app) error {
		d := a.registry.CanStartMode(commandContext(cmd), mode, modeSessionID)
		if jsonOutput {
			return outputJSON(cmd.OutOrStdout(), d)
		}
		if d.Allowed {
			printf(cmd, "%s can start\n", mode)
			return nil
		}
		printf(cmd, "%s cannot start: %s\n", mode, d.Reason)
		return nil
	})
}

func runModeSweep(cmd *cobra.Command, args []string) error {
	return withApp(commandContext(cmd), func(a *app) error {
		n, err := a.registry.CleanupStaleMarkers(commandContext(cmd))
		if jsonOutput {
			if encErr := outputJSON(cmd.OutOrStdout(), map[string]int{"removed": n}); encErr != nil {
				return encErr
			}
			return err
		}
		printf(cmd, "Removed %d stale marker(s) older than %s\n", n, a.registry.StaleAfter())
		return err
	})
}

func runModeWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return withApp(ctx, func(a *app) error {
		events, cancel, err := a.registry.Watch(ctx)
		if err != nil {
			return err
		}
		defer cancel()

		for ev := range events {
			if modeSessionID != "" && ev.SessionID != modeSessionID {
				continue
			}
			if jsonOutput {
				if err := outputJSON(cmd.OutOrStdout(), ev); err != nil {
					return err
				}
				continue
			}
			state := "deactivated"
			if ev.Active {
				state = "activated"
			}
			printf(cmd, "%s  %-10s %-12s %s\n", ev.Time.Local().Format(time.TimeOnly), ev.Mode, state, ev.SessionID)
		}
		return nil
	})
}

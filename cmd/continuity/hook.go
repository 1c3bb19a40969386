package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/continuity/internal/hooks"
	"github.com/fyrsmithlabs/continuity/internal/statestore"
)

// hookTimeout bounds one hook invocation so a stuck lock or disk never
// stalls the harness.
const hookTimeout = 10 * time.Second

func init() {
	rootCmd.AddCommand(hookCmd)
}

var hookCmd = &cobra.Command{
	Use:   "hook <event>",
	Short: "Handle a harness hook event",
	Long: fmt.Sprintf(`Handle one harness hook event.

The event payload is read as JSON from stdin and the result is written as
JSON to stdout. The command always exits 0 and always answers with
"continue": true; failures are logged to stderr and the hook degrades to
a no-op.

Events: %s (harness spellings such as PreCompact are accepted).

Examples:
  # Stop hook
  echo '{"session_id":"abc","stop_reason":"end_turn"}' | continuity hook stop

  # Pre-compaction checkpoint
  echo '{"session_id":"abc"}' | continuity hook PreCompact`, hookTypeList()),
	Args: cobra.ExactArgs(1),
	RunE: runHook,
}

func hookTypeList() string {
	types := hooks.HookTypes()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func runHook(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(commandContext(cmd), hookTimeout)
	defer cancel()

	out := executeHook(ctx, cmd, args[0])
	return json.NewEncoder(cmd.OutOrStdout()).Encode(out)
}

// executeHook never fails: every error is reported on stderr and the
// harness is told to continue.
func executeHook(ctx context.Context, cmd *cobra.Command, event string) hooks.Output {
	passthrough := hooks.Output{Continue: true}
	stderr := cmd.ErrOrStderr()

	hookType, err := hooks.ParseHookType(event)
	if err != nil {
		fmt.Fprintf(stderr, "continuity: %v\n", err)
		return passthrough
	}

	payload, err := hooks.ReadInput(cmd.InOrStdin())
	if err != nil {
		fmt.Fprintf(stderr, "continuity: %v\n", err)
		return passthrough
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "continuity: %v\n", err)
		return passthrough
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "continuity: %v\n", err)
		if errors.Is(err, statestore.ErrBusy) {
			passthrough.SystemMessage = "continuity skipped " + string(hookType) + ": state store busy."
		}
		return passthrough
	}
	defer a.Close(ctx)

	return a.hooks.Execute(ctx, hookType, payload)
}

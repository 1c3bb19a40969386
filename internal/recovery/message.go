package recovery

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/continuity/internal/checkpoint"
)

// FormatRecoveryMessage renders a checkpoint for the start of a resumed
// session. It only describes the snapshot; modes are not reactivated.
func FormatRecoveryMessage(cp *checkpoint.Checkpoint) string {
	if cp == nil {
		return ""
	}

	var b strings.Builder
	b.WriteString("[SESSION RECOVERY]\n")
	fmt.Fprintf(&b, "Session: %s\n", cp.SessionID)
	fmt.Fprintf(&b, "Checkpoint: %s (%s, %s)\n", cp.ID, cp.Trigger, cp.CreatedAt.UTC().Format(time.RFC3339))

	active := cp.ActiveModes()
	if len(active) == 0 {
		b.WriteString("Active modes at snapshot: none\n")
	} else {
		fmt.Fprintf(&b, "Active modes at snapshot: %s\n", strings.Join(active, ", "))
	}
	if len(cp.WorkflowState) > 0 {
		b.WriteString("Workflow state was captured.\n")
	}
	if len(cp.MemoryContext) > 0 {
		b.WriteString("Memory context was captured.\n")
	}
	if len(active) > 0 {
		fmt.Fprintf(&b, "Modes were not reactivated. Replay checkpoint %s to restore them.", cp.ID)
	} else {
		b.WriteString("Nothing to restore.")
	}
	return b.String()
}

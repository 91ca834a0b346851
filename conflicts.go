package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/localsync/internal/engine"
)

// dataWidth caps the server/local columns in the conflicts table.
const dataWidth = 40

func newConflictsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts",
		Short: "List conflicts awaiting a decision",
		Long: `Display every action the remote rejected as conflicting, with the
server's current record next to the local intent.

Use 'localsync resolve' to settle them.`,
		RunE: runConflicts,
	}
}

// conflictJSON is the JSON-serializable representation of a conflict.
type conflictJSON struct {
	ActionID   string        `json:"action_id"`
	ActionType string        `json:"action_type"`
	ServerData engine.Record `json:"server_data,omitempty"`
	LocalData  any           `json:"local_data,omitempty"`
	DetectedAt string        `json:"detected_at"`
}

func runConflicts(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	sess, err := openReadOnly(cmd.Context(), cc)
	if err != nil {
		return err
	}
	defer sess.Close()

	conflicts := sess.Engine.Conflicts()

	if cc.Flags.JSON {
		items := make([]conflictJSON, len(conflicts))
		for i := range conflicts {
			c := &conflicts[i]
			items[i] = conflictJSON{
				ActionID:   c.ActionID,
				ActionType: string(c.ActionType),
				ServerData: c.ServerData,
				LocalData:  c.LocalData,
				DetectedAt: time.Unix(0, c.Timestamp).UTC().Format(time.RFC3339),
			}
		}

		return printJSON(os.Stdout, items)
	}

	if len(conflicts) == 0 {
		fmt.Println("No unresolved conflicts.")
		return nil
	}

	rows := make([][]string, len(conflicts))
	for i := range conflicts {
		c := &conflicts[i]
		rows[i] = []string{
			shortID(c.ActionID), string(c.ActionType), formatNanos(c.Timestamp),
			compactJSON(c.ServerData, dataWidth), compactJSON(c.LocalData, dataWidth),
		}
	}

	printTable(os.Stdout, []string{"ID", "TYPE", "DETECTED", "SERVER", "LOCAL"}, rows)

	return nil
}

// conflictByPrefix resolves a full action id or unique prefix against the
// conflict log.
func conflictByPrefix(conflicts []engine.ConflictInfo, prefix string) (engine.ConflictInfo, error) {
	var matches []engine.ConflictInfo

	for _, c := range conflicts {
		if c.ActionID == prefix {
			return c, nil
		}

		if strings.HasPrefix(c.ActionID, prefix) {
			matches = append(matches, c)
		}
	}

	switch len(matches) {
	case 0:
		return engine.ConflictInfo{}, fmt.Errorf("no conflict matches %q", prefix)
	case 1:
		return matches[0], nil
	default:
		return engine.ConflictInfo{}, fmt.Errorf("%q is ambiguous: matches %d conflicts", prefix, len(matches))
	}
}

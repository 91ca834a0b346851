package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/localsync/internal/engine"
	"github.com/tonimelisma/localsync/internal/queue"
)

// payloadWidth caps the payload column in the pending table.
const payloadWidth = 48

func newPendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List queued actions in replay order",
		RunE:  runPending,
	}
}

// actionJSON is the JSON-serializable representation of a queued action.
type actionJSON struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Payload    []any  `json:"payload"`
	Status     string `json:"status"`
	RetryCount int    `json:"retry_count"`
	TempID     int64  `json:"temp_id,omitempty"`
	Error      string `json:"error,omitempty"`
	QueuedAt   int64  `json:"queued_at"`
}

func runPending(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	sess, err := openReadOnly(cmd.Context(), cc)
	if err != nil {
		return err
	}
	defer sess.Close()

	actions := sess.Engine.PendingActions()

	if cc.Flags.JSON {
		items := make([]actionJSON, len(actions))
		for i := range actions {
			a := &actions[i]
			items[i] = actionJSON{
				ID: a.ID, Type: a.Type, Payload: a.Payload, Status: string(a.Status),
				RetryCount: a.RetryCount, TempID: a.TempID, Error: a.Error, QueuedAt: a.Timestamp,
			}
		}

		return printJSON(os.Stdout, items)
	}

	if len(actions) == 0 {
		fmt.Println("No pending actions.")
		return nil
	}

	rows := make([][]string, len(actions))
	for i := range actions {
		a := &actions[i]
		rows[i] = []string{
			shortID(a.ID), a.Type, string(a.Status), formatNanos(a.Timestamp),
			compactJSON(a.Payload, payloadWidth), a.Error,
		}
	}

	printTable(os.Stdout, []string{"ID", "TYPE", "STATUS", "QUEUED", "PAYLOAD", "ERROR"}, rows)

	return nil
}

func newRetryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry [action-id]",
		Short: "Retry a failed action, or every failed action with --all",
		Long: `Put a failed action back in the queue and sync.

Actions that failed with a conflict are not retried by --all; settle them
with 'localsync resolve'.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runRetry,
	}

	cmd.Flags().Bool("all", false, "retry every failed action except conflicts")

	return cmd
}

func runRetry(cmd *cobra.Command, args []string) error {
	all, err := allOrOne(cmd, args)
	if err != nil {
		return err
	}

	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	sess, owned, err := prepare(ctx, cc)
	if err != nil {
		return err
	}
	defer sess.Close()

	var report engine.DrainReport

	if all {
		n, r, err := sess.Engine.RetryAllFailed(ctx)
		if err != nil {
			return err
		}

		report = r
		cc.Statusf("Retrying %d failed actions\n", n)
	} else {
		id, err := matchActionID(sess.Engine.PendingActions(), args[0])
		if err != nil {
			return err
		}

		if report, err = sess.Engine.RetryAction(ctx, id); err != nil {
			return err
		}
	}

	finish(cc, sess, owned)

	if owned {
		printReport(cc, report)
	}

	return nil
}

func newDismissCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dismiss [action-id]",
		Short: "Drop a queued action, or every failed action with --all",
		Long: `Remove an action from the queue without sending it. A dismissed
creation also removes its placeholder record from the local store.

--all drops every failed action, conflicts included.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runDismiss,
	}

	cmd.Flags().Bool("all", false, "dismiss every failed action")

	return cmd
}

func runDismiss(cmd *cobra.Command, args []string) error {
	all, err := allOrOne(cmd, args)
	if err != nil {
		return err
	}

	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	sess, err := openReadOnly(ctx, cc)
	if err != nil {
		return err
	}
	defer sess.Close()

	if all {
		n, err := sess.Engine.DismissAllFailed(ctx)
		if err != nil {
			return err
		}

		cc.Statusf("Dismissed %d failed actions\n", n)

		return nil
	}

	id, err := matchActionID(sess.Engine.PendingActions(), args[0])
	if err != nil {
		return err
	}

	if err := sess.Engine.DismissAction(ctx, id); err != nil {
		return err
	}

	cc.Statusf("Dismissed %s\n", shortID(id))

	return nil
}

// allOrOne validates the "[id] | --all" argument shape shared by retry and
// dismiss.
func allOrOne(cmd *cobra.Command, args []string) (bool, error) {
	all, err := cmd.Flags().GetBool("all")
	if err != nil {
		return false, err
	}

	switch {
	case all && len(args) > 0:
		return false, fmt.Errorf("--all and a specific action id are mutually exclusive")
	case !all && len(args) == 0:
		return false, fmt.Errorf("specify an action id, or use --all")
	}

	return all, nil
}

// matchActionID resolves a full id or unique prefix against the queue.
func matchActionID(actions []queue.Action, prefix string) (string, error) {
	var matches []string

	for i := range actions {
		if actions[i].ID == prefix {
			return prefix, nil
		}

		if strings.HasPrefix(actions[i].ID, prefix) {
			matches = append(matches, actions[i].ID)
		}
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no queued action matches %q", prefix)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%q is ambiguous: matches %d actions", prefix, len(matches))
	}
}

// printReport summarizes a drain pass.
func printReport(cc *CLIContext, r engine.DrainReport) {
	if r.Skipped {
		cc.Statusf("Offline; nothing synced.\n")
		return
	}

	cc.Statusf("Synced %d, conflicts %d, dropped %d\n", r.Applied, r.Conflicts, r.Dropped)

	if r.HaltedBy != "" {
		cc.Statusf("Stopped at action %s; see 'localsync pending'\n", shortID(r.HaltedBy))
	}
}

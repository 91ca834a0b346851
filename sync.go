package main

import (
	"os"

	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay queued actions against the remote once",
		Long: `Run one drain pass: replay queued actions in order until the queue is
empty or an action stops the pass.

When a daemon is running it owns the queue, so sync asks it to drain
instead.`,
		RunE: runSync,
	}
}

func runSync(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	sess, owned, err := prepare(ctx, cc)
	if err != nil {
		return err
	}
	defer sess.Close()

	if !owned {
		finish(cc, sess, owned)
		return nil
	}

	report, err := sess.Engine.Drain(ctx)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		return printJSON(os.Stdout, report)
	}

	printReport(cc, report)

	return nil
}

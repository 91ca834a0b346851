package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/localsync/internal/engine"
)

func newResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <action-id> <server|local|merge> [merged-json]",
		Short: "Resolve a sync conflict",
		Long: `Resolve a conflict with a chosen strategy.

Strategies:
  server  Drop the local change and adopt the server's record
  local   Send the local change again, overwriting the server
  merge   Send the given JSON object instead of the local change

Use --dismiss to drop the conflict and its action without touching the
local store.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if dismiss, _ := cmd.Flags().GetBool("dismiss"); dismiss {
				return cobra.ExactArgs(1)(cmd, args)
			}

			return cobra.RangeArgs(2, 3)(cmd, args)
		},
		RunE: runResolve,
	}

	cmd.Flags().Bool("dismiss", false, "drop the conflict without resolving it")

	return cmd
}

func runResolve(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	dismiss, err := cmd.Flags().GetBool("dismiss")
	if err != nil {
		return err
	}

	var (
		resolution engine.Resolution
		merged     engine.Record
	)

	if !dismiss {
		if resolution, err = engine.ParseResolution(args[1]); err != nil {
			return fmt.Errorf("%w: %q (want server, local or merge)", err, args[1])
		}

		if merged, err = mergedArg(resolution, args[2:]); err != nil {
			return err
		}
	}

	sess, owned, err := prepare(ctx, cc)
	if err != nil {
		return err
	}
	defer sess.Close()

	c, err := conflictByPrefix(sess.Engine.Conflicts(), args[0])
	if err != nil {
		return err
	}

	if dismiss {
		if err := sess.Engine.DismissConflict(ctx, c.ActionID); err != nil {
			return err
		}

		cc.Statusf("Dismissed conflict %s\n", shortID(c.ActionID))

		return nil
	}

	if err := sess.Engine.ResolveConflict(ctx, c.ActionID, resolution, merged); err != nil {
		return err
	}

	cc.Statusf("Resolved %s as %s\n", shortID(c.ActionID), resolution)

	if resolution != engine.ResolveServer {
		finish(cc, sess, owned)
	}

	return nil
}

// mergedArg validates the merged-record argument against the resolution.
func mergedArg(resolution engine.Resolution, rest []string) (engine.Record, error) {
	if resolution != engine.ResolveMerge {
		if len(rest) > 0 {
			return nil, fmt.Errorf("merged JSON is only accepted with the merge strategy")
		}

		return nil, nil
	}

	if len(rest) == 0 {
		return nil, fmt.Errorf("merge needs the merged record as a JSON object")
	}

	m, ok := parseArg(rest[0]).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("merged record must be a JSON object, got %q", rest[0])
	}

	return engine.Record(m), nil
}

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/localsync/internal/engine"
	"github.com/tonimelisma/localsync/internal/tasks"
)

// meArg stands for the signed-in user's id in dispatch arguments.
const meArg = "@me"

func newDispatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatch <type> [arg...]",
		Short: "Queue an action and apply it locally",
		Long: `Queue an action, apply its optimistic result to the local store and
sync it when the remote is reachable.

Each argument is parsed as JSON; anything that is not valid JSON is taken
as a plain string. "@me" is replaced with the signed-in user's id.

  localsync dispatch createTask "Buy milk" '{"priority":"high"}'
  localsync dispatch updateTask -1000 @me '{"priority":"low"}'`,
		Args: func(cmd *cobra.Command, args []string) error {
			if list, _ := cmd.Flags().GetBool("list"); list {
				return nil
			}

			return cobra.MinimumNArgs(1)(cmd, args)
		},
		RunE: runDispatch,
	}

	cmd.Flags().Bool("list", false, "list the known action types")

	return cmd
}

func runDispatch(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	if list, _ := cmd.Flags().GetBool("list"); list {
		for _, t := range tasks.Types() {
			fmt.Println(t)
		}

		return nil
	}

	ctx := cmd.Context()

	sess, owned, err := prepare(ctx, cc)
	if err != nil {
		return err
	}
	defer sess.Close()

	payload, err := parseArgs(args[1:], sess.UserID)
	if err != nil {
		return err
	}

	rec, err := sess.Engine.Dispatch(ctx, engine.ActionType(args[0]), payload...)
	if err != nil {
		return err
	}

	finish(cc, sess, owned)

	if cc.Flags.JSON {
		return printJSON(os.Stdout, rec)
	}

	if id, ok := rec.ID(); ok {
		cc.Statusf("Dispatched %s (local id %d)\n", args[0], id)
	} else {
		cc.Statusf("Dispatched %s\n", args[0])
	}

	return nil
}

// parseArgs decodes command-line arguments into a payload.
func parseArgs(args []string, userID string) ([]any, error) {
	out := make([]any, len(args))

	for i, a := range args {
		if a == meArg {
			if userID == "" {
				return nil, fmt.Errorf("argument %d: %s needs a signed-in user; run 'localsync login'", i+1, meArg)
			}

			out[i] = userID

			continue
		}

		out[i] = parseArg(a)
	}

	return out, nil
}

func parseArg(s string) any {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return s
	}

	return v
}

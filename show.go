package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/localsync/internal/tasks"
)

// recordWidth caps the record column in the show table.
const recordWidth = 72

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "show <task|list|label>",
		Short:     "List records in the local store",
		Long:      "List the local view of an entity kind, optimistic changes included.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{tasks.EntityTask, tasks.EntityList, tasks.EntityLabel},
		RunE:      runShow,
	}
}

func runShow(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	sess, err := openReadOnly(cmd.Context(), cc)
	if err != nil {
		return err
	}
	defer sess.Close()

	records := sess.Store.List(args[0])

	if cc.Flags.JSON {
		return printJSON(os.Stdout, records)
	}

	if len(records) == 0 {
		fmt.Printf("No %s records.\n", args[0])
		return nil
	}

	rows := make([][]string, len(records))
	for i, rec := range records {
		id, _ := rec.ID()
		local := ""

		if id < 0 {
			local = "unsynced"
		}

		rows[i] = []string{fmt.Sprint(id), local, compactJSON(rec, recordWidth)}
	}

	printTable(os.Stdout, []string{"ID", "STATE", "RECORD"}, rows)

	return nil
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/localsync/internal/engine"
)

// Daemon state constants for status reporting.
const (
	daemonRunning = "running"
	daemonStopped = "stopped"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue, conflict and daemon status",
		RunE:  runStatus,
	}
}

// statusOutput is the JSON schema for `status --json`.
type statusOutput struct {
	Daemon     string `json:"daemon"`
	DaemonPID  int    `json:"daemon_pid,omitempty"`
	Remote     string `json:"remote"`
	SignedIn   bool   `json:"signed_in"`
	Pending    int    `json:"pending"`
	Processing int    `json:"processing"`
	Failed     int    `json:"failed"`
	Conflicts  int    `json:"conflicts"`
	Entities   int    `json:"entities"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	sess, err := openReadOnly(cmd.Context(), cc)
	if err != nil {
		return err
	}
	defer sess.Close()

	out := buildStatus(sess.Engine.Snapshot(), runningPID(lockPath(cc.Cfg.Queue.DBPath)))
	out.Remote = cc.Cfg.Remote.BaseURL
	out.SignedIn = sess.Tokens != nil
	out.Entities = sess.Store.Len()

	if cc.Flags.JSON {
		return printJSON(os.Stdout, out)
	}

	daemon := out.Daemon
	if out.DaemonPID != 0 {
		daemon = fmt.Sprintf("%s (PID %d)", daemon, out.DaemonPID)
	}

	remote := out.Remote
	if remote == "" {
		remote = "(not configured)"
	}

	fmt.Printf("Daemon:     %s\n", daemon)
	fmt.Printf("Remote:     %s\n", remote)
	fmt.Printf("Signed in:  %t\n", out.SignedIn)
	fmt.Printf("Pending:    %d\n", out.Pending)
	fmt.Printf("Processing: %d\n", out.Processing)
	fmt.Printf("Failed:     %d\n", out.Failed)
	fmt.Printf("Conflicts:  %d\n", out.Conflicts)
	fmt.Printf("Records:    %d\n", out.Entities)

	return nil
}

func buildStatus(snap engine.Snapshot, pid int) statusOutput {
	out := statusOutput{
		Daemon:     daemonStopped,
		Pending:    snap.Pending,
		Processing: snap.Processing,
		Failed:     snap.Failed,
		Conflicts:  snap.Conflicts,
	}

	if pid != 0 {
		out.Daemon = daemonRunning
		out.DaemonPID = pid
	}

	return out
}

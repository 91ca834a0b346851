package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/localsync/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagDBPath     string
	flagRemoteURL  string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// skipConfigAnnotation marks commands that must run even when the config
// does not resolve.
const skipConfigAnnotation = "skipConfig"

// CLIFlags is the parsed form of the persistent flags.
type CLIFlags struct {
	ConfigPath string
	JSON       bool
	Verbose    bool
	Quiet      bool
}

// CLIContext carries what every subcommand needs. It is stored in the
// command context by the root PersistentPreRunE.
type CLIContext struct {
	Flags   CLIFlags
	Cfg     *config.Config
	CfgPath string
	Logger  *slog.Logger

	// Level is the live log level; the daemon adjusts it on reload.
	Level *slog.LevelVar

	overrides config.CLIOverrides
	closeLog  func()
}

type cliContextKey struct{}

func withCLIContext(ctx context.Context, cc *CLIContext) context.Context {
	return context.WithValue(ctx, cliContextKey{}, cc)
}

// mustCLIContext returns the CLIContext set by the root pre-run. A missing
// context is a wiring bug, so it panics.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("localsync: command context has no CLIContext")
	}

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "localsync",
		Short: "Local-first sync engine",
		Long: `localsync records every change locally first, shows it immediately,
and replays it against the remote API in order once the network allows.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := newCLIContext(cmd)
			if err != nil {
				return err
			}

			cmd.SetContext(withCLIContext(cmd.Context(), cc))

			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if cc, ok := cmd.Context().Value(cliContextKey{}).(*CLIContext); ok && cc.closeLog != nil {
				cc.closeLog()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "state database path")
	cmd.PersistentFlags().StringVar(&flagRemoteURL, "remote-url", "", "remote API base URL")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(newDispatchCmd())
	cmd.AddCommand(newShowCmd())
	cmd.AddCommand(newPendingCmd())
	cmd.AddCommand(newRetryCmd())
	cmd.AddCommand(newDismissCmd())
	cmd.AddCommand(newConflictsCmd())
	cmd.AddCommand(newResolveCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// newCLIContext resolves the configuration from the four-layer override
// chain and builds the logger.
func newCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	cc := &CLIContext{
		Flags: CLIFlags{
			ConfigPath: flagConfigPath,
			JSON:       flagJSON,
			Verbose:    flagVerbose,
			Quiet:      flagQuiet,
		},
		Level: new(slog.LevelVar),
	}

	cli := config.CLIOverrides{ConfigPath: flagConfigPath}

	// Only pass flags the user explicitly set.
	if cmd.Flags().Changed("db") {
		cli.DBPath = &flagDBPath
	}

	if cmd.Flags().Changed("remote-url") {
		cli.RemoteURL = &flagRemoteURL
	}

	cc.overrides = cli

	cfg, path, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		if cmd.Annotations[skipConfigAnnotation] == "" {
			return nil, fmt.Errorf("loading config: %w", err)
		}

		cfg = config.DefaultConfig()
	}

	cc.Cfg = cfg
	cc.CfgPath = path

	logger, closeLog, err := buildLogger(&cfg.Logging, cc.Flags, cc.Level)
	if err != nil {
		return nil, err
	}

	cc.Logger = logger
	cc.closeLog = closeLog

	return cc, nil
}

// buildLogger creates an slog.Logger from the logging config and CLI
// flags. The config level is the baseline; --verbose and --quiet win.
// log_format "auto" picks text on a terminal and JSON otherwise.
func buildLogger(lc *config.LoggingConfig, flags CLIFlags, level *slog.LevelVar) (*slog.Logger, func(), error) {
	level.Set(logLevel(lc.LogLevel, flags))

	var (
		w        io.Writer = os.Stderr
		closeLog           = func() {}
		terminal           = isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	)

	if lc.LogFile != "" {
		f, err := os.OpenFile(lc.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}

		w = f
		closeLog = func() { f.Close() }
		terminal = false
	}

	opts := &slog.HandlerOptions{Level: level}

	format := lc.LogFormat
	if format == "auto" {
		format = "json"
		if terminal {
			format = "text"
		}
	}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), closeLog, nil
	}

	return slog.New(slog.NewTextHandler(w, opts)), closeLog, nil
}

// logLevel maps a config level name to a slog level, with CLI flags
// overriding it.
func logLevel(name string, flags CLIFlags) slog.Level {
	switch {
	case flags.Verbose:
		return slog.LevelDebug
	case flags.Quiet:
		return slog.LevelError
	}

	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

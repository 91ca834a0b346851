package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/localsync/internal/config"
	"github.com/tonimelisma/localsync/internal/engine"
	"github.com/tonimelisma/localsync/internal/queue"
	"github.com/tonimelisma/localsync/internal/tokenfile"
)

// Global flag reset pattern: newRootCmd() binds flags via StringVar/BoolVar,
// which reset the global flag variables to their zero values. Tests either
// set globals AFTER newRootCmd() returns, or go through SetArgs + Execute.

// --- logger tests ---

func TestLogLevel(t *testing.T) {
	tests := []struct {
		name  string
		level string
		flags CLIFlags
		want  slog.Level
	}{
		{"default info", "info", CLIFlags{}, slog.LevelInfo},
		{"config debug", "debug", CLIFlags{}, slog.LevelDebug},
		{"config warn", "warn", CLIFlags{}, slog.LevelWarn},
		{"config error", "error", CLIFlags{}, slog.LevelError},
		{"unknown falls back", "", CLIFlags{}, slog.LevelInfo},
		{"verbose overrides", "error", CLIFlags{Verbose: true}, slog.LevelDebug},
		{"quiet overrides", "debug", CLIFlags{Quiet: true}, slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, logLevel(tt.level, tt.flags))
		})
	}
}

func TestBuildLogger_JSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "localsync.log")
	level := new(slog.LevelVar)

	logger, closeLog, err := buildLogger(&config.LoggingConfig{
		LogLevel:  "warn",
		LogFile:   path,
		LogFormat: "auto",
	}, CLIFlags{}, level)
	require.NoError(t, err)

	assert.Equal(t, slog.LevelWarn, level.Level())
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))

	logger.Warn("test: hello", slog.Int("n", 1))

	// The level is live: lowering it takes effect without a new logger.
	level.Set(slog.LevelDebug)
	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))

	closeLog()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	// A log file is never a terminal, so auto picks JSON.
	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &line))
	assert.Equal(t, "test: hello", line["msg"])
}

func TestBuildLogger_TextFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "localsync.log")

	logger, closeLog, err := buildLogger(&config.LoggingConfig{
		LogLevel:  "info",
		LogFile:   path,
		LogFormat: "text",
	}, CLIFlags{}, new(slog.LevelVar))
	require.NoError(t, err)

	logger.Info("test: hello")
	closeLog()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `msg="test: hello"`)
}

func TestBuildLogger_BadLogFile(t *testing.T) {
	_, _, err := buildLogger(&config.LoggingConfig{
		LogLevel:  "info",
		LogFile:   filepath.Join(t.TempDir(), "missing", "dir", "x.log"),
		LogFormat: "json",
	}, CLIFlags{}, new(slog.LevelVar))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "opening log file")
}

// --- Cobra structure tests ---

func TestNewRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()

	expected := []string{
		"dispatch", "show", "pending", "retry", "dismiss", "conflicts", "resolve",
		"sync", "status", "run", "login", "logout", "config",
	}

	for _, name := range expected {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name(), "expected subcommand %q", name)
	}
}

func TestNewRootCmd_PersistentFlags(t *testing.T) {
	cmd := newRootCmd()

	for _, name := range []string{"config", "db", "remote-url", "json", "verbose", "quiet"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "expected persistent flag %q", name)
	}
}

func TestNewRootCmd_MutualExclusivity(t *testing.T) {
	clearEnv(t)

	cmd := newRootCmd()
	cmd.SetArgs([]string{
		"--config", filepath.Join(t.TempDir(), "none.toml"),
		"--verbose", "--quiet", "config", "show",
	})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "none of the others can be")
}

func TestNewRootCmd_AuthSkipsConfig(t *testing.T) {
	clearEnv(t)

	badPath := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(badPath, []byte("[queue\n"), 0o600))

	cmd := newRootCmd()
	flagConfigPath = badPath

	t.Cleanup(func() { flagConfigPath = "" })

	for _, name := range []string{"login", "logout"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)

			sub.SetContext(context.Background())
			assert.NoError(t, cmd.PersistentPreRunE(sub, nil), "%s should survive a broken config", name)
		})
	}

	t.Run("status", func(t *testing.T) {
		sub, _, err := cmd.Find([]string{"status"})
		require.NoError(t, err)

		sub.SetContext(context.Background())
		err = cmd.PersistentPreRunE(sub, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "loading config")
	})
}

// --- argument helpers ---

func TestParseArg(t *testing.T) {
	assert.Equal(t, "Buy milk", parseArg("Buy milk"))
	assert.Equal(t, json.Number("-1000"), parseArg("-1000"))
	assert.Equal(t, true, parseArg("true"))
	assert.Equal(t, map[string]any{"priority": "high"}, parseArg(`{"priority":"high"}`))
	assert.Equal(t, "1 2", parseArg("1 2"), "trailing data is not JSON")
	assert.Equal(t, `{"broken"`, parseArg(`{"broken"`))
}

func TestParseArgs_Me(t *testing.T) {
	got, err := parseArgs([]string{"-1000", "@me"}, "u-42")
	require.NoError(t, err)
	assert.Equal(t, []any{json.Number("-1000"), "u-42"}, got)

	_, err = parseArgs([]string{"-1000", "@me"}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login")
}

func TestMatchActionID(t *testing.T) {
	actions := []queue.Action{
		{ID: "0b1c2d3e-aaaa"},
		{ID: "0b1c9999-bbbb"},
		{ID: "7f000000-cccc"},
	}

	id, err := matchActionID(actions, "7f")
	require.NoError(t, err)
	assert.Equal(t, "7f000000-cccc", id)

	id, err = matchActionID(actions, "0b1c2d3e-aaaa")
	require.NoError(t, err)
	assert.Equal(t, "0b1c2d3e-aaaa", id)

	_, err = matchActionID(actions, "0b1c")
	assert.ErrorContains(t, err, "ambiguous")

	_, err = matchActionID(actions, "ff")
	assert.ErrorContains(t, err, "no queued action")
}

func TestConflictByPrefix(t *testing.T) {
	conflicts := []engine.ConflictInfo{
		{ActionID: "aa11", ActionType: "updateTask"},
		{ActionID: "aa22", ActionType: "renameList"},
	}

	c, err := conflictByPrefix(conflicts, "aa2")
	require.NoError(t, err)
	assert.Equal(t, engine.ActionType("renameList"), c.ActionType)

	_, err = conflictByPrefix(conflicts, "aa")
	assert.ErrorContains(t, err, "ambiguous")

	_, err = conflictByPrefix(nil, "aa")
	assert.ErrorContains(t, err, "no conflict")
}

func TestMergedArg(t *testing.T) {
	rec, err := mergedArg(engine.ResolveMerge, []string{`{"title":"both"}`})
	require.NoError(t, err)
	assert.Equal(t, engine.Record{"title": "both"}, rec)

	_, err = mergedArg(engine.ResolveMerge, nil)
	assert.ErrorContains(t, err, "needs the merged record")

	_, err = mergedArg(engine.ResolveMerge, []string{"[1,2]"})
	assert.ErrorContains(t, err, "JSON object")

	_, err = mergedArg(engine.ResolveLocal, []string{`{}`})
	assert.ErrorContains(t, err, "only accepted")

	rec, err = mergedArg(engine.ResolveServer, nil)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestAllOrOne(t *testing.T) {
	newCmd := func(all bool) *cobra.Command {
		c := newRetryCmd()
		if all {
			require.NoError(t, c.Flags().Set("all", "true"))
		}

		return c
	}

	all, err := allOrOne(newCmd(true), nil)
	require.NoError(t, err)
	assert.True(t, all)

	all, err = allOrOne(newCmd(false), []string{"abc"})
	require.NoError(t, err)
	assert.False(t, all)

	_, err = allOrOne(newCmd(true), []string{"abc"})
	assert.ErrorContains(t, err, "mutually exclusive")

	_, err = allOrOne(newCmd(false), nil)
	assert.ErrorContains(t, err, "specify an action id")
}

func TestBuildStatus(t *testing.T) {
	snap := engine.Snapshot{Pending: 3, Processing: 1, Failed: 1, Conflicts: 1}

	out := buildStatus(snap, 0)
	assert.Equal(t, daemonStopped, out.Daemon)
	assert.Zero(t, out.DaemonPID)
	assert.Equal(t, 3, out.Pending)
	assert.Equal(t, 1, out.Conflicts)

	out = buildStatus(snap, 4242)
	assert.Equal(t, daemonRunning, out.Daemon)
	assert.Equal(t, 4242, out.DaemonPID)
}

// --- end-to-end through the root command ---

// clearEnv keeps the caller's LOCALSYNC_* variables out of config
// resolution.
func clearEnv(t *testing.T) {
	t.Helper()

	t.Setenv(config.EnvConfig, "")
	t.Setenv(config.EnvDB, "")
	t.Setenv(config.EnvRemoteURL, "")
}

// writeTestConfig writes a config whose state lives in dir and which has
// no remote, so every command works offline.
func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()

	path := filepath.Join(dir, "config.toml")
	content := `[queue]
db_path = "` + filepath.Join(dir, "state.db") + `"

[remote]
token_file = "` + filepath.Join(dir, "token.json") + `"

[logging]
log_file = "` + filepath.Join(dir, "localsync.log") + `"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

// execute runs the root command and returns what it printed to stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	r, w, err := os.Pipe()
	require.NoError(t, err)

	orig := os.Stdout
	os.Stdout = w

	defer func() { os.Stdout = orig }()

	cmd := newRootCmd()
	cmd.SetArgs(args)
	runErr := cmd.ExecuteContext(context.Background())

	w.Close()

	out, err := io.ReadAll(r)
	require.NoError(t, err)

	return string(out), runErr
}

func TestCLI_OfflineDispatchThenInspect(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	cfg := writeTestConfig(t, dir)

	out, err := execute(t, "--config", cfg, "--quiet", "--json", "dispatch", "createTask", "Buy milk")
	require.NoError(t, err)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, "Buy milk", rec["title"])
	assert.EqualValues(t, -1000, rec["id"])

	out, err = execute(t, "--config", cfg, "--json", "pending")
	require.NoError(t, err)

	var actions []actionJSON
	require.NoError(t, json.Unmarshal([]byte(out), &actions))
	require.Len(t, actions, 1)
	assert.Equal(t, "createTask", actions[0].Type)
	assert.Equal(t, string(queue.StatusPending), actions[0].Status)
	assert.EqualValues(t, -1000, actions[0].TempID)

	out, err = execute(t, "--config", cfg, "show", "task")
	require.NoError(t, err)
	assert.Contains(t, out, "unsynced")
	assert.Contains(t, out, "Buy milk")

	out, err = execute(t, "--config", cfg, "--json", "status")
	require.NoError(t, err)

	var st statusOutput
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, 1, st.Pending)
	assert.Equal(t, 1, st.Entities)
	assert.False(t, st.SignedIn)
	assert.Equal(t, daemonStopped, st.Daemon)

	// The drain lock is released once the command exits.
	_, err = os.Stat(lockPath(filepath.Join(dir, "state.db")))
	assert.True(t, os.IsNotExist(err))
}

func TestCLI_DismissRemovesPlaceholder(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	cfg := writeTestConfig(t, dir)

	_, err := execute(t, "--config", cfg, "--quiet", "dispatch", "createList", "Groceries")
	require.NoError(t, err)

	out, err := execute(t, "--config", cfg, "--json", "pending")
	require.NoError(t, err)

	var actions []actionJSON
	require.NoError(t, json.Unmarshal([]byte(out), &actions))
	require.Len(t, actions, 1)

	_, err = execute(t, "--config", cfg, "--quiet", "dismiss", shortID(actions[0].ID))
	require.NoError(t, err)

	out, err = execute(t, "--config", cfg, "show", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No list records.")
}

func TestCLI_LoginLogout(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	cfg := writeTestConfig(t, dir)

	_, err := execute(t, "--config", cfg, "--quiet", "login", "--access-token", "at-1", "--user-id", "u-42")
	require.NoError(t, err)

	tok, meta, err := tokenfile.Load(filepath.Join(dir, "token.json"))
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, "at-1", tok.AccessToken)
	assert.Equal(t, "u-42", meta[tokenfile.MetaUserID])

	out, err := execute(t, "--config", cfg, "--json", "status")
	require.NoError(t, err)

	var st statusOutput
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.True(t, st.SignedIn)

	// @me now resolves to the stored user id.
	_, err = execute(t, "--config", cfg, "--quiet", "dispatch", "completeTask", "7", "@me")
	require.NoError(t, err)

	out, err = execute(t, "--config", cfg, "--json", "pending")
	require.NoError(t, err)

	var actions []actionJSON
	require.NoError(t, json.Unmarshal([]byte(out), &actions))
	require.Len(t, actions, 1)
	assert.Equal(t, "u-42", actions[0].Payload[1])

	_, err = execute(t, "--config", cfg, "--quiet", "logout")
	require.NoError(t, err)

	tok, _, err = tokenfile.Load(filepath.Join(dir, "token.json"))
	require.NoError(t, err)
	assert.Nil(t, tok)
}

func TestReadTokenJSON_ExpiresIn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "response.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"access_token":"at","refresh_token":"rt","token_type":"Bearer","expires_in":3600}`), 0o600))

	tok, err := readTokenJSON(path)
	require.NoError(t, err)
	assert.Equal(t, "at", tok.AccessToken)
	assert.Equal(t, "rt", tok.RefreshToken)
	assert.False(t, tok.Expiry.IsZero())

	require.NoError(t, os.WriteFile(path, []byte(`{"token_type":"Bearer"}`), 0o600))

	_, err = readTokenJSON(path)
	assert.ErrorContains(t, err, "neither")
}

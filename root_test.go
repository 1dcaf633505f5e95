package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/gdrive-go/internal/config"
	"github.com/tonimelisma/gdrive-go/internal/drive"
)

// Global flag reset pattern: newRootCmd() binds flags via StringVar/BoolVar,
// which reset the global flag variables to their zero values. Tests drive
// flags through cmd.SetArgs() + Execute and never set the globals directly.

// isolateEnv keeps tests away from the real config, token and state files.
func isolateEnv(t *testing.T) {
	t.Helper()

	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv(config.EnvConfig, "")
	t.Setenv(config.EnvTokenFile, "")
	t.Setenv(config.EnvStateDB, "")
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

// execute runs the root command and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer

	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())

	return stdout.String(), stderr.String(), err
}

func TestConfigShow_Defaults(t *testing.T) {
	isolateEnv(t)

	out, _, err := execute(t, "config", "show")
	require.NoError(t, err)

	assert.Contains(t, out, config.DefaultConfigPath())
	assert.Contains(t, out, config.DefaultTokenPath())
	assert.Contains(t, out, `log_level  = "info"`)
}

func TestConfigShow_FlagsOverrideFile(t *testing.T) {
	isolateEnv(t)

	path := writeConfig(t, "[logging]\nlog_level = \"warn\"\n")

	out, _, err := execute(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, `log_level  = "warn"`)

	out, _, err = execute(t, "--config", path, "--verbose", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, `log_level  = "debug"`)

	out, _, err = execute(t, "--config", path, "-q", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, `log_level  = "error"`)
}

func TestConfigShow_JSONMasksSecret(t *testing.T) {
	isolateEnv(t)

	path := writeConfig(t, "[auth]\nclient_id = \"cid\"\nclient_secret = \"hush\"\n")

	out, _, err := execute(t, "--config", path, "--json", "config", "show")
	require.NoError(t, err)

	assert.Contains(t, out, `"client_id": "cid"`)
	assert.Contains(t, out, `"client_secret": "********"`)
	assert.NotContains(t, out, "hush")
	assert.Contains(t, out, `"poll_interval": "30s"`)
}

func TestRoot_BadConfigFails(t *testing.T) {
	isolateEnv(t)

	path := writeConfig(t, "[network]\nmax_retries = 99\n")

	_, _, err := execute(t, "--config", path, "config", "show")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading config")
}

func TestRoot_VerboseAndQuietExclusive(t *testing.T) {
	isolateEnv(t)

	_, _, err := execute(t, "-v", "-q", "config", "show")
	require.Error(t, err)
}

func TestMetricsAddrFlag_OverridesConfig(t *testing.T) {
	isolateEnv(t)

	root := newRootCmd()

	changes, _, err := root.Find([]string{"changes"})
	require.NoError(t, err)
	require.NoError(t, changes.ParseFlags([]string{"--metrics-addr", "127.0.0.1:9100"}))

	cc, err := loadCLIContext(changes)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9100", cc.Cfg.Metrics.ListenAddr)
}

func TestRemoteCommands_RequireClientID(t *testing.T) {
	isolateEnv(t)

	for _, args := range [][]string{{"ls"}, {"login"}, {"changes"}, {"stat", "/x"}} {
		t.Run(strings.Join(args, "_"), func(t *testing.T) {
			_, _, err := execute(t, args...)
			require.ErrorIs(t, err, errNoClientID)
		})
	}
}

func TestRemoteCommands_RequireLogin(t *testing.T) {
	isolateEnv(t)

	path := writeConfig(t, "[auth]\nclient_id = \"cid\"\n")

	_, _, err := execute(t, "--config", path, "ls", "/")
	require.ErrorIs(t, err, drive.ErrNotLoggedIn)
	assert.Equal(t, "run 'gdrive-go login' to authenticate", errorHint(err))

	_, _, err = execute(t, "--config", path, "whoami")
	require.ErrorIs(t, err, drive.ErrNotLoggedIn)
}

func TestLogout_WithoutToken(t *testing.T) {
	isolateEnv(t)

	_, stderr, err := execute(t, "logout")
	require.NoError(t, err)
	assert.Contains(t, stderr, "Logged out.")
}

func TestNewLogger_Formats(t *testing.T) {
	var buf bytes.Buffer

	newLogger(slog.LevelInfo, "json", &buf, true).Info("hello")
	assert.True(t, strings.HasPrefix(buf.String(), "{"))

	buf.Reset()
	newLogger(slog.LevelInfo, "text", &buf, false).Info("hello")
	assert.True(t, strings.HasPrefix(buf.String(), "time="))

	buf.Reset()
	newLogger(slog.LevelInfo, "auto", &buf, false).Info("hello")
	assert.True(t, strings.HasPrefix(buf.String(), "{"), "auto without a terminal is JSON")

	buf.Reset()
	newLogger(slog.LevelInfo, "auto", &buf, true).Info("hello")
	assert.True(t, strings.HasPrefix(buf.String(), "time="), "auto on a terminal is text")
}

func TestNewLogger_Level(t *testing.T) {
	logger := newLogger(parseLevel("warn"), "text", &bytes.Buffer{}, false)

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, parseLevel("info"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}

func TestErrorHint(t *testing.T) {
	assert.Contains(t, errorHint(drive.ErrUnauthorized), "login")
	assert.Contains(t, errorHint(drive.ErrDisconnected), "network")
	assert.Contains(t, errorHint(drive.ErrOutOfSpace), "space")
	assert.Empty(t, errorHint(drive.ErrNotFound))
}

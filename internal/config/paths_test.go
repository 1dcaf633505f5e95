package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigDir_NonEmpty(t *testing.T) {
	dir := DefaultConfigDir()
	assert.NotEmpty(t, dir)
	assert.True(t, strings.Contains(dir, appName))
}

func TestDefaultDataDir_NonEmpty(t *testing.T) {
	dir := DefaultDataDir()
	assert.NotEmpty(t, dir)
	assert.True(t, strings.Contains(dir, appName))
}

func TestDefaultPaths_FileNames(t *testing.T) {
	assert.True(t, strings.HasSuffix(DefaultConfigPath(), "config.toml"))
	assert.True(t, strings.HasSuffix(DefaultTokenPath(), "token.json"))
	assert.True(t, strings.HasSuffix(DefaultStatePath(), "state.db"))
}

func TestDefaultDirs_MacOS(t *testing.T) {
	if runtime.GOOS != platformDarwin {
		t.Skip("macOS-only test")
	}

	assert.Contains(t, DefaultConfigDir(), "Library/Application Support")
	assert.Contains(t, DefaultDataDir(), "Library/Application Support")
}

func TestDefaultDirs_XDGOverride(t *testing.T) {
	if runtime.GOOS != platformLinux {
		t.Skip("Linux-only test")
	}

	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	t.Setenv("XDG_DATA_HOME", "/custom/data")

	assert.Equal(t, filepath.Join("/custom/config", appName), DefaultConfigDir())
	assert.Equal(t, filepath.Join("/custom/data", appName, "state.db"), DefaultStatePath())
}

func TestXDGDir_Fallback(t *testing.T) {
	t.Setenv("XDG_TEST_HOME", "")

	assert.Equal(t, filepath.Join("/home/testuser/.cfg", appName), xdgDir("XDG_TEST_HOME", "/home/testuser/.cfg"))
}

func TestInDir_EmptyDir(t *testing.T) {
	assert.Empty(t, inDir("", "x"))
	assert.Equal(t, filepath.Join("a", "x"), inDir("a", "x"))
}

func TestExpandTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "data", "x.db"), expandTilde("~/data/x.db"))
	assert.Equal(t, "/abs/x.db", expandTilde("/abs/x.db"))
	assert.Equal(t, "~user/x.db", expandTilde("~user/x.db"))
	assert.Equal(t, "rel/x.db", expandTilde("rel/x.db"))
}

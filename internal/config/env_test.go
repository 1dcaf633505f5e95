package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadEnvOverrides(t *testing.T) {
	t.Setenv(EnvConfig, "/custom/config.toml")
	t.Setenv(EnvTokenFile, "/custom/token.json")
	t.Setenv(EnvStateDB, "/custom/state.db")

	env := ReadEnvOverrides()
	assert.Equal(t, "/custom/config.toml", env.ConfigPath)
	assert.Equal(t, "/custom/token.json", env.TokenFile)
	assert.Equal(t, "/custom/state.db", env.StateDB)
}

func TestReadEnvOverrides_Unset(t *testing.T) {
	t.Setenv(EnvConfig, "")
	t.Setenv(EnvTokenFile, "")
	t.Setenv(EnvStateDB, "")

	assert.Equal(t, EnvOverrides{}, ReadEnvOverrides())
}

package config

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resolvedForShow() *Resolved {
	cfg := DefaultConfig()
	cfg.Auth.TokenFile = "/data/token.json"
	cfg.Changes.StateDB = "/data/state.db"

	return &Resolved{Config: *cfg, Path: "/etc/gdrive-go/config.toml"}
}

func TestRenderEffective_Defaults(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderEffective(resolvedForShow(), &buf))

	output := buf.String()
	assert.Contains(t, output, "/etc/gdrive-go/config.toml")
	assert.Contains(t, output, "[auth]")
	assert.Contains(t, output, `token_file    = "/data/token.json"`)
	assert.Contains(t, output, "[network]")
	assert.Contains(t, output, `timeout     = "60s"`)
	assert.Contains(t, output, "max_retries = 5")
	assert.Contains(t, output, "[logging]")
	assert.Contains(t, output, "[changes]")
	assert.Contains(t, output, `state_db      = "/data/state.db"`)
	assert.Contains(t, output, "[metrics]")
	assert.Contains(t, output, "# disabled")
	assert.NotContains(t, output, "client_id")
}

func TestRenderEffective_MasksSecret(t *testing.T) {
	rc := resolvedForShow()
	rc.Auth.ClientID = "my-client"
	rc.Auth.ClientSecret = "top-secret"
	rc.Metrics.ListenAddr = "127.0.0.1:9090"

	var buf bytes.Buffer
	require.NoError(t, RenderEffective(rc, &buf))

	output := buf.String()
	assert.Contains(t, output, `"my-client"`)
	assert.NotContains(t, output, "top-secret")
	assert.Contains(t, output, `client_secret = "********"`)
	assert.Contains(t, output, `listen_addr = "127.0.0.1:9090"`)
}

type failingWriter struct{ err error }

func (w failingWriter) Write([]byte) (int, error) { return 0, w.err }

func TestRenderEffective_WriteError(t *testing.T) {
	boom := errors.New("disk full")

	err := RenderEffective(resolvedForShow(), failingWriter{err: boom})
	require.ErrorIs(t, err, boom)
}

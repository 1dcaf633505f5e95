package config

import (
	"fmt"
	"io"
)

// RenderEffective writes the resolved configuration as a human-readable
// annotated summary to w. This powers the "config show" command. The
// client secret is masked.
func RenderEffective(rc *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", rc.Path)

	renderAuthSection(ew, &rc.Auth)
	renderNetworkSection(ew, &rc.Network)
	renderLoggingSection(ew, &rc.Logging)
	renderChangesSection(ew, &rc.Changes)
	renderMetricsSection(ew, &rc.Metrics)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func renderAuthSection(ew *errWriter, a *AuthConfig) {
	ew.printf("[auth]\n")

	if a.ClientID != "" {
		ew.printf("  client_id     = %q\n", a.ClientID)
	}

	if a.ClientSecret != "" {
		ew.printf("  client_secret = %q\n", "********")
	}

	ew.printf("  token_file    = %q\n", a.TokenFile)
	ew.printf("\n")
}

func renderNetworkSection(ew *errWriter, n *NetworkConfig) {
	ew.printf("[network]\n")
	ew.printf("  timeout     = %q\n", n.Timeout)
	ew.printf("  user_agent  = %q\n", n.UserAgent)
	ew.printf("  max_retries = %d\n", n.MaxRetries)
	ew.printf("  base_url    = %q\n", n.BaseURL)
	ew.printf("  upload_url  = %q\n", n.UploadURL)
	ew.printf("\n")
}

func renderLoggingSection(ew *errWriter, l *LoggingConfig) {
	ew.printf("[logging]\n")
	ew.printf("  log_level  = %q\n", l.LogLevel)
	ew.printf("  log_format = %q\n", l.LogFormat)
	ew.printf("\n")
}

func renderChangesSection(ew *errWriter, c *ChangesConfig) {
	ew.printf("[changes]\n")
	ew.printf("  poll_interval = %q\n", c.PollInterval)
	ew.printf("  state_db      = %q\n", c.StateDB)
	ew.printf("\n")
}

func renderMetricsSection(ew *errWriter, m *MetricsConfig) {
	ew.printf("[metrics]\n")

	if m.ListenAddr == "" {
		ew.printf("  # disabled\n")

		return
	}

	ew.printf("  listen_addr = %q\n", m.ListenAddr)
}

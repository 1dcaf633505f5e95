// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for gdrive-go. Values resolve through a
// four-layer chain: defaults -> config file -> environment -> CLI flags.
package config

import "time"

// Config is the top-level configuration parsed from a TOML file. Every
// setting lives in a named section.
type Config struct {
	Auth    AuthConfig    `toml:"auth" json:"auth"`
	Network NetworkConfig `toml:"network" json:"network"`
	Logging LoggingConfig `toml:"logging" json:"logging"`
	Changes ChangesConfig `toml:"changes" json:"changes"`
	Metrics MetricsConfig `toml:"metrics" json:"metrics"`
}

// AuthConfig holds the OAuth client and where the token is saved. Google
// treats the secret of an installed app as public.
type AuthConfig struct {
	ClientID     string `toml:"client_id" json:"client_id"`
	ClientSecret string `toml:"client_secret" json:"client_secret"`
	TokenFile    string `toml:"token_file" json:"token_file"`
}

// NetworkConfig controls the Drive HTTP client.
type NetworkConfig struct {
	Timeout    string `toml:"timeout" json:"timeout"`
	UserAgent  string `toml:"user_agent" json:"user_agent"`
	MaxRetries int    `toml:"max_retries" json:"max_retries"`
	BaseURL    string `toml:"base_url" json:"base_url"`
	UploadURL  string `toml:"upload_url" json:"upload_url"`
}

// LoggingConfig controls log level and output format.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level" json:"log_level"`
	LogFormat string `toml:"log_format" json:"log_format"`
}

// ChangesConfig controls the change-feed follower.
type ChangesConfig struct {
	PollInterval string `toml:"poll_interval" json:"poll_interval"`
	StateDB      string `toml:"state_db" json:"state_db"`
}

// MetricsConfig controls the Prometheus endpoint. An empty listen address
// disables it.
type MetricsConfig struct {
	ListenAddr string `toml:"listen_addr" json:"listen_addr"`
}

// CLIOverrides holds values from CLI flags. Pointer fields distinguish
// "not specified" (nil) from an explicit zero value.
type CLIOverrides struct {
	ConfigPath  string  // --config flag (empty = use default)
	LogLevel    *string // set by --verbose / --quiet
	MetricsAddr *string // --metrics-addr flag
}

// TimeoutDuration returns the parsed network timeout. Only call it on a
// validated config.
func (n *NetworkConfig) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(n.Timeout) //nolint:errcheck // validated

	return d
}

// PollDuration returns the parsed poll interval. Only call it on a
// validated config.
func (c *ChangesConfig) PollDuration() time.Duration {
	d, _ := time.ParseDuration(c.PollInterval) //nolint:errcheck // validated

	return d
}

package config

// Default values: layer 0 of the override chain.
const (
	defaultTimeout      = "60s"
	defaultUserAgent    = "gdrive-go/dev"
	defaultMaxRetries   = 5
	defaultBaseURL      = "https://www.googleapis.com/drive/v3"
	defaultUploadURL    = "https://www.googleapis.com/upload/drive/v3"
	defaultLogLevel     = "info"
	defaultLogFormat    = "auto"
	defaultPollInterval = "30s"
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset fields keep their
// defaults. Token and state paths stay empty here and are filled in by
// Resolve from the platform data directory.
func DefaultConfig() *Config {
	return &Config{
		Network: NetworkConfig{
			Timeout:    defaultTimeout,
			UserAgent:  defaultUserAgent,
			MaxRetries: defaultMaxRetries,
			BaseURL:    defaultBaseURL,
			UploadURL:  defaultUploadURL,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Changes: ChangesConfig{
			PollInterval: defaultPollInterval,
		},
	}
}

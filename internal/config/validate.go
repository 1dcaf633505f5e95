package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"
)

// Validation range constants.
const (
	minTimeout      = 1 * time.Second
	minPollInterval = 1 * time.Second
	maxRetriesLimit = 10
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateAuth(&cfg.Auth)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateChanges(&cfg.Changes)...)
	errs = append(errs, validateMetrics(&cfg.Metrics)...)

	return errors.Join(errs...)
}

func validateAuth(a *AuthConfig) []error {
	if a.ClientSecret != "" && a.ClientID == "" {
		return []error{errors.New("auth.client_secret: set without auth.client_id")}
	}

	return nil
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("network.timeout", n.Timeout, minTimeout)...)

	if n.MaxRetries < 0 || n.MaxRetries > maxRetriesLimit {
		errs = append(errs, fmt.Errorf("network.max_retries: must be between 0 and %d, got %d",
			maxRetriesLimit, n.MaxRetries))
	}

	if n.UserAgent == "" {
		errs = append(errs, errors.New("network.user_agent: must not be empty"))
	}

	errs = append(errs, validateHTTPURL("network.base_url", n.BaseURL)...)
	errs = append(errs, validateHTTPURL("network.upload_url", n.UploadURL)...)

	return errs
}

func validateHTTPURL(field, value string) []error {
	u, err := url.Parse(value)
	if err != nil {
		return []error{fmt.Errorf("%s: %w", field, err)}
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return []error{fmt.Errorf("%s: must be an absolute http(s) URL, got %q", field, value)}
	}

	return nil
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)}
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)
	errs = append(errs, validateLogFormat(l.LogFormat)...)

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("logging.log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}

func validateChanges(c *ChangesConfig) []error {
	return validateDurationMin("changes.poll_interval", c.PollInterval, minPollInterval)
}

func validateMetrics(m *MetricsConfig) []error {
	if m.ListenAddr == "" {
		return nil
	}

	if _, _, err := net.SplitHostPort(m.ListenAddr); err != nil {
		return []error{fmt.Errorf("metrics.listen_addr: %w", err)}
	}

	return nil
}

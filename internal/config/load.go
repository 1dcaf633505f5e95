package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal, with "did you mean?"
// suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validating %s: %w", path, err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolved is a fully resolved configuration together with the file it
// came from.
type Resolved struct {
	Config
	Path string // config file consulted; it may not exist
}

// Resolve applies the override chain: defaults -> config file ->
// environment -> CLI flags. Token and state paths left empty fall back to
// the platform data directory, and a leading "~/" is expanded.
func Resolve(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) (*Resolved, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("config loaded", slog.String("path", cfgPath))

	if env.TokenFile != "" {
		cfg.Auth.TokenFile = env.TokenFile
	}

	if env.StateDB != "" {
		cfg.Changes.StateDB = env.StateDB
	}

	if cli.LogLevel != nil {
		cfg.Logging.LogLevel = *cli.LogLevel
	}

	if cli.MetricsAddr != nil {
		cfg.Metrics.ListenAddr = *cli.MetricsAddr
	}

	if cfg.Auth.TokenFile == "" {
		cfg.Auth.TokenFile = DefaultTokenPath()
	}

	if cfg.Changes.StateDB == "" {
		cfg.Changes.StateDB = DefaultStatePath()
	}

	cfg.Auth.TokenFile = expandTilde(cfg.Auth.TokenFile)
	cfg.Changes.StateDB = expandTilde(cfg.Changes.StateDB)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return &Resolved{Config: *cfg, Path: cfgPath}, nil
}

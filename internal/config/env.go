package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig    = "GDRIVE_GO_CONFIG"
	EnvTokenFile = "GDRIVE_GO_TOKEN_FILE"
	EnvStateDB   = "GDRIVE_GO_STATE_DB"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // GDRIVE_GO_CONFIG: override config file path
	TokenFile  string // GDRIVE_GO_TOKEN_FILE: token file override
	StateDB    string // GDRIVE_GO_STATE_DB: state database override
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. It does not modify a Config.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		TokenFile:  os.Getenv(EnvTokenFile),
		StateDB:    os.Getenv(EnvStateDB),
	}
}

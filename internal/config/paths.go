package config

import (
	"os"
	"path/filepath"
)

// MarcusPath returns the root directory for Marcus data.
// It uses $MARCUS_PATH if set, otherwise defaults to ~/.marcus.
func MarcusPath() string {
	if v := os.Getenv("MARCUS_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".marcus")
	}
	return filepath.Join(home, ".marcus")
}

// ConfigPath returns the path to the Marcus config file.
func ConfigPath() string {
	return filepath.Join(MarcusPath(), "config.jsonc")
}

// DotenvPath returns the path to the Marcus .env file.
func DotenvPath() string {
	return filepath.Join(MarcusPath(), ".env")
}

// HeartbeatPath returns the path to the gateway heartbeat file.
func HeartbeatPath() string {
	return filepath.Join(MarcusPath(), "gateway.heartbeat")
}

// EventLogDir returns the directory for JSONL event logs.
func EventLogDir() string {
	return filepath.Join(MarcusPath(), "logs")
}

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/tailscale/hujson"
)

var envTemplateRe = regexp.MustCompile(`\$\{\{\s*\.Env\.(\w+)\s*\}\}`)

// ErrInvalid marks configuration errors that should terminate startup with exit code 1.
var ErrInvalid = errors.New("invalid configuration")

// Load reads a JSONC config file, strips comments, expands ${{ .Env.VAR }} templates,
// unmarshals it into Config, and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variable templates (before standardizing, since templates are in strings)
	expanded := expandEnvTemplates(string(data))

	std, err := hujson.Standardize([]byte(expanded))
	if err != nil {
		return nil, fmt.Errorf("standardize config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(std, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// expandEnvTemplates replaces ${{ .Env.VAR }} with the env var value.
func expandEnvTemplates(s string) string {
	return envTemplateRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envTemplateRe.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		return os.Getenv(parts[1])
	})
}

// applyDefaults fills in zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Provider == "" {
		cfg.Provider = "memory"
	}
	if cfg.AI.Driver == "" {
		cfg.AI.Driver = "openai"
	}
	if cfg.AI.Timeout == 0 {
		cfg.AI.Timeout = Duration(10 * time.Second)
	}
	if cfg.Monitor.Interval == 0 {
		cfg.Monitor.Interval = Duration(60 * time.Second)
	}
	if cfg.Monitor.StallThreshold == 0 {
		cfg.Monitor.StallThreshold = Duration(24 * time.Hour)
	}
	if cfg.Monitor.StallSweepCron == "" {
		cfg.Monitor.StallSweepCron = "0 * * * *"
	}
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "127.0.0.1"
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 8420
	}
	if cfg.ToolCallTimeout == 0 {
		cfg.ToolCallTimeout = Duration(30 * time.Second)
	}
	if cfg.PersistencePath == "" {
		cfg.PersistencePath = filepath.Join("data", "assignments.json")
	}
}

// Validate checks that the selected provider has the credentials it needs.
func (cfg *Config) Validate() error {
	switch cfg.Provider {
	case "planka":
		if cfg.Planka.BaseURL == "" || cfg.Planka.Email == "" || cfg.Planka.Password == "" {
			return fmt.Errorf("%w: planka requires base_url, email and password", ErrInvalid)
		}
	case "github":
		if cfg.GitHub.Token == "" || cfg.GitHub.Owner == "" || cfg.GitHub.Repo == "" {
			return fmt.Errorf("%w: github requires token, owner and repo", ErrInvalid)
		}
	case "linear":
		if cfg.Linear.APIKey == "" || cfg.Linear.TeamID == "" {
			return fmt.Errorf("%w: linear requires api_key and team_id", ErrInvalid)
		}
	case "memory":
		// no credentials
	default:
		return fmt.Errorf("%w: unknown provider %q", ErrInvalid, cfg.Provider)
	}

	switch cfg.AI.Driver {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("%w: unknown ai driver %q", ErrInvalid, cfg.AI.Driver)
	}

	return nil
}

// Default returns a Config with all defaults applied and no provider credentials.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

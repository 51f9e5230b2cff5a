package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/marcushq/marcus/internal/config"
)

// NewInitCommand returns the onboarding subcommand.
func NewInitCommand() *cli.Command {
	return &cli.Command{
		Name:   "init",
		Usage:  "Initialize the Marcus home directory (~/.marcus)",
		Action: runInit,
	}
}

func runInit(_ context.Context, _ *cli.Command) error {
	root := config.MarcusPath()
	created := false

	// Ensure directories exist.
	dirs := []string{
		root,
		filepath.Join(root, "logs"),
		filepath.Join(root, "data"),
	}
	for _, d := range dirs {
		if _, err := os.Stat(d); err != nil {
			if err := os.MkdirAll(d, 0o755); err != nil {
				return fmt.Errorf("create dir %s: %w", d, err)
			}
			fmt.Printf("  Created %s\n", d)
			created = true
		}
	}

	// Write default config if missing.
	configPath := config.ConfigPath()
	if _, err := os.Stat(configPath); err != nil {
		if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("  Created %s\n", configPath)
		created = true
	}

	// Write default .env if missing.
	dotenvPath := config.DotenvPath()
	if _, err := os.Stat(dotenvPath); err != nil {
		if err := os.WriteFile(dotenvPath, []byte(defaultDotenv), 0o600); err != nil {
			return fmt.Errorf("write .env: %w", err)
		}
		fmt.Printf("  Created %s\n", dotenvPath)
		created = true
	}

	if !created {
		fmt.Printf("Already initialized — %s is complete. Nothing to do.\n", root)
		return nil
	}

	fmt.Printf(`
  Marcus home set up at %s

  Next steps:
    1. Drop your board credentials and API keys in %s/.env
    2. Pick a provider in %s/config.jsonc
    3. Run: marcus serve   (stdio MCP)
       or:  marcus gateway (SSE server)
`, root, root, root)
	return nil
}

const defaultConfig = `{
	// Marcus Configuration
	// Docs: https://github.com/marcushq/marcus

	// Board backend: "planka", "github", "linear" or "memory"
	"provider": "memory",

	// "planka": {
	// 	"base_url": "http://localhost:3000",
	// 	"email": "${{ .Env.PLANKA_EMAIL }}",
	// 	"password": "${{ .Env.PLANKA_PASSWORD }}"
	// },

	// "github": {
	// 	"token": "${{ .Env.GITHUB_TOKEN }}",
	// 	"owner": "your-org",
	// 	"repo": "your-repo"
	// },

	"ai": {
		"driver": "anthropic",
		"api_key": "${{ .Env.ANTHROPIC_API_KEY }}",
		"model": "claude-sonnet-4-6"
	},

	"monitor": {
		"interval": "60s",
		"stall_threshold": "24h"
	},

	"gateway": {
		"host": "127.0.0.1",
		"port": 8420,
		"auth_tokens": []
	}
}
`

const defaultDotenv = `# Marcus environment variables
# This file is loaded automatically. Existing env vars are never overridden.

# ANTHROPIC_API_KEY=sk-ant-...
# OPENAI_API_KEY=sk-...
# GITHUB_TOKEN=ghp_...
# PLANKA_EMAIL=
# PLANKA_PASSWORD=
`

package commands

import (
	"github.com/urfave/cli/v3"

	"github.com/marcushq/marcus/internal/config"
)

// Version is the Marcus release version reported by the MCP server and the gateway.
const Version = "0.1.0"

// NewRootCommand returns the top-level CLI command.
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "marcus",
		Usage: "Autonomous project coordinator for AI agent teams",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   config.ConfigPath(),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			NewInitCommand(),
			NewServeCommand(),
			NewGatewayCommand(),
			NewStatusCommand(),
		},
	}
}

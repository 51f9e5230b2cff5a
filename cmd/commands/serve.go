package commands

import (
	"context"
	"log/slog"

	"github.com/urfave/cli/v3"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/marcushq/marcus/internal/config"
	"github.com/marcushq/marcus/internal/heartbeat"
	"github.com/marcushq/marcus/internal/mcptools"
)

// NewServeCommand returns the serve subcommand.
func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Expose Marcus tools as an MCP server (stdio)",
		Action: runServe,
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	// Logging goes to stderr, stdout carries the MCP stdio transport.
	log := stderrLogger(cmd.Bool("debug"))
	slog.SetDefault(log)

	rt, err := setupRuntime(ctx, cmd, log)
	if err != nil {
		return err
	}
	defer rt.Close()

	go rt.mon.Run(ctx)

	hb := heartbeat.NewWriter(config.HeartbeatPath(), "stdio")
	hb.Start()
	defer hb.Stop()

	log.Info("marcus mcp server starting",
		"provider", rt.cfg.Provider,
		"tools", len(rt.registry.ToolNames()))

	server := mcptools.NewMCPServer(rt.registry, Version)
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}

package mcptools

import (
	"context"
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// NewMCPServer creates an MCP server exposing every tool in the registry.
// The caller runs it over the transport of its choice, typically stdio.
func NewMCPServer(registry *Registry, version string) *mcpsdk.Server {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "marcus",
		Version: version,
	}, nil)

	for _, name := range registry.ToolNames() {
		spec := registry.Spec(name)
		mcpTool := toMCPTool(spec)

		// Capture tool in closure
		toolName := name

		server.AddTool(mcpTool, func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			text, err := registry.Call(ctx, toolName, req.Params.Arguments)
			if err != nil {
				slog.Debug("mcp tool error", "tool", toolName, "error", err)
				return &mcpsdk.CallToolResult{
					IsError: true,
					Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
				}, nil
			}
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
			}, nil
		})

		slog.Debug("mcp tool registered", "tool", name)
	}

	return server
}

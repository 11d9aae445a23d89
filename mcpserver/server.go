// Package mcpserver publishes the tool registry as a Model Context Protocol
// server, so other MCP clients can use the same workspace tools.
package mcpserver

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/m4xw311/devpilot/llm"
	"github.com/m4xw311/devpilot/logging"
	"github.com/m4xw311/devpilot/session"
	"github.com/m4xw311/devpilot/tools"
)

// New builds an MCP server exposing every descriptor in reg. Calls run with
// ec as their execution context.
func New(name, version string, reg *tools.Registry, ec tools.ExecutionContext, logger *slog.Logger) *server.MCPServer {
	logger = logging.OrDiscard(logger)
	s := server.NewMCPServer(name, version, server.WithToolCapabilities(false))
	for _, d := range reg.All() {
		s.AddTool(Tool(d), handler(d, ec, logger))
	}
	logger.Info("MCP server ready", "tools", reg.Len())
	return s
}

// Serve runs the server over stdio until the client disconnects.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

// Tool converts a descriptor into an MCP tool definition.
func Tool(d *tools.Descriptor) mcp.Tool {
	schema := llm.ParameterSchema(d)
	props, _ := schema["properties"].(map[string]any)
	required, _ := schema["required"].([]string)
	return mcp.Tool{
		Name:        d.Name,
		Description: d.Description,
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: props,
			Required:   required,
		},
	}
}

func handler(d *tools.Descriptor, ec tools.ExecutionContext, logger *slog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		if args == nil {
			args = map[string]any{}
		}
		out, err := d.Run(ctx, args, ec)
		if err != nil {
			logger.Info("tool failed", "tool", d.Name, "error", err)
			return mcp.NewToolResultError(err.Error()), nil
		}
		// Render the output the same way the agent shows it to a model.
		return mcp.NewToolResultText(session.ToolResult{Output: out}.Text()), nil
	}
}

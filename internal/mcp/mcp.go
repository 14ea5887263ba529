// Package mcp implements the Model Context Protocol server for agentrelay.
//
// The MCP server exposes the registry and message store through MCP tools,
// resources and prompts, so MCP-compatible agents can register themselves
// and exchange messages without speaking the REST API.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/agentrelay/internal/ctxutil"
	"github.com/ashita-ai/agentrelay/internal/messages"
	"github.com/ashita-ai/agentrelay/internal/model"
	"github.com/ashita-ai/agentrelay/internal/registry"
)

// Server wraps the MCP server with the relay's stores.
type Server struct {
	mcpServer *mcpserver.MCPServer
	registry  *registry.Registry
	messages  *messages.Store
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all resources, tools and
// prompts.
func New(reg *registry.Registry, msgs *messages.Store, logger *slog.Logger, version string) *Server {
	s := &Server{
		registry: reg,
		messages: msgs,
		logger:   logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"agentrelay",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithPromptCapabilities(true),
	)

	s.registerResources()
	s.registerTools()
	s.registerPrompts()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// principal returns the admitted caller. The HTTP transport admits requests
// before they reach the MCP server, so a missing principal means the tool
// was invoked outside that path.
func principal(ctx context.Context) (model.Principal, *mcplib.CallToolResult) {
	p, ok := ctxutil.PrincipalFromContext(ctx)
	if !ok || p.ID == "" {
		return model.Principal{}, errorResult("authentication required")
	}
	return p, nil
}

// toolError converts a store error into a tool result. Classified errors keep
// their message; anything else is logged and reported generically.
func (s *Server) toolError(ctx context.Context, op string, err error) *mcplib.CallToolResult {
	var relayErr *model.Error
	if errors.As(err, &relayErr) && relayErr.Kind != model.KindInternal {
		return errorResult(relayErr.Message)
	}
	s.logger.ErrorContext(ctx, "mcp: tool failed", "tool", op, "error", err)
	return errorResult(fmt.Sprintf("%s failed: internal error", op))
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal result: %w", err)
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

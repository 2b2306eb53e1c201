// Package mcpserver exposes the relay tools over the Model Context Protocol,
// so agent frameworks and MCP clients can call the same tools the voice
// platforms reach through webhooks.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/harun/voxrelay/pkg/toolexecutor"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

// CallIDArgument carries the browser call a tool call belongs to. It is
// removed from the arguments before dispatch.
const CallIDArgument = "call_id"

// Registry is the tool executor surface the MCP server needs.
type Registry interface {
	Definitions() []toolexecutor.ToolDefinition
	Schema(name string) (map[string]interface{}, bool)
	Execute(ctx context.Context, call toolexecutor.Call) (toolexecutor.Result, error)
}

// Server adapts a Registry to an MCP server.
type Server struct {
	registry Registry
	mcp      *mcpserver.MCPServer
	logger   zerolog.Logger
}

// New registers every tool of registry on a new MCP server.
func New(registry Registry, version string, logger zerolog.Logger) (*Server, error) {
	s := &Server{
		registry: registry,
		mcp: mcpserver.NewMCPServer(
			"voxrelay",
			version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithRecovery(),
		),
		logger: logger.With().Str("component", "mcp").Logger(),
	}

	for _, def := range registry.Definitions() {
		tool, err := s.toolFor(def)
		if err != nil {
			return nil, err
		}
		s.mcp.AddTool(tool, s.handle(def.Name))
	}

	return s, nil
}

func (s *Server) toolFor(def toolexecutor.ToolDefinition) (mcplib.Tool, error) {
	schema, ok := s.registry.Schema(def.Name)
	if !ok {
		return mcplib.Tool{}, fmt.Errorf("no schema for tool %s", def.Name)
	}

	props, _ := schema["properties"].(map[string]interface{})
	withCallID := make(map[string]interface{}, len(schema))
	for k, v := range schema {
		withCallID[k] = v
	}
	merged := make(map[string]interface{}, len(props)+1)
	for k, v := range props {
		merged[k] = v
	}
	merged[CallIDArgument] = map[string]interface{}{
		"type":        "string",
		"description": "Browser call to deliver page commands to",
	}
	withCallID["properties"] = merged

	raw, err := json.Marshal(withCallID)
	if err != nil {
		return mcplib.Tool{}, fmt.Errorf("encode schema for %s: %w", def.Name, err)
	}
	return mcplib.NewToolWithRawSchema(def.Name, def.Description, raw), nil
}

func (s *Server) handle(name string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		args := make(map[string]interface{})
		for k, v := range req.GetArguments() {
			args[k] = v
		}
		callID, _ := args[CallIDArgument].(string)
		delete(args, CallIDArgument)

		result, err := s.registry.Execute(ctx, toolexecutor.Call{
			Name:      name,
			Arguments: args,
			CallID:    callID,
		})
		if err != nil {
			s.logger.Error().Err(err).Str("tool", name).Msg("MCP tool call failed")
			return mcplib.NewToolResultError("tool execution failed"), nil
		}

		body, err := json.Marshal(result)
		if err != nil {
			s.logger.Error().Err(err).Str("tool", name).Msg("MCP tool result not encodable")
			return mcplib.NewToolResultError("tool execution failed"), nil
		}

		out := mcplib.NewToolResultText(string(body))
		out.IsError = result.Failed()
		return out, nil
	}
}

// MCP returns the underlying server.
func (s *Server) MCP() *mcpserver.MCPServer {
	return s.mcp
}

// HTTPHandler serves streamable HTTP MCP at path. Sessions are not kept.
func (s *Server) HTTPHandler(path string) http.Handler {
	return mcpserver.NewStreamableHTTPServer(
		s.mcp,
		mcpserver.WithEndpointPath(path),
		mcpserver.WithStateLess(true),
	)
}

// ServeStdio serves MCP on in and out until ctx is canceled or in closes.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := mcpserver.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(log.New(s.logger.With().Str("transport", "stdio").Logger(), "", 0))

	s.logger.Info().Msg("MCP server starting on stdio")
	return stdio.Listen(ctx, in, out)
}

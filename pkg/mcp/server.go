package mcp

import (
	"context"
	"net/http"

	"github.com/jllopis/skillmesh/pkg/core"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server exposes core tool handlers as an MCP server. It lets in-process
// tools be served as a stdio or sidecar skill.
type Server struct {
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP server.
func NewServer(name, version string) *Server {
	return &Server{
		mcpServer: server.NewMCPServer(name, version, server.WithToolCapabilities(true)),
	}
}

// RegisterTool registers a tool with the server. Handler errors are
// reported as error results so clients see them in-band.
func (s *Server) RegisterTool(def core.ToolDefinition, handler core.ToolHandler) {
	schemaType := def.InputSchema.Type
	if schemaType == "" {
		schemaType = "object"
	}
	tool := mcp.Tool{
		Name:        def.Name,
		Description: def.Description,
		InputSchema: mcp.ToolInputSchema{
			Type:       schemaType,
			Properties: def.InputSchema.Properties,
			Required:   def.InputSchema.Required,
		},
	}

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res, err := handler(ctx, request.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		out := &mcp.CallToolResult{IsError: res.IsError}
		for _, c := range res.Content {
			if c.Type == core.ContentTypeText {
				out.Content = append(out.Content, mcp.NewTextContent(c.Text))
			}
		}
		return out, nil
	})
}

// ServeStdio serves the registered tools on the process stdio until EOF.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// Handler returns a streamable HTTP handler for sidecar deployments.
func (s *Server) Handler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcpServer)
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

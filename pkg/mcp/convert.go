package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jllopis/skillmesh/pkg/core"
	"github.com/mark3labs/mcp-go/mcp"
)

var errNilResult = errors.New("mcp tool result is nil")

// ToolDefinition converts an MCP tool into the transport-independent shape.
// A raw input schema takes precedence over the structured one.
func ToolDefinition(tool mcp.Tool) core.ToolDefinition {
	schema := core.InputSchema{
		Type:       tool.InputSchema.Type,
		Properties: tool.InputSchema.Properties,
		Required:   tool.InputSchema.Required,
	}
	if len(tool.RawInputSchema) > 0 {
		var raw core.InputSchema
		if err := json.Unmarshal(tool.RawInputSchema, &raw); err == nil {
			schema = raw
		}
	}
	if schema.Type == "" {
		schema.Type = "object"
	}
	return core.ToolDefinition{
		Name:        tool.Name,
		Description: tool.Description,
		InputSchema: schema,
	}
}

// ToolDefinitions converts a list of MCP tools.
func ToolDefinitions(tools []mcp.Tool) []core.ToolDefinition {
	defs := make([]core.ToolDefinition, 0, len(tools))
	for _, tool := range tools {
		defs = append(defs, ToolDefinition(tool))
	}
	return defs
}

// ToolResult converts an MCP call result. Non-text blocks keep their type
// without text; structured content is rendered as JSON when no text is
// present.
func ToolResult(result *mcp.CallToolResult) (core.ToolResult, error) {
	if result == nil {
		return core.ToolResult{}, errNilResult
	}
	out := core.ToolResult{IsError: result.IsError}
	for _, item := range result.Content {
		switch content := item.(type) {
		case mcp.TextContent:
			out.Content = append(out.Content, core.ResultContent{Type: core.ContentTypeText, Text: content.Text})
		case *mcp.TextContent:
			out.Content = append(out.Content, core.ResultContent{Type: core.ContentTypeText, Text: content.Text})
		case mcp.ImageContent:
			out.Content = append(out.Content, core.ResultContent{Type: "image"})
		case mcp.AudioContent:
			out.Content = append(out.Content, core.ResultContent{Type: "audio"})
		case mcp.EmbeddedResource:
			out.Content = append(out.Content, core.ResultContent{Type: "resource"})
		}
	}
	if out.Text() == "" && result.StructuredContent != nil {
		raw, err := json.Marshal(result.StructuredContent)
		if err != nil {
			return core.ToolResult{}, fmt.Errorf("mcp structured content: %w", err)
		}
		out.Content = append(out.Content, core.ResultContent{Type: core.ContentTypeText, Text: string(raw)})
	}
	return out, nil
}

// missingRequired lists required keys absent from args.
func missingRequired(def core.ToolDefinition, args map[string]any) []string {
	var missing []string
	for _, key := range def.InputSchema.Required {
		if _, ok := args[key]; !ok {
			missing = append(missing, key)
		}
	}
	return missing
}

// ValidateArgs checks args against the required keys of def.
func ValidateArgs(def core.ToolDefinition, args map[string]any) error {
	if missing := missingRequired(def, args); len(missing) > 0 {
		return fmt.Errorf("missing required field(s) %s for tool %q", strings.Join(missing, ", "), def.Name)
	}
	return nil
}

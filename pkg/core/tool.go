// Copyright 2026 © The Skillmesh Authors
// SPDX-License-Identifier: Apache-2.0

// Package core holds the shapes shared by every tool provider: tool
// definitions, tool results and the ToolProvider capability.
package core

import (
	"context"
	"strings"
)

// ContentTypeText is the only content type produced by skillmesh itself.
const ContentTypeText = "text"

// InputSchema describes the JSON object a tool accepts.
type InputSchema struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	Required   []string       `json:"required,omitempty"`
}

// ObjectSchema returns an object schema with the given properties and
// required keys.
func ObjectSchema(properties map[string]any, required ...string) InputSchema {
	return InputSchema{Type: "object", Properties: properties, Required: required}
}

// ToolDefinition is the transport-independent description of a tool.
type ToolDefinition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"input_schema"`
}

// ResultContent is one block of a tool result.
type ResultContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ToolResult is the uniform outcome of executing a tool.
//
// Transition carries a lifecycle target requested by the tool. It is never
// serialized; the agent loop surfaces it to its caller.
type ToolResult struct {
	Content    []ResultContent `json:"content"`
	IsError    bool            `json:"isError,omitempty"`
	Transition string          `json:"-"`
}

// TextResult builds a successful single-text result.
func TextResult(text string) ToolResult {
	return ToolResult{Content: []ResultContent{{Type: ContentTypeText, Text: text}}}
}

// ErrorResult builds an error result carrying text.
func ErrorResult(text string) ToolResult {
	return ToolResult{Content: []ResultContent{{Type: ContentTypeText, Text: text}}, IsError: true}
}

// WithTransition returns a copy of r requesting a lifecycle transition.
func (r ToolResult) WithTransition(state string) ToolResult {
	r.Transition = state
	return r
}

// Text joins every text block of the result.
func (r ToolResult) Text() string {
	parts := make([]string, 0, len(r.Content))
	for _, c := range r.Content {
		if c.Type == ContentTypeText && c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ToolHandler executes a single tool.
type ToolHandler func(ctx context.Context, input map[string]any) (ToolResult, error)

// Tool pairs a definition with the handler that executes it.
type Tool struct {
	Definition ToolDefinition
	Handler    ToolHandler
}

// Name returns the tool name.
func (t Tool) Name() string { return t.Definition.Name }

// ToolProvider is the capability every tool source exposes: skills, legacy
// plugins and the merged registry.
type ToolProvider interface {
	// ListTools returns the provider's current catalog.
	ListTools(ctx context.Context) ([]ToolDefinition, error)
	// HasTool reports whether the provider claims name.
	HasTool(name string) bool
	// Execute runs name. Transport failures are returned as errors; tool
	// level failures are reported through ToolResult.IsError.
	Execute(ctx context.Context, name string, input map[string]any) (ToolResult, error)
	// Close releases every resource held by the provider.
	Close(ctx context.Context) error
}

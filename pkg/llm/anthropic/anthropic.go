// Copyright 2026 © The Skillmesh Authors
// SPDX-License-Identifier: Apache-2.0

// Package anthropic adapts the Anthropic Messages API to llm.Provider.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/jllopis/skillmesh/pkg/core"
	"github.com/jllopis/skillmesh/pkg/llm"
)

// Options configures the provider.
type Options struct {
	Model     string
	MaxTokens int64
	APIKey    string
	BaseURL   string
}

// Provider calls the Messages API.
type Provider struct {
	client *anthropic.Client
	opts   Options
}

var _ llm.Provider = (*Provider)(nil)

// New creates a provider using the official client.
func New(optFns ...func(o *Options)) *Provider {
	opts := Options{
		Model:     string(anthropic.ModelClaudeSonnet4_20250514),
		MaxTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	client := anthropic.NewClient(clientOpts...)
	return &Provider{client: &client, opts: opts}
}

// Chat implements llm.Provider.
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.opts.Model
	}
	maxTokens := p.opts.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  buildMessages(req.Messages),
	}
	for _, s := range req.System {
		if s != "" {
			params.System = append(params.System, anthropic.TextBlockParam{Text: s})
		}
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic api error: %w", err)
	}
	return convertResponse(resp), nil
}

func buildMessages(msgs []llm.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Content))
		for _, b := range m.Content {
			switch b.Type {
			case llm.BlockText:
				if b.Text != "" {
					blocks = append(blocks, anthropic.NewTextBlock(b.Text))
				}
			case llm.BlockToolUse:
				var input any = b.Input
				if b.Input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(b.ID, input, b.Name))
			case llm.BlockToolResult:
				blocks = append(blocks, anthropic.NewToolResultBlock(b.ToolUseID, b.Content, b.IsError))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if m.Role == llm.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

func buildTools(defs []core.ToolDefinition) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, len(defs))
	for i, def := range defs {
		schema := anthropic.ToolInputSchemaParam{
			Type:       constant.Object("object"),
			Properties: def.InputSchema.Properties,
			Required:   def.InputSchema.Required,
		}
		tools[i] = anthropic.ToolUnionParamOfTool(schema, def.Name)
		if def.Description != "" && tools[i].OfTool != nil {
			tools[i].OfTool.Description = anthropic.String(def.Description)
		}
	}
	return tools
}

func convertResponse(resp *anthropic.Message) *llm.ChatResponse {
	out := &llm.ChatResponse{
		StopReason: convertStopReason(resp.StopReason),
		Usage: llm.Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			out.Content = append(out.Content, llm.TextBlock(block.AsText().Text))
		case "tool_use":
			tu := block.AsToolUse()
			var input map[string]any
			if len(tu.Input) > 0 {
				if err := json.Unmarshal(tu.Input, &input); err != nil {
					input = map[string]any{"_raw": string(tu.Input)}
				}
			}
			out.Content = append(out.Content, llm.ToolUseBlock(tu.ID, tu.Name, input))
		}
	}
	return out
}

func convertStopReason(r anthropic.StopReason) llm.StopReason {
	switch r {
	case anthropic.StopReasonEndTurn, anthropic.StopReasonStopSequence:
		return llm.StopEndTurn
	case anthropic.StopReasonToolUse:
		return llm.StopToolUse
	default:
		return llm.StopOther
	}
}

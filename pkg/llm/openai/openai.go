// Copyright 2026 © The Skillmesh Authors
// SPDX-License-Identifier: Apache-2.0

// Package openai adapts the OpenAI chat completions API to llm.Provider.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jllopis/skillmesh/pkg/core"
	"github.com/jllopis/skillmesh/pkg/llm"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Options configures the provider.
type Options struct {
	Model               string
	MaxCompletionTokens int64
	APIKey              string
	BaseURL             string
}

// Provider calls chat completions with function tools.
type Provider struct {
	client *openai.Client
	opts   Options
}

var _ llm.Provider = (*Provider)(nil)

// New creates a provider. Without an explicit key the client reads
// OPENAI_API_KEY.
func New(optFns ...func(o *Options)) *Provider {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		MaxCompletionTokens: 4096,
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
	client := openai.NewClient(clientOpts...)
	return &Provider{client: &client, opts: opts}
}

// Chat implements llm.Provider.
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.opts.Model
	}
	maxTokens := p.opts.MaxCompletionTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	params := openai.ChatCompletionNewParams{
		Model:               model,
		Messages:            buildMessages(req),
		MaxCompletionTokens: openai.Int(maxTokens),
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai api error: empty choices")
	}
	return convertChoice(resp.Choices[0], resp.Usage), nil
}

func buildMessages(req llm.ChatRequest) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	if len(req.System) > 0 {
		out = append(out, openai.SystemMessage(strings.Join(req.System, "\n\n")))
	}
	for _, m := range req.Messages {
		var text strings.Builder
		var calls []openai.ChatCompletionMessageToolCallParam
		var results []openai.ChatCompletionMessageParamUnion
		for _, b := range m.Content {
			switch b.Type {
			case llm.BlockText:
				text.WriteString(b.Text)
			case llm.BlockToolUse:
				args, _ := json.Marshal(b.Input)
				if b.Input == nil {
					args = []byte("{}")
				}
				calls = append(calls, openai.ChatCompletionMessageToolCallParam{
					ID:   b.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      b.Name,
						Arguments: string(args),
					},
				})
			case llm.BlockToolResult:
				results = append(results, openai.ToolMessage(b.Content, b.ToolUseID))
			}
		}

		switch {
		case m.Role == llm.RoleAssistant && len(calls) > 0:
			asst := &openai.ChatCompletionAssistantMessageParam{ToolCalls: calls}
			if text.Len() > 0 {
				asst.Content.OfString = openai.String(text.String())
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: asst})
		case m.Role == llm.RoleAssistant:
			out = append(out, openai.AssistantMessage(text.String()))
		case text.Len() > 0:
			out = append(out, openai.UserMessage(text.String()))
		}
		out = append(out, results...)
	}
	return out
}

func buildTools(defs []core.ToolDefinition) []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, len(defs))
	for i, def := range defs {
		params := openai.FunctionParameters{"type": "object"}
		if def.InputSchema.Properties != nil {
			params["properties"] = def.InputSchema.Properties
		}
		if len(def.InputSchema.Required) > 0 {
			params["required"] = def.InputSchema.Required
		}
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters:  params,
			},
		}
	}
	return tools
}

func convertChoice(choice openai.ChatCompletionChoice, usage openai.CompletionUsage) *llm.ChatResponse {
	out := &llm.ChatResponse{
		Usage: llm.Usage{
			InputTokens:  int(usage.PromptTokens),
			OutputTokens: int(usage.CompletionTokens),
		},
	}
	if choice.Message.Content != "" {
		out.Content = append(out.Content, llm.TextBlock(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		var input map[string]any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
				input = map[string]any{"_raw": tc.Function.Arguments}
			}
		}
		out.Content = append(out.Content, llm.ToolUseBlock(tc.ID, tc.Function.Name, input))
	}

	switch {
	case len(choice.Message.ToolCalls) > 0:
		out.StopReason = llm.StopToolUse
	case choice.FinishReason == "stop":
		out.StopReason = llm.StopEndTurn
	default:
		out.StopReason = llm.StopOther
	}
	return out
}

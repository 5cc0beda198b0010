package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OllamaProvider implements the Provider interface for an in-cluster Ollama.
type OllamaProvider struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllama creates a new OllamaProvider.
func NewOllama(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

type ollamaFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Arguments   map[string]any `json:"arguments,omitempty"`
}

type ollamaTool struct {
	Type     string         `json:"type"`
	Function ollamaFunction `json:"function"`
}

type ollamaToolCall struct {
	Function ollamaFunction `json:"function"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
}

type ollamaResponse struct {
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason"`
	EvalCount       int           `json:"eval_count"`
	PromptEvalCount int           `json:"prompt_eval_count"`
}

// Chat sends a chat request to Ollama and maps the response to ChatResponse.
// Ollama does not assign tool call ids, so one is generated per call.
func (p *OllamaProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	body, err := json.Marshal(ollamaRequest{
		Model:    model,
		Messages: toOllamaMessages(req),
		Tools:    toOllamaTools(req),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama api call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama api returned status: %d", resp.StatusCode)
	}

	var oResp ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&oResp); err != nil {
		return nil, fmt.Errorf("failed to decode ollama response: %w", err)
	}

	out := &ChatResponse{
		StopReason: StopEndTurn,
		Usage: Usage{
			InputTokens:  oResp.PromptEvalCount,
			OutputTokens: oResp.EvalCount,
		},
	}
	if oResp.Message.Content != "" {
		out.Content = append(out.Content, TextBlock(oResp.Message.Content))
	}
	for _, tc := range oResp.Message.ToolCalls {
		out.Content = append(out.Content, ToolUseBlock("call_"+uuid.NewString(), tc.Function.Name, tc.Function.Arguments))
	}
	switch {
	case len(oResp.Message.ToolCalls) > 0:
		out.StopReason = StopToolUse
	case oResp.DoneReason != "" && oResp.DoneReason != "stop":
		out.StopReason = StopOther
	}
	return out, nil
}

func toOllamaTools(req ChatRequest) []ollamaTool {
	tools := make([]ollamaTool, 0, len(req.Tools))
	for _, t := range req.Tools {
		params := map[string]any{"type": "object"}
		if t.InputSchema.Properties != nil {
			params["properties"] = t.InputSchema.Properties
		}
		if len(t.InputSchema.Required) > 0 {
			params["required"] = t.InputSchema.Required
		}
		tools = append(tools, ollamaTool{
			Type:     "function",
			Function: ollamaFunction{Name: t.Name, Description: t.Description, Parameters: params},
		})
	}
	return tools
}

func toOllamaMessages(req ChatRequest) []ollamaMessage {
	var msgs []ollamaMessage
	if len(req.System) > 0 {
		msgs = append(msgs, ollamaMessage{Role: "system", Content: strings.Join(req.System, "\n\n")})
	}
	for _, m := range req.Messages {
		var text strings.Builder
		var calls []ollamaToolCall
		for _, b := range m.Content {
			switch b.Type {
			case BlockText:
				text.WriteString(b.Text)
			case BlockToolUse:
				calls = append(calls, ollamaToolCall{Function: ollamaFunction{Name: b.Name, Arguments: b.Input}})
			case BlockToolResult:
				msgs = append(msgs, ollamaMessage{Role: "tool", Content: b.Content})
			}
		}
		if text.Len() > 0 || len(calls) > 0 {
			msgs = append(msgs, ollamaMessage{Role: string(m.Role), Content: text.String(), ToolCalls: calls})
		}
	}
	return msgs
}

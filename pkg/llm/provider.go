// Package llm defines the model-invocation contract used by the agent loop
// and the block-structured conversation it exchanges.
package llm

import (
	"context"
	"strings"

	"github.com/jllopis/skillmesh/pkg/core"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// StopReason tells the loop why the model stopped producing output.
type StopReason string

const (
	StopEndTurn StopReason = "end_turn"
	StopToolUse StopReason = "tool_use"
	StopOther   StopReason = "other"
)

// BlockType tags a content block.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// Block is one tagged piece of message content. Which fields are meaningful
// depends on Type.
type Block struct {
	Type BlockType `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// TextBlock builds a text block.
func TextBlock(text string) Block {
	return Block{Type: BlockText, Text: text}
}

// ToolUseBlock builds a tool invocation request.
func ToolUseBlock(id, name string, input map[string]any) Block {
	return Block{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock builds the answer to a tool_use block.
func ToolResultBlock(toolUseID, content string, isError bool) Block {
	return Block{Type: BlockToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

// Message is a single conversation turn.
type Message struct {
	Role    Role    `json:"role"`
	Content []Block `json:"content"`
}

// UserText is a user turn holding a single text block.
func UserText(text string) Message {
	return Message{Role: RoleUser, Content: []Block{TextBlock(text)}}
}

// ChatRequest encapsulates the input for the model.
type ChatRequest struct {
	Model     string                `json:"model,omitempty"`
	System    []string              `json:"system,omitempty"`
	Tools     []core.ToolDefinition `json:"tools,omitempty"`
	Messages  []Message             `json:"messages"`
	MaxTokens int                   `json:"max_tokens,omitempty"`
}

// ChatResponse encapsulates the output from the model.
type ChatResponse struct {
	StopReason StopReason `json:"stop_reason"`
	Content    []Block    `json:"content"`
	Usage      Usage      `json:"usage"`
}

// Text concatenates every text block of the response.
func (r *ChatResponse) Text() string {
	var sb strings.Builder
	for _, b := range r.Content {
		if b.Type == BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// ToolUses returns the tool_use blocks in the order the model emitted them.
func (r *ChatResponse) ToolUses() []Block {
	var out []Block
	for _, b := range r.Content {
		if b.Type == BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Provider defines the interface for interacting with model backends.
type Provider interface {
	// Chat sends a request to the model and returns its response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

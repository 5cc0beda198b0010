package llm

import (
	"context"
	"errors"
	"sync"
)

// ErrScriptExhausted is returned by ScriptedProvider when no response is left
// and no Repeat response is configured.
var ErrScriptExhausted = errors.New("scripted mock: no more responses available")

// ScriptedProvider returns a pre-defined sequence of responses.
// Useful for testing multi-turn tool-use loops.
type ScriptedProvider struct {
	mu        sync.Mutex
	Responses []*ChatResponse
	// Repeat is returned once Responses is drained.
	Repeat *ChatResponse
	Err    error
	// Requests records every request received, in order.
	Requests []ChatRequest
}

// NewScriptedProvider creates a provider returning responses in order.
func NewScriptedProvider(responses ...*ChatResponse) *ScriptedProvider {
	return &ScriptedProvider{Responses: responses}
}

// Chat pops the next scripted response or returns the configured error.
func (s *ScriptedProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req.Messages = append([]Message(nil), req.Messages...)
	s.Requests = append(s.Requests, req)

	if s.Err != nil {
		return nil, s.Err
	}
	if len(s.Responses) == 0 {
		if s.Repeat != nil {
			return s.Repeat, nil
		}
		return nil, ErrScriptExhausted
	}

	resp := s.Responses[0]
	s.Responses = s.Responses[1:]
	return resp, nil
}

// CallCount returns how many times Chat has been called.
func (s *ScriptedProvider) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Requests)
}

// EndTurn is a terminal response carrying text.
func EndTurn(text string) *ChatResponse {
	return &ChatResponse{StopReason: StopEndTurn, Content: []Block{TextBlock(text)}}
}

// ToolUse is a response requesting the given tool calls.
func ToolUse(calls ...Block) *ChatResponse {
	return &ChatResponse{StopReason: StopToolUse, Content: calls}
}

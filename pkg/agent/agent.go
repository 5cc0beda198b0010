// Copyright 2026 © The Skillmesh Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent implements the bounded model-driven tool loop shared by the
// chat and ops agents.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jllopis/skillmesh/pkg/core"
	"github.com/jllopis/skillmesh/pkg/errors"
	"github.com/jllopis/skillmesh/pkg/llm"
	"github.com/jllopis/skillmesh/pkg/telemetry"
	"github.com/jllopis/skillmesh/pkg/tools"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultMaxIterations bounds model invocations per Chat call.
	DefaultMaxIterations = 10

	// DefaultMaxTokens is sent with every request unless overridden.
	DefaultMaxTokens = 4096

	// MaxIterationsReply is the text returned when the iteration cap is hit
	// before the model produced a final answer.
	MaxIterationsReply = "maximum iterations reached"
)

// Reply is the outcome of one Chat call.
type Reply struct {
	Text       string
	Iterations int
	// Capped is set when the loop stopped on the iteration limit.
	Capped bool
	// Transition carries a target state requested by a tool during the turn.
	Transition string
}

// Option configures a Loop instance.
type Option func(*Loop) error

// WithModel sets the model identifier passed to the provider.
func WithModel(model string) Option {
	return func(l *Loop) error {
		l.model = model
		return nil
	}
}

// WithMaxIterations bounds model invocations per Chat call.
func WithMaxIterations(n int) Option {
	return func(l *Loop) error {
		if n <= 0 {
			return NewInvalidInputError(fmt.Sprintf("max iterations must be positive, got %d", n))
		}
		l.maxIter = n
		return nil
	}
}

// WithMaxTokens sets the per-request output token limit.
func WithMaxTokens(n int) Option {
	return func(l *Loop) error {
		l.maxTokens = n
		return nil
	}
}

// WithKind labels logs, spans and metrics, typically "chat" or "ops".
func WithKind(kind string) Option {
	return func(l *Loop) error {
		l.kind = kind
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) error {
		l.logger = logger
		return nil
	}
}

// WithMetrics records iteration counts and tool outcomes.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(l *Loop) error {
		l.metrics = metrics
		return nil
	}
}

// Loop drives a conversation with a model, executing the tools it requests
// until it produces a final answer or the iteration cap is reached. The
// system prompt and tool set are swapped wholesale by Reconfigure.
type Loop struct {
	provider  llm.Provider
	model     string
	maxIter   int
	maxTokens int
	kind      string
	logger    *slog.Logger
	metrics   *telemetry.Metrics
	tracer    trace.Tracer

	inFlight atomic.Bool

	mu      sync.Mutex
	prompt  string
	tools   tools.ToolSet
	history []llm.Message
}

// New creates a loop bound to provider.
func New(provider llm.Provider, opts ...Option) (*Loop, error) {
	if provider == nil {
		return nil, NewInvalidInputError("llm provider is required")
	}
	l := &Loop{
		provider:  provider,
		maxIter:   DefaultMaxIterations,
		maxTokens: DefaultMaxTokens,
		kind:      "agent",
		tracer:    otel.Tracer("skillmesh/agent"),
	}
	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, err
		}
	}
	l.logger = telemetry.Component(l.logger, "agent").With(slog.String(telemetry.AttrAgentKind, l.kind))
	return l, nil
}

// Reconfigure replaces the system prompt and the tool set used from the
// next model request on. History is kept.
func (l *Loop) Reconfigure(prompt string, set tools.ToolSet) {
	l.mu.Lock()
	l.prompt = prompt
	l.tools = set
	l.mu.Unlock()
	l.logger.Info("agent.reconfigured", slog.Int(telemetry.AttrToolsCount, set.Len()))
}

// Prompt returns the current system prompt.
func (l *Loop) Prompt() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.prompt
}

// Tools returns the current tool set.
func (l *Loop) Tools() tools.ToolSet {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tools
}

// History returns a copy of the conversation so far.
func (l *Loop) History() []llm.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]llm.Message(nil), l.history...)
}

// ClearHistory drops the conversation.
func (l *Loop) ClearHistory() {
	l.mu.Lock()
	l.history = nil
	l.mu.Unlock()
}

// MaxIterations returns the configured iteration cap.
func (l *Loop) MaxIterations() int { return l.maxIter }

func (l *Loop) snapshot() (string, tools.ToolSet, []llm.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.prompt, l.tools, append([]llm.Message(nil), l.history...)
}

func (l *Loop) appendHistory(msgs ...llm.Message) {
	l.mu.Lock()
	l.history = append(l.history, msgs...)
	l.mu.Unlock()
}

// Chat sends message and runs the tool loop. Tool calls within one model
// response run sequentially in the order requested. If a tool asks for a
// lifecycle transition the loop returns after that turn so the caller can
// apply it and reconfigure before the model sees the new tool set.
func (l *Loop) Chat(ctx context.Context, message string) (Reply, error) {
	if !l.inFlight.CompareAndSwap(false, true) {
		return Reply{}, ErrChatInProgress
	}
	defer l.inFlight.Store(false)

	ctx, turnID := core.EnsureTurnID(ctx)
	ctx, span := l.tracer.Start(ctx, "Agent.Chat")
	defer span.End()
	log := l.logger.With(slog.String(telemetry.AttrAgentTurnID, turnID))
	if sid, ok := core.SessionID(ctx); ok {
		span.SetAttributes(attribute.String(telemetry.AttrAgentSessionID, sid))
		log = log.With(slog.String(telemetry.AttrAgentSessionID, sid))
	}

	l.appendHistory(llm.UserText(message))

	for i := 1; i <= l.maxIter; i++ {
		span.SetAttributes(telemetry.LoopAttributes(l.kind, turnID, i, l.maxIter)...)

		resp, err := l.invoke(ctx, i)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.ErrorContext(ctx, "agent.llm.error",
				slog.Int(telemetry.AttrAgentIteration, i),
				slog.String("error", err.Error()),
				slog.String("error_code", string(errors.CodeLLMError)),
			)
			return Reply{Iterations: i}, err
		}

		uses := resp.ToolUses()
		if resp.StopReason != llm.StopToolUse || len(uses) == 0 {
			if len(resp.Content) > 0 {
				l.appendHistory(llm.Message{Role: llm.RoleAssistant, Content: resp.Content})
			}
			l.metrics.RecordIterations(ctx, l.kind, i, false)
			log.InfoContext(ctx, "agent.chat.complete", slog.Int(telemetry.AttrAgentIteration, i))
			return Reply{Text: resp.Text(), Iterations: i}, nil
		}

		l.appendHistory(llm.Message{Role: llm.RoleAssistant, Content: resp.Content})

		_, set, _ := l.snapshot()
		results := make([]llm.Block, 0, len(uses))
		transition := ""
		for _, use := range uses {
			res := l.callTool(ctx, log, set, use)
			results = append(results, llm.ToolResultBlock(use.ID, res.Text(), res.IsError))
			if transition == "" && res.Transition != "" {
				transition = res.Transition
			}
		}
		l.appendHistory(llm.Message{Role: llm.RoleUser, Content: results})

		if transition != "" {
			l.metrics.RecordIterations(ctx, l.kind, i, false)
			log.InfoContext(ctx, "agent.chat.transition",
				slog.Int(telemetry.AttrAgentIteration, i),
				slog.String("to", transition),
			)
			return Reply{Text: resp.Text(), Iterations: i, Transition: transition}, nil
		}
	}

	l.metrics.RecordIterations(ctx, l.kind, l.maxIter, true)
	log.WarnContext(ctx, "agent.chat.max_iterations", slog.Int(telemetry.AttrAgentMaxIter, l.maxIter))
	return Reply{Text: MaxIterationsReply, Iterations: l.maxIter, Capped: true}, nil
}

func (l *Loop) invoke(ctx context.Context, iteration int) (*llm.ChatResponse, error) {
	prompt, set, history := l.snapshot()
	req := llm.ChatRequest{
		Model:     l.model,
		Tools:     set.Definitions(),
		Messages:  history,
		MaxTokens: l.maxTokens,
	}
	if prompt != "" {
		req.System = []string{prompt}
	}

	llmCtx, llmSpan := l.tracer.Start(ctx, "Agent.LLM.Chat")
	defer llmSpan.End()
	llmSpan.SetAttributes(telemetry.ToolsetAttributes(set.Names())...)

	resp, err := l.provider.Chat(llmCtx, req)
	if err == nil && resp == nil {
		err = fmt.Errorf("empty response at iteration %d", iteration)
	}
	if err != nil {
		me := WrapLLMError(err, l.model)
		l.metrics.RecordError(ctx, me, "agent-llm")
		llmSpan.RecordError(me)
		llmSpan.SetStatus(codes.Error, me.Error())
		return nil, me
	}
	llmSpan.SetAttributes(telemetry.LLMUsageAttributes(l.model, resp.Usage.InputTokens, resp.Usage.OutputTokens, string(resp.StopReason))...)
	return resp, nil
}

// callTool executes one tool_use block. Handler errors and panics become
// error results so the model can see them and recover.
func (l *Loop) callTool(ctx context.Context, log *slog.Logger, set tools.ToolSet, use llm.Block) (res core.ToolResult) {
	start := time.Now()
	toolCtx, toolSpan := l.tracer.Start(ctx, "Agent.Tool.Call")
	defer func() {
		if r := recover(); r != nil {
			err := WrapToolError(fmt.Errorf("panic: %v", r), use.Name, use.ID)
			res = l.toolFailed(ctx, log, use, err)
		}
		durationMs := float64(time.Since(start).Microseconds()) / 1000
		toolSpan.SetAttributes(telemetry.ToolCallAttributes(use.Name, use.ID, "", durationMs, !res.IsError)...)
		if res.IsError {
			toolSpan.SetStatus(codes.Error, res.Text())
		}
		toolSpan.End()
	}()

	input := use.Input
	if input == nil {
		input = map[string]any{}
	}
	out, err := set.Execute(toolCtx, use.Name, input)
	if err != nil {
		return l.toolFailed(ctx, log, use, WrapToolError(err, use.Name, use.ID))
	}
	log.InfoContext(ctx, "agent.tool.complete",
		slog.String("tool", use.Name),
		slog.String("tool_call_id", use.ID),
		slog.Bool("is_error", out.IsError),
	)
	return out
}

func (l *Loop) toolFailed(ctx context.Context, log *slog.Logger, use llm.Block, err *errors.MeshError) core.ToolResult {
	l.metrics.RecordError(ctx, err, "agent-tool")
	log.ErrorContext(ctx, "agent.tool.error",
		slog.String("tool", use.Name),
		slog.String("tool_call_id", use.ID),
		slog.String("error", err.Error()),
		slog.String("error_code", string(errors.CodeToolFailure)),
	)
	return core.ErrorResult(fmt.Sprintf("error executing %s: %v", use.Name, err.Err))
}

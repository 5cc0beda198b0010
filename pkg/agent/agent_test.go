package agent

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"

	"github.com/jllopis/skillmesh/pkg/core"
	"github.com/jllopis/skillmesh/pkg/errors"
	"github.com/jllopis/skillmesh/pkg/llm"
	"github.com/jllopis/skillmesh/pkg/telemetry"
	"github.com/jllopis/skillmesh/pkg/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textTool(name, reply string) core.Tool {
	return core.Tool{
		Definition: core.ToolDefinition{Name: name, InputSchema: core.ObjectSchema(nil)},
		Handler: func(context.Context, map[string]any) (core.ToolResult, error) {
			return core.TextResult(reply), nil
		},
	}
}

func newLoop(t *testing.T, p llm.Provider, opts ...Option) *Loop {
	t.Helper()
	opts = append([]Option{WithLogger(telemetry.Discard()), WithModel("test-model")}, opts...)
	l, err := New(p, opts...)
	require.NoError(t, err)
	return l
}

func lastToolResults(t *testing.T, p *llm.ScriptedProvider) []llm.Block {
	t.Helper()
	require.NotEmpty(t, p.Requests)
	msgs := p.Requests[len(p.Requests)-1].Messages
	require.NotEmpty(t, msgs)
	last := msgs[len(msgs)-1]
	require.Equal(t, llm.RoleUser, last.Role)
	return last.Content
}

func TestNewRequiresProvider(t *testing.T) {
	_, err := New(nil)
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))

	_, err = New(llm.NewScriptedProvider(), WithMaxIterations(0))
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))
}

func TestChatReturnsFinalText(t *testing.T) {
	p := llm.NewScriptedProvider(llm.EndTurn("hello there"))
	l := newLoop(t, p)
	l.Reconfigure("be brief", tools.NewToolSet(textTool("current_time", "noon")))

	reply, err := l.Chat(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello there", reply.Text)
	assert.Equal(t, 1, reply.Iterations)
	assert.False(t, reply.Capped)
	assert.Empty(t, reply.Transition)

	require.Len(t, p.Requests, 1)
	req := p.Requests[0]
	assert.Equal(t, []string{"be brief"}, req.System)
	assert.Equal(t, "test-model", req.Model)
	require.Len(t, req.Tools, 1)
	assert.Equal(t, "current_time", req.Tools[0].Name)

	history := l.History()
	require.Len(t, history, 2)
	assert.Equal(t, llm.RoleUser, history[0].Role)
	assert.Equal(t, llm.RoleAssistant, history[1].Role)
}

func TestChatStopsAtIterationCap(t *testing.T) {
	p := llm.NewScriptedProvider()
	p.Repeat = llm.ToolUse(llm.ToolUseBlock("call-1", "current_time", nil))
	l := newLoop(t, p, WithMaxIterations(3))
	l.Reconfigure("", tools.NewToolSet(textTool("current_time", "noon")))

	reply, err := l.Chat(context.Background(), "loop forever")
	require.NoError(t, err)
	assert.Equal(t, MaxIterationsReply, reply.Text)
	assert.True(t, reply.Capped)
	assert.Equal(t, 3, reply.Iterations)
	assert.Equal(t, 3, p.CallCount())
}

func TestChatConvertsHandlerFailuresToErrorResults(t *testing.T) {
	failing := core.Tool{
		Definition: core.ToolDefinition{Name: "fails"},
		Handler: func(context.Context, map[string]any) (core.ToolResult, error) {
			return core.ToolResult{}, stderrors.New("boom")
		},
	}
	panicking := core.Tool{
		Definition: core.ToolDefinition{Name: "panics"},
		Handler: func(context.Context, map[string]any) (core.ToolResult, error) {
			panic("kaboom")
		},
	}
	p := llm.NewScriptedProvider(
		llm.ToolUse(
			llm.ToolUseBlock("call-1", "fails", nil),
			llm.ToolUseBlock("call-2", "panics", nil),
		),
		llm.EndTurn("recovered"),
	)
	l := newLoop(t, p)
	l.Reconfigure("", tools.NewToolSet(failing, panicking))

	reply, err := l.Chat(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, "recovered", reply.Text)
	assert.Equal(t, 2, reply.Iterations)

	results := lastToolResults(t, p)
	require.Len(t, results, 2)
	assert.Equal(t, "call-1", results[0].ToolUseID)
	assert.True(t, results[0].IsError)
	assert.Contains(t, results[0].Content, "boom")
	assert.Equal(t, "call-2", results[1].ToolUseID)
	assert.True(t, results[1].IsError)
	assert.Contains(t, results[1].Content, "kaboom")
}

func TestChatRunsToolsSequentiallyInOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(name string) core.Tool {
		return core.Tool{
			Definition: core.ToolDefinition{Name: name},
			Handler: func(context.Context, map[string]any) (core.ToolResult, error) {
				mu.Lock()
				order = append(order, name)
				mu.Unlock()
				return core.TextResult(name), nil
			},
		}
	}
	p := llm.NewScriptedProvider(
		llm.ToolUse(
			llm.ToolUseBlock("c1", "third", nil),
			llm.ToolUseBlock("c2", "first", nil),
			llm.ToolUseBlock("c3", "second", nil),
		),
		llm.EndTurn("done"),
	)
	l := newLoop(t, p)
	l.Reconfigure("", tools.NewToolSet(record("first"), record("second"), record("third")))

	_, err := l.Chat(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, []string{"third", "first", "second"}, order)

	results := lastToolResults(t, p)
	require.Len(t, results, 3)
	assert.Equal(t, "third", results[0].Content)
	assert.Equal(t, "second", results[2].Content)
}

func TestChatReturnsAfterTransitionTurn(t *testing.T) {
	advance := core.Tool{
		Definition: core.ToolDefinition{Name: "complete_deploy"},
		Handler: func(context.Context, map[string]any) (core.ToolResult, error) {
			return core.TextResult("deploy complete").WithTransition("runtime"), nil
		},
	}
	p := llm.NewScriptedProvider(
		llm.ToolUse(llm.ToolUseBlock("c1", "complete_deploy", nil)),
		llm.EndTurn("never reached"),
	)
	l := newLoop(t, p, WithKind("ops"))
	l.Reconfigure("", tools.NewToolSet(advance))

	reply, err := l.Chat(context.Background(), "finish the deploy")
	require.NoError(t, err)
	assert.Equal(t, "runtime", reply.Transition)
	assert.Equal(t, 1, reply.Iterations)
	assert.Equal(t, 1, p.CallCount())

	history := l.History()
	require.Len(t, history, 3)
	assert.Equal(t, llm.BlockToolResult, history[2].Content[0].Type)
}

func TestReconfigureRemovesTool(t *testing.T) {
	p := llm.NewScriptedProvider(
		llm.ToolUse(llm.ToolUseBlock("c1", "deploy_service", nil)),
		llm.EndTurn("ok"),
	)
	l := newLoop(t, p)
	l.Reconfigure("deploy", tools.NewToolSet(textTool("deploy_service", "deployed"), textTool("deploy_status", "green")))
	l.Reconfigure("runtime", tools.NewToolSet(textTool("deploy_status", "green")))

	assert.False(t, l.Tools().HasTool("deploy_service"))
	assert.Equal(t, "runtime", l.Prompt())

	_, err := l.Chat(context.Background(), "deploy again")
	require.NoError(t, err)

	require.Len(t, p.Requests[0].Tools, 1)
	results := lastToolResults(t, p)
	require.Len(t, results, 1)
	assert.True(t, results[0].IsError)
	assert.Contains(t, results[0].Content, `no provider found for tool "deploy_service"`)
}

func TestChatWrapsProviderError(t *testing.T) {
	p := llm.NewScriptedProvider()
	p.Err = stderrors.New("rate limited")
	l := newLoop(t, p)

	_, err := l.Chat(context.Background(), "hi")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeLLMError))
	assert.Contains(t, err.Error(), "rate limited")
}

type blockingProvider struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingProvider) Chat(ctx context.Context, _ llm.ChatRequest) (*llm.ChatResponse, error) {
	close(b.entered)
	<-b.release
	return llm.EndTurn("done"), nil
}

func TestChatRejectsReentrantCall(t *testing.T) {
	p := &blockingProvider{entered: make(chan struct{}), release: make(chan struct{})}
	l := newLoop(t, p)

	done := make(chan error, 1)
	go func() {
		_, err := l.Chat(context.Background(), "first")
		done <- err
	}()
	<-p.entered

	_, err := l.Chat(context.Background(), "second")
	assert.ErrorIs(t, err, ErrChatInProgress)

	close(p.release)
	require.NoError(t, <-done)
}

func TestClearHistory(t *testing.T) {
	p := llm.NewScriptedProvider(llm.EndTurn("one"), llm.EndTurn("two"))
	l := newLoop(t, p)

	_, err := l.Chat(context.Background(), "a")
	require.NoError(t, err)
	l.ClearHistory()
	assert.Empty(t, l.History())

	_, err = l.Chat(context.Background(), "b")
	require.NoError(t, err)
	assert.Len(t, p.Requests[1].Messages, 1)
}

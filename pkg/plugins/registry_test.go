package plugins

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/jllopis/skillmesh/pkg/core"
	"github.com/jllopis/skillmesh/pkg/errors"
	"github.com/jllopis/skillmesh/pkg/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T, packs ...*Pack) *Registry {
	t.Helper()
	r := NewRegistry(telemetry.Discard())
	for _, p := range packs {
		require.NoError(t, r.Register(p))
	}
	return r
}

func TestRegistryListsToolsInPackOrder(t *testing.T) {
	r := newRegistry(t, ClockPack(nil), NotesPack())

	defs, err := r.ListTools(context.Background())
	require.NoError(t, err)
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"current_time", "note_set", "note_get", "note_list", "note_delete"}, names)
	assert.True(t, r.HasTool("note_get"))
	assert.False(t, r.HasTool("search"))
}

func TestRegistryRejectsCollision(t *testing.T) {
	r := newRegistry(t, NotesPack())
	dup := &Pack{ID: "other", Tools: []core.Tool{{Definition: core.ToolDefinition{Name: "note_get"}}}}

	err := r.Register(dup)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrToolCollision)
	assert.Len(t, r.Packs(), 1)
}

func TestRegistryExecuteUnknownTool(t *testing.T) {
	r := newRegistry(t)
	_, err := r.Execute(context.Background(), "ghost", nil)
	assert.True(t, errors.HasCode(err, errors.CodeToolNotFound))
}

func TestRegistryExecuteWrapsHandlerError(t *testing.T) {
	boom := stderrors.New("boom")
	r := newRegistry(t, &Pack{ID: "bad", Tools: []core.Tool{{
		Definition: core.ToolDefinition{Name: "explode"},
		Handler: func(context.Context, map[string]any) (core.ToolResult, error) {
			return core.ToolResult{}, boom
		},
	}}})

	_, err := r.Execute(context.Background(), "explode", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.True(t, errors.HasCode(err, errors.CodeToolFailure))
}

func TestRegistryCloseRunsPackClosers(t *testing.T) {
	var closed []string
	mk := func(id string, err error) *Pack {
		return &Pack{ID: id, Close: func(context.Context) error {
			closed = append(closed, id)
			return err
		}}
	}
	r := newRegistry(t, mk("a", stderrors.New("a failed")), mk("b", nil))

	err := r.Close(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a failed")
	assert.Equal(t, []string{"a", "b"}, closed)

	require.NoError(t, r.Close(context.Background()))
	_, err = r.Execute(context.Background(), "anything", nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestClockPack(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := newRegistry(t, ClockPack(func() time.Time { return fixed }))
	ctx := context.Background()

	res, err := r.Execute(ctx, "current_time", nil)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01T12:00:00Z", res.Text())

	res, err = r.Execute(ctx, "current_time", map[string]any{"timezone": "Nowhere/Atlantis"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestNotesPack(t *testing.T) {
	r := newRegistry(t, NotesPack())
	ctx := context.Background()

	_, err := r.Execute(ctx, "note_set", map[string]any{"key": "b", "value": "2"})
	require.NoError(t, err)
	_, err = r.Execute(ctx, "note_set", map[string]any{"key": "a", "value": "1"})
	require.NoError(t, err)

	res, err := r.Execute(ctx, "note_get", map[string]any{"key": "a"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"a","value":"1"}`, res.Text())

	res, err = r.Execute(ctx, "note_list", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"keys":["a","b"],"count":2}`, res.Text())

	_, err = r.Execute(ctx, "note_delete", map[string]any{"key": "a"})
	require.NoError(t, err)
	res, err = r.Execute(ctx, "note_get", map[string]any{"key": "a"})
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = r.Execute(ctx, "note_set", map[string]any{"value": "x"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestLifecyclePackEmitsIntents(t *testing.T) {
	r := newRegistry(t, LifecyclePack())
	tests := map[string]string{
		ToolCompleteDeploy:  "runtime",
		ToolBeginUpdate:     "update",
		ToolCompleteUpdate:  "runtime",
		ToolRequestShutdown: "shutdown",
	}
	for tool, want := range tests {
		res, err := r.Execute(context.Background(), tool, map[string]any{"reason": "rollout done"})
		require.NoError(t, err, tool)
		assert.Equal(t, want, res.Transition, tool)
		assert.Contains(t, res.Text(), "rollout done", tool)
	}
}

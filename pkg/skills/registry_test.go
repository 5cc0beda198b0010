// Copyright 2026 © The Skillmesh Authors
// SPDX-License-Identifier: Apache-2.0

package skills

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jllopis/skillmesh/pkg/core"
	"github.com/jllopis/skillmesh/pkg/errors"
	"github.com/jllopis/skillmesh/pkg/mcp"
	"github.com/jllopis/skillmesh/pkg/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConnector struct {
	mu        sync.Mutex
	tools     map[string][]core.ToolDefinition
	failDial  map[string]error
	failList  map[string]error
	connected map[string]bool
	dials     []string
	closes    []string
	calls     []string
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{
		tools:     make(map[string][]core.ToolDefinition),
		failDial:  make(map[string]error),
		failList:  make(map[string]error),
		connected: make(map[string]bool),
	}
}

func (f *fakeConnector) dial(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials = append(f.dials, id)
	if err := f.failDial[id]; err != nil {
		return err
	}
	f.connected[id] = true
	return nil
}

func (f *fakeConnector) ConnectStdio(_ context.Context, id, _ string, _ []string, _ map[string]string) error {
	return f.dial(id)
}

func (f *fakeConnector) ConnectHTTP(_ context.Context, id, _ string, _ mcp.TransportKind, _ map[string]string) error {
	return f.dial(id)
}

func (f *fakeConnector) ListTools(_ context.Context, id string) ([]core.ToolDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failList[id]; err != nil {
		return nil, err
	}
	return f.tools[id], nil
}

func (f *fakeConnector) CallTool(_ context.Context, id, name string, _ map[string]any) (core.ToolResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id+"/"+name)
	return core.TextResult(id + ":" + name), nil
}

func (f *fakeConnector) IsConnected(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected[id]
}

func (f *fakeConnector) Close(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected[id] {
		f.closes = append(f.closes, id)
	}
	delete(f.connected, id)
}

func (f *fakeConnector) CloseAll() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.connected))
	for id := range f.connected {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	f.closes = append(f.closes, ids...)
	f.connected = make(map[string]bool)
	return nil
}

func stdioSkill(id string) Descriptor {
	return Descriptor{ID: id, Tier: TierStdio, Enabled: true, Command: id + "-server"}
}

func tool(name string) core.ToolDefinition {
	return core.ToolDefinition{Name: name, InputSchema: core.ObjectSchema(nil)}
}

func newTestRegistry(conn Connector, opts ...Option) *Registry {
	opts = append([]Option{WithLogger(telemetry.Discard())}, opts...)
	return NewRegistry(conn, opts...)
}

func TestRegistryExecuteOnLostSkill(t *testing.T) {
	conn := newFakeConnector()
	conn.tools["search-skill"] = []core.ToolDefinition{tool("search")}
	r := newTestRegistry(conn)
	ctx := context.Background()
	require.NoError(t, r.Upsert(ctx, stdioSkill("search-skill")))
	require.NoError(t, r.Connect(ctx))
	_, err := r.ListTools(ctx)
	require.NoError(t, err)

	conn.Close("search-skill")
	assert.False(t, r.HasTool("search"))

	_, err = r.Execute(ctx, "search", nil)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeNotConnected))
	assert.Empty(t, conn.calls)

	_, err = r.Execute(ctx, "unknown", nil)
	assert.True(t, errors.HasCode(err, errors.CodeToolNotFound))
}

func TestRegistryConnectAndCatalog(t *testing.T) {
	conn := newFakeConnector()
	conn.tools["b-skill"] = []core.ToolDefinition{tool("deploy"), tool("rollback")}
	conn.tools["a-skill"] = []core.ToolDefinition{tool("search")}
	r := newTestRegistry(conn)
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, stdioSkill("b-skill")))
	require.NoError(t, r.Upsert(ctx, Descriptor{ID: "a-skill", Tier: TierSidecar, Enabled: true, URL: "http://localhost:9000/mcp"}))
	require.NoError(t, r.Upsert(ctx, Descriptor{ID: "tone", Tier: TierInstruction, Enabled: true, Content: "Be brief."}))
	require.NoError(t, r.Connect(ctx))
	assert.Equal(t, []string{"a-skill", "b-skill"}, conn.dials)

	defs, err := r.ListTools(ctx)
	require.NoError(t, err)
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"search", "deploy", "rollback"}, names)

	owner, ok := r.Owner("rollback")
	require.True(t, ok)
	assert.Equal(t, "b-skill", owner)

	res, err := r.Execute(ctx, "search", map[string]any{"q": "x"})
	require.NoError(t, err)
	assert.Equal(t, "a-skill:search", res.Text())
}

func TestRegistryDisabledSkillsDoNotParticipate(t *testing.T) {
	conn := newFakeConnector()
	conn.tools["off"] = []core.ToolDefinition{tool("hidden")}
	r := newTestRegistry(conn)
	ctx := context.Background()

	d := stdioSkill("off")
	d.Enabled = false
	require.NoError(t, r.Upsert(ctx, d))
	require.NoError(t, r.Connect(ctx))
	assert.Empty(t, conn.dials)

	err := r.ConnectSkill(ctx, "off")
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))
}

func TestRegistryConnectIsolatesFailures(t *testing.T) {
	conn := newFakeConnector()
	conn.failDial["broken"] = stderrors.New("exec: not found")
	conn.tools["good"] = []core.ToolDefinition{tool("ping")}
	r := newTestRegistry(conn)
	ctx := context.Background()
	require.NoError(t, r.Upsert(ctx, stdioSkill("broken")))
	require.NoError(t, r.Upsert(ctx, stdioSkill("good")))

	err := r.Connect(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exec: not found")
	assert.True(t, conn.IsConnected("good"))

	_, _ = r.ListTools(ctx)
	assert.True(t, r.HasTool("ping"))
}

func TestRegistryListToolsSkipsFailingSkill(t *testing.T) {
	conn := newFakeConnector()
	conn.tools["a"] = []core.ToolDefinition{tool("one")}
	conn.failList["b"] = stderrors.New("broken pipe")
	r := newTestRegistry(conn)
	ctx := context.Background()
	require.NoError(t, r.Upsert(ctx, stdioSkill("a")))
	require.NoError(t, r.Upsert(ctx, stdioSkill("b")))
	require.NoError(t, r.Connect(ctx))

	defs, err := r.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "one", defs[0].Name)
}

func TestRegistryDuplicateToolAcrossSkillsFirstWins(t *testing.T) {
	conn := newFakeConnector()
	conn.tools["a"] = []core.ToolDefinition{tool("search")}
	conn.tools["b"] = []core.ToolDefinition{tool("search")}
	r := newTestRegistry(conn)
	ctx := context.Background()
	require.NoError(t, r.Upsert(ctx, stdioSkill("a")))
	require.NoError(t, r.Upsert(ctx, stdioSkill("b")))
	require.NoError(t, r.Connect(ctx))

	defs, _ := r.ListTools(ctx)
	require.Len(t, defs, 1)
	owner, _ := r.Owner("search")
	assert.Equal(t, "a", owner)
}

func TestRegistryDisableClosesConnection(t *testing.T) {
	conn := newFakeConnector()
	conn.tools["a"] = []core.ToolDefinition{tool("one")}
	r := newTestRegistry(conn)
	ctx := context.Background()
	require.NoError(t, r.Upsert(ctx, stdioSkill("a")))
	require.NoError(t, r.Connect(ctx))
	_, _ = r.ListTools(ctx)

	d := stdioSkill("a")
	d.Enabled = false
	require.NoError(t, r.Upsert(ctx, d))

	assert.Equal(t, []string{"a"}, conn.closes)
	assert.False(t, r.HasTool("one"))
	_, err := r.Execute(ctx, "one", nil)
	assert.True(t, errors.HasCode(err, errors.CodeToolNotFound))
}

func TestRegistryUpsertSameEndpointKeepsConnection(t *testing.T) {
	conn := newFakeConnector()
	r := newTestRegistry(conn)
	ctx := context.Background()
	require.NoError(t, r.Upsert(ctx, stdioSkill("a")))
	require.NoError(t, r.Connect(ctx))

	d := stdioSkill("a")
	d.Version = "1.1.0"
	require.NoError(t, r.Upsert(ctx, d))
	assert.Empty(t, conn.closes)

	d.Args = []string{"--verbose"}
	require.NoError(t, r.Upsert(ctx, d))
	assert.Equal(t, []string{"a"}, conn.closes)
}

func TestRegistrySyncRemovesAbsentSkills(t *testing.T) {
	conn := newFakeConnector()
	r := newTestRegistry(conn)
	ctx := context.Background()
	require.NoError(t, r.Upsert(ctx, stdioSkill("old")))
	require.NoError(t, r.Upsert(ctx, stdioSkill("kept")))
	require.NoError(t, r.Connect(ctx))

	require.NoError(t, r.Sync(ctx, []Descriptor{stdioSkill("kept"), stdioSkill("new")}))

	ids := make([]string, 0)
	for _, d := range r.List() {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"kept", "new"}, ids)
	assert.Equal(t, []string{"old"}, conn.closes)
}

func TestRegistrySyncKeepsExtensionSkills(t *testing.T) {
	r := newTestRegistry(newFakeConnector())
	ctx := context.Background()
	ext := Descriptor{ID: "metrics", Tier: TierService, URL: "http://metrics/mcp", Owner: OwnerExtension, Enabled: true}
	require.NoError(t, r.Upsert(ctx, ext))
	require.NoError(t, r.Upsert(ctx, stdioSkill("old")))

	require.NoError(t, r.Sync(ctx, []Descriptor{stdioSkill("new")}))

	_, ok := r.Get("metrics")
	assert.True(t, ok)
	_, ok = r.Get("old")
	assert.False(t, ok)
}

func TestRegistrySyncRejectsInvalidWithoutChanges(t *testing.T) {
	r := newTestRegistry(newFakeConnector())
	ctx := context.Background()
	require.NoError(t, r.Upsert(ctx, stdioSkill("a")))

	err := r.Sync(ctx, []Descriptor{{ID: "bad", Tier: TierService, Enabled: true}})
	require.Error(t, err)
	_, ok := r.Get("a")
	assert.True(t, ok)
}

func TestRegistryRemoveUnknown(t *testing.T) {
	r := newTestRegistry(newFakeConnector())
	err := r.Remove(context.Background(), "ghost")
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))
}

func TestRegistryInstructionsCache(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	dir := t.TempDir()
	path := filepath.Join(dir, "ops.md")
	require.NoError(t, os.WriteFile(path, []byte("Prefer rolling restarts."), 0o644))

	r := newTestRegistry(newFakeConnector(), WithClock(clock), WithInstructionTTL(time.Minute))
	ctx := context.Background()
	require.NoError(t, r.Upsert(ctx, Descriptor{ID: "b-ops", Tier: TierInstruction, Enabled: true, ContentPath: path}))
	require.NoError(t, r.Upsert(ctx, Descriptor{ID: "a-tone", Tier: TierInstruction, Enabled: true, Content: "Be brief."}))

	assert.Equal(t, "Be brief.\n\nPrefer rolling restarts.", r.Instructions(ctx))

	require.NoError(t, os.WriteFile(path, []byte("Never restart."), 0o644))
	assert.Equal(t, "Be brief.\n\nPrefer rolling restarts.", r.Instructions(ctx), "served from cache")

	now = now.Add(2 * time.Minute)
	assert.Equal(t, "Be brief.\n\nNever restart.", r.Instructions(ctx), "reloaded after ttl")

	require.NoError(t, os.WriteFile(path, []byte("Ask first."), 0o644))
	r.InvalidateInstructions()
	assert.Equal(t, "Be brief.\n\nAsk first.", r.Instructions(ctx), "reloaded after invalidation")
}

func TestRegistryInstructionsSkipUnreadable(t *testing.T) {
	r := newTestRegistry(newFakeConnector())
	ctx := context.Background()
	require.NoError(t, r.Upsert(ctx, Descriptor{ID: "gone", Tier: TierInstruction, Enabled: true, ContentPath: "/nonexistent/x.md"}))
	require.NoError(t, r.Upsert(ctx, Descriptor{ID: "tone", Tier: TierInstruction, Enabled: true, Content: "Be brief."}))
	assert.Equal(t, "Be brief.", r.Instructions(ctx))
}

func TestRegistryHasToolFalseAfterDisconnect(t *testing.T) {
	conn := newFakeConnector()
	conn.tools["a"] = []core.ToolDefinition{tool("one")}
	r := newTestRegistry(conn)
	ctx := context.Background()
	require.NoError(t, r.Upsert(ctx, stdioSkill("a")))
	require.NoError(t, r.Connect(ctx))
	_, _ = r.ListTools(ctx)
	require.True(t, r.HasTool("one"))

	conn.Close("a")
	assert.False(t, r.HasTool("one"))
}

type memStore struct {
	saved   map[string]Descriptor
	deleted []string
}

func (m *memStore) SaveSkill(_ context.Context, d Descriptor) error {
	m.saved[d.ID] = d
	return nil
}

func (m *memStore) DeleteSkill(_ context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	delete(m.saved, id)
	return nil
}

func (m *memStore) ListSkills(context.Context) ([]Descriptor, error) {
	out := make([]Descriptor, 0, len(m.saved))
	for _, d := range m.saved {
		out = append(out, d)
	}
	return out, nil
}

func TestRegistryStoreWriteThrough(t *testing.T) {
	st := &memStore{saved: make(map[string]Descriptor)}
	r := newTestRegistry(newFakeConnector(), WithStore(st))
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, stdioSkill("a")))
	require.Contains(t, st.saved, "a")
	assert.Equal(t, OwnerSystem, st.saved["a"].Owner)
	assert.False(t, st.saved["a"].UpdatedAt.IsZero())

	require.NoError(t, r.Remove(ctx, "a"))
	assert.Equal(t, []string{"a"}, st.deleted)

	st.saved["b"] = stdioSkill("b")
	n, err := r.LoadFromStore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, ok := r.Get("b")
	assert.True(t, ok)
}

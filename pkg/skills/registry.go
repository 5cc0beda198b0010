// Copyright 2026 © The Skillmesh Authors
// SPDX-License-Identifier: Apache-2.0

// Package skills owns skill descriptors, maps each tier to its connection
// behavior and aggregates the tools served by connected skills.
package skills

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jllopis/skillmesh/pkg/core"
	"github.com/jllopis/skillmesh/pkg/errors"
	"github.com/jllopis/skillmesh/pkg/mcp"
	"github.com/jllopis/skillmesh/pkg/telemetry"
)

// DefaultInstructionTTL bounds how long rendered instructions are reused.
const DefaultInstructionTTL = 5 * time.Minute

// Connector opens and routes tool connections. *mcp.Manager implements it.
type Connector interface {
	ConnectStdio(ctx context.Context, skillID, command string, args []string, env map[string]string) error
	ConnectHTTP(ctx context.Context, skillID, url string, kind mcp.TransportKind, headers map[string]string) error
	ListTools(ctx context.Context, skillID string) ([]core.ToolDefinition, error)
	CallTool(ctx context.Context, skillID, name string, input map[string]any) (core.ToolResult, error)
	IsConnected(skillID string) bool
	Close(skillID string)
	CloseAll() error
}

// Store persists descriptors.
type Store interface {
	SaveSkill(ctx context.Context, d Descriptor) error
	DeleteSkill(ctx context.Context, id string) error
	ListSkills(ctx context.Context) ([]Descriptor, error)
}

// Entry is a tool tagged with its owning skill.
type Entry struct {
	Definition core.ToolDefinition
	SkillID    string
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records tool calls.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithStore enables write-through persistence.
func WithStore(s Store) Option {
	return func(r *Registry) { r.store = s }
}

// WithInstructionTTL sets the instruction cache validity window.
func WithInstructionTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		if ttl > 0 {
			r.instrTTL = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

type instructionCache struct {
	text    string
	expires time.Time
	valid   bool
}

// Registry owns the configured skills and the connections they open.
// It implements core.ToolProvider.
type Registry struct {
	conn     Connector
	store    Store
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	instrTTL time.Duration
	now      func() time.Time

	mu      sync.RWMutex
	skills  map[string]Descriptor
	index   map[string]string
	catalog []Entry

	instrMu sync.Mutex
	instr   instructionCache
}

// NewRegistry creates a registry routing through conn.
func NewRegistry(conn Connector, opts ...Option) *Registry {
	r := &Registry{
		conn:     conn,
		instrTTL: DefaultInstructionTTL,
		now:      time.Now,
		skills:   make(map[string]Descriptor),
		index:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = telemetry.Component(nil, "skills")
	}
	return r
}

// Upsert adds or replaces a descriptor. Disabling a skill, or changing how
// it is reached, closes its connection.
func (r *Registry) Upsert(ctx context.Context, d Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	d = d.Clone()
	if d.Owner == "" {
		d.Owner = OwnerSystem
	}
	d.UpdatedAt = r.now().UTC()
	if r.store != nil {
		if err := r.store.SaveSkill(ctx, d); err != nil {
			return errors.New(errors.CodeStoreError, "save skill "+d.ID, err)
		}
	}
	r.put(ctx, d)
	return nil
}

func (r *Registry) put(ctx context.Context, d Descriptor) {
	r.mu.Lock()
	prev, existed := r.skills[d.ID]
	r.skills[d.ID] = d
	stale := existed && prev.Connects() && (!d.Enabled || !sameEndpoint(prev, d))
	if stale {
		r.dropIndexLocked(d.ID)
	}
	r.mu.Unlock()

	if stale {
		r.conn.Close(d.ID)
	}
	if d.Tier == TierInstruction || (existed && prev.Tier == TierInstruction) {
		r.InvalidateInstructions()
	}
	r.logger.InfoContext(ctx, "skills.upsert",
		slog.String("skill_id", d.ID),
		slog.String("tier", string(d.Tier)),
		slog.Bool("enabled", d.Enabled),
	)
}

// Remove deletes a descriptor and closes its connection.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	d, ok := r.skills[id]
	if !ok {
		r.mu.Unlock()
		return errors.New(errors.CodeNotFound, "skill not found: "+id, nil)
	}
	delete(r.skills, id)
	r.dropIndexLocked(id)
	r.mu.Unlock()

	if d.Connects() {
		r.conn.Close(id)
	} else {
		r.InvalidateInstructions()
	}
	r.logger.InfoContext(ctx, "skills.remove", slog.String("skill_id", id))
	if r.store != nil {
		if err := r.store.DeleteSkill(ctx, id); err != nil {
			return errors.New(errors.CodeStoreError, "delete skill "+id, err)
		}
	}
	return nil
}

// Get returns the descriptor for id.
func (r *Registry) Get(id string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.skills[id]
	if !ok {
		return Descriptor{}, false
	}
	return d.Clone(), true
}

// List returns every descriptor sorted by id.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	out := make([]Descriptor, 0, len(r.skills))
	for _, d := range r.skills {
		out = append(out, d.Clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Sync replaces the configured set with ds. Skills absent from ds are
// removed and their connections closed, except extension-owned skills,
// which come and go through discovery. Nothing changes if any descriptor
// is invalid.
func (r *Registry) Sync(ctx context.Context, ds []Descriptor) error {
	want := make(map[string]struct{}, len(ds))
	for _, d := range ds {
		if err := d.Validate(); err != nil {
			return err
		}
		want[d.ID] = struct{}{}
	}
	var errs []error
	for _, d := range r.List() {
		if _, ok := want[d.ID]; ok || d.Owner == OwnerExtension {
			continue
		}
		if err := r.Remove(ctx, d.ID); err != nil {
			errs = append(errs, err)
		}
	}
	for _, d := range ds {
		if err := r.Upsert(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// LoadFromStore seeds the registry from the configured store without
// writing back.
func (r *Registry) LoadFromStore(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	ds, err := r.store.ListSkills(ctx)
	if err != nil {
		return 0, errors.New(errors.CodeStoreError, "list skills", err)
	}
	for _, d := range ds {
		if err := d.Validate(); err != nil {
			r.logger.WarnContext(ctx, "skills.store.invalid",
				slog.String("skill_id", d.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		r.put(ctx, d.Clone())
	}
	return len(ds), nil
}

// Connect connects every enabled skill that opens a connection. One failing
// skill does not stop the others; failures are joined.
func (r *Registry) Connect(ctx context.Context) error {
	var errs []error
	for _, d := range r.List() {
		if !d.Enabled || !d.Connects() {
			continue
		}
		if err := r.ConnectSkill(ctx, d.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// ConnectSkill connects a single skill according to its tier. Instruction
// skills are a no-op.
func (r *Registry) ConnectSkill(ctx context.Context, id string) error {
	d, ok := r.Get(id)
	if !ok {
		return errors.New(errors.CodeNotFound, "skill not found: "+id, nil)
	}
	if !d.Enabled {
		return errors.New(errors.CodeInvalidInput, "skill disabled: "+id, nil)
	}
	var err error
	switch d.Tier {
	case TierInstruction:
		return nil
	case TierStdio:
		err = r.conn.ConnectStdio(ctx, d.ID, d.Command, d.Args, d.Env)
	case TierSidecar, TierService:
		err = r.conn.ConnectHTTP(ctx, d.ID, d.URL, d.Transport, d.Headers)
	}
	if err != nil {
		r.logger.WarnContext(ctx, "skills.connect.failed",
			slog.String("skill_id", id),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

// Instructions returns the rendered text of every enabled instruction skill,
// sorted by id and separated by blank lines. The result is cached for the
// instruction TTL.
func (r *Registry) Instructions(ctx context.Context) string {
	r.instrMu.Lock()
	defer r.instrMu.Unlock()
	if r.instr.valid && r.now().Before(r.instr.expires) {
		return r.instr.text
	}

	var parts []string
	for _, d := range r.List() {
		if !d.Enabled || d.Tier != TierInstruction {
			continue
		}
		text, err := renderInstruction(d)
		if err != nil {
			r.logger.WarnContext(ctx, "skills.instruction.failed",
				slog.String("skill_id", d.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if text != "" {
			parts = append(parts, text)
		}
	}
	r.instr = instructionCache{
		text:    strings.Join(parts, "\n\n"),
		expires: r.now().Add(r.instrTTL),
		valid:   true,
	}
	return r.instr.text
}

// InvalidateInstructions drops the cached instruction text.
func (r *Registry) InvalidateInstructions() {
	r.instrMu.Lock()
	r.instr = instructionCache{}
	r.instrMu.Unlock()
}

func renderInstruction(d Descriptor) (string, error) {
	if d.Content != "" {
		return strings.TrimSpace(d.Content), nil
	}
	in, err := LoadInstructionFile(d.ContentPath)
	if err != nil {
		return "", err
	}
	return in.Render(), nil
}

// ListTools rebuilds the catalog from every connected, enabled skill that
// serves tools. Skills are visited in id order; a skill whose listing fails
// is skipped. If two skills serve the same name the first keeps it.
func (r *Registry) ListTools(ctx context.Context) ([]core.ToolDefinition, error) {
	entries := r.refresh(ctx)
	defs := make([]core.ToolDefinition, 0, len(entries))
	for _, e := range entries {
		defs = append(defs, e.Definition)
	}
	return defs, nil
}

// Entries returns the catalog built by the last ListTools call.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Entry(nil), r.catalog...)
}

func (r *Registry) refresh(ctx context.Context) []Entry {
	var catalog []Entry
	index := make(map[string]string)
	for _, d := range r.List() {
		if !d.Enabled || !d.Connects() || !r.conn.IsConnected(d.ID) {
			continue
		}
		defs, err := r.conn.ListTools(ctx, d.ID)
		if err != nil {
			r.logger.WarnContext(ctx, "skills.list_tools.failed",
				slog.String("skill_id", d.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		for _, def := range defs {
			if owner, dup := index[def.Name]; dup {
				r.logger.WarnContext(ctx, "skills.tool.duplicate",
					slog.String("tool", def.Name),
					slog.String("skill_id", d.ID),
					slog.String("kept", owner),
				)
				continue
			}
			index[def.Name] = d.ID
			catalog = append(catalog, Entry{Definition: def, SkillID: d.ID})
		}
	}

	r.mu.Lock()
	r.index = index
	r.catalog = catalog
	r.mu.Unlock()
	return catalog
}

func (r *Registry) dropIndexLocked(skillID string) {
	for name, owner := range r.index {
		if owner == skillID {
			delete(r.index, name)
		}
	}
	kept := r.catalog[:0:0]
	for _, e := range r.catalog {
		if e.SkillID != skillID {
			kept = append(kept, e)
		}
	}
	r.catalog = kept
}

// Owner returns the skill serving name.
func (r *Registry) Owner(name string) (string, bool) {
	r.mu.RLock()
	id, ok := r.index[name]
	r.mu.RUnlock()
	if !ok || !r.conn.IsConnected(id) {
		return "", false
	}
	return id, true
}

// HasTool reports whether a connected skill serves name.
func (r *Registry) HasTool(name string) bool {
	_, ok := r.Owner(name)
	return ok
}

// Execute routes name to its owning skill. A tool whose skill has lost its
// connection fails with NOT_CONNECTED without any I/O.
func (r *Registry) Execute(ctx context.Context, name string, input map[string]any) (core.ToolResult, error) {
	r.mu.RLock()
	id, ok := r.index[name]
	r.mu.RUnlock()
	if !ok {
		return core.ToolResult{}, errors.New(errors.CodeToolNotFound, "no skill serves "+name, nil)
	}
	if !r.conn.IsConnected(id) {
		r.metrics.RecordToolCall(ctx, name, "skill", true)
		return core.ToolResult{}, errors.New(errors.CodeNotConnected, "skill not connected: "+id, nil).
			WithContext("skill_id", id).
			WithContext("tool", name).
			WithRecoverable(true)
	}
	res, err := r.conn.CallTool(ctx, id, name, input)
	if err != nil {
		r.metrics.RecordToolCall(ctx, name, "skill", true)
		return core.ToolResult{}, err
	}
	r.metrics.RecordToolCall(ctx, name, "skill", res.IsError)
	return res, nil
}

// Close closes every skill connection.
func (r *Registry) Close(context.Context) error {
	r.mu.Lock()
	r.index = make(map[string]string)
	r.catalog = nil
	r.mu.Unlock()
	return r.conn.CloseAll()
}

var (
	_ core.ToolProvider = (*Registry)(nil)
	_ Connector         = (*mcp.Manager)(nil)
)

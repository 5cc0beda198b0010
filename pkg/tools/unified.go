// Copyright 2026 © The Skillmesh Authors
// SPDX-License-Identifier: Apache-2.0

// Package tools merges skill and legacy plugin tools into one catalog and
// routes calls to the provider that owns each name.
package tools

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jllopis/skillmesh/pkg/core"
	"github.com/jllopis/skillmesh/pkg/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Source identifies which provider owns a catalog entry.
type Source string

const (
	SourceSkill  Source = "skill"
	SourceLegacy Source = "legacy"
	SourceNone   Source = "none"
)

// Entry is a merged catalog entry.
type Entry struct {
	Definition core.ToolDefinition
	Source     Source
}

// Option configures a Unified registry.
type Option func(*Unified)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(u *Unified) {
		if logger != nil {
			u.logger = logger
		}
	}
}

// WithMetrics records collisions and tool calls.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(u *Unified) { u.metrics = m }
}

// Unified merges the skill and legacy providers. Skills always win a name
// clash; the shadowed legacy tool is dropped and recorded.
type Unified struct {
	skills  core.ToolProvider
	legacy  core.ToolProvider
	logger  *slog.Logger
	metrics *telemetry.Metrics
	tracer  trace.Tracer

	mu         sync.RWMutex
	catalog    []Entry
	collisions []string
}

// New creates a merged registry. Either provider may be nil.
func New(skills, legacy core.ToolProvider, opts ...Option) *Unified {
	u := &Unified{
		skills: skills,
		legacy: legacy,
		tracer: otel.Tracer("skillmesh/tools"),
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.logger == nil {
		u.logger = telemetry.Component(nil, "tools")
	}
	return u
}

// Refresh rebuilds the merged catalog. A provider whose listing fails
// contributes nothing; its error is returned after the catalog is built.
func (u *Unified) Refresh(ctx context.Context) error {
	var errs []error
	list := func(p core.ToolProvider, src Source) []core.ToolDefinition {
		if p == nil {
			return nil
		}
		defs, err := p.ListTools(ctx)
		if err != nil {
			u.logger.WarnContext(ctx, "tools.list.failed",
				slog.String("source", string(src)),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
			return nil
		}
		return defs
	}

	skillDefs := list(u.skills, SourceSkill)
	legacyDefs := list(u.legacy, SourceLegacy)

	seen := make(map[string]struct{}, len(skillDefs)+len(legacyDefs))
	catalog := make([]Entry, 0, len(skillDefs)+len(legacyDefs))
	for _, d := range skillDefs {
		if _, dup := seen[d.Name]; dup {
			continue
		}
		seen[d.Name] = struct{}{}
		catalog = append(catalog, Entry{Definition: d, Source: SourceSkill})
	}
	var collisions []string
	for _, d := range legacyDefs {
		if _, dup := seen[d.Name]; dup {
			collisions = append(collisions, d.Name)
			u.logger.InfoContext(ctx, "tools.collision",
				slog.String("tool", d.Name),
				slog.String("kept", string(SourceSkill)),
				slog.String("dropped", string(SourceLegacy)),
			)
			u.metrics.RecordCollision(ctx, d.Name, "")
			continue
		}
		seen[d.Name] = struct{}{}
		catalog = append(catalog, Entry{Definition: d, Source: SourceLegacy})
	}

	u.mu.Lock()
	u.catalog = catalog
	u.collisions = collisions
	u.mu.Unlock()
	return stderrors.Join(errs...)
}

// Catalog returns the entries built by the last Refresh.
func (u *Unified) Catalog() []Entry {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return append([]Entry(nil), u.catalog...)
}

// Collisions returns legacy tool names shadowed by skills at the last Refresh.
func (u *Unified) Collisions() []string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return append([]string(nil), u.collisions...)
}

// AllToolDefinitions returns the merged definitions, skills first.
func (u *Unified) AllToolDefinitions() []core.ToolDefinition {
	entries := u.Catalog()
	defs := make([]core.ToolDefinition, len(entries))
	for i, e := range entries {
		defs[i] = e.Definition
	}
	return defs
}

// HasTool reports whether either provider claims name.
func (u *Unified) HasTool(name string) bool {
	return (u.skills != nil && u.skills.HasTool(name)) ||
		(u.legacy != nil && u.legacy.HasTool(name))
}

// Execute routes name to the skill provider when it claims the name,
// otherwise to the legacy provider. A name nobody claims yields a
// not-found result rather than an error.
func (u *Unified) Execute(ctx context.Context, name string, input map[string]any) (core.ToolResult, error) {
	src := SourceNone
	switch {
	case u.skills != nil && u.skills.HasTool(name):
		src = SourceSkill
	case u.legacy != nil && u.legacy.HasTool(name):
		src = SourceLegacy
	}
	return u.executeFrom(ctx, name, input, src)
}

// executeFrom calls name on src only. Catalog entries are bound to the
// source that won the merge, so a skill that disconnects never hands its
// name back to a legacy tool it shadowed.
func (u *Unified) executeFrom(ctx context.Context, name string, input map[string]any, src Source) (core.ToolResult, error) {
	ctx, span := u.tracer.Start(ctx, "tools.Execute")
	defer span.End()
	start := time.Now()

	var (
		res core.ToolResult
		err error
	)
	switch {
	case src == SourceSkill && u.skills != nil:
		res, err = u.skills.Execute(ctx, name, input)
	case src == SourceLegacy && u.legacy != nil:
		res, err = u.legacy.Execute(ctx, name, input)
		u.metrics.RecordToolCall(ctx, name, string(SourceLegacy), err != nil || res.IsError)
	default:
		src = SourceNone
		res = NotFoundResult(name, u.names())
		u.logger.InfoContext(ctx, "tools.not_found", slog.String("tool", name))
	}

	span.SetAttributes(telemetry.ToolCallAttributes(name, "", string(src),
		time.Since(start).Seconds()*1000, err == nil && !res.IsError)...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (u *Unified) names() []string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	names := make([]string, len(u.catalog))
	for i, e := range u.catalog {
		names[i] = e.Definition.Name
	}
	return names
}

// Subset returns the catalog entries whose names are in allow, in catalog
// order, as a ToolSet routing each call to the entry's source. An empty allow list yields an
// empty set.
func (u *Unified) Subset(allow []string) ToolSet {
	if len(allow) == 0 {
		return NewToolSet()
	}
	allowed := make(map[string]struct{}, len(allow))
	for _, name := range allow {
		allowed[name] = struct{}{}
	}
	var tools []core.Tool
	for _, e := range u.Catalog() {
		if _, ok := allowed[e.Definition.Name]; !ok {
			continue
		}
		name, src := e.Definition.Name, e.Source
		tools = append(tools, core.Tool{
			Definition: e.Definition,
			Handler: func(ctx context.Context, input map[string]any) (core.ToolResult, error) {
				return u.executeFrom(ctx, name, input, src)
			},
		})
	}
	return NewToolSet(tools...)
}

// All returns the whole catalog as a ToolSet.
func (u *Unified) All() ToolSet {
	return u.Subset(u.names())
}

// Shutdown closes both providers concurrently. Each side runs to completion
// regardless of the other; failures are joined.
func (u *Unified) Shutdown(ctx context.Context) error {
	var g errgroup.Group
	var skillErr, legacyErr error
	if u.skills != nil {
		g.Go(func() error {
			skillErr = u.skills.Close(ctx)
			return nil
		})
	}
	if u.legacy != nil {
		g.Go(func() error {
			legacyErr = u.legacy.Close(ctx)
			return nil
		})
	}
	_ = g.Wait()
	if skillErr != nil {
		u.logger.WarnContext(ctx, "tools.shutdown.failed", slog.String("source", string(SourceSkill)), slog.String("error", skillErr.Error()))
	}
	if legacyErr != nil {
		u.logger.WarnContext(ctx, "tools.shutdown.failed", slog.String("source", string(SourceLegacy)), slog.String("error", legacyErr.Error()))
	}
	return stderrors.Join(skillErr, legacyErr)
}

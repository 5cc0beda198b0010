// Copyright 2026 © The Skillmesh Authors
// SPDX-License-Identifier: Apache-2.0

// Package plugins hosts the legacy in-process tool packs. Packs predate
// skills and are merged behind them by the unified registry.
package plugins

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/jllopis/skillmesh/pkg/core"
	"github.com/jllopis/skillmesh/pkg/errors"
	"github.com/jllopis/skillmesh/pkg/telemetry"
)

// ErrToolCollision indicates a tool name already registered by another pack.
var ErrToolCollision = stderrors.New("tool name collision")

// ErrClosed indicates the registry has been closed.
var ErrClosed = stderrors.New("plugin registry closed")

// Pack is a named set of in-process tools.
type Pack struct {
	ID    string
	Tools []core.Tool
	// Close releases pack resources. Optional.
	Close func(ctx context.Context) error
}

type entry struct {
	tool   core.Tool
	packID string
}

// Registry holds every registered pack and resolves tool names to handlers.
// It implements core.ToolProvider.
type Registry struct {
	mu     sync.RWMutex
	packs  []*Pack
	tools  map[string]*entry
	closed bool
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]*entry),
		logger: telemetry.Component(logger, "plugins"),
	}
}

// Register adds pack. Tool names must be unique across packs.
func (r *Registry) Register(pack *Pack) error {
	if pack == nil || pack.ID == "" {
		return errors.New(errors.CodeInvalidInput, "pack id is required", nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	for _, p := range r.packs {
		if p.ID == pack.ID {
			return fmt.Errorf("pack %q already registered", pack.ID)
		}
	}
	for _, tool := range pack.Tools {
		if existing, ok := r.tools[tool.Name()]; ok {
			return fmt.Errorf("%w: tool %q already registered by pack %q", ErrToolCollision, tool.Name(), existing.packID)
		}
	}
	for _, tool := range pack.Tools {
		r.tools[tool.Name()] = &entry{tool: tool, packID: pack.ID}
	}
	r.packs = append(r.packs, pack)

	r.logger.Info("plugins.pack.registered",
		slog.String("pack_id", pack.ID),
		slog.Int("tool_count", len(pack.Tools)),
	)
	return nil
}

// PackInfo describes a registered pack.
type PackInfo struct {
	ID    string
	Tools []string
}

// Packs lists registered packs sorted by id.
func (r *Registry) Packs() []PackInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PackInfo, 0, len(r.packs))
	for _, p := range r.packs {
		names := make([]string, 0, len(p.Tools))
		for _, t := range p.Tools {
			names = append(names, t.Name())
		}
		out = append(out, PackInfo{ID: p.ID, Tools: names})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Tools returns every registered tool in pack registration order.
func (r *Registry) Tools() []core.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []core.Tool
	for _, p := range r.packs {
		out = append(out, p.Tools...)
	}
	return out
}

// ListTools returns the definitions of every registered tool.
func (r *Registry) ListTools(context.Context) ([]core.ToolDefinition, error) {
	tools := r.Tools()
	defs := make([]core.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, t.Definition)
	}
	return defs, nil
}

// HasTool reports whether a pack provides name.
func (r *Registry) HasTool(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}
	_, ok := r.tools[name]
	return ok
}

// Execute runs the handler registered for name.
func (r *Registry) Execute(ctx context.Context, name string, input map[string]any) (core.ToolResult, error) {
	r.mu.RLock()
	e, ok := r.tools[name]
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return core.ToolResult{}, ErrClosed
	}
	if !ok {
		return core.ToolResult{}, errors.New(errors.CodeToolNotFound, "no plugin provides "+name, nil)
	}
	if input == nil {
		input = map[string]any{}
	}
	res, err := e.tool.Handler(ctx, input)
	if err != nil {
		return core.ToolResult{}, errors.New(errors.CodeToolFailure, name+" failed", err).
			WithContext("pack_id", e.packID).
			WithAttribute(telemetry.AttrToolName, name)
	}
	return res, nil
}

// Close closes every pack. Failures are joined; the registry is closed
// regardless.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	packs := r.packs
	r.mu.Unlock()

	var errs []error
	for _, p := range packs {
		if p.Close == nil {
			continue
		}
		if err := p.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close pack %s: %w", p.ID, err))
		}
	}
	return stderrors.Join(errs...)
}

// decode maps tool input onto a typed struct using its json tags.
func decode(input map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(input); err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	return nil
}

var _ core.ToolProvider = (*Registry)(nil)

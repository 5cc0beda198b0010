package tools

import (
	"context"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/jllopis/skillmesh/pkg/core"
	"github.com/sahilm/fuzzy"
)

// ToolSet is an immutable, ordered set of tools handed to an agent loop.
type ToolSet struct {
	tools  []core.Tool
	byName map[string]int
}

// NewToolSet builds a set. Later tools with a duplicate name are ignored.
func NewToolSet(tools ...core.Tool) ToolSet {
	ts := ToolSet{byName: make(map[string]int, len(tools))}
	for _, t := range tools {
		if _, dup := ts.byName[t.Name()]; dup || t.Handler == nil {
			continue
		}
		ts.byName[t.Name()] = len(ts.tools)
		ts.tools = append(ts.tools, t)
	}
	return ts
}

// Len returns the number of tools.
func (ts ToolSet) Len() int { return len(ts.tools) }

// Names returns tool names in set order.
func (ts ToolSet) Names() []string {
	names := make([]string, len(ts.tools))
	for i, t := range ts.tools {
		names[i] = t.Name()
	}
	return names
}

// Definitions returns tool definitions in set order.
func (ts ToolSet) Definitions() []core.ToolDefinition {
	defs := make([]core.ToolDefinition, len(ts.tools))
	for i, t := range ts.tools {
		defs[i] = t.Definition
	}
	return defs
}

// HasTool reports whether name is in the set.
func (ts ToolSet) HasTool(name string) bool {
	_, ok := ts.byName[name]
	return ok
}

// Execute runs name. A name outside the set yields a not-found result.
func (ts ToolSet) Execute(ctx context.Context, name string, input map[string]any) (core.ToolResult, error) {
	i, ok := ts.byName[name]
	if !ok {
		return NotFoundResult(name, ts.Names()), nil
	}
	if input == nil {
		input = map[string]any{}
	}
	return ts.tools[i].Handler(ctx, input)
}

// Fingerprint identifies the set by names and definitions, independent of
// order.
func (ts ToolSet) Fingerprint() uint64 {
	defs := ts.Definitions()
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	h := xxhash.New()
	for _, d := range defs {
		_, _ = h.WriteString(d.Name)
		_, _ = h.WriteString("\x00")
		_, _ = h.WriteString(d.Description)
		_, _ = h.WriteString("\x00")
		_, _ = fmt.Fprintf(h, "%v|%v\x00", d.InputSchema.Required, len(d.InputSchema.Properties))
	}
	return h.Sum64()
}

// NotFoundResult is the result returned for a tool nobody provides. When a
// close match exists among candidates it is suggested.
func NotFoundResult(name string, candidates []string) core.ToolResult {
	text := fmt.Sprintf("no provider found for tool %q", name)
	if s := suggest(name, candidates); s != "" {
		text += fmt.Sprintf("; did you mean %q?", s)
	}
	return core.ErrorResult(text)
}

func suggest(name string, candidates []string) string {
	if name == "" || len(candidates) == 0 {
		return ""
	}
	matches := fuzzy.Find(name, candidates)
	if len(matches) == 0 {
		return ""
	}
	return matches[0].Str
}

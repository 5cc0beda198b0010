// Copyright 2026 © The Skillmesh Authors
// SPDX-License-Identifier: Apache-2.0

package governance

import (
	"context"
	"strings"
)

// ToolFilter decides tool access from allow and deny patterns plus an
// optional policy engine. Patterns support path.Match globs.
type ToolFilter struct {
	allowlist    map[string]bool
	denylist     map[string]bool
	strict       bool
	state        string
	policyEngine PolicyEngine
}

// ToolFilterOption configures a ToolFilter.
type ToolFilterOption func(*ToolFilter)

// NewToolFilter creates a new ToolFilter with the given options.
func NewToolFilter(opts ...ToolFilterOption) *ToolFilter {
	tf := &ToolFilter{
		allowlist: make(map[string]bool),
		denylist:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(tf)
	}
	return tf
}

// WithAllowlist adds permitted tool names or patterns.
func WithAllowlist(tools []string) ToolFilterOption {
	return func(tf *ToolFilter) { tf.AddToAllowlist(tools...) }
}

// WithDenylist adds forbidden tool names or patterns.
func WithDenylist(tools []string) ToolFilterOption {
	return func(tf *ToolFilter) { tf.AddToDenylist(tools...) }
}

// WithStrict makes an empty allowlist deny everything instead of allowing
// everything.
func WithStrict() ToolFilterOption {
	return func(tf *ToolFilter) { tf.strict = true }
}

// WithState labels policy engine actions with a lifecycle state.
func WithState(state string) ToolFilterOption {
	return func(tf *ToolFilter) { tf.state = state }
}

// WithPolicyEngine attaches a policy engine consulted last.
func WithPolicyEngine(engine PolicyEngine) ToolFilterOption {
	return func(tf *ToolFilter) { tf.policyEngine = engine }
}

// IsAllowed checks toolName. The denylist wins, then the allowlist (which
// denies everything when empty in strict mode), then the policy engine.
func (tf *ToolFilter) IsAllowed(ctx context.Context, toolName string) Decision {
	if matchesAny(toolName, tf.denylist) {
		return deny("tool is in denylist")
	}
	if len(tf.allowlist) == 0 && tf.strict {
		return deny("no tools allowed")
	}
	if len(tf.allowlist) > 0 && !matchesAny(toolName, tf.allowlist) {
		return deny("tool is not in allowlist")
	}
	if tf.policyEngine != nil {
		return tf.policyEngine.Evaluate(ctx, Action{Tool: toolName, State: tf.state})
	}
	return allow()
}

// FilterTools returns the names that pass the filter, preserving order.
func (tf *ToolFilter) FilterTools(ctx context.Context, toolNames []string) []string {
	filtered := make([]string, 0, len(toolNames))
	for _, name := range toolNames {
		if tf.IsAllowed(ctx, name).IsAllowed() {
			filtered = append(filtered, name)
		}
	}
	return filtered
}

func matchesAny(toolName string, list map[string]bool) bool {
	if list[toolName] {
		return true
	}
	for pattern := range list {
		if matchPattern(pattern, toolName) {
			return true
		}
	}
	return false
}

// AddToAllowlist adds tools to the allowlist.
func (tf *ToolFilter) AddToAllowlist(tools ...string) {
	for _, tool := range tools {
		if tool = strings.TrimSpace(tool); tool != "" {
			tf.allowlist[tool] = true
		}
	}
}

// AddToDenylist adds tools to the denylist.
func (tf *ToolFilter) AddToDenylist(tools ...string) {
	for _, tool := range tools {
		if tool = strings.TrimSpace(tool); tool != "" {
			tf.denylist[tool] = true
		}
	}
}

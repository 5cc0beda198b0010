// Copyright 2026 © The Skillmesh Authors
// SPDX-License-Identifier: Apache-2.0

package governance

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jllopis/skillmesh/pkg/lifecycle"
	"github.com/jllopis/skillmesh/pkg/plugins"
)

// StateRule is the fixed tool allow-set and prompt for one state. Allow
// entries may be glob patterns.
type StateRule struct {
	Allow  []string `koanf:"allow"`
	Deny   []string `koanf:"deny"`
	Prompt string   `koanf:"prompt"`
}

// StatePolicy maps lifecycle states to their rules. A state without a rule
// allows nothing.
type StatePolicy[S ~string] struct {
	rules  map[S]StateRule
	engine PolicyEngine
}

// NewStatePolicy builds a policy from rules. engine may be nil.
func NewStatePolicy[S ~string](rules map[S]StateRule, engine PolicyEngine) *StatePolicy[S] {
	copied := make(map[S]StateRule, len(rules))
	for st, r := range rules {
		copied[st] = StateRule{
			Allow:  slices.Clone(r.Allow),
			Deny:   slices.Clone(r.Deny),
			Prompt: r.Prompt,
		}
	}
	return &StatePolicy[S]{rules: copied, engine: engine}
}

// Allowed returns the allow patterns for state.
func (p *StatePolicy[S]) Allowed(state S) []string {
	return slices.Clone(p.rules[state].Allow)
}

// Filter returns the strict filter for state.
func (p *StatePolicy[S]) Filter(state S) *ToolFilter {
	r := p.rules[state]
	return NewToolFilter(
		WithStrict(),
		WithState(string(state)),
		WithAllowlist(r.Allow),
		WithDenylist(r.Deny),
		WithPolicyEngine(p.engine),
	)
}

// Resolve returns the catalog names callable in state, in catalog order.
func (p *StatePolicy[S]) Resolve(ctx context.Context, state S, catalog []string) []string {
	return p.Filter(state).FilterTools(ctx, catalog)
}

// Prompt builds the system prompt for state from base, the state prompt and
// any skill instructions.
func (p *StatePolicy[S]) Prompt(state S, base, instructions string) string {
	parts := make([]string, 0, 4)
	if s := strings.TrimSpace(base); s != "" {
		parts = append(parts, s)
	}
	parts = append(parts, fmt.Sprintf("Current lifecycle state: %s.", state))
	if s := strings.TrimSpace(p.rules[state].Prompt); s != "" {
		parts = append(parts, s)
	}
	if s := strings.TrimSpace(instructions); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n\n")
}

// Override replaces the rule of every state present in rules.
func (p *StatePolicy[S]) Override(rules map[S]StateRule) {
	for st, r := range rules {
		p.rules[st] = StateRule{Allow: slices.Clone(r.Allow), Deny: slices.Clone(r.Deny), Prompt: r.Prompt}
	}
}

var lifecycleTools = []string{
	plugins.ToolCompleteDeploy,
	plugins.ToolBeginUpdate,
	plugins.ToolCompleteUpdate,
	plugins.ToolRequestShutdown,
}

// DefaultChatPolicy is the conversational agent policy: every tool except
// the operations lifecycle tools while active, read-only notes and the
// clock while draining, nothing otherwise.
func DefaultChatPolicy(engine PolicyEngine) *StatePolicy[lifecycle.ChatState] {
	return NewStatePolicy(map[lifecycle.ChatState]StateRule{
		lifecycle.ChatPending: {
			Prompt: "The agent is starting. Tell the user to retry shortly.",
		},
		lifecycle.ChatActive: {
			Allow:  []string{"*"},
			Deny:   lifecycleTools,
			Prompt: "Help the user. Use tools when they give a better answer than memory.",
		},
		lifecycle.ChatDraining: {
			Allow:  []string{"current_time", "note_get", "note_list"},
			Prompt: "The agent is draining. Finish the current conversation and do not start new work.",
		},
		lifecycle.ChatShutdown: {
			Prompt: "The agent is shut down. No tools are available.",
		},
	}, engine)
}

// DefaultOpsPolicy is the operations agent policy. Each state exposes the
// transition tools that leave it plus the tools the phase needs.
func DefaultOpsPolicy(engine PolicyEngine) *StatePolicy[lifecycle.OpsState] {
	common := []string{"current_time", "note_*", plugins.ToolRequestShutdown}
	with := func(extra ...string) []string { return append(slices.Clone(common), extra...) }
	return NewStatePolicy(map[lifecycle.OpsState]StateRule{
		lifecycle.OpsDeploy: {
			Allow:  with(plugins.ToolCompleteDeploy, "deploy_*", "*_status"),
			Prompt: "Roll out the workload. Call complete_deploy once every check passes.",
		},
		lifecycle.OpsRuntime: {
			Allow:  with(plugins.ToolBeginUpdate, "*_status", "*_logs", "*_metrics"),
			Prompt: "Watch the running workload. Call begin_update before changing it.",
		},
		lifecycle.OpsUpdate: {
			Allow:  with(plugins.ToolCompleteUpdate, "rollout_*", "*_status"),
			Prompt: "Apply the update. Call complete_update when the rollout is healthy.",
		},
		lifecycle.OpsShutdown: {
			Prompt: "The workload is shut down. No tools are available.",
		},
	}, engine)
}

// Copyright 2026 © The Skillmesh Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides OpenTelemetry integration, trace-aware logging
// and the metrics emitted by skillmesh components.
package telemetry

import (
	"sort"

	"go.opentelemetry.io/otel/attribute"
)

// Semantic conventions for skillmesh telemetry.
const (
	// Agent session attributes
	AttrAgentKind      = "skillmesh.agent.kind"
	AttrAgentState     = "skillmesh.agent.state"
	AttrAgentTurnID    = "skillmesh.agent.turn_id"
	AttrAgentSessionID = "skillmesh.agent.session_id"
	AttrAgentIteration = "skillmesh.agent.iteration"
	AttrAgentMaxIter   = "skillmesh.agent.max_iterations"

	// Tool attributes
	AttrToolName       = "skillmesh.tool.name"
	AttrToolCallID     = "skillmesh.tool.call_id"
	AttrToolSource     = "skillmesh.tool.source" // "skill", "legacy", "none"
	AttrToolSuccess    = "skillmesh.tool.success"
	AttrToolDurationMs = "skillmesh.tool.duration_ms"
	AttrToolsCount     = "skillmesh.tools.count"
	AttrToolsNames     = "skillmesh.tools.names"

	// Skill attributes
	AttrSkillID        = "skillmesh.skill.id"
	AttrSkillTier      = "skillmesh.skill.tier"
	AttrSkillTransport = "skillmesh.skill.transport"

	// Lifecycle attributes
	AttrLifecycleFrom = "skillmesh.lifecycle.from"
	AttrLifecycleTo   = "skillmesh.lifecycle.to"

	// Model attributes (gen_ai conventions)
	AttrLLMModel        = "gen_ai.request.model"
	AttrLLMTokensInput  = "gen_ai.usage.input_tokens"
	AttrLLMTokensOutput = "gen_ai.usage.output_tokens"
	AttrLLMFinishReason = "gen_ai.finish_reason"
)

// ToolCallAttributes describes a single routed tool call.
func ToolCallAttributes(name, callID, source string, durationMs float64, success bool) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrToolName, name),
		attribute.String(AttrToolSource, source),
		attribute.Float64(AttrToolDurationMs, durationMs),
		attribute.Bool(AttrToolSuccess, success),
	}
	if callID != "" {
		attrs = append(attrs, attribute.String(AttrToolCallID, callID))
	}
	return attrs
}

// ToolsetAttributes describes the active tool subset. Names are sorted.
func ToolsetAttributes(names []string) []attribute.KeyValue {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	return []attribute.KeyValue{
		attribute.Int(AttrToolsCount, len(sorted)),
		attribute.StringSlice(AttrToolsNames, sorted),
	}
}

// SkillAttributes describes a skill descriptor.
func SkillAttributes(id, tier, transport string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(AttrSkillID, id)}
	if tier != "" {
		attrs = append(attrs, attribute.String(AttrSkillTier, tier))
	}
	if transport != "" {
		attrs = append(attrs, attribute.String(AttrSkillTransport, transport))
	}
	return attrs
}

// LoopAttributes describes a chat turn.
func LoopAttributes(kind, turnID string, iteration, maxIter int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int(AttrAgentIteration, iteration),
		attribute.Int(AttrAgentMaxIter, maxIter),
	}
	if kind != "" {
		attrs = append(attrs, attribute.String(AttrAgentKind, kind))
	}
	if turnID != "" {
		attrs = append(attrs, attribute.String(AttrAgentTurnID, turnID))
	}
	return attrs
}

// TransitionAttributes describes a lifecycle transition.
func TransitionAttributes(kind, from, to string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrAgentKind, kind),
		attribute.String(AttrLifecycleFrom, from),
		attribute.String(AttrLifecycleTo, to),
	}
}

// LLMUsageAttributes describes a model response.
func LLMUsageAttributes(model string, inputTokens, outputTokens int, finishReason string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int(AttrLLMTokensInput, inputTokens),
		attribute.Int(AttrLLMTokensOutput, outputTokens),
	}
	if model != "" {
		attrs = append(attrs, attribute.String(AttrLLMModel, model))
	}
	if finishReason != "" {
		attrs = append(attrs, attribute.String(AttrLLMFinishReason, finishReason))
	}
	return attrs
}

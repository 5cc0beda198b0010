// SPDX-License-Identifier: Apache-2.0
package telemetry

import (
	"context"
	stderrors "errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/skillmesh/pkg/errors"
)

const meterName = "skillmesh"

// Metrics holds the instruments shared by the tool routing layer. Every
// method is safe on a nil receiver so components can run without telemetry.
type Metrics struct {
	// errorCounter tracks errors by code and component
	errorCounter metric.Int64Counter

	// toolCalls tracks routed tool calls by source and outcome
	toolCalls metric.Int64Counter

	// collisions tracks legacy tools shadowed by skill tools
	collisions metric.Int64Counter

	// connections tracks connection events per skill (connected, closed, lost)
	connections metric.Int64Counter

	// transitions tracks accepted and rejected lifecycle transitions
	transitions metric.Int64Counter

	// iterations records how many model round trips a chat turn took
	iterations metric.Int64Histogram

	// healthStatus tracks component health (0=unhealthy, 1=degraded, 2=healthy)
	healthStatus metric.Int64Gauge
}

// NewMetrics creates the instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.errorCounter, err = meter.Int64Counter("skillmesh.errors.total",
		metric.WithDescription("Total errors by code and component")); err != nil {
		return nil, err
	}
	if m.toolCalls, err = meter.Int64Counter("skillmesh.tool.calls",
		metric.WithDescription("Routed tool calls by source and outcome")); err != nil {
		return nil, err
	}
	if m.collisions, err = meter.Int64Counter("skillmesh.tool.collisions",
		metric.WithDescription("Legacy tools shadowed by a skill tool of the same name")); err != nil {
		return nil, err
	}
	if m.connections, err = meter.Int64Counter("skillmesh.skill.connections",
		metric.WithDescription("Skill connection events by kind")); err != nil {
		return nil, err
	}
	if m.transitions, err = meter.Int64Counter("skillmesh.lifecycle.transitions",
		metric.WithDescription("Lifecycle transitions by outcome")); err != nil {
		return nil, err
	}
	if m.iterations, err = meter.Int64Histogram("skillmesh.agent.iterations",
		metric.WithDescription("Model round trips per chat turn")); err != nil {
		return nil, err
	}
	if m.healthStatus, err = meter.Int64Gauge("skillmesh.health.status",
		metric.WithDescription("Component health status (0=unhealthy, 1=degraded, 2=healthy)")); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordError increments the error counter for err's code.
func (m *Metrics) RecordError(ctx context.Context, err error, component string) {
	if m == nil || err == nil {
		return
	}
	code, recoverable := "UNKNOWN", "unknown"
	var me *errors.MeshError
	if stderrors.As(err, &me) {
		code, recoverable = string(me.Code), me.RecoverableString()
	}
	m.errorCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("error.code", code),
		attribute.String("component", component),
		attribute.String("recoverable", recoverable),
	))
}

// RecordToolCall counts a routed tool call.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, source string, isError bool) {
	if m == nil {
		return
	}
	m.toolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrToolName, tool),
		attribute.String(AttrToolSource, source),
		attribute.Bool(AttrToolSuccess, !isError),
	))
}

// RecordCollision counts a legacy tool shadowed by skillID.
func (m *Metrics) RecordCollision(ctx context.Context, tool, skillID string) {
	if m == nil {
		return
	}
	m.collisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrToolName, tool),
		attribute.String(AttrSkillID, skillID),
	))
}

// RecordConnection counts a connection event ("connected", "closed", "lost",
// "failed") for skillID.
func (m *Metrics) RecordConnection(ctx context.Context, skillID, event string) {
	if m == nil {
		return
	}
	m.connections.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrSkillID, skillID),
		attribute.String("event", event),
	))
}

// RecordTransition counts a lifecycle transition attempt.
func (m *Metrics) RecordTransition(ctx context.Context, kind, from, to string, accepted bool) {
	if m == nil {
		return
	}
	attrs := append(TransitionAttributes(kind, from, to), attribute.Bool("accepted", accepted))
	m.transitions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordIterations records the round trips of a finished chat turn.
func (m *Metrics) RecordIterations(ctx context.Context, kind string, n int, capped bool) {
	if m == nil {
		return
	}
	m.iterations.Record(ctx, int64(n), metric.WithAttributes(
		attribute.String(AttrAgentKind, kind),
		attribute.Bool("capped", capped),
	))
}

// RecordHealthStatus records the health status of a component (0=unhealthy, 1=degraded, 2=healthy).
func (m *Metrics) RecordHealthStatus(ctx context.Context, component string, status int64) {
	if m == nil {
		return
	}
	m.healthStatus.Record(ctx, status, metric.WithAttributes(
		attribute.String("component", component),
	))
}

// Copyright 2026 © The Skillmesh Authors
// SPDX-License-Identifier: Apache-2.0

// Package runtime binds a lifecycle machine, a state policy, the unified
// tool catalog and an agent loop into a running agent. Every transition of
// the machine rebuilds the loop's tool set and system prompt for the new
// state before the transition call returns.
package runtime

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jllopis/skillmesh/pkg/agent"
	"github.com/jllopis/skillmesh/pkg/core"
	"github.com/jllopis/skillmesh/pkg/errors"
	"github.com/jllopis/skillmesh/pkg/governance"
	"github.com/jllopis/skillmesh/pkg/lifecycle"
	"github.com/jllopis/skillmesh/pkg/telemetry"
	"github.com/jllopis/skillmesh/pkg/tools"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// InstructionSource renders the prompt text contributed by skills.
// *skills.Registry implements it.
type InstructionSource interface {
	Instructions(ctx context.Context) string
}

// Deps are the collaborators shared by both agent kinds.
type Deps struct {
	Loop         *agent.Loop
	Catalog      *tools.Unified
	Instructions InstructionSource
	BasePrompt   string
	Logger       *slog.Logger
	Metrics      *telemetry.Metrics
}

func (d Deps) validate() error {
	if d.Loop == nil {
		return errors.New(errors.CodeInvalidInput, "runtime requires an agent loop", nil)
	}
	if d.Catalog == nil {
		return errors.New(errors.CodeInvalidInput, "runtime requires a tool catalog", nil)
	}
	return nil
}

type stateMachine[S ~string] interface {
	State() S
	On(state S, fn lifecycle.Handler)
}

// session keeps the loop configuration in step with a machine.
type session[S ~string] struct {
	id      string
	deps    Deps
	kind    string
	machine stateMachine[S]
	policy  *governance.StatePolicy[S]
	logger  *slog.Logger
	tracer  trace.Tracer

	mu          sync.Mutex
	fingerprint uint64
	closed      atomic.Bool
}

func newSession[S ~string](kind string, deps Deps, machine stateMachine[S], policy *governance.StatePolicy[S], states []S) *session[S] {
	s := &session[S]{
		id:      "session-" + uuid.NewString(),
		deps:    deps,
		kind:    kind,
		machine: machine,
		policy:  policy,
		logger:  telemetry.Component(deps.Logger, "runtime").With(slog.String(telemetry.AttrAgentKind, kind)),
		tracer:  otel.Tracer("skillmesh/runtime"),
	}
	for _, st := range states {
		machine.On(st, func() { s.reconfigure(context.Background(), st) })
	}
	return s
}

// SessionID identifies this agent instance in logs and spans.
func (s *session[S]) SessionID() string { return s.id }

func (s *session[S]) withSession(ctx context.Context) context.Context {
	if _, ok := core.SessionID(ctx); ok {
		return ctx
	}
	return core.WithSessionID(ctx, s.id)
}

// reconfigure hands the loop the catalog entries the policy allows in state
// together with the state prompt.
func (s *session[S]) reconfigure(ctx context.Context, state S) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := s.tracer.Start(ctx, "Runtime.Reconfigure", trace.WithAttributes(
		attribute.String(telemetry.AttrAgentKind, s.kind),
		attribute.String("lifecycle.state", string(state)),
	))
	defer span.End()

	entries := s.deps.Catalog.Catalog()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Definition.Name
	}
	set := s.deps.Catalog.Subset(s.policy.Resolve(ctx, state, names))

	var instructions string
	if s.deps.Instructions != nil {
		instructions = s.deps.Instructions.Instructions(ctx)
	}
	s.deps.Loop.Reconfigure(s.policy.Prompt(state, s.deps.BasePrompt, instructions), set)

	fp := set.Fingerprint()
	span.SetAttributes(telemetry.ToolsetAttributes(set.Names())...)
	traceID, spanID := traceIDs(span)
	s.logger.InfoContext(ctx, "runtime.reconfigure",
		slog.String("state", string(state)),
		slog.Int(telemetry.AttrToolsCount, set.Len()),
		slog.Bool("changed", fp != s.fingerprint),
		slog.String("trace_id", traceID),
		slog.String("span_id", spanID),
	)
	s.fingerprint = fp
}

// Refresh rebuilds the merged catalog and reapplies the current state. A
// listing failure still reconfigures with whatever the catalog holds.
func (s *session[S]) Refresh(ctx context.Context) error {
	if err := s.errClosed(); err != nil {
		return err
	}
	err := s.deps.Catalog.Refresh(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "runtime.refresh.partial", slog.String("error", err.Error()))
		s.deps.Metrics.RecordError(ctx, err, "runtime")
	}
	s.reconfigure(ctx, s.machine.State())
	return err
}

// Tools returns the tool names the loop currently offers the model.
func (s *session[S]) Tools() []string {
	return s.deps.Loop.Tools().Names()
}

// Prompt returns the loop's current system prompt.
func (s *session[S]) Prompt() string {
	return s.deps.Loop.Prompt()
}

// Loop returns the underlying agent loop.
func (s *session[S]) Loop() *agent.Loop {
	return s.deps.Loop
}

// errClosed is UNAVAILABLE once the tool connections have been closed.
// Closing is terminal whatever state the machine was left in.
func (s *session[S]) errClosed() error {
	if !s.closed.Load() {
		return nil
	}
	return errors.New(errors.CodeUnavailable, s.kind+" agent is closed", nil).
		WithContext("state", string(s.machine.State())).
		WithRecoverable(false)
}

func (s *session[S]) close(ctx context.Context) error {
	s.closed.Store(true)
	if err := s.deps.Catalog.Shutdown(ctx); err != nil {
		s.logger.WarnContext(ctx, "runtime.close.failed", slog.String("error", err.Error()))
		return err
	}
	return nil
}

func traceIDs(span trace.Span) (string, string) {
	sc := span.SpanContext()
	return sc.TraceID().String(), sc.SpanID().String()
}

// Copyright 2026 © The Skillmesh Authors
// SPDX-License-Identifier: Apache-2.0

// Package lifecycle provides the finite state machines that gate agent
// behavior. A machine only moves along the edges of its transition table and
// notifies listeners synchronously after every successful transition.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jllopis/skillmesh/pkg/errors"
	"github.com/jllopis/skillmesh/pkg/telemetry"
)

// Handler is invoked after a transition into the state it was registered for.
type Handler func()

// Option configures a Machine.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	metrics *telemetry.Metrics
	name    string
}

// WithLogger sets the logger used for transition events.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records transitions.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithName labels the machine in logs and metrics.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// Machine is a generic state machine over a closed set of states.
type Machine[S ~string] struct {
	mu       sync.Mutex
	state    S
	edges    map[S]map[S]struct{}
	handlers map[S][]Handler
	opts     options
}

// NewMachine builds a machine starting in initial. edges maps each state to
// the states reachable from it.
func NewMachine[S ~string](initial S, edges map[S][]S, opts ...Option) *Machine[S] {
	o := options{name: "lifecycle"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = telemetry.Component(nil, "lifecycle")
	}
	table := make(map[S]map[S]struct{}, len(edges))
	for from, tos := range edges {
		set := make(map[S]struct{}, len(tos))
		for _, to := range tos {
			set[to] = struct{}{}
		}
		table[from] = set
	}
	return &Machine[S]{
		state:    initial,
		edges:    table,
		handlers: make(map[S][]Handler),
		opts:     o,
	}
}

// State returns the current state.
func (m *Machine[S]) State() S {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CanTransition reports whether to is reachable from the current state.
func (m *Machine[S]) CanTransition(to S) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allowed(m.state, to)
}

func (m *Machine[S]) allowed(from, to S) bool {
	_, ok := m.edges[from][to]
	return ok
}

// On registers fn for transitions into state. Handlers run in registration
// order.
func (m *Machine[S]) On(state S, fn Handler) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.handlers[state] = append(m.handlers[state], fn)
	m.mu.Unlock()
}

// Transition moves the machine to state to. An illegal request returns an
// ILLEGAL_TRANSITION error and leaves both state and listeners untouched.
func (m *Machine[S]) Transition(to S) error {
	return m.transition(nil, to)
}

// TransitionFrom is Transition that also requires the current state to be
// from. The check and the move happen under one lock.
func (m *Machine[S]) TransitionFrom(from, to S) error {
	return m.transition(&from, to)
}

func (m *Machine[S]) transition(want *S, to S) error {
	m.mu.Lock()
	from := m.state
	if (want != nil && from != *want) || !m.allowed(from, to) {
		m.mu.Unlock()
		err := errors.New(errors.CodeIllegalTransition,
			fmt.Sprintf("illegal transition %s -> %s", from, to), nil).
			WithContext("machine", m.opts.name).
			WithContext("from", string(from)).
			WithContext("to", string(to))
		m.opts.logger.Warn("lifecycle.transition.rejected",
			slog.String("machine", m.opts.name),
			slog.String("from", string(from)),
			slog.String("to", string(to)),
		)
		m.opts.metrics.RecordTransition(context.Background(), m.opts.name, string(from), string(to), false)
		return err
	}
	m.state = to
	handlers := append([]Handler(nil), m.handlers[to]...)
	m.mu.Unlock()

	m.opts.logger.Info("lifecycle.transition",
		slog.String("machine", m.opts.name),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
	m.opts.metrics.RecordTransition(context.Background(), m.opts.name, string(from), string(to), true)
	for _, fn := range handlers {
		fn()
	}
	return nil
}

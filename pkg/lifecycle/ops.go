// Copyright 2026 © The Skillmesh Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"fmt"

	"github.com/jllopis/skillmesh/pkg/errors"
)

// OpsState is a state of the operations agent.
type OpsState string

const (
	OpsDeploy   OpsState = "deploy"
	OpsRuntime  OpsState = "runtime"
	OpsUpdate   OpsState = "update"
	OpsShutdown OpsState = "shutdown"
)

var opsEdges = map[OpsState][]OpsState{
	OpsDeploy:  {OpsRuntime, OpsShutdown},
	OpsRuntime: {OpsUpdate, OpsShutdown},
	OpsUpdate:  {OpsRuntime, OpsShutdown},
}

// OpsStates lists every operations state.
func OpsStates() []OpsState {
	return []OpsState{OpsDeploy, OpsRuntime, OpsUpdate, OpsShutdown}
}

// ParseOpsState validates a state name, typically one carried by a tool's
// transition intent.
func ParseOpsState(s string) (OpsState, error) {
	for _, st := range OpsStates() {
		if string(st) == s {
			return st, nil
		}
	}
	return "", errors.New(errors.CodeInvalidInput, fmt.Sprintf("unknown ops state %q", s), nil)
}

// OpsMachine gates the operations agent.
type OpsMachine struct {
	*Machine[OpsState]
}

// NewOpsMachine returns a machine in the deploy state.
func NewOpsMachine(opts ...Option) *OpsMachine {
	opts = append([]Option{WithName("ops")}, opts...)
	return &OpsMachine{Machine: NewMachine(OpsDeploy, opsEdges, opts...)}
}

// CompleteDeploy moves deploy -> runtime.
func (m *OpsMachine) CompleteDeploy() error { return m.TransitionFrom(OpsDeploy, OpsRuntime) }

// BeginUpdate moves runtime -> update.
func (m *OpsMachine) BeginUpdate() error { return m.TransitionFrom(OpsRuntime, OpsUpdate) }

// CompleteUpdate moves update -> runtime.
func (m *OpsMachine) CompleteUpdate() error { return m.TransitionFrom(OpsUpdate, OpsRuntime) }

// Shutdown moves any live state -> shutdown.
func (m *OpsMachine) Shutdown() error { return m.Transition(OpsShutdown) }

// TransitionTo applies a transition named by its target state, checked
// against the edge table only.
func (m *OpsMachine) TransitionTo(state string) error {
	st, err := ParseOpsState(state)
	if err != nil {
		return err
	}
	return m.Transition(st)
}

// IsAcceptingRequests reports whether the agent still takes work.
func (m *OpsMachine) IsAcceptingRequests() bool { return m.State() != OpsShutdown }

// IsReady reports whether the agent is in steady-state runtime.
func (m *OpsMachine) IsReady() bool { return m.State() == OpsRuntime }

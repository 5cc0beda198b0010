// Copyright 2026 © The Skillmesh Authors
// SPDX-License-Identifier: Apache-2.0

package runtime

import (
	"context"
	"log/slog"

	"github.com/jllopis/skillmesh/pkg/agent"
	"github.com/jllopis/skillmesh/pkg/errors"
	"github.com/jllopis/skillmesh/pkg/governance"
	"github.com/jllopis/skillmesh/pkg/lifecycle"
)

// OpsAgent is the operations agent. Tools move it between phases by
// returning a transition intent, which the agent applies once the turn ends.
type OpsAgent struct {
	*session[lifecycle.OpsState]
	machine *lifecycle.OpsMachine
}

// NewOpsAgent wires machine to deps under policy. A nil machine starts a
// fresh one in deploy; a nil policy uses DefaultOpsPolicy.
func NewOpsAgent(deps Deps, machine *lifecycle.OpsMachine, policy *governance.StatePolicy[lifecycle.OpsState]) (*OpsAgent, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if machine == nil {
		machine = lifecycle.NewOpsMachine(lifecycle.WithLogger(deps.Logger), lifecycle.WithMetrics(deps.Metrics))
	}
	if policy == nil {
		policy = governance.DefaultOpsPolicy(nil)
	}
	a := &OpsAgent{machine: machine}
	a.session = newSession("ops", deps, machine, policy, lifecycle.OpsStates())
	a.reconfigure(context.Background(), machine.State())
	return a, nil
}

// Machine returns the lifecycle machine.
func (a *OpsAgent) Machine() *lifecycle.OpsMachine { return a.machine }

// State returns the current lifecycle state.
func (a *OpsAgent) State() lifecycle.OpsState { return a.machine.State() }

// Start refreshes the catalog. The agent begins in deploy and needs no
// transition to serve.
func (a *OpsAgent) Start(ctx context.Context) error {
	if err := a.errClosed(); err != nil {
		return err
	}
	_ = a.Refresh(ctx)
	return nil
}

// Chat runs one turn. A transition requested by a tool is applied after the
// turn; a rejected transition is returned alongside the reply, which is
// still valid. Reaching shutdown closes every tool connection.
func (a *OpsAgent) Chat(ctx context.Context, message string) (agent.Reply, error) {
	if !a.machine.IsAcceptingRequests() {
		return agent.Reply{}, errors.New(errors.CodeUnavailable, "ops agent is shut down", nil).
			WithContext("state", string(lifecycle.OpsShutdown))
	}
	reply, err := a.deps.Loop.Chat(a.withSession(ctx), message)
	if err != nil || reply.Transition == "" {
		return reply, err
	}

	from := a.machine.State()
	if err := a.machine.TransitionTo(reply.Transition); err != nil {
		a.logger.WarnContext(ctx, "runtime.transition.rejected",
			slog.String("from", string(from)),
			slog.String("to", reply.Transition),
			slog.String("error", err.Error()),
		)
		return reply, err
	}
	if a.machine.State() == lifecycle.OpsShutdown {
		if err := a.close(ctx); err != nil {
			return reply, err
		}
	}
	return reply, nil
}

// Shutdown moves the agent to shutdown and closes every tool connection.
func (a *OpsAgent) Shutdown(ctx context.Context) error {
	if a.machine.State() != lifecycle.OpsShutdown {
		if err := a.machine.Shutdown(); err != nil {
			a.logger.WarnContext(ctx, "runtime.shutdown.transition", slog.String("error", err.Error()))
		}
	}
	return a.close(ctx)
}

// IsReady reports whether the agent is in steady-state runtime.
func (a *OpsAgent) IsReady() bool { return a.machine.IsReady() }

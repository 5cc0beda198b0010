// Copyright 2026 © The Skillmesh Authors
// SPDX-License-Identifier: Apache-2.0

package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jllopis/skillmesh/pkg/agent"
	"github.com/jllopis/skillmesh/pkg/errors"
	"github.com/jllopis/skillmesh/pkg/governance"
	"github.com/jllopis/skillmesh/pkg/lifecycle"
)

// ChatAgent is the conversational agent. It only answers while active.
type ChatAgent struct {
	*session[lifecycle.ChatState]
	machine *lifecycle.ChatMachine
}

// NewChatAgent wires machine to deps under policy. A nil machine starts a
// fresh one in pending; a nil policy uses DefaultChatPolicy.
func NewChatAgent(deps Deps, machine *lifecycle.ChatMachine, policy *governance.StatePolicy[lifecycle.ChatState]) (*ChatAgent, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if machine == nil {
		machine = lifecycle.NewChatMachine(lifecycle.WithLogger(deps.Logger), lifecycle.WithMetrics(deps.Metrics))
	}
	if policy == nil {
		policy = governance.DefaultChatPolicy(nil)
	}
	a := &ChatAgent{machine: machine}
	a.session = newSession("chat", deps, machine, policy, lifecycle.ChatStates())
	a.reconfigure(context.Background(), machine.State())
	return a, nil
}

// Machine returns the lifecycle machine.
func (a *ChatAgent) Machine() *lifecycle.ChatMachine { return a.machine }

// State returns the current lifecycle state.
func (a *ChatAgent) State() lifecycle.ChatState { return a.machine.State() }

// Start refreshes the catalog and activates the agent. A partial catalog
// does not prevent activation; a closed agent cannot be started.
func (a *ChatAgent) Start(ctx context.Context) error {
	if err := a.errClosed(); err != nil {
		return err
	}
	_ = a.Refresh(ctx)
	return a.machine.Activate()
}

// Chat answers message. Requests outside the active state are rejected
// without reaching the model.
func (a *ChatAgent) Chat(ctx context.Context, message string) (agent.Reply, error) {
	if err := a.errClosed(); err != nil {
		return agent.Reply{}, err
	}
	if !a.machine.IsAcceptingRequests() {
		st := a.machine.State()
		return agent.Reply{}, errors.New(errors.CodeUnavailable,
			fmt.Sprintf("chat agent is %s and not accepting requests", st), nil).
			WithContext("state", string(st)).
			WithRecoverable(st == lifecycle.ChatPending)
	}
	return a.deps.Loop.Chat(a.withSession(ctx), message)
}

// Drain stops accepting new requests while leaving read-only tools in place.
func (a *ChatAgent) Drain() error { return a.machine.Drain() }

// Shutdown moves the agent to shutdown and closes every tool connection.
// From pending the transition is illegal and only logged; the connections
// are still closed and the agent can no longer be started. Calling it again
// only repeats the close.
func (a *ChatAgent) Shutdown(ctx context.Context) error {
	if a.machine.State() != lifecycle.ChatShutdown {
		if err := a.machine.Shutdown(); err != nil {
			a.logger.WarnContext(ctx, "runtime.shutdown.transition", slog.String("error", err.Error()))
		}
	}
	return a.close(ctx)
}

// IsReady reports whether the agent serves traffic.
func (a *ChatAgent) IsReady() bool { return a.machine.IsReady() }

// Copyright 2026 © The Skillmesh Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

// ChatState is a state of the conversational agent.
type ChatState string

const (
	ChatPending  ChatState = "pending"
	ChatActive   ChatState = "active"
	ChatDraining ChatState = "draining"
	ChatShutdown ChatState = "shutdown"
)

var chatEdges = map[ChatState][]ChatState{
	ChatPending:  {ChatActive},
	ChatActive:   {ChatDraining, ChatShutdown},
	ChatDraining: {ChatShutdown},
}

// ChatStates lists every conversational state.
func ChatStates() []ChatState {
	return []ChatState{ChatPending, ChatActive, ChatDraining, ChatShutdown}
}

// ChatMachine gates the conversational agent.
type ChatMachine struct {
	*Machine[ChatState]
}

// NewChatMachine returns a machine in the pending state.
func NewChatMachine(opts ...Option) *ChatMachine {
	opts = append([]Option{WithName("chat")}, opts...)
	return &ChatMachine{Machine: NewMachine(ChatPending, chatEdges, opts...)}
}

// Activate moves pending -> active.
func (m *ChatMachine) Activate() error { return m.Transition(ChatActive) }

// Drain moves active -> draining.
func (m *ChatMachine) Drain() error { return m.Transition(ChatDraining) }

// Shutdown moves active or draining -> shutdown.
func (m *ChatMachine) Shutdown() error { return m.Transition(ChatShutdown) }

// IsAcceptingRequests reports whether new conversations are accepted.
func (m *ChatMachine) IsAcceptingRequests() bool { return m.State() == ChatActive }

// IsReady reports readiness for traffic.
func (m *ChatMachine) IsReady() bool { return m.State() == ChatActive }

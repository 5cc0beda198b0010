// Copyright 2026 © The Skillmesh Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/jllopis/skillmesh/pkg/core"
	"github.com/jllopis/skillmesh/pkg/errors"
	"github.com/jllopis/skillmesh/pkg/telemetry"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

// TransportKind selects how a skill connection is established.
type TransportKind string

const (
	TransportStdio          TransportKind = "stdio"
	TransportStreamableHTTP TransportKind = "streamable-http"
	TransportSSE            TransportKind = "sse"
)

// Conn is a live, initialized connection to one tool server.
type Conn interface {
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
	OnConnectionLost(fn func(error))
	Close() error
}

// Dialer opens connections. The default dialer uses mcp-go transports.
type Dialer interface {
	DialStdio(ctx context.Context, command string, args []string, env map[string]string) (Conn, error)
	DialHTTP(ctx context.Context, url string, kind TransportKind, headers map[string]string) (Conn, error)
}

type defaultDialer struct {
	opts []ClientOption
}

func (d defaultDialer) DialStdio(ctx context.Context, command string, args []string, env map[string]string) (Conn, error) {
	return DialStdio(ctx, command, args, env, d.opts...)
}

func (d defaultDialer) DialHTTP(ctx context.Context, url string, kind TransportKind, headers map[string]string) (Conn, error) {
	switch kind {
	case TransportSSE:
		return DialSSE(ctx, url, headers, d.opts...)
	case TransportStreamableHTTP, "":
		return DialStreamableHTTP(ctx, url, headers, d.opts...)
	default:
		return nil, fmt.Errorf("unsupported http transport %q", kind)
	}
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithDialer replaces the transport dialer.
func WithDialer(d Dialer) ManagerOption {
	return func(m *Manager) {
		if d != nil {
			m.dialer = d
		}
	}
}

// WithClientOptions sets options for connections opened by the default dialer.
func WithClientOptions(opts ...ClientOption) ManagerOption {
	return func(m *Manager) {
		if _, ok := m.dialer.(defaultDialer); ok {
			m.dialer = defaultDialer{opts: opts}
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics records connection events.
func WithMetrics(metrics *telemetry.Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

type handle struct {
	conn Conn
	kind TransportKind
	gen  uint64
}

// Manager owns at most one live connection per skill id. All mutation of the
// index goes through its methods; I/O happens outside the lock.
type Manager struct {
	dialer  Dialer
	logger  *slog.Logger
	metrics *telemetry.Metrics

	mu    sync.Mutex
	conns map[string]*handle
	gen   uint64
}

// NewManager creates an empty connection manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		dialer: defaultDialer{},
		conns:  make(map[string]*handle),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = telemetry.Component(nil, "mcp")
	}
	return m
}

// ConnectStdio spawns a stdio tool server for skillID, replacing any
// existing connection for it.
func (m *Manager) ConnectStdio(ctx context.Context, skillID, command string, args []string, env map[string]string) error {
	if command == "" {
		return errors.New(errors.CodeInvalidInput, "stdio command is required", nil).WithContext("skill_id", skillID)
	}
	m.Close(skillID)
	conn, err := m.dialer.DialStdio(ctx, command, args, env)
	if err != nil {
		return m.connectFailed(ctx, skillID, TransportStdio, err)
	}
	m.register(ctx, skillID, TransportStdio, conn)
	return nil
}

// ConnectHTTP connects skillID to an HTTP tool server. An empty kind selects
// the streamable HTTP transport.
func (m *Manager) ConnectHTTP(ctx context.Context, skillID, url string, kind TransportKind, headers map[string]string) error {
	if url == "" {
		return errors.New(errors.CodeInvalidInput, "url is required", nil).WithContext("skill_id", skillID)
	}
	if kind == "" {
		kind = TransportStreamableHTTP
	}
	m.Close(skillID)
	conn, err := m.dialer.DialHTTP(ctx, url, kind, headers)
	if err != nil {
		return m.connectFailed(ctx, skillID, kind, err)
	}
	m.register(ctx, skillID, kind, conn)
	return nil
}

func (m *Manager) connectFailed(ctx context.Context, skillID string, kind TransportKind, err error) error {
	m.metrics.RecordConnection(ctx, skillID, "failed")
	m.logger.WarnContext(ctx, "mcp.connect.failed",
		slog.String("skill_id", skillID),
		slog.String("transport", string(kind)),
		slog.String("error", err.Error()),
	)
	cerr := errors.New(errors.CodeConnection, "connect "+skillID, err).
		WithContext("skill_id", skillID).
		WithAttribute(telemetry.AttrSkillTransport, string(kind))
	m.metrics.RecordError(ctx, cerr, "mcp")
	return cerr
}

func (m *Manager) register(ctx context.Context, skillID string, kind TransportKind, conn Conn) {
	m.mu.Lock()
	m.gen++
	h := &handle{conn: conn, kind: kind, gen: m.gen}
	prev := m.conns[skillID]
	m.conns[skillID] = h
	m.mu.Unlock()

	conn.OnConnectionLost(func(err error) {
		m.drop(skillID, h.gen, "lost", err)
	})

	// A concurrent connect for the same skill slipped in between Close and
	// register. Callers must serialize per skill; this only avoids a leak.
	if prev != nil {
		m.closeConn(ctx, skillID, prev.conn)
	}
	m.metrics.RecordConnection(ctx, skillID, "connected")
	m.logger.InfoContext(ctx, "mcp.connect",
		slog.String("skill_id", skillID),
		slog.String("transport", string(kind)),
	)
}

// drop removes the handle for skillID if it is still generation gen. The
// underlying connection is closed in the background.
func (m *Manager) drop(skillID string, gen uint64, reason string, cause error) {
	m.mu.Lock()
	h, ok := m.conns[skillID]
	if !ok || h.gen != gen {
		m.mu.Unlock()
		return
	}
	delete(m.conns, skillID)
	m.mu.Unlock()

	attrs := []any{slog.String("skill_id", skillID), slog.String("reason", reason)}
	if cause != nil {
		attrs = append(attrs, slog.String("error", cause.Error()))
	}
	m.logger.Warn("mcp.connection.dropped", attrs...)
	m.metrics.RecordConnection(context.Background(), skillID, reason)
	go func() { _ = h.conn.Close() }()
}

func (m *Manager) lookup(skillID string) (*handle, error) {
	m.mu.Lock()
	h, ok := m.conns[skillID]
	m.mu.Unlock()
	if !ok {
		return nil, errors.New(errors.CodeNotConnected, "skill not connected: "+skillID, nil).
			WithContext("skill_id", skillID).
			WithRecoverable(true)
	}
	return h, nil
}

// ListTools lists the tools served for skillID. A transport failure drops
// the connection.
func (m *Manager) ListTools(ctx context.Context, skillID string) ([]core.ToolDefinition, error) {
	h, err := m.lookup(skillID)
	if err != nil {
		return nil, err
	}
	tools, err := h.conn.ListTools(ctx)
	if err != nil {
		return nil, m.transportFailed(ctx, skillID, h, "list tools", err)
	}
	return ToolDefinitions(tools), nil
}

// CallTool invokes name on skillID. Tool-level failures come back as a
// result with IsError set. Error replies and timeouts are returned as errors;
// a transport failure also drops the connection.
func (m *Manager) CallTool(ctx context.Context, skillID, name string, input map[string]any) (core.ToolResult, error) {
	h, err := m.lookup(skillID)
	if err != nil {
		return core.ToolResult{}, err
	}
	if input == nil {
		input = map[string]any{}
	}
	res, err := h.conn.CallTool(ctx, name, input)
	if err != nil {
		return core.ToolResult{}, m.transportFailed(ctx, skillID, h, "call "+name, err)
	}
	return ToolResult(res)
}

// transportFailed drops the handle when err shows the connection itself is
// unusable. Error replies from the server and request timeouts leave it in
// place.
func (m *Manager) transportFailed(ctx context.Context, skillID string, h *handle, op string, err error) error {
	broken := ctx.Err() == nil && connectionBroken(err)
	if broken {
		m.drop(skillID, h.gen, "error", err)
	}
	terr := errors.New(errors.CodeToolFailure, fmt.Sprintf("%s on %s", op, skillID), err).
		WithContext("skill_id", skillID).
		WithRecoverable(!broken)
	m.metrics.RecordError(ctx, terr, "mcp")
	return terr
}

// connectionBroken reports whether err came from the transport rather than
// from a JSON-RPC error response.
func connectionBroken(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return false
	}
	var terr *transport.Error
	return stderrors.As(err, &terr)
}

// IsConnected reports whether skillID has a live handle.
func (m *Manager) IsConnected(skillID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.conns[skillID]
	return ok
}

// Connected returns the sorted ids of every live handle.
func (m *Manager) Connected() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Close removes and closes the handle for skillID. Absent ids are ignored.
// A failing close is logged; the entry is removed regardless.
func (m *Manager) Close(skillID string) {
	m.mu.Lock()
	h, ok := m.conns[skillID]
	delete(m.conns, skillID)
	m.mu.Unlock()
	if !ok {
		return
	}
	m.closeConn(context.Background(), skillID, h.conn)
}

func (m *Manager) closeConn(ctx context.Context, skillID string, conn Conn) error {
	m.metrics.RecordConnection(ctx, skillID, "closed")
	if err := conn.Close(); err != nil {
		m.logger.WarnContext(ctx, "mcp.close.failed",
			slog.String("skill_id", skillID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("close %s: %w", skillID, err)
	}
	return nil
}

// CloseAll closes every handle. Failures are isolated per skill and joined.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[string]*handle)
	m.mu.Unlock()

	ids := make([]string, 0, len(conns))
	for id := range conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var errs []error
	for _, id := range ids {
		if err := m.closeConn(context.Background(), id, conns[id].conn); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

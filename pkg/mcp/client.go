// Package mcp connects skillmesh to Model Context Protocol tool servers over
// stdio, streamable HTTP and SSE, and keeps one connection per skill.
package mcp

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultInitTimeout = 10 * time.Second
	defaultBackoff     = 200 * time.Millisecond
	defaultCacheTTL    = 30 * time.Second

	clientName    = "skillmesh"
	clientVersion = "0.1.0"
)

// ClientOption customizes the MCP client wrapper behavior.
type ClientOption func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithListRetry configures how often ListTools is retried. Tool calls are
// never retried since they may have side effects.
func WithListRetry(retries int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		if retries >= 0 {
			c.listRetries = retries
		}
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

// WithToolCacheTTL sets the tool discovery cache TTL. Use 0 to disable caching.
func WithToolCacheTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		if ttl >= 0 {
			c.cacheTTL = ttl
		}
	}
}

// WithProtocolVersion overrides the protocol version sent on initialize.
func WithProtocolVersion(version string) ClientOption {
	return func(c *Client) {
		if version != "" {
			c.protocolVersion = version
		}
	}
}

// Client wraps an mcp-go client with timeouts and a tool list cache.
type Client struct {
	mcpClient       client.MCPClient
	timeout         time.Duration
	listRetries     int
	backoff         time.Duration
	cacheTTL        time.Duration
	protocolVersion string

	mu          sync.Mutex
	toolsCache  []mcp.Tool
	cacheExpiry time.Time
}

// NewClient creates a new Client with the given MCP client implementation.
// The underlying client must already be initialized.
func NewClient(c client.MCPClient, opts ...ClientOption) *Client {
	cl := &Client{
		mcpClient:       c,
		timeout:         defaultTimeout,
		backoff:         defaultBackoff,
		cacheTTL:        defaultCacheTTL,
		protocolVersion: mcp.LATEST_PROTOCOL_VERSION,
	}
	for _, opt := range opts {
		opt(cl)
	}
	return cl
}

// DialStdio spawns command and performs the MCP handshake over its stdio.
func DialStdio(ctx context.Context, command string, args []string, env map[string]string, opts ...ClientOption) (*Client, error) {
	stdioClient, err := client.NewStdioMCPClient(command, envList(env), args...)
	if err != nil {
		return nil, err
	}
	return start(ctx, stdioClient, opts)
}

// DialStreamableHTTP connects to a server speaking the streamable HTTP transport.
func DialStreamableHTTP(ctx context.Context, url string, headers map[string]string, opts ...ClientOption) (*Client, error) {
	var topts []transport.StreamableHTTPCOption
	if len(headers) > 0 {
		topts = append(topts, transport.WithHTTPHeaders(headers))
	}
	httpClient, err := client.NewStreamableHttpClient(url, topts...)
	if err != nil {
		return nil, err
	}
	return start(ctx, httpClient, opts)
}

// DialSSE connects to a server speaking the legacy HTTP+SSE transport.
func DialSSE(ctx context.Context, url string, headers map[string]string, opts ...ClientOption) (*Client, error) {
	var topts []transport.ClientOption
	if len(headers) > 0 {
		topts = append(topts, transport.WithHeaders(headers))
	}
	sseClient, err := client.NewSSEMCPClient(url, topts...)
	if err != nil {
		return nil, err
	}
	return start(ctx, sseClient, opts)
}

func start(ctx context.Context, mc *client.Client, opts []ClientOption) (*Client, error) {
	c := NewClient(mc, opts...)
	if err := mc.Start(ctx); err != nil {
		_ = mc.Close()
		return nil, fmt.Errorf("start transport: %w", err)
	}

	initCtx, cancel := context.WithTimeout(ctx, defaultInitTimeout)
	defer cancel()

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = c.protocolVersion
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    clientName,
		Version: clientVersion,
	}
	if _, err := mc.Initialize(initCtx, initRequest); err != nil {
		_ = mc.Close()
		return nil, fmt.Errorf("initialize: %w", err)
	}
	return c, nil
}

// OnConnectionLost registers fn to run when the transport reports the
// connection is gone. Transports without that notion ignore it.
func (c *Client) OnConnectionLost(fn func(error)) {
	if mc, ok := c.mcpClient.(*client.Client); ok {
		mc.OnConnectionLost(fn)
	}
}

// ListTools retrieves the list of tools available on the server.
func (c *Client) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	if cached := c.cachedTools(); cached != nil {
		return cached, nil
	}
	resp, err := c.listToolsWithRetry(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	c.storeTools(resp.Tools)
	return resp.Tools, nil
}

// CallTool executes a tool on the server.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	reqCtx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.mcpClient.CallTool(reqCtx, req)
}

// Close closes the client connection.
func (c *Client) Close() error {
	return c.mcpClient.Close()
}

func (c *Client) cachedTools() []mcp.Tool {
	if c.cacheTTL == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.toolsCache) == 0 || time.Now().After(c.cacheExpiry) {
		return nil
	}
	out := make([]mcp.Tool, len(c.toolsCache))
	copy(out, c.toolsCache)
	return out
}

func (c *Client) storeTools(tools []mcp.Tool) {
	if c.cacheTTL == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toolsCache = make([]mcp.Tool, len(tools))
	copy(c.toolsCache, tools)
	c.cacheExpiry = time.Now().Add(c.cacheTTL)
}

func (c *Client) listToolsWithRetry(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	var lastErr error
	attempts := c.listRetries + 1
	for i := 0; i < attempts; i++ {
		reqCtx, cancel := c.withTimeout(ctx)
		res, err := c.mcpClient.ListTools(reqCtx, req)
		cancel()
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		if err := c.sleepBackoff(ctx, i); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) sleepBackoff(ctx context.Context, attempt int) error {
	wait := c.backoff * time.Duration(1<<attempt)
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// envList renders env as sorted KEY=VALUE pairs.
func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

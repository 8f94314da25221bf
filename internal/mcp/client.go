package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/wren-agent/wren/internal/buildinfo"
)

// protocolVersion is the MCP protocol version we advertise during initialization.
const protocolVersion = "2024-11-05"

// Tool is an MCP tool as returned by tools/list. Immutable once discovered.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// Resource is an MCP resource as returned by resources/list.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ContentBlock is a single content item in a tools/call response.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// callToolResult is the result payload of a tools/call response.
type callToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// toolsListResult is the result payload of a tools/list response.
type toolsListResult struct {
	Tools []Tool `json:"tools"`
}

// resourcesListResult is the result payload of a resources/list response.
type resourcesListResult struct {
	Resources []Resource `json:"resources"`
}

// resourceContents is one entry in a resources/read response.
type resourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
}

// readResourceResult is the result payload of a resources/read response.
type readResourceResult struct {
	Contents []resourceContents `json:"contents"`
}

// serverInfo is returned in the initialize response.
type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// initializeResult is the initialize response result.
type initializeResult struct {
	ProtocolVersion string     `json:"protocolVersion"`
	ServerInfo      serverInfo `json:"serverInfo"`
}

// State is the connection lifecycle state of a Client.
type State int

// Connection states, in the order a healthy connection passes through
// them. Any failure before StateReady moves the client to StateFailed.
const (
	StateDisconnected State = iota
	StateConnecting
	StateInitialized
	StateDiscovering
	StateReady
	StateFailed
)

// String returns the lowercase state name for logging.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateInitialized:
		return "initialized"
	case StateDiscovering:
		return "discovering"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Client is the MCP protocol driver for a single server connection. It
// owns the transport, issues requests with strictly increasing ids, and
// maintains catalogs of the tools and resources the server exposes.
//
// The catalogs are upsert-only: a discovery refresh adds or overwrites
// entries returned by the server but never removes entries absent from
// the new response. Request ids are never reused for the lifetime of a
// Client instance, even across Disconnect/Connect cycles.
type Client struct {
	name      string
	transport Transport
	logger    *slog.Logger
	nextID    atomic.Int64

	mu         sync.RWMutex
	state      State
	serverName string
	serverVer  string
	tools      map[string]Tool
	resources  map[string]Resource
}

// NewClient creates an MCP client for the given server. The transport
// determines how messages are delivered.
func NewClient(name string, transport Transport, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		name:      name,
		transport: transport,
		logger:    logger.With("mcp_server", name),
		tools:     make(map[string]Tool),
		resources: make(map[string]Resource),
	}
}

// Name returns the server name this client is connected to.
func (c *Client) Name() string {
	return c.name
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Connect starts the transport, performs the MCP handshake, and
// discovers the server's tools and resources. Either discovery step
// failing is logged and tolerated — a server may expose only one
// capability class — and the connection still reaches StateReady.
// Handshake or spawn failures move the client to StateFailed and
// return a ConnectionError.
func (c *Client) Connect(ctx context.Context) error {
	c.setState(StateConnecting)

	if err := c.transport.Start(ctx); err != nil {
		c.setState(StateFailed)
		return err
	}

	if err := c.initialize(ctx); err != nil {
		c.setState(StateFailed)
		return err
	}
	c.setState(StateInitialized)

	c.setState(StateDiscovering)
	if err := c.RefreshTools(ctx); err != nil {
		c.logger.Warn("tool discovery failed", "error", err)
	}
	if err := c.RefreshResources(ctx); err != nil {
		c.logger.Warn("resource discovery failed", "error", err)
	}
	c.setState(StateReady)

	c.mu.RLock()
	toolCount, resourceCount := len(c.tools), len(c.resources)
	c.mu.RUnlock()
	c.logger.Info("connected to MCP server",
		"tools", toolCount,
		"resources", resourceCount,
	)
	return nil
}

// initialize performs the MCP handshake: sends an initialize request
// and then the notifications/initialized notification.
func (c *Client) initialize(ctx context.Context) error {
	params := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]any{
			"tools":     map[string]any{},
			"resources": map[string]any{},
		},
		"clientInfo": map[string]any{
			"name":    "wren",
			"version": buildinfo.Version,
		},
	}

	resp, err := c.send(ctx, "initialize", params)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return connError("initialize", resp.Error)
	}

	var result initializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return connError("initialize", fmt.Errorf("unmarshal result: %w", err))
	}

	c.mu.Lock()
	c.serverName = result.ServerInfo.Name
	c.serverVer = result.ServerInfo.Version
	c.mu.Unlock()

	c.logger.Info("MCP server initialized",
		"server_name", result.ServerInfo.Name,
		"server_version", result.ServerInfo.Version,
		"protocol_version", result.ProtocolVersion,
	)

	// Complete the handshake.
	if err := c.transport.Notify(ctx, NewNotification("notifications/initialized", nil)); err != nil {
		return err
	}

	return nil
}

// RefreshTools calls tools/list and upserts the results into the tool
// catalog. Entries absent from the new response are retained.
func (c *Client) RefreshTools(ctx context.Context) error {
	resp, err := c.send(ctx, "tools/list", nil)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return connError("tools/list", resp.Error)
	}

	var result toolsListResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return connError("tools/list", fmt.Errorf("unmarshal result: %w", err))
	}

	c.mu.Lock()
	for _, t := range result.Tools {
		c.tools[t.Name] = t
	}
	c.mu.Unlock()

	c.logger.Info("discovered MCP tools", "count", len(result.Tools))
	return nil
}

// RefreshResources calls resources/list and upserts the results into
// the resource catalog. Entries absent from the new response are retained.
func (c *Client) RefreshResources(ctx context.Context) error {
	resp, err := c.send(ctx, "resources/list", nil)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return connError("resources/list", resp.Error)
	}

	var result resourcesListResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return connError("resources/list", fmt.Errorf("unmarshal result: %w", err))
	}

	c.mu.Lock()
	for _, r := range result.Resources {
		c.resources[r.URI] = r
	}
	c.mu.Unlock()

	c.logger.Info("discovered MCP resources", "count", len(result.Resources))
	return nil
}

// Tools returns the discovered tools sorted by name.
func (c *Client) Tools() []Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Tool, 0, len(c.tools))
	for _, t := range c.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Tool looks up a discovered tool by name.
func (c *Client) Tool(name string) (Tool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tools[name]
	return t, ok
}

// Resources returns the discovered resources sorted by URI.
func (c *Client) Resources() []Resource {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Resource, 0, len(c.resources))
	for _, r := range c.resources {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

// CallTool invokes a tool by name with the given arguments. A name
// absent from the catalog fails immediately with a ToolError — no
// request reaches the wire. Arguments are validated against the tool's
// input schema before sending. The result is the joined text of the
// response content blocks; non-text blocks are described inline
// (e.g., "[image]").
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	tool, ok := c.Tool(name)
	if !ok {
		return "", toolError(name, fmt.Errorf("tool not found"))
	}

	if err := validateArgs(tool, args); err != nil {
		return "", toolError(name, err)
	}

	if args == nil {
		args = map[string]any{}
	}
	params := map[string]any{
		"name":      name,
		"arguments": args,
	}

	resp, err := c.send(ctx, "tools/call", params)
	if err != nil {
		return "", err
	}
	if resp.Error != nil {
		// Errors from tools/call are scoped to the invocation, not
		// the connection.
		return "", toolError(name, resp.Error)
	}

	var result callToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return "", toolError(name, fmt.Errorf("unmarshal result: %w", err))
	}

	text := extractText(result.Content)

	if result.IsError {
		return "", toolError(name, fmt.Errorf("server reported: %s", text))
	}

	return text, nil
}

// ReadResource reads a resource by URI and returns the first content
// entry's text, or the empty string if the server returned no contents.
func (c *Client) ReadResource(ctx context.Context, uri string) (string, error) {
	resp, err := c.send(ctx, "resources/read", map[string]any{"uri": uri})
	if err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", toolError(uri, resp.Error)
	}

	var result readResourceResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return "", toolError(uri, fmt.Errorf("unmarshal result: %w", err))
	}

	if len(result.Contents) == 0 {
		return "", nil
	}
	return result.Contents[0].Text, nil
}

// Ping checks whether the MCP server is responsive.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.send(ctx, "ping", nil)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return connError("ping", resp.Error)
	}
	return nil
}

// Disconnect terminates the transport. The tool and resource catalogs
// are retained so callers can still inspect what was discovered.
// Disconnecting an already-disconnected client is a no-op.
func (c *Client) Disconnect() {
	if err := c.transport.Close(); err != nil {
		// Exit status of a subprocess that already quit is not
		// actionable here.
		c.logger.Debug("transport close", "error", err)
	}
	c.setState(StateDisconnected)
}

// send issues a JSON-RPC request with the next id. Transport failures
// are ConnectionErrors; JSON-RPC error payloads are left in the
// response for the caller to classify by operation.
func (c *Client) send(ctx context.Context, method string, params any) (*Response, error) {
	id := c.nextID.Add(1)
	req := NewRequest(id, method, params)

	resp, err := c.transport.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// extractText joins all text content blocks into a single string.
// Non-text blocks are represented as inline markers.
func extractText(blocks []ContentBlock) string {
	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			parts = append(parts, b.Text)
		case "image":
			parts = append(parts, "[image]")
		case "resource":
			parts = append(parts, "[resource]")
		default:
			parts = append(parts, fmt.Sprintf("[%s]", b.Type))
		}
	}
	return strings.Join(parts, "\n")
}

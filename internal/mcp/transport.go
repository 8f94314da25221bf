package mcp

import "context"

// Transport is the interface for MCP server communication.
// Implementations handle the details of sending JSON-RPC requests and
// receiving responses over a specific medium (stdio today).
type Transport interface {
	// Start establishes the transport. For stdio transports this
	// spawns the server subprocess. Calling Start on a running
	// transport is a no-op.
	Start(ctx context.Context) error

	// Send sends a JSON-RPC request and returns the matching response.
	// The transport handles framing, encoding, and id correlation.
	// Only one request may be in flight at a time.
	Send(ctx context.Context, req *Request) (*Response, error)

	// Notify sends a JSON-RPC notification (no response expected).
	Notify(ctx context.Context, notif *Notification) error

	// Close shuts down the transport and releases resources.
	// For stdio transports this terminates the subprocess. Idempotent.
	Close() error
}

package mcp

import "fmt"

// ConnectionError indicates a failure of the connection itself: the
// subprocess could not be spawned, a pipe read or write failed, the
// server closed its stream, emitted a malformed line, answered with a
// mismatched request id, or rejected the handshake. Once a
// ConnectionError surfaces the connection is not usable; callers should
// create a fresh client rather than retrying on the same one.
type ConnectionError struct {
	Op  string // operation that failed ("spawn", "initialize", "tools/call", ...)
	Err error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("mcp connection error during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ConnectionError) Unwrap() error { return e.Err }

// ToolError indicates a failure scoped to one tool invocation or
// resource read: the tool name is not in the registry, the arguments
// failed schema validation, or the server answered tools/call or
// resources/read with an error. The connection remains usable.
type ToolError struct {
	Name string // tool name or resource URI
	Err  error
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	return fmt.Sprintf("mcp tool error for %q: %v", e.Name, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ToolError) Unwrap() error { return e.Err }

func connError(op string, err error) *ConnectionError {
	return &ConnectionError{Op: op, Err: err}
}

func toolError(name string, err error) *ToolError {
	return &ToolError{Name: name, Err: err}
}

// Package llm provides the language-model provider contract and the
// vendor implementations behind it.
package llm

import (
	"context"

	"github.com/wren-agent/wren/internal/mcp"
)

// Provider is the interface every language-model vendor integration
// implements. Vendor-specific wire formats (how tools and histories are
// serialized for a particular API) are entirely the provider's concern.
type Provider interface {
	// GenerateResponse produces the assistant's text for the given
	// conversation. Tools may be passed for context; the provider is
	// not expected to call one.
	GenerateResponse(ctx context.Context, messages []Message, tools []mcp.Tool) (string, error)

	// GenerateToolCall asks the model whether a tool should be
	// invoked for the conversation so far. It returns nil when the
	// model chooses not to call a tool.
	GenerateToolCall(ctx context.Context, messages []Message, tools []mcp.Tool) (*ToolCall, error)
}

// Package agent implements the conversation loop that coordinates the
// language-model provider and the MCP protocol driver.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/wren-agent/wren/internal/llm"
	"github.com/wren-agent/wren/internal/mcp"
)

// Session is the slice of the MCP client the agent needs. *mcp.Client
// satisfies it.
type Session interface {
	State() mcp.State
	Tools() []mcp.Tool
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
	Disconnect()
}

// Transcript mirrors appended turns to persistent storage.
// *memory.Store satisfies it.
type Transcript interface {
	AppendTurn(sessionID, role, content string) error
}

// Phase is where a ProcessMessage call currently is in its turn.
type Phase int

// Turn phases. Each ProcessMessage call moves Idle →
// AwaitingToolDecision → {ToolExecuting → AwaitingFinalResponse |
// DirectResponse} → Idle.
const (
	PhaseIdle Phase = iota
	PhaseAwaitingToolDecision
	PhaseToolExecuting
	PhaseAwaitingFinalResponse
	PhaseDirectResponse
)

// String returns the phase name for logging.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingToolDecision:
		return "awaiting_tool_decision"
	case PhaseToolExecuting:
		return "tool_executing"
	case PhaseAwaitingFinalResponse:
		return "awaiting_final_response"
	case PhaseDirectResponse:
		return "direct_response"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Options configures an Agent.
type Options struct {
	// Provider generates responses and tool-call decisions. Required.
	Provider llm.Provider

	// Session is the MCP connection used for tool invocations. Required.
	Session Session

	// Logger for structured logging. Uses slog.Default() if nil.
	Logger *slog.Logger

	// Transcript, when non-nil, receives a copy of every appended
	// turn. Storage failures are logged and never fail the turn.
	Transcript Transcript

	// SessionID names the conversation in the transcript store.
	// Defaults to "default".
	SessionID string

	// CallTimeout bounds each provider call and each tool invocation.
	// Zero means 120 seconds.
	CallTimeout time.Duration
}

// Agent owns one conversation. The history is an append-only ordered
// log; turns are never mutated or reordered after append. Exactly one
// assistant turn is appended per ProcessMessage call, and at most one
// tool call occurs per call — a deliberate simplicity bound. Calls are
// expected to be sequential; the mutex makes concurrent misuse
// serialize instead of interleaving turns.
type Agent struct {
	provider    llm.Provider
	session     Session
	logger      *slog.Logger
	transcript  Transcript
	sessionID   string
	callTimeout time.Duration

	mu      sync.Mutex
	history []llm.Message
	phase   Phase
	started bool
}

// New creates an agent from opts.
func New(opts Options) *Agent {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = "default"
	}
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Agent{
		provider:    opts.Provider,
		session:     opts.Session,
		logger:      logger,
		transcript:  opts.Transcript,
		sessionID:   sessionID,
		callTimeout: timeout,
	}
}

// Start seeds the conversation. The MCP session must already be Ready;
// connection setup failures belong to the caller, not the agent.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return fmt.Errorf("agent already started")
	}
	if state := a.session.State(); state != mcp.StateReady {
		return fmt.Errorf("mcp session is %s, want ready", state)
	}

	a.appendTurn("system", systemPrompt(a.session.Tools()))
	a.started = true

	a.logger.Info("agent started",
		"session", a.sessionID,
		"tools", len(a.session.Tools()),
	)
	return nil
}

// systemPrompt lists every discovered tool as "name: description" so
// the model knows what it can ask for.
func systemPrompt(tools []mcp.Tool) string {
	var b strings.Builder
	b.WriteString("You are an AI assistant with access to the following tools via MCP:\n\n")

	if len(tools) == 0 {
		b.WriteString("No tools available.\n")
	} else {
		for _, t := range tools {
			fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
		}
	}

	b.WriteString("\nYou can use these tools to help the user accomplish their tasks. " +
		"When you need to use a tool, it will be called for you and the results provided.")
	return b.String()
}

// ProcessMessage runs one user turn: ask the provider whether a tool
// should be called, invoke it at most once, and produce the final
// assistant text. A failed tool invocation becomes a formatted error
// string as the final text — no retry, no alternate tool.
func (a *Agent) ProcessMessage(ctx context.Context, text string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return "", fmt.Errorf("agent not started")
	}

	a.appendTurn("user", text)

	a.phase = PhaseAwaitingToolDecision
	defer func() { a.phase = PhaseIdle }()

	tools := a.session.Tools()
	toolCall, err := callWithTimeout(ctx, a.callTimeout, func(ctx context.Context) (*llm.ToolCall, error) {
		return a.provider.GenerateToolCall(ctx, a.historyCopy(), tools)
	})
	if err != nil {
		return "", fmt.Errorf("tool decision: %w", err)
	}

	var final string
	if toolCall != nil {
		final, err = a.executeTool(ctx, toolCall)
	} else {
		a.phase = PhaseDirectResponse
		final, err = callWithTimeout(ctx, a.callTimeout, func(ctx context.Context) (string, error) {
			return a.provider.GenerateResponse(ctx, a.historyCopy(), nil)
		})
	}
	if err != nil {
		return "", err
	}

	a.appendTurn("assistant", final)
	return final, nil
}

// executeTool invokes the requested tool and folds the outcome into
// the history. Caller must hold a.mu.
func (a *Agent) executeTool(ctx context.Context, call *llm.ToolCall) (string, error) {
	a.phase = PhaseToolExecuting
	a.logger.Info("invoking tool",
		"tool", call.Name,
		"session", a.sessionID,
	)

	result, err := callWithTimeout(ctx, a.callTimeout, func(ctx context.Context) (string, error) {
		return a.session.CallTool(ctx, call.Name, call.Arguments)
	})
	if err != nil {
		a.logger.Warn("tool invocation failed", "tool", call.Name, "error", err)
		return fmt.Sprintf("Error using tool %s: %v", call.Name, err), nil
	}

	a.appendTurn("assistant", fmt.Sprintf("I used the %s tool with arguments: %s",
		call.Name, formatArgs(call.Arguments)))
	a.appendTurn("user", "Tool result: "+result)

	a.phase = PhaseAwaitingFinalResponse
	return callWithTimeout(ctx, a.callTimeout, func(ctx context.Context) (string, error) {
		return a.provider.GenerateResponse(ctx, a.historyCopy(), nil)
	})
}

// callWithTimeout bounds one provider or tool call so a hung upstream
// cannot wedge the turn.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx)
}

// formatArgs renders tool arguments as compact JSON for the synthetic
// history turn.
func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return string(data)
}

// appendTurn adds one turn to the history and mirrors it to the
// transcript store when one is attached. Caller must hold a.mu.
func (a *Agent) appendTurn(role, content string) {
	a.history = append(a.history, llm.Message{Role: role, Content: content})

	if a.transcript != nil {
		if err := a.transcript.AppendTurn(a.sessionID, role, content); err != nil {
			a.logger.Warn("transcript write failed", "error", err)
		}
	}
}

// historyCopy returns a snapshot of the history. Caller must hold a.mu.
func (a *Agent) historyCopy() []llm.Message {
	out := make([]llm.Message, len(a.history))
	copy(out, a.history)
	return out
}

// History returns a copy of the conversation log for presentation layers.
func (a *Agent) History() []llm.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.historyCopy()
}

// Phase returns where the current (or last) turn is in its lifecycle.
func (a *Agent) Phase() Phase {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.phase
}

// Cleanup disconnects the MCP session.
func (a *Agent) Cleanup() {
	a.session.Disconnect()
}

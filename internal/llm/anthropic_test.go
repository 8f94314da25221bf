package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wren-agent/wren/internal/mcp"
)

// newAnthropicTestServer runs a fake Messages API endpoint and returns
// a provider pointed at it plus a hook for inspecting the last request.
func newAnthropicTestServer(t *testing.T, respond func(w http.ResponseWriter, req anthropicRequest)) (*AnthropicProvider, *anthropicRequest) {
	t.Helper()
	var last anthropicRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("x-api-key = %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got != anthropicAPIVersion {
			t.Errorf("anthropic-version = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&last); err != nil {
			t.Errorf("decode request: %v", err)
		}
		respond(w, last)
	}))
	t.Cleanup(srv.Close)

	p := NewAnthropicProvider(Config{
		Model:   "claude-test",
		APIKey:  "test-key",
		BaseURL: srv.URL,
	})
	return p, &last
}

func textResponse(text string) func(w http.ResponseWriter, req anthropicRequest) {
	return func(w http.ResponseWriter, _ anthropicRequest) {
		json.NewEncoder(w).Encode(anthropicResponse{
			Content: []anthropicContent{{Type: "text", Text: text}},
		})
	}
}

func TestAnthropicProvider_GenerateResponse(t *testing.T) {
	p, last := newAnthropicTestServer(t, textResponse("Hello!"))

	messages := []Message{
		{Role: "system", Content: "Be helpful."},
		{Role: "user", Content: "hi"},
	}
	got, err := p.GenerateResponse(context.Background(), messages, nil)
	if err != nil {
		t.Fatalf("GenerateResponse: %v", err)
	}
	if got != "Hello!" {
		t.Errorf("response = %q", got)
	}

	// System turns move into the dedicated field.
	if last.System != "Be helpful." {
		t.Errorf("system = %q", last.System)
	}
	want := []anthropicMessage{{Role: "user", Content: "hi"}}
	if diff := cmp.Diff(want, last.Messages); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
	if last.Model != "claude-test" {
		t.Errorf("model = %q", last.Model)
	}
}

func TestAnthropicProvider_GenerateResponseJoinsTextBlocks(t *testing.T) {
	p, _ := newAnthropicTestServer(t, func(w http.ResponseWriter, _ anthropicRequest) {
		json.NewEncoder(w).Encode(anthropicResponse{
			Content: []anthropicContent{
				{Type: "text", Text: "part one "},
				{Type: "tool_use", Name: "ignored"},
				{Type: "text", Text: "part two"},
			},
		})
	})

	got, err := p.GenerateResponse(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("GenerateResponse: %v", err)
	}
	if got != "part one part two" {
		t.Errorf("response = %q", got)
	}
}

func TestAnthropicProvider_GenerateToolCall(t *testing.T) {
	p, last := newAnthropicTestServer(t, func(w http.ResponseWriter, _ anthropicRequest) {
		json.NewEncoder(w).Encode(anthropicResponse{
			Content: []anthropicContent{
				{Type: "tool_use", ID: "toolu_1", Name: "list_files", Input: map[string]any{"path": "/tmp"}},
			},
			StopReason: "tool_use",
		})
	})

	tools := []mcp.Tool{{Name: "list_files", Description: "List files"}}
	call, err := p.GenerateToolCall(context.Background(), []Message{{Role: "user", Content: "ls /tmp"}}, tools)
	if err != nil {
		t.Fatalf("GenerateToolCall: %v", err)
	}
	if call == nil {
		t.Fatal("call is nil")
	}
	if call.Name != "list_files" {
		t.Errorf("name = %q", call.Name)
	}
	if diff := cmp.Diff(map[string]any{"path": "/tmp"}, call.Arguments); diff != "" {
		t.Errorf("arguments mismatch (-want +got):\n%s", diff)
	}

	// Tools are forwarded in the wire format.
	if len(last.Tools) != 1 || last.Tools[0].Name != "list_files" {
		t.Errorf("request tools = %+v", last.Tools)
	}
	if last.Tools[0].InputSchema == nil {
		t.Error("nil tool schema was not replaced with an empty object schema")
	}
}

func TestAnthropicProvider_GenerateToolCall_NoToolUse(t *testing.T) {
	p, _ := newAnthropicTestServer(t, textResponse("I can answer directly."))

	tools := []mcp.Tool{{Name: "list_files"}}
	call, err := p.GenerateToolCall(context.Background(), []Message{{Role: "user", Content: "hi"}}, tools)
	if err != nil {
		t.Fatalf("GenerateToolCall: %v", err)
	}
	if call != nil {
		t.Errorf("call = %+v, want nil", call)
	}
}

func TestAnthropicProvider_GenerateToolCall_NoToolsShortCircuits(t *testing.T) {
	// No HTTP server at all — with no tools the provider must not call out.
	p := NewAnthropicProvider(Config{Model: "m", APIKey: "k", BaseURL: "http://127.0.0.1:1"})

	call, err := p.GenerateToolCall(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("GenerateToolCall: %v", err)
	}
	if call != nil {
		t.Errorf("call = %+v, want nil", call)
	}
}

func TestAnthropicProvider_APIError(t *testing.T) {
	p, _ := newAnthropicTestServer(t, func(w http.ResponseWriter, _ anthropicRequest) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"type":"rate_limit_error"}}`))
	})

	_, err := p.GenerateResponse(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestSplitSystem(t *testing.T) {
	messages := []Message{
		{Role: "system", Content: "first"},
		{Role: "user", Content: "hi"},
		{Role: "system", Content: "second"},
		{Role: "assistant", Content: "hello"},
	}

	msgs, system := splitSystem(messages)
	if system != "first\n\nsecond" {
		t.Errorf("system = %q", system)
	}
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Errorf("messages = %+v", msgs)
	}
}

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

// openaiChoice builds a minimal single-choice response body.
func openaiChoice(content string, calls []openaiToolCall) map[string]any {
	return map[string]any{
		"id":    "chatcmpl-test",
		"model": "gpt-test",
		"choices": []map[string]any{{
			"message": map[string]any{
				"role":       "assistant",
				"content":    content,
				"tool_calls": calls,
			},
			"finish_reason": "stop",
		}},
	}
}

func newOpenAITestServer(t *testing.T, body any) (*OpenAIProvider, *openaiRequest) {
	t.Helper()
	var last openaiRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&last); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)

	p := NewOpenAIProvider(Config{
		Model:   "gpt-test",
		APIKey:  "test-key",
		BaseURL: srv.URL,
	})
	return p, &last
}

func TestOpenAIProvider_GenerateResponse(t *testing.T) {
	p, last := newOpenAITestServer(t, openaiChoice("Hello!", nil))

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

	// Chat Completions keeps system turns inline.
	want := []openaiMessage{
		{Role: "system", Content: "Be helpful."},
		{Role: "user", Content: "hi"},
	}
	if diff := cmp.Diff(want, last.Messages); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
	if last.ToolChoice != "" {
		t.Errorf("tool_choice = %q, want empty for a plain response", last.ToolChoice)
	}
}

func TestOpenAIProvider_GenerateToolCall(t *testing.T) {
	call := openaiToolCall{ID: "call_1", Type: "function"}
	call.Function.Name = "list_files"
	call.Function.Arguments = `{"path":"/tmp"}`

	p, last := newOpenAITestServer(t, openaiChoice("", []openaiToolCall{call}))

	tools := []mcp.Tool{{Name: "list_files", Description: "List files"}}
	got, err := p.GenerateToolCall(context.Background(), []Message{{Role: "user", Content: "ls"}}, tools)
	if err != nil {
		t.Fatalf("GenerateToolCall: %v", err)
	}
	if got == nil {
		t.Fatal("call is nil")
	}
	if got.Name != "list_files" {
		t.Errorf("name = %q", got.Name)
	}
	if diff := cmp.Diff(map[string]any{"path": "/tmp"}, got.Arguments); diff != "" {
		t.Errorf("arguments mismatch (-want +got):\n%s", diff)
	}

	if last.ToolChoice != "auto" {
		t.Errorf("tool_choice = %q, want auto", last.ToolChoice)
	}
	if len(last.Tools) != 1 || last.Tools[0].Function.Name != "list_files" {
		t.Errorf("request tools = %+v", last.Tools)
	}
	if last.Tools[0].Type != "function" {
		t.Errorf("tool type = %q", last.Tools[0].Type)
	}
}

func TestOpenAIProvider_GenerateToolCall_EmptyArguments(t *testing.T) {
	call := openaiToolCall{ID: "call_1", Type: "function"}
	call.Function.Name = "status"

	p, _ := newOpenAITestServer(t, openaiChoice("", []openaiToolCall{call}))

	got, err := p.GenerateToolCall(context.Background(), []Message{{Role: "user", Content: "status?"}}, []mcp.Tool{{Name: "status"}})
	if err != nil {
		t.Fatalf("GenerateToolCall: %v", err)
	}
	if got.Arguments == nil {
		t.Error("arguments should be an empty map, not nil")
	}
}

func TestOpenAIProvider_GenerateToolCall_MalformedArguments(t *testing.T) {
	call := openaiToolCall{ID: "call_1", Type: "function"}
	call.Function.Name = "list_files"
	call.Function.Arguments = `{not json`

	p, _ := newOpenAITestServer(t, openaiChoice("", []openaiToolCall{call}))

	_, err := p.GenerateToolCall(context.Background(), []Message{{Role: "user", Content: "ls"}}, []mcp.Tool{{Name: "list_files"}})
	if err == nil {
		t.Fatal("expected decode error, got nil")
	}
}

func TestOpenAIProvider_GenerateToolCall_PlainTextAnswer(t *testing.T) {
	p, _ := newOpenAITestServer(t, openaiChoice("I can answer directly.", nil))

	got, err := p.GenerateToolCall(context.Background(), []Message{{Role: "user", Content: "hi"}}, []mcp.Tool{{Name: "list_files"}})
	if err != nil {
		t.Fatalf("GenerateToolCall: %v", err)
	}
	if got != nil {
		t.Errorf("call = %+v, want nil", got)
	}
}

func TestOpenAIProvider_EmptyChoices(t *testing.T) {
	p, _ := newOpenAITestServer(t, map[string]any{"id": "x", "choices": []any{}})

	if _, err := p.GenerateResponse(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestOpenAIProvider_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(Config{Model: "m", APIKey: "k", BaseURL: srv.URL})
	_, err := p.GenerateResponse(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

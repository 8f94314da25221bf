package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/wren-agent/wren/internal/httpkit"
	"github.com/wren-agent/wren/internal/mcp"
)

const openaiAPIURL = "https://api.openai.com/v1/chat/completions"

func init() {
	Register("openai", func(cfg Config) (Provider, error) {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai: api_key is required")
		}
		return NewOpenAIProvider(cfg), nil
	})
}

// OpenAIProvider talks to the OpenAI Chat Completions API.
type OpenAIProvider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenAIProvider creates an OpenAI provider.
func NewOpenAIProvider(cfg Config) *OpenAIProvider {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openaiAPIURL
	}

	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	return &OpenAIProvider{
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		baseURL: baseURL,
		logger:  logger.With("provider", "openai"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
		),
	}
}

// OpenAI request/response types

type openaiRequest struct {
	Model      string          `json:"model"`
	Messages   []openaiMessage `json:"messages"`
	Tools      []openaiTool    `json:"tools,omitempty"`
	ToolChoice string          `json:"tool_choice,omitempty"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiTool struct {
	Type     string         `json:"type"`
	Function openaiFunction `json:"function"`
}

type openaiFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type openaiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"` // JSON-encoded object
	} `json:"function"`
}

type openaiResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role      string           `json:"role"`
			Content   string           `json:"content"`
			ToolCalls []openaiToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// GenerateResponse produces the assistant's final text for the history.
func (p *OpenAIProvider) GenerateResponse(ctx context.Context, messages []Message, tools []mcp.Tool) (string, error) {
	resp, err := p.complete(ctx, messages, tools, "")
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: response contained no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateToolCall asks the model for a tool invocation. Returns nil
// when the model answers with plain text instead.
func (p *OpenAIProvider) GenerateToolCall(ctx context.Context, messages []Message, tools []mcp.Tool) (*ToolCall, error) {
	if len(tools) == 0 {
		return nil, nil
	}

	resp, err := p.complete(ctx, messages, tools, "auto")
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: response contained no choices")
	}

	calls := resp.Choices[0].Message.ToolCalls
	if len(calls) == 0 {
		return nil, nil
	}

	var args map[string]any
	if raw := calls[0].Function.Arguments; raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return nil, fmt.Errorf("openai: decode tool arguments: %w", err)
		}
	}
	if args == nil {
		args = map[string]any{}
	}

	return &ToolCall{Name: calls[0].Function.Name, Arguments: args}, nil
}

// complete sends one Chat Completions request and decodes the response.
func (p *OpenAIProvider) complete(ctx context.Context, messages []Message, tools []mcp.Tool, toolChoice string) (*openaiResponse, error) {
	msgs := make([]openaiMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, openaiMessage{Role: m.Role, Content: m.Content})
	}

	req := openaiRequest{
		Model:      p.model,
		Messages:   msgs,
		Tools:      convertToolsToOpenAI(tools),
		ToolChoice: toolChoice,
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	p.logger.Log(ctx, LevelTrace, "request payload", "json", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(httpResp.Body, 4096)
		p.logger.Error("API error", "status", httpResp.StatusCode, "body", errBody)
		return nil, fmt.Errorf("openai API error %d: %s", httpResp.StatusCode, errBody)
	}

	var resp openaiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	p.logger.Debug("response received",
		"model", resp.Model,
		"choices", len(resp.Choices),
	)

	return &resp, nil
}

// convertToolsToOpenAI formats discovered tools for the Chat Completions API.
func convertToolsToOpenAI(tools []mcp.Tool) []openaiTool {
	if len(tools) == 0 {
		return nil
	}

	result := make([]openaiTool, 0, len(tools))
	for _, t := range tools {
		params := t.InputSchema
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result = append(result, openaiTool{
			Type: "function",
			Function: openaiFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return result
}

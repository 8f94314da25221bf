package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/wren-agent/wren/internal/httpkit"
	"github.com/wren-agent/wren/internal/mcp"
)

const (
	anthropicAPIURL     = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion = "2023-06-01"
)

func init() {
	Register("anthropic", func(cfg Config) (Provider, error) {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic: api_key is required")
		}
		return NewAnthropicProvider(cfg), nil
	})
}

// AnthropicProvider talks to the Anthropic Messages API.
type AnthropicProvider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAnthropicProvider creates an Anthropic provider.
func NewAnthropicProvider(cfg Config) *AnthropicProvider {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = anthropicAPIURL
	}

	// LLM responses can take significant time before sending headers
	// (thinking, long prompts). Use a generous response header timeout
	// and rely on ctx deadlines for overall timeout control.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	return &AnthropicProvider{
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		baseURL: baseURL,
		logger:  logger.With("provider", "anthropic"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
		),
	}
}

// Anthropic request/response types

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicContent struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Role       string             `json:"role"`
	Content    []anthropicContent `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason"`
}

// GenerateResponse produces the assistant's final text for the history.
func (p *AnthropicProvider) GenerateResponse(ctx context.Context, messages []Message, tools []mcp.Tool) (string, error) {
	resp, err := p.complete(ctx, messages, tools)
	if err != nil {
		return "", err
	}

	var parts []string
	for _, block := range resp.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, ""), nil
}

// GenerateToolCall asks the model for a tool invocation. Returns nil
// when the response carries no tool_use block.
func (p *AnthropicProvider) GenerateToolCall(ctx context.Context, messages []Message, tools []mcp.Tool) (*ToolCall, error) {
	if len(tools) == 0 {
		return nil, nil
	}

	resp, err := p.complete(ctx, messages, tools)
	if err != nil {
		return nil, err
	}

	for _, block := range resp.Content {
		if block.Type == "tool_use" {
			args := block.Input
			if args == nil {
				args = map[string]any{}
			}
			return &ToolCall{Name: block.Name, Arguments: args}, nil
		}
	}
	return nil, nil
}

// complete sends one Messages API request and decodes the response.
func (p *AnthropicProvider) complete(ctx context.Context, messages []Message, tools []mcp.Tool) (*anthropicResponse, error) {
	msgs, system := splitSystem(messages)

	req := anthropicRequest{
		Model:     p.model,
		Messages:  msgs,
		System:    system,
		MaxTokens: 4096,
		Tools:     convertToolsToAnthropic(tools),
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
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(httpResp.Body, 4096)
		p.logger.Error("API error", "status", httpResp.StatusCode, "body", errBody)
		return nil, fmt.Errorf("anthropic API error %d: %s", httpResp.StatusCode, errBody)
	}

	var resp anthropicResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	p.logger.Debug("response received",
		"model", resp.Model,
		"stop_reason", resp.StopReason,
		"blocks", len(resp.Content),
	)

	return &resp, nil
}

// splitSystem converts internal messages to Anthropic format,
// extracting system turns into the separate system prompt field.
func splitSystem(messages []Message) ([]anthropicMessage, string) {
	var systemParts []string
	var result []anthropicMessage

	for _, msg := range messages {
		if msg.Role == "system" {
			systemParts = append(systemParts, msg.Content)
			continue
		}
		result = append(result, anthropicMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	return result, strings.Join(systemParts, "\n\n")
}

// convertToolsToAnthropic formats discovered tools for the Messages API.
func convertToolsToAnthropic(tools []mcp.Tool) []anthropicTool {
	if len(tools) == 0 {
		return nil
	}

	result := make([]anthropicTool, 0, len(tools))
	for _, t := range tools {
		schema := t.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result = append(result, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return result
}

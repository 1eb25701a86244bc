// Package llm provides the text generators behind the structured processor.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/quantumlife/companion/internal/core"
)

// Generator produces a completion for a system instruction and a prompt.
type Generator interface {
	Chat(ctx context.Context, system, prompt string) (string, error)
	IsConfigured() bool
}

// ClaudeClient handles Anthropic Messages API calls
type ClaudeClient struct {
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
}

// ClaudeConfig for the Claude client
type ClaudeConfig struct {
	APIKey    string // Anthropic API key
	BaseURL   string // API base URL
	Model     string // Model to use
	MaxTokens int
	Timeout   time.Duration
}

// DefaultClaudeConfig returns sensible defaults
func DefaultClaudeConfig() ClaudeConfig {
	return ClaudeConfig{
		APIKey:    os.Getenv("ANTHROPIC_API_KEY"),
		BaseURL:   "https://api.anthropic.com",
		Model:     "claude-sonnet-4-20250514",
		MaxTokens: 2048,
		Timeout:   60 * time.Second,
	}
}

// NewClaudeClient creates a new Claude client
func NewClaudeClient(cfg ClaudeConfig) *ClaudeClient {
	def := DefaultClaudeConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}

	return &ClaudeClient{
		apiKey:    cfg.APIKey,
		baseURL:   cfg.BaseURL,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Message represents a conversation message
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Request is the Messages API request structure
type Request struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
}

// Response is the Messages API response structure
type Response struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Text joins the text blocks of the response.
func (r *Response) Text() string {
	var buf bytes.Buffer
	for _, block := range r.Content {
		if block.Type == "" || block.Type == "text" {
			buf.WriteString(block.Text)
		}
	}
	return buf.String()
}

// Complete sends a Messages API request
func (c *ClaudeClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if !c.IsConfigured() {
		return nil, fmt.Errorf("%w: claude api key not set", core.ErrLLMUnavailable)
	}
	if req.Model == "" {
		req.Model = c.model
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = c.maxTokens
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: claude request failed: %v", core.ErrLLMUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: claude API error %d: %s", core.ErrLLMUnavailable, resp.StatusCode, string(respBody))
	}

	var llmResp Response
	if err := json.Unmarshal(respBody, &llmResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &llmResp, nil
}

// Chat sends one user turn under a system instruction.
func (c *ClaudeClient) Chat(ctx context.Context, system, prompt string) (string, error) {
	return c.ChatWithHistory(ctx, system, []Message{{Role: "user", Content: prompt}})
}

// ChatWithHistory handles multi-turn conversation
func (c *ClaudeClient) ChatWithHistory(ctx context.Context, system string, messages []Message) (string, error) {
	resp, err := c.Complete(ctx, Request{
		System:   system,
		Messages: messages,
	})
	if err != nil {
		return "", err
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("%w: empty response", core.ErrLLMUnavailable)
	}
	return text, nil
}

// IsConfigured checks if API key is set
func (c *ClaudeClient) IsConfigured() bool {
	return c.apiKey != ""
}

// Model returns the model name.
func (c *ClaudeClient) Model() string {
	return c.model
}

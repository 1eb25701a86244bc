package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/quantumlife/companion/internal/core"
)

// GeminiClient generates text with the Gemini API.
type GeminiClient struct {
	client      *genai.Client
	model       string
	json        bool
	temperature float32
	maxTokens   int32
}

// GeminiConfig for the Gemini client
type GeminiConfig struct {
	APIKey      string
	Model       string // default "gemini-2.5-flash"
	JSON        bool   // ask for application/json output
	Temperature float32
	MaxTokens   int32
	BaseURL     string // overrides the API endpoint
}

// NewGeminiClient creates a Gemini client.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini api key", core.ErrMissingRequired)
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2048
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GeminiClient{
		client:      client,
		model:       cfg.Model,
		json:        cfg.JSON,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// Chat sends one user turn under a system instruction.
func (c *GeminiClient) Chat(ctx context.Context, system, prompt string) (string, error) {
	gc := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(c.temperature),
		MaxOutputTokens: c.maxTokens,
	}
	if system != "" {
		gc.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if c.json {
		gc.ResponseMIMEType = "application/json"
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), gc)
	if err != nil {
		return "", fmt.Errorf("%w: gemini: %v", core.ErrLLMUnavailable, err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("%w: gemini returned no text", core.ErrLLMUnavailable)
	}
	return text, nil
}

// IsConfigured reports whether the client was built with a key.
func (c *GeminiClient) IsConfigured() bool {
	return c != nil && c.client != nil
}

// Model returns the model name.
func (c *GeminiClient) Model() string {
	return c.model
}

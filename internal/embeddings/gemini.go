package embeddings

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/quantumlife/companion/internal/core"
)

// GeminiEmbedder generates embeddings with the Gemini API.
type GeminiEmbedder struct {
	client    *genai.Client
	model     string
	taskType  string
	dimension uint64
}

// GeminiConfig for the Gemini embedder
type GeminiConfig struct {
	APIKey    string
	Model     string // default "gemini-embedding-001"
	TaskType  string // default SEMANTIC_SIMILARITY
	Dimension uint64 // output width, default 768
	BaseURL   string // overrides the API endpoint
}

// NewGemini creates a Gemini embedder.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*GeminiEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini api key", core.ErrMissingRequired)
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-embedding-001"
	}
	if cfg.TaskType == "" {
		cfg.TaskType = "SEMANTIC_SIMILARITY"
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = 768
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

	return &GeminiEmbedder{
		client:    client,
		model:     cfg.Model,
		taskType:  cfg.TaskType,
		dimension: cfg.Dimension,
	}, nil
}

// Embed generates an embedding for text.
func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	dim := int32(e.dimension)
	result, err := e.client.Models.EmbedContent(ctx, e.model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		&genai.EmbedContentConfig{
			TaskType:             e.taskType,
			OutputDimensionality: &dim,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: gemini: %v", core.ErrEmbeddingFailed, err)
	}
	if len(result.Embeddings) == 0 || len(result.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("%w: gemini returned no embeddings", core.ErrEmbeddingFailed)
	}
	return result.Embeddings[0].Values, nil
}

// Dimension returns the requested output width.
func (e *GeminiEmbedder) Dimension() uint64 {
	return e.dimension
}

// ModelName returns the model being used
func (e *GeminiEmbedder) ModelName() string {
	return e.model
}

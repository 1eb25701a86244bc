package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumlife/companion/internal/core"
)

// fakeGenerator answers with a fixed reply or error.
type fakeGenerator struct {
	reply string
	err   error
	calls int
}

func (f *fakeGenerator) Chat(ctx context.Context, system, prompt string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeGenerator) IsConfigured() bool { return f.err == nil }

// =============================================================================
// Router Tests
// =============================================================================

func TestNewRouter_Order(t *testing.T) {
	tests := []struct {
		name      string
		cfg       RouterConfig
		wantOrder []Provider
	}{
		{
			name:      "default order skips nil clients",
			cfg:       RouterConfig{Claude: &fakeGenerator{}, Ollama: &fakeGenerator{}},
			wantOrder: []Provider{ProviderClaude, ProviderOllama},
		},
		{
			name: "preferred goes first",
			cfg: RouterConfig{
				Claude:    &fakeGenerator{},
				Gemini:    &fakeGenerator{},
				Ollama:    &fakeGenerator{},
				Preferred: ProviderOllama,
			},
			wantOrder: []Provider{ProviderOllama, ProviderClaude, ProviderGemini},
		},
		{
			name:      "unknown preference ignored",
			cfg:       RouterConfig{Gemini: &fakeGenerator{}, Preferred: ProviderClaude},
			wantOrder: []Provider{ProviderGemini},
		},
		{
			name:      "no clients",
			cfg:       RouterConfig{},
			wantOrder: []Provider{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRouter(tt.cfg)
			assert.Equal(t, tt.wantOrder, r.Providers())
			assert.Equal(t, len(tt.wantOrder) > 0, r.IsConfigured())
		})
	}
}

func TestRouter_Fallback(t *testing.T) {
	claude := &fakeGenerator{err: core.ErrLLMUnavailable}
	gemini := &fakeGenerator{reply: "from gemini"}
	r := NewRouter(RouterConfig{Claude: claude, Gemini: gemini, EnableFallback: true})

	resp, err := r.Route(context.Background(), RouteRequest{System: "s", Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "from gemini", resp.Content)
	assert.Equal(t, ProviderGemini, resp.Provider)
	assert.True(t, resp.WasFallback)

	stats := r.GetStats()
	assert.Equal(t, int64(1), stats.Requests[ProviderGemini])
	assert.Equal(t, int64(1), stats.Failures[ProviderClaude])
	assert.Equal(t, int64(1), stats.FallbackCount)
}

func TestRouter_NoFallback(t *testing.T) {
	claude := &fakeGenerator{err: errors.New("boom")}
	gemini := &fakeGenerator{reply: "unused"}
	r := NewRouter(RouterConfig{Claude: claude, Gemini: gemini})

	_, err := r.Chat(context.Background(), "s", "p")
	assert.ErrorIs(t, err, core.ErrLLMUnavailable)
	assert.Equal(t, 0, gemini.calls)
}

func TestRouter_AllFail(t *testing.T) {
	r := NewRouter(RouterConfig{
		Claude:         &fakeGenerator{err: errors.New("claude down")},
		Ollama:         &fakeGenerator{err: errors.New("ollama down")},
		EnableFallback: true,
	})

	_, err := r.Chat(context.Background(), "s", "p")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrLLMUnavailable)
	assert.Contains(t, err.Error(), "claude down")
	assert.Contains(t, err.Error(), "ollama down")
}

func TestRouter_NoProviders(t *testing.T) {
	r := NewRouter(RouterConfig{})
	_, err := r.Chat(context.Background(), "s", "p")
	assert.ErrorIs(t, err, core.ErrLLMUnavailable)
}

func TestRouter_PreferredPerRequest(t *testing.T) {
	claude := &fakeGenerator{reply: "claude"}
	ollama := &fakeGenerator{reply: "ollama"}
	r := NewRouter(RouterConfig{Claude: claude, Ollama: ollama})

	resp, err := r.Route(context.Background(), RouteRequest{Prompt: "p", PreferredProvider: ProviderOllama})
	require.NoError(t, err)
	assert.Equal(t, ProviderOllama, resp.Provider)
	assert.False(t, resp.WasFallback)
	assert.Equal(t, 0, claude.calls)
}

func TestRouter_HealthCheck(t *testing.T) {
	r := NewRouter(RouterConfig{
		Claude: &fakeGenerator{},
		Gemini: &fakeGenerator{err: errors.New("no key")},
	})

	health := r.HealthCheck(context.Background())
	assert.Equal(t, map[Provider]bool{ProviderClaude: true, ProviderGemini: false}, health)
}

func TestRouter_ImplementsGenerator(t *testing.T) {
	var _ Generator = NewRouter(RouterConfig{})
	var _ Generator = NewClaudeClient(ClaudeConfig{})
	var _ Generator = NewOllamaClient(OllamaConfig{})
	var _ Generator = (*GeminiClient)(nil)
}

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/quantumlife/companion/internal/core"
)

// =============================================================================
// Claude Client Tests
// =============================================================================

func TestDefaultClaudeConfig(t *testing.T) {
	cfg := DefaultClaudeConfig()

	if cfg.BaseURL != "https://api.anthropic.com" {
		t.Errorf("BaseURL = %q, want %q", cfg.BaseURL, "https://api.anthropic.com")
	}
	if cfg.Model != "claude-sonnet-4-20250514" {
		t.Errorf("Model = %q, want %q", cfg.Model, "claude-sonnet-4-20250514")
	}
	if cfg.Timeout != 60*time.Second {
		t.Errorf("Timeout = %v, want %v", cfg.Timeout, 60*time.Second)
	}
}

func TestNewClaudeClient(t *testing.T) {
	tests := []struct {
		name      string
		cfg       ClaudeConfig
		wantURL   string
		wantModel string
	}{
		{
			name:      "default values",
			cfg:       ClaudeConfig{APIKey: "test-key"},
			wantURL:   "https://api.anthropic.com",
			wantModel: "claude-sonnet-4-20250514",
		},
		{
			name: "custom values",
			cfg: ClaudeConfig{
				APIKey:  "test-key",
				BaseURL: "https://custom.api.com",
				Model:   "claude-3-5-haiku",
			},
			wantURL:   "https://custom.api.com",
			wantModel: "claude-3-5-haiku",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClaudeClient(tt.cfg)
			if client.baseURL != tt.wantURL {
				t.Errorf("baseURL = %q, want %q", client.baseURL, tt.wantURL)
			}
			if client.Model() != tt.wantModel {
				t.Errorf("Model() = %q, want %q", client.Model(), tt.wantModel)
			}
		})
	}
}

func TestClaudeClient_IsConfigured(t *testing.T) {
	tests := []struct {
		name   string
		apiKey string
		want   bool
	}{
		{"with API key", "test-key", true},
		{"without API key", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClaudeClient(ClaudeConfig{APIKey: tt.apiKey})
			if got := client.IsConfigured(); got != tt.want {
				t.Errorf("IsConfigured() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClaudeClient_Chat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %q, want /v1/messages", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("x-api-key = %q, want test-key", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Error("anthropic-version header missing")
		}

		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.System != "be brief" {
			t.Errorf("System = %q, want %q", req.System, "be brief")
		}
		if len(req.Messages) != 1 || req.Messages[0].Content != "hello" {
			t.Errorf("Messages = %+v, want one user message", req.Messages)
		}
		if req.MaxTokens != 2048 {
			t.Errorf("MaxTokens = %d, want 2048", req.MaxTokens)
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"content": []map[string]string{
				{"type": "text", "text": `{"message":`},
				{"type": "text", "text": `"hi"}`},
			},
		})
	}))
	defer server.Close()

	client := NewClaudeClient(ClaudeConfig{APIKey: "test-key", BaseURL: server.URL})
	got, err := client.Chat(context.Background(), "be brief", "hello")
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if got != `{"message":"hi"}` {
		t.Errorf("Chat() = %q, want joined text blocks", got)
	}
}

func TestClaudeClient_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"overloaded"}`, http.StatusServiceUnavailable)
	}))
	defer server.Close()

	tests := []struct {
		name   string
		client *ClaudeClient
	}{
		{"api error", NewClaudeClient(ClaudeConfig{APIKey: "k", BaseURL: server.URL})},
		{"missing key", NewClaudeClient(ClaudeConfig{BaseURL: server.URL})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.client.Chat(context.Background(), "", "hello")
			if !errors.Is(err, core.ErrLLMUnavailable) {
				t.Errorf("Chat() error = %v, want ErrLLMUnavailable", err)
			}
		})
	}
}

func TestClaudeClient_EmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content":[]}`))
	}))
	defer server.Close()

	client := NewClaudeClient(ClaudeConfig{APIKey: "k", BaseURL: server.URL})
	if _, err := client.Chat(context.Background(), "", "hello"); err == nil {
		t.Error("Chat() error = nil, want error for empty content")
	}
}

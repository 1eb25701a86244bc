package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quantumlife/companion/internal/core"
)

// =============================================================================
// Ollama Client Tests
// =============================================================================

func TestNewOllamaClient_Defaults(t *testing.T) {
	client := NewOllamaClient(OllamaConfig{})

	if client.baseURL != "http://localhost:11434" {
		t.Errorf("baseURL = %q, want %q", client.baseURL, "http://localhost:11434")
	}
	if client.Model() != "llama3.2" {
		t.Errorf("Model() = %q, want %q", client.Model(), "llama3.2")
	}
	if client.format != "" {
		t.Errorf("format = %q, want empty", client.format)
	}
}

func TestOllamaClient_Chat(t *testing.T) {
	var got OllamaChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q, want /api/chat", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(OllamaChatResponse{
			Model:   "llama3.2",
			Message: OllamaChatMessage{Role: "assistant", Content: `{"message":"ok"}`},
			Done:    true,
		})
	}))
	defer server.Close()

	client := NewOllamaClient(OllamaConfig{BaseURL: server.URL, JSON: true, Temperature: 0.2})
	resp, err := client.Chat(context.Background(), "system prompt", "hello")
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp != `{"message":"ok"}` {
		t.Errorf("Chat() = %q", resp)
	}

	if got.Format != "json" {
		t.Errorf("Format = %q, want json", got.Format)
	}
	if got.Stream {
		t.Error("Stream = true, want false")
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "hello" {
		t.Errorf("Messages = %+v", got.Messages)
	}
	if got.Options == nil || got.Options.Temperature != 0.2 {
		t.Errorf("Options = %+v, want temperature 0.2", got.Options)
	}
}

func TestOllamaClient_ChatError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	client := NewOllamaClient(OllamaConfig{BaseURL: server.URL})
	_, err := client.Chat(context.Background(), "", "hello")
	if !errors.Is(err, core.ErrLLMUnavailable) {
		t.Errorf("Chat() error = %v, want ErrLLMUnavailable", err)
	}
}

func TestOllamaClient_ListModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"models":[{"name":"llama3.2"},{"name":"nomic-embed-text"}]}`))
	}))
	defer server.Close()

	client := NewOllamaClient(OllamaConfig{BaseURL: server.URL})
	models, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}
	if len(models) != 2 || models[0] != "llama3.2" {
		t.Errorf("ListModels() = %v", models)
	}
	if !client.IsConfigured() {
		t.Error("IsConfigured() = false, want true")
	}
}

func TestOllamaClient_NotReachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	client := NewOllamaClient(OllamaConfig{BaseURL: server.URL})
	if client.IsConfigured() {
		t.Error("IsConfigured() = true for a closed server")
	}
}

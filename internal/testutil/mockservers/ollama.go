// Package mockservers provides httptest mock servers for external APIs.
package mockservers

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/cespare/xxhash/v2"
)

// EmbeddingDimension is the width of vectors served by the mock.
const EmbeddingDimension = 32

// OllamaChatRequest is the part of a chat request the mock records.
type OllamaChatRequest struct {
	Model    string `json:"model"`
	Format   string `json:"format"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

// OllamaMockServer provides a mock Ollama API server for testing.
// Chat replies are served in order; the last one repeats.
type OllamaMockServer struct {
	Server   *httptest.Server
	Handlers map[string]http.HandlerFunc
	t        *testing.T

	mu       sync.Mutex
	replies  []string
	requests []OllamaChatRequest
	embeds   int
}

// NewOllamaMockServer creates a new mock Ollama API server.
func NewOllamaMockServer(t *testing.T, replies ...string) *OllamaMockServer {
	t.Helper()

	mock := &OllamaMockServer{
		Handlers: make(map[string]http.HandlerFunc),
		t:        t,
		replies:  replies,
	}

	mock.SetupDefaults()

	mock.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if handler, ok := mock.Handlers[r.URL.Path]; ok {
			handler(w, r)
			return
		}

		// Default 404
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "not found"})
	}))

	t.Cleanup(func() {
		mock.Server.Close()
	})

	return mock
}

// URL returns the base URL to configure clients with.
func (m *OllamaMockServer) URL() string {
	return m.Server.URL
}

// SetupDefaults sets up default response handlers.
func (m *OllamaMockServer) SetupDefaults() {
	m.Handlers["/api/chat"] = func(w http.ResponseWriter, r *http.Request) {
		var req OllamaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}

		m.mu.Lock()
		m.requests = append(m.requests, req)
		reply := `{"message":"Noted."}`
		if len(m.replies) > 0 {
			reply = m.replies[0]
			if len(m.replies) > 1 {
				m.replies = m.replies[1:]
			}
		}
		m.mu.Unlock()

		json.NewEncoder(w).Encode(map[string]interface{}{
			"model":      req.Model,
			"created_at": "2025-03-12T10:00:00Z",
			"message":    map[string]string{"role": "assistant", "content": reply},
			"done":       true,
		})
	}

	m.Handlers["/api/embeddings"] = func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}

		m.mu.Lock()
		m.embeds++
		m.mu.Unlock()

		json.NewEncoder(w).Encode(map[string]interface{}{
			"embedding": Embedding(req.Prompt),
		})
	}

	m.Handlers["/api/tags"] = func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"models": []map[string]string{
				{"name": "llama3.2:latest"},
				{"name": "nomic-embed-text:latest"},
			},
		})
	}
}

// Requests returns the chat requests received so far.
func (m *OllamaMockServer) Requests() []OllamaChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OllamaChatRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// EmbedCount returns how many embedding requests were served.
func (m *OllamaMockServer) EmbedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.embeds
}

// Embedding is the mock's vector for text: a normalized bag of hashed
// lower-case words, so texts sharing words are similar.
func Embedding(text string) []float32 {
	v := make([]float32, EmbeddingDimension)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:'\"")
		if word == "" {
			continue
		}
		v[xxhash.Sum64String(word)%EmbeddingDimension]++
	}

	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= scale
	}
	return v
}

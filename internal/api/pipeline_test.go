package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumlife/companion/internal/agent"
	"github.com/quantumlife/companion/internal/core"
	"github.com/quantumlife/companion/internal/embeddings"
	"github.com/quantumlife/companion/internal/llm"
	"github.com/quantumlife/companion/internal/memory"
	"github.com/quantumlife/companion/internal/structured"
	"github.com/quantumlife/companion/internal/testutil"
	"github.com/quantumlife/companion/internal/testutil/mockservers"
	"github.com/quantumlife/companion/internal/vectors"
)

const callMomReply = `{"message":"I'll check in with you about it.","commitments":[{"task_description":"Call mom","deadline":"tomorrow"}]}`

// =============================================================================
// Pipeline Tests
// =============================================================================

func TestPipeline_ChatCreatesCommitment(t *testing.T) {
	gen := testutil.NewMockGenerator(callMomReply)
	srv, _, _ := testServer(t, func(cfg *Config) {
		a, err := agent.New(agent.Config{
			DB:         cfg.DB,
			Clock:      cfg.Clock,
			Structured: structured.NewProcessor(gen, cfg.Clock, time.Second),
		})
		require.NoError(t, err)
		cfg.Agent = a
	})

	rr := do(t, srv, "POST", "/api/v1/chat", `{"message":"I'll call mom tomorrow"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decode[agent.ChatResponse](t, rr)
	assert.Equal(t, "I'll check in with you about it.", resp.Response)
	assert.Equal(t, []string{"Created commitment: Call mom"}, resp.Actions)
	require.Len(t, gen.Prompts(), 1)
	assert.Contains(t, gen.Prompts()[0], "I'll call mom tomorrow")

	rr = do(t, srv, "GET", "/api/v1/commitments?status=pending", "")
	require.Equal(t, http.StatusOK, rr.Code)
	list := decode[[]core.Commitment](t, rr)
	require.Len(t, list, 1)
	assert.Equal(t, "Call mom", list[0].TaskDescription)
	require.NotNil(t, list[0].Deadline)
	assert.Equal(t, "2025-03-13", core.DateOf(*list[0].Deadline))
}

func TestPipeline_ChatThroughOllama(t *testing.T) {
	mock := mockservers.NewOllamaMockServer(t, callMomReply, `{"message":"Glad to hear it."}`)

	index := vectors.NewMemory()
	var mem *memory.Manager
	srv, _, _ := testServer(t, func(cfg *Config) {
		emb := embeddings.NewOllama(embeddings.OllamaConfig{
			BaseURL:   mock.URL(),
			Dimension: mockservers.EmbeddingDimension,
			Timeout:   5 * time.Second,
		})
		mem = memory.NewManager(emb, index)
		require.NoError(t, mem.Init(context.Background()))

		gen := llm.NewOllamaClient(llm.OllamaConfig{BaseURL: mock.URL(), JSON: true, Timeout: 5 * time.Second})
		a, err := agent.New(agent.Config{
			DB:         cfg.DB,
			Clock:      cfg.Clock,
			Memory:     mem,
			Structured: structured.NewProcessor(gen, cfg.Clock, 5*time.Second),
		})
		require.NoError(t, err)
		cfg.Agent = a
		cfg.Memory = mem
	})

	rr := do(t, srv, "POST", "/api/v1/chat", `{"message":"I'll call mom tomorrow"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decode[agent.ChatResponse](t, rr)
	assert.Equal(t, "structured", resp.Mode)
	assert.Equal(t, []string{"Created commitment: Call mom"}, resp.Actions)

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "json", reqs[0].Format)
	assert.Greater(t, mock.EmbedCount(), 0)
	assert.Equal(t, 1, index.Len(vectors.CollectionConversations))
	assert.Equal(t, 1, index.Len(vectors.CollectionCommitments))

	// Commitments created over HTTP are indexed too.
	rr = do(t, srv, "POST", "/api/v1/commitments", `{"task_description":"Morning run","recurrence_pattern":"daily"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, 2, index.Len(vectors.CollectionCommitments))
	assert.Equal(t, 1, index.Len(vectors.CollectionHabits))

	habit := decode[core.Commitment](t, rr)
	rr = do(t, srv, "DELETE", commitmentPath(habit.ID, ""), "")
	require.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, 1, index.Len(vectors.CollectionCommitments))
	assert.Equal(t, 0, index.Len(vectors.CollectionHabits))

	rr = do(t, srv, "GET", "/api/v1/health", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, decode[map[string]interface{}](t, rr)["memory"])
}

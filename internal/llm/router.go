package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quantumlife/companion/internal/core"
	"github.com/quantumlife/companion/internal/logging"
)

// Provider represents an LLM provider
type Provider string

const (
	ProviderClaude Provider = "claude"
	ProviderGemini Provider = "gemini"
	ProviderOllama Provider = "ollama"
)

// defaultOrder is the fallback order when no provider is preferred.
var defaultOrder = []Provider{ProviderClaude, ProviderGemini, ProviderOllama}

// RouterConfig configures the router
type RouterConfig struct {
	// Clients; nil entries are skipped
	Claude Generator
	Gemini Generator
	Ollama Generator

	// Preferred is tried first; empty means the default order
	Preferred Provider

	// EnableFallback tries the remaining providers when one fails
	EnableFallback bool
}

// Router sends generation requests to the first working provider.
type Router struct {
	generators     map[Provider]Generator
	order          []Provider
	enableFallback bool
	log            *logging.Logger

	// Stats
	mu    sync.RWMutex
	stats RouterStats
}

// RouterStats tracks router usage
type RouterStats struct {
	Requests         map[Provider]int64 `json:"requests"`
	Failures         map[Provider]int64 `json:"failures"`
	FallbackCount    int64              `json:"fallback_count"`
	AverageLatencyMs int64              `json:"average_latency_ms"`
}

// NewRouter creates a router over the configured clients
func NewRouter(cfg RouterConfig) *Router {
	r := &Router{
		generators:     make(map[Provider]Generator),
		enableFallback: cfg.EnableFallback,
		log:            logging.Component("llm"),
		stats: RouterStats{
			Requests: make(map[Provider]int64),
			Failures: make(map[Provider]int64),
		},
	}
	add := func(p Provider, g Generator) {
		if g != nil {
			r.generators[p] = g
		}
	}
	add(ProviderClaude, cfg.Claude)
	add(ProviderGemini, cfg.Gemini)
	add(ProviderOllama, cfg.Ollama)

	if _, ok := r.generators[cfg.Preferred]; ok {
		r.order = append(r.order, cfg.Preferred)
	}
	for _, p := range defaultOrder {
		if _, ok := r.generators[p]; ok && p != cfg.Preferred {
			r.order = append(r.order, p)
		}
	}
	return r
}

// RouteRequest represents a request to be routed
type RouteRequest struct {
	System string
	Prompt string

	// PreferredProvider overrides the router order for this request
	PreferredProvider Provider
}

// RouteResponse contains the response and metadata
type RouteResponse struct {
	Content     string
	Provider    Provider
	LatencyMs   int64
	WasFallback bool
}

// Route sends a request to the first provider that answers.
func (r *Router) Route(ctx context.Context, req RouteRequest) (*RouteResponse, error) {
	order := r.providersFor(req.PreferredProvider)
	if len(order) == 0 {
		return nil, fmt.Errorf("%w: no provider configured", core.ErrLLMUnavailable)
	}
	if !r.enableFallback {
		order = order[:1]
	}

	var errs []error
	for i, p := range order {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		start := time.Now()
		content, err := r.generators[p].Chat(ctx, req.System, req.Prompt)
		latency := time.Since(start).Milliseconds()
		if err != nil {
			r.recordFailure(p)
			r.log.WithFields(map[string]interface{}{
				"provider": string(p),
				"error":    err,
			}).Warn("provider failed")
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}

		r.recordSuccess(p, latency, i > 0)
		return &RouteResponse{
			Content:     content,
			Provider:    p,
			LatencyMs:   latency,
			WasFallback: i > 0,
		}, nil
	}

	return nil, fmt.Errorf("%w: all providers failed: %w", core.ErrLLMUnavailable, errors.Join(errs...))
}

// Chat routes a request with the default order. Router is itself a Generator.
func (r *Router) Chat(ctx context.Context, system, prompt string) (string, error) {
	resp, err := r.Route(ctx, RouteRequest{System: system, Prompt: prompt})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// IsConfigured reports whether any provider is registered.
func (r *Router) IsConfigured() bool {
	return len(r.order) > 0
}

// Providers returns the providers in the order they are tried.
func (r *Router) Providers() []Provider {
	out := make([]Provider, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Router) providersFor(preferred Provider) []Provider {
	if _, ok := r.generators[preferred]; !ok {
		return r.order
	}
	order := []Provider{preferred}
	for _, p := range r.order {
		if p != preferred {
			order = append(order, p)
		}
	}
	return order
}

func (r *Router) recordSuccess(p Provider, latencyMs int64, fallback bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.Requests[p]++
	if fallback {
		r.stats.FallbackCount++
	}

	var total int64
	for _, n := range r.stats.Requests {
		total += n
	}
	// simple moving average
	r.stats.AverageLatencyMs = (r.stats.AverageLatencyMs*(total-1) + latencyMs) / total
}

func (r *Router) recordFailure(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Failures[p]++
}

// GetStats returns a copy of the router statistics
func (r *Router) GetStats() RouterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := RouterStats{
		Requests:         make(map[Provider]int64, len(r.stats.Requests)),
		Failures:         make(map[Provider]int64, len(r.stats.Failures)),
		FallbackCount:    r.stats.FallbackCount,
		AverageLatencyMs: r.stats.AverageLatencyMs,
	}
	for k, v := range r.stats.Requests {
		out.Requests[k] = v
	}
	for k, v := range r.stats.Failures {
		out.Failures[k] = v
	}
	return out
}

// HealthCheck checks the health of all configured providers
func (r *Router) HealthCheck(ctx context.Context) map[Provider]bool {
	health := make(map[Provider]bool, len(r.generators))
	for p, g := range r.generators {
		if ctx.Err() != nil {
			health[p] = false
			continue
		}
		health[p] = g.IsConfigured()
	}
	return health
}

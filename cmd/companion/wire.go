package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantumlife/companion/internal/actions"
	"github.com/quantumlife/companion/internal/agent"
	"github.com/quantumlife/companion/internal/clock"
	"github.com/quantumlife/companion/internal/config"
	"github.com/quantumlife/companion/internal/embeddings"
	"github.com/quantumlife/companion/internal/llm"
	"github.com/quantumlife/companion/internal/logging"
	"github.com/quantumlife/companion/internal/memory"
	"github.com/quantumlife/companion/internal/notifications"
	"github.com/quantumlife/companion/internal/proactive"
	"github.com/quantumlife/companion/internal/retrieval"
	"github.com/quantumlife/companion/internal/scheduler"
	"github.com/quantumlife/companion/internal/storage"
	"github.com/quantumlife/companion/internal/structured"
	"github.com/quantumlife/companion/internal/vectors"
)

var log = logging.Component("daemon")

// components is everything the daemon runs, built from one config.
type components struct {
	cfg       *config.Config
	db        *storage.DB
	rdb       *redis.Client
	clock     clock.Clock
	fakeClock *clock.Accelerated
	memory    *memory.Manager
	agent     *agent.Agent
	scheduler *scheduler.Scheduler
	proactive *proactive.Service
	hub       *notifications.Hub
	relay     *notifications.RedisSubscriber

	closers []func() error
}

// setupLogging applies the logging section.
func setupLogging(cfg config.LoggingConfig) {
	logging.SetFormat(cfg.Format)
	logging.SetLevel(logging.ParseLevel(cfg.Level))
}

// openDB opens the database and applies pending migrations.
func openDB(cfg *config.Config) (*storage.DB, error) {
	db, err := storage.Open(storage.Config{Path: cfg.DatabasePath()})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return db, nil
}

// newRedis returns a client when an address is configured.
func newRedis(cfg config.RedisConfig) *redis.Client {
	if cfg.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: cfg.Addr})
}

// buildEmbedder picks the embedding provider. Remote providers are
// wrapped in the LRU cache, with redis as a second tier when available.
func buildEmbedder(ctx context.Context, cfg *config.Config, rdb *redis.Client) (embeddings.Embedder, error) {
	var (
		emb       embeddings.Embedder
		namespace string
	)
	switch cfg.Embeddings.Provider {
	case "", "hash":
		return embeddings.NewHash(0), nil
	case "ollama":
		def := embeddings.DefaultOllamaConfig()
		emb = embeddings.NewOllama(embeddings.OllamaConfig{
			BaseURL:   cfg.Ollama.URL,
			Model:     cfg.Ollama.EmbedModel,
			Dimension: def.Dimension,
			Timeout:   def.Timeout,
		})
		namespace = "ollama:" + cfg.Ollama.EmbedModel
	case "gemini":
		g, err := embeddings.NewGemini(ctx, embeddings.GeminiConfig{
			APIKey: cfg.Gemini.APIKey,
			Model:  cfg.Gemini.EmbedModel,
		})
		if err != nil {
			return nil, err
		}
		emb = g
		namespace = "gemini:" + g.ModelName()
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Embeddings.Provider)
	}

	if cfg.Embeddings.CacheSize <= 0 {
		return emb, nil
	}
	return embeddings.NewCached(emb, embeddings.CacheConfig{
		Size:      cfg.Embeddings.CacheSize,
		Redis:     rdb,
		TTL:       cfg.Redis.CacheTTL,
		Namespace: namespace,
	})
}

// buildMemory connects the semantic index. Qdrant is used when enabled
// and reachable; otherwise vectors live in process for this run.
func (c *components) buildMemory(ctx context.Context, emb embeddings.Embedder) {
	if c.cfg.Qdrant.Enabled {
		store, err := vectors.NewQdrant(vectors.Config{Host: c.cfg.Qdrant.Host, Port: c.cfg.Qdrant.Port})
		if err == nil {
			mgr := memory.NewManager(emb, store)
			if err = mgr.Init(ctx); err == nil {
				c.memory = mgr
				c.closers = append(c.closers, store.Close)
				log.WithField("host", c.cfg.Qdrant.Host).Info("qdrant connected")
				return
			}
			store.Close()
		}
		log.WithField("error", err).Warn("qdrant not available, using in-process vectors")
	}

	c.memory = memory.NewManager(emb, vectors.NewMemory())
	if err := c.memory.Init(ctx); err != nil {
		log.WithField("error", err).Warn("semantic memory disabled")
		c.memory = memory.NewManager(nil, nil)
	}
}

// buildGenerator returns the text generator for cfg.LLM.Provider. A nil
// generator puts the structured processor in demo mode.
func buildGenerator(ctx context.Context, cfg *config.Config) (llm.Generator, error) {
	if cfg.LLM.Provider == "demo" {
		return nil, nil
	}

	rc := llm.RouterConfig{
		Preferred:      llm.Provider(cfg.LLM.Provider),
		EnableFallback: cfg.LLM.Provider == "auto",
	}
	if cfg.Claude.APIKey != "" {
		rc.Claude = llm.NewClaudeClient(llm.ClaudeConfig{
			APIKey:  cfg.Claude.APIKey,
			Model:   cfg.Claude.Model,
			Timeout: cfg.LLM.Timeout,
		})
	}
	if cfg.Gemini.APIKey != "" {
		g, err := llm.NewGeminiClient(ctx, llm.GeminiConfig{
			APIKey: cfg.Gemini.APIKey,
			Model:  cfg.Gemini.Model,
			JSON:   true,
		})
		if err != nil {
			return nil, err
		}
		rc.Gemini = g
	}
	if cfg.Ollama.URL != "" {
		rc.Ollama = llm.NewOllamaClient(llm.OllamaConfig{
			BaseURL: cfg.Ollama.URL,
			Model:   cfg.Ollama.Model,
			JSON:    true,
			Timeout: cfg.LLM.Timeout,
		})
	}

	router := llm.NewRouter(rc)
	if len(router.Providers()) == 0 {
		log.Warn("no LLM provider configured, replies use demo mode")
		return nil, nil
	}
	if cfg.LLM.Provider != "auto" && router.Providers()[0] != rc.Preferred {
		return nil, fmt.Errorf("llm provider %q is not configured", cfg.LLM.Provider)
	}
	return router, nil
}

// build wires every component. Call close when done.
func build(ctx context.Context, cfg *config.Config) (*components, error) {
	c := &components{cfg: cfg}

	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	c.db = db
	c.closers = append(c.closers, db.Close)

	c.rdb = newRedis(cfg.Redis)
	if c.rdb != nil {
		if err := c.rdb.Ping(ctx).Err(); err != nil {
			log.WithFields(map[string]interface{}{"addr": cfg.Redis.Addr, "error": err}).Warn("redis not available")
			c.rdb.Close()
			c.rdb = nil
		} else {
			c.closers = append(c.closers, c.rdb.Close)
		}
	}

	if cfg.Scheduler.IsFake() {
		c.fakeClock = clock.NewAccelerated()
		c.fakeClock.Start(time.Now(), cfg.Scheduler.Multiplier)
		c.clock = c.fakeClock
		log.WithField("multiplier", cfg.Scheduler.Multiplier).Info("fake time running")
	} else {
		c.clock = clock.Real{}
	}

	emb, err := buildEmbedder(ctx, cfg, c.rdb)
	if err != nil {
		c.close()
		return nil, err
	}
	c.buildMemory(ctx, emb)

	gen, err := buildGenerator(ctx, cfg)
	if err != nil {
		c.close()
		return nil, err
	}

	acts := actions.NewProcessor(db, c.clock, actions.Config{
		AutoCreateHabits: cfg.Pipeline.AutoCreateHabits,
		MatchThreshold:   cfg.Pipeline.HabitMatchThreshold,
	})
	if c.memory.Enabled() {
		acts.SetIndexer(c.memory)
	}

	var classifierEmb embeddings.Embedder
	if c.memory.Enabled() {
		classifierEmb = emb
	}
	c.agent, err = agent.New(agent.Config{
		DB:         db,
		Clock:      c.clock,
		Classifier: agent.NewClassifier(cfg.Pipeline, classifierEmb),
		Retriever:  retrieval.New(db, c.memory, c.clock, cfg.Retrieval),
		Structured: structured.NewProcessor(gen, c.clock, cfg.LLM.Timeout),
		Actions:    acts,
		Memory:     c.memory,
		LogSize:    cfg.Pipeline.ExecutionLogSize,
	})
	if err != nil {
		c.close()
		return nil, err
	}

	c.hub = notifications.NewHub()
	var pub proactive.Publisher = c.hub
	if c.rdb != nil {
		c.relay = notifications.NewRedisSubscriber(c.rdb, cfg.Redis.Channel, c.hub)
		pub = c.relay
	}

	c.scheduler = scheduler.NewScheduler(c.clock, scheduler.Config{PollInterval: cfg.Scheduler.PollInterval})
	c.proactive = proactive.NewService(db, c.clock, pub, proactive.ConfigFrom(cfg.Scheduler))
	if err := c.proactive.RegisterTasks(c.scheduler); err != nil {
		c.close()
		return nil, err
	}
	return c, nil
}

// close releases resources in reverse order of acquisition.
func (c *components) close() {
	if c.hub != nil {
		c.hub.Close()
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			log.WithField("error", err).Warn("close failed")
		}
	}
}

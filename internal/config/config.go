// Package config handles Companion configuration.
// Files may be YAML or JSON; the extension decides. Environment
// variables override secrets and a few operational switches.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quantumlife/companion/internal/core"
)

// Config holds all configuration
type Config struct {
	// Paths
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// Server
	Server ServerConfig `yaml:"server" json:"server"`

	// Services
	Qdrant     QdrantConfig     `yaml:"qdrant" json:"qdrant"`
	Ollama     OllamaConfig     `yaml:"ollama" json:"ollama"`
	Claude     ClaudeConfig     `yaml:"claude" json:"claude"`
	Gemini     GeminiConfig     `yaml:"gemini" json:"gemini"`
	Redis      RedisConfig      `yaml:"redis" json:"redis"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	LLM        LLMConfig        `yaml:"llm" json:"llm"`

	// Pipeline
	Pipeline  PipelineConfig  `yaml:"pipeline" json:"pipeline"`
	Retrieval RetrievalConfig `yaml:"retrieval" json:"retrieval"`
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler"`

	// Observability
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
}

// ServerConfig for HTTP server
type ServerConfig struct {
	Port int    `yaml:"port" json:"port"`
	Host string `yaml:"host" json:"host"`
}

// QdrantConfig for vector database
type QdrantConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Host    string `yaml:"host" json:"host"`
	Port    int    `yaml:"port" json:"port"`
}

// OllamaConfig for local LLM and embeddings
type OllamaConfig struct {
	URL        string `yaml:"url" json:"url"`
	Model      string `yaml:"model" json:"model"`
	EmbedModel string `yaml:"embed_model" json:"embed_model"`
}

// ClaudeConfig for Claude API
type ClaudeConfig struct {
	APIKey string `yaml:"api_key" json:"api_key"`
	Model  string `yaml:"model" json:"model"`
}

// GeminiConfig for the Gemini API
type GeminiConfig struct {
	APIKey     string `yaml:"api_key" json:"api_key"`
	Model      string `yaml:"model" json:"model"`
	EmbedModel string `yaml:"embed_model" json:"embed_model"`
}

// RedisConfig for the shared embedding cache and message fan-out
type RedisConfig struct {
	Addr     string        `yaml:"addr" json:"addr"`
	Channel  string        `yaml:"channel" json:"channel"`
	CacheTTL time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
}

// EmbeddingsConfig picks the embedder.
type EmbeddingsConfig struct {
	Provider  string `yaml:"provider" json:"provider"` // hash, ollama, gemini
	CacheSize int    `yaml:"cache_size" json:"cache_size"`
}

// LLMConfig picks the text generator.
type LLMConfig struct {
	Provider string        `yaml:"provider" json:"provider"` // auto, claude, gemini, ollama, demo
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// PipelineConfig tunes classification and action execution.
type PipelineConfig struct {
	Classifier          string  `yaml:"classifier" json:"classifier"` // pattern, semantic
	IntentThreshold     float64 `yaml:"intent_threshold" json:"intent_threshold"`
	AutoCreateHabits    bool    `yaml:"auto_create_habits" json:"auto_create_habits"`
	HabitMatchThreshold float64 `yaml:"habit_match_threshold" json:"habit_match_threshold"`
	ExecutionLogSize    int     `yaml:"execution_log_size" json:"execution_log_size"`
}

// RetrievalConfig holds the similarity thresholds and limits.
type RetrievalConfig struct {
	RecentConversations    int     `yaml:"recent_conversations" json:"recent_conversations"`
	SemanticConversations  int     `yaml:"semantic_conversations" json:"semantic_conversations"`
	ConversationLimit      int     `yaml:"conversation_limit" json:"conversation_limit"`
	ConversationThreshold  float64 `yaml:"conversation_threshold" json:"conversation_threshold"`
	SemanticChatThreshold  float64 `yaml:"semantic_chat_threshold" json:"semantic_chat_threshold"`
	PersonThreshold        float64 `yaml:"person_threshold" json:"person_threshold"`
	PersonMatchThreshold   float64 `yaml:"person_match_threshold" json:"person_match_threshold"`
	HabitThreshold         float64 `yaml:"habit_threshold" json:"habit_threshold"`
	CommitmentThreshold    float64 `yaml:"commitment_threshold" json:"commitment_threshold"`
	SimilarCommitmentLimit int     `yaml:"similar_commitment_limit" json:"similar_commitment_limit"`
	StreakLookbackDays     int     `yaml:"streak_lookback_days" json:"streak_lookback_days"`
	Concurrency            int     `yaml:"concurrency" json:"concurrency"`
}

// SchedulerConfig selects real or fake time.
type SchedulerConfig struct {
	Mode                    string        `yaml:"mode" json:"mode"` // real, fake
	Multiplier              float64       `yaml:"multiplier" json:"multiplier"`
	PollInterval            time.Duration `yaml:"poll_interval" json:"poll_interval"`
	ReminderMinInterval     time.Duration `yaml:"reminder_min_interval" json:"reminder_min_interval"`
	FakeReminderMinInterval time.Duration `yaml:"fake_reminder_min_interval" json:"fake_reminder_min_interval"`
	MaxReminders            int           `yaml:"max_reminders" json:"max_reminders"`
	PromptWindow            time.Duration `yaml:"prompt_window" json:"prompt_window"`
	DefaultPrompts          bool          `yaml:"default_prompts" json:"default_prompts"`
}

// IsFake reports whether the accelerated clock drives the scheduler.
func (s SchedulerConfig) IsFake() bool {
	return s.Mode == "fake"
}

// EffectiveReminderInterval returns the reminder spacing for the mode.
func (s SchedulerConfig) EffectiveReminderInterval() time.Duration {
	if s.IsFake() {
		return s.FakeReminderMinInterval
	}
	return s.ReminderMinInterval
}

// LoggingConfig for the zap-backed logger
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// TracingConfig for OpenTelemetry
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	ServiceName string `yaml:"service_name" json:"service_name"`
	Output      string `yaml:"output" json:"output"` // stdout or a file path
}

// Default returns default configuration
func Default() *Config {
	home, _ := os.UserHomeDir()

	return &Config{
		DataDir: filepath.Join(home, ".companion"),
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Qdrant: QdrantConfig{
			Enabled: true,
			Host:    "localhost",
			Port:    6334,
		},
		Ollama: OllamaConfig{
			URL:        "http://localhost:11434",
			Model:      "llama3.2",
			EmbedModel: "nomic-embed-text",
		},
		Claude: ClaudeConfig{
			APIKey: os.Getenv("ANTHROPIC_API_KEY"),
			Model:  "claude-sonnet-4-20250514",
		},
		Gemini: GeminiConfig{
			APIKey:     os.Getenv("GEMINI_API_KEY"),
			Model:      "gemini-2.5-flash",
			EmbedModel: "gemini-embedding-001",
		},
		Redis: RedisConfig{
			Channel:  "companion:proactive",
			CacheTTL: 24 * time.Hour,
		},
		Embeddings: EmbeddingsConfig{
			Provider:  "ollama",
			CacheSize: 2048,
		},
		LLM: LLMConfig{
			Provider: "auto",
			Timeout:  30 * time.Second,
		},
		Pipeline: PipelineConfig{
			Classifier:          "pattern",
			IntentThreshold:     0.4,
			AutoCreateHabits:    true,
			HabitMatchThreshold: 0.7,
			ExecutionLogSize:    100,
		},
		Retrieval: DefaultRetrieval(),
		Scheduler: SchedulerConfig{
			Mode:                    "real",
			Multiplier:              600,
			PollInterval:            time.Second,
			ReminderMinInterval:     24 * time.Hour,
			FakeReminderMinInterval: 30 * time.Minute,
			MaxReminders:            2,
			PromptWindow:            5 * time.Minute,
			DefaultPrompts:          true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Tracing: TracingConfig{
			ServiceName: "companion",
			Output:      "stdout",
		},
	}
}

// DefaultRetrieval returns the retrieval thresholds and limits.
func DefaultRetrieval() RetrievalConfig {
	return RetrievalConfig{
		RecentConversations:    3,
		SemanticConversations:  2,
		ConversationLimit:      5,
		ConversationThreshold:  0.6,
		SemanticChatThreshold:  0.7,
		PersonThreshold:        0.6,
		PersonMatchThreshold:   0.7,
		HabitThreshold:         0.6,
		CommitmentThreshold:    0.6,
		SimilarCommitmentLimit: 5,
		StreakLookbackDays:     30,
		Concurrency:            4,
	}
}

// DefaultPath returns the config file location inside the data dir.
func DefaultPath(dataDir string) string {
	return filepath.Join(dataDir, "config.yaml")
}

// Load loads config from file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath(cfg.DataDir)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := decode(path, data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return json.Unmarshal(data, cfg)
	}
	return yaml.Unmarshal(data, cfg)
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.Claude.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Gemini.APIKey = v
	}
	if v := os.Getenv("COMPANION_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("COMPANION_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("COMPANION_FAKE_TIME"); v != "" {
		if on, err := strconv.ParseBool(v); err == nil && on {
			c.Scheduler.Mode = "fake"
		}
	}
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	for name, v := range map[string]float64{
		"pipeline.intent_threshold":         c.Pipeline.IntentThreshold,
		"pipeline.habit_match_threshold":    c.Pipeline.HabitMatchThreshold,
		"retrieval.conversation_threshold":  c.Retrieval.ConversationThreshold,
		"retrieval.semantic_chat_threshold": c.Retrieval.SemanticChatThreshold,
		"retrieval.person_threshold":        c.Retrieval.PersonThreshold,
		"retrieval.person_match_threshold":  c.Retrieval.PersonMatchThreshold,
		"retrieval.habit_threshold":         c.Retrieval.HabitThreshold,
		"retrieval.commitment_threshold":    c.Retrieval.CommitmentThreshold,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: %s must be within [0,1], got %v", core.ErrInvalidInput, name, v)
		}
	}

	switch c.Scheduler.Mode {
	case "real", "fake":
	default:
		return fmt.Errorf("%w: scheduler.mode must be real or fake, got %q", core.ErrInvalidInput, c.Scheduler.Mode)
	}
	if c.Scheduler.Multiplier <= 0 {
		return fmt.Errorf("%w: scheduler.multiplier must be positive", core.ErrInvalidInput)
	}
	if c.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("%w: scheduler.poll_interval must be positive", core.ErrInvalidInput)
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("%w: llm.timeout must be positive", core.ErrInvalidInput)
	}
	return nil
}

// Save saves config to file
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultPath(c.DataDir)
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	// Don't save API keys to file
	safeCfg := *c
	safeCfg.Claude.APIKey = ""
	safeCfg.Gemini.APIKey = ""

	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err = json.MarshalIndent(safeCfg, "", "  ")
	} else {
		data, err = yaml.Marshal(safeCfg)
	}
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// DatabasePath is where the SQLite file lives.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "companion.db")
}

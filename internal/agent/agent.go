// Package agent runs the conversational pipeline: classify the message,
// retrieve context, produce a structured response, execute its actions
// and persist the turn.
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/quantumlife/companion/internal/actions"
	"github.com/quantumlife/companion/internal/clock"
	"github.com/quantumlife/companion/internal/config"
	"github.com/quantumlife/companion/internal/core"
	"github.com/quantumlife/companion/internal/embeddings"
	"github.com/quantumlife/companion/internal/intent"
	"github.com/quantumlife/companion/internal/logging"
	"github.com/quantumlife/companion/internal/memory"
	"github.com/quantumlife/companion/internal/retrieval"
	"github.com/quantumlife/companion/internal/storage"
	"github.com/quantumlife/companion/internal/structured"
	"github.com/quantumlife/companion/internal/tracing"
)

// ResponseWindow is how long a sent proactive message waits for a reply.
// The first user message inside the window is recorded as the answer.
const ResponseWindow = 24 * time.Hour

// fallbackReply is used when the structured response carries no text.
const fallbackReply = "I'm here. Tell me more about that."

// Agent is the conversational pipeline
type Agent struct {
	db            *storage.DB
	clock         clock.Clock
	classifier    intent.Classifier
	retriever     *retrieval.Retriever
	structured    *structured.Processor
	actions       *actions.Processor
	memory        *memory.Manager
	conversations *storage.ConversationStore
	people        *storage.PersonStore
	messages      *storage.ProactiveStore
	executions    *ExecutionLog
	proactiveMax  int
	log           *logging.Logger
}

// Config for agent. DB and Clock are required; every other component
// falls back to a local default.
type Config struct {
	DB         *storage.DB
	Clock      clock.Clock
	Classifier intent.Classifier
	Retriever  *retrieval.Retriever
	Structured *structured.Processor
	Actions    *actions.Processor
	Memory     *memory.Manager
	LogSize    int // executions kept for debugging
}

// New creates an agent
func New(cfg Config) (*Agent, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("%w: database", core.ErrMissingRequired)
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("%w: clock", core.ErrMissingRequired)
	}
	if cfg.Memory == nil {
		cfg.Memory = memory.NewManager(nil, nil)
	}
	if cfg.Classifier == nil {
		cfg.Classifier = intent.NewPatternClassifier()
	}
	if cfg.Retriever == nil {
		cfg.Retriever = retrieval.New(cfg.DB, cfg.Memory, cfg.Clock, config.DefaultRetrieval())
	}
	if cfg.Structured == nil {
		cfg.Structured = structured.NewProcessor(nil, cfg.Clock, 0)
	}
	if cfg.Actions == nil {
		cfg.Actions = actions.NewProcessor(cfg.DB, cfg.Clock, actions.DefaultConfig())
		if cfg.Memory.Enabled() {
			cfg.Actions.SetIndexer(cfg.Memory)
		}
	}

	return &Agent{
		db:            cfg.DB,
		clock:         cfg.Clock,
		classifier:    cfg.Classifier,
		retriever:     cfg.Retriever,
		structured:    cfg.Structured,
		actions:       cfg.Actions,
		memory:        cfg.Memory,
		conversations: storage.NewConversationStore(cfg.DB),
		people:        storage.NewPersonStore(cfg.DB),
		messages:      storage.NewProactiveStore(cfg.DB),
		executions:    NewExecutionLog(cfg.LogSize),
		proactiveMax:  5,
		log:           logging.Component("agent"),
	}, nil
}

// NewClassifier picks the classifier named by cfg. The semantic variant
// needs an embedder and falls back to patterns without one.
func NewClassifier(cfg config.PipelineConfig, emb embeddings.Embedder) intent.Classifier {
	if cfg.Classifier == "semantic" && emb != nil {
		return intent.NewSemanticClassifier(emb, cfg.IntentThreshold)
	}
	return intent.NewPatternClassifier()
}

// ChatRequest is one user message
type ChatRequest struct {
	UserID    core.UserID `json:"user_id"`
	SessionID string      `json:"session_id,omitempty"`
	Message   string      `json:"message"`
}

// ChatResponse is the reply and what the pipeline did with the message
type ChatResponse struct {
	Message     string                   `json:"message"`
	Response    string                   `json:"response"`
	Timestamp   time.Time                `json:"timestamp"`
	Actions     []string                 `json:"actions"`
	Intent      *core.MessageIntent      `json:"intent"`
	Summary     core.ResultSummary       `json:"summary"`
	Proactive   []*core.ProactiveMessage `json:"proactive"`
	ExecutionID string                   `json:"execution_id"`
	Mode        string                   `json:"mode"`
}

// Chat runs the pipeline for one message. Only empty input is an error:
// every later failure is logged and the user still gets a reply.
func (a *Agent) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, fmt.Errorf("%w: message is empty", core.ErrInvalidInput)
	}
	if req.UserID == 0 {
		req.UserID = core.DefaultUserID
	}

	ctx, span := tracing.Start(ctx, "agent", "agent.Chat",
		attribute.Int64("user_id", int64(req.UserID)),
		attribute.String("session_id", req.SessionID))
	defer span.End()

	start := time.Now()
	now := a.clock.Now()
	exec := Execution{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Message:   message,
		Stages:    make(map[string]string),
		StartedAt: now,
	}
	stage := func(name string, began time.Time) {
		exec.Stages[name] = time.Since(began).String()
	}

	t := time.Now()
	a.recordResponse(ctx, req.UserID, message, now)
	stage("responses", t)

	t = time.Now()
	sctx, s := tracing.Start(ctx, "agent", "agent.classify")
	in := a.classifier.Classify(sctx, message)
	s.SetAttributes(
		attribute.String("intent", string(in.PrimaryIntent)),
		attribute.Float64("confidence", in.Confidence))
	tracing.End(s, nil)
	stage("classify", t)

	t = time.Now()
	ectx := a.retriever.Retrieve(ctx, message, in, req.UserID)
	stage("retrieve", t)

	t = time.Now()
	sctx, s = tracing.Start(ctx, "agent", "agent.generate")
	gen := a.structured.Process(sctx, message, in, ectx, a.userData(sctx, req.UserID))
	s.SetAttributes(attribute.String("mode", string(gen.Mode)), attribute.Bool("degraded", gen.Degraded))
	tracing.End(s, nil)
	stage("generate", t)

	t = time.Now()
	sctx, s = tracing.Start(ctx, "agent", "agent.execute")
	result := a.actions.Process(sctx, actions.Request{
		Response: gen.Response,
		UserID:   req.UserID,
		Message:  message,
	})
	summary := result.Summary()
	s.SetAttributes(attribute.Int("outcomes", summary.Total), attribute.Int("failed", summary.Failed))
	var execErr error
	if summary.Failed > 0 {
		execErr = fmt.Errorf("%d of %d actions failed", summary.Failed, summary.Total)
	}
	tracing.End(s, execErr)
	stage("execute", t)

	reply := strings.TrimSpace(gen.Response.Message)
	if reply == "" {
		reply = fallbackReply
	}

	t = time.Now()
	a.persist(ctx, &core.Conversation{
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Message:   message,
		Response:  reply,
		Timestamp: now,
	})
	stage("persist", t)

	proactive, err := a.messages.Unanswered(ctx, req.UserID, now.Add(-ResponseWindow), a.proactiveMax)
	if err != nil {
		a.log.WithField("error", err).Warn("list proactive messages failed")
	}
	if proactive == nil {
		proactive = []*core.ProactiveMessage{}
	}

	exec.Reply = reply
	exec.Intent = in
	exec.Mode = string(gen.Mode)
	exec.Degraded = gen.Degraded
	exec.Reason = gen.Reason
	exec.Outcomes = result.Outcomes
	exec.Summary = summary
	exec.Context = ectx
	exec.DurationMS = time.Since(start).Milliseconds()
	a.executions.Add(exec)

	a.log.WithFields(map[string]interface{}{
		"execution_id": exec.ID,
		"intent":       string(in.PrimaryIntent),
		"mode":         exec.Mode,
		"actions":      summary.Total,
		"failed":       summary.Failed,
		"duration_ms":  exec.DurationMS,
	}).Info("chat processed")

	return &ChatResponse{
		Message:     message,
		Response:    reply,
		Timestamp:   now,
		Actions:     result.UserVisibleActions(),
		Intent:      in,
		Summary:     summary,
		Proactive:   proactive,
		ExecutionID: exec.ID,
		Mode:        exec.Mode,
	}, nil
}

// recordResponse marks the newest unanswered proactive message sent
// within the response window as answered by message.
func (a *Agent) recordResponse(ctx context.Context, userID core.UserID, message string, now time.Time) {
	open, err := a.messages.Unanswered(ctx, userID, now.Add(-ResponseWindow), 1)
	if err != nil {
		a.log.WithField("error", err).Warn("look up unanswered messages failed")
		return
	}
	if len(open) == 0 {
		return
	}
	if err := a.messages.MarkResponded(ctx, userID, open[0].ID, message, now); err != nil {
		a.log.WithFields(map[string]interface{}{
			"message_id": open[0].ID,
			"error":      err,
		}).Warn("record proactive response failed")
	}
}

func (a *Agent) userData(ctx context.Context, userID core.UserID) *structured.UserData {
	ud := &structured.UserData{Timezone: a.clock.Now().Location().String()}
	if prof, err := a.people.Profile(ctx, userID); err == nil {
		ud.Name = prof.Name
	}
	return ud
}

// persist stores the turn and indexes it. Both are best effort.
func (a *Agent) persist(ctx context.Context, c *core.Conversation) {
	if err := a.conversations.Create(ctx, c); err != nil {
		a.log.WithField("error", err).Error("save conversation failed")
		return
	}
	if !a.memory.Enabled() {
		return
	}
	if err := a.memory.IndexConversation(ctx, c); err != nil {
		a.log.WithFields(map[string]interface{}{
			"conversation_id": c.ID,
			"error":           err,
		}).Warn("index conversation failed")
	}
}

// Executions returns the execution log
func (a *Agent) Executions() *ExecutionLog {
	return a.executions
}

// History returns the user's most recent turns, oldest first.
func (a *Agent) History(ctx context.Context, userID core.UserID, limit int) ([]*core.Conversation, error) {
	recent, err := a.conversations.Recent(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}
	return recent, nil
}

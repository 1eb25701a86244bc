// Package retrieval assembles the context the structured processor needs
// for one message. Each source reads from SQLite, the semantic memory, or
// both; sources run concurrently and fail independently.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/quantumlife/companion/internal/clock"
	"github.com/quantumlife/companion/internal/config"
	"github.com/quantumlife/companion/internal/core"
	"github.com/quantumlife/companion/internal/logging"
	"github.com/quantumlife/companion/internal/memory"
	"github.com/quantumlife/companion/internal/storage"
)

// Source names as recorded in EnhancedContext.Sources.
const (
	SourceSemantic           = "semantic"
	SourceConversations      = "conversations"
	SourcePeople             = "people"
	SourceHabits             = "habits"
	SourceMood               = "mood"
	SourceSimilarCommitments = "similar_commitments"
	SourceTemporal           = "temporal"
	SourceProfile            = "profile"
)

// sourceOrder fixes the order of Sources and Errors regardless of which
// goroutine finished first.
var sourceOrder = []string{
	SourceSemantic,
	SourceConversations,
	SourcePeople,
	SourceHabits,
	SourceMood,
	SourceSimilarCommitments,
	SourceTemporal,
	SourceProfile,
}

var tracer = otel.Tracer("github.com/quantumlife/companion/internal/retrieval")

// Retriever builds an EnhancedContext for a message.
type Retriever struct {
	commitments   *storage.CommitmentStore
	completions   *storage.CompletionStore
	conversations *storage.ConversationStore
	people        *storage.PersonStore
	moods         *storage.MoodStore
	memory        *memory.Manager
	clock         clock.Clock
	cfg           config.RetrievalConfig
	log           *logging.Logger
}

// New creates a retriever. mem may be nil to disable semantic sources.
func New(db *storage.DB, mem *memory.Manager, clk clock.Clock, cfg config.RetrievalConfig) *Retriever {
	if mem == nil {
		mem = memory.NewManager(nil, nil)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Retriever{
		commitments:   storage.NewCommitmentStore(db),
		completions:   storage.NewCompletionStore(db),
		conversations: storage.NewConversationStore(db),
		people:        storage.NewPersonStore(db),
		moods:         storage.NewMoodStore(db),
		memory:        mem,
		clock:         clk,
		cfg:           cfg,
		log:           logging.Component("retrieval"),
	}
}

// request carries what every source needs.
type request struct {
	message string
	intent  *core.MessageIntent
	userID  core.UserID
	now     time.Time
	today   string
}

// source fills its part of out. Sources write only their own fields.
type source struct {
	name string
	run  func(ctx context.Context, req *request, out *core.EnhancedContext) error
}

// Retrieve gathers context for message. It never fails: a source that
// errors is logged and noted in Errors while the others still populate.
// Nothing is written.
func (r *Retriever) Retrieve(ctx context.Context, message string, intent *core.MessageIntent, userID core.UserID) *core.EnhancedContext {
	ctx, span := tracer.Start(ctx, "retrieval.Retrieve")
	defer span.End()

	if intent == nil {
		intent = &core.MessageIntent{PrimaryIntent: core.IntentGeneralChat}
	}
	if userID == 0 {
		userID = core.DefaultUserID
	}
	now := r.clock.Now()
	req := &request{
		message: message,
		intent:  intent,
		userID:  userID,
		now:     now,
		today:   core.DateOf(now),
	}

	selected := r.selectSources(req)
	partials := make(map[string]*core.EnhancedContext, len(selected))
	failures := make(map[string]error)
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)
	for _, src := range selected {
		src := src
		g.Go(func() error {
			part := core.NewEnhancedContext()
			err := r.runSource(ctx, src, req, part)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[src.name] = err
				return nil
			}
			partials[src.name] = part
			return nil
		})
	}
	_ = g.Wait()

	out := core.NewEnhancedContext()
	for _, name := range sourceOrder {
		if err, failed := failures[name]; failed {
			out.Errors = append(out.Errors, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		part, ok := partials[name]
		if !ok {
			continue
		}
		merge(out, part)
		out.Sources = append(out.Sources, name)
	}

	span.SetAttributes(
		attribute.String("intent", string(intent.PrimaryIntent)),
		attribute.StringSlice("sources", out.Sources),
		attribute.Int("errors", len(out.Errors)),
	)
	if len(out.Errors) > 0 {
		span.SetStatus(codes.Error, "partial context")
	}
	return out
}

func (r *Retriever) runSource(ctx context.Context, src source, req *request, part *core.EnhancedContext) (err error) {
	ctx, span := tracer.Start(ctx, "retrieval."+src.name)
	defer span.End()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			r.log.WithFields(map[string]interface{}{
				"source": src.name,
				"error":  err,
			}).Warn("context source failed")
		}
	}()
	return src.run(ctx, req, part)
}

// selectSources picks the sources the intent calls for.
func (r *Retriever) selectSources(req *request) []source {
	sources := []source{
		{SourceSemantic, r.semanticMatches},
		{SourceProfile, r.profile},
	}
	if req.intent.Needs(core.ContextRecentConversations) || req.intent.Is(core.IntentGeneralChat) {
		sources = append(sources, source{SourceConversations, r.conversationContext})
	}
	if req.intent.Needs(core.ContextPersonProfile) || req.intent.Entities.HasPeople() {
		sources = append(sources, source{SourcePeople, r.peopleContext})
	}
	if req.intent.Needs(core.ContextHabitHistory) || req.intent.Is(core.IntentHabitTracking) {
		sources = append(sources, source{SourceHabits, r.habitContext})
	}
	if req.intent.Needs(core.ContextMoodTrends) || req.intent.Is(core.IntentMoodReflection) {
		sources = append(sources, source{SourceMood, r.moodContext})
	}
	if req.intent.Needs(core.ContextSimilarCommitments) || req.intent.Is(core.IntentCommitmentMaking) {
		sources = append(sources, source{SourceSimilarCommitments, r.similarCommitments})
	}
	if req.intent.Needs(core.ContextTemporal) || req.intent.Entities.HasTime() {
		sources = append(sources, source{SourceTemporal, r.temporalContext})
	}
	return sources
}

func merge(dst, src *core.EnhancedContext) {
	dst.Conversations = append(dst.Conversations, src.Conversations...)
	for k, v := range src.People {
		dst.People[k] = v
	}
	dst.Habits = append(dst.Habits, src.Habits...)
	if src.Mood != nil {
		dst.Mood = src.Mood
	}
	dst.SimilarCommitments = append(dst.SimilarCommitments, src.SimilarCommitments...)
	if src.Temporal != nil {
		dst.Temporal = src.Temporal
	}
	dst.SemanticMatches = append(dst.SemanticMatches, src.SemanticMatches...)
	if src.Profile != nil {
		dst.Profile = src.Profile
	}
}

func sortMatches(m []core.SemanticMatch) {
	sort.SliceStable(m, func(i, j int) bool {
		return m[i].Similarity > m[j].Similarity
	})
}

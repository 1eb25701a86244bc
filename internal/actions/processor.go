// Package actions executes the actions a structured response asks for.
// A batch runs in one transaction with a savepoint around every item, so
// one bad item never takes its siblings down with it.
package actions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/quantumlife/companion/internal/clock"
	"github.com/quantumlife/companion/internal/core"
	"github.com/quantumlife/companion/internal/logging"
	"github.com/quantumlife/companion/internal/storage"
)

// Config tunes habit resolution.
type Config struct {
	AutoCreateHabits bool    // create a habit when a completion matches nothing
	MatchThreshold   float64 // minimum similarity for a fuzzy habit match
}

// DefaultConfig returns the default policy.
func DefaultConfig() Config {
	return Config{
		AutoCreateHabits: true,
		MatchThreshold:   DefaultMatchThreshold,
	}
}

// Indexer receives rows the batch created or changed once the batch has
// committed. memory.Manager satisfies it.
type Indexer interface {
	IndexCommitment(ctx context.Context, c *core.Commitment) error
	IndexPerson(ctx context.Context, p *core.Person) error
}

// Processor turns a StructuredAIResponse into stored state.
type Processor struct {
	db      *storage.DB
	clock   clock.Clock
	config  Config
	matcher *HabitMatcher
	indexer Indexer
	log     *logging.Logger
}

// NewProcessor creates a processor.
func NewProcessor(db *storage.DB, clk clock.Clock, cfg Config) *Processor {
	if cfg.MatchThreshold <= 0 {
		cfg.MatchThreshold = DefaultMatchThreshold
	}
	return &Processor{
		db:      db,
		clock:   clk,
		config:  cfg,
		matcher: NewHabitMatcher(),
		log:     logging.Component("actions"),
	}
}

// SetIndexer registers where committed rows are indexed. Indexing is best
// effort and never changes the result.
func (p *Processor) SetIndexer(ix Indexer) {
	p.indexer = ix
}

// Matcher returns the habit matcher used for resolution.
func (p *Processor) Matcher() *HabitMatcher {
	return p.matcher
}

// Request is one response to execute.
type Request struct {
	Response *core.StructuredAIResponse
	UserID   core.UserID
	Message  string // the user message, kept on created commitments
}

// ProcessResponse executes every action in resp for userID.
func (p *Processor) ProcessResponse(ctx context.Context, resp *core.StructuredAIResponse, userID core.UserID) *core.ProcessingResult {
	return p.Process(ctx, Request{Response: resp, UserID: userID})
}

// Process executes the actions of req.Response. Commitments, habit actions,
// people updates, profile updates and mood run in that order in one
// transaction; scheduled actions run in a second one.
func (p *Processor) Process(ctx context.Context, req Request) *core.ProcessingResult {
	result := core.NewProcessingResult()
	resp := req.Response
	if resp == nil {
		return result
	}
	if req.UserID == 0 {
		req.UserID = core.DefaultUserID
	}

	now := p.clock.Now()
	b := &batch{
		userID:  req.UserID,
		message: req.Message,
		now:     now,
		today:   core.DateOf(now),
	}

	var main []item
	for _, c := range resp.Commitments {
		c := c
		main = append(main, item{
			kind:  "commitment",
			label: c.TaskDescription,
			run:   func(ctx context.Context, s *stores) (core.Outcome, error) { return p.createCommitment(ctx, b, s, c) },
		})
	}
	for _, a := range resp.HabitActions {
		a := a
		main = append(main, item{
			kind:  "habit",
			label: a.HabitIdentifier,
			run:   func(ctx context.Context, s *stores) (core.Outcome, error) { return p.habitAction(ctx, b, s, a) },
		})
	}
	for _, u := range resp.PeopleUpdates {
		u := u
		main = append(main, item{
			kind:  "person",
			label: u.PersonName,
			run:   func(ctx context.Context, s *stores) (core.Outcome, error) { return p.updatePerson(ctx, b, s, u) },
		})
	}
	for _, u := range resp.UserProfileUpdates {
		u := u
		main = append(main, item{
			kind:  "profile",
			label: u.Category,
			run:   func(ctx context.Context, s *stores) (core.Outcome, error) { return p.updateProfile(ctx, b, s, u) },
		})
	}
	if m := resp.MoodAnalysis; m != nil {
		main = append(main, item{
			kind:  "mood",
			label: string(m.DetectedMood),
			run:   func(ctx context.Context, s *stores) (core.Outcome, error) { return p.recordMood(ctx, b, s, *m) },
		})
	}

	var scheduled []item
	for _, a := range resp.ScheduledActions {
		a := a
		scheduled = append(scheduled, item{
			kind:  "scheduled_action",
			label: a.ActionType,
			run:   func(ctx context.Context, s *stores) (core.Outcome, error) { return p.scheduleAction(ctx, b, s, a) },
		})
	}

	result.Merge(p.runBatch(ctx, b, main))
	result.Merge(p.runBatch(ctx, b, scheduled))

	p.index(ctx, b)

	summary := result.Summary()
	p.log.WithFields(map[string]interface{}{
		"user_id":    req.UserID,
		"total":      summary.Total,
		"successful": summary.Successful,
		"failed":     summary.Failed,
	}).Info("processed actions")
	return result
}

// item is one action run under its own savepoint.
type item struct {
	kind  string
	label string
	run   func(ctx context.Context, s *stores) (core.Outcome, error)
}

// stores are the repositories bound to the batch transaction.
type stores struct {
	commitments *storage.CommitmentStore
	completions *storage.CompletionStore
	people      *storage.PersonStore
	moods       *storage.MoodStore
	proactive   *storage.ProactiveStore
}

func newStores(db *storage.DB, tx *sql.Tx, loc *time.Location) *stores {
	return &stores{
		commitments: storage.NewCommitmentStore(db).WithTx(tx).WithLocation(loc),
		completions: storage.NewCompletionStore(db).WithTx(tx),
		people:      storage.NewPersonStore(db).WithTx(tx),
		moods:       storage.NewMoodStore(db).WithTx(tx),
		proactive:   storage.NewProactiveStore(db).WithTx(tx),
	}
}

// batch is the state shared by the items of one Process call.
type batch struct {
	userID  core.UserID
	message string
	now     time.Time
	today   string

	// staged rows belong to the running item; they move to the committed
	// lists when the item's savepoint is released.
	stagedCommitments []*core.Commitment
	stagedPeople      []*core.Person
	commitments       []*core.Commitment
	people            []*core.Person
}

func (b *batch) touchCommitment(c *core.Commitment) { b.stagedCommitments = append(b.stagedCommitments, c) }
func (b *batch) touchPerson(p *core.Person)         { b.stagedPeople = append(b.stagedPeople, p) }

// runBatch executes items in one transaction. Item failures roll back that
// item only. A failure of the transaction itself replaces the batch with a
// single failed outcome.
func (p *Processor) runBatch(ctx context.Context, b *batch, items []item) *core.ProcessingResult {
	out := core.NewProcessingResult()
	if len(items) == 0 {
		return out
	}

	var commitments []*core.Commitment
	var people []*core.Person

	err := p.db.TransactionContext(ctx, func(tx *sql.Tx) error {
		s := newStores(p.db, tx, b.now.Location())
		for i, it := range items {
			b.stagedCommitments, b.stagedPeople = nil, nil

			var outcome core.Outcome
			err := storage.Savepoint(ctx, tx, fmt.Sprintf("action_%d", i), func() (err error) {
				defer func() {
					if r := recover(); r != nil {
						err = fmt.Errorf("panic: %v", r)
					}
				}()
				outcome, err = it.run(ctx, s)
				return err
			})
			if errors.Is(err, core.ErrTransaction) {
				return err
			}
			if err != nil {
				p.log.WithFields(map[string]interface{}{
					"kind":  it.kind,
					"item":  it.label,
					"error": err,
				}).Warn("action failed")
				out.Add(failedOutcome(it, err))
				continue
			}
			commitments = append(commitments, b.stagedCommitments...)
			people = append(people, b.stagedPeople...)
			out.Add(outcome)
		}
		return nil
	})
	if err != nil {
		p.log.WithField("error", err).Error("action batch aborted")
		aborted := core.NewProcessingResult()
		aborted.Add(core.Outcome{
			Success:     false,
			Type:        "transaction_failed",
			Description: "Could not save the changes from this message",
			Error:       fmt.Sprintf("transaction: %v", err),
		})
		return aborted
	}

	b.commitments = append(b.commitments, commitments...)
	b.people = append(b.people, people...)
	return out
}

func failedOutcome(it item, err error) core.Outcome {
	return core.Outcome{
		Success:     false,
		Type:        it.kind + "_failed",
		Description: fmt.Sprintf("Could not process %s %q", it.kind, it.label),
		Data:        map[string]any{"item": it.label},
		Error:       fmt.Sprintf("%s %q: %v", it.kind, it.label, err),
		UserVisible: false,
	}
}

// index hands committed rows to the indexer.
func (p *Processor) index(ctx context.Context, b *batch) {
	if p.indexer == nil {
		return
	}
	for _, c := range b.commitments {
		if err := p.indexer.IndexCommitment(ctx, c); err != nil {
			p.log.WithFields(map[string]interface{}{
				"commitment_id": c.ID,
				"error":         err,
			}).Warn("index commitment failed")
		}
	}
	for _, person := range b.people {
		if err := p.indexer.IndexPerson(ctx, person); err != nil {
			p.log.WithFields(map[string]interface{}{
				"person_id": person.ID,
				"error":     err,
			}).Warn("index person failed")
		}
	}
}

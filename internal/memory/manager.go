// Package memory implements the companion's semantic memory: it embeds
// conversations, commitments, habits and people into the vector index
// and answers similarity queries over them.
package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/quantumlife/companion/internal/core"
	"github.com/quantumlife/companion/internal/embeddings"
	"github.com/quantumlife/companion/internal/logging"
	"github.com/quantumlife/companion/internal/storage"
	"github.com/quantumlife/companion/internal/vectors"
)

// Manager handles all memory operations
type Manager struct {
	embedder embeddings.Embedder
	index    vectors.Index
	log      *logging.Logger
}

// NewManager creates a memory manager. Either argument may be nil, in
// which case indexing is a no-op and searches return nothing.
func NewManager(embedder embeddings.Embedder, index vectors.Index) *Manager {
	return &Manager{
		embedder: embedder,
		index:    index,
		log:      logging.Component("memory"),
	}
}

// Enabled reports whether semantic memory is configured.
func (m *Manager) Enabled() bool {
	return m != nil && m.embedder != nil && m.index != nil
}

// Init creates the collections sized for the embedder.
func (m *Manager) Init(ctx context.Context) error {
	if !m.Enabled() {
		return nil
	}
	return m.index.EnsureCollections(ctx, m.embedder.Dimension())
}

// ConversationText is the text embedded for a chat turn.
func ConversationText(c *core.Conversation) string {
	return fmt.Sprintf("User: %s\nAssistant: %s", c.Message, c.Response)
}

// PersonText is the text embedded for a person.
func PersonText(p *core.Person) string {
	parts := []string{p.Name}
	if p.HowYouKnowThem != "" {
		parts = append(parts, p.HowYouKnowThem)
	}
	if p.Description != "" {
		parts = append(parts, p.Description)
	}
	return strings.Join(parts, ". ")
}

// IndexConversation stores a chat turn.
func (m *Manager) IndexConversation(ctx context.Context, c *core.Conversation) error {
	return m.store(ctx, vectors.CollectionConversations, c.UserID, c.ID, ConversationText(c), map[string]interface{}{
		"message":   c.Message,
		"response":  c.Response,
		"timestamp": c.Timestamp.UTC().Unix(),
	})
}

// IndexCommitment stores a commitment. Recurring commitments are also
// indexed as habits.
func (m *Manager) IndexCommitment(ctx context.Context, c *core.Commitment) error {
	meta := map[string]interface{}{
		"status":     string(c.Status),
		"recurrence": string(c.RecurrencePattern),
	}
	if c.Deadline != nil {
		meta["deadline"] = core.DateOf(*c.Deadline)
	}
	if err := m.store(ctx, vectors.CollectionCommitments, c.UserID, c.ID, c.TaskDescription, meta); err != nil {
		return err
	}
	if !c.IsRecurring() {
		return nil
	}
	return m.store(ctx, vectors.CollectionHabits, c.UserID, c.ID, c.TaskDescription, map[string]interface{}{
		"recurrence": string(c.RecurrencePattern),
		"due_time":   c.DueTime,
	})
}

// IndexPerson stores a person.
func (m *Manager) IndexPerson(ctx context.Context, p *core.Person) error {
	return m.store(ctx, vectors.CollectionPeople, p.UserID, p.ID, PersonText(p), map[string]interface{}{
		"name": p.Name,
	})
}

// Forget removes a record from collection.
func (m *Manager) Forget(ctx context.Context, collection string, refID int64) error {
	if !m.Enabled() {
		return nil
	}
	return m.index.Delete(ctx, collection, []string{vectors.PointID(collection, refID)})
}

func (m *Manager) store(ctx context.Context, collection string, userID core.UserID, refID int64, text string, meta map[string]interface{}) error {
	if !m.Enabled() {
		return nil
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	embedding, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("failed to generate embedding: %w", err)
	}

	payload := map[string]interface{}{
		"user_id": int64(userID),
		"ref_id":  refID,
		"text":    text,
	}
	for k, v := range meta {
		payload[k] = v
	}

	err = m.index.Upsert(ctx, collection, []vectors.Point{{
		ID:      vectors.PointID(collection, refID),
		Vector:  embedding,
		Payload: payload,
	}})
	if err != nil {
		return fmt.Errorf("failed to store vector: %w", err)
	}
	return nil
}

// SearchOptions for memory retrieval
type SearchOptions struct {
	Limit    int
	MinScore float64
}

// Search finds records in collection similar to query, best first.
// Hits below MinScore are dropped.
func (m *Manager) Search(ctx context.Context, collection string, userID core.UserID, query string, opts SearchOptions) ([]core.SemanticMatch, error) {
	if !m.Enabled() {
		return []core.SemanticMatch{}, nil
	}

	embedding, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 5
	}

	results, err := m.index.Search(ctx, collection, embedding, uint64(limit), vectors.UserFilter(userID))
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	matches := make([]core.SemanticMatch, 0, len(results))
	for _, r := range results {
		score := float64(r.Score)
		if score < opts.MinScore {
			continue
		}
		refID, ok := vectors.PayloadInt(r.Payload, "ref_id")
		if !ok {
			continue
		}
		meta := make(map[string]any, len(r.Payload))
		for k, v := range r.Payload {
			switch k {
			case "user_id", "ref_id", "text":
			default:
				meta[k] = v
			}
		}
		matches = append(matches, core.SemanticMatch{
			Collection: collection,
			RefID:      refID,
			Text:       vectors.PayloadString(r.Payload, "text"),
			Similarity: score,
			Metadata:   meta,
		})
	}
	return matches, nil
}

// Reindex rebuilds the index for userID from the database. It returns
// how many records were embedded.
func (m *Manager) Reindex(ctx context.Context, db *storage.DB, userID core.UserID, conversationLimit int) (int, error) {
	if !m.Enabled() {
		return 0, nil
	}
	if err := m.Init(ctx); err != nil {
		return 0, err
	}

	count := 0
	convs, err := storage.NewConversationStore(db).Recent(ctx, userID, conversationLimit)
	if err != nil {
		return count, err
	}
	for _, c := range convs {
		if err := m.IndexConversation(ctx, c); err != nil {
			return count, err
		}
		count++
	}

	commitments, err := storage.NewCommitmentStore(db).List(ctx, userID, storage.CommitmentFilter{})
	if err != nil {
		return count, err
	}
	for _, c := range commitments {
		if err := m.IndexCommitment(ctx, c); err != nil {
			return count, err
		}
		count++
	}

	people, err := storage.NewPersonStore(db).List(ctx, userID)
	if err != nil {
		return count, err
	}
	for _, p := range people {
		if err := m.IndexPerson(ctx, p); err != nil {
			return count, err
		}
		count++
	}

	m.log.WithFields(map[string]interface{}{
		"user_id": userID,
		"records": count,
	}).Info("reindexed semantic memory")
	return count, nil
}

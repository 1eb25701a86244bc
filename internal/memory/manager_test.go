package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumlife/companion/internal/core"
	"github.com/quantumlife/companion/internal/embeddings"
	"github.com/quantumlife/companion/internal/testutil"
	"github.com/quantumlife/companion/internal/vectors"
)

// testManager returns a manager over the hash embedder and an
// in-memory index.
func testManager(t *testing.T) (*Manager, *vectors.MemoryStore) {
	t.Helper()
	index := vectors.NewMemory()
	m := NewManager(embeddings.NewHash(0), index)
	require.NoError(t, m.Init(context.Background()))
	return m, index
}

// =============================================================================
// Indexing Tests
// =============================================================================

func TestManager_IndexCommitment(t *testing.T) {
	m, index := testManager(t)
	ctx := context.Background()

	oneTime := testutil.OneTimeCommitment("Finish the quarterly report", "2025-03-14")
	oneTime.ID = 1
	habit := testutil.DailyHabit("Meditate")
	habit.ID = 2

	require.NoError(t, m.IndexCommitment(ctx, oneTime))
	require.NoError(t, m.IndexCommitment(ctx, habit))

	assert.Equal(t, 2, index.Len(vectors.CollectionCommitments))
	assert.Equal(t, 1, index.Len(vectors.CollectionHabits))

	// Re-indexing the same row overwrites it.
	require.NoError(t, m.IndexCommitment(ctx, habit))
	assert.Equal(t, 1, index.Len(vectors.CollectionHabits))
}

func TestManager_SearchFindsSimilar(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	for i, text := range []string{"Go jogging in the park", "Read a novel", "Call the dentist"} {
		c := testutil.DailyHabit(text)
		c.ID = int64(i + 1)
		require.NoError(t, m.IndexCommitment(ctx, c))
	}

	got, err := m.Search(ctx, vectors.CollectionHabits, core.DefaultUserID, "jogging in the park", SearchOptions{Limit: 3})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, int64(1), got[0].RefID)
	assert.Equal(t, "Go jogging in the park", got[0].Text)
	assert.Equal(t, vectors.CollectionHabits, got[0].Collection)
	assert.Equal(t, "daily", got[0].Metadata["recurrence"])
	assert.NotContains(t, got[0].Metadata, "user_id")
}

func TestManager_SearchMinScore(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	p := &core.Person{ID: 1, UserID: core.DefaultUserID, Name: "Sarah", HowYouKnowThem: "college roommate"}
	require.NoError(t, m.IndexPerson(ctx, p))

	got, err := m.Search(ctx, vectors.CollectionPeople, core.DefaultUserID, "quarterly budget spreadsheet", SearchOptions{MinScore: 0.9})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestManager_SearchScopedToUser(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	conv := &core.Conversation{ID: 1, UserID: 2, Message: "I went hiking", Response: "Nice!", Timestamp: testutil.Now}
	require.NoError(t, m.IndexConversation(ctx, conv))

	got, err := m.Search(ctx, vectors.CollectionConversations, core.DefaultUserID, "I went hiking", SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = m.Search(ctx, vectors.CollectionConversations, 2, "I went hiking", SearchOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "I went hiking", got[0].Metadata["message"])
}

func TestManager_Forget(t *testing.T) {
	m, index := testManager(t)
	ctx := context.Background()

	p := &core.Person{ID: 4, UserID: core.DefaultUserID, Name: "Tom"}
	require.NoError(t, m.IndexPerson(ctx, p))
	require.NoError(t, m.Forget(ctx, vectors.CollectionPeople, 4))
	assert.Equal(t, 0, index.Len(vectors.CollectionPeople))
}

// =============================================================================
// Disabled and Failure Tests
// =============================================================================

func TestManager_Disabled(t *testing.T) {
	m := NewManager(nil, nil)
	ctx := context.Background()

	assert.False(t, m.Enabled())
	assert.NoError(t, m.Init(ctx))
	assert.NoError(t, m.IndexPerson(ctx, &core.Person{ID: 1, Name: "Tom"}))

	got, err := m.Search(ctx, vectors.CollectionPeople, core.DefaultUserID, "Tom", SearchOptions{})
	assert.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

type brokenEmbedder struct{}

func (brokenEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, core.ErrEmbeddingFailed
}

func (brokenEmbedder) Dimension() uint64 { return 8 }

func TestManager_EmbedFailure(t *testing.T) {
	index := vectors.NewMemory()
	m := NewManager(brokenEmbedder{}, index)
	ctx := context.Background()
	require.NoError(t, m.Init(ctx))

	err := m.IndexPerson(ctx, &core.Person{ID: 1, Name: "Tom"})
	if !errors.Is(err, core.ErrEmbeddingFailed) {
		t.Errorf("IndexPerson() error = %v, want ErrEmbeddingFailed", err)
	}
	_, err = m.Search(ctx, vectors.CollectionPeople, core.DefaultUserID, "Tom", SearchOptions{})
	assert.ErrorIs(t, err, core.ErrEmbeddingFailed)
}

// =============================================================================
// Reindex Tests
// =============================================================================

func TestManager_Reindex(t *testing.T) {
	db := testutil.TestDB(t)
	m, index := testManager(t)
	ctx := context.Background()

	testutil.CreateCommitment(t, db, testutil.DailyHabit("Meditate"))
	testutil.CreateCommitment(t, db, testutil.OneTimeCommitment("Call the bank", "2025-03-13"))
	testutil.CreatePerson(t, db, "Sarah", "coworker")
	testutil.CreateConversation(t, db, "hi", "hello!", testutil.Now)

	n, err := m.Reindex(ctx, db, core.DefaultUserID, 100)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 2, index.Len(vectors.CollectionCommitments))
	assert.Equal(t, 1, index.Len(vectors.CollectionHabits))
	assert.Equal(t, 1, index.Len(vectors.CollectionPeople))
	assert.Equal(t, 1, index.Len(vectors.CollectionConversations))
}

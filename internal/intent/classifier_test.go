package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumlife/companion/internal/core"
	"github.com/quantumlife/companion/internal/embeddings"
)

// =============================================================================
// Pattern Classifier Tests
// =============================================================================

func TestPatternClassifier_Classify(t *testing.T) {
	tests := []struct {
		name           string
		message        string
		wantIntent     core.IntentType
		wantConfidence float64
	}{
		{"commitment", "I'll call mom tomorrow", core.IntentCommitmentMaking, 0.75},
		{"general chat", "hello there", core.IntentGeneralChat, 0.5},
		{"query", "How many times did I work out this week?", core.IntentInformationQuery, 0.95},
		{"mood", "I'm feeling stressed about work", core.IntentMoodReflection, 0.85},
		{"social", "Sarah mentioned a great book", core.IntentSocialReference, 0.75},
		{"habit wins ties", "I just finished my workout, feeling tired", core.IntentHabitTracking, 0.85},
	}

	c := NewPatternClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(context.Background(), tt.message)
			if got.PrimaryIntent != tt.wantIntent {
				t.Errorf("PrimaryIntent = %v, want %v", got.PrimaryIntent, tt.wantIntent)
			}
			if got.Confidence != tt.wantConfidence {
				t.Errorf("Confidence = %v, want %v", got.Confidence, tt.wantConfidence)
			}
		})
	}
}

func TestPatternClassifier_CommitmentScenario(t *testing.T) {
	got := NewPatternClassifier().Classify(context.Background(), "I'll call mom tomorrow")

	assert.Equal(t, core.IntentCommitmentMaking, got.PrimaryIntent)
	assert.Contains(t, got.Entities.People, "mom")
	assert.Contains(t, got.Entities.TimeReferences, "tomorrow")
	assert.GreaterOrEqual(t, got.Confidence, 0.6)
	assert.Equal(t, []core.ContextCategory{
		core.ContextSimilarCommitments, core.ContextTemporal, core.ContextPersonProfile,
	}, got.ContextNeeded)
	assert.Equal(t, core.UrgencyNormal, got.Urgency)
}

func TestPatternClassifier_SecondaryIntents(t *testing.T) {
	c := NewPatternClassifier()

	got := c.Classify(context.Background(), "I just finished my workout, feeling tired")
	assert.Equal(t, []core.IntentType{core.IntentMoodReflection}, got.SecondaryIntents)

	got = c.Classify(context.Background(), "I'm stressed about work, my boss said the deadline moved")
	assert.Equal(t, core.IntentMoodReflection, got.PrimaryIntent)
	assert.Equal(t, []core.IntentType{core.IntentSocialReference}, got.SecondaryIntents)

	got = c.Classify(context.Background(), "hello there")
	assert.NotNil(t, got.SecondaryIntents)
	assert.Empty(t, got.SecondaryIntents)
}

func TestPatternClassifier_QueryContext(t *testing.T) {
	got := NewPatternClassifier().Classify(context.Background(), "How many times did I work out this week?")
	want := []core.ContextCategory{
		core.ContextHabitHistory, core.ContextMoodTrends, core.ContextRecentConversations, core.ContextTemporal,
	}
	if diff := cmp.Diff(want, got.ContextNeeded); diff != "" {
		t.Errorf("ContextNeeded mismatch (-want +got):\n%s", diff)
	}
}

// =============================================================================
// Entity Tests
// =============================================================================

func TestExtractEntities_People(t *testing.T) {
	e := ExtractEntities("Had coffee with Sarah Connor and my cousin on Friday at 3pm")

	assert.Contains(t, e.People, "Sarah Connor")
	assert.Contains(t, e.People, "cousin")
	assert.NotContains(t, e.People, "Had")
	assert.NotContains(t, e.People, "Friday")

	assert.Contains(t, e.TimeReferences, "on friday")
	assert.Contains(t, e.TimeReferences, "3pm")
}

func TestExtractEntities_Habits(t *testing.T) {
	e := ExtractEntities("I went jogging and meditated, then walked home")
	assert.Equal(t, []string{"jogging", "meditated", "walked"}, e.Habits)
}

func TestExtractEntities_Actions(t *testing.T) {
	e := ExtractEntities("I need to call the bank and let me email Tom")
	assert.Equal(t, []string{"call", "email"}, e.Actions)
}

func TestExtractEntities_EmptyListsNotNil(t *testing.T) {
	e := ExtractEntities("zzz")
	assert.NotNil(t, e.People)
	assert.NotNil(t, e.Habits)
	assert.NotNil(t, e.TimeReferences)
	assert.NotNil(t, e.Emotions)
	assert.NotNil(t, e.Actions)
}

func TestHasHabitRoot(t *testing.T) {
	tests := []struct {
		word string
		want bool
	}{
		{"running", true},
		{"walked", true},
		{"swimming", true},
		{"jogged", true},
		{"meditated", true},
		{"singing", false},
		{"red", false},
	}
	for _, tt := range tests {
		if got := hasHabitRoot(tt.word); got != tt.want {
			t.Errorf("hasHabitRoot(%q) = %v, want %v", tt.word, got, tt.want)
		}
	}
}

func TestDetermineUrgency(t *testing.T) {
	tests := []struct {
		message string
		want    core.Urgency
	}{
		{"this is urgent, need it asap", core.UrgencyImmediate},
		{"maybe sometime next month", core.UrgencyLow},
		{"no rush, do it today", core.UrgencyLow},
		{"just saying hi", core.UrgencyNormal},
		{"I know the plan", core.UrgencyNormal},
	}
	for _, tt := range tests {
		if got := DetermineUrgency(tt.message); got != tt.want {
			t.Errorf("DetermineUrgency(%q) = %v, want %v", tt.message, got, tt.want)
		}
	}
}

func TestContextNeeded_GeneralChat(t *testing.T) {
	got := ContextNeeded(core.IntentGeneralChat, core.Entities{})
	assert.NotNil(t, got)
	assert.Empty(t, got)

	got = ContextNeeded(core.IntentGeneralChat, core.Entities{TimeReferences: []string{"tonight"}})
	assert.Equal(t, []core.ContextCategory{core.ContextTemporal}, got)
}

// =============================================================================
// Semantic Classifier Tests
// =============================================================================

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("offline")
}

func (failingEmbedder) Dimension() uint64 { return 4 }

func TestSemanticClassifier_Classify(t *testing.T) {
	c := NewSemanticClassifier(embeddings.NewHash(0), 0)
	ctx := context.Background()

	got := c.Classify(ctx, "I'll call mom tomorrow")
	assert.Equal(t, core.IntentCommitmentMaking, got.PrimaryIntent)
	assert.Contains(t, got.Entities.People, "mom")
	assert.GreaterOrEqual(t, got.Confidence, 0.4)

	got = c.Classify(ctx, "What's my meditation streak?")
	assert.Equal(t, core.IntentInformationQuery, got.PrimaryIntent)
}

func TestSemanticClassifier_BelowThreshold(t *testing.T) {
	c := NewSemanticClassifier(embeddings.NewHash(0), 0.4)
	got := c.Classify(context.Background(), "zxqv plorth")

	assert.Equal(t, core.IntentGeneralChat, got.PrimaryIntent)
	assert.Equal(t, 0.5, got.Confidence)
}

func TestSemanticClassifier_ConfidenceCapped(t *testing.T) {
	c := NewSemanticClassifier(embeddings.NewHash(0), 0)
	got := c.Classify(context.Background(), "I always drink water daily and I usually exercise regularly")

	assert.Equal(t, core.IntentHabitTracking, got.PrimaryIntent)
	assert.LessOrEqual(t, got.Confidence, 1.0)
}

func TestSemanticClassifier_FallsBackToPatterns(t *testing.T) {
	c := NewSemanticClassifier(failingEmbedder{}, 0)
	msg := "I'm feeling stressed about work"

	got := c.Classify(context.Background(), msg)
	want := NewPatternClassifier().Classify(context.Background(), msg)
	require.NotNil(t, got)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("fallback mismatch (-want +got):\n%s", diff)
	}
}

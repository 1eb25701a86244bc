package core

import "time"

// -----------------------------------------------------------------------------
// ENHANCED CONTEXT - What the retriever hands to the LLM processor
// -----------------------------------------------------------------------------

// RetrievalMethod records how a context item was found.
type RetrievalMethod string

const (
	RetrievedRecent   RetrievalMethod = "recent"
	RetrievedSemantic RetrievalMethod = "semantic"
	RetrievedKeyword  RetrievalMethod = "keyword"
	RetrievedExact    RetrievalMethod = "exact"
	RetrievedFuzzy    RetrievalMethod = "fuzzy"
)

// ConversationContext is a past chat turn relevant to the message.
type ConversationContext struct {
	ID              int64           `json:"id"`
	Message         string          `json:"message"`
	Response        string          `json:"response"`
	Timestamp       time.Time       `json:"timestamp"`
	RetrievalMethod RetrievalMethod `json:"retrieval_method"`
	Similarity      float64         `json:"similarity,omitempty"`
}

// PersonStatus describes the outcome of a person lookup.
type PersonStatus string

const (
	PersonFound        PersonStatus = "found"
	PersonSimilarFound PersonStatus = "similar_found"
	PersonUnknown      PersonStatus = "unknown"
)

// PersonContext is what is known about a mentioned person.
type PersonContext struct {
	Status             PersonStatus    `json:"status"`
	Person             *Person         `json:"person,omitempty"`
	MightBeReferringTo []string        `json:"might_be_referring_to,omitempty"`
	Suggestion         string          `json:"suggestion,omitempty"`
	RetrievalMethod    RetrievalMethod `json:"retrieval_method,omitempty"`
}

// HabitContext summarizes a recurring commitment.
type HabitContext struct {
	CommitmentID      int64      `json:"commitment_id"`
	Name              string     `json:"name"`
	Recurrence        Recurrence `json:"recurrence_pattern"`
	DueTime           string     `json:"due_time,omitempty"`
	CompletedToday    bool       `json:"completed_today"`
	CurrentStreak     int        `json:"current_streak"`
	RecentCompletions int        `json:"recent_completions"`
	CompletionCount   int        `json:"completion_count"`
}

// MoodLabel is the ordinal name of an average mood.
type MoodLabel string

const (
	MoodVeryNegative MoodLabel = "very_negative"
	MoodNegative     MoodLabel = "negative"
	MoodNeutral      MoodLabel = "neutral"
	MoodPositive     MoodLabel = "positive"
	MoodVeryPositive MoodLabel = "very_positive"
)

// Score maps the label onto the 1..5 check-in scale. Unknown labels are
// neutral.
func (m MoodLabel) Score() int {
	switch m {
	case MoodVeryNegative:
		return 1
	case MoodNegative:
		return 2
	case MoodPositive:
		return 4
	case MoodVeryPositive:
		return 5
	default:
		return 3
	}
}

// MoodEntry is one day in a mood trend.
type MoodEntry struct {
	Date  string `json:"date"`
	Mood  int    `json:"mood"`
	Notes string `json:"notes,omitempty"`
}

// MoodPattern is the rolling mood summary.
type MoodPattern struct {
	Status        string      `json:"status"` // "ok" or "no_recent_data"
	AverageMood   float64     `json:"average_mood"`
	Label         MoodLabel   `json:"label,omitempty"`
	TodayMood     *int        `json:"today_mood,omitempty"`
	TrendDays     int         `json:"trend_days"`
	RecentEntries []MoodEntry `json:"recent_entries,omitempty"`
}

// SimilarCommitment is a past commitment that resembles the message.
type SimilarCommitment struct {
	CommitmentID    int64            `json:"commitment_id"`
	Task            string           `json:"task"`
	Status          CommitmentStatus `json:"status"`
	Deadline        string           `json:"deadline,omitempty"`
	KeywordOverlap  int              `json:"keyword_overlap,omitempty"`
	Similarity      float64          `json:"similarity"`
	RetrievalMethod RetrievalMethod  `json:"retrieval_method"`
}

// UpcomingDeadline is a pending commitment due soon.
type UpcomingDeadline struct {
	CommitmentID int64  `json:"commitment_id"`
	Task         string `json:"task"`
	Deadline     string `json:"deadline"`
	DaysUntil    int    `json:"days_until"`
}

// TemporalContext anchors the message in time.
type TemporalContext struct {
	CurrentTime       time.Time          `json:"current_time"`
	DayOfWeek         string             `json:"day_of_week"`
	TimeReferences    []string           `json:"time_references,omitempty"`
	UpcomingDeadlines []UpcomingDeadline `json:"upcoming_deadlines"`
}

// SemanticMatch is a raw similarity hit from one collection.
type SemanticMatch struct {
	Collection string         `json:"collection"`
	RefID      int64          `json:"ref_id"`
	Text       string         `json:"text"`
	Similarity float64        `json:"similarity"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// EnhancedContext is the bundle assembled for one message.
type EnhancedContext struct {
	Conversations      []ConversationContext    `json:"conversations"`
	People             map[string]PersonContext `json:"people"`
	Habits             []HabitContext           `json:"habits"`
	Mood               *MoodPattern             `json:"mood,omitempty"`
	SimilarCommitments []SimilarCommitment      `json:"similar_commitments"`
	Temporal           *TemporalContext         `json:"temporal,omitempty"`
	SemanticMatches    []SemanticMatch          `json:"semantic_matches"`
	Profile            *UserProfile             `json:"profile,omitempty"`
	Sources            []string                 `json:"sources"`
	Errors             []string                 `json:"errors,omitempty"`
}

// NewEnhancedContext returns an empty context with non-nil collections.
func NewEnhancedContext() *EnhancedContext {
	return &EnhancedContext{
		Conversations:      []ConversationContext{},
		People:             map[string]PersonContext{},
		Habits:             []HabitContext{},
		SimilarCommitments: []SimilarCommitment{},
		SemanticMatches:    []SemanticMatch{},
		Sources:            []string{},
	}
}

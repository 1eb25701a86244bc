package core

// IntentType is the primary purpose of a user message.
type IntentType string

const (
	IntentHabitTracking    IntentType = "habit_tracking"
	IntentCommitmentMaking IntentType = "commitment_making"
	IntentSocialReference  IntentType = "social_reference"
	IntentMoodReflection   IntentType = "mood_reflection"
	IntentInformationQuery IntentType = "information_query"
	IntentGeneralChat      IntentType = "general_chat"
)

// ContextCategory names a slice of context the retriever can assemble.
type ContextCategory string

const (
	ContextHabitHistory        ContextCategory = "habit_history"
	ContextRecentConversations ContextCategory = "recent_conversations"
	ContextSimilarCommitments  ContextCategory = "similar_commitments"
	ContextTemporal            ContextCategory = "temporal_context"
	ContextPersonProfile       ContextCategory = "person_profile"
	ContextMoodTrends          ContextCategory = "mood_trends"
)

// Urgency of a message.
type Urgency string

const (
	UrgencyImmediate Urgency = "immediate"
	UrgencyNormal    Urgency = "normal"
	UrgencyLow       Urgency = "low"
)

// Entities are the things a message mentions.
type Entities struct {
	People         []string `json:"people"`
	Habits         []string `json:"habits"`
	TimeReferences []string `json:"time_references"`
	Emotions       []string `json:"emotions"`
	Actions        []string `json:"actions"`
}

// HasPeople reports whether any person was mentioned.
func (e Entities) HasPeople() bool { return len(e.People) > 0 }

// HasTime reports whether any time reference was found.
func (e Entities) HasTime() bool { return len(e.TimeReferences) > 0 }

// MessageIntent is the classifier's reading of a message. Not persisted.
type MessageIntent struct {
	PrimaryIntent    IntentType        `json:"primary_intent"`
	SecondaryIntents []IntentType      `json:"secondary_intents"`
	Entities         Entities          `json:"entities"`
	ContextNeeded    []ContextCategory `json:"context_needed"`
	Urgency          Urgency           `json:"urgency"`
	Confidence       float64           `json:"confidence"`
}

// Needs reports whether the intent asks for a context category.
func (m *MessageIntent) Needs(c ContextCategory) bool {
	for _, n := range m.ContextNeeded {
		if n == c {
			return true
		}
	}
	return false
}

// Is reports whether the primary intent is one of the given types.
func (m *MessageIntent) Is(types ...IntentType) bool {
	for _, t := range types {
		if m.PrimaryIntent == t {
			return true
		}
	}
	return false
}

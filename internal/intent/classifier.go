// Package intent classifies user messages and extracts the entities
// the rest of the pipeline works with.
package intent

import (
	"context"
	"regexp"
	"strings"

	"github.com/quantumlife/companion/internal/core"
)

// Classifier reads the intent of a message. Implementations never fail:
// ambiguity resolves to general chat.
type Classifier interface {
	Classify(ctx context.Context, message string) *core.MessageIntent
}

// scoredIntents is the tie-break order when scores are equal.
var scoredIntents = []core.IntentType{
	core.IntentHabitTracking,
	core.IntentCommitmentMaking,
	core.IntentSocialReference,
	core.IntentMoodReflection,
	core.IntentInformationQuery,
}

var intentPatterns = map[core.IntentType][]*regexp.Regexp{
	core.IntentHabitTracking: {
		regexp.MustCompile(`(?i)\b(worked out|exercised|meditated|studied|practiced|completed|finished|did)\b\s*(today|this morning|just now)?`),
		regexp.MustCompile(`(?i)\bI\s*(just|already)?\s*(went|did|completed|finished)\b`),
		regexp.MustCompile(`(?i)(✓|✅|\bdone\b|\bcompleted\b)\s*(\w+)`),
	},
	core.IntentCommitmentMaking: {
		regexp.MustCompile(`(?i)\bI'll\s+(.+?)\s+(today|tomorrow|later|this\s+\w+|by\s+\w+)`),
		regexp.MustCompile(`(?i)\bI\s*(need|have|want|should|must)\s+to\s+(.+?)\s+(today|tomorrow|later|this\s+\w+|by\s+\w+)`),
		regexp.MustCompile(`(?i)\b(remind me|don't let me forget)\s+to\s+(.+)`),
		regexp.MustCompile(`(?i)\bI\s*(promise|commit)\s+to\s+(.+)`),
	},
	core.IntentSocialReference: {
		regexp.MustCompile(`(?i)\b(\w+)\s+(said|mentioned|told me|recommended|suggested)\b`),
		regexp.MustCompile(`(?i)\b(talked|spoke|met|saw|hung out with)\s+(\w+)`),
		regexp.MustCompile(`(?i)\b(\w+)\s+and\s+I\s+(discussed|talked about)\b`),
	},
	core.IntentMoodReflection: {
		regexp.MustCompile(`(?i)\b(feeling|feel|I'm|I am)\s+(stressed|anxious|happy|sad|tired|excited|overwhelmed|great|good|bad)\b`),
		regexp.MustCompile(`(?i)\b(stressed|anxious|worried|concerned)\s+about\b`),
		regexp.MustCompile(`(?i)\b(excited|happy|thrilled)\s+(about|for)\b`),
		regexp.MustCompile(`(?i)\b(my mood|emotionally|mentally)\b`),
	},
	core.IntentInformationQuery: {
		regexp.MustCompile(`(?i)\b(how many|how often|when did|what time|show me|tell me about)\b`),
		regexp.MustCompile(`(?i)\b(did I|have I|was I|were I)\b`),
		regexp.MustCompile(`(?i)\b(statistics|stats|progress|summary|overview)\b`),
		regexp.MustCompile(`(?i)(\?|\b(what|when|where|how|why))\s*$`),
	},
}

var (
	commitmentWords = []string{"remind", "tomorrow", "i'll", "i will"}
	moodWords       = []string{"feel", "feeling", "mood", "stressed", "anxious", "happy"}
)

// PatternClassifier scores messages against fixed regular expressions.
// It does no I/O.
type PatternClassifier struct{}

// NewPatternClassifier creates a pattern classifier
func NewPatternClassifier() *PatternClassifier {
	return &PatternClassifier{}
}

// Classify implements Classifier.
func (c *PatternClassifier) Classify(_ context.Context, message string) *core.MessageIntent {
	lower := strings.ToLower(message)
	scores := patternScores(lower)

	primary := core.IntentGeneralChat
	best := 0
	for _, it := range scoredIntents {
		if scores[it] > best {
			primary, best = it, scores[it]
		}
	}

	entities := ExtractEntities(message)
	return &core.MessageIntent{
		PrimaryIntent:    primary,
		SecondaryIntents: secondaryIntents(lower, primary),
		Entities:         entities,
		ContextNeeded:    ContextNeeded(primary, entities),
		Urgency:          DetermineUrgency(lower),
		Confidence:       patternConfidence(lower, primary),
	}
}

func patternScores(lower string) map[core.IntentType]int {
	scores := make(map[core.IntentType]int, len(scoredIntents))
	for _, it := range scoredIntents {
		scores[it] = matchCount(it, lower)
	}
	if strings.Contains(lower, "?") {
		scores[core.IntentInformationQuery] += 2
	}
	if containsAny(lower, commitmentWords) {
		scores[core.IntentCommitmentMaking]++
	}
	if containsAny(lower, moodWords) {
		scores[core.IntentMoodReflection]++
	}
	return scores
}

func matchCount(it core.IntentType, text string) int {
	n := 0
	for _, re := range intentPatterns[it] {
		if re.MatchString(text) {
			n++
		}
	}
	return n
}

func secondaryIntents(lower string, primary core.IntentType) []core.IntentType {
	secondary := []core.IntentType{}
	if primary == core.IntentMoodReflection && matchCount(core.IntentCommitmentMaking, lower) > 0 {
		secondary = append(secondary, core.IntentCommitmentMaking)
	}
	if primary == core.IntentHabitTracking && matchCount(core.IntentMoodReflection, lower) > 0 {
		secondary = append(secondary, core.IntentMoodReflection)
	}
	if primary != core.IntentSocialReference && matchCount(core.IntentSocialReference, lower) > 0 {
		secondary = append(secondary, core.IntentSocialReference)
	}
	return secondary
}

func patternConfidence(lower string, primary core.IntentType) float64 {
	if primary == core.IntentGeneralChat {
		return 0.5
	}
	switch n := matchCount(primary, lower); {
	case n >= 3:
		return 0.95
	case n == 2:
		return 0.85
	case n == 1:
		return 0.75
	default:
		return 0.6
	}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

package intent

import (
	"context"
	"math"
	"strings"
	"sync"

	"github.com/quantumlife/companion/internal/core"
	"github.com/quantumlife/companion/internal/embeddings"
	"github.com/quantumlife/companion/internal/logging"
)

// intentExamples are labeled sentences whose mean embedding stands for
// each intent.
var intentExamples = map[core.IntentType][]string{
	core.IntentHabitTracking: {
		"I worked out today",
		"I meditated this morning",
		"I usually drink coffee every morning",
		"I always go for a walk after work",
		"I drink milk everyday",
		"I exercise regularly",
		"I have a daily routine of reading",
		"I typically eat breakfast at 8am",
		"I normally take vitamins",
		"I completed my morning workout",
	},
	core.IntentCommitmentMaking: {
		"I'll call mom tomorrow",
		"I need to finish the report by Friday",
		"Remind me to buy groceries",
		"I should exercise tomorrow",
		"I will meditate tonight",
		"I must complete this task",
		"I plan to visit the doctor",
		"I promise to clean the house",
	},
	core.IntentMoodReflection: {
		"I'm feeling stressed about work",
		"I feel happy today",
		"I'm anxious about the meeting",
		"Feeling overwhelmed lately",
		"I'm in a good mood",
		"I feel tired and drained",
		"I'm excited about the weekend",
		"Feeling a bit down today",
	},
	core.IntentSocialReference: {
		"John mentioned a great book",
		"I talked to Sarah about the project",
		"My mom called me yesterday",
		"I met with my colleague",
		"My friend recommended this restaurant",
		"I discussed plans with my partner",
		"My boss asked me to finish this",
		"I spoke with the doctor",
	},
	core.IntentInformationQuery: {
		"How many times did I exercise this week?",
		"What's my meditation streak?",
		"Show me my progress",
		"When did I last call mom?",
		"How often do I work out?",
		"What are my habit statistics?",
		"Tell me about my mood trends",
		"Did I complete my goals yesterday?",
	},
}

// boostWeight scales pattern boosts against cosine similarity.
const boostWeight = 0.3

var (
	habitIndicators = []string{"usually", "always", "everyday", "daily", "regularly", "typically", "normally"}
	habitVerbs      = []string{"drink", "eat", "take", "exercise", "meditate", "work out", "practice"}
	frequencyWords  = []string{"everyday", "daily", "regularly", "usually", "always"}
	commitPhrases   = []string{"i'll", "i will", "i need to", "i should", "remind me"}
	semanticMood    = []string{"feel", "feeling", "mood", "stressed", "happy", "sad", "anxious"}
	questionStarts  = []string{"how", "what", "when", "where", "why", "did i", "have i"}
)

// SemanticClassifier compares a message embedding with per-intent
// centroids and adds pattern boosts. When embedding fails it defers to
// the pattern classifier.
type SemanticClassifier struct {
	embedder  embeddings.Embedder
	fallback  *PatternClassifier
	threshold float64
	log       *logging.Logger

	mu        sync.Mutex
	centroids map[core.IntentType][]float32
}

// NewSemanticClassifier creates a classifier over embedder. A threshold
// of zero uses 0.4.
func NewSemanticClassifier(embedder embeddings.Embedder, threshold float64) *SemanticClassifier {
	if threshold <= 0 {
		threshold = 0.4
	}
	return &SemanticClassifier{
		embedder:  embedder,
		fallback:  NewPatternClassifier(),
		threshold: threshold,
		log:       logging.Component("intent"),
	}
}

// Classify implements Classifier.
func (c *SemanticClassifier) Classify(ctx context.Context, message string) *core.MessageIntent {
	centroids, err := c.loadCentroids(ctx)
	if err != nil {
		c.log.WithField("error", err).Warn("intent centroids unavailable, using patterns")
		return c.fallback.Classify(ctx, message)
	}

	vec, err := c.embedder.Embed(ctx, message)
	if err != nil {
		c.log.WithField("error", err).Warn("message embedding failed, using patterns")
		return c.fallback.Classify(ctx, message)
	}

	lower := strings.ToLower(message)
	boosts := semanticBoosts(lower)

	primary := core.IntentGeneralChat
	best := math.Inf(-1)
	for _, it := range scoredIntents {
		score := embeddings.Cosine(vec, centroids[it]) + boostWeight*boosts[it]
		if score > best {
			primary, best = it, score
		}
	}

	confidence := math.Min(best, 1.0)
	if best < c.threshold {
		primary, confidence = core.IntentGeneralChat, 0.5
	}

	entities := ExtractEntities(message)
	return &core.MessageIntent{
		PrimaryIntent:    primary,
		SecondaryIntents: semanticSecondary(lower, primary, entities),
		Entities:         entities,
		ContextNeeded:    ContextNeeded(primary, entities),
		Urgency:          DetermineUrgency(lower),
		Confidence:       confidence,
	}
}

// loadCentroids embeds the examples on first use and keeps the result.
// A failure is not cached, so a later call retries.
func (c *SemanticClassifier) loadCentroids(ctx context.Context) (map[core.IntentType][]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.centroids != nil {
		return c.centroids, nil
	}

	centroids := make(map[core.IntentType][]float32, len(intentExamples))
	for it, examples := range intentExamples {
		vecs, err := embeddings.EmbedAll(ctx, c.embedder, examples)
		if err != nil {
			return nil, err
		}
		centroids[it] = embeddings.Mean(vecs)
	}
	c.centroids = centroids
	return centroids, nil
}

func semanticBoosts(lower string) map[core.IntentType]float64 {
	boosts := make(map[core.IntentType]float64)
	if containsAny(lower, habitIndicators) {
		boosts[core.IntentHabitTracking] += 1.0
	}
	if containsAny(lower, habitVerbs) && containsAny(lower, frequencyWords) {
		boosts[core.IntentHabitTracking] += 1.5
	}
	if containsAny(lower, commitPhrases) {
		boosts[core.IntentCommitmentMaking] += 1.0
	}
	if containsAny(lower, semanticMood) {
		boosts[core.IntentMoodReflection] += 1.0
	}
	if strings.Contains(lower, "?") || hasAnyPrefix(strings.TrimSpace(lower), questionStarts) {
		boosts[core.IntentInformationQuery] += 1.0
	}
	return boosts
}

func semanticSecondary(lower string, primary core.IntentType, e core.Entities) []core.IntentType {
	secondary := []core.IntentType{}
	if primary == core.IntentMoodReflection && containsAny(lower, []string{"i'll", "i should", "i need to"}) {
		secondary = append(secondary, core.IntentCommitmentMaking)
	}
	if primary == core.IntentHabitTracking && containsAny(lower, []string{"feel", "feeling", "stressed", "happy", "tired"}) {
		secondary = append(secondary, core.IntentMoodReflection)
	}
	if primary != core.IntentSocialReference && e.HasPeople() {
		secondary = append(secondary, core.IntentSocialReference)
	}
	return secondary
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

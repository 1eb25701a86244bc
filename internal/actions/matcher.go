package actions

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/quantumlife/companion/internal/core"
)

// DefaultMatchThreshold is the similarity a habit identifier needs to
// attach to an existing commitment.
const DefaultMatchThreshold = 0.7

var stopWords = map[string]bool{
	"i": true, "my": true, "the": true, "a": true, "an": true,
	"do": true, "did": true, "doing": true,
	"have": true, "had": true, "has": true,
	"take": true, "took": true, "taking": true,
	"go": true, "went": true, "going": true,
	"get": true, "got": true, "getting": true,
	"make": true, "made": true, "making": true,
	"some": true, "today": true, "yesterday": true,
}

// phraseForms are rewritten before stop words are removed, so "went for a
// walk" survives as "walk".
var phraseForms = []struct{ from, to string }{
	{"went for a walk", "walk"},
	{"took a walk", "walk"},
	{"worked out", "workout"},
	{"did laundry", "laundry"},
	{"do laundry", "laundry"},
	{"drank water", "drink water"},
	{"played games", "gaming"},
	{"play games", "gaming"},
}

var wordForms = map[string]string{
	"exercised": "exercise",
	"meditated": "meditate",
	"cooked":    "cook",
	"cleaned":   "clean",
	"studied":   "study",
	"read":      "reading",
	"games":     "gaming",
}

var fillerWords = map[string]bool{
	"daily": true, "regularly": true, "usually": true, "always": true,
	"after": true, "work": true, "evening": true, "morning": true,
	"in": true, "the": true,
}

var cookingPhrases = []string{"self cook meals", "self cooked", "cook meals", "cooked meals"}

// HabitMatcher decides whether free-text habit names refer to the same
// habit. It holds no state and is safe for concurrent use.
type HabitMatcher struct{}

// NewHabitMatcher creates a matcher.
func NewHabitMatcher() *HabitMatcher {
	return &HabitMatcher{}
}

// Normalize reduces a habit name to its comparable core.
func (m *HabitMatcher) Normalize(name string) string {
	s := stripPunctuation(strings.ToLower(name))
	s = strings.Join(strings.Fields(s), " ")
	for _, pf := range phraseForms {
		s = replacePhrase(s, pf.from, pf.to)
	}

	var words []string
	for _, w := range strings.Fields(s) {
		if stopWords[w] {
			continue
		}
		if to, ok := wordForms[w]; ok {
			w = to
		}
		words = append(words, w)
	}
	s = strings.Join(words, " ")

	if collapsed, ok := collapse(s); ok {
		return collapsed
	}

	var kept []string
	for _, w := range strings.Fields(s) {
		if !fillerWords[w] {
			kept = append(kept, w)
		}
	}
	if len(kept) == 0 {
		return s
	}
	return strings.Join(kept, " ")
}

// collapse maps families of phrasings onto one canonical habit.
func collapse(s string) (string, bool) {
	words := strings.Fields(s)
	has := func(w string) bool {
		for _, x := range words {
			if x == w {
				return true
			}
		}
		return false
	}
	switch {
	case has("gaming") || has("game"):
		return "gaming", true
	case has("therapy") && has("chat"):
		return "therapy", true
	}
	for _, p := range cookingPhrases {
		if containsPhrase(s, p) {
			return "cooking", true
		}
	}
	return "", false
}

// Similarity scores two habit names in [0,1].
func (m *HabitMatcher) Similarity(a, b string) float64 {
	na, nb := m.Normalize(a), m.Normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return 0.9
	}
	r := sequenceRatio(na, nb)
	if j := jaccard(na, nb); j > r {
		return j
	}
	return r
}

// FindSimilar returns the candidate most similar to identifier when it
// reaches threshold. Recurring commitments win ties.
func (m *HabitMatcher) FindSimilar(identifier string, candidates []*core.Commitment, threshold float64) (*core.Commitment, float64) {
	var best *core.Commitment
	bestScore := 0.0
	for _, c := range candidates {
		score := m.Similarity(identifier, c.TaskDescription)
		if score < threshold {
			continue
		}
		if best == nil || score > bestScore || (score == bestScore && c.IsRecurring() && !best.IsRecurring()) {
			best, bestScore = c, score
		}
	}
	return best, bestScore
}

// SuggestName turns a habit identifier into a display name for a new
// habit, "went jogging" becoming "Jogging".
func (m *HabitMatcher) SuggestName(identifier string) string {
	n := m.Normalize(identifier)
	if n == "" {
		n = strings.TrimSpace(identifier)
	}
	// Casers keep state between calls, so each call gets its own.
	return cases.Title(language.English).String(n)
}

func stripPunctuation(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return r
		}
		return ' '
	}, s)
}

func containsPhrase(s, phrase string) bool {
	return strings.Contains(" "+s+" ", " "+phrase+" ")
}

func replacePhrase(s, from, to string) string {
	if !containsPhrase(s, from) {
		return s
	}
	out := strings.ReplaceAll(" "+s+" ", " "+from+" ", " "+to+" ")
	return strings.TrimSpace(out)
}

func jaccard(a, b string) float64 {
	wa, wb := wordSet(a), wordSet(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	inter := 0
	for w := range wa {
		if wb[w] {
			inter++
		}
	}
	union := len(wa) + len(wb) - inter
	return float64(inter) / float64(union)
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(s) {
		set[w] = true
	}
	return set
}

// sequenceRatio is the Ratcliff/Obershelp similarity 2*M/T, where M is the
// number of characters in recursively found longest common blocks.
func sequenceRatio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 1
	}
	return 2 * float64(matchingChars(ra, rb)) / float64(total)
}

func matchingChars(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	i, j, n := longestBlock(a, b)
	if n == 0 {
		return 0
	}
	return n + matchingChars(a[:i], b[:j]) + matchingChars(a[i+n:], b[j+n:])
}

// longestBlock finds the longest common substring, preferring the
// earliest one in a.
func longestBlock(a, b []rune) (int, int, int) {
	bestI, bestJ, bestN := 0, 0, 0
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
				if cur[j] > bestN {
					bestN = cur[j]
					bestI, bestJ = i-cur[j], j-cur[j]
				}
			} else {
				cur[j] = 0
			}
		}
		prev, cur = cur, prev
	}
	return bestI, bestJ, bestN
}

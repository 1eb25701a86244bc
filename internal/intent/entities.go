package intent

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/quantumlife/companion/internal/core"
)

var (
	relationPattern = regexp.MustCompile(`(?i)\b(mom|dad|mother|father|brother|sister|wife|husband|partner|spouse|son|daughter|` +
		`boss|manager|colleague|coworker|friend|teammate|roommate|neighbor|doctor|dentist|therapist|teacher|professor|coach)\b`)

	possessivePattern = regexp.MustCompile(`(?i)\bmy\s+(aunt|uncle|cousin|grandma|grandpa|grandmother|grandfather|niece|nephew|` +
		`girlfriend|boyfriend|fiance|fiancee|mentor|landlord|classmate|trainer|sibling|kid|kids|baby|bestie)\b`)

	// Case-sensitive on purpose: capitalization is the signal.
	namePattern = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)?\b`)

	timePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(today|tomorrow|yesterday|tonight)\b`),
		regexp.MustCompile(`(?i)\b(this|next|last)\s+(week|weekend|month|year|monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`),
		regexp.MustCompile(`(?i)\b(morning|afternoon|evening|night)\b`),
		regexp.MustCompile(`(?i)\b(by|before|after|at|on)\s+(\d{1,2}(?::\d{2})?\s*[ap]m|\d+|monday|tuesday|wednesday|thursday|friday|saturday|sunday|noon|midnight|lunch|dinner|work)\b`),
		regexp.MustCompile(`(?i)\b(\d{1,2}:\d{2}|\d{1,2}\s*[ap]m)\b`),
	}

	emotionPattern = regexp.MustCompile(`(?i)\b(happy|sad|angry|frustrated|excited|anxious|stressed|worried|calm|peaceful|tired|energetic|` +
		`great|good|bad|terrible|amazing|awful|okay|fine|overwhelmed|confident|nervous|relaxed|down|lonely|proud)\b`)

	actionIntroPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bI\s+(?:need|should|have|want|must|will|plan)\s+to\s+(\w+)`),
		regexp.MustCompile(`(?i)\bI'll\s+(\w+)`),
		regexp.MustCompile(`(?i)\bgoing\s+to\s+(\w+)`),
		regexp.MustCompile(`(?i)\blet\s+me\s+(\w+)`),
	}
)

// nameStopWords are capitalized words that are not names.
var nameStopWords = map[string]bool{
	"I": true, "The": true, "A": true, "An": true, "My": true, "We": true, "You": true,
	"He": true, "She": true, "They": true, "It": true, "This": true, "That": true,
	"Today": true, "Tomorrow": true, "Yesterday": true, "Tonight": true,
	"Monday": true, "Tuesday": true, "Wednesday": true, "Thursday": true,
	"Friday": true, "Saturday": true, "Sunday": true,
	"January": true, "February": true, "March": true, "April": true, "May": true, "June": true,
	"July": true, "August": true, "September": true, "October": true, "November": true, "December": true,
	"Just": true, "Went": true, "Did": true, "Had": true, "Have": true, "Was": true,
	"What": true, "How": true, "When": true, "Where": true, "Why": true, "Who": true,
	"Can": true, "Could": true, "Should": true, "Would": true, "Will": true, "Do": true,
	"Hey": true, "Hi": true, "Hello": true, "Thanks": true, "Ok": true, "Okay": true, "Yes": true, "No": true,
	"Feeling": true, "Feel": true, "So": true, "And": true, "But": true, "Also": true, "Then": true,
	"Remind": true, "Please": true, "Finally": true, "Actually": true, "Maybe": true,
	"Good": true, "Great": true, "Morning": true, "Evening": true, "Night": true,
	"Worked": true, "Finished": true, "Completed": true, "Done": true, "Need": true,
}

var habitKeywords = map[string]bool{
	"workout": true, "exercise": true, "meditate": true, "meditation": true, "study": true,
	"read": true, "reading": true, "journal": true, "journaling": true, "walk": true,
	"walking": true, "run": true, "running": true, "yoga": true, "practice": true,
	"code": true, "coding": true, "work": true, "sleep": true, "water": true,
	"hydrate": true, "stretch": true, "stretching": true, "bike": true, "biking": true,
	"swim": true, "swimming": true, "pray": true, "prayer": true, "learn": true,
	"learning": true, "clean": true, "cleaning": true, "cook": true, "cooking": true,
	"diet": true, "eat": true, "eating": true, "fast": true, "fasting": true,
	"jog": true, "jogging": true, "gym": true, "floss": true, "vitamins": true,
}

var actionVerbs = map[string]bool{
	"call": true, "email": true, "text": true, "message": true, "meet": true, "finish": true,
	"complete": true, "submit": true, "prepare": true, "review": true, "send": true, "write": true,
	"create": true, "fix": true, "update": true, "buy": true, "purchase": true, "book": true,
	"schedule": true, "cancel": true, "reschedule": true, "visit": true, "go": true, "attend": true,
	"join": true, "start": true, "begin": true, "stop": true, "quit": true, "pause": true,
	"resume": true, "plan": true, "organize": true, "clean": true, "wash": true, "cook": true,
	"make": true, "build": true, "repair": true, "discuss": true, "talk": true, "speak": true,
	"listen": true, "watch": true, "read": true, "study": true, "learn": true, "pay": true,
}

// ExtractEntities pulls people, habits, time references, emotions and
// actions out of message.
func ExtractEntities(message string) core.Entities {
	e := core.Entities{
		People:         []string{},
		Habits:         []string{},
		TimeReferences: []string{},
		Emotions:       []string{},
		Actions:        []string{},
	}

	for _, m := range relationPattern.FindAllString(message, -1) {
		e.People = appendUnique(e.People, strings.ToLower(m))
	}
	for _, m := range possessivePattern.FindAllStringSubmatch(message, -1) {
		e.People = appendUnique(e.People, strings.ToLower(m[1]))
	}
	for _, m := range namePattern.FindAllString(message, -1) {
		var kept []string
		for _, w := range strings.Fields(m) {
			if !nameStopWords[w] {
				kept = append(kept, w)
			}
		}
		if name := strings.Join(kept, " "); len(name) > 1 {
			e.People = appendUnique(e.People, name)
		}
	}

	for _, re := range timePatterns {
		for _, m := range re.FindAllString(message, -1) {
			e.TimeReferences = appendUnique(e.TimeReferences, strings.ToLower(strings.TrimSpace(m)))
		}
	}

	for _, m := range emotionPattern.FindAllString(message, -1) {
		e.Emotions = appendUnique(e.Emotions, strings.ToLower(m))
	}

	words := words(message)
	for _, w := range words {
		if habitKeywords[w] || hasHabitRoot(w) {
			e.Habits = appendUnique(e.Habits, w)
		}
		if actionVerbs[w] {
			e.Actions = appendUnique(e.Actions, w)
		}
	}
	for _, re := range actionIntroPatterns {
		for _, m := range re.FindAllStringSubmatch(message, -1) {
			e.Actions = appendUnique(e.Actions, strings.ToLower(m[1]))
		}
	}

	return e
}

// hasHabitRoot reports whether w is a gerund or past tense of a habit
// keyword ("meditated", "jogging", "walked").
func hasHabitRoot(w string) bool {
	if len(w) <= 4 {
		return false
	}
	var roots []string
	switch {
	case strings.HasSuffix(w, "ing"):
		stem := w[:len(w)-3]
		roots = append(roots, stem, stem+"e")
		if n := len(stem); n > 2 && stem[n-1] == stem[n-2] {
			roots = append(roots, stem[:n-1])
		}
	case strings.HasSuffix(w, "ed"):
		roots = append(roots, w[:len(w)-2], w[:len(w)-1])
		if n := len(w) - 2; n > 2 && w[n-1] == w[n-2] {
			roots = append(roots, w[:n-1])
		}
	}
	for _, r := range roots {
		if habitKeywords[r] {
			return true
		}
	}
	return false
}

func words(message string) []string {
	return strings.FieldsFunc(strings.ToLower(message), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
}

func appendUnique(list []string, s string) []string {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}

// ContextNeeded maps an intent and its entities to the context the
// retriever should gather.
func ContextNeeded(primary core.IntentType, e core.Entities) []core.ContextCategory {
	var needed []core.ContextCategory

	switch primary {
	case core.IntentHabitTracking:
		needed = append(needed, core.ContextHabitHistory, core.ContextRecentConversations)
	case core.IntentCommitmentMaking:
		needed = append(needed, core.ContextSimilarCommitments, core.ContextTemporal)
		if e.HasPeople() {
			needed = append(needed, core.ContextPersonProfile)
		}
	case core.IntentSocialReference:
		needed = append(needed, core.ContextPersonProfile, core.ContextRecentConversations)
	case core.IntentMoodReflection:
		needed = append(needed, core.ContextMoodTrends, core.ContextRecentConversations)
	case core.IntentInformationQuery:
		needed = append(needed, core.ContextHabitHistory, core.ContextMoodTrends, core.ContextRecentConversations)
	}

	if e.HasTime() && !containsCategory(needed, core.ContextTemporal) {
		needed = append(needed, core.ContextTemporal)
	}
	if needed == nil {
		needed = []core.ContextCategory{}
	}
	return needed
}

func containsCategory(list []core.ContextCategory, c core.ContextCategory) bool {
	for _, x := range list {
		if x == c {
			return true
		}
	}
	return false
}

var (
	highUrgency = regexp.MustCompile(`(?i)\b(urgent|asap|immediately|emergency|critical|important|deadline|today|now|stressed|anxious)\b`)
	lowUrgency  = regexp.MustCompile(`(?i)\b(maybe|sometime|eventually|whenever|no rush|when i can|if possible)\b`)
)

// DetermineUrgency is immediate when high-urgency words outnumber low
// ones, low when any low-urgency word appears, normal otherwise.
func DetermineUrgency(message string) core.Urgency {
	high := countDistinct(highUrgency, message)
	low := countDistinct(lowUrgency, message)
	switch {
	case high > low:
		return core.UrgencyImmediate
	case low > 0:
		return core.UrgencyLow
	default:
		return core.UrgencyNormal
	}
}

func countDistinct(re *regexp.Regexp, message string) int {
	seen := make(map[string]bool)
	for _, m := range re.FindAllString(message, -1) {
		seen[strings.ToLower(m)] = true
	}
	return len(seen)
}

package retrieval

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/sahilm/fuzzy"

	"github.com/quantumlife/companion/internal/core"
	"github.com/quantumlife/companion/internal/memory"
	"github.com/quantumlife/companion/internal/vectors"
)

const (
	semanticLimit         = 3
	similarCommitmentScan = 20
	minKeywordOverlap     = 2
	moodTrendDays         = 7
	moodRecentEntries     = 5
	recentCompletionDays  = 7
	deadlineHorizonDays   = 7
)

// semanticMatches collects raw similarity hits from the collections the
// intent points at.
func (r *Retriever) semanticMatches(ctx context.Context, req *request, out *core.EnhancedContext) error {
	type query struct {
		collection string
		minScore   float64
	}
	var queries []query
	if req.intent.Is(core.IntentGeneralChat, core.IntentInformationQuery, core.IntentMoodReflection) {
		queries = append(queries, query{vectors.CollectionConversations, r.cfg.SemanticChatThreshold})
	}
	if req.intent.Is(core.IntentHabitTracking) {
		queries = append(queries, query{vectors.CollectionHabits, r.cfg.HabitThreshold})
	}
	if req.intent.Entities.HasPeople() {
		queries = append(queries, query{vectors.CollectionPeople, r.cfg.PersonThreshold})
	}
	if req.intent.Is(core.IntentCommitmentMaking) {
		queries = append(queries, query{vectors.CollectionCommitments, r.cfg.CommitmentThreshold})
	}

	for _, q := range queries {
		hits, err := r.memory.Search(ctx, q.collection, req.userID, req.message, memory.SearchOptions{
			Limit:    semanticLimit,
			MinScore: q.minScore,
		})
		if err != nil {
			return err
		}
		out.SemanticMatches = append(out.SemanticMatches, hits...)
	}
	sortMatches(out.SemanticMatches)
	return nil
}

// conversationContext merges the latest turns with semantically close
// older ones.
func (r *Retriever) conversationContext(ctx context.Context, req *request, out *core.EnhancedContext) error {
	recent, err := r.conversations.Recent(ctx, req.userID, r.cfg.RecentConversations)
	if err != nil {
		return err
	}

	seen := make(map[int64]bool)
	for _, c := range recent {
		seen[c.ID] = true
		out.Conversations = append(out.Conversations, core.ConversationContext{
			ID:              c.ID,
			Message:         c.Message,
			Response:        c.Response,
			Timestamp:       c.Timestamp,
			RetrievalMethod: core.RetrievedRecent,
		})
	}

	hits, err := r.memory.Search(ctx, vectors.CollectionConversations, req.userID, req.message, memory.SearchOptions{
		Limit:    r.cfg.SemanticConversations + len(recent),
		MinScore: r.cfg.ConversationThreshold,
	})
	if err != nil {
		return err
	}
	added := 0
	for _, h := range hits {
		if added >= r.cfg.SemanticConversations {
			break
		}
		if seen[h.RefID] {
			continue
		}
		c, err := r.conversations.Get(ctx, req.userID, h.RefID)
		if err != nil {
			continue
		}
		seen[c.ID] = true
		added++
		out.Conversations = append(out.Conversations, core.ConversationContext{
			ID:              c.ID,
			Message:         c.Message,
			Response:        c.Response,
			Timestamp:       c.Timestamp,
			RetrievalMethod: core.RetrievedSemantic,
			Similarity:      h.Similarity,
		})
	}

	if limit := r.cfg.ConversationLimit; limit > 0 && len(out.Conversations) > limit {
		out.Conversations = out.Conversations[:limit]
	}
	return nil
}

// peopleContext resolves every mentioned person by name, then by
// similarity, and otherwise suggests creating a profile.
func (r *Retriever) peopleContext(ctx context.Context, req *request, out *core.EnhancedContext) error {
	if !req.intent.Entities.HasPeople() {
		return nil
	}
	everyone, err := r.people.List(ctx, req.userID)
	if err != nil {
		return err
	}
	names := make([]string, len(everyone))
	for i, p := range everyone {
		names[i] = p.Name
	}

	for _, mention := range req.intent.Entities.People {
		if p, method := matchPerson(mention, everyone, names); p != nil {
			out.People[mention] = core.PersonContext{
				Status:          core.PersonFound,
				Person:          p,
				RetrievalMethod: method,
			}
			continue
		}

		hits, err := r.memory.Search(ctx, vectors.CollectionPeople, req.userID, mention+" "+req.message, memory.SearchOptions{
			Limit:    semanticLimit,
			MinScore: r.cfg.PersonMatchThreshold,
		})
		if err != nil {
			return err
		}
		if len(hits) > 0 {
			candidates := make([]string, 0, len(hits))
			for _, h := range hits {
				if name, ok := h.Metadata["name"].(string); ok {
					candidates = append(candidates, name)
				}
			}
			out.People[mention] = core.PersonContext{
				Status:             core.PersonSimilarFound,
				MightBeReferringTo: candidates,
				RetrievalMethod:    core.RetrievedSemantic,
			}
			continue
		}

		out.People[mention] = core.PersonContext{
			Status:     core.PersonUnknown,
			Suggestion: "create_profile",
		}
	}
	return nil
}

// matchPerson tries exact, substring and fuzzy name matches in turn.
func matchPerson(mention string, everyone []*core.Person, names []string) (*core.Person, core.RetrievalMethod) {
	needle := strings.ToLower(strings.TrimSpace(mention))
	if needle == "" {
		return nil, ""
	}
	for _, p := range everyone {
		if strings.ToLower(p.Name) == needle {
			return p, core.RetrievedExact
		}
	}
	for _, p := range everyone {
		name := strings.ToLower(p.Name)
		if strings.Contains(name, needle) || strings.Contains(needle, name) {
			return p, core.RetrievedKeyword
		}
	}
	for _, m := range fuzzy.Find(needle, names) {
		// anchor on the first letter so "mom" does not match "Tom Morris"
		if len(m.MatchedIndexes) > 0 && m.MatchedIndexes[0] == 0 {
			return everyone[m.Index], core.RetrievedFuzzy
		}
	}
	return nil, ""
}

// habitContext summarizes live recurring commitments, the semantically
// closest first.
func (r *Retriever) habitContext(ctx context.Context, req *request, out *core.EnhancedContext) error {
	habits, err := r.commitments.ActiveRecurring(ctx, req.userID)
	if err != nil {
		return err
	}

	lookback := r.cfg.StreakLookbackDays
	if lookback <= 0 {
		lookback = 30
	}
	from := core.DateOf(req.now.AddDate(0, 0, -lookback))
	recentFrom := core.DateOf(req.now.AddDate(0, 0, -(recentCompletionDays - 1)))

	for _, h := range habits {
		completions, err := r.completions.Since(ctx, h.ID, from)
		if err != nil {
			return err
		}
		done := make(map[string]bool, len(completions))
		recent := 0
		for _, c := range completions {
			if c.Status != core.CompletionDone {
				continue
			}
			done[c.CompletionDate] = true
			if c.CompletionDate >= recentFrom {
				recent++
			}
		}
		out.Habits = append(out.Habits, core.HabitContext{
			CommitmentID:      h.ID,
			Name:              h.TaskDescription,
			Recurrence:        h.RecurrencePattern,
			DueTime:           h.DueTime,
			CompletedToday:    done[req.today],
			CurrentStreak:     Streak(done, req.now, lookback),
			RecentCompletions: recent,
			CompletionCount:   h.CompletionCount,
		})
	}

	hits, err := r.memory.Search(ctx, vectors.CollectionHabits, req.userID, req.message, memory.SearchOptions{
		Limit:    semanticLimit,
		MinScore: r.cfg.HabitThreshold,
	})
	if err != nil {
		return err
	}
	rank := make(map[int64]float64, len(hits))
	for _, h := range hits {
		rank[h.RefID] = h.Similarity
	}
	sort.SliceStable(out.Habits, func(i, j int) bool {
		return rank[out.Habits[i].CommitmentID] > rank[out.Habits[j].CommitmentID]
	})
	return nil
}

// Streak counts consecutive completed days ending today, or ending
// yesterday when today is not done yet, capped at maxDays.
func Streak(done map[string]bool, now time.Time, maxDays int) int {
	day := now
	if !done[core.DateOf(day)] {
		day = day.AddDate(0, 0, -1)
	}
	streak := 0
	for streak < maxDays && done[core.DateOf(day)] {
		streak++
		day = day.AddDate(0, 0, -1)
	}
	return streak
}

// moodContext summarizes the last week of check-ins.
func (r *Retriever) moodContext(ctx context.Context, req *request, out *core.EnhancedContext) error {
	from := core.DateOf(req.now.AddDate(0, 0, -(moodTrendDays - 1)))
	checkins, err := r.moods.Since(ctx, req.userID, from)
	if err != nil {
		return err
	}
	out.Mood = MoodSummary(checkins, req.today)
	return nil
}

// MoodSummary builds the mood pattern from check-ins ordered newest
// first.
func MoodSummary(checkins []core.DailyCheckIn, today string) *core.MoodPattern {
	if len(checkins) == 0 {
		return &core.MoodPattern{Status: "no_recent_data"}
	}

	sum := 0
	p := &core.MoodPattern{Status: "ok", TrendDays: len(checkins)}
	for i, c := range checkins {
		sum += c.Mood
		if c.CheckInDate == today {
			mood := c.Mood
			p.TodayMood = &mood
		}
		if i < moodRecentEntries {
			p.RecentEntries = append(p.RecentEntries, core.MoodEntry{Date: c.CheckInDate, Mood: c.Mood, Notes: c.Notes})
		}
	}
	avg := float64(sum) / float64(len(checkins))
	p.AverageMood = math.Round(avg*10) / 10
	p.Label = MoodLabel(int(math.Round(avg)))
	return p
}

// MoodLabel names a 1..5 mood.
func MoodLabel(mood int) core.MoodLabel {
	switch mood {
	case 1:
		return core.MoodVeryNegative
	case 2:
		return core.MoodNegative
	case 4:
		return core.MoodPositive
	case 5:
		return core.MoodVeryPositive
	default:
		return core.MoodNeutral
	}
}

// similarCommitments merges keyword overlap over recent commitments with
// vector hits. A vector score replaces a keyword score for the same row.
func (r *Retriever) similarCommitments(ctx context.Context, req *request, out *core.EnhancedContext) error {
	recent, err := r.commitments.Recent(ctx, req.userID, similarCommitmentScan)
	if err != nil {
		return err
	}

	msgWords := SignificantWords(req.message)
	byID := make(map[int64]*core.SimilarCommitment)
	var order []int64

	for _, c := range recent {
		overlap := countOverlap(msgWords, SignificantWords(c.TaskDescription))
		if overlap < minKeywordOverlap {
			continue
		}
		sc := toSimilar(c)
		sc.KeywordOverlap = overlap
		sc.Similarity = float64(overlap) / float64(len(msgWords))
		sc.RetrievalMethod = core.RetrievedKeyword
		byID[c.ID] = &sc
		order = append(order, c.ID)
	}

	hits, err := r.memory.Search(ctx, vectors.CollectionCommitments, req.userID, req.message, memory.SearchOptions{
		Limit:    r.cfg.SimilarCommitmentLimit,
		MinScore: r.cfg.CommitmentThreshold,
	})
	if err != nil {
		return err
	}
	for _, h := range hits {
		if sc, ok := byID[h.RefID]; ok {
			sc.Similarity = h.Similarity
			sc.RetrievalMethod = core.RetrievedSemantic
			continue
		}
		c, err := r.commitments.Get(ctx, req.userID, h.RefID)
		if errors.Is(err, core.ErrCommitmentNotFound) || errors.Is(err, core.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		sc := toSimilar(c)
		sc.Similarity = h.Similarity
		sc.RetrievalMethod = core.RetrievedSemantic
		byID[c.ID] = &sc
		order = append(order, c.ID)
	}

	for _, id := range order {
		out.SimilarCommitments = append(out.SimilarCommitments, *byID[id])
	}
	sort.SliceStable(out.SimilarCommitments, func(i, j int) bool {
		return out.SimilarCommitments[i].Similarity > out.SimilarCommitments[j].Similarity
	})
	if limit := r.cfg.SimilarCommitmentLimit; limit > 0 && len(out.SimilarCommitments) > limit {
		out.SimilarCommitments = out.SimilarCommitments[:limit]
	}
	return nil
}

func toSimilar(c *core.Commitment) core.SimilarCommitment {
	sc := core.SimilarCommitment{
		CommitmentID: c.ID,
		Task:         c.TaskDescription,
		Status:       c.Status,
	}
	if c.Deadline != nil {
		sc.Deadline = core.DateOf(*c.Deadline)
	}
	return sc
}

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "but": true, "to": true,
	"of": true, "in": true, "on": true, "at": true, "for": true, "with": true, "by": true,
	"i": true, "i'll": true, "i'm": true, "me": true, "my": true, "it": true, "is": true,
	"be": true, "will": true, "need": true, "should": true, "have": true, "has": true,
	"this": true, "that": true, "some": true, "do": true, "did": true, "am": true,
}

// SignificantWords returns the distinct lower-cased words of s minus
// stop words.
func SignificantWords(s string) map[string]bool {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	out := make(map[string]bool, len(words))
	for _, w := range words {
		if !stopWords[w] {
			out[w] = true
		}
	}
	return out
}

func countOverlap(a, b map[string]bool) int {
	n := 0
	for w := range a {
		if b[w] {
			n++
		}
	}
	return n
}

// temporalContext anchors the message in time and lists deadlines in
// the coming week.
func (r *Retriever) temporalContext(ctx context.Context, req *request, out *core.EnhancedContext) error {
	to := core.DateOf(req.now.AddDate(0, 0, deadlineHorizonDays))
	upcoming, err := r.commitments.Upcoming(ctx, req.userID, req.today, to)
	if err != nil {
		return err
	}

	t := &core.TemporalContext{
		CurrentTime:       req.now,
		DayOfWeek:         req.now.Weekday().String(),
		TimeReferences:    req.intent.Entities.TimeReferences,
		UpcomingDeadlines: []core.UpcomingDeadline{},
	}
	for _, c := range upcoming {
		deadline := core.DateOf(*c.Deadline)
		t.UpcomingDeadlines = append(t.UpcomingDeadlines, core.UpcomingDeadline{
			CommitmentID: c.ID,
			Task:         c.TaskDescription,
			Deadline:     deadline,
			DaysUntil:    DaysBetween(req.today, deadline),
		})
	}
	sort.SliceStable(t.UpcomingDeadlines, func(i, j int) bool {
		return t.UpcomingDeadlines[i].DaysUntil < t.UpcomingDeadlines[j].DaysUntil
	})
	out.Temporal = t
	return nil
}

// DaysBetween returns the calendar days from one date to another.
func DaysBetween(from, to string) int {
	a, err1 := time.Parse(core.DateLayout, from)
	b, err2 := time.Parse(core.DateLayout, to)
	if err1 != nil || err2 != nil {
		return 0
	}
	return int(math.Round(b.Sub(a).Hours() / 24))
}

// profile attaches the user profile when one exists.
func (r *Retriever) profile(ctx context.Context, req *request, out *core.EnhancedContext) error {
	p, err := r.people.Profile(ctx, req.userID)
	if errors.Is(err, core.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	out.Profile = p
	return nil
}

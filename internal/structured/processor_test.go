package structured

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumlife/companion/internal/core"
	"github.com/quantumlife/companion/internal/testutil"
)

// stubGenerator returns a canned reply, an error, or blocks until the
// context ends.
type stubGenerator struct {
	reply  string
	err    error
	block  bool
	system string
	prompt string
}

func (s *stubGenerator) Chat(ctx context.Context, system, prompt string) (string, error) {
	s.system, s.prompt = system, prompt
	if s.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return s.reply, s.err
}

func (s *stubGenerator) IsConfigured() bool { return true }

func commitmentIntent() *core.MessageIntent {
	return &core.MessageIntent{
		PrimaryIntent: core.IntentCommitmentMaking,
		Entities:      core.Entities{TimeReferences: []string{"tomorrow"}},
	}
}

// =============================================================================
// Processor Tests
// =============================================================================

func TestProcessor_Structured(t *testing.T) {
	gen := &stubGenerator{reply: `{"message":"I'll remind you.","commitments":[{"task_description":"Call mom","deadline":"tomorrow","priority":"high"}]}`}
	p := NewProcessor(gen, testutil.Clock(), time.Second)

	res := p.Process(context.Background(), "I'll call mom tomorrow", commitmentIntent(), nil, nil)

	assert.Equal(t, ModeStructured, res.Mode)
	assert.False(t, res.Degraded)
	assert.Equal(t, SystemPrompt, gen.system)
	assert.Contains(t, gen.prompt, "User message: I'll call mom tomorrow")

	require.Len(t, res.Response.Commitments, 1)
	c := res.Response.Commitments[0]
	assert.Equal(t, core.PriorityHigh, c.Priority)
	require.NotNil(t, c.Deadline)
	assert.Equal(t, "2025-03-13", core.DateOf(*c.Deadline))
}

func TestProcessor_NoGenerator(t *testing.T) {
	p := NewProcessor(nil, testutil.Clock(), 0)

	res := p.Process(context.Background(), "hello", nil, nil, nil)

	assert.Equal(t, ModeDemo, res.Mode)
	assert.False(t, res.Degraded)
	assert.Equal(t, []string{demoContext}, res.Response.Metadata.ContextUsed)
}

func TestProcessor_GeneratorError(t *testing.T) {
	gen := &stubGenerator{err: errors.New("connection refused")}
	p := NewProcessor(gen, testutil.Clock(), time.Second)

	res := p.Process(context.Background(), "I'll call mom tomorrow", commitmentIntent(), nil, nil)

	assert.Equal(t, ModeDemo, res.Mode)
	assert.True(t, res.Degraded)
	assert.Contains(t, res.Reason, "connection refused")
	assert.Len(t, res.Response.Commitments, 1)
}

func TestProcessor_Timeout(t *testing.T) {
	gen := &stubGenerator{block: true}
	p := NewProcessor(gen, testutil.Clock(), 20*time.Millisecond)

	start := time.Now()
	res := p.Process(context.Background(), "hello", nil, nil, nil)

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, ModeDemo, res.Mode)
	assert.True(t, res.Degraded)
	assert.Contains(t, res.Reason, context.DeadlineExceeded.Error())
}

func TestProcessor_ProseIsDegraded(t *testing.T) {
	gen := &stubGenerator{reply: "Happy to help with that!"}
	p := NewProcessor(gen, testutil.Clock(), time.Second)

	res := p.Process(context.Background(), "hello", nil, nil, nil)

	assert.Equal(t, ModeFallback, res.Mode)
	assert.True(t, res.Degraded)
	assert.Equal(t, "Happy to help with that!", res.Response.Message)
	assert.Equal(t, "Happy to help with that!", res.Raw)
}

// =============================================================================
// Demo Tests
// =============================================================================

func TestDemo_Commitment(t *testing.T) {
	resp := Demo("I'll call mom tomorrow", commitmentIntent(), testutil.Now)

	require.Len(t, resp.Commitments, 1)
	c := resp.Commitments[0]
	assert.Equal(t, "Call mom", c.TaskDescription)
	assert.Equal(t, time.Date(2025, 3, 13, 17, 0, 0, 0, time.UTC), *c.Deadline)
	assert.Equal(t, time.Date(2025, 3, 13, 15, 0, 0, 0, time.UTC), c.ReminderStrategy.InitialReminder)
	assert.Equal(t, []time.Time{time.Date(2025, 3, 13, 16, 30, 0, 0, time.UTC)}, c.ReminderStrategy.FollowUpReminders)
	assert.Equal(t, []string{demoContext}, resp.Metadata.ContextUsed)
}

func TestDemo_CommitmentDeadlines(t *testing.T) {
	tests := []struct {
		message string
		want    time.Time
	}{
		{"I need to file taxes today", time.Date(2025, 3, 12, 23, 59, 0, 0, time.UTC)},
		{"I promise to water the plants", testutil.Now.AddDate(0, 0, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			resp := Demo(tt.message, &core.MessageIntent{PrimaryIntent: core.IntentCommitmentMaking}, testutil.Now)
			require.Len(t, resp.Commitments, 1)
			assert.True(t, resp.Commitments[0].Deadline.Equal(tt.want), "deadline = %v, want %v", resp.Commitments[0].Deadline, tt.want)
		})
	}
}

func TestDemo_Habit(t *testing.T) {
	tests := []struct {
		name   string
		habits []string
		want   string
	}{
		{"named habit", []string{"meditation"}, "meditation"},
		{"no habit entity", nil, "your habit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent := &core.MessageIntent{
				PrimaryIntent: core.IntentHabitTracking,
				Entities:      core.Entities{Habits: tt.habits},
			}
			resp := Demo("done", intent, testutil.Now)
			require.Len(t, resp.HabitActions, 1)
			assert.Equal(t, tt.want, resp.HabitActions[0].HabitIdentifier)
			assert.Equal(t, core.HabitLogCompletion, resp.HabitActions[0].ActionType)
			assert.Equal(t, "2025-03-12", resp.HabitActions[0].CompletionDate)
		})
	}
}

func TestDemo_Mood(t *testing.T) {
	tests := []struct {
		emotion       string
		wantMood      core.MoodLabel
		wantScheduled int
	}{
		{"stressed", core.MoodNegative, 1},
		{"happy", core.MoodPositive, 0},
		{"curious", core.MoodNeutral, 0},
	}

	for _, tt := range tests {
		t.Run(tt.emotion, func(t *testing.T) {
			intent := &core.MessageIntent{
				PrimaryIntent: core.IntentMoodReflection,
				Entities:      core.Entities{Emotions: []string{tt.emotion}},
			}
			resp := Demo("feeling "+tt.emotion, intent, testutil.Now)
			require.NotNil(t, resp.MoodAnalysis)
			assert.Equal(t, tt.wantMood, resp.MoodAnalysis.DetectedMood)
			require.Len(t, resp.ScheduledActions, tt.wantScheduled)
			if tt.wantScheduled > 0 {
				assert.Equal(t, testutil.Now.Add(3*time.Hour), resp.ScheduledActions[0].SendTime)
				assert.True(t, resp.MoodAnalysis.ShouldCheckInLater)
			}
		})
	}
}

// =============================================================================
// Prompt Tests
// =============================================================================

func TestBuildPrompt(t *testing.T) {
	today := 4
	ectx := core.NewEnhancedContext()
	for i := 0; i < 4; i++ {
		ectx.Conversations = append(ectx.Conversations, core.ConversationContext{
			Message:   "turn " + string(rune('A'+i)),
			Timestamp: testutil.Now.Add(-time.Duration(i) * time.Hour),
		})
	}
	ectx.Habits = []core.HabitContext{{Name: "Meditate", Recurrence: core.RecurrenceDaily, CurrentStreak: 3, CompletedToday: true}}
	ectx.People["Tom"] = core.PersonContext{Status: core.PersonUnknown}
	ectx.People["Sarah"] = core.PersonContext{Status: core.PersonFound, Person: &core.Person{Name: "Sarah", HowYouKnowThem: "college roommate"}}
	ectx.Mood = &core.MoodPattern{Status: "ok", AverageMood: 4.3, Label: core.MoodPositive, TrendDays: 3, TodayMood: &today}
	ectx.Temporal = &core.TemporalContext{UpcomingDeadlines: []core.UpcomingDeadline{{Task: "Taxes", Deadline: "2025-03-14", DaysUntil: 2}}}
	ectx.Profile = &core.UserProfile{Name: "Alex"}

	intent := &core.MessageIntent{
		PrimaryIntent:    core.IntentHabitTracking,
		SecondaryIntents: []core.IntentType{core.IntentMoodReflection},
		Entities:         core.Entities{Habits: []string{"meditate"}},
	}

	prompt := BuildPrompt(testutil.Now, "meditated again", intent, ectx, &UserData{Timezone: "UTC"})

	for _, want := range []string{
		"Current time: 2025-03-12 10:00:00",
		"Day of week: Wednesday",
		"User message: meditated again",
		"Detected intent: habit_tracking",
		"Secondary intents: mood_reflection",
		"habits: meditate",
		"turn A", "turn C",
		"Meditate (daily): 3 day streak, completed today",
		"Sarah: college roommate",
		"Tom: unknown person",
		"Recent mood: 4.3/5 (positive) over 3 days",
		"Mood today: 4/5",
		"Taxes: 2025-03-14 (in 2 days)",
		"Name: Alex",
		"User timezone: UTC",
	} {
		assert.Contains(t, prompt, want)
	}
	assert.NotContains(t, prompt, "turn D")
	assert.Less(t, strings.Index(prompt, "Sarah"), strings.Index(prompt, "Tom"))

	// Same inputs, same prompt.
	assert.Equal(t, prompt, BuildPrompt(testutil.Now, "meditated again", intent, ectx, &UserData{Timezone: "UTC"}))
}

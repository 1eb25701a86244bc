package proactive

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumlife/companion/internal/clock"
	"github.com/quantumlife/companion/internal/core"
	"github.com/quantumlife/companion/internal/scheduler"
	"github.com/quantumlife/companion/internal/storage"
	"github.com/quantumlife/companion/internal/testutil"
)

func newTestService(t *testing.T) (*Service, *storage.DB, *clock.Manual, *testutil.MockPublisher) {
	t.Helper()
	db := testutil.TestDB(t)
	clk := testutil.Clock()
	pub := &testutil.MockPublisher{}
	return NewService(db, clk, pub, DefaultServiceConfig()), db, clk, pub
}

// =============================================================================
// Reminder Sweep Tests
// =============================================================================

func TestSweepReminders_SpacingAndLimit(t *testing.T) {
	svc, db, clk, pub := newTestService(t)
	ctx := context.Background()
	c := testutil.CreateCommitment(t, db, testutil.OneTimeCommitment("call the dentist", "2025-03-10"))

	n, err := svc.SweepReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Inside the minimum interval nothing more is sent.
	clk.Advance(2 * time.Hour)
	n, err = svc.SweepReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	clk.Advance(23 * time.Hour)
	n, err = svc.SweepReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Limit reached.
	clk.Advance(48 * time.Hour)
	n, err = svc.SweepReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	assert.Equal(t, []string{
		"You mentioned call the dentist. How did it go?",
		"Looks like call the dentist might have gotten away from you. Want to try again today?",
	}, pub.Contents())

	got, err := storage.NewCommitmentStore(db).GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ReminderCount)
	require.NotNil(t, got.LastRemindedAt)

	msgs, err := storage.NewProactiveStore(db).ForCommitment(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.Equal(t, core.ProactiveCommitmentReminder, m.MessageType)
		assert.NotNil(t, m.SentAt)
	}
	assert.Equal(t, int64(2), svc.GetStats().RemindersSent)
}

func TestSweepReminders_SkipsNotYetOverdue(t *testing.T) {
	svc, db, _, pub := newTestService(t)
	ctx := context.Background()

	testutil.CreateCommitment(t, db, testutil.OneTimeCommitment("finish report", "2025-03-12"))
	testutil.CreateCommitment(t, db, testutil.OneTimeCommitment("renew passport", "2025-03-20"))
	testutil.CreateCommitment(t, db, testutil.OneTimeCommitment("someday", ""))
	testutil.CreateCommitment(t, db, testutil.DailyHabit("Meditation"))

	n, err := svc.SweepReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, pub.Contents())
}

func TestSweepReminders_PublishFailureKeepsMessage(t *testing.T) {
	svc, db, _, pub := newTestService(t)
	pub.Err = errors.New("hub down")
	ctx := context.Background()
	c := testutil.CreateCommitment(t, db, testutil.OneTimeCommitment("water the plants", "2025-03-11"))

	n, err := svc.SweepReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	msgs, err := storage.NewProactiveStore(db).ForCommitment(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestReminderText(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{0, "You mentioned x. How did it go?"},
		{1, "Looks like x might have gotten away from you. Want to try again today?"},
		{5, "Looks like x might have gotten away from you. Want to try again today?"},
	}
	for _, tt := range tests {
		if got := reminderText("x", tt.n); got != tt.want {
			t.Errorf("reminderText(x, %d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

// =============================================================================
// Prompt Sweep Tests
// =============================================================================

func TestPromptDue(t *testing.T) {
	weekday := &core.ScheduledPrompt{ScheduleTime: "17:00", ScheduleDays: []string{"wednesday"}}
	daily := &core.ScheduledPrompt{ScheduleTime: "08:30"}
	sentToday := time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)
	sentYesterday := time.Date(2025, 3, 11, 17, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		prompt   *core.ScheduledPrompt
		now      time.Time
		lastSent *time.Time
		want     bool
	}{
		{"on time", weekday, time.Date(2025, 3, 12, 17, 0, 0, 0, time.UTC), nil, true},
		{"inside window", weekday, time.Date(2025, 3, 12, 16, 56, 0, 0, time.UTC), nil, true},
		{"outside window", weekday, time.Date(2025, 3, 12, 17, 6, 0, 0, time.UTC), nil, false},
		{"wrong day", weekday, time.Date(2025, 3, 13, 17, 0, 0, 0, time.UTC), nil, false},
		{"no days means daily", daily, time.Date(2025, 3, 15, 8, 30, 0, 0, time.UTC), nil, true},
		{"already sent today", weekday, time.Date(2025, 3, 12, 17, 0, 0, 0, time.UTC), &sentToday, false},
		{"sent yesterday", weekday, time.Date(2025, 3, 12, 17, 0, 0, 0, time.UTC), &sentYesterday, true},
		{"bad time", &core.ScheduledPrompt{ScheduleTime: "5pm"}, time.Date(2025, 3, 12, 17, 0, 0, 0, time.UTC), nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := *tt.prompt
			p.LastSentAt = tt.lastSent
			if got := promptDue(&p, tt.now, 5*time.Minute); got != tt.want {
				t.Errorf("promptDue() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSweepPrompts_OncePerDay(t *testing.T) {
	svc, _, clk, pub := newTestService(t)
	ctx := context.Background()

	created, err := svc.EnsureDefaultPrompts(ctx, core.DefaultUserID)
	require.NoError(t, err)
	require.Equal(t, 2, created)

	// 10:00 Wednesday: nothing due.
	n, err := svc.SweepPrompts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	clk.Set(time.Date(2025, 3, 12, 17, 2, 0, 0, time.UTC))
	n, err = svc.SweepPrompts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	clk.Advance(2 * time.Minute)
	n, err = svc.SweepPrompts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// Thursday.
	clk.Set(time.Date(2025, 3, 13, 17, 0, 0, 0, time.UTC))
	n, err = svc.SweepPrompts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Sunday only gets the weekend prompt.
	clk.Set(time.Date(2025, 3, 16, 17, 0, 0, 0, time.UTC))
	n, err = svc.SweepPrompts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	clk.Set(time.Date(2025, 3, 16, 18, 0, 0, 0, time.UTC))
	n, err = svc.SweepPrompts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := pub.Contents()
	require.Len(t, got, 3)
	assert.Contains(t, got[0], "How did work go today?")
	assert.Contains(t, got[2], "How was your weekend?")
	assert.Equal(t, int64(3), svc.GetStats().PromptsSent)
}

func TestEnsureDefaultPrompts_Idempotent(t *testing.T) {
	svc, db, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.EnsureDefaultPrompts(ctx, core.DefaultUserID)
	require.NoError(t, err)
	second, err := svc.EnsureDefaultPrompts(ctx, core.DefaultUserID)
	require.NoError(t, err)

	assert.Equal(t, 2, first)
	assert.Equal(t, 0, second)

	prompts, err := storage.NewProactiveStore(db).ActivePrompts(ctx)
	require.NoError(t, err)
	assert.Len(t, prompts, 2)
}

// =============================================================================
// Delivery Sweep Tests
// =============================================================================

func TestSweepDelivery(t *testing.T) {
	svc, db, clk, pub := newTestService(t)
	ctx := context.Background()
	store := storage.NewProactiveStore(db)

	early := testutil.Now.Add(-time.Hour)
	later := testutil.Now.Add(time.Hour)
	for _, m := range []*core.ProactiveMessage{
		{UserID: core.DefaultUserID, MessageType: core.ProactiveFollowUp, Content: "How did the interview go?", ScheduledFor: &early},
		{UserID: core.DefaultUserID, MessageType: core.ProactiveCommitmentReminder, Content: "Reminder: buy milk", ScheduledFor: &later},
	} {
		require.NoError(t, store.Create(ctx, m))
	}

	n, err := svc.SweepDelivery(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"How did the interview go?"}, pub.Contents())

	n, err = svc.SweepDelivery(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	pending, err := store.Pending(ctx, core.DefaultUserID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "Reminder: buy milk", pending[0].Content)

	clk.Advance(2 * time.Hour)
	n, err = svc.SweepDelivery(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	due, err := svc.DueFor(ctx, core.DefaultUserID, testutil.Now.Add(-24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "Reminder: buy milk", due[0].Content)
}

// =============================================================================
// Registration Tests
// =============================================================================

func TestRegisterTasks(t *testing.T) {
	tests := []struct {
		name string
		fake bool
		want scheduler.ScheduleType
	}{
		{"real time uses cron", false, scheduler.ScheduleCron},
		{"fake time uses intervals", true, scheduler.ScheduleInterval},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := testutil.TestDB(t)
			clk := testutil.Clock()
			cfg := DefaultServiceConfig()
			cfg.FakeTime = tt.fake
			svc := NewService(db, clk, nil, cfg)
			sched := scheduler.NewScheduler(clk, scheduler.DefaultConfig())

			require.NoError(t, svc.RegisterTasks(sched))

			tasks := sched.ListTasks()
			require.Len(t, tasks, 3)
			for _, task := range tasks {
				assert.Equal(t, tt.want, task.Schedule.Type, task.ID)
				assert.True(t, task.Enabled)
			}

			// Registering twice is a duplicate.
			assert.ErrorIs(t, svc.RegisterTasks(sched), core.ErrDuplicateRecord)
		})
	}
}

func TestRegisterTasks_DeliveryRunsOnFakeClock(t *testing.T) {
	db := testutil.TestDB(t)
	clk := testutil.Clock()
	pub := &testutil.MockPublisher{}
	cfg := DefaultServiceConfig()
	cfg.FakeTime = true
	svc := NewService(db, clk, pub, cfg)
	sched := scheduler.NewScheduler(clk, scheduler.DefaultConfig())
	require.NoError(t, svc.RegisterTasks(sched))

	ctx := context.Background()
	at := testutil.Now.Add(30 * time.Second)
	require.NoError(t, storage.NewProactiveStore(db).Create(ctx, &core.ProactiveMessage{
		UserID:       core.DefaultUserID,
		MessageType:  core.ProactiveFollowUp,
		Content:      "Did you get some rest?",
		ScheduledFor: &at,
	}))

	clk.Advance(time.Minute)
	sched.RunPending(ctx)

	assert.Equal(t, []string{"Did you get some rest?"}, pub.Contents())
}

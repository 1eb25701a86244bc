package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/quantumlife/companion/internal/clock"
	"github.com/quantumlife/companion/internal/core"
	"github.com/quantumlife/companion/internal/storage"
)

// Now is the fixed instant fixtures are built around: Wednesday
// 2025-03-12 10:00 UTC.
var Now = time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC)

// Clock returns a manual clock set to Now.
func Clock() *clock.Manual {
	return clock.NewManual(Now)
}

// Date parses a YYYY-MM-DD date in UTC.
func Date(s string) *time.Time {
	t, err := time.ParseInLocation(core.DateLayout, s, time.UTC)
	if err != nil {
		panic(err)
	}
	return &t
}

// OneTimeCommitment returns a pending commitment due on deadline.
func OneTimeCommitment(task, deadline string) *core.Commitment {
	c := &core.Commitment{
		UserID:          core.DefaultUserID,
		TaskDescription: task,
		DeadlineType:    core.DeadlineSpecific,
		Priority:        core.PriorityMedium,
		Status:          core.StatusPending,
		CreatedAt:       Now,
	}
	if deadline != "" {
		c.Deadline = Date(deadline)
	}
	return c
}

// DailyHabit returns an active daily recurring commitment.
func DailyHabit(name string) *core.Commitment {
	return &core.Commitment{
		UserID:            core.DefaultUserID,
		TaskDescription:   name,
		DeadlineType:      core.DeadlineRecurring,
		Priority:          core.PriorityMedium,
		Status:            core.StatusActive,
		RecurrencePattern: core.RecurrenceDaily,
		CreatedAt:         Now,
	}
}

// CreateCommitment stores c and fails the test on error.
func CreateCommitment(t *testing.T, db *storage.DB, c *core.Commitment) *core.Commitment {
	t.Helper()
	if err := storage.NewCommitmentStore(db).WithLocation(time.UTC).Create(context.Background(), c); err != nil {
		t.Fatalf("create commitment: %v", err)
	}
	return c
}

// CreatePerson stores a person and fails the test on error.
func CreatePerson(t *testing.T, db *storage.DB, name, howKnown string) *core.Person {
	t.Helper()
	p := &core.Person{
		UserID:         core.DefaultUserID,
		Name:           name,
		HowYouKnowThem: howKnown,
		CreatedAt:      Now,
		UpdatedAt:      Now,
	}
	if err := storage.NewPersonStore(db).Create(context.Background(), p); err != nil {
		t.Fatalf("create person: %v", err)
	}
	return p
}

// CreateConversation stores a chat turn at ts.
func CreateConversation(t *testing.T, db *storage.DB, message, response string, ts time.Time) *core.Conversation {
	t.Helper()
	c := &core.Conversation{
		UserID:    core.DefaultUserID,
		Message:   message,
		Response:  response,
		Timestamp: ts,
	}
	if err := storage.NewConversationStore(db).Create(context.Background(), c); err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	return c
}

// CompleteOn records a completion for c on date.
func CompleteOn(t *testing.T, db *storage.DB, c *core.Commitment, date string) {
	t.Helper()
	at, _ := time.Parse(core.DateLayout, date)
	if _, err := storage.NewCompletionStore(db).Record(context.Background(), c, date, core.CompletionDone, "", at.Add(12*time.Hour)); err != nil {
		t.Fatalf("record completion: %v", err)
	}
}

// CheckIn stores a mood for date.
func CheckIn(t *testing.T, db *storage.DB, date string, mood int) {
	t.Helper()
	at, _ := time.Parse(core.DateLayout, date)
	_, err := storage.NewMoodStore(db).Upsert(context.Background(), &core.DailyCheckIn{
		UserID:      core.DefaultUserID,
		CheckInDate: date,
		Mood:        mood,
		Timestamp:   at.Add(20 * time.Hour),
	})
	if err != nil {
		t.Fatalf("check in: %v", err)
	}
}

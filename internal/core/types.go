// Package core defines the fundamental types for Companion.
// Persisted records live here; transient pipeline types live in
// intent.go, context.go, response.go and result.go.
package core

import (
	"strings"
	"time"
)

// UserID identifies the owner of every record.
type UserID int64

// DefaultUserID is used when no user is supplied by the caller.
const DefaultUserID UserID = 1

// DateLayout is the storage and wire format for calendar dates.
const DateLayout = "2006-01-02"

// -----------------------------------------------------------------------------
// COMMITMENT - A user-stated task, one-time or recurring
// -----------------------------------------------------------------------------

// CommitmentStatus is the lifecycle state of a commitment.
type CommitmentStatus string

const (
	StatusPending   CommitmentStatus = "pending"
	StatusActive    CommitmentStatus = "active"
	StatusCompleted CommitmentStatus = "completed"
	StatusMissed    CommitmentStatus = "missed"
	StatusDismissed CommitmentStatus = "dismissed"
)

// Valid reports whether s is a known status.
func (s CommitmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusCompleted, StatusMissed, StatusDismissed:
		return true
	}
	return false
}

// Recurrence is how often a commitment repeats.
type Recurrence string

const (
	RecurrenceNone    Recurrence = "none"
	RecurrenceDaily   Recurrence = "daily"
	RecurrenceWeekly  Recurrence = "weekly"
	RecurrenceMonthly Recurrence = "monthly"
	RecurrenceCustom  Recurrence = "custom"
)

// ParseRecurrence maps free text to a Recurrence, defaulting to none.
func ParseRecurrence(s string) Recurrence {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "daily", "every day", "everyday":
		return RecurrenceDaily
	case "weekly", "every week":
		return RecurrenceWeekly
	case "monthly", "every month":
		return RecurrenceMonthly
	case "custom":
		return RecurrenceCustom
	}
	return RecurrenceNone
}

// DeadlineType describes how precise a deadline is.
type DeadlineType string

const (
	DeadlineSpecific  DeadlineType = "specific"
	DeadlineFuzzy     DeadlineType = "fuzzy"
	DeadlineRecurring DeadlineType = "recurring"
)

// Priority of a commitment.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Commitment is a task tracked to completion or dismissal.
// Recurring commitments are evaluated per day through completions.
type Commitment struct {
	ID                int64            `json:"id"`
	UserID            UserID           `json:"user_id"`
	TaskDescription   string           `json:"task_description"`
	OriginalMessage   string           `json:"original_message,omitempty"`
	Deadline          *time.Time       `json:"deadline,omitempty"` // date only
	DeadlineType      DeadlineType     `json:"deadline_type"`
	Priority          Priority         `json:"priority"`
	Status            CommitmentStatus `json:"status"`
	RecurrencePattern Recurrence       `json:"recurrence_pattern"`
	RecurrenceDays    []string         `json:"recurrence_days,omitempty"`
	DueTime           string           `json:"due_time,omitempty"` // HH:MM
	ReminderCount     int              `json:"reminder_count"`
	LastRemindedAt    *time.Time       `json:"last_reminded_at,omitempty"`
	CompletionCount   int              `json:"completion_count"`
	LastCompletedAt   *time.Time       `json:"last_completed_at,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// IsRecurring reports whether the commitment repeats.
func (c *Commitment) IsRecurring() bool {
	return c.RecurrencePattern != "" && c.RecurrencePattern != RecurrenceNone
}

// IsTerminal reports whether no further reminders apply.
func (c *Commitment) IsTerminal() bool {
	return c.Status == StatusCompleted || c.Status == StatusDismissed
}

// CompletionStatus marks a per-day record.
type CompletionStatus string

const (
	CompletionDone    CompletionStatus = "completed"
	CompletionSkipped CompletionStatus = "skipped"
)

// CommitmentCompletion is the single record for a commitment on a date.
type CommitmentCompletion struct {
	ID             int64            `json:"id"`
	CommitmentID   int64            `json:"commitment_id"`
	CompletionDate string           `json:"completion_date"` // YYYY-MM-DD
	Status         CompletionStatus `json:"status"`
	Notes          string           `json:"notes,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// -----------------------------------------------------------------------------
// PROACTIVE - System-initiated messages
// -----------------------------------------------------------------------------

// ProactiveType classifies system-initiated messages.
type ProactiveType string

const (
	ProactiveCommitmentReminder ProactiveType = "commitment_reminder"
	ProactiveScheduledPrompt    ProactiveType = "scheduled_prompt"
	ProactiveFollowUp           ProactiveType = "follow_up"
	ProactiveCheckIn            ProactiveType = "check_in"
)

// ProactiveMessage is a message the assistant sends on its own.
type ProactiveMessage struct {
	ID                  int64         `json:"id"`
	UserID              UserID        `json:"user_id"`
	MessageType         ProactiveType `json:"message_type"`
	Content             string        `json:"content"`
	RelatedCommitmentID *int64        `json:"related_commitment_id,omitempty"`
	ScheduledFor        *time.Time    `json:"scheduled_for,omitempty"`
	SentAt              *time.Time    `json:"sent_at,omitempty"`
	UserResponded       bool          `json:"user_responded"`
	ResponseContent     string        `json:"response_content,omitempty"`
	RespondedAt         *time.Time    `json:"responded_at,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
}

// ScheduledPrompt is a recurring check-in at a time of day.
type ScheduledPrompt struct {
	ID             int64      `json:"id"`
	UserID         UserID     `json:"user_id"`
	PromptType     string     `json:"prompt_type"`
	ScheduleTime   string     `json:"schedule_time"` // HH:MM
	ScheduleDays   []string   `json:"schedule_days"` // lower-case weekday names
	PromptTemplate string     `json:"prompt_template"`
	IsActive       bool       `json:"is_active"`
	LastSentAt     *time.Time `json:"last_sent_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// -----------------------------------------------------------------------------
// CONVERSATION, PEOPLE, PROFILE, MOOD
// -----------------------------------------------------------------------------

// Conversation is one chat turn. Append-only.
type Conversation struct {
	ID        int64     `json:"id"`
	UserID    UserID    `json:"user_id"`
	SessionID string    `json:"session_id,omitempty"`
	Message   string    `json:"message"`
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

// Person is someone the user talks about.
type Person struct {
	ID             int64     `json:"id"`
	UserID         UserID    `json:"user_id"`
	Name           string    `json:"name"`
	HowYouKnowThem string    `json:"how_you_know_them,omitempty"`
	Pronouns       string    `json:"pronouns,omitempty"`
	Description    string    `json:"description,omitempty"`
	Tags           []string  `json:"tags,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// UserProfile is the free-form note log about the user.
type UserProfile struct {
	UserID      UserID    `json:"user_id"`
	Name        string    `json:"name,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DailyCheckIn records the mood for one day.
type DailyCheckIn struct {
	ID          int64     `json:"id"`
	UserID      UserID    `json:"user_id"`
	CheckInDate string    `json:"checkin_date"` // YYYY-MM-DD
	Mood        int       `json:"mood"`         // 1..5
	Notes       string    `json:"notes,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// -----------------------------------------------------------------------------
// TIME HELPERS
// -----------------------------------------------------------------------------

// DateOf returns t formatted as a calendar date in t's location.
func DateOf(t time.Time) string {
	return t.Format(DateLayout)
}

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// EndOfDay returns 23:59:59 of t's day.
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, 0, t.Location())
}

// WeekdayName returns the lower-case English weekday.
func WeekdayName(t time.Time) string {
	return strings.ToLower(t.Weekday().String())
}

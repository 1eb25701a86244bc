package core

import "time"

// -----------------------------------------------------------------------------
// STRUCTURED RESPONSE - The contract between the LLM and the database
// -----------------------------------------------------------------------------

// Escalation controls how insistent reminders become.
type Escalation string

const (
	EscalationGentle     Escalation = "gentle"
	EscalationPersistent Escalation = "persistent"
	EscalationUrgent     Escalation = "urgent"
)

// ReminderStrategy is the resolved reminder schedule of a commitment.
type ReminderStrategy struct {
	InitialReminder   time.Time   `json:"initial_reminder"`
	FollowUpReminders []time.Time `json:"follow_up_reminders"`
	Escalation        Escalation  `json:"escalation"`
	CustomMessage     string      `json:"custom_message,omitempty"`
}

// ExtractedCommitment is a commitment the LLM found in the message.
type ExtractedCommitment struct {
	TaskDescription   string           `json:"task_description"`
	Deadline          *time.Time       `json:"deadline,omitempty"`
	DeadlineType      DeadlineType     `json:"deadline_type"`
	Priority          Priority         `json:"priority"`
	RecurrencePattern Recurrence       `json:"recurrence_pattern"`
	RecurrenceDays    []string         `json:"recurrence_days"`
	DueTime           string           `json:"due_time,omitempty"`
	ReminderStrategy  ReminderStrategy `json:"reminder_strategy"`
	RelatedPeople     []string         `json:"related_people"`
	RelatedHabits     []string         `json:"related_habits"`
}

// HabitActionType is what to do with a habit.
type HabitActionType string

const (
	HabitLogCompletion  HabitActionType = "log_completion"
	HabitUpdateSchedule HabitActionType = "update_schedule"
	HabitCreateNew      HabitActionType = "create_new"
	HabitModifyExisting HabitActionType = "modify_existing"
)

// HabitDetails describes a habit to create or reschedule.
type HabitDetails struct {
	Name         string     `json:"name,omitempty"`
	Frequency    Recurrence `json:"frequency,omitempty"`
	ReminderTime string     `json:"reminder_time,omitempty"`
	Days         []string   `json:"days,omitempty"`
}

// HabitAction is a habit operation requested by the LLM.
type HabitAction struct {
	HabitIdentifier string          `json:"habit_identifier"`
	ActionType      HabitActionType `json:"action_type"`
	CompletionDate  string          `json:"completion_date,omitempty"`
	Skipped         bool            `json:"skipped,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	Details         *HabitDetails   `json:"new_habit_details,omitempty"`
}

// PersonUpdateType is how to change a person record.
type PersonUpdateType string

const (
	PersonCreateNew  PersonUpdateType = "create_new"
	PersonAddNote    PersonUpdateType = "add_note"
	PersonUpdateInfo PersonUpdateType = "update_info"
)

// PersonUpdate is a change to a person record.
type PersonUpdate struct {
	PersonName     string           `json:"person_name"`
	UpdateType     PersonUpdateType `json:"update_type"`
	Content        string           `json:"content"`
	HowYouKnowThem string           `json:"how_you_know_them,omitempty"`
	Pronouns       string           `json:"pronouns,omitempty"`
	Tags           []string         `json:"tags"`
}

// ProfileUpdateType is how to change the user profile.
type ProfileUpdateType string

const (
	ProfileAddInfo    ProfileUpdateType = "add_info"
	ProfileUpdateInfo ProfileUpdateType = "update_info"
	ProfileAppendInfo ProfileUpdateType = "append_info"
)

// UserProfileUpdate is a change to the user's own profile.
type UserProfileUpdate struct {
	Category   string            `json:"category"`
	UpdateType ProfileUpdateType `json:"update_type"`
	Content    string            `json:"content"`
}

// TriggerType says what fires a scheduled action.
type TriggerType string

const (
	TriggerTimeBased      TriggerType = "time_based"
	TriggerEventBased     TriggerType = "event_based"
	TriggerConditionBased TriggerType = "condition_based"
)

// ScheduledAction is a future proactive message.
type ScheduledAction struct {
	ActionType  string      `json:"action_type"`
	SendTime    time.Time   `json:"send_time"`
	Message     string      `json:"message"`
	TriggerType TriggerType `json:"trigger_type"`
}

// MoodAnalysis is the LLM's reading of the user's mood.
type MoodAnalysis struct {
	DetectedMood        MoodLabel `json:"detected_mood"`
	Confidence          float64   `json:"confidence"`
	ContributingFactors []string  `json:"contributing_factors"`
	ShouldCheckInLater  bool      `json:"should_check_in_later"`
}

// ResponseMetadata describes how the response was produced.
type ResponseMetadata struct {
	ConfidenceLevel float64  `json:"confidence_level"`
	ContextUsed     []string `json:"context_used"`
	FollowUpNeeded  bool     `json:"follow_up_needed"`
	ProcessingNotes string   `json:"processing_notes,omitempty"`
}

// StructuredAIResponse is the validated output of the LLM processor.
type StructuredAIResponse struct {
	Message            string                `json:"message"`
	Commitments        []ExtractedCommitment `json:"commitments"`
	HabitActions       []HabitAction         `json:"habit_actions"`
	PeopleUpdates      []PersonUpdate        `json:"people_updates"`
	UserProfileUpdates []UserProfileUpdate   `json:"user_profile_updates"`
	ScheduledActions   []ScheduledAction     `json:"scheduled_actions"`
	MoodAnalysis       *MoodAnalysis         `json:"mood_analysis"`
	Metadata           ResponseMetadata      `json:"response_metadata"`
}

// NewStructuredAIResponse returns a response with empty lists.
func NewStructuredAIResponse(message string) *StructuredAIResponse {
	return &StructuredAIResponse{
		Message:            message,
		Commitments:        []ExtractedCommitment{},
		HabitActions:       []HabitAction{},
		PeopleUpdates:      []PersonUpdate{},
		UserProfileUpdates: []UserProfileUpdate{},
		ScheduledActions:   []ScheduledAction{},
		Metadata: ResponseMetadata{
			ConfidenceLevel: 0.8,
			ContextUsed:     []string{},
		},
	}
}

// ActionCount is the number of individual side effects requested.
func (r *StructuredAIResponse) ActionCount() int {
	n := len(r.Commitments) + len(r.HabitActions) + len(r.PeopleUpdates) +
		len(r.UserProfileUpdates) + len(r.ScheduledActions)
	if r.MoodAnalysis != nil {
		n++
	}
	return n
}

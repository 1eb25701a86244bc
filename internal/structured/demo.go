package structured

import (
	"strings"
	"time"

	"github.com/quantumlife/companion/internal/commitments"
	"github.com/quantumlife/companion/internal/core"
)

const demoContext = "demo_mode"

var (
	positiveEmotions = map[string]bool{
		"happy": true, "excited": true, "great": true, "good": true,
		"calm": true, "peaceful": true, "energetic": true, "grateful": true,
	}
	negativeEmotions = map[string]bool{
		"sad": true, "anxious": true, "stressed": true, "worried": true,
		"angry": true, "frustrated": true, "tired": true, "overwhelmed": true,
	}
)

// Demo builds a response from the intent and entities alone. It is used
// when no generator is configured or the generator fails.
func Demo(message string, intent *core.MessageIntent, now time.Time) *core.StructuredAIResponse {
	resp := core.NewStructuredAIResponse("I understand. Let me help you with that.")
	resp.Metadata.ContextUsed = []string{demoContext}
	e := intent.Entities

	switch intent.PrimaryIntent {
	case core.IntentCommitmentMaking:
		resp.Message = "I've noted your commitment. I'll remind you when it's time!"
		resp.Commitments = append(resp.Commitments, demoCommitment(message, e, now))

	case core.IntentHabitTracking:
		resp.Message = "Great job on completing your habit! Keep up the good work!"
		habit := "your habit"
		if len(e.Habits) > 0 {
			habit = e.Habits[0]
		}
		resp.HabitActions = append(resp.HabitActions, core.HabitAction{
			HabitIdentifier: habit,
			ActionType:      core.HabitLogCompletion,
			CompletionDate:  core.DateOf(now),
			Notes:           "Completed via chat",
		})

	case core.IntentMoodReflection:
		resp.Message = "Thank you for sharing how you're feeling. I'm here to support you."
		mood := core.MoodNeutral
		if len(e.Emotions) > 0 {
			first := strings.ToLower(e.Emotions[0])
			switch {
			case positiveEmotions[first]:
				mood = core.MoodPositive
			case negativeEmotions[first]:
				mood = core.MoodNegative
			}
		}
		resp.MoodAnalysis = &core.MoodAnalysis{
			DetectedMood:        mood,
			Confidence:          0.7,
			ContributingFactors: append([]string{}, e.Emotions...),
			ShouldCheckInLater:  mood == core.MoodNegative,
		}
		if mood == core.MoodNegative {
			resp.ScheduledActions = append(resp.ScheduledActions, core.ScheduledAction{
				ActionType:  "check_in",
				SendTime:    now.Add(3 * time.Hour),
				Message:     "Hi! Just checking in to see how you're feeling now. How has your day been?",
				TriggerType: core.TriggerTimeBased,
			})
		}

	case core.IntentInformationQuery:
		resp.Message = "Based on your data, here's what I found..."

	default:
		resp.Message = "I'm here to help! Feel free to tell me about your habits, commitments, or how you're feeling."
	}
	return resp
}

func demoCommitment(message string, e core.Entities, now time.Time) core.ExtractedCommitment {
	task := "Complete the task"
	if parsed := commitments.NewParser(func() time.Time { return now }).Parse(message); len(parsed) > 0 {
		task = parsed[0].Task
	} else if len(e.Actions) > 0 {
		task = e.Actions[0] + " the task"
	}

	lower := strings.ToLower(message)
	y, m, d := now.Date()
	var deadline time.Time
	switch {
	case strings.Contains(lower, "tomorrow"):
		deadline = time.Date(y, m, d+1, 17, 0, 0, 0, now.Location())
	case strings.Contains(lower, "today"):
		deadline = time.Date(y, m, d, 23, 59, 0, 0, now.Location())
	default:
		deadline = now.AddDate(0, 0, 1)
	}

	return core.ExtractedCommitment{
		TaskDescription:   task,
		Deadline:          &deadline,
		DeadlineType:      core.DeadlineSpecific,
		Priority:          core.PriorityMedium,
		RecurrencePattern: core.RecurrenceNone,
		RecurrenceDays:    []string{},
		ReminderStrategy: core.ReminderStrategy{
			InitialReminder:   deadline.Add(-2 * time.Hour),
			FollowUpReminders: []time.Time{deadline.Add(-30 * time.Minute)},
			Escalation:        core.EscalationGentle,
		},
		RelatedPeople: append([]string{}, e.People...),
		RelatedHabits: append([]string{}, e.Habits...),
	}
}

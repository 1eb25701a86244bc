package structured

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/quantumlife/companion/internal/core"
)

// SystemPrompt documents the JSON contract for the generator.
const SystemPrompt = `You are a proactive personal assistant helping the user keep track of habits, commitments, the people in their life and how they feel.

Respond with ONE JSON object and nothing else. The object has these fields:

"message": string. Your conversational reply. Warm, encouraging, concise.

"commitments": array. One entry per task the user commits to:
  "task_description": string, short imperative phrase
  "deadline": ISO 8601 timestamp, YYYY-MM-DD, or a phrase such as "tomorrow"; null when none
  "deadline_type": "specific" | "fuzzy" | "recurring"
  "priority": "high" | "medium" | "low"
  "recurrence_pattern": "none" | "daily" | "weekly" | "monthly" | "custom"
  "recurrence_days": array of weekday names, for weekly or custom recurrence
  "due_time": "HH:MM" or null
  "reminder_strategy": object with
      "initial_reminder": ISO 8601 timestamp or a phrase like "2 hours before", "the day before", "morning of"
      "follow_up_reminders": array in the same forms
      "escalation": "gentle" | "persistent" | "urgent"
      "custom_message": string or null
  "related_people": array of names
  "related_habits": array of habit names

"habit_actions": array. One entry per habit the user reports on or wants to change:
  "habit_identifier": the habit name as the user knows it
  "action_type": "log_completion" | "create_new" | "update_schedule" | "modify_existing"
  "completion_date": YYYY-MM-DD, defaults to today
  "skipped": true when the user deliberately skipped it
  "notes": string or null
  "new_habit_details": object with "name", "frequency", "reminder_time" (HH:MM), "days"; for create_new and schedule changes

"people_updates": array. One entry per person the user tells you about:
  "person_name": string
  "update_type": "create_new" | "add_note" | "update_info"
  "content": what you learned about them
  "how_you_know_them": string or null
  "pronouns": string or null
  "tags": array of strings

"user_profile_updates": array. Facts about the user themself:
  "category": "work" | "health" | "preferences" | "relationships" | "goals" | "general"
  "update_type": "add_info" | "update_info" | "append_info"
  "content": string

"scheduled_actions": array. Proactive follow-ups worth sending later:
  "action_type": string, e.g. "check_in"
  "send_time": ISO 8601 timestamp or "in N hours"
  "message": the text to send
  "trigger_type": "time_based" | "event_based" | "condition_based"

"mood_analysis": object or null. Only when the user expresses a feeling:
  "detected_mood": "very_negative" | "negative" | "neutral" | "positive" | "very_positive"
  "confidence": number between 0 and 1
  "contributing_factors": array of strings
  "should_check_in_later": boolean

"response_metadata": object:
  "confidence_level": number between 0 and 1
  "context_used": array naming the context sections you relied on
  "follow_up_needed": boolean
  "processing_notes": string or null

Rules:
- Only extract what the user actually said. Empty arrays are fine.
- Log a habit completion when the user reports doing an existing habit, even loosely worded.
- Use the context below to personalize the reply: mention streaks, people, and past conversations when relevant.
- Never wrap the JSON in prose.`

// UserData is caller-supplied information about the user.
type UserData struct {
	Name     string
	Timezone string
}

const (
	promptConversations      = 3
	promptSimilarCommitments = 5
)

// BuildPrompt renders the message and its context. The output is a pure
// function of its inputs.
func BuildPrompt(now time.Time, message string, intent *core.MessageIntent, ectx *core.EnhancedContext, user *UserData) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Current time: %s\n", now.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Day of week: %s\n", now.Weekday())

	fmt.Fprintf(&b, "\nUser message: %s\n", message)

	fmt.Fprintf(&b, "\nDetected intent: %s\n", intent.PrimaryIntent)
	if len(intent.SecondaryIntents) > 0 {
		names := make([]string, len(intent.SecondaryIntents))
		for i, s := range intent.SecondaryIntents {
			names[i] = string(s)
		}
		fmt.Fprintf(&b, "Secondary intents: %s\n", strings.Join(names, ", "))
	}
	writeEntities(&b, intent.Entities)

	if len(ectx.Conversations) > 0 {
		b.WriteString("\nRecent conversations:\n")
		for i, c := range ectx.Conversations {
			if i == promptConversations {
				break
			}
			fmt.Fprintf(&b, "  - %s: %s\n", c.Timestamp.Format("2006-01-02 15:04"), c.Message)
		}
	}

	if len(ectx.Habits) > 0 {
		b.WriteString("\nUser's habits:\n")
		for _, h := range ectx.Habits {
			done := "not completed"
			if h.CompletedToday {
				done = "completed"
			}
			fmt.Fprintf(&b, "  - %s (%s): %d day streak, %s today\n", h.Name, h.Recurrence, h.CurrentStreak, done)
		}
	}

	if len(ectx.People) > 0 {
		b.WriteString("\nPeople mentioned:\n")
		names := make([]string, 0, len(ectx.People))
		for name := range ectx.People {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "  - %s: %s\n", name, describePerson(ectx.People[name]))
		}
	}

	if m := ectx.Mood; m != nil {
		if m.Status == "ok" {
			fmt.Fprintf(&b, "\nRecent mood: %.1f/5 (%s) over %d days\n", m.AverageMood, m.Label, m.TrendDays)
			if m.TodayMood != nil {
				fmt.Fprintf(&b, "Mood today: %d/5\n", *m.TodayMood)
			}
		} else {
			b.WriteString("\nRecent mood: no recent check-ins\n")
		}
	}

	if len(ectx.SimilarCommitments) > 0 {
		b.WriteString("\nSimilar past commitments:\n")
		for i, c := range ectx.SimilarCommitments {
			if i == promptSimilarCommitments {
				break
			}
			fmt.Fprintf(&b, "  - %s (%s)\n", c.Task, c.Status)
		}
	}

	if t := ectx.Temporal; t != nil && len(t.UpcomingDeadlines) > 0 {
		b.WriteString("\nUpcoming deadlines:\n")
		for _, d := range t.UpcomingDeadlines {
			fmt.Fprintf(&b, "  - %s: %s (in %d days)\n", d.Task, d.Deadline, d.DaysUntil)
		}
	}

	if p := ectx.Profile; p != nil && (p.Name != "" || p.Description != "") {
		b.WriteString("\nUser profile:\n")
		if p.Name != "" {
			fmt.Fprintf(&b, "  Name: %s\n", p.Name)
		}
		if p.Description != "" {
			fmt.Fprintf(&b, "  Notes: %s\n", p.Description)
		}
	}
	if user != nil {
		if user.Name != "" && (ectx.Profile == nil || ectx.Profile.Name == "") {
			fmt.Fprintf(&b, "\nUser name: %s\n", user.Name)
		}
		if user.Timezone != "" {
			fmt.Fprintf(&b, "User timezone: %s\n", user.Timezone)
		}
	}

	b.WriteString("\nRespond with the JSON object described in your instructions.")
	return b.String()
}

func writeEntities(b *strings.Builder, e core.Entities) {
	groups := []struct {
		name   string
		values []string
	}{
		{"people", e.People},
		{"habits", e.Habits},
		{"time_references", e.TimeReferences},
		{"emotions", e.Emotions},
		{"actions", e.Actions},
	}
	header := false
	for _, g := range groups {
		if len(g.values) == 0 {
			continue
		}
		if !header {
			b.WriteString("\nExtracted entities:\n")
			header = true
		}
		fmt.Fprintf(b, "  %s: %s\n", g.name, strings.Join(g.values, ", "))
	}
}

func describePerson(pc core.PersonContext) string {
	switch pc.Status {
	case core.PersonFound:
		if pc.Person == nil {
			return "known"
		}
		parts := []string{}
		if pc.Person.HowYouKnowThem != "" {
			parts = append(parts, pc.Person.HowYouKnowThem)
		}
		if pc.Person.Pronouns != "" {
			parts = append(parts, pc.Person.Pronouns)
		}
		if pc.Person.Description != "" {
			parts = append(parts, pc.Person.Description)
		}
		if len(parts) == 0 {
			return "known, no details yet"
		}
		return strings.Join(parts, "; ")
	case core.PersonSimilarFound:
		return "not found, might be " + strings.Join(pc.MightBeReferringTo, " or ")
	default:
		return "unknown person, consider creating a profile"
	}
}

package structured

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/quantumlife/companion/internal/commitments"
	"github.com/quantumlife/companion/internal/core"
)

const (
	defaultMessage         = "I understand. Let me help you with that."
	defaultConfidence      = 0.8
	defaultMoodConfidence  = 0.5
	defaultProfileCategory = "general"
)

var (
	beforeDeadline = regexp.MustCompile(`(?i)^(\d+|an?|one|two|three)\s+(minute|min|hour|hr|day|week)s?\s+before`)
	inDuration     = regexp.MustCompile(`(?i)^in\s+(\d+|an?|one|two|three)\s+(minute|min|hour|hr|day|week)s?$`)
	clockTime      = regexp.MustCompile(`^([01]?\d|2[0-3]):([0-5]\d)$`)
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// Normalize maps a decoded object onto the response contract. Unknown
// enum values become defaults and malformed fields become empty.
func Normalize(obj map[string]any, now time.Time) *core.StructuredAIResponse {
	msg := strings.TrimSpace(str(obj["message"]))
	if msg == "" {
		msg = defaultMessage
	}
	resp := core.NewStructuredAIResponse(msg)

	for _, item := range objects(obj["commitments"]) {
		resp.Commitments = append(resp.Commitments, normalizeCommitment(item, now))
	}
	for _, item := range objects(obj["habit_actions"]) {
		resp.HabitActions = append(resp.HabitActions, normalizeHabitAction(item, now))
	}
	for _, item := range objects(obj["people_updates"]) {
		resp.PeopleUpdates = append(resp.PeopleUpdates, core.PersonUpdate{
			PersonName:     strings.TrimSpace(str(item["person_name"])),
			UpdateType:     personUpdateType(str(item["update_type"])),
			Content:        strings.TrimSpace(str(item["content"])),
			HowYouKnowThem: str(item["how_you_know_them"]),
			Pronouns:       str(item["pronouns"]),
			Tags:           strs(item["tags"]),
		})
	}
	for _, item := range objects(obj["user_profile_updates"]) {
		category := strings.ToLower(strings.TrimSpace(str(item["category"])))
		if category == "" {
			category = defaultProfileCategory
		}
		resp.UserProfileUpdates = append(resp.UserProfileUpdates, core.UserProfileUpdate{
			Category:   category,
			UpdateType: profileUpdateType(str(item["update_type"])),
			Content:    strings.TrimSpace(str(item["content"])),
		})
	}
	for _, item := range objects(obj["scheduled_actions"]) {
		text := str(item["message"])
		if text == "" {
			text = str(item["message_content"])
		}
		kind := str(item["action_type"])
		if kind == "" {
			kind = "check_in"
		}
		resp.ScheduledActions = append(resp.ScheduledActions, core.ScheduledAction{
			ActionType:  kind,
			SendTime:    ParseSendTime(str(item["send_time"]), now),
			Message:     strings.TrimSpace(text),
			TriggerType: triggerType(str(item["trigger_type"])),
		})
	}

	if mood, ok := obj["mood_analysis"].(map[string]any); ok {
		resp.MoodAnalysis = &core.MoodAnalysis{
			DetectedMood:        moodLabel(str(mood["detected_mood"])),
			Confidence:          confidence(mood["confidence"], defaultMoodConfidence),
			ContributingFactors: strs(mood["contributing_factors"]),
			ShouldCheckInLater:  boolean(mood["should_check_in_later"]),
		}
	}

	meta, _ := obj["response_metadata"].(map[string]any)
	resp.Metadata = core.ResponseMetadata{
		ConfidenceLevel: confidence(meta["confidence_level"], defaultConfidence),
		ContextUsed:     strs(meta["context_used"]),
		FollowUpNeeded:  boolean(meta["follow_up_needed"]),
		ProcessingNotes: str(meta["processing_notes"]),
	}
	return resp
}

func normalizeCommitment(item map[string]any, now time.Time) core.ExtractedCommitment {
	deadline := ParseDeadline(str(item["deadline"]), now)
	c := core.ExtractedCommitment{
		TaskDescription:   strings.TrimSpace(str(item["task_description"])),
		Deadline:          deadline,
		DeadlineType:      deadlineType(str(item["deadline_type"])),
		Priority:          priority(str(item["priority"])),
		RecurrencePattern: core.ParseRecurrence(str(item["recurrence_pattern"])),
		RecurrenceDays:    weekdayNames(strs(item["recurrence_days"])),
		DueTime:           dueTime(str(item["due_time"])),
		RelatedPeople:     strs(item["related_people"]),
		RelatedHabits:     strs(item["related_habits"]),
	}
	c.ReminderStrategy = ParseReminderStrategy(item["reminder_strategy"], deadline, now)
	return c
}

func normalizeHabitAction(item map[string]any, now time.Time) core.HabitAction {
	a := core.HabitAction{
		HabitIdentifier: strings.TrimSpace(str(item["habit_identifier"])),
		ActionType:      habitActionType(str(item["action_type"])),
		CompletionDate:  completionDate(str(item["completion_date"]), now),
		Skipped:         boolean(item["skipped"]),
		Notes:           str(item["notes"]),
	}
	if d, ok := item["new_habit_details"].(map[string]any); ok {
		a.Details = &core.HabitDetails{
			Name:         strings.TrimSpace(str(d["name"])),
			Frequency:    core.ParseRecurrence(str(d["frequency"])),
			ReminderTime: dueTime(str(d["reminder_time"])),
			Days:         weekdayNames(strs(d["days"])),
		}
	}
	return a
}

// -----------------------------------------------------------------------------
// Time fields
// -----------------------------------------------------------------------------

// ParseDeadline accepts a timestamp, a date, or a fuzzy phrase. Dates
// resolve to the end of that day. Unrecognized text yields nil.
func ParseDeadline(s string, now time.Time) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if t, ok := parseTimestamp(s, now.Location()); ok {
		return &t
	}
	if d, err := time.ParseInLocation(core.DateLayout, s, now.Location()); err == nil {
		t := core.EndOfDay(d)
		return &t
	}
	if phrase, ok := fuzzyPhrase(s); ok {
		t := commitments.ResolveDeadline(phrase, now)
		return &t
	}
	return nil
}

// fuzzyPhrase reduces free text to an expression ResolveDeadline knows.
func fuzzyPhrase(s string) (string, bool) {
	e := strings.ToLower(s)
	switch {
	case strings.Contains(e, "tomorrow"):
		return "tomorrow", true
	case strings.Contains(e, "today"), strings.Contains(e, "tonight"), strings.Contains(e, "end of day"):
		return "today", true
	case strings.Contains(e, "next week"):
		return "next week", true
	case strings.Contains(e, "weekend"):
		return "this weekend", true
	case strings.Contains(e, "this week"), strings.Contains(e, "end of week"):
		return "this week", true
	}
	for _, wd := range []string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"} {
		if strings.Contains(e, wd) {
			return "this " + wd, true
		}
	}
	return "", false
}

// ParseReminderStrategy accepts the object form or a bare string. The
// initial reminder defaults to an hour before the deadline, or an hour
// from now without one. Unparseable follow-ups are dropped.
func ParseReminderStrategy(v any, deadline *time.Time, now time.Time) core.ReminderStrategy {
	rs := core.ReminderStrategy{
		FollowUpReminders: []time.Time{},
		Escalation:        core.EscalationGentle,
	}

	var initial string
	switch x := v.(type) {
	case string:
		initial = x
	case map[string]any:
		initial = str(x["initial_reminder"])
		for _, fu := range strs(x["follow_up_reminders"]) {
			if t, ok := reminderTime(fu, deadline, now); ok {
				rs.FollowUpReminders = append(rs.FollowUpReminders, t)
			}
		}
		rs.Escalation = escalation(str(x["escalation"]))
		rs.CustomMessage = strings.TrimSpace(str(x["custom_message"]))
	}

	if t, ok := reminderTime(initial, deadline, now); ok {
		rs.InitialReminder = t
	} else if deadline != nil {
		rs.InitialReminder = deadline.Add(-time.Hour)
	} else {
		rs.InitialReminder = now.Add(time.Hour)
	}
	return rs
}

// reminderTime resolves an absolute timestamp or a phrase relative to
// the deadline.
func reminderTime(s string, deadline *time.Time, now time.Time) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, ok := parseTimestamp(s, now.Location()); ok {
		return t, true
	}
	if d, ok := parseIn(s); ok {
		return now.Add(d), true
	}
	if deadline == nil {
		return time.Time{}, false
	}

	lower := strings.ToLower(s)
	if m := beforeDeadline.FindStringSubmatch(lower); m != nil {
		return deadline.Add(-duration(m[1], m[2])), true
	}
	switch {
	case strings.Contains(lower, "day before"):
		return deadline.AddDate(0, 0, -1), true
	case strings.Contains(lower, "morning of"):
		y, mo, d := deadline.Date()
		return time.Date(y, mo, d, 9, 0, 0, 0, deadline.Location()), true
	case strings.Contains(lower, "evening before"), strings.Contains(lower, "night before"):
		y, mo, d := deadline.AddDate(0, 0, -1).Date()
		return time.Date(y, mo, d, 19, 0, 0, 0, deadline.Location()), true
	}
	return time.Time{}, false
}

// ParseSendTime accepts a timestamp or "in N units"; anything else is an
// hour from now.
func ParseSendTime(s string, now time.Time) time.Time {
	s = strings.TrimSpace(s)
	if t, ok := parseTimestamp(s, now.Location()); ok {
		return t
	}
	if d, ok := parseIn(s); ok {
		return now.Add(d)
	}
	return now.Add(time.Hour)
}

func parseTimestamp(s string, loc *time.Location) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseIn(s string) (time.Duration, bool) {
	m := inDuration.FindStringSubmatch(strings.ToLower(s))
	if m == nil {
		return 0, false
	}
	return duration(m[1], m[2]), true
}

func duration(count, unit string) time.Duration {
	n := 1
	switch count {
	case "a", "an", "one":
	case "two":
		n = 2
	case "three":
		n = 3
	default:
		n, _ = strconv.Atoi(count)
	}
	switch unit {
	case "minute", "min":
		return time.Duration(n) * time.Minute
	case "hour", "hr":
		return time.Duration(n) * time.Hour
	case "week":
		return time.Duration(n) * 7 * 24 * time.Hour
	default:
		return time.Duration(n) * 24 * time.Hour
	}
}

func completionDate(s string, now time.Time) string {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case "", "today":
		return core.DateOf(now)
	case "yesterday":
		return core.DateOf(now.AddDate(0, 0, -1))
	}
	if len(s) >= len(core.DateLayout) {
		if d, err := time.Parse(core.DateLayout, s[:len(core.DateLayout)]); err == nil {
			return d.Format(core.DateLayout)
		}
	}
	return core.DateOf(now)
}

func dueTime(s string) string {
	m := clockTime.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return ""
	}
	h, _ := strconv.Atoi(m[1])
	return fmt.Sprintf("%02d:%s", h, m[2])
}

func weekdayNames(in []string) []string {
	out := []string{}
	for _, d := range in {
		d = strings.ToLower(strings.TrimSpace(d))
		for _, wd := range []string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"} {
			if d == wd || (len(d) >= 3 && strings.HasPrefix(wd, d)) {
				out = append(out, wd)
				break
			}
		}
	}
	return out
}

// -----------------------------------------------------------------------------
// Enums
// -----------------------------------------------------------------------------

func deadlineType(s string) core.DeadlineType {
	switch t := core.DeadlineType(strings.ToLower(s)); t {
	case core.DeadlineSpecific, core.DeadlineFuzzy, core.DeadlineRecurring:
		return t
	}
	return core.DeadlineFuzzy
}

func priority(s string) core.Priority {
	switch p := core.Priority(strings.ToLower(s)); p {
	case core.PriorityHigh, core.PriorityMedium, core.PriorityLow:
		return p
	}
	return core.PriorityMedium
}

func escalation(s string) core.Escalation {
	switch e := core.Escalation(strings.ToLower(s)); e {
	case core.EscalationGentle, core.EscalationPersistent, core.EscalationUrgent:
		return e
	}
	return core.EscalationGentle
}

func moodLabel(s string) core.MoodLabel {
	switch m := core.MoodLabel(strings.ToLower(strings.ReplaceAll(s, " ", "_"))); m {
	case core.MoodVeryNegative, core.MoodNegative, core.MoodNeutral, core.MoodPositive, core.MoodVeryPositive:
		return m
	}
	return core.MoodNeutral
}

func habitActionType(s string) core.HabitActionType {
	switch a := core.HabitActionType(strings.ToLower(s)); a {
	case core.HabitLogCompletion, core.HabitCreateNew, core.HabitUpdateSchedule, core.HabitModifyExisting:
		return a
	}
	return core.HabitLogCompletion
}

func personUpdateType(s string) core.PersonUpdateType {
	switch u := core.PersonUpdateType(strings.ToLower(s)); u {
	case core.PersonCreateNew, core.PersonAddNote, core.PersonUpdateInfo:
		return u
	}
	return core.PersonAddNote
}

func profileUpdateType(s string) core.ProfileUpdateType {
	switch u := core.ProfileUpdateType(strings.ToLower(s)); u {
	case core.ProfileAddInfo, core.ProfileUpdateInfo, core.ProfileAppendInfo:
		return u
	}
	return core.ProfileAddInfo
}

func triggerType(s string) core.TriggerType {
	switch t := core.TriggerType(strings.ToLower(s)); t {
	case core.TriggerTimeBased, core.TriggerEventBased, core.TriggerConditionBased:
		return t
	}
	return core.TriggerTimeBased
}

// -----------------------------------------------------------------------------
// Loose accessors over decoded JSON
// -----------------------------------------------------------------------------

func str(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	}
	return ""
}

func strs(v any) []string {
	out := []string{}
	switch x := v.(type) {
	case []any:
		for _, e := range x {
			if s := strings.TrimSpace(str(e)); s != "" {
				out = append(out, s)
			}
		}
	case string:
		if s := strings.TrimSpace(x); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func objects(v any) []map[string]any {
	list, _ := v.([]any)
	out := make([]map[string]any, 0, len(list))
	for _, e := range list {
		if m, ok := e.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func boolean(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(x))
		return b
	}
	return false
}

func confidence(v any, def float64) float64 {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return def
		}
		f = parsed
	default:
		return def
	}
	if math.IsNaN(f) {
		return def
	}
	return math.Max(0, math.Min(1, f))
}

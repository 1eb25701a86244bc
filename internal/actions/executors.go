package actions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quantumlife/companion/internal/core"
	"github.com/quantumlife/companion/internal/storage"
)

// ==================== Commitment Handler ====================

func (p *Processor) createCommitment(ctx context.Context, b *batch, s *stores, ec core.ExtractedCommitment) (core.Outcome, error) {
	task := strings.TrimSpace(ec.TaskDescription)
	if task == "" {
		return core.Outcome{}, fmt.Errorf("%w: task_description", core.ErrMissingRequired)
	}

	c := &core.Commitment{
		UserID:            b.userID,
		TaskDescription:   task,
		OriginalMessage:   b.message,
		Deadline:          ec.Deadline,
		DeadlineType:      ec.DeadlineType,
		Priority:          ec.Priority,
		RecurrencePattern: ec.RecurrencePattern,
		RecurrenceDays:    ec.RecurrenceDays,
		DueTime:           ec.DueTime,
		CreatedAt:         b.now,
	}
	if c.IsRecurring() {
		c.DeadlineType = core.DeadlineRecurring
	}
	if err := s.commitments.Create(ctx, c); err != nil {
		return core.Outcome{}, fmt.Errorf("store commitment: %w", err)
	}

	reminders, err := p.scheduleReminders(ctx, b, s, c, ec.ReminderStrategy)
	if err != nil {
		return core.Outcome{}, err
	}
	b.touchCommitment(c)

	data := map[string]any{
		"commitment_id":       c.ID,
		"task":                c.TaskDescription,
		"reminders_scheduled": reminders,
	}
	if c.Deadline != nil {
		data["deadline"] = core.DateOf(*c.Deadline)
	}
	return core.Outcome{
		Success:     true,
		Type:        "commitment_created",
		Description: "Created commitment: " + c.TaskDescription,
		Data:        data,
		UserVisible: true,
	}, nil
}

// scheduleReminders stores the initial reminder and follow-ups of a new
// commitment as proactive messages. It returns how many it stored.
func (p *Processor) scheduleReminders(ctx context.Context, b *batch, s *stores, c *core.Commitment, rs core.ReminderStrategy) (int, error) {
	var created int
	add := func(at time.Time, content string) error {
		if at.IsZero() {
			return nil
		}
		id := c.ID
		m := &core.ProactiveMessage{
			UserID:              b.userID,
			MessageType:         core.ProactiveCommitmentReminder,
			Content:             content,
			RelatedCommitmentID: &id,
			ScheduledFor:        &at,
			CreatedAt:           b.now,
		}
		if err := s.proactive.Create(ctx, m); err != nil {
			return fmt.Errorf("store reminder: %w", err)
		}
		created++
		return nil
	}

	initial := "Reminder: " + c.TaskDescription
	if msg := strings.TrimSpace(rs.CustomMessage); msg != "" {
		initial = msg
	}
	if err := add(rs.InitialReminder, initial); err != nil {
		return created, err
	}
	for _, at := range rs.FollowUpReminders {
		if err := add(at, "Follow-up: "+c.TaskDescription); err != nil {
			return created, err
		}
	}
	return created, nil
}

// ==================== Habit Handler ====================

func (p *Processor) habitAction(ctx context.Context, b *batch, s *stores, a core.HabitAction) (core.Outcome, error) {
	identifier := strings.TrimSpace(a.HabitIdentifier)
	if a.ActionType == core.HabitCreateNew && a.Details != nil && strings.TrimSpace(a.Details.Name) != "" {
		identifier = strings.TrimSpace(a.Details.Name)
	}
	if identifier == "" {
		return core.Outcome{}, fmt.Errorf("%w: habit_identifier", core.ErrMissingRequired)
	}

	switch a.ActionType {
	case core.HabitCreateNew:
		return p.createHabit(ctx, b, s, identifier, a.Details)
	case core.HabitUpdateSchedule, core.HabitModifyExisting:
		return p.modifyHabit(ctx, b, s, identifier, a)
	default:
		return p.logCompletion(ctx, b, s, identifier, a)
	}
}

// habitMatch is how an identifier was resolved to a commitment.
type habitMatch struct {
	commitment *core.Commitment
	method     string // exact, substring, similar, created
	score      float64
}

// resolveHabit finds the live commitment identifier refers to: an exact
// name, then a substring, then the most similar name above the
// threshold. It returns nil when nothing qualifies.
func (p *Processor) resolveHabit(ctx context.Context, b *batch, s *stores, identifier string) (*habitMatch, error) {
	c, err := s.commitments.FindByName(ctx, b.userID, identifier)
	if err == nil {
		return &habitMatch{commitment: c, method: "exact", score: 1}, nil
	}
	if !errors.Is(err, core.ErrCommitmentNotFound) {
		return nil, err
	}

	live, err := s.commitments.List(ctx, b.userID, storage.CommitmentFilter{
		Statuses: []core.CommitmentStatus{core.StatusPending, core.StatusActive},
	})
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(identifier)
	var sub *core.Commitment
	for _, c := range live {
		task := strings.ToLower(c.TaskDescription)
		if len(needle) < 3 || len(task) < 3 {
			continue
		}
		if strings.Contains(task, needle) || strings.Contains(needle, task) {
			if sub == nil || (c.IsRecurring() && !sub.IsRecurring()) {
				sub = c
			}
		}
	}
	if sub != nil {
		return &habitMatch{commitment: sub, method: "substring", score: 0.9}, nil
	}

	if best, score := p.matcher.FindSimilar(identifier, live, p.config.MatchThreshold); best != nil {
		return &habitMatch{commitment: best, method: "similar", score: score}, nil
	}
	return nil, nil
}

func (p *Processor) logCompletion(ctx context.Context, b *batch, s *stores, identifier string, a core.HabitAction) (core.Outcome, error) {
	date := strings.TrimSpace(a.CompletionDate)
	if date == "" || strings.EqualFold(date, "today") {
		date = b.today
	}
	if _, err := time.Parse(core.DateLayout, date); err != nil {
		return core.Outcome{}, fmt.Errorf("%w: completion_date %q", core.ErrInvalidInput, a.CompletionDate)
	}

	match, err := p.resolveHabit(ctx, b, s, identifier)
	if err != nil {
		return core.Outcome{}, err
	}
	if match == nil {
		if !p.config.AutoCreateHabits {
			return core.Outcome{
				Success:     false,
				Type:        "habit_not_found",
				Description: fmt.Sprintf("Could not find a habit matching '%s'", identifier),
				Data:        map[string]any{"habit_identifier": identifier},
				Error:       fmt.Sprintf("%v: %s", core.ErrHabitNotFound, identifier),
				UserVisible: true,
			}, nil
		}
		c := &core.Commitment{
			UserID:            b.userID,
			TaskDescription:   p.matcher.SuggestName(identifier),
			OriginalMessage:   b.message,
			DeadlineType:      core.DeadlineRecurring,
			Priority:          core.PriorityMedium,
			RecurrencePattern: core.RecurrenceDaily,
			CreatedAt:         b.now,
		}
		if err := s.commitments.Create(ctx, c); err != nil {
			return core.Outcome{}, fmt.Errorf("create habit: %w", err)
		}
		match = &habitMatch{commitment: c, method: "created"}
	}

	c := match.commitment
	status := core.CompletionDone
	if a.Skipped {
		status = core.CompletionSkipped
	}
	created, err := s.completions.Record(ctx, c, date, status, a.Notes, b.now)
	if err != nil {
		return core.Outcome{}, fmt.Errorf("record completion: %w", err)
	}
	b.touchCommitment(c)

	data := map[string]any{
		"commitment_id":    c.ID,
		"habit_name":       c.TaskDescription,
		"completion_date":  date,
		"completion_count": c.CompletionCount,
		"match_method":     match.method,
	}
	if match.method == "similar" {
		data["similarity"] = match.score
	}

	if !created {
		return core.Outcome{
			Success:     true,
			Type:        "habit_already_completed",
			Description: fmt.Sprintf("'%s' was already marked for %s", c.TaskDescription, date),
			Data:        data,
			UserVisible: true,
		}, nil
	}

	out := core.Outcome{Success: true, Data: data, UserVisible: true}
	switch {
	case status == core.CompletionSkipped:
		out.Type = "habit_skipped"
		out.Description = fmt.Sprintf("Marked '%s' as skipped for %s", c.TaskDescription, date)
	case match.method == "created":
		out.Type = "habit_created"
		out.Description = fmt.Sprintf("Started tracking '%s' and logged %s", c.TaskDescription, date)
	case !c.IsRecurring():
		out.Type = "commitment_completed"
		out.Description = fmt.Sprintf("Marked '%s' as done", c.TaskDescription)
	default:
		out.Type = "habit_completed"
		out.Description = fmt.Sprintf("Logged completion of '%s'", c.TaskDescription)
	}
	return out, nil
}

func (p *Processor) createHabit(ctx context.Context, b *batch, s *stores, name string, d *core.HabitDetails) (core.Outcome, error) {
	_, err := s.commitments.FindByName(ctx, b.userID, name)
	if err == nil {
		return core.Outcome{
			Success:     false,
			Type:        "habit_exists",
			Description: fmt.Sprintf("You already have a habit called '%s'", name),
			Data:        map[string]any{"habit_name": name},
			Error:       fmt.Sprintf("%v: %s", core.ErrHabitExists, name),
			UserVisible: true,
		}, nil
	}
	if !errors.Is(err, core.ErrCommitmentNotFound) {
		return core.Outcome{}, err
	}

	c := &core.Commitment{
		UserID:            b.userID,
		TaskDescription:   name,
		OriginalMessage:   b.message,
		DeadlineType:      core.DeadlineRecurring,
		Priority:          core.PriorityMedium,
		RecurrencePattern: core.RecurrenceDaily,
		CreatedAt:         b.now,
	}
	if d != nil {
		if d.Frequency != "" && d.Frequency != core.RecurrenceNone {
			c.RecurrencePattern = d.Frequency
		}
		c.DueTime = d.ReminderTime
		c.RecurrenceDays = d.Days
	}
	if err := s.commitments.Create(ctx, c); err != nil {
		return core.Outcome{}, fmt.Errorf("create habit: %w", err)
	}
	b.touchCommitment(c)

	return core.Outcome{
		Success:     true,
		Type:        "habit_created",
		Description: fmt.Sprintf("Started tracking '%s' (%s)", c.TaskDescription, c.RecurrencePattern),
		Data: map[string]any{
			"commitment_id": c.ID,
			"habit_name":    c.TaskDescription,
			"frequency":     string(c.RecurrencePattern),
		},
		UserVisible: true,
	}, nil
}

func (p *Processor) modifyHabit(ctx context.Context, b *batch, s *stores, identifier string, a core.HabitAction) (core.Outcome, error) {
	if a.Details == nil {
		return core.Outcome{}, fmt.Errorf("%w: new_habit_details", core.ErrMissingRequired)
	}
	match, err := p.resolveHabit(ctx, b, s, identifier)
	if err != nil {
		return core.Outcome{}, err
	}
	if match == nil {
		return core.Outcome{
			Success:     false,
			Type:        "habit_not_found",
			Description: fmt.Sprintf("Could not find a habit matching '%s'", identifier),
			Data:        map[string]any{"habit_identifier": identifier},
			Error:       fmt.Sprintf("%v: %s", core.ErrHabitNotFound, identifier),
			UserVisible: true,
		}, nil
	}

	c := match.commitment
	d := a.Details
	var changed []string
	if d.Frequency != "" && d.Frequency != core.RecurrenceNone && d.Frequency != c.RecurrencePattern {
		c.RecurrencePattern = d.Frequency
		changed = append(changed, "frequency")
	}
	if d.ReminderTime != "" && d.ReminderTime != c.DueTime {
		c.DueTime = d.ReminderTime
		changed = append(changed, "reminder time")
	}
	if len(d.Days) > 0 {
		c.RecurrenceDays = d.Days
		changed = append(changed, "days")
	}
	if a.ActionType == core.HabitModifyExisting {
		if name := strings.TrimSpace(d.Name); name != "" && name != c.TaskDescription {
			c.TaskDescription = name
			changed = append(changed, "name")
		}
	}
	if c.IsRecurring() {
		c.DeadlineType = core.DeadlineRecurring
	}

	data := map[string]any{
		"commitment_id": c.ID,
		"habit_name":    c.TaskDescription,
		"changed":       changed,
	}
	if len(changed) == 0 {
		return core.Outcome{
			Success:     true,
			Type:        "habit_unchanged",
			Description: fmt.Sprintf("'%s' already has that schedule", c.TaskDescription),
			Data:        data,
			UserVisible: false,
		}, nil
	}

	if err := s.commitments.Update(ctx, c, b.now); err != nil {
		return core.Outcome{}, fmt.Errorf("update habit: %w", err)
	}
	b.touchCommitment(c)

	return core.Outcome{
		Success:     true,
		Type:        "habit_updated",
		Description: fmt.Sprintf("Updated %s of '%s'", strings.Join(changed, ", "), c.TaskDescription),
		Data:        data,
		UserVisible: true,
	}, nil
}

// ==================== Person Handler ====================

func (p *Processor) updatePerson(ctx context.Context, b *batch, s *stores, u core.PersonUpdate) (core.Outcome, error) {
	name := strings.TrimSpace(u.PersonName)
	if name == "" {
		return core.Outcome{}, fmt.Errorf("%w: person_name", core.ErrMissingRequired)
	}

	person, err := s.people.FindByName(ctx, b.userID, name)
	if errors.Is(err, core.ErrRecordNotFound) {
		person, err = nil, nil
		if u.UpdateType != core.PersonCreateNew {
			matches, serr := s.people.Search(ctx, b.userID, name)
			if serr != nil {
				return core.Outcome{}, serr
			}
			if len(matches) > 0 {
				person = matches[0]
			}
		}
	}
	if err != nil {
		return core.Outcome{}, err
	}

	if person == nil {
		person = &core.Person{
			UserID:         b.userID,
			Name:           name,
			HowYouKnowThem: strings.TrimSpace(u.HowYouKnowThem),
			Pronouns:       strings.TrimSpace(u.Pronouns),
			Description:    strings.TrimSpace(u.Content),
			Tags:           u.Tags,
			CreatedAt:      b.now,
		}
		if err := s.people.Create(ctx, person); err != nil {
			return core.Outcome{}, fmt.Errorf("create person: %w", err)
		}
		b.touchPerson(person)
		return core.Outcome{
			Success:     true,
			Type:        "person_created",
			Description: "Created profile for " + person.Name,
			Data:        map[string]any{"person_id": person.ID, "name": person.Name},
			UserVisible: true,
		}, nil
	}

	data := map[string]any{"person_id": person.ID, "name": person.Name}
	var outcomeType, description string
	changed := false

	if u.UpdateType == core.PersonUpdateInfo {
		if content := strings.TrimSpace(u.Content); content != "" && content != person.Description {
			person.Description = content
			changed = true
		}
		if v := strings.TrimSpace(u.HowYouKnowThem); v != "" && v != person.HowYouKnowThem {
			person.HowYouKnowThem = v
			changed = true
		}
		if v := strings.TrimSpace(u.Pronouns); v != "" && v != person.Pronouns {
			person.Pronouns = v
			changed = true
		}
		if len(u.Tags) > 0 {
			person.Tags = u.Tags
			changed = true
		}
		outcomeType, description = "person_updated", "Updated info for "+person.Name
	} else {
		if desc, ok := appendNote(person.Description, u.Content); ok {
			person.Description = desc
			changed = true
		}
		if v := strings.TrimSpace(u.HowYouKnowThem); v != "" && person.HowYouKnowThem == "" {
			person.HowYouKnowThem = v
			changed = true
		}
		if v := strings.TrimSpace(u.Pronouns); v != "" && person.Pronouns == "" {
			person.Pronouns = v
			changed = true
		}
		if tags, ok := mergeTags(person.Tags, u.Tags); ok {
			person.Tags = tags
			changed = true
		}
		outcomeType, description = "person_note_added", "Added note about "+person.Name
	}

	if !changed {
		return core.Outcome{
			Success:     true,
			Type:        "person_unchanged",
			Description: "Already knew that about " + person.Name,
			Data:        data,
			UserVisible: false,
		}, nil
	}
	if err := s.people.Update(ctx, person, b.now); err != nil {
		return core.Outcome{}, fmt.Errorf("update person: %w", err)
	}
	b.touchPerson(person)

	return core.Outcome{
		Success:     true,
		Type:        outcomeType,
		Description: description,
		Data:        data,
		UserVisible: true,
	}, nil
}

// ==================== Profile Handler ====================

func (p *Processor) updateProfile(ctx context.Context, b *batch, s *stores, u core.UserProfileUpdate) (core.Outcome, error) {
	content := strings.TrimSpace(u.Content)
	if content == "" {
		return core.Outcome{}, fmt.Errorf("%w: content", core.ErrMissingRequired)
	}
	category := strings.ToLower(strings.TrimSpace(u.Category))
	if category == "" {
		category = "general"
	}

	prof, err := s.people.Profile(ctx, b.userID)
	if errors.Is(err, core.ErrRecordNotFound) {
		prof, err = &core.UserProfile{UserID: b.userID, CreatedAt: b.now}, nil
	}
	if err != nil {
		return core.Outcome{}, err
	}

	data := map[string]any{"category": category}
	changed := false

	if category == "name" {
		if prof.Name != content {
			prof.Name = content
			changed = true
		}
	} else {
		entry := category + ": " + content
		if u.UpdateType == core.ProfileUpdateInfo {
			desc := replaceCategory(prof.Description, category, entry)
			if desc != prof.Description {
				prof.Description = desc
				changed = true
			}
		} else if desc, ok := appendNote(prof.Description, entry); ok {
			prof.Description = desc
			changed = true
		}
	}

	if !changed {
		return core.Outcome{
			Success:     true,
			Type:        "profile_unchanged",
			Description: "Already knew that about you",
			Data:        data,
			UserVisible: false,
		}, nil
	}
	if err := s.people.SaveProfile(ctx, prof, b.now); err != nil {
		return core.Outcome{}, fmt.Errorf("save profile: %w", err)
	}
	return core.Outcome{
		Success:     true,
		Type:        "profile_updated",
		Description: "Noted about you: " + content,
		Data:        data,
		UserVisible: true,
	}, nil
}

// ==================== Mood Handler ====================

func (p *Processor) recordMood(ctx context.Context, b *batch, s *stores, m core.MoodAnalysis) (core.Outcome, error) {
	label := m.DetectedMood
	if label == "" {
		label = core.MoodNeutral
	}
	notes := "Detected via chat"
	if len(m.ContributingFactors) > 0 {
		notes += " - " + strings.Join(m.ContributingFactors, ", ")
	}

	checkIn := &core.DailyCheckIn{
		UserID:      b.userID,
		CheckInDate: b.today,
		Mood:        label.Score(),
		Notes:       notes,
		Timestamp:   b.now,
	}
	created, err := s.moods.Upsert(ctx, checkIn)
	if err != nil {
		return core.Outcome{}, fmt.Errorf("record mood: %w", err)
	}

	out := core.Outcome{
		Success: true,
		Data: map[string]any{
			"mood":       string(label),
			"score":      checkIn.Mood,
			"confidence": m.Confidence,
		},
		UserVisible: true,
	}
	if created {
		out.Type = "mood_recorded"
		out.Description = "Recorded mood: " + string(label)
	} else {
		out.Type = "mood_updated"
		out.Description = "Updated today's mood to " + string(label)
	}
	return out, nil
}

// ==================== Schedule Handler ====================

func (p *Processor) scheduleAction(ctx context.Context, b *batch, s *stores, a core.ScheduledAction) (core.Outcome, error) {
	msg := strings.TrimSpace(a.Message)
	if msg == "" {
		return core.Outcome{}, fmt.Errorf("%w: message", core.ErrMissingRequired)
	}
	at := a.SendTime
	if at.IsZero() {
		at = b.now.Add(time.Hour)
	}

	m := &core.ProactiveMessage{
		UserID:       b.userID,
		MessageType:  core.ProactiveFollowUp,
		Content:      msg,
		ScheduledFor: &at,
		CreatedAt:    b.now,
	}
	if err := s.proactive.Create(ctx, m); err != nil {
		return core.Outcome{}, fmt.Errorf("store follow-up: %w", err)
	}

	return core.Outcome{
		Success:     true,
		Type:        "action_scheduled",
		Description: "Scheduled follow-up for " + at.Format("2006-01-02 15:04"),
		Data: map[string]any{
			"message_id":  m.ID,
			"action_type": a.ActionType,
			"send_time":   at,
		},
		UserVisible: true,
	}, nil
}

// ==================== Helper Functions ====================

// appendNote adds note on its own line unless its normalized text is
// already part of existing.
func appendNote(existing, note string) (string, bool) {
	note = strings.TrimSpace(note)
	if note == "" {
		return existing, false
	}
	if n := normalizeText(note); n != "" && strings.Contains(normalizeText(existing), n) {
		return existing, false
	}
	if strings.TrimSpace(existing) == "" {
		return note, true
	}
	return existing + "\n" + note, true
}

// replaceCategory drops every "category: ..." line and appends entry.
func replaceCategory(desc, category, entry string) string {
	prefix := category + ":"
	var kept []string
	for _, line := range strings.Split(desc, "\n") {
		if strings.TrimSpace(line) == "" || strings.HasPrefix(strings.ToLower(line), prefix) {
			continue
		}
		kept = append(kept, line)
	}
	kept = append(kept, entry)
	return strings.Join(kept, "\n")
}

func mergeTags(have, add []string) ([]string, bool) {
	seen := make(map[string]bool, len(have))
	for _, t := range have {
		seen[strings.ToLower(t)] = true
	}
	out := append([]string(nil), have...)
	changed := false
	for _, t := range add {
		t = strings.TrimSpace(t)
		if t == "" || seen[strings.ToLower(t)] {
			continue
		}
		seen[strings.ToLower(t)] = true
		out = append(out, t)
		changed = true
	}
	return out, changed
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(stripPunctuation(strings.ToLower(s))), " ")
}

package proactive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/quantumlife/companion/internal/core"
	"github.com/quantumlife/companion/internal/storage"
)

// ==================== Reminder Sweep ====================

// reminderText is the message for the n-th reminder (0-based).
func reminderText(task string, n int) string {
	if n == 0 {
		return fmt.Sprintf("You mentioned %s. How did it go?", task)
	}
	return fmt.Sprintf("Looks like %s might have gotten away from you. Want to try again today?", task)
}

// SweepReminders nudges the user about one-time commitments whose
// deadline has passed. Each commitment gets at most MaxReminders, spaced
// by ReminderMinInterval. It returns how many reminders were sent.
func (s *Service) SweepReminders(ctx context.Context) (int, error) {
	now := s.clock.Now()
	overdue, err := s.commitments.Overdue(ctx, core.DateOf(now), s.config.MaxReminders)
	if err != nil {
		return 0, fmt.Errorf("list overdue: %w", err)
	}

	sent := 0
	for _, c := range overdue {
		if c.LastRemindedAt != nil && now.Sub(*c.LastRemindedAt) < s.config.ReminderMinInterval {
			continue
		}

		var msg *core.ProactiveMessage
		err := s.db.TransactionContext(ctx, func(tx *sql.Tx) error {
			// Conditional on the count we read, so an overlapping sweep
			// cannot send the same reminder twice.
			won, err := s.commitments.WithTx(tx).MarkReminded(ctx, c.ID, c.ReminderCount, now)
			if err != nil || !won {
				return err
			}
			id := c.ID
			sentAt := now
			m := &core.ProactiveMessage{
				UserID:              c.UserID,
				MessageType:         core.ProactiveCommitmentReminder,
				Content:             reminderText(c.TaskDescription, c.ReminderCount),
				RelatedCommitmentID: &id,
				ScheduledFor:        &sentAt,
				SentAt:              &sentAt,
				CreatedAt:           now,
			}
			if err := storage.NewProactiveStore(s.db).WithTx(tx).Create(ctx, m); err != nil {
				return err
			}
			msg = m
			return nil
		})
		if err != nil {
			return sent, fmt.Errorf("remind commitment %d: %w", c.ID, err)
		}
		if msg == nil {
			continue
		}
		sent++
		s.remindersSent.Add(1)
		s.publish(ctx, msg)
	}
	return sent, nil
}

// ==================== Prompt Sweep ====================

// promptDue reports whether p should fire at now: today is one of its
// days and now is within window of its time of day.
func promptDue(p *core.ScheduledPrompt, now time.Time, window time.Duration) bool {
	if len(p.ScheduleDays) > 0 {
		today := core.WeekdayName(now)
		found := false
		for _, d := range p.ScheduleDays {
			if d == today {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	at, err := time.Parse("15:04", p.ScheduleTime)
	if err != nil {
		return false
	}
	y, m, d := now.Date()
	scheduled := time.Date(y, m, d, at.Hour(), at.Minute(), 0, 0, now.Location())
	diff := now.Sub(scheduled)
	if diff < 0 {
		diff = -diff
	}
	if diff > window {
		return false
	}
	return p.LastSentAt == nil || p.LastSentAt.Before(core.StartOfDay(now))
}

// SweepPrompts sends every active prompt that is due and has not been
// sent today. It returns how many were sent.
func (s *Service) SweepPrompts(ctx context.Context) (int, error) {
	now := s.clock.Now()
	prompts, err := s.messages.ActivePrompts(ctx)
	if err != nil {
		return 0, fmt.Errorf("list prompts: %w", err)
	}

	sent := 0
	for _, p := range prompts {
		if !promptDue(p, now, s.config.PromptWindow) {
			continue
		}

		var msg *core.ProactiveMessage
		err := s.db.TransactionContext(ctx, func(tx *sql.Tx) error {
			store := storage.NewProactiveStore(s.db).WithTx(tx)
			won, err := store.MarkPromptSent(ctx, p.ID, now, core.StartOfDay(now))
			if err != nil || !won {
				return err
			}
			sentAt := now
			m := &core.ProactiveMessage{
				UserID:       p.UserID,
				MessageType:  core.ProactiveScheduledPrompt,
				Content:      p.PromptTemplate,
				ScheduledFor: &sentAt,
				SentAt:       &sentAt,
				CreatedAt:    now,
			}
			if err := store.Create(ctx, m); err != nil {
				return err
			}
			msg = m
			return nil
		})
		if err != nil {
			return sent, fmt.Errorf("send prompt %s: %w", p.PromptType, err)
		}
		if msg == nil {
			continue
		}
		sent++
		s.promptsSent.Add(1)
		s.publish(ctx, msg)
	}
	return sent, nil
}

// ==================== Delivery Sweep ====================

// SweepDelivery sends queued messages whose time has come: commitment
// reminders and follow-ups created during conversations. It returns how
// many were delivered.
func (s *Service) SweepDelivery(ctx context.Context) (int, error) {
	now := s.clock.Now()
	due, err := s.messages.Due(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list due messages: %w", err)
	}

	delivered := 0
	for _, m := range due {
		won, err := s.messages.MarkSent(ctx, m.ID, now)
		if err != nil {
			return delivered, fmt.Errorf("mark message %d sent: %w", m.ID, err)
		}
		if !won {
			continue
		}
		sentAt := now
		m.SentAt = &sentAt
		delivered++
		s.delivered.Add(1)
		s.publish(ctx, m)
	}
	return delivered, nil
}

// DueFor returns the user's messages sent at or after since that have not
// been answered, newest first. The chat endpoint returns them alongside
// the reply.
func (s *Service) DueFor(ctx context.Context, userID core.UserID, since time.Time, limit int) ([]*core.ProactiveMessage, error) {
	return s.messages.Unanswered(ctx, userID, since, limit)
}

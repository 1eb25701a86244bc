// Package proactive sends the messages the assistant starts on its own:
// reminders for overdue commitments, scheduled prompts, and the
// follow-ups and reminders earlier conversations queued up.
package proactive

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/quantumlife/companion/internal/clock"
	"github.com/quantumlife/companion/internal/config"
	"github.com/quantumlife/companion/internal/core"
	"github.com/quantumlife/companion/internal/logging"
	"github.com/quantumlife/companion/internal/scheduler"
	"github.com/quantumlife/companion/internal/storage"
)

// Task IDs registered with the scheduler.
const (
	TaskReminders = "reminder_sweep"
	TaskPrompts   = "prompt_sweep"
	TaskDelivery  = "delivery_sweep"
)

// Publisher pushes a sent message to connected clients.
type Publisher interface {
	Publish(ctx context.Context, m *core.ProactiveMessage) error
}

// Service coordinates the proactive sweeps
type Service struct {
	db          *storage.DB
	commitments *storage.CommitmentStore
	messages    *storage.ProactiveStore
	clock       clock.Clock
	publisher   Publisher
	config      ServiceConfig
	log         *logging.Logger

	remindersSent atomic.Int64
	promptsSent   atomic.Int64
	delivered     atomic.Int64
}

// ServiceConfig configures the proactive service
type ServiceConfig struct {
	FakeTime            bool          // interval schedules in clock minutes instead of cron
	ReminderMinInterval time.Duration // spacing between reminders for one commitment
	MaxReminders        int
	PromptWindow        time.Duration // how far from schedule_time a prompt may fire
}

// DefaultServiceConfig returns sensible defaults
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ReminderMinInterval: 24 * time.Hour,
		MaxReminders:        2,
		PromptWindow:        5 * time.Minute,
	}
}

// ConfigFrom derives the service settings from the scheduler section.
func ConfigFrom(cfg config.SchedulerConfig) ServiceConfig {
	out := DefaultServiceConfig()
	out.FakeTime = cfg.IsFake()
	if d := cfg.EffectiveReminderInterval(); d > 0 {
		out.ReminderMinInterval = d
	}
	if cfg.MaxReminders > 0 {
		out.MaxReminders = cfg.MaxReminders
	}
	if cfg.PromptWindow > 0 {
		out.PromptWindow = cfg.PromptWindow
	}
	return out
}

// NewService creates a new proactive service. pub may be nil.
func NewService(db *storage.DB, clk clock.Clock, pub Publisher, cfg ServiceConfig) *Service {
	if cfg.MaxReminders <= 0 {
		cfg.MaxReminders = 2
	}
	if cfg.PromptWindow <= 0 {
		cfg.PromptWindow = 5 * time.Minute
	}
	return &Service{
		db:          db,
		commitments: storage.NewCommitmentStore(db),
		messages:    storage.NewProactiveStore(db),
		clock:       clk,
		publisher:   pub,
		config:      cfg,
		log:         logging.Component("proactive"),
	}
}

// RegisterTasks adds the three sweeps to s. Real time uses cron
// schedules; fake time uses intervals in clock minutes so an accelerated
// clock speeds them up.
func (s *Service) RegisterTasks(sched *scheduler.Scheduler) error {
	sweep := func(name string, fn func(context.Context) (int, error)) scheduler.TaskHandler {
		return func(ctx context.Context) error {
			n, err := fn(ctx)
			if n > 0 {
				s.log.WithFields(map[string]interface{}{
					"sweep": name,
					"sent":  n,
				}).Info("proactive sweep sent messages")
			}
			return err
		}
	}

	tasks := []struct {
		id       string
		name     string
		cron     string
		interval time.Duration
		run      func(context.Context) (int, error)
	}{
		{TaskReminders, "Overdue commitment reminders", "0 * * * *", 60 * time.Minute, s.SweepReminders},
		{TaskPrompts, "Scheduled prompts", "*/5 * * * *", 5 * time.Minute, s.SweepPrompts},
		{TaskDelivery, "Queued message delivery", "* * * * *", time.Minute, s.SweepDelivery},
	}

	for _, t := range tasks {
		b := scheduler.NewTask(t.id).Name(t.name).Timeout(time.Minute).Handler(sweep(t.id, t.run))
		if s.config.FakeTime {
			b = b.Every(t.interval)
		} else {
			b = b.Cron(t.cron)
		}
		if err := sched.Register(b.Build()); err != nil {
			return err
		}
	}
	return nil
}

// DefaultPrompts are the prompts every user starts with.
func DefaultPrompts(userID core.UserID) []*core.ScheduledPrompt {
	return []*core.ScheduledPrompt{
		{
			UserID:         userID,
			PromptType:     "work_checkin",
			ScheduleTime:   "17:00",
			ScheduleDays:   []string{"monday", "tuesday", "wednesday", "thursday", "friday"},
			PromptTemplate: "How did work go today? Anything you want to get off your mind?",
			IsActive:       true,
		},
		{
			UserID:         userID,
			PromptType:     "weekend_reflection",
			ScheduleTime:   "18:00",
			ScheduleDays:   []string{"sunday"},
			PromptTemplate: "How was your weekend? Anything you want to carry into the new week?",
			IsActive:       true,
		},
	}
}

// EnsureDefaultPrompts creates any default prompt the user is missing
// and returns how many were created.
func (s *Service) EnsureDefaultPrompts(ctx context.Context, userID core.UserID) (int, error) {
	created := 0
	for _, p := range DefaultPrompts(userID) {
		p.CreatedAt = s.clock.Now()
		ok, err := s.messages.EnsurePrompt(ctx, p)
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}
	return created, nil
}

// Stats counts messages sent since start.
type Stats struct {
	RemindersSent int64 `json:"reminders_sent"`
	PromptsSent   int64 `json:"prompts_sent"`
	Delivered     int64 `json:"delivered"`
}

// GetStats returns the sweep counters
func (s *Service) GetStats() Stats {
	return Stats{
		RemindersSent: s.remindersSent.Load(),
		PromptsSent:   s.promptsSent.Load(),
		Delivered:     s.delivered.Load(),
	}
}

// publish hands a sent message to the publisher. Failures are logged; the
// message stays stored and is still listed for the user.
func (s *Service) publish(ctx context.Context, m *core.ProactiveMessage) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, m); err != nil {
		s.log.WithFields(map[string]interface{}{
			"message_id": m.ID,
			"error":      err,
		}).Warn("publish proactive message failed")
	}
}

// Package scheduler runs periodic tasks against an injected clock.
//
// One loop polls at a fixed real-time interval and runs every enabled
// task whose next run is due according to clock.Now(). Interval tasks
// count in clock time, so an accelerated clock speeds them up; cron tasks
// are evaluated with robfig/cron against the same clock. Tasks run one at
// a time.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/quantumlife/companion/internal/clock"
	"github.com/quantumlife/companion/internal/core"
	"github.com/quantumlife/companion/internal/logging"
)

// Scheduler manages scheduled tasks
type Scheduler struct {
	clock  clock.Clock
	config Config
	tasks  map[string]*Task
	mu     sync.RWMutex

	// runMu serializes task execution between the loop and RunNow.
	runMu sync.Mutex

	cancel  context.CancelFunc
	done    chan struct{}
	started bool
	log     *logging.Logger
}

// Config configures the scheduler
type Config struct {
	PollInterval   time.Duration // real time between checks (default 1s)
	DefaultTimeout time.Duration // per-run timeout when a task sets none
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		PollInterval:   time.Second,
		DefaultTimeout: 5 * time.Minute,
	}
}

// NewScheduler creates a new scheduler driven by clk.
func NewScheduler(clk clock.Clock, cfg Config) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 5 * time.Minute
	}
	return &Scheduler{
		clock:  clk,
		config: cfg,
		tasks:  make(map[string]*Task),
		log:    logging.Component("scheduler"),
	}
}

// Task represents a scheduled task
type Task struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Schedule    Schedule      `json:"schedule"`
	Handler     TaskHandler   `json:"-"`
	Enabled     bool          `json:"enabled"`
	LastRun     *time.Time    `json:"last_run,omitempty"`
	NextRun     *time.Time    `json:"next_run,omitempty"`
	RunCount    int64         `json:"run_count"`
	ErrorCount  int64         `json:"error_count"`
	LastError   string        `json:"last_error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	Timeout     time.Duration `json:"timeout"`

	cron cron.Schedule
}

// TaskHandler is the function executed for a task
type TaskHandler func(ctx context.Context) error

// Schedule defines when a task runs
type Schedule struct {
	Type     ScheduleType  `json:"type"`
	Interval time.Duration `json:"interval,omitempty"` // clock time between runs
	Cron     string        `json:"cron,omitempty"`     // standard 5-field expression
}

// ScheduleType represents the type of schedule
type ScheduleType string

const (
	ScheduleInterval ScheduleType = "interval"
	ScheduleCron     ScheduleType = "cron"
)

// Register adds a task to the scheduler. The first run is one schedule
// step after the current clock time.
func (s *Scheduler) Register(task *Task) error {
	if task.ID == "" {
		return fmt.Errorf("%w: task ID", core.ErrMissingRequired)
	}
	if task.Handler == nil {
		return fmt.Errorf("%w: task handler", core.ErrMissingRequired)
	}

	switch task.Schedule.Type {
	case ScheduleInterval:
		if task.Schedule.Interval <= 0 {
			return fmt.Errorf("%w: interval must be positive", core.ErrInvalidInput)
		}
	case ScheduleCron:
		sched, err := cron.ParseStandard(task.Schedule.Cron)
		if err != nil {
			return fmt.Errorf("%w: cron %q: %v", core.ErrInvalidInput, task.Schedule.Cron, err)
		}
		task.cron = sched
	default:
		return fmt.Errorf("%w: schedule type %q", core.ErrInvalidInput, task.Schedule.Type)
	}

	if task.Timeout == 0 {
		task.Timeout = s.config.DefaultTimeout
	}
	if task.Name == "" {
		task.Name = task.ID
	}

	now := s.clock.Now()
	task.CreatedAt = now
	next := task.next(now)
	task.NextRun = &next

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("%w: task %s", core.ErrDuplicateRecord, task.ID)
	}
	s.tasks[task.ID] = task
	return nil
}

// Unregister removes a task from the scheduler
func (s *Scheduler) Unregister(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[taskID]; !ok {
		return fmt.Errorf("%w: task %s", core.ErrRecordNotFound, taskID)
	}
	delete(s.tasks, taskID)
	return nil
}

// Enable enables a task
func (s *Scheduler) Enable(taskID string) error {
	return s.setEnabled(taskID, true)
}

// Disable disables a task
func (s *Scheduler) Disable(taskID string) error {
	return s.setEnabled(taskID, false)
}

func (s *Scheduler) setEnabled(taskID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: task %s", core.ErrRecordNotFound, taskID)
	}
	if enabled && !task.Enabled {
		// A re-enabled task waits one full step instead of firing for
		// everything it missed.
		next := task.next(s.clock.Now())
		task.NextRun = &next
	}
	task.Enabled = enabled
	return nil
}

// Start launches the polling loop. It stops when ctx is cancelled or
// Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.started = true

	go s.loop(ctx, s.done)
	s.log.WithField("poll_interval", s.config.PollInterval.String()).Info("scheduler started")
	return nil
}

// Stop cancels the loop and waits for it, including any task it is
// running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.started = false
	s.mu.Unlock()

	cancel()
	<-done
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunPending(ctx)
		}
	}
}

// RunPending runs every enabled task that is due at the current clock
// time and returns how many ran.
func (s *Scheduler) RunPending(ctx context.Context) int {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	now := s.clock.Now()
	var due []*Task

	s.mu.Lock()
	for _, task := range s.tasks {
		if !task.Enabled {
			continue
		}
		// A next run further out than one step from now means the clock
		// jumped backwards; reschedule from the new present.
		if expected := task.next(now); task.NextRun != nil && task.NextRun.After(expected) {
			task.NextRun = &expected
			continue
		}
		if task.NextRun == nil || !now.Before(*task.NextRun) {
			due = append(due, task)
		}
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	ran := 0
	for _, task := range due {
		if ctx.Err() != nil {
			break
		}
		s.execute(ctx, task, now)
		ran++
	}
	return ran
}

// RunNow executes a task immediately, whatever its schedule, and returns
// the handler's error.
func (s *Scheduler) RunNow(ctx context.Context, taskID string) error {
	s.mu.RLock()
	task, ok := s.tasks[taskID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: task %s", core.ErrRecordNotFound, taskID)
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.execute(ctx, task, s.clock.Now())
}

// execute runs one task. LastRun is stamped before the handler starts so a
// slow run is never picked up twice.
func (s *Scheduler) execute(ctx context.Context, task *Task, now time.Time) (err error) {
	s.mu.Lock()
	lastRun := now
	task.LastRun = &lastRun
	task.RunCount++
	timeout := task.Timeout
	s.mu.Unlock()

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}

		s.mu.Lock()
		if err != nil {
			task.ErrorCount++
			task.LastError = err.Error()
		} else {
			task.LastError = ""
		}
		next := task.next(s.clock.Now())
		task.NextRun = &next
		s.mu.Unlock()

		log := s.log.WithFields(map[string]interface{}{
			"task":        task.ID,
			"duration_ms": time.Since(start).Milliseconds(),
		})
		if err != nil {
			log.WithField("error", err).Warn("task failed")
		} else {
			log.Debug("task ran")
		}
	}()

	return task.Handler(execCtx)
}

// next returns the first run strictly after now.
func (t *Task) next(now time.Time) time.Time {
	switch t.Schedule.Type {
	case ScheduleCron:
		if t.cron != nil {
			return t.cron.Next(now)
		}
	case ScheduleInterval:
		return now.Add(t.Schedule.Interval)
	}
	return now.Add(time.Hour)
}

// GetTask returns a snapshot of a task by ID
func (s *Scheduler) GetTask(taskID string) (Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	return task.snapshot(), true
}

// ListTasks returns snapshots of all tasks ordered by ID
func (s *Scheduler) ListTasks() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, task.snapshot())
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks
}

func (t *Task) snapshot() Task {
	cp := *t
	if t.LastRun != nil {
		v := *t.LastRun
		cp.LastRun = &v
	}
	if t.NextRun != nil {
		v := *t.NextRun
		cp.NextRun = &v
	}
	return cp
}

// GetStats returns scheduler statistics
func (s *Scheduler) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Started:    s.started,
		TotalTasks: len(s.tasks),
		ClockTime:  s.clock.Now(),
	}
	for _, task := range s.tasks {
		if task.Enabled {
			stats.EnabledTasks++
		}
		stats.TotalRuns += task.RunCount
		stats.TotalErrors += task.ErrorCount
	}
	return stats
}

// Stats contains scheduler statistics
type Stats struct {
	Started      bool      `json:"started"`
	TotalTasks   int       `json:"total_tasks"`
	EnabledTasks int       `json:"enabled_tasks"`
	TotalRuns    int64     `json:"total_runs"`
	TotalErrors  int64     `json:"total_errors"`
	ClockTime    time.Time `json:"clock_time"`
}

// Common task builders

// IntervalTask creates a task that runs every interval of clock time
func IntervalTask(id, name string, interval time.Duration, handler TaskHandler) *Task {
	return &Task{
		ID:       id,
		Name:     name,
		Schedule: Schedule{Type: ScheduleInterval, Interval: interval},
		Handler:  handler,
		Enabled:  true,
	}
}

// CronTask creates a task that runs on a standard cron expression
func CronTask(id, name, expr string, handler TaskHandler) *Task {
	return &Task{
		ID:       id,
		Name:     name,
		Schedule: Schedule{Type: ScheduleCron, Cron: expr},
		Handler:  handler,
		Enabled:  true,
	}
}

// TaskBuilder provides fluent API for building tasks
type TaskBuilder struct {
	task *Task
}

// NewTask creates a new task builder
func NewTask(id string) *TaskBuilder {
	return &TaskBuilder{
		task: &Task{
			ID:      id,
			Enabled: true,
		},
	}
}

// Name sets the task name
func (b *TaskBuilder) Name(name string) *TaskBuilder {
	b.task.Name = name
	return b
}

// Description sets the task description
func (b *TaskBuilder) Description(desc string) *TaskBuilder {
	b.task.Description = desc
	return b
}

// Every sets an interval schedule
func (b *TaskBuilder) Every(interval time.Duration) *TaskBuilder {
	b.task.Schedule = Schedule{Type: ScheduleInterval, Interval: interval}
	return b
}

// Cron sets a cron schedule
func (b *TaskBuilder) Cron(expr string) *TaskBuilder {
	b.task.Schedule = Schedule{Type: ScheduleCron, Cron: expr}
	return b
}

// Daily sets a cron schedule firing once a day at "HH:MM"
func (b *TaskBuilder) Daily(at string) *TaskBuilder {
	hour, minute := 8, 0
	if parts := strings.SplitN(at, ":", 2); len(parts) == 2 {
		fmt.Sscanf(parts[0], "%d", &hour)
		fmt.Sscanf(parts[1], "%d", &minute)
	}
	return b.Cron(fmt.Sprintf("%d %d * * *", minute, hour))
}

// Timeout sets the task timeout
func (b *TaskBuilder) Timeout(timeout time.Duration) *TaskBuilder {
	b.task.Timeout = timeout
	return b
}

// Handler sets the task handler
func (b *TaskBuilder) Handler(handler TaskHandler) *TaskBuilder {
	b.task.Handler = handler
	return b
}

// Disabled creates the task in disabled state
func (b *TaskBuilder) Disabled() *TaskBuilder {
	b.task.Enabled = false
	return b
}

// Build returns the constructed task
func (b *TaskBuilder) Build() *Task {
	return b.task
}

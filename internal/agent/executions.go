package agent

import (
	"sync"
	"time"

	"github.com/quantumlife/companion/internal/core"
)

// Execution records one pass through the pipeline for the debug surface.
type Execution struct {
	ID         string                `json:"id"`
	UserID     core.UserID           `json:"user_id"`
	SessionID  string                `json:"session_id,omitempty"`
	Message    string                `json:"message"`
	Reply      string                `json:"reply"`
	Intent     *core.MessageIntent   `json:"intent"`
	Mode       string                `json:"mode"`
	Degraded   bool                  `json:"degraded"`
	Reason     string                `json:"reason,omitempty"`
	Outcomes   []core.Outcome        `json:"outcomes"`
	Summary    core.ResultSummary    `json:"summary"`
	Stages     map[string]string     `json:"stages"` // stage name to duration
	Context    *core.EnhancedContext `json:"context,omitempty"`
	StartedAt  time.Time             `json:"started_at"`
	DurationMS int64                 `json:"duration_ms"`
}

// ExecutionLog keeps the most recent executions, oldest evicted first.
type ExecutionLog struct {
	entries map[string]Execution
	order   []string
	maxSize int
	mu      sync.RWMutex
}

// NewExecutionLog creates a log holding up to maxSize executions.
func NewExecutionLog(maxSize int) *ExecutionLog {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &ExecutionLog{
		entries: make(map[string]Execution),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
	}
}

// Add records an execution
func (l *ExecutionLog) Add(e Execution) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.entries[e.ID]; !exists {
		if len(l.order) >= l.maxSize {
			oldest := l.order[0]
			delete(l.entries, oldest)
			l.order = l.order[1:]
		}
		l.order = append(l.order, e.ID)
	}
	l.entries[e.ID] = e
}

// Get returns an execution by ID
func (l *ExecutionLog) Get(id string) (Execution, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[id]
	return e, ok
}

// Recent returns up to limit executions, newest first. limit <= 0
// returns all of them.
func (l *ExecutionLog) Recent(limit int) []Execution {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit <= 0 || limit > len(l.order) {
		limit = len(l.order)
	}
	out := make([]Execution, 0, limit)
	for i := len(l.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, l.entries[l.order[i]])
	}
	return out
}

// Len returns the number of stored executions
func (l *ExecutionLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}

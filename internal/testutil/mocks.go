package testutil

import (
	"context"
	"sync"

	"github.com/quantumlife/companion/internal/core"
)

// MockGenerator is a scripted text generator. Replies are served in
// order and the last one repeats; Err, when set, fails every call.
type MockGenerator struct {
	mu      sync.Mutex
	replies []string
	prompts []string
	Err     error
}

// NewMockGenerator creates a generator that answers with replies.
func NewMockGenerator(replies ...string) *MockGenerator {
	return &MockGenerator{replies: replies}
}

// Chat returns the next scripted reply.
func (m *MockGenerator) Chat(ctx context.Context, system, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.prompts = append(m.prompts, prompt)
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.replies) == 0 {
		return "", nil
	}
	reply := m.replies[0]
	if len(m.replies) > 1 {
		m.replies = m.replies[1:]
	}
	return reply, nil
}

// IsConfigured always reports true.
func (m *MockGenerator) IsConfigured() bool { return true }

// Prompts returns the prompts received so far.
func (m *MockGenerator) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.prompts))
	copy(out, m.prompts)
	return out
}

// MockPublisher records published proactive messages.
type MockPublisher struct {
	mu       sync.Mutex
	messages []*core.ProactiveMessage
	Err      error
}

// Publish records m and returns Err.
func (p *MockPublisher) Publish(_ context.Context, m *core.ProactiveMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, m)
	return p.Err
}

// Contents returns the text of the published messages.
func (p *MockPublisher) Contents() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.messages))
	for i, m := range p.messages {
		out[i] = m.Content
	}
	return out
}

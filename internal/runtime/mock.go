// ABOUTME: Scriptable in-memory Runtime for tests
// ABOUTME: Records requests and plays back queued replies or errors

package runtime

import (
	"context"
	"sync"
)

// MockRuntime implements Runtime with scripted responses. Safe for
// concurrent use. When the script is exhausted it repeats DefaultReply.
type MockRuntime struct {
	mu           sync.Mutex
	script       []mockStep
	requests     []Request
	DefaultReply string
}

type mockStep struct {
	reply string
	err   error
}

// NewMockRuntime creates a mock that answers every request with reply.
func NewMockRuntime(reply string) *MockRuntime {
	return &MockRuntime{DefaultReply: reply}
}

// QueueReply appends a scripted successful reply.
func (m *MockRuntime) QueueReply(reply string) *MockRuntime {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, mockStep{reply: reply})
	return m
}

// QueueError appends a scripted failure.
func (m *MockRuntime) QueueError(err error) *MockRuntime {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, mockStep{err: err})
	return m
}

// Generate pops the next scripted step, or returns DefaultReply.
func (m *MockRuntime) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)

	if len(m.script) > 0 {
		step := m.script[0]
		m.script = m.script[1:]
		if step.err != nil {
			return "", step.err
		}
		return step.reply, nil
	}
	return m.DefaultReply, nil
}

// Requests returns a copy of all requests seen so far.
func (m *MockRuntime) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// CallCount returns how many times Generate was invoked.
func (m *MockRuntime) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

var _ Runtime = (*MockRuntime)(nil)

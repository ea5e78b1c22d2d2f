package dispatch

import (
	"context"
	"sync"
)

// MockSender is a test double for Sender. Safe for concurrent use.
type MockSender struct {
	Err  error
	Func func(ctx context.Context, msg Message) error

	mu   sync.Mutex
	Sent []Message // every attempted send, successful or not
}

func (m *MockSender) Send(ctx context.Context, msg Message) error {
	m.mu.Lock()
	m.Sent = append(m.Sent, msg)
	fn := m.Func
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, msg)
	}
	return m.Err
}

// Count returns the number of send attempts.
func (m *MockSender) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

// Messages returns a copy of every attempted send.
func (m *MockSender) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.Sent...)
}

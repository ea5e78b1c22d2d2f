package llm

import (
	"context"
	"sync"
)

// MockClient is a test double for the Client interface.
// It can also be used for dry-run mode. Safe for concurrent use.
type MockClient struct {
	Response *Response
	Err      error
	// Func, when set, replaces Response/Err.
	Func func(ctx context.Context, prompt string) (*Response, error)

	mu    sync.Mutex
	Calls []string // records prompts sent
}

// Complete records the call and returns the mock response.
func (m *MockClient) Complete(ctx context.Context, prompt string) (*Response, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, prompt)
	fn := m.Func
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, prompt)
	}
	return m.Response, m.Err
}

// CallCount returns the number of completions requested so far.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

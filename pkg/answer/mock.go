package answer

import (
	"context"
	"sync"
	"time"
)

// MockProvider is a configurable Provider for tests.
//
// Example usage:
//
//	provider := answer.NewMockProvider(
//		answer.WithAnswer(&answer.Answer{Text: "under Integrations"}),
//		answer.WithLatency(20*time.Millisecond),
//	)
type MockProvider struct {
	// AnswerFunc overrides AnswerQuestion entirely when set.
	AnswerFunc func(ctx context.Context, question string) (*Answer, error)

	mu      sync.Mutex
	calls   []string
	answer  *Answer
	err     error
	latency time.Duration
}

// MockOption configures a MockProvider.
type MockOption func(*MockProvider)

// WithAnswer sets the canned answer.
func WithAnswer(a *Answer) MockOption {
	return func(m *MockProvider) { m.answer = a }
}

// WithError makes every call fail with err.
func WithError(err error) MockOption {
	return func(m *MockProvider) { m.err = err }
}

// WithLatency delays each call, respecting context cancellation.
func WithLatency(d time.Duration) MockOption {
	return func(m *MockProvider) { m.latency = d }
}

// NewMockProvider builds a mock provider. Without options it echoes the
// question back.
func NewMockProvider(opts ...MockOption) *MockProvider {
	m := &MockProvider{}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AnswerQuestion implements Provider.
func (m *MockProvider) AnswerQuestion(ctx context.Context, question string) (*Answer, error) {
	m.mu.Lock()
	m.calls = append(m.calls, question)
	latency := m.latency
	canned := m.answer
	failure := m.err
	override := m.AnswerFunc
	m.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if override != nil {
		return override(ctx, question)
	}
	if failure != nil {
		return nil, failure
	}
	if canned != nil {
		return canned, nil
	}
	return &Answer{Text: "You asked: " + question}, nil
}

// Calls returns the questions asked so far.
func (m *MockProvider) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many questions were asked.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Reset clears recorded calls.
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

var _ Provider = (*MockProvider)(nil)

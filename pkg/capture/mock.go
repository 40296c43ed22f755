package capture

import (
	"context"
	"sync"
	"time"

	"google.golang.org/api/iterator"
)

// MockRecognizer is a configurable Recognizer for testing. Sessions it opens
// are MockSessions the test scripts fragment by fragment.
//
// Example usage:
//
//	rec := capture.NewMockRecognizer()
//	ctrl, _ := capture.New(rec)
//	ctrl.Start(ctx)
//	rec.LastSession().SendFinal("hello world", 0.92)
//	rec.LastSession().End()
type MockRecognizer struct {
	// OpenFunc overrides Open behavior entirely when set.
	OpenFunc func(ctx context.Context, cfg SessionConfig) (Session, error)

	mu        sync.Mutex
	calls     []MockCall
	sessions  []*MockSession
	openErr   error
	openDelay time.Duration
}

// MockCall records a single recognizer invocation.
type MockCall struct {
	Method string
	Config SessionConfig
	Time   time.Time
}

// MockOption configures a MockRecognizer.
type MockOption func(*MockRecognizer)

// WithOpenError makes Open fail with err.
func WithOpenError(err error) MockOption {
	return func(m *MockRecognizer) {
		m.openErr = err
	}
}

// WithOpenDelay makes Open wait before returning, simulating a slow
// permission prompt.
func WithOpenDelay(d time.Duration) MockOption {
	return func(m *MockRecognizer) {
		m.openDelay = d
	}
}

// NewMockRecognizer creates a mock recognizer.
func NewMockRecognizer(opts ...MockOption) *MockRecognizer {
	m := &MockRecognizer{}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open implements Recognizer.
func (m *MockRecognizer) Open(ctx context.Context, cfg SessionConfig) (Session, error) {
	m.record("Open", cfg)
	if m.OpenFunc != nil {
		return m.OpenFunc(ctx, cfg)
	}
	if m.openDelay > 0 {
		select {
		case <-time.After(m.openDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	m.mu.Lock()
	err := m.openErr
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s := NewMockSession()
	m.mu.Lock()
	m.sessions = append(m.sessions, s)
	m.mu.Unlock()
	return s, nil
}

func (m *MockRecognizer) record(method string, cfg SessionConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Method: method, Config: cfg, Time: time.Now()})
}

// Calls returns all recorded invocations.
func (m *MockRecognizer) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of calls to the given method.
func (m *MockRecognizer) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Sessions returns every session opened so far.
func (m *MockRecognizer) Sessions() []*MockSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MockSession, len(m.sessions))
	copy(out, m.sessions)
	return out
}

// LastSession returns the most recently opened session, or nil.
func (m *MockRecognizer) LastSession() *MockSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sessions) == 0 {
		return nil
	}
	return m.sessions[len(m.sessions)-1]
}

// Reset clears recorded calls and sessions.
func (m *MockRecognizer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.sessions = nil
}

// MockSession is a scriptable Session. Tests push fragments, errors, and the
// end of the stream; the controller under test consumes them through Recv.
type MockSession struct {
	mu        sync.Mutex
	queue     chan recvItem
	aborted   chan struct{}
	abortOnce sync.Once
	stopped   bool
}

type recvItem struct {
	frag Fragment
	err  error
}

// NewMockSession creates an empty scriptable session.
func NewMockSession() *MockSession {
	return &MockSession{
		queue:   make(chan recvItem, 64),
		aborted: make(chan struct{}),
	}
}

// SendFinal queues a final fragment.
func (s *MockSession) SendFinal(text string, confidence float64) {
	s.queue <- recvItem{frag: Fragment{Text: text, Final: true, Confidence: confidence}}
}

// SendInterim queues an interim fragment.
func (s *MockSession) SendInterim(text string) {
	s.queue <- recvItem{frag: Fragment{Text: text}}
}

// SendError queues a typed capture error.
func (s *MockSession) SendError(code Code, msg string) {
	s.queue <- recvItem{err: NewError(code, msg)}
}

// End queues the natural end of the stream.
func (s *MockSession) End() {
	s.queue <- recvItem{err: iterator.Done}
}

// Recv implements Session. An abort discards anything still queued.
func (s *MockSession) Recv() (Fragment, error) {
	select {
	case <-s.aborted:
		return Fragment{}, iterator.Done
	default:
	}
	select {
	case <-s.aborted:
		return Fragment{}, iterator.Done
	case it := <-s.queue:
		return it.frag, it.err
	}
}

// Stop implements Session. Queued fragments still deliver, then the stream
// ends, mirroring a platform's graceful stop flush.
func (s *MockSession) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()
	s.queue <- recvItem{err: iterator.Done}
	return nil
}

// Abort implements Session.
func (s *MockSession) Abort() error {
	s.abortOnce.Do(func() { close(s.aborted) })
	return nil
}

// Stopped reports whether Stop was called.
func (s *MockSession) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Aborted reports whether Abort was called.
func (s *MockSession) Aborted() bool {
	select {
	case <-s.aborted:
		return true
	default:
		return false
	}
}

// Ensure mocks satisfy the interfaces.
var (
	_ Recognizer = (*MockRecognizer)(nil)
	_ Session    = (*MockSession)(nil)
)

package playback

import (
	"sync"
	"time"
)

// MockCall records a single Speak invocation on the mock synthesizer.
type MockCall struct {
	Request Request
	Time    time.Time
}

// MockSynthesizer is a configurable Synthesizer for tests.
//
// Example usage:
//
//	synth := playback.NewMockSynthesizer(playback.WithAutoComplete(10 * time.Millisecond))
//	ctrl, _ := playback.New(synth)
//	outcome, _ := ctrl.Speak(ctx, "hello").Wait(ctx)
type MockSynthesizer struct {
	// SpeakFunc overrides Speak entirely when set.
	SpeakFunc func(req Request, sink func(Event)) (Job, error)

	mu         sync.Mutex
	voices     []Voice
	haveVoices bool
	listeners  map[int]func()
	nextListen int
	calls      []MockCall
	jobs       []*MockJob
	speakErr   error
	auto       bool
	autoDelay  time.Duration
}

// MockOption configures a MockSynthesizer.
type MockOption func(*MockSynthesizer)

// WithVoices loads the catalog immediately.
func WithVoices(vs ...Voice) MockOption {
	return func(m *MockSynthesizer) {
		m.voices = vs
		m.haveVoices = true
	}
}

// WithNoVoices leaves the catalog unloaded until SetVoices is called.
func WithNoVoices() MockOption {
	return func(m *MockSynthesizer) {
		m.voices = nil
		m.haveVoices = false
	}
}

// WithVoicesAfter loads the catalog after a delay, imitating the
// asynchronous load browsers do.
func WithVoicesAfter(d time.Duration, vs ...Voice) MockOption {
	return func(m *MockSynthesizer) {
		m.voices = nil
		m.haveVoices = false
		time.AfterFunc(d, func() { m.SetVoices(vs...) })
	}
}

// WithSpeakError makes every Speak call fail with err.
func WithSpeakError(err error) MockOption {
	return func(m *MockSynthesizer) { m.speakErr = err }
}

// WithAutoComplete makes jobs emit started immediately and ended after
// the delay, unless cancelled first.
func WithAutoComplete(d time.Duration) MockOption {
	return func(m *MockSynthesizer) {
		m.auto = true
		m.autoDelay = d
	}
}

// NewMockSynthesizer builds a mock synthesizer. Without options it
// advertises a small catalog immediately and leaves job lifecycles to
// the test.
func NewMockSynthesizer(opts ...MockOption) *MockSynthesizer {
	m := &MockSynthesizer{
		voices: []Voice{
			{ID: "mock-en-local", Name: "Mock English (local)", Language: "en-US", Local: true, Default: true},
			{ID: "mock-en-remote", Name: "Mock English (remote)", Language: "en-GB"},
		},
		haveVoices: true,
		listeners:  make(map[int]func()),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Voices implements Synthesizer.
func (m *MockSynthesizer) Voices() ([]Voice, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.haveVoices {
		return nil, false
	}
	out := make([]Voice, len(m.voices))
	copy(out, m.voices)
	return out, true
}

// VoicesChanged implements Synthesizer.
func (m *MockSynthesizer) VoicesChanged(fn func()) func() {
	m.mu.Lock()
	id := m.nextListen
	m.nextListen++
	m.listeners[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// SetVoices replaces the catalog and notifies listeners.
func (m *MockSynthesizer) SetVoices(vs ...Voice) {
	m.mu.Lock()
	m.voices = vs
	m.haveVoices = true
	fns := make([]func(), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Speak implements Synthesizer.
func (m *MockSynthesizer) Speak(req Request, sink func(Event)) (Job, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Request: req, Time: time.Now()})
	speakErr := m.speakErr
	auto, autoDelay := m.auto, m.autoDelay
	override := m.SpeakFunc
	m.mu.Unlock()

	if override != nil {
		return override(req, sink)
	}
	if speakErr != nil {
		return nil, speakErr
	}

	job := &MockJob{sink: sink}
	m.mu.Lock()
	m.jobs = append(m.jobs, job)
	m.mu.Unlock()

	if auto {
		job.EmitStarted()
		job.timer = time.AfterFunc(autoDelay, job.EmitEnded)
	}
	return job, nil
}

// Calls returns a copy of the recorded Speak calls.
func (m *MockSynthesizer) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times Speak has been invoked.
func (m *MockSynthesizer) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Jobs returns every job handed out, oldest first.
func (m *MockSynthesizer) Jobs() []*MockJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MockJob, len(m.jobs))
	copy(out, m.jobs)
	return out
}

// LastJob returns the most recent job, or nil.
func (m *MockSynthesizer) LastJob() *MockJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.jobs) == 0 {
		return nil
	}
	return m.jobs[len(m.jobs)-1]
}

// Reset clears recorded calls and jobs.
func (m *MockSynthesizer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.jobs = nil
}

// MockJob is a scriptable synthesis job. Tests drive its lifecycle with
// the Emit methods; a cancelled job drops all further events.
type MockJob struct {
	sink  func(Event)
	timer *time.Timer

	mu       sync.Mutex
	canceled bool
}

func (j *MockJob) emit(ev Event) {
	j.mu.Lock()
	dead := j.canceled
	j.mu.Unlock()
	if dead {
		return
	}
	j.sink(ev)
}

// Cancel implements Job.
func (j *MockJob) Cancel() {
	j.mu.Lock()
	j.canceled = true
	t := j.timer
	j.mu.Unlock()
	if t != nil {
		t.Stop()
	}
}

// Pause implements Job. The mock confirms immediately.
func (j *MockJob) Pause() { j.emit(Event{Kind: EventPaused}) }

// Resume implements Job. The mock confirms immediately.
func (j *MockJob) Resume() { j.emit(Event{Kind: EventResumed}) }

// Cancelled reports whether Cancel was called.
func (j *MockJob) Cancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.canceled
}

// EmitStarted delivers a started event.
func (j *MockJob) EmitStarted() { j.emit(Event{Kind: EventStarted}) }

// EmitEnded delivers a natural completion.
func (j *MockJob) EmitEnded() { j.emit(Event{Kind: EventEnded}) }

// EmitFailed delivers a synthesis failure.
func (j *MockJob) EmitFailed(err error) { j.emit(Event{Kind: EventFailed, Err: err}) }

var (
	_ Synthesizer = (*MockSynthesizer)(nil)
	_ Job         = (*MockJob)(nil)
)

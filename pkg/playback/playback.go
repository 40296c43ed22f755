// Package playback manages spoken output. A Controller owns at most one
// active synthesis request; speaking something new supersedes whatever
// is currently playing, and the superseded request resolves as
// interrupted rather than failed. Pre-emption is the normal way a voice
// conversation moves on, not an error.
//
// The Controller is synthesizer-agnostic. A Synthesizer is any backend
// that can list voices and turn a Request into audio, whether that is a
// browser session reached over a websocket or a test double.
//
// Example usage:
//
//	ctrl, err := playback.New(synth, playback.WithLanguage("en-US"))
//	if err != nil {
//		return err
//	}
//	h := ctrl.Speak(ctx, "The webhook settings live under Integrations.")
//	outcome, err := h.Wait(ctx)
//	if err != nil {
//		return err
//	}
//	if outcome == playback.OutcomeCompleted {
//		rearmListening()
//	}
package playback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-talkmode/internal/log"
)

// DefaultVoiceWait bounds how long voice lookups wait for the catalog
// to load before giving up.
const DefaultVoiceWait = 3 * time.Second

// Voice describes one synthesis voice offered by the backend.
type Voice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
	Local    bool   `json:"local"`
	Default  bool   `json:"default"`
}

// Request is one unit of speech handed to a synthesizer. Zero prosody
// values are filled from the controller defaults before dispatch.
type Request struct {
	ID       string  `json:"id"`
	Text     string  `json:"text"`
	Rate     float64 `json:"rate"`
	Pitch    float64 `json:"pitch"`
	Volume   float64 `json:"volume"`
	Voice    string  `json:"voice,omitempty"`
	Language string  `json:"language,omitempty"`
}

// EventKind identifies a synthesizer lifecycle event.
type EventKind int

const (
	// EventStarted fires when audio actually begins.
	EventStarted EventKind = iota
	// EventEnded fires on natural completion.
	EventEnded
	// EventPaused fires when the backend confirms a pause.
	EventPaused
	// EventResumed fires when the backend confirms a resume.
	EventResumed
	// EventFailed fires when synthesis breaks. Cancellation is not a
	// failure and must not be reported as one.
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventEnded:
		return "ended"
	case EventPaused:
		return "paused"
	case EventResumed:
		return "resumed"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is a synthesizer lifecycle notification. Err is set only for
// EventFailed.
type Event struct {
	Kind EventKind
	Err  error
}

// Job is a live synthesis in progress.
type Job interface {
	// Cancel stops the job. Cancelled jobs emit no further events.
	Cancel()
	Pause()
	Resume()
}

// Synthesizer turns requests into audio.
type Synthesizer interface {
	// Voices returns the catalog, and false while it has not loaded yet.
	Voices() ([]Voice, bool)
	// VoicesChanged registers a callback for catalog changes and returns
	// a function that unregisters it.
	VoicesChanged(fn func()) (remove func())
	// Speak starts synthesizing the request. Lifecycle events are
	// delivered through sink until the job ends or is cancelled.
	Speak(req Request, sink func(Event)) (Job, error)
}

// Outcome is how a speak request finished.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	// OutcomeCompleted means the full text played to the end.
	OutcomeCompleted
	// OutcomeInterrupted means a newer request or a stop pre-empted it.
	// Interruption is a success from the caller's point of view.
	OutcomeInterrupted
	// OutcomeFailed means synthesis genuinely broke.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeInterrupted:
		return "interrupted"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Handle tracks one speak request through to its outcome.
type Handle struct {
	done    chan struct{}
	once    sync.Once
	outcome Outcome
	err     error
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

func (h *Handle) resolve(o Outcome, err error) {
	h.once.Do(func() {
		h.outcome = o
		h.err = err
		close(h.done)
	})
}

// Done is closed once the request has finished, been superseded, or failed.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the request resolves or the context ends.
func (h *Handle) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-h.done:
		return h.outcome, h.err
	case <-ctx.Done():
		return OutcomeUnknown, ctx.Err()
	}
}

// Outcome is valid once Done is closed; before that it reads unknown.
func (h *Handle) Outcome() Outcome {
	select {
	case <-h.done:
		return h.outcome
	default:
		return OutcomeUnknown
	}
}

// Err is valid once Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Config holds playback settings.
type Config struct {
	// Language steers default voice selection.
	Language string
	// VoiceWait bounds how long to wait for the voice catalog.
	VoiceWait time.Duration
	// Rate, Pitch and Volume are the defaults applied to requests that
	// do not override them.
	Rate   float64
	Pitch  float64
	Volume float64
	Logger *slog.Logger
	// OnStart fires when a request's audio begins.
	OnStart func(Request)
	// OnEnd fires on natural completion only, never for superseded or
	// failed requests.
	OnEnd func(Request)
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Language:  "en-US",
		VoiceWait: DefaultVoiceWait,
		Rate:      1.0,
		Pitch:     1.0,
		Volume:    1.0,
		Logger:    log.L(),
	}
}

// Option mutates a Config.
type Option func(*Config)

// WithLanguage sets the language used to pick a default voice.
func WithLanguage(lang string) Option {
	return func(c *Config) { c.Language = lang }
}

// WithVoiceWait bounds the wait for the voice catalog.
func WithVoiceWait(d time.Duration) Option {
	return func(c *Config) { c.VoiceWait = d }
}

// WithDefaults sets the prosody defaults for requests.
func WithDefaults(rate, pitch, volume float64) Option {
	return func(c *Config) {
		c.Rate = rate
		c.Pitch = pitch
		c.Volume = volume
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithOnStart sets the audio-started callback.
func WithOnStart(fn func(Request)) Option {
	return func(c *Config) { c.OnStart = fn }
}

// WithOnEnd sets the natural-completion callback.
func WithOnEnd(fn func(Request)) Option {
	return func(c *Config) { c.OnEnd = fn }
}

// Apply applies options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the config for usable values.
func (c *Config) Validate() error {
	if c.Rate <= 0 {
		return ErrBadRate
	}
	if c.Pitch < 0 || c.Pitch > 2 {
		return ErrBadPitch
	}
	if c.Volume <= 0 || c.Volume > 1 {
		return ErrBadVolume
	}
	if c.VoiceWait <= 0 {
		return ErrBadVoiceWait
	}
	return nil
}

// SpeakOption overrides one request's prosody or voice.
type SpeakOption func(*Request)

// WithRate overrides the speaking rate for one request.
func WithRate(r float64) SpeakOption {
	return func(q *Request) { q.Rate = r }
}

// WithPitch overrides the pitch for one request.
func WithPitch(p float64) SpeakOption {
	return func(q *Request) { q.Pitch = p }
}

// WithVolume overrides the volume for one request.
func WithVolume(v float64) SpeakOption {
	return func(q *Request) { q.Volume = v }
}

// WithVoice pins one request to a specific voice ID, skipping default
// voice selection.
func WithVoice(id string) SpeakOption {
	return func(q *Request) { q.Voice = id }
}

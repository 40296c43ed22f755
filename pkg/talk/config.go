package talk

import (
	"log/slog"
	"time"

	"github.com/teslashibe/go-talkmode/internal/log"
	"github.com/teslashibe/go-talkmode/pkg/segment"
	"github.com/teslashibe/go-talkmode/pkg/transcript"
)

// Default timings for the conversation loop.
const (
	// DefaultAnswerTimeout bounds one answer provider call.
	DefaultAnswerTimeout = 30 * time.Second

	// DefaultBackoff is the pause before listening resumes after a
	// failed answer.
	DefaultBackoff = 1000 * time.Millisecond

	// DefaultRearmDelay is the settle pause before capture restarts
	// after speech ends, so the tail of the engine's own voice is not
	// picked up.
	DefaultRearmDelay = 300 * time.Millisecond

	// DefaultWatchdogProcessing bounds how long the engine may sit in
	// processing before the watchdog resets it.
	DefaultWatchdogProcessing = 45 * time.Second

	// DefaultWatchdogSpeaking bounds one spoken answer.
	DefaultWatchdogSpeaking = 3 * time.Minute
)

// Config holds the engine's loop tuning. Collaborators (capture,
// playback, answer provider) are passed to New directly; everything
// here has a workable default.
type Config struct {
	// SilenceTimeout is how much silence ends an utterance.
	SilenceTimeout time.Duration

	// AnswerTimeout bounds one answer provider call.
	AnswerTimeout time.Duration

	// Backoff is the pause before listening resumes after a failed
	// answer or a recoverable capture failure.
	Backoff time.Duration

	// RearmDelay is the settle pause before capture restarts once
	// speech has finished.
	RearmDelay time.Duration

	// WatchdogListening bounds time in listening. Zero disables it;
	// listening legitimately lasts as long as the user stays quiet.
	WatchdogListening time.Duration

	// WatchdogProcessing bounds time in processing. Zero disables.
	WatchdogProcessing time.Duration

	// WatchdogSpeaking bounds time in speaking. Zero disables.
	WatchdogSpeaking time.Duration

	// EventBuffer is the internal event channel capacity.
	EventBuffer int

	// Journal is the conversation record to append turns to. A private
	// in-memory one is created when nil.
	Journal *transcript.Log

	// Callbacks are the engine's outward notifications.
	Callbacks Callbacks

	// Logger is the structured logger to use.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SilenceTimeout:     segment.DefaultSilenceTimeout,
		AnswerTimeout:      DefaultAnswerTimeout,
		Backoff:            DefaultBackoff,
		RearmDelay:         DefaultRearmDelay,
		WatchdogProcessing: DefaultWatchdogProcessing,
		WatchdogSpeaking:   DefaultWatchdogSpeaking,
		EventBuffer:        64,
		Logger:             log.L(),
	}
}

// Option mutates a Config.
type Option func(*Config)

// WithSilenceTimeout sets the utterance silence window.
func WithSilenceTimeout(d time.Duration) Option {
	return func(c *Config) { c.SilenceTimeout = d }
}

// WithAnswerTimeout bounds one answer provider call.
func WithAnswerTimeout(d time.Duration) Option {
	return func(c *Config) { c.AnswerTimeout = d }
}

// WithBackoff sets the pause before listening resumes after a failure.
func WithBackoff(d time.Duration) Option {
	return func(c *Config) { c.Backoff = d }
}

// WithRearmDelay sets the settle pause before capture restarts.
func WithRearmDelay(d time.Duration) Option {
	return func(c *Config) { c.RearmDelay = d }
}

// WithWatchdog sets the per-mode stuck-state bounds. Zero disables a
// bound.
func WithWatchdog(listening, processing, speaking time.Duration) Option {
	return func(c *Config) {
		c.WatchdogListening = listening
		c.WatchdogProcessing = processing
		c.WatchdogSpeaking = speaking
	}
}

// WithEventBuffer sets the internal event channel capacity.
func WithEventBuffer(n int) Option {
	return func(c *Config) { c.EventBuffer = n }
}

// WithJournal sets the conversation record.
func WithJournal(j *transcript.Log) Option {
	return func(c *Config) { c.Journal = j }
}

// WithCallbacks sets the outward notifications.
func WithCallbacks(cb Callbacks) Option {
	return func(c *Config) { c.Callbacks = cb }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// Apply applies options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.SilenceTimeout <= 0 {
		return ErrBadSilenceTimeout
	}
	if c.AnswerTimeout <= 0 {
		return ErrBadAnswerTimeout
	}
	if c.Backoff <= 0 {
		return ErrBadBackoff
	}
	if c.RearmDelay < 0 {
		return ErrBadRearmDelay
	}
	if c.WatchdogListening < 0 || c.WatchdogProcessing < 0 || c.WatchdogSpeaking < 0 {
		return ErrBadWatchdog
	}
	if c.EventBuffer <= 0 {
		return ErrBadEventBuffer
	}
	return nil
}

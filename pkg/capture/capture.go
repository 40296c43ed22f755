// Package capture wraps a continuous speech-recognition session behind a
// small Recognizer port, so the rest of the engine never touches a platform
// API directly.
//
// A Recognizer opens Sessions. A Session delivers interim and final
// transcript Fragments until it ends; iterator.Done marks the natural end of
// the stream. The Controller enforces the single-live-session invariant,
// accumulates final text, tags stops with an explicit end reason, and
// publishes everything as a stream of Events.
//
// Example usage:
//
//	ctrl, err := capture.New(recognizer, capture.WithLanguage("en-US"))
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := ctrl.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	for ev := range ctrl.Events() {
//		switch ev.Kind {
//		case capture.EventFragment:
//			fmt.Println(ev.Fragment.Text)
//		case capture.EventEnded:
//			return
//		}
//	}
package capture

import (
	"context"
	"log/slog"
	"time"
)

// Fragment is one piece of transcript from the recognition stream.
type Fragment struct {
	// Text is the transcript text.
	Text string

	// Final reports whether the recognizer has committed this text.
	// A non-final fragment replaces the previous interim.
	Final bool

	// Confidence is the recognizer's 0-1 confidence. Interim fragments may
	// carry zero.
	Confidence float64
}

// SessionConfig carries per-session parameters to the recognizer.
type SessionConfig struct {
	// Language is a BCP 47 tag ("en-US").
	Language string

	// InterimResults requests provisional fragments.
	InterimResults bool

	// Continuous keeps the session open across pauses in speech.
	Continuous bool
}

// Session is one live recognition run.
//
// Recv blocks for the next fragment. It returns iterator.Done once the
// session has ended. A *Error return reports a session failure; unless the
// error is fatal the stream may still be live, and the caller should keep
// calling Recv until iterator.Done arrives.
type Session interface {
	Recv() (Fragment, error)

	// Stop requests a graceful end: pending audio is finalized, remaining
	// fragments are delivered, then the stream ends.
	Stop() error

	// Abort tears the session down immediately, discarding pending results.
	Abort() error
}

// Recognizer opens recognition sessions.
//
// Open returns once the platform session has actually begun receiving audio,
// so a nil error means listening is live. At most one Session should be open
// per Recognizer at a time; the Controller enforces this.
type Recognizer interface {
	Open(ctx context.Context, cfg SessionConfig) (Session, error)
}

// EventKind discriminates controller events.
type EventKind int

const (
	// EventFragment carries transcript text.
	EventFragment EventKind = iota
	// EventError carries a recoverable or fatal capture failure.
	EventError
	// EventEnded signals that the session is gone.
	EventEnded
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventFragment:
		return "fragment"
	case EventError:
		return "error"
	case EventEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// EndReason says why a session ended. It replaces the usual hidden
// "user stopped" boolean: the reason travels with the ended event so
// downstream restart logic never has to guess.
type EndReason int

const (
	// EndNatural means the platform closed the stream on its own.
	EndNatural EndReason = iota
	// EndStopped means Stop was called on the controller.
	EndStopped
	// EndAborted means Abort was called on the controller.
	EndAborted
	// EndFailed means the session died of a fatal error.
	EndFailed
)

// String returns the end reason name.
func (r EndReason) String() string {
	switch r {
	case EndNatural:
		return "natural"
	case EndStopped:
		return "stopped"
	case EndAborted:
		return "aborted"
	case EndFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is one occurrence on the controller's stream.
type Event struct {
	Kind     EventKind
	Fragment Fragment  // set for EventFragment
	Err      error     // set for EventError, and for EventEnded when EndFailed
	Reason   EndReason // set for EventEnded
}

// Snapshot is a point-in-time view of the capture state, shaped for status
// endpoints and UI bindings.
type Snapshot struct {
	Listening        bool    `json:"listening"`
	Language         string  `json:"language"`
	Interim          string  `json:"interim"`
	AccumulatedFinal string  `json:"accumulatedFinal"`
	Confidence       float64 `json:"confidence"`
	LastError        string  `json:"lastError,omitempty"`
}

// Config holds capture controller configuration.
type Config struct {
	// Language is the recognition language tag.
	Language string

	// InterimResults requests provisional fragments from the recognizer.
	InterimResults bool

	// AutoRestart re-opens the session after a natural end. Off by default:
	// the conversation loop re-arms listening itself, and an unconditional
	// restart would race with an explicit stop.
	AutoRestart bool

	// RestartGate, when set, is consulted before each automatic restart;
	// returning false skips that restart.
	RestartGate func() bool

	// SettleDelay is the pause before an automatic restart.
	SettleDelay time.Duration

	// StartTimeout bounds how long Open may take to begin receiving audio.
	StartTimeout time.Duration

	// EventBuffer is the event channel capacity.
	EventBuffer int

	// Logger is the structured logger to use.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Language:       "en-US",
		InterimResults: true,
		SettleDelay:    300 * time.Millisecond,
		StartTimeout:   10 * time.Second,
		EventBuffer:    64,
		Logger:         slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.EventBuffer <= 0 {
		return ErrBadEventBuffer
	}
	return nil
}

// Option is a functional option for configuring the controller.
type Option func(*Config)

// WithLanguage sets the recognition language tag.
func WithLanguage(lang string) Option {
	return func(c *Config) {
		c.Language = lang
	}
}

// WithInterimResults enables or disables provisional fragments.
func WithInterimResults(enabled bool) Option {
	return func(c *Config) {
		c.InterimResults = enabled
	}
}

// WithAutoRestart enables gated automatic restart after a natural end.
// A nil gate always allows the restart.
func WithAutoRestart(gate func() bool) Option {
	return func(c *Config) {
		c.AutoRestart = true
		c.RestartGate = gate
	}
}

// WithSettleDelay sets the pause before an automatic restart.
func WithSettleDelay(d time.Duration) Option {
	return func(c *Config) {
		c.SettleDelay = d
	}
}

// WithStartTimeout bounds session open time.
func WithStartTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.StartTimeout = d
	}
}

// WithEventBuffer sets the event channel capacity.
func WithEventBuffer(n int) Option {
	return func(c *Config) {
		c.EventBuffer = n
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

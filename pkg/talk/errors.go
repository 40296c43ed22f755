package talk

import "errors"

// Sentinel errors for the talk package.
var (
	// ErrNoCapture indicates New was given a nil capture controller.
	ErrNoCapture = errors.New("talk: capture controller required")

	// ErrNoPlayback indicates New was given a nil playback controller.
	ErrNoPlayback = errors.New("talk: playback controller required")

	// ErrNoProvider indicates New was given a nil answer provider.
	ErrNoProvider = errors.New("talk: answer provider required")

	// ErrClosed indicates the engine loop has exited.
	ErrClosed = errors.New("talk: engine closed")

	// ErrEmptySubmit indicates a manual submission with no content.
	ErrEmptySubmit = errors.New("talk: empty submission")

	// Config validation errors.
	ErrBadSilenceTimeout = errors.New("talk: silence timeout must be positive")
	ErrBadAnswerTimeout  = errors.New("talk: answer timeout must be positive")
	ErrBadBackoff        = errors.New("talk: backoff must be positive")
	ErrBadRearmDelay     = errors.New("talk: rearm delay must not be negative")
	ErrBadWatchdog       = errors.New("talk: watchdog bounds must not be negative")
	ErrBadEventBuffer    = errors.New("talk: event buffer must be positive")
)

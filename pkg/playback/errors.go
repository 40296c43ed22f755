package playback

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSynthesizer is returned when no synthesis backend is attached.
	ErrNoSynthesizer = errors.New("playback: no synthesizer attached")

	// ErrVoicesUnavailable is returned when the voice catalog has not
	// loaded within the bounded wait.
	ErrVoicesUnavailable = errors.New("playback: voice catalog unavailable")

	ErrBadRate      = errors.New("playback: rate must be positive")
	ErrBadPitch     = errors.New("playback: pitch must be between 0 and 2")
	ErrBadVolume    = errors.New("playback: volume must be between 0 and 1")
	ErrBadVoiceWait = errors.New("playback: voice wait must be positive")
)

// SynthesisError reports a genuine synthesis failure. Cancellation and
// pre-emption never surface as a SynthesisError.
type SynthesisError struct {
	Message string
	Cause   error
}

func (e *SynthesisError) Error() string {
	switch {
	case e.Message != "" && e.Cause != nil:
		return fmt.Sprintf("playback: synthesis failed: %s: %v", e.Message, e.Cause)
	case e.Message != "":
		return fmt.Sprintf("playback: synthesis failed: %s", e.Message)
	case e.Cause != nil:
		return fmt.Sprintf("playback: synthesis failed: %v", e.Cause)
	default:
		return "playback: synthesis failed"
	}
}

func (e *SynthesisError) Unwrap() error { return e.Cause }

package capture

import (
	"errors"
	"fmt"
)

// Sentinel errors for the capture package.
var (
	// ErrUnsupported indicates no recognition capability is available.
	ErrUnsupported = errors.New("capture: recognition not supported")

	// ErrClosed indicates the controller has been closed.
	ErrClosed = errors.New("capture: controller closed")

	// ErrBadEventBuffer indicates a non-positive event buffer size.
	ErrBadEventBuffer = errors.New("capture: event buffer must be positive")
)

// Code classifies a recognition failure. The values mirror the taxonomy
// platform recognizers report.
type Code string

const (
	// CodePermissionDenied: the user denied microphone access. Fatal — no
	// restart can succeed until the grant changes.
	CodePermissionDenied Code = "permission-denied"

	// CodeNoMicrophone: no capture device is present. Fatal.
	CodeNoMicrophone Code = "no-microphone"

	// CodeNoSpeech: the recognizer heard nothing. Benign; the session
	// continues.
	CodeNoSpeech Code = "no-speech"

	// CodeNetwork: the recognition service was unreachable. Recoverable.
	CodeNetwork Code = "network"

	// CodeAborted: the session was torn down deliberately. Expected, not an
	// error condition.
	CodeAborted Code = "aborted"

	// CodeUnknown covers anything the platform did not classify.
	CodeUnknown Code = "unknown"
)

// ParseCode maps a platform error string to a Code. Browser recognizers
// report "not-allowed", "audio-capture" and friends; unknown strings map to
// CodeUnknown.
func ParseCode(s string) Code {
	switch s {
	case "not-allowed", "service-not-allowed", "permission-denied":
		return CodePermissionDenied
	case "audio-capture", "no-microphone":
		return CodeNoMicrophone
	case "no-speech":
		return CodeNoSpeech
	case "network":
		return CodeNetwork
	case "aborted":
		return CodeAborted
	default:
		return CodeUnknown
	}
}

// Error is a typed recognition failure.
type Error struct {
	// Code classifies the failure.
	Code Code

	// Message is a human-readable description.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// NewError builds a typed capture error.
func NewError(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("capture: %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("capture: %s", e.Code)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Fatal reports whether the failure cannot be retried without user action.
func (e *Error) Fatal() bool {
	return e.Code == CodePermissionDenied || e.Code == CodeNoMicrophone
}

// Benign reports whether the failure is expected or harmless and should be
// absorbed without surfacing.
func (e *Error) Benign() bool {
	return e.Code == CodeNoSpeech || e.Code == CodeAborted
}

// IsFatal reports whether err is a capture failure that cannot recover
// without user action (permission grant, hardware).
func IsFatal(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Fatal()
}

// IsBenign reports whether err is an expected or harmless capture condition.
func IsBenign(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Benign()
}

// IsRecoverable reports whether err is a transient capture failure; the
// session may continue or be restarted.
func IsRecoverable(err error) bool {
	var ce *Error
	if !errors.As(err, &ce) {
		return false
	}
	return !ce.Fatal() && !ce.Benign()
}

// Package talk runs the continuous voice conversation loop: listen,
// segment an utterance, fetch an answer, speak it, listen again.
//
// The Engine composes a capture controller, a segmenter, a playback
// controller and an answer provider. All of them are injected, so the
// whole loop runs against test doubles exactly as it runs against a
// live browser bridge.
//
// Internally the engine is a single goroutine reducing an event stream:
// capture fragments, segmenter firings, answer completions, playback
// outcomes, commands and timer ticks all arrive on one channel and are
// applied in order. Every asynchronous completion carries the epoch it
// was spawned under; a stop bumps the epoch, so late answers and stale
// timers are discarded instead of racing the new state.
//
// Example usage:
//
//	engine, err := talk.New(cap, play, provider,
//		talk.WithCallbacks(talk.Callbacks{
//			OnTurn: func(t transcript.Turn) { render(t) },
//		}),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	go engine.Run(ctx)
//
//	if err := engine.StartTalk(ctx); err != nil {
//		log.Fatal(err)
//	}
package talk

import (
	"encoding/json"

	"github.com/teslashibe/go-talkmode/pkg/transcript"
)

// Mode is the engine's coarse conversation state.
type Mode int

const (
	// ModeIdle: talk mode is off and nothing is in flight.
	ModeIdle Mode = iota
	// ModeListening: a capture session is live (or being re-armed) and
	// the segmenter is waiting for an utterance.
	ModeListening
	// ModeProcessing: an utterance is with the answer provider. Capture
	// is stopped so the engine cannot hear itself think.
	ModeProcessing
	// ModeSpeaking: the answer is playing. Capture stays stopped so the
	// engine cannot hear its own voice.
	ModeSpeaking
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeListening:
		return "listening"
	case ModeProcessing:
		return "processing"
	case ModeSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the mode as its name.
func (m Mode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// StopReason says why the engine dropped to idle. The reason travels
// with the stop instead of living in a hidden boolean, so restart logic
// never has to guess whether a stop was intentional.
type StopReason string

const (
	// StopUser: an explicit StopTalk call.
	StopUser StopReason = "user"
	// StopVoiceCommand: the user said "stop".
	StopVoiceCommand StopReason = "voice_command"
	// StopCaptureFatal: capture failed in a way no restart can fix.
	StopCaptureFatal StopReason = "capture_fatal"
	// StopWatchdog: a stuck state was forcibly reset.
	StopWatchdog StopReason = "watchdog"
	// StopShutdown: the engine itself is going away.
	StopShutdown StopReason = "shutdown"
)

// Status is a point-in-time view of the engine, shaped for status
// endpoints and UI bindings.
type Status struct {
	Mode      Mode   `json:"mode"`
	TalkMode  bool   `json:"talkModeActive"`
	Listening bool   `json:"listening"`
	Speaking  bool   `json:"speaking"`
	Interim   string `json:"interim,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Severity grades a notice.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warning"
	SeverityError Severity = "error"
)

// Notice is one human-readable condition surfaced by the engine. Every
// fatal or recoverable failure produces exactly one.
type Notice struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
}

// CommandResult reports an intercepted voice or typed command.
type CommandResult struct {
	// Command is the recognized command.
	Command Command `json:"command"`
	// Text is the raw utterance that carried it.
	Text string `json:"text"`
	// TalkMode is the talk-mode state after handling.
	TalkMode bool `json:"talkModeActive"`
}

// Callbacks groups the engine's outward notifications. All callbacks
// run on the engine's event loop and must return promptly; calling back
// into the engine from them is safe because engine methods only post
// events.
type Callbacks struct {
	// OnStateChange fires after every mode or talk-mode change.
	OnStateChange func(Status)

	// OnTranscriptUpdate fires as recognition text evolves: interim is
	// the provisional tail, final the accumulated committed text.
	OnTranscriptUpdate func(interim, final string)

	// OnSpeakRequested fires with the cleaned text just before it is
	// handed to playback.
	OnSpeakRequested func(text string)

	// OnCommandHandled fires when a "start"/"stop" utterance is
	// intercepted instead of being answered.
	OnCommandHandled func(CommandResult)

	// OnTurn fires for every turn appended to the conversation.
	OnTurn func(transcript.Turn)

	// OnNotice fires for every user-facing condition.
	OnNotice func(Notice)
}

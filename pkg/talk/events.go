package talk

import (
	"github.com/teslashibe/go-talkmode/pkg/answer"
	"github.com/teslashibe/go-talkmode/pkg/capture"
	"github.com/teslashibe/go-talkmode/pkg/playback"
	"github.com/teslashibe/go-talkmode/pkg/segment"
)

// eventKind discriminates loop events.
type eventKind int

const (
	// evStart asks the loop to turn talk mode on.
	evStart eventKind = iota
	// evStop asks the loop to drop to idle.
	evStop
	// evSubmit carries a typed utterance.
	evSubmit
	// evUtterance carries a segmenter firing.
	evUtterance
	// evCapture carries one capture controller event.
	evCapture
	// evArmed reports that a capture session opened.
	evArmed
	// evArmFailed reports that a capture session refused to open.
	evArmFailed
	// evAnswer carries an answer provider completion.
	evAnswer
	// evSpoken carries a playback outcome.
	evSpoken
	// evRearm is a delayed listen restart (settle or backoff) firing.
	evRearm
	// evWatchdog is a stuck-state bound firing.
	evWatchdog
)

// event is one unit of work for the reducer loop. epoch pins
// asynchronous completions to the state that spawned them; the loop
// drops events whose epoch is stale. reply, when set, receives exactly
// one result.
type event struct {
	kind  eventKind
	epoch uint64

	utt     segment.Utterance
	cap     capture.Event
	ans     *answer.Answer
	outcome playback.Outcome
	err     error
	reason  StopReason
	reply   chan error
}

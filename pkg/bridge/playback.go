package bridge

import (
	"errors"
	"sync"

	"github.com/teslashibe/go-talkmode/pkg/playback"
	"github.com/teslashibe/go-talkmode/pkg/protocol"
)

// Voices implements playback.Synthesizer. The catalog is whatever the
// page last announced; it survives a reconnect, since the next tab on the
// same machine almost always offers the same voices.
func (e *Endpoint) Voices() ([]playback.Voice, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.haveVoices {
		return nil, false
	}
	out := make([]playback.Voice, len(e.voices))
	copy(out, e.voices)
	return out, true
}

// VoicesChanged implements playback.Synthesizer.
func (e *Endpoint) VoicesChanged(fn func()) func() {
	e.mu.Lock()
	id := e.nextWatcher
	e.nextWatcher++
	e.watchers[id] = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.watchers, id)
		e.mu.Unlock()
	}
}

// Speak implements playback.Synthesizer. The request ID doubles as the
// wire request_id, so lifecycle events route straight back to the job.
func (e *Endpoint) Speak(req playback.Request, sink func(playback.Event)) (playback.Job, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	if e.conn == nil {
		e.mu.Unlock()
		return nil, ErrNotAttached
	}
	j := &job{id: req.ID, ep: e, sink: sink}
	e.jobs[req.ID] = j
	e.mu.Unlock()

	msg, err := protocol.NewSpeakStartMessage(req.ID, req.Text, req.Rate, req.Pitch, req.Volume, req.Voice, req.Language)
	if err == nil {
		err = e.send(msg)
	}
	if err != nil {
		e.removeJob(req.ID)
		return nil, err
	}
	return j, nil
}

func (e *Endpoint) removeJob(id string) {
	e.mu.Lock()
	delete(e.jobs, id)
	e.mu.Unlock()
}

func (e *Endpoint) handleSpeakEvent(gen uint64, msg *protocol.Message) {
	d, err := msg.GetSpeakEventData()
	if err != nil {
		e.log.Warn("bad speak.event payload", "error", err)
		return
	}

	e.mu.Lock()
	j, ok := e.jobs[d.RequestID]
	if gen != e.gen {
		ok = false
	}
	if ok && (d.Event == protocol.SpeakEnded || d.Event == protocol.SpeakFailed) {
		delete(e.jobs, d.RequestID)
	}
	e.mu.Unlock()
	if !ok {
		e.log.Debug("stray speak.event", "request", d.RequestID, "event", d.Event)
		return
	}

	switch d.Event {
	case protocol.SpeakStarted:
		j.deliver(playback.Event{Kind: playback.EventStarted})
	case protocol.SpeakPaused:
		j.deliver(playback.Event{Kind: playback.EventPaused})
	case protocol.SpeakResumed:
		j.deliver(playback.Event{Kind: playback.EventResumed})
	case protocol.SpeakEnded:
		j.deliver(playback.Event{Kind: playback.EventEnded})
	case protocol.SpeakFailed:
		j.deliver(playback.Event{
			Kind: playback.EventFailed,
			Err:  &playback.SynthesisError{Message: d.Error, Cause: errors.New("browser synthesis error")},
		})
	default:
		e.log.Debug("unknown speak.event", "event", d.Event)
	}
}

func (e *Endpoint) handleVoices(gen uint64, msg *protocol.Message) {
	d, err := msg.GetVoicesData()
	if err != nil {
		e.log.Warn("bad voices payload", "error", err)
		return
	}
	vs := make([]playback.Voice, 0, len(d.Voices))
	for _, v := range d.Voices {
		vs = append(vs, playback.Voice{
			ID:       v.ID,
			Name:     v.Name,
			Language: v.Language,
			Local:    v.Local,
			Default:  v.Default,
		})
	}

	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		return
	}
	e.voices = vs
	e.haveVoices = true
	watchers := make([]func(), 0, len(e.watchers))
	for _, fn := range e.watchers {
		watchers = append(watchers, fn)
	}
	e.mu.Unlock()

	for _, fn := range watchers {
		fn()
	}
	e.log.Debug("voice catalog updated", "voices", len(vs))
}

// job is the engine-side half of one browser utterance.
type job struct {
	id   string
	ep   *Endpoint
	sink func(playback.Event)

	mu   sync.Mutex
	done bool
}

// deliver forwards one lifecycle event to the sink, exactly once past a
// terminal event and never after Cancel.
func (j *job) deliver(ev playback.Event) {
	j.mu.Lock()
	if j.done {
		j.mu.Unlock()
		return
	}
	if ev.Kind == playback.EventEnded || ev.Kind == playback.EventFailed {
		j.done = true
	}
	j.mu.Unlock()
	j.sink(ev)
}

// Cancel implements playback.Job.
func (j *job) Cancel() {
	j.mu.Lock()
	j.done = true
	j.mu.Unlock()
	j.ep.removeJob(j.id)
	j.ep.sendControl(protocol.TypeSpeakCancel, j.id)
}

// Pause implements playback.Job.
func (j *job) Pause() {
	j.ep.sendControl(protocol.TypeSpeakPause, j.id)
}

// Resume implements playback.Job.
func (j *job) Resume() {
	j.ep.sendControl(protocol.TypeSpeakResume, j.id)
}

func (e *Endpoint) sendControl(msgType protocol.MessageType, requestID string) {
	msg, err := protocol.NewSpeakControlMessage(msgType, requestID)
	if err == nil {
		err = e.send(msg)
	}
	if err != nil {
		e.log.Debug("speak control send failed", "type", string(msgType), "error", err)
	}
}

var _ playback.Synthesizer = (*Endpoint)(nil)
var _ playback.Job = (*job)(nil)

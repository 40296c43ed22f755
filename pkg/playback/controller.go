package playback

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Snapshot is a point-in-time view of playback state.
type Snapshot struct {
	Speaking  bool   `json:"speaking"`
	Paused    bool   `json:"paused"`
	RequestID string `json:"requestId,omitempty"`
	Text      string `json:"text,omitempty"`
}

type activeReq struct {
	seq    uint64
	req    Request
	job    Job
	handle *Handle
}

// Controller owns the single active synthesis request. All methods are
// safe for concurrent use.
type Controller struct {
	synth Synthesizer
	cfg   Config
	log   *slog.Logger

	mu       sync.Mutex
	seq      uint64
	active   *activeReq
	speaking bool
	paused   bool
	defVoice *Voice

	removeVoices func()
}

// New builds a playback controller over the given synthesizer. A nil
// synthesizer is allowed; Speak then resolves failed with
// ErrNoSynthesizer, which lets callers wire the backend in later.
func New(synth Synthesizer, opts ...Option) (*Controller, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Controller{
		synth: synth,
		cfg:   cfg,
		log:   cfg.Logger.With("component", "playback"),
	}
	if synth != nil {
		c.removeVoices = synth.VoicesChanged(func() {
			c.mu.Lock()
			c.defVoice = nil
			c.mu.Unlock()
		})
	}
	return c, nil
}

// Speak queues text for synthesis and returns a handle that resolves
// when the request completes, is superseded, or fails. Any request
// already playing is cancelled and its handle resolves interrupted.
// Speaking reads true before Speak returns.
func (c *Controller) Speak(ctx context.Context, text string, opts ...SpeakOption) *Handle {
	h := newHandle()
	if c.synth == nil {
		h.resolve(OutcomeFailed, ErrNoSynthesizer)
		return h
	}

	req := Request{
		ID:       uuid.NewString(),
		Text:     text,
		Rate:     c.cfg.Rate,
		Pitch:    c.cfg.Pitch,
		Volume:   c.cfg.Volume,
		Language: c.cfg.Language,
	}
	for _, opt := range opts {
		opt(&req)
	}
	if strings.TrimSpace(req.Text) == "" {
		h.resolve(OutcomeCompleted, nil)
		return h
	}

	c.mu.Lock()
	c.seq++
	seq := c.seq
	prev := c.active
	var prevJob Job
	if prev != nil {
		prevJob = prev.job
	}
	c.active = &activeReq{seq: seq, req: req, handle: h}
	c.speaking = true
	c.paused = false
	c.mu.Unlock()

	if prev != nil {
		if prevJob != nil {
			prevJob.Cancel()
		}
		prev.handle.resolve(OutcomeInterrupted, nil)
		c.log.Debug("playback superseded", "request", prev.req.ID)
	}

	go c.begin(ctx, seq, req)
	return h
}

// begin resolves the voice and dispatches to the synthesizer off the
// caller's goroutine. Every step rechecks that the request is still the
// active one; a superseded request cancels itself instead of attaching.
func (c *Controller) begin(ctx context.Context, seq uint64, req Request) {
	if req.Voice == "" {
		if v, err := c.DefaultVoice(ctx); err == nil {
			req.Voice = v.ID
		} else if !errors.Is(err, ErrVoicesUnavailable) && ctx.Err() == nil {
			c.log.Warn("default voice lookup failed", "error", err)
		}
	}

	c.mu.Lock()
	if c.active == nil || c.active.seq != seq {
		c.mu.Unlock()
		return
	}
	c.active.req = req
	c.mu.Unlock()

	job, err := c.synth.Speak(req, func(ev Event) { c.onEvent(seq, ev) })
	if err != nil {
		c.fail(seq, err)
		return
	}

	c.mu.Lock()
	if c.active == nil || c.active.seq != seq {
		c.mu.Unlock()
		job.Cancel()
		return
	}
	c.active.job = job
	c.mu.Unlock()
}

// onEvent applies a synthesizer event to the active request. Events
// carrying a stale sequence belong to a superseded request and are
// dropped, which is what keeps exactly one completion per request.
func (c *Controller) onEvent(seq uint64, ev Event) {
	c.mu.Lock()
	if c.active == nil || c.active.seq != seq {
		c.mu.Unlock()
		return
	}
	a := c.active
	req := a.req

	var fire func(Request)
	var outcome Outcome
	var cause error
	done := false

	switch ev.Kind {
	case EventStarted:
		fire = c.cfg.OnStart
	case EventPaused:
		c.paused = true
	case EventResumed:
		c.paused = false
	case EventEnded:
		c.active = nil
		c.speaking = false
		c.paused = false
		done = true
		outcome = OutcomeCompleted
		fire = c.cfg.OnEnd
	case EventFailed:
		c.active = nil
		c.speaking = false
		c.paused = false
		done = true
		outcome = OutcomeFailed
		cause = ev.Err
	}
	c.mu.Unlock()

	if done {
		if outcome == OutcomeFailed {
			var se *SynthesisError
			if cause == nil || !errors.As(cause, &se) {
				cause = &SynthesisError{Cause: cause}
			}
			c.log.Warn("synthesis failed", "request", req.ID, "error", cause)
		}
		a.handle.resolve(outcome, cause)
	}
	if fire != nil {
		fire(req)
	}
}

func (c *Controller) fail(seq uint64, err error) {
	c.mu.Lock()
	if c.active == nil || c.active.seq != seq {
		c.mu.Unlock()
		return
	}
	a := c.active
	c.active = nil
	c.speaking = false
	c.paused = false
	c.mu.Unlock()

	var se *SynthesisError
	if !errors.As(err, &se) {
		err = &SynthesisError{Cause: err}
	}
	c.log.Warn("synthesis dispatch failed", "request", a.req.ID, "error", err)
	a.handle.resolve(OutcomeFailed, err)
}

// Stop cancels the active request, if any. The cancelled request
// resolves interrupted. Safe to call when nothing is playing.
func (c *Controller) Stop() {
	c.mu.Lock()
	a := c.active
	c.active = nil
	c.speaking = false
	c.paused = false
	c.mu.Unlock()

	if a == nil {
		return
	}
	if a.job != nil {
		a.job.Cancel()
	}
	a.handle.resolve(OutcomeInterrupted, nil)
}

// Pause suspends the active request. No-op when nothing is in flight.
func (c *Controller) Pause() {
	c.mu.Lock()
	var job Job
	if c.active != nil {
		job = c.active.job
	}
	c.mu.Unlock()
	if job != nil {
		job.Pause()
	}
}

// Resume continues a paused request. No-op when nothing is in flight.
func (c *Controller) Resume() {
	c.mu.Lock()
	var job Job
	if c.active != nil {
		job = c.active.job
	}
	c.mu.Unlock()
	if job != nil {
		job.Resume()
	}
}

// Speaking reports whether a request is active. It reads true from the
// moment Speak is called, before any audio starts.
func (c *Controller) Speaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speaking
}

// Paused reports whether the backend has confirmed a pause.
func (c *Controller) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Snapshot returns the current playback state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{Speaking: c.speaking, Paused: c.paused}
	if c.active != nil {
		snap.RequestID = c.active.req.ID
		snap.Text = c.active.req.Text
	}
	return snap
}

// Voices returns the catalog, waiting up to the configured bound for it
// to load. Returns ErrVoicesUnavailable when the wait runs out.
func (c *Controller) Voices(ctx context.Context) ([]Voice, error) {
	if c.synth == nil {
		return nil, ErrNoSynthesizer
	}
	if vs, ok := c.synth.Voices(); ok {
		return vs, nil
	}

	ready := make(chan struct{}, 1)
	remove := c.synth.VoicesChanged(func() {
		select {
		case ready <- struct{}{}:
		default:
		}
	})
	if remove != nil {
		defer remove()
	}

	timer := time.NewTimer(c.cfg.VoiceWait)
	defer timer.Stop()
	for {
		// Recheck after registering; the catalog may have landed in
		// between.
		if vs, ok := c.synth.Voices(); ok {
			return vs, nil
		}
		select {
		case <-ready:
		case <-timer.C:
			return nil, ErrVoicesUnavailable
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// DefaultVoice resolves and caches the voice used when a request does
// not pin one. The cache clears whenever the catalog changes.
func (c *Controller) DefaultVoice(ctx context.Context) (Voice, error) {
	c.mu.Lock()
	if c.defVoice != nil {
		v := *c.defVoice
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	vs, err := c.Voices(ctx)
	if err != nil {
		return Voice{}, err
	}
	if len(vs) == 0 {
		return Voice{}, ErrVoicesUnavailable
	}
	v := chooseVoice(vs, c.cfg.Language)

	c.mu.Lock()
	c.defVoice = &v
	c.mu.Unlock()
	return v, nil
}

// Close stops any active request and detaches from the synthesizer.
func (c *Controller) Close() error {
	c.Stop()
	if c.removeVoices != nil {
		c.removeVoices()
	}
	return nil
}

// chooseVoice picks a default voice: the first local voice whose
// language shares the requested prefix, else the first matching voice,
// else whatever the backend lists first.
func chooseVoice(vs []Voice, lang string) Voice {
	prefix := strings.ToLower(lang)
	if i := strings.IndexByte(prefix, '-'); i > 0 {
		prefix = prefix[:i]
	}
	var match *Voice
	for i := range vs {
		if prefix != "" && !strings.HasPrefix(strings.ToLower(vs[i].Language), prefix) {
			continue
		}
		if vs[i].Local {
			return vs[i]
		}
		if match == nil {
			match = &vs[i]
		}
	}
	if match != nil {
		return *match
	}
	return vs[0]
}

package capture

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/iterator"
)

// Controller owns the recognition session lifecycle. It guarantees that at
// most one session is live, accumulates final transcript text, tags every
// end with a reason, and publishes fragments, errors, and session ends on a
// single event channel.
//
// All methods are safe for concurrent use. Events are delivered from the
// controller's read goroutine; consumers should drain Events promptly.
type Controller struct {
	recognizer Recognizer
	cfg        *Config
	log        *slog.Logger

	startMu sync.Mutex // serializes Start calls end to end

	mu        sync.Mutex
	session   Session
	gen       uint64 // bumped on every session change; stale loops drop out
	listening bool
	endReason EndReason
	interim   string
	finals    []string
	confSum   float64
	confN     int
	lastErr   error
	closed    bool

	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup
}

// New creates a Controller over the given recognizer. A nil recognizer is
// allowed; Start then fails with ErrUnsupported, which is how a platform
// without recognition capability presents.
func New(r Recognizer, opts ...Option) (*Controller, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		recognizer: r,
		cfg:        cfg,
		log:        logger.With("component", "capture"),
		events:     make(chan Event, cfg.EventBuffer),
		done:       make(chan struct{}),
	}, nil
}

// Events returns the controller's event stream. The channel is never
// closed; consumers stop on EventEnded or via their own context.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// Start opens a recognition session. It returns once the session is actually
// receiving audio. If a session is already open it is aborted first, so two
// sessions never run concurrently. Fails with ErrUnsupported when no
// recognizer is available, or with a *Error (PermissionDenied, NoMicrophone)
// when the platform refuses the session.
func (c *Controller) Start(ctx context.Context) error {
	if c.recognizer == nil {
		return ErrUnsupported
	}

	c.startMu.Lock()
	defer c.startMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	old := c.session
	if old != nil {
		c.gen++
		c.session = nil
		c.listening = false
	}
	c.mu.Unlock()
	if old != nil {
		old.Abort()
	}

	octx := ctx
	if c.cfg.StartTimeout > 0 {
		var cancel context.CancelFunc
		octx, cancel = context.WithTimeout(ctx, c.cfg.StartTimeout)
		defer cancel()
	}
	s, err := c.recognizer.Open(octx, SessionConfig{
		Language:       c.cfg.Language,
		InterimResults: c.cfg.InterimResults,
		Continuous:     true,
	})
	if err != nil {
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		s.Abort()
		return ErrClosed
	}
	c.gen++
	gen := c.gen
	c.session = s
	c.listening = true
	c.endReason = EndNatural
	c.interim = ""
	c.lastErr = nil
	c.mu.Unlock()

	c.wg.Add(1)
	go c.readLoop(s, gen)
	c.log.Debug("session started", "language", c.cfg.Language)
	return nil
}

// Stop requests a graceful end of the current session. Pending finals are
// still delivered before the ended event fires with EndStopped, so restart
// logic can tell a user stop from a natural end. Idempotent.
func (c *Controller) Stop() {
	c.mu.Lock()
	s := c.session
	if s == nil {
		c.mu.Unlock()
		return
	}
	c.endReason = EndStopped
	c.mu.Unlock()
	if err := s.Stop(); err != nil {
		c.log.Warn("session stop failed", "error", err)
	}
}

// Abort tears down the current session immediately, discarding pending
// results. Idempotent.
func (c *Controller) Abort() {
	c.mu.Lock()
	s := c.session
	if s == nil {
		c.mu.Unlock()
		return
	}
	c.endReason = EndAborted
	c.interim = ""
	c.mu.Unlock()
	if err := s.Abort(); err != nil {
		c.log.Warn("session abort failed", "error", err)
	}
}

// Listening reports whether a session is live and not winding down.
func (c *Controller) Listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listening && c.endReason == EndNatural
}

// Snapshot returns a point-in-time view of the capture state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{
		Listening:        c.listening && c.endReason == EndNatural,
		Language:         c.cfg.Language,
		Interim:          c.interim,
		AccumulatedFinal: strings.Join(c.finals, " "),
	}
	if c.confN > 0 {
		snap.Confidence = c.confSum / float64(c.confN)
	}
	if c.lastErr != nil {
		snap.LastError = c.lastErr.Error()
	}
	return snap
}

// ClearAccumulated drops the running final transcript and its confidence.
// Only the segmentation layer should call this, after an utterance has been
// consumed.
func (c *Controller) ClearAccumulated() {
	c.mu.Lock()
	c.finals = nil
	c.confSum = 0
	c.confN = 0
	c.mu.Unlock()
}

// Close aborts any live session and releases the controller. After Close,
// Start fails with ErrClosed.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	s := c.session
	c.session = nil
	c.listening = false
	c.gen++
	close(c.done)
	c.mu.Unlock()

	if s != nil {
		s.Abort()
	}
	c.wg.Wait()
	return nil
}

// readLoop drains one session's fragments into the event stream. gen pins
// the loop to its session: once the controller moves on, everything here is
// dropped.
func (c *Controller) readLoop(s Session, gen uint64) {
	defer c.wg.Done()
	for {
		frag, err := s.Recv()
		if err == nil {
			c.handleFragment(gen, frag)
			continue
		}
		if errors.Is(err, iterator.Done) {
			c.finish(gen, nil)
			return
		}
		var ce *Error
		if errors.As(err, &ce) {
			if ce.Benign() {
				// no-speech and expected aborts never leave the controller
				c.log.Debug("benign capture condition", "code", string(ce.Code))
				continue
			}
			c.noteError(gen, ce)
			c.emit(gen, Event{Kind: EventError, Err: ce})
			if ce.Fatal() {
				c.finish(gen, ce)
				return
			}
			continue
		}
		// Unclassified errors are assumed to have killed the stream.
		c.noteError(gen, err)
		c.emit(gen, Event{Kind: EventError, Err: err})
		c.finish(gen, err)
		return
	}
}

func (c *Controller) handleFragment(gen uint64, f Fragment) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if f.Final {
		if t := strings.TrimSpace(f.Text); t != "" {
			c.finals = append(c.finals, t)
			c.confSum += f.Confidence
			c.confN++
		}
		c.interim = ""
	} else {
		c.interim = f.Text
	}
	c.mu.Unlock()
	c.emit(gen, Event{Kind: EventFragment, Fragment: f})
}

func (c *Controller) noteError(gen uint64, err error) {
	c.mu.Lock()
	if gen == c.gen {
		c.lastErr = err
	}
	c.mu.Unlock()
}

// finish retires the session and emits the ended event. The reason recorded
// by Stop/Abort wins over anything the stream reports; a fatal cause turns
// a natural end into EndFailed.
func (c *Controller) finish(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	reason := c.endReason
	if reason == EndNatural && cause != nil {
		reason = EndFailed
	}
	c.session = nil
	c.listening = false
	c.interim = ""
	restart := c.cfg.AutoRestart && reason == EndNatural && !c.closed
	c.mu.Unlock()

	c.emit(gen, Event{Kind: EventEnded, Reason: reason, Err: cause})
	c.log.Debug("session ended", "reason", reason.String())

	if restart {
		c.scheduleRestart(gen)
	}
}

// scheduleRestart re-opens the session after the settle delay, unless the
// gate declines, a newer session exists, or the controller closed meanwhile.
func (c *Controller) scheduleRestart(gen uint64) {
	time.AfterFunc(c.cfg.SettleDelay, func() {
		if c.cfg.RestartGate != nil && !c.cfg.RestartGate() {
			c.log.Debug("auto-restart gated off")
			return
		}
		c.mu.Lock()
		stale := c.closed || c.session != nil || gen != c.gen
		c.mu.Unlock()
		if stale {
			return
		}
		if err := c.Start(context.Background()); err != nil {
			c.log.Warn("auto-restart failed", "error", err)
		}
	})
}

// emit publishes an event for the given session generation. Fragments are
// dropped under backpressure; error and ended events block until delivered
// or the controller closes.
func (c *Controller) emit(gen uint64, ev Event) {
	c.mu.Lock()
	ok := gen == c.gen && !c.closed
	c.mu.Unlock()
	if !ok {
		return
	}
	if ev.Kind == EventFragment {
		select {
		case c.events <- ev:
		default:
			c.log.Warn("event buffer full, dropping fragment")
		}
		return
	}
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

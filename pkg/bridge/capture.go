package bridge

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"github.com/teslashibe/go-talkmode/pkg/capture"
	"github.com/teslashibe/go-talkmode/pkg/protocol"
)

// Open asks the browser to start recognition and waits for capture.began,
// so a nil error means the page is actually receiving audio. The wait is
// bounded by ctx; the capture controller passes its start timeout down
// through it.
func (e *Endpoint) Open(ctx context.Context, cfg capture.SessionConfig) (capture.Session, error) {
	sid := uuid.NewString()
	s := newSession(sid, e)
	began := make(chan error, 1)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	if e.conn == nil {
		e.mu.Unlock()
		return nil, ErrNotAttached
	}
	// The controller aborts its old session before reopening; one still
	// here lost its browser half, so retire it.
	old := e.sess
	e.sess = s
	e.pending = began
	e.pendingSID = sid
	e.mu.Unlock()
	if old != nil {
		old.end(ErrConnLost)
	}

	msg, err := protocol.NewCaptureStartMessage(sid, cfg.Language, cfg.InterimResults, cfg.Continuous)
	if err == nil {
		err = e.send(msg)
	}
	if err != nil {
		e.clearSession(sid)
		s.end(iterator.Done)
		return nil, err
	}

	select {
	case err := <-began:
		if err != nil {
			e.clearSession(sid)
			s.end(iterator.Done)
			return nil, err
		}
		return s, nil
	case <-ctx.Done():
		e.clearSession(sid)
		s.end(iterator.Done)
		if abort, aerr := protocol.NewCaptureAbortMessage(sid); aerr == nil {
			if serr := e.send(abort); serr != nil {
				e.log.Debug("abort send failed for timed-out open", "error", serr)
			}
		}
		return nil, ctx.Err()
	}
}

// clearSession detaches the session and any pending open matching sid from
// the endpoint's routing state.
func (e *Endpoint) clearSession(sid string) {
	e.mu.Lock()
	if e.pendingSID == sid {
		e.pending = nil
		e.pendingSID = ""
	}
	if e.sess != nil && e.sess.id == sid {
		e.sess = nil
	}
	e.mu.Unlock()
}

func (e *Endpoint) handleCaptureBegan(gen uint64, msg *protocol.Message) {
	var d protocol.CaptureBeganData
	if err := msg.ParseData(&d); err != nil {
		e.log.Warn("bad capture.began payload", "error", err)
		return
	}
	e.mu.Lock()
	if gen != e.gen || e.pending == nil || e.pendingSID != d.SessionID {
		e.mu.Unlock()
		e.log.Debug("stray capture.began", "session", d.SessionID)
		return
	}
	pend := e.pending
	e.pending = nil
	e.pendingSID = ""
	e.mu.Unlock()
	pend <- nil
}

func (e *Endpoint) handleCaptureResult(gen uint64, msg *protocol.Message) {
	d, err := msg.GetCaptureResultData()
	if err != nil {
		e.log.Warn("bad capture.result payload", "error", err)
		return
	}
	e.mu.Lock()
	s := e.sess
	ok := gen == e.gen && s != nil && s.id == d.SessionID
	e.mu.Unlock()
	if !ok {
		e.log.Debug("stray capture.result", "session", d.SessionID)
		return
	}
	s.push(recvItem{frag: capture.Fragment{
		Text:       d.Text,
		Final:      d.Final,
		Confidence: d.Confidence,
	}})
}

func (e *Endpoint) handleCaptureError(gen uint64, msg *protocol.Message) {
	d, err := msg.GetCaptureErrorData()
	if err != nil {
		e.log.Warn("bad capture.error payload", "error", err)
		return
	}
	cerr := capture.NewError(capture.ParseCode(d.Code), d.Message)

	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		return
	}
	// An error before capture.began fails the open itself.
	if e.pending != nil && e.pendingSID == d.SessionID {
		pend := e.pending
		e.pending = nil
		e.pendingSID = ""
		if e.sess != nil && e.sess.id == d.SessionID {
			e.sess = nil
		}
		e.mu.Unlock()
		pend <- cerr
		return
	}
	s := e.sess
	ok := s != nil && s.id == d.SessionID
	e.mu.Unlock()
	if !ok {
		e.log.Debug("stray capture.error", "session", d.SessionID, "code", d.Code)
		return
	}
	s.push(recvItem{err: cerr})
}

func (e *Endpoint) handleCaptureEnded(gen uint64, msg *protocol.Message) {
	var d protocol.CaptureEndedData
	if err := msg.ParseData(&d); err != nil {
		e.log.Warn("bad capture.ended payload", "error", err)
		return
	}
	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		return
	}
	if e.pending != nil && e.pendingSID == d.SessionID {
		pend := e.pending
		e.pending = nil
		e.pendingSID = ""
		if e.sess != nil && e.sess.id == d.SessionID {
			e.sess = nil
		}
		e.mu.Unlock()
		pend <- capture.NewError(capture.CodeUnknown, "session ended before it began")
		return
	}
	s := e.sess
	if s != nil && s.id == d.SessionID {
		e.sess = nil
	} else {
		s = nil
	}
	e.mu.Unlock()
	if s == nil {
		e.log.Debug("stray capture.ended", "session", d.SessionID)
		return
	}
	s.end(iterator.Done)
}

// recvItem is one queued delivery for a session.
type recvItem struct {
	frag capture.Fragment
	err  error
}

// session is the engine-side half of one browser recognition run.
type session struct {
	id string
	ep *Endpoint

	queue  chan recvItem
	done   chan struct{}
	once   sync.Once
	endErr error
}

func newSession(id string, ep *Endpoint) *session {
	return &session{
		id:    id,
		ep:    ep,
		queue: make(chan recvItem, 64),
		done:  make(chan struct{}),
	}
}

// push queues one delivery. Full queues drop the item rather than stall
// the read pump.
func (s *session) push(it recvItem) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.queue <- it:
	default:
		s.ep.log.Warn("session queue full, dropping item", "session", s.id)
	}
}

// end terminates the stream. Items already queued still deliver; after
// that, Recv returns err forever.
func (s *session) end(err error) {
	s.once.Do(func() {
		s.endErr = err
		close(s.done)
	})
}

// Recv implements capture.Session.
func (s *session) Recv() (capture.Fragment, error) {
	select {
	case it := <-s.queue:
		return it.frag, it.err
	case <-s.done:
		// Drain what arrived before the end.
		select {
		case it := <-s.queue:
			return it.frag, it.err
		default:
		}
		return capture.Fragment{}, s.endErr
	}
}

// Stop implements capture.Session. The browser flushes pending finals and
// then reports capture.ended, which closes the stream.
func (s *session) Stop() error {
	msg, err := protocol.NewCaptureStopMessage(s.id)
	if err == nil {
		err = s.ep.send(msg)
	}
	return err
}

// Abort implements capture.Session. Local teardown is immediate; the
// browser's own ended report for this session arrives later and is
// dropped as stray.
func (s *session) Abort() error {
	s.ep.clearSession(s.id)
	s.end(iterator.Done)
	msg, err := protocol.NewCaptureAbortMessage(s.id)
	if err == nil {
		err = s.ep.send(msg)
	}
	return err
}

var _ capture.Recognizer = (*Endpoint)(nil)
var _ capture.Session = (*session)(nil)

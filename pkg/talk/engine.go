package talk

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-talkmode/internal/log"
	"github.com/teslashibe/go-talkmode/pkg/answer"
	"github.com/teslashibe/go-talkmode/pkg/capture"
	"github.com/teslashibe/go-talkmode/pkg/playback"
	"github.com/teslashibe/go-talkmode/pkg/segment"
	"github.com/teslashibe/go-talkmode/pkg/speakable"
	"github.com/teslashibe/go-talkmode/pkg/transcript"
)

// Engine is the conversation orchestrator. It is the sole authority
// over the capture session and active playback: no other component
// starts or stops them while the engine owns the loop.
//
// All public methods are safe for concurrent use; they post events to
// the loop started by Run.
type Engine struct {
	cfg Config
	log *slog.Logger

	capture  *capture.Controller
	playback *playback.Controller
	provider answer.Provider
	seg      *segment.Segmenter
	journal  *transcript.Log

	events chan event
	done   chan struct{}
	once   sync.Once

	// Loop-owned state. Only the Run goroutine touches these.
	mode     Mode
	talkMode bool
	epoch    uint64
	interim  string
	lastErr  string
	watchdog *time.Timer
	rearm    *time.Timer

	// Shared snapshot for Status readers.
	mu   sync.Mutex
	stat Status
}

// New creates an engine over its collaborators. The capture and
// playback controllers and the answer provider are required; loop
// tuning, the journal and callbacks come in as options.
func New(capt *capture.Controller, play *playback.Controller, provider answer.Provider, opts ...Option) (*Engine, error) {
	if capt == nil {
		return nil, ErrNoCapture
	}
	if play == nil {
		return nil, ErrNoPlayback
	}
	if provider == nil {
		return nil, ErrNoProvider
	}

	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.L()
	}

	e := &Engine{
		cfg:      cfg,
		log:      logger.With("component", "talk"),
		capture:  capt,
		playback: play,
		provider: provider,
		journal:  cfg.Journal,
		events:   make(chan event, cfg.EventBuffer),
		done:     make(chan struct{}),
		stat:     Status{Mode: ModeIdle},
	}
	if e.journal == nil {
		e.journal = transcript.New()
	}

	seg, err := segment.New(
		func(u segment.Utterance) { e.post(event{kind: evUtterance, utt: u}) },
		segment.WithSilenceTimeout(cfg.SilenceTimeout),
		segment.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	e.seg = seg
	return e, nil
}

// Run executes the engine loop until ctx is cancelled. Call it exactly
// once, usually on its own goroutine. On exit the engine stops talk
// mode and refuses further requests with ErrClosed.
func (e *Engine) Run(ctx context.Context) error {
	go e.pumpCapture()
	for {
		select {
		case ev := <-e.events:
			e.reduce(ev)
		case <-ctx.Done():
			e.shutdown()
			return nil
		}
	}
}

// StartTalk turns talk mode on and arms the capture session. It
// returns once the session is live, or with the platform's refusal
// (permission denied, no microphone). Starting while already on is a
// no-op.
func (e *Engine) StartTalk(ctx context.Context) error {
	return e.request(ctx, event{kind: evStart})
}

// StopTalk turns talk mode off: pending timers die, the capture
// session is aborted, any in-flight answer is discarded, and active
// speech is cancelled. Always available, idempotent.
func (e *Engine) StopTalk() {
	_ = e.request(context.Background(), event{kind: evStop, reason: StopUser})
}

// Submit feeds typed text through the same utterance path as voice,
// with full confidence. "start" and "stop" are intercepted exactly as
// when spoken. With talk mode off the question still runs, as a
// one-shot: answered, spoken, then back to idle without listening.
func (e *Engine) Submit(ctx context.Context, text string) error {
	u, ok := segment.Manual(text)
	if !ok {
		return ErrEmptySubmit
	}
	return e.request(ctx, event{kind: evSubmit, utt: u})
}

// Status returns a point-in-time view of the engine.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stat
}

// Transcript returns the conversation record.
func (e *Engine) Transcript() *transcript.Log {
	return e.journal
}

// post delivers a fire-and-forget event. Only goroutines outside the
// loop may call it; the loop itself always applies effects directly.
func (e *Engine) post(ev event) {
	select {
	case e.events <- ev:
	case <-e.done:
	}
}

// request delivers an event and waits for its result.
func (e *Engine) request(ctx context.Context, ev event) error {
	ev.reply = make(chan error, 1)
	select {
	case e.events <- ev:
	case <-e.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-ev.reply:
		return err
	case <-e.done:
		// The loop may have replied just before exiting.
		select {
		case err := <-ev.reply:
			return err
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pumpCapture forwards capture controller events into the loop.
func (e *Engine) pumpCapture() {
	for {
		select {
		case ev := <-e.capture.Events():
			e.post(event{kind: evCapture, cap: ev})
		case <-e.done:
			return
		}
	}
}

func (e *Engine) shutdown() {
	e.stop(StopShutdown)
	e.once.Do(func() { close(e.done) })
	// Unblock anyone whose request was still queued.
	for {
		select {
		case ev := <-e.events:
			e.replyTo(ev, ErrClosed)
		default:
			return
		}
	}
}

// reduce applies one event to the loop state.
func (e *Engine) reduce(ev event) {
	switch ev.kind {
	case evStart:
		e.handleStart(ev)
	case evStop:
		e.stop(ev.reason)
		e.replyTo(ev, nil)
	case evSubmit:
		e.handleSubmit(ev)
	case evUtterance:
		e.handleUtterance(ev)
	case evCapture:
		e.handleCapture(ev)
	case evArmed:
		e.handleArmed(ev)
	case evArmFailed:
		e.handleArmFailed(ev)
	case evAnswer:
		e.handleAnswer(ev)
	case evSpoken:
		e.handleSpoken(ev)
	case evRearm:
		e.handleRearm(ev)
	case evWatchdog:
		e.handleWatchdog(ev)
	}
}

// stale reports whether an async completion belongs to a state the
// loop has already left.
func (e *Engine) stale(ev event) bool {
	return ev.epoch != e.epoch
}

func (e *Engine) handleStart(ev event) {
	if e.talkMode {
		e.replyTo(ev, nil)
		return
	}
	// A one-shot answer in flight yields to talk mode.
	if e.mode != ModeIdle {
		e.cancelWork()
	}
	e.talkMode = true
	e.lastErr = ""
	e.transition(ModeListening)
	e.arm(ev.reply)
	e.publish()
	e.log.Info("talk mode started")
}

// stop is the universal escape hatch: every pending timer dies, the
// capture session is aborted, playback is cancelled, and the mode is
// idle. Bumping the epoch in the transition is what makes stop win
// every race with in-flight work.
func (e *Engine) stop(reason StopReason) {
	if !e.talkMode && e.mode == ModeIdle {
		return
	}
	e.log.Info("stopping", "reason", string(reason))
	e.talkMode = false
	e.cancelWork()
	e.transition(ModeIdle)
	e.publish()
}

// cancelWork tears down everything in flight: the capture session, the
// pending utterance, active playback.
func (e *Engine) cancelWork() {
	e.capture.Abort()
	e.capture.ClearAccumulated()
	e.seg.Clear()
	e.playback.Stop()
	e.interim = ""
}

func (e *Engine) handleSubmit(ev event) {
	u := ev.utt
	switch ParseCommand(u.Text) {
	case CommandStart:
		e.handleStart(event{reply: ev.reply})
		e.command(CommandStart, u.Text)
	case CommandStop:
		e.stop(StopVoiceCommand)
		e.command(CommandStop, u.Text)
		e.replyTo(ev, nil)
	default:
		e.consume(u)
		e.replyTo(ev, nil)
	}
}

func (e *Engine) handleUtterance(ev event) {
	u := ev.utt
	if !e.talkMode || e.mode != ModeListening {
		// A countdown that survived a transition; spec for stop says
		// late utterances lose.
		e.log.Debug("utterance discarded", "mode", e.mode.String())
		return
	}
	switch ParseCommand(u.Text) {
	case CommandStart:
		// Already listening; acknowledge and carry on.
		e.capture.ClearAccumulated()
		e.interim = ""
		e.command(CommandStart, u.Text)
		e.publish()
	case CommandStop:
		e.stop(StopVoiceCommand)
		e.command(CommandStop, u.Text)
	default:
		e.consume(u)
	}
}

// command reports an intercepted control phrase. TalkMode reflects the
// state after handling.
func (e *Engine) command(cmd Command, text string) {
	e.log.Info("command intercepted", "command", string(cmd))
	if cb := e.cfg.Callbacks.OnCommandHandled; cb != nil {
		cb(CommandResult{Command: cmd, Text: text, TalkMode: e.talkMode})
	}
}

// consume takes one utterance into processing: anything in flight is
// pre-empted, capture goes quiet so the engine cannot hear itself, the
// user turn is recorded, and the provider is asked.
func (e *Engine) consume(u segment.Utterance) {
	e.playback.Stop()
	e.capture.Abort()
	e.capture.ClearAccumulated()
	e.seg.Clear()
	e.interim = ""

	e.append(transcript.UserTurn(u.Text, u.Confidence))
	if cb := e.cfg.Callbacks.OnTranscriptUpdate; cb != nil {
		cb("", u.Text)
	}

	e.transition(ModeProcessing)
	e.ask(u.Text)
	e.publish()
	e.log.Info("utterance consumed", "source", string(u.Source), "confidence", u.Confidence)
}

// ask queries the answer provider off-loop.
func (e *Engine) ask(question string) {
	ep := e.epoch
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.AnswerTimeout)
		defer cancel()
		ans, err := e.provider.AnswerQuestion(ctx, question)
		e.post(event{kind: evAnswer, epoch: ep, ans: ans, err: err})
	}()
}

// arm opens the capture session off-loop and reports back as events.
// reply, when set, additionally receives Start's own result.
func (e *Engine) arm(reply chan error) {
	ep := e.epoch
	go func() {
		err := e.capture.Start(context.Background())
		if err != nil {
			e.post(event{kind: evArmFailed, epoch: ep, err: err})
		} else {
			e.post(event{kind: evArmed, epoch: ep})
		}
		if reply != nil {
			reply <- err
		}
	}()
}

func (e *Engine) handleArmed(ev event) {
	if e.stale(ev) {
		// The state moved on while the session was opening. If
		// listening was re-entered meanwhile the controller already
		// swapped sessions; otherwise capture must not be live at all.
		if !e.talkMode || e.mode != ModeListening {
			e.capture.Abort()
		}
		return
	}
	e.publish()
}

func (e *Engine) handleArmFailed(ev event) {
	if e.stale(ev) {
		return
	}
	if errors.Is(ev.err, capture.ErrClosed) {
		e.stop(StopShutdown)
		return
	}
	if capture.IsFatal(ev.err) || errors.Is(ev.err, capture.ErrUnsupported) {
		e.notice(noticeForCapture(ev.err))
		e.stop(StopCaptureFatal)
		return
	}
	e.log.Warn("capture start failed, retrying", "error", ev.err)
	e.notice(Notice{Severity: SeverityWarn, Code: "capture_error", Message: "Listening could not start. Retrying."})
	e.scheduleRearm(e.cfg.Backoff)
}

func (e *Engine) handleCapture(ev event) {
	c := ev.cap
	switch c.Kind {
	case capture.EventFragment:
		e.fragment(c.Fragment)
	case capture.EventError:
		e.captureErr(c.Err)
	case capture.EventEnded:
		e.captureEnded(c)
	}
}

func (e *Engine) fragment(f capture.Fragment) {
	if !e.talkMode || e.mode != ModeListening {
		return
	}
	e.seg.Feed(f)
	if f.Final {
		e.interim = ""
	} else {
		e.interim = f.Text
	}
	e.syncStatus()
	if cb := e.cfg.Callbacks.OnTranscriptUpdate; cb != nil {
		cb(e.interim, e.capture.Snapshot().AccumulatedFinal)
	}
}

func (e *Engine) captureErr(err error) {
	if capture.IsFatal(err) {
		if !e.talkMode {
			return
		}
		e.notice(noticeForCapture(err))
		e.stop(StopCaptureFatal)
		return
	}
	if !e.talkMode || e.mode != ModeListening {
		return
	}
	e.log.Warn("capture error", "error", err)
	e.notice(Notice{Severity: SeverityWarn, Code: "capture_error", Message: "Speech recognition hiccupped. Still listening."})
}

func (e *Engine) captureEnded(c capture.Event) {
	if !e.talkMode || e.mode != ModeListening {
		// Engine-initiated stops on the way into processing/speaking.
		return
	}
	switch c.Reason {
	case capture.EndNatural:
		// The platform closed the stream on its own (long silence,
		// service idle limit). Re-arm after a settle pause; a pending
		// silence countdown keeps running and may still fire.
		e.log.Debug("capture ended naturally, re-arming")
		e.publish()
		e.scheduleRearm(e.cfg.RearmDelay)
	case capture.EndFailed:
		if capture.IsFatal(c.Err) {
			e.notice(noticeForCapture(c.Err))
			e.stop(StopCaptureFatal)
			return
		}
		e.log.Warn("capture session failed, re-arming", "error", c.Err)
		e.publish()
		e.scheduleRearm(e.cfg.Backoff)
	default:
		// EndStopped and EndAborted are engine-initiated.
	}
}

func (e *Engine) handleAnswer(ev event) {
	if e.stale(ev) {
		e.log.Debug("late answer discarded")
		return
	}
	if ev.err != nil {
		e.log.Warn("answer failed", "error", ev.err)
		e.notice(Notice{Severity: SeverityWarn, Code: "answer_failed", Message: "I couldn't get an answer to that."})
		e.resume(e.cfg.Backoff)
		return
	}

	ans := ev.ans
	turn := transcript.AssistantTurn(ans.Text, ans.Sources)
	turn.Steps = ans.ActionableSteps
	turn.FollowUps = ans.FollowUpQuestions
	e.append(turn)

	text := speakable.Clean(ans.Text)
	if text == "" {
		// Nothing speakable; the answer was all code or markup. Show it
		// in the transcript and move straight on.
		e.resume(e.cfg.RearmDelay)
		return
	}
	if cb := e.cfg.Callbacks.OnSpeakRequested; cb != nil {
		cb(text)
	}
	e.transition(ModeSpeaking)
	h := e.playback.Speak(context.Background(), text)
	e.await(h)
	e.publish()
}

// await watches one speak request off-loop.
func (e *Engine) await(h *playback.Handle) {
	ep := e.epoch
	go func() {
		outcome, err := h.Wait(context.Background())
		e.post(event{kind: evSpoken, epoch: ep, outcome: outcome, err: err})
	}()
}

func (e *Engine) handleSpoken(ev event) {
	if e.stale(ev) {
		return
	}
	switch ev.outcome {
	case playback.OutcomeFailed:
		e.log.Warn("speech failed", "error", ev.err)
		e.notice(Notice{Severity: SeverityWarn, Code: "speech_failed", Message: "I couldn't speak that answer."})
	case playback.OutcomeInterrupted:
		// An outside cancel at the same epoch; treat as completion.
	}
	e.resume(e.cfg.RearmDelay)
}

// resume is the tail of one conversation cycle: back to listening when
// talk mode is on, idle otherwise. Capture re-arms after the delay so
// stop keeps its window to win.
func (e *Engine) resume(delay time.Duration) {
	if e.talkMode {
		e.transition(ModeListening)
		e.scheduleRearm(delay)
	} else {
		e.transition(ModeIdle)
	}
	e.publish()
}

func (e *Engine) handleRearm(ev event) {
	if e.stale(ev) {
		return
	}
	if e.capture.Listening() {
		return
	}
	e.arm(nil)
}

func (e *Engine) handleWatchdog(ev event) {
	if e.stale(ev) {
		return
	}
	e.log.Warn("watchdog fired", "mode", e.mode.String())
	e.notice(Notice{Severity: SeverityWarn, Code: "watchdog_reset", Message: "The conversation stalled and was reset."})
	e.stop(StopWatchdog)
}

// transition moves the loop to a new mode. The epoch bump is what
// discards every in-flight async tied to the old state. Callers
// publish once their effects are in place.
func (e *Engine) transition(to Mode) {
	e.epoch++
	e.mode = to
	e.stopTimers()
	switch to {
	case ModeListening:
		e.armWatchdog(e.cfg.WatchdogListening)
	case ModeProcessing:
		e.armWatchdog(e.cfg.WatchdogProcessing)
	case ModeSpeaking:
		e.armWatchdog(e.cfg.WatchdogSpeaking)
	}
}

func (e *Engine) armWatchdog(d time.Duration) {
	if d <= 0 {
		return
	}
	ep := e.epoch
	e.watchdog = time.AfterFunc(d, func() {
		e.post(event{kind: evWatchdog, epoch: ep})
	})
}

// scheduleRearm restarts capture after d. The epoch guard keeps a
// stale timer harmless even when Stop loses the race with its firing.
func (e *Engine) scheduleRearm(d time.Duration) {
	ep := e.epoch
	e.rearm = time.AfterFunc(d, func() {
		e.post(event{kind: evRearm, epoch: ep})
	})
}

func (e *Engine) stopTimers() {
	if e.watchdog != nil {
		e.watchdog.Stop()
		e.watchdog = nil
	}
	if e.rearm != nil {
		e.rearm.Stop()
		e.rearm = nil
	}
}

// append records a turn and notifies. Journal failures are logged, not
// fatal; the in-memory record still advanced.
func (e *Engine) append(t transcript.Turn) {
	if err := e.journal.Append(context.Background(), t); err != nil {
		e.log.Warn("transcript append failed", "error", err)
	}
	if cb := e.cfg.Callbacks.OnTurn; cb != nil {
		cb(t)
	}
}

// notice surfaces one user-facing condition.
func (e *Engine) notice(n Notice) {
	if n.Severity != SeverityInfo {
		e.lastErr = n.Message
	}
	e.syncStatus()
	if cb := e.cfg.Callbacks.OnNotice; cb != nil {
		cb(n)
	}
}

// syncStatus refreshes the shared snapshot without notifying.
func (e *Engine) syncStatus() Status {
	st := Status{
		Mode:      e.mode,
		TalkMode:  e.talkMode,
		Listening: e.capture.Listening(),
		Speaking:  e.playback.Speaking(),
		Interim:   e.interim,
		Error:     e.lastErr,
	}
	e.mu.Lock()
	e.stat = st
	e.mu.Unlock()
	return st
}

// publish refreshes the snapshot and tells the UI.
func (e *Engine) publish() {
	st := e.syncStatus()
	if cb := e.cfg.Callbacks.OnStateChange; cb != nil {
		cb(st)
	}
}

func (e *Engine) replyTo(ev event, err error) {
	if ev.reply != nil {
		ev.reply <- err
	}
}

// noticeForCapture maps a capture failure to its user-facing message.
func noticeForCapture(err error) Notice {
	var ce *capture.Error
	if errors.As(err, &ce) {
		switch ce.Code {
		case capture.CodePermissionDenied:
			return Notice{
				Severity: SeverityError,
				Code:     "permission_denied",
				Message:  "Microphone access was denied. Grant permission and try again.",
			}
		case capture.CodeNoMicrophone:
			return Notice{
				Severity: SeverityError,
				Code:     "no_microphone",
				Message:  "No microphone was found.",
			}
		}
	}
	if errors.Is(err, capture.ErrUnsupported) {
		return Notice{
			Severity: SeverityError,
			Code:     "not_supported",
			Message:  "Speech recognition is not available here.",
		}
	}
	return Notice{
		Severity: SeverityError,
		Code:     "capture_failed",
		Message:  "Listening failed.",
	}
}

package talk

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/teslashibe/go-talkmode/pkg/answer"
	"github.com/teslashibe/go-talkmode/pkg/capture"
	"github.com/teslashibe/go-talkmode/pkg/playback"
	"github.com/teslashibe/go-talkmode/pkg/transcript"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// harness wires an engine to scriptable doubles with fast timings.
type harness struct {
	rec    *capture.MockRecognizer
	synth  *playback.MockSynthesizer
	prov   *answer.MockProvider
	engine *Engine

	states   chan Status
	updates  chan [2]string
	turns    chan transcript.Turn
	notices  chan Notice
	commands chan CommandResult
	spoken   chan string
}

func newHarness(t *testing.T, recOpts []capture.MockOption, synthOpts []playback.MockOption, provOpts []answer.MockOption, engOpts ...Option) *harness {
	t.Helper()

	h := &harness{
		rec:      capture.NewMockRecognizer(recOpts...),
		states:   make(chan Status, 128),
		updates:  make(chan [2]string, 128),
		turns:    make(chan transcript.Turn, 16),
		notices:  make(chan Notice, 16),
		commands: make(chan CommandResult, 16),
		spoken:   make(chan string, 16),
	}
	if synthOpts == nil {
		synthOpts = []playback.MockOption{playback.WithAutoComplete(5 * time.Millisecond)}
	}
	h.synth = playback.NewMockSynthesizer(synthOpts...)
	h.prov = answer.NewMockProvider(provOpts...)

	capt, err := capture.New(h.rec, capture.WithLogger(quiet()))
	if err != nil {
		t.Fatalf("capture.New() error = %v", err)
	}
	play, err := playback.New(h.synth, playback.WithLogger(quiet()))
	if err != nil {
		t.Fatalf("playback.New() error = %v", err)
	}

	opts := []Option{
		WithSilenceTimeout(40 * time.Millisecond),
		WithBackoff(25 * time.Millisecond),
		WithRearmDelay(5 * time.Millisecond),
		WithLogger(quiet()),
		WithCallbacks(Callbacks{
			OnStateChange:      func(st Status) { h.states <- st },
			OnTranscriptUpdate: func(i, f string) { h.updates <- [2]string{i, f} },
			OnTurn:             func(tr transcript.Turn) { h.turns <- tr },
			OnNotice:           func(n Notice) { h.notices <- n },
			OnCommandHandled:   func(r CommandResult) { h.commands <- r },
			OnSpeakRequested:   func(text string) { h.spoken <- text },
		}),
	}
	opts = append(opts, engOpts...)

	engine, err := New(capt, play, h.prov, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.engine = engine

	ctx, cancel := context.WithCancel(context.Background())
	go engine.Run(ctx)
	t.Cleanup(func() {
		cancel()
		capt.Close()
		play.Close()
	})
	return h
}

// waitMode consumes state notifications until one reports the wanted
// mode.
func (h *harness) waitMode(t *testing.T, want Mode) Status {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case st := <-h.states:
			if st.Mode == want {
				return st
			}
		case <-deadline:
			t.Fatalf("timed out waiting for mode %v, engine reports %v", want, h.engine.Status().Mode)
		}
	}
}

func (h *harness) nextTurn(t *testing.T) transcript.Turn {
	t.Helper()
	select {
	case tr := <-h.turns:
		return tr
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a turn")
		return transcript.Turn{}
	}
}

func (h *harness) nextNotice(t *testing.T) Notice {
	t.Helper()
	select {
	case n := <-h.notices:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a notice")
		return Notice{}
	}
}

func (h *harness) nextCommand(t *testing.T) CommandResult {
	t.Helper()
	select {
	case r := <-h.commands:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a command result")
		return CommandResult{}
	}
}

func (h *harness) nextSpoken(t *testing.T) string {
	t.Helper()
	select {
	case s := <-h.spoken:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a speak request")
		return ""
	}
}

func eventually(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition never held: %s", desc)
}

func TestConversationLoop(t *testing.T) {
	h := newHarness(t, nil, nil, []answer.MockOption{
		answer.WithAnswer(&answer.Answer{
			Text:    "Use the **search bar** at the top of the page.",
			Sources: []answer.Source{{Title: "Searching", URL: "https://docs.example.com/search"}},
		}),
	})

	if err := h.engine.StartTalk(context.Background()); err != nil {
		t.Fatalf("StartTalk() error = %v", err)
	}
	st := h.engine.Status()
	if st.Mode != ModeListening || !st.TalkMode {
		t.Fatalf("after start: mode %v talkMode %v, want listening/true", st.Mode, st.TalkMode)
	}

	s := h.rec.LastSession()
	s.SendInterim("how do")
	s.SendFinal("how do I search the docs", 0.9)

	// Silence elapses, the utterance fires, and processing begins with
	// capture shut off.
	h.waitMode(t, ModeProcessing)

	user := h.nextTurn(t)
	if user.Role != transcript.RoleUser {
		t.Errorf("first turn role = %v, want user", user.Role)
	}
	if user.Content != "how do I search the docs" {
		t.Errorf("user turn content = %q", user.Content)
	}
	if user.Confidence != 0.9 {
		t.Errorf("user turn confidence = %v, want 0.9", user.Confidence)
	}

	h.waitMode(t, ModeSpeaking)
	if got := h.nextSpoken(t); got != "Use the search bar at the top of the page." {
		t.Errorf("spoken text = %q, want markdown stripped", got)
	}

	assistant := h.nextTurn(t)
	if assistant.Role != transcript.RoleAssistant {
		t.Errorf("second turn role = %v, want assistant", assistant.Role)
	}
	if assistant.Content != "Use the **search bar** at the top of the page." {
		t.Errorf("assistant turn keeps the original text, got %q", assistant.Content)
	}
	if len(assistant.Links) != 1 || assistant.Links[0].URL != "https://docs.example.com/search" {
		t.Errorf("assistant turn links = %+v", assistant.Links)
	}

	// Speech completes and listening re-arms with a fresh session.
	h.waitMode(t, ModeListening)
	eventually(t, "capture re-armed", func() bool {
		return h.rec.CallCount("Open") >= 2
	})

	if h.prov.CallCount() != 1 {
		t.Errorf("provider calls = %d, want 1", h.prov.CallCount())
	}
}

func TestInterimUpdatesFlow(t *testing.T) {
	h := newHarness(t, nil, nil, nil)

	if err := h.engine.StartTalk(context.Background()); err != nil {
		t.Fatalf("StartTalk() error = %v", err)
	}
	h.rec.LastSession().SendInterim("how do")

	select {
	case up := <-h.updates:
		if up[0] != "how do" {
			t.Errorf("interim = %q, want %q", up[0], "how do")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a transcript update")
	}
}

func TestVoiceStopCommandIntercepted(t *testing.T) {
	h := newHarness(t, nil, nil, nil)

	if err := h.engine.StartTalk(context.Background()); err != nil {
		t.Fatalf("StartTalk() error = %v", err)
	}
	s := h.rec.LastSession()
	s.SendFinal("Stop.", 0.9)

	cmd := h.nextCommand(t)
	if cmd.Command != CommandStop {
		t.Errorf("command = %q, want stop", cmd.Command)
	}
	if cmd.TalkMode {
		t.Error("talk mode should be off after a stop command")
	}

	h.waitMode(t, ModeIdle)
	if h.prov.CallCount() != 0 {
		t.Errorf("provider called %d times for a control phrase", h.prov.CallCount())
	}
	eventually(t, "session aborted", s.Aborted)
}

func TestVoiceStartWhileListeningAcknowledged(t *testing.T) {
	h := newHarness(t, nil, nil, nil)

	if err := h.engine.StartTalk(context.Background()); err != nil {
		t.Fatalf("StartTalk() error = %v", err)
	}
	h.rec.LastSession().SendFinal("start listening", 0.9)

	cmd := h.nextCommand(t)
	if cmd.Command != CommandStart || !cmd.TalkMode {
		t.Errorf("command = %+v, want acknowledged start with talk mode on", cmd)
	}
	if st := h.engine.Status(); st.Mode != ModeListening {
		t.Errorf("mode = %v, want listening", st.Mode)
	}
	if h.prov.CallCount() != 0 {
		t.Error("provider called for a control phrase")
	}
}

func TestStopTalkWhileListening(t *testing.T) {
	h := newHarness(t, nil, nil, nil)

	if err := h.engine.StartTalk(context.Background()); err != nil {
		t.Fatalf("StartTalk() error = %v", err)
	}
	s := h.rec.LastSession()

	h.engine.StopTalk()
	h.waitMode(t, ModeIdle)

	eventually(t, "session aborted", s.Aborted)
	st := h.engine.Status()
	if st.TalkMode || st.Listening {
		t.Errorf("status after stop = %+v", st)
	}
	if h.prov.CallCount() != 0 {
		t.Errorf("provider calls = %d, want 0", h.prov.CallCount())
	}

	// Idempotent.
	h.engine.StopTalk()
}

func TestAnswerFailureBacksOffAndResumes(t *testing.T) {
	h := newHarness(t, nil, nil, []answer.MockOption{
		answer.WithError(errors.New("service down")),
	})

	if err := h.engine.StartTalk(context.Background()); err != nil {
		t.Fatalf("StartTalk() error = %v", err)
	}
	h.rec.LastSession().SendFinal("how do I deploy", 0.8)

	h.waitMode(t, ModeProcessing)

	n := h.nextNotice(t)
	if n.Code != "answer_failed" || n.Severity != SeverityWarn {
		t.Errorf("notice = %+v, want recoverable answer_failed", n)
	}

	// Listening resumes after the backoff with a fresh session.
	h.waitMode(t, ModeListening)
	eventually(t, "capture re-armed after backoff", func() bool {
		return h.rec.CallCount("Open") >= 2
	})

	if h.synth.CallCount() != 0 {
		t.Errorf("synthesizer called %d times after a failed answer", h.synth.CallCount())
	}
	turns := h.engine.Transcript().Turns()
	if len(turns) != 1 || turns[0].Role != transcript.RoleUser {
		t.Errorf("turns = %+v, want just the user question", turns)
	}
}

func TestStopDuringProcessingDiscardsLateAnswer(t *testing.T) {
	h := newHarness(t, nil, nil, []answer.MockOption{
		answer.WithLatency(80 * time.Millisecond),
	})

	if err := h.engine.StartTalk(context.Background()); err != nil {
		t.Fatalf("StartTalk() error = %v", err)
	}
	h.rec.LastSession().SendFinal("what is a webhook", 0.8)
	h.waitMode(t, ModeProcessing)

	h.engine.StopTalk()
	h.waitMode(t, ModeIdle)
	opens := h.rec.CallCount("Open")

	// Let the provider resolve well after the stop.
	time.Sleep(150 * time.Millisecond)

	if h.synth.CallCount() != 0 {
		t.Error("late answer reached playback")
	}
	if st := h.engine.Status(); st.Mode != ModeIdle || st.TalkMode {
		t.Errorf("late answer disturbed the stopped engine: %+v", st)
	}
	if got := h.rec.CallCount("Open"); got != opens {
		t.Errorf("late answer re-armed capture: opens %d -> %d", opens, got)
	}
	turns := h.engine.Transcript().Turns()
	if len(turns) != 1 {
		t.Errorf("turns = %d, want just the user question", len(turns))
	}
}

func TestFatalOpenErrorFailsStart(t *testing.T) {
	h := newHarness(t, []capture.MockOption{
		capture.WithOpenError(capture.NewError(capture.CodePermissionDenied, "denied by user")),
	}, nil, nil)

	err := h.engine.StartTalk(context.Background())
	if !capture.IsFatal(err) {
		t.Fatalf("StartTalk() error = %v, want fatal capture error", err)
	}

	n := h.nextNotice(t)
	if n.Code != "permission_denied" || n.Severity != SeverityError {
		t.Errorf("notice = %+v", n)
	}
	h.waitMode(t, ModeIdle)
	if st := h.engine.Status(); st.TalkMode {
		t.Error("talk mode survived a fatal capture failure")
	}
}

func TestFatalSessionErrorEndsTalkMode(t *testing.T) {
	h := newHarness(t, nil, nil, nil)

	if err := h.engine.StartTalk(context.Background()); err != nil {
		t.Fatalf("StartTalk() error = %v", err)
	}
	h.rec.LastSession().SendError(capture.CodePermissionDenied, "revoked mid-session")

	n := h.nextNotice(t)
	if n.Code != "permission_denied" {
		t.Errorf("notice code = %q", n.Code)
	}
	h.waitMode(t, ModeIdle)
	if st := h.engine.Status(); st.TalkMode {
		t.Error("talk mode survived a fatal capture failure")
	}
}

func TestRecoverableCaptureErrorKeepsConversation(t *testing.T) {
	h := newHarness(t, nil, nil, nil)

	if err := h.engine.StartTalk(context.Background()); err != nil {
		t.Fatalf("StartTalk() error = %v", err)
	}
	s := h.rec.LastSession()
	s.SendError(capture.CodeNetwork, "service unreachable")

	n := h.nextNotice(t)
	if n.Code != "capture_error" || n.Severity != SeverityWarn {
		t.Errorf("notice = %+v, want recoverable capture_error", n)
	}
	if st := h.engine.Status(); st.Mode != ModeListening || !st.TalkMode {
		t.Errorf("status = %+v, want still listening", st)
	}

	// The session survived; the loop still answers.
	s.SendFinal("how do I search", 0.7)
	h.waitMode(t, ModeProcessing)
}

func TestNaturalEndRearmsListening(t *testing.T) {
	h := newHarness(t, nil, nil, nil)

	if err := h.engine.StartTalk(context.Background()); err != nil {
		t.Fatalf("StartTalk() error = %v", err)
	}
	h.rec.LastSession().End()

	eventually(t, "capture re-armed after natural end", func() bool {
		return h.rec.CallCount("Open") >= 2
	})
	if st := h.engine.Status(); st.Mode != ModeListening || !st.TalkMode {
		t.Errorf("status = %+v, want still listening", st)
	}
}

func TestManualSubmitRunsOneShot(t *testing.T) {
	h := newHarness(t, nil, nil, nil)

	if err := h.engine.Submit(context.Background(), "How do I rotate keys?"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	user := h.nextTurn(t)
	if user.Role != transcript.RoleUser || user.Confidence != 1 {
		t.Errorf("user turn = %+v, want typed input with full confidence", user)
	}

	h.waitMode(t, ModeSpeaking)
	assistant := h.nextTurn(t)
	if assistant.Content != "You asked: How do I rotate keys?" {
		t.Errorf("assistant turn content = %q", assistant.Content)
	}

	// One-shot: no talk mode, so speech completion lands back at idle.
	h.waitMode(t, ModeIdle)
	if h.rec.CallCount("Open") != 0 {
		t.Errorf("one-shot question opened capture %d times", h.rec.CallCount("Open"))
	}
}

func TestSubmitBlankRejected(t *testing.T) {
	h := newHarness(t, nil, nil, nil)
	if err := h.engine.Submit(context.Background(), "   \n "); !errors.Is(err, ErrEmptySubmit) {
		t.Errorf("Submit(blank) error = %v, want ErrEmptySubmit", err)
	}
}

func TestTypedCommandsDriveTalkMode(t *testing.T) {
	h := newHarness(t, nil, nil, nil)

	if err := h.engine.Submit(context.Background(), "start"); err != nil {
		t.Fatalf("Submit(start) error = %v", err)
	}
	cmd := h.nextCommand(t)
	if cmd.Command != CommandStart || !cmd.TalkMode {
		t.Errorf("command = %+v", cmd)
	}
	h.waitMode(t, ModeListening)
	eventually(t, "capture armed", func() bool {
		return h.rec.CallCount("Open") == 1
	})

	if err := h.engine.Submit(context.Background(), "stop listening"); err != nil {
		t.Fatalf("Submit(stop listening) error = %v", err)
	}
	cmd = h.nextCommand(t)
	if cmd.Command != CommandStop || cmd.TalkMode {
		t.Errorf("command = %+v", cmd)
	}
	h.waitMode(t, ModeIdle)
	if h.prov.CallCount() != 0 {
		t.Error("provider called for control phrases")
	}
}

func TestSubmitPreemptsActiveSpeech(t *testing.T) {
	h := newHarness(t, nil, []playback.MockOption{
		playback.WithAutoComplete(300 * time.Millisecond),
	}, nil)

	if err := h.engine.Submit(context.Background(), "first question"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	h.waitMode(t, ModeSpeaking)

	if err := h.engine.Submit(context.Background(), "second question"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	h.waitMode(t, ModeSpeaking)

	eventually(t, "first speech cancelled", func() bool {
		jobs := h.synth.Jobs()
		return len(jobs) >= 1 && jobs[0].Cancelled()
	})
	if h.prov.CallCount() != 2 {
		t.Errorf("provider calls = %d, want 2", h.prov.CallCount())
	}

	h.waitMode(t, ModeIdle)
}

func TestStartTalkIdempotent(t *testing.T) {
	h := newHarness(t, nil, nil, nil)

	if err := h.engine.StartTalk(context.Background()); err != nil {
		t.Fatalf("StartTalk() error = %v", err)
	}
	if err := h.engine.StartTalk(context.Background()); err != nil {
		t.Fatalf("second StartTalk() error = %v", err)
	}
	if got := h.rec.CallCount("Open"); got != 1 {
		t.Errorf("sessions opened = %d, want 1", got)
	}
}

func TestWatchdogEscapesStuckProcessing(t *testing.T) {
	h := newHarness(t, nil, nil, []answer.MockOption{
		answer.WithLatency(5 * time.Second),
	}, WithWatchdog(0, 50*time.Millisecond, 0))

	if err := h.engine.StartTalk(context.Background()); err != nil {
		t.Fatalf("StartTalk() error = %v", err)
	}
	h.rec.LastSession().SendFinal("hello there", 0.9)
	h.waitMode(t, ModeProcessing)

	n := h.nextNotice(t)
	if n.Code != "watchdog_reset" {
		t.Errorf("notice code = %q, want watchdog_reset", n.Code)
	}
	h.waitMode(t, ModeIdle)
	if st := h.engine.Status(); st.TalkMode {
		t.Error("talk mode survived the watchdog reset")
	}
}

func TestEngineClosedAfterRun(t *testing.T) {
	rec := capture.NewMockRecognizer()
	capt, _ := capture.New(rec, capture.WithLogger(quiet()))
	play, _ := playback.New(playback.NewMockSynthesizer(), playback.WithLogger(quiet()))
	engine, err := New(capt, play, answer.NewMockProvider(), WithLogger(quiet()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		engine.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	if err := engine.Submit(context.Background(), "anyone there?"); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit() after close error = %v, want ErrClosed", err)
	}
	if err := engine.StartTalk(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("StartTalk() after close error = %v, want ErrClosed", err)
	}
}

func TestNewValidatesCollaborators(t *testing.T) {
	rec := capture.NewMockRecognizer()
	capt, _ := capture.New(rec)
	play, _ := playback.New(playback.NewMockSynthesizer())
	prov := answer.NewMockProvider()

	if _, err := New(nil, play, prov); !errors.Is(err, ErrNoCapture) {
		t.Errorf("New(nil capture) error = %v", err)
	}
	if _, err := New(capt, nil, prov); !errors.Is(err, ErrNoPlayback) {
		t.Errorf("New(nil playback) error = %v", err)
	}
	if _, err := New(capt, play, nil); !errors.Is(err, ErrNoProvider) {
		t.Errorf("New(nil provider) error = %v", err)
	}
	if _, err := New(capt, play, prov, WithEventBuffer(0)); !errors.Is(err, ErrBadEventBuffer) {
		t.Errorf("New(zero buffer) error = %v", err)
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in   string
		want Command
	}{
		{"start", CommandStart},
		{"Start listening.", CommandStart},
		{"  START  ", CommandStart},
		{"stop", CommandStop},
		{"stop listening!", CommandStop},
		{"Stop,", CommandStop},
		{"stop the deploy", CommandNone},
		{"how do I start", CommandNone},
		{"restart", CommandNone},
		{"", CommandNone},
	}
	for _, tt := range tests {
		if got := ParseCommand(tt.in); got != tt.want {
			t.Errorf("ParseCommand(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*Config)
		want error
	}{
		{"zero silence timeout", func(c *Config) { c.SilenceTimeout = 0 }, ErrBadSilenceTimeout},
		{"zero answer timeout", func(c *Config) { c.AnswerTimeout = 0 }, ErrBadAnswerTimeout},
		{"zero backoff", func(c *Config) { c.Backoff = 0 }, ErrBadBackoff},
		{"negative rearm delay", func(c *Config) { c.RearmDelay = -time.Second }, ErrBadRearmDelay},
		{"negative watchdog", func(c *Config) { c.WatchdogSpeaking = -time.Second }, ErrBadWatchdog},
		{"zero event buffer", func(c *Config) { c.EventBuffer = 0 }, ErrBadEventBuffer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mod(&cfg)
			if err := cfg.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() error = %v, want %v", err, tt.want)
			}
		})
	}

	t.Run("defaults are valid", func(t *testing.T) {
		cfg := DefaultConfig()
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() error = %v", err)
		}
	})
}

package capture

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func nextEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func nextEventOfKind(t *testing.T, ch <-chan Event, kind EventKind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

func TestParseCode(t *testing.T) {
	cases := []struct {
		in   string
		want Code
	}{
		{"not-allowed", CodePermissionDenied},
		{"service-not-allowed", CodePermissionDenied},
		{"audio-capture", CodeNoMicrophone},
		{"no-speech", CodeNoSpeech},
		{"network", CodeNetwork},
		{"aborted", CodeAborted},
		{"something-else", CodeUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			if got := ParseCode(tc.in); got != tc.want {
				t.Errorf("ParseCode(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestErrorClassification(t *testing.T) {
	t.Run("Fatal codes", func(t *testing.T) {
		for _, code := range []Code{CodePermissionDenied, CodeNoMicrophone} {
			err := NewError(code, "denied")
			if !IsFatal(err) {
				t.Errorf("IsFatal(%s) = false, want true", code)
			}
			if IsBenign(err) || IsRecoverable(err) {
				t.Errorf("%s should be neither benign nor recoverable", code)
			}
		}
	})

	t.Run("Benign codes", func(t *testing.T) {
		for _, code := range []Code{CodeNoSpeech, CodeAborted} {
			err := NewError(code, "")
			if !IsBenign(err) {
				t.Errorf("IsBenign(%s) = false, want true", code)
			}
			if IsFatal(err) || IsRecoverable(err) {
				t.Errorf("%s should be neither fatal nor recoverable", code)
			}
		}
	})

	t.Run("Recoverable codes", func(t *testing.T) {
		for _, code := range []Code{CodeNetwork, CodeUnknown} {
			if !IsRecoverable(NewError(code, "")) {
				t.Errorf("IsRecoverable(%s) = false, want true", code)
			}
		}
	})

	t.Run("Classification through wrapping", func(t *testing.T) {
		wrapped := fmt.Errorf("session start: %w", NewError(CodePermissionDenied, "mic"))
		if !IsFatal(wrapped) {
			t.Error("IsFatal should see through wrapping")
		}
	})

	t.Run("Non-capture errors", func(t *testing.T) {
		err := errors.New("plain")
		if IsFatal(err) || IsBenign(err) || IsRecoverable(err) {
			t.Error("plain errors should not classify")
		}
	})

	t.Run("Error string", func(t *testing.T) {
		err := NewError(CodeNetwork, "service unreachable")
		want := "capture: network: service unreachable"
		if err.Error() != want {
			t.Errorf("Error() = %q, want %q", err.Error(), want)
		}
	})
}

func TestStartWithoutRecognizer(t *testing.T) {
	ctrl, err := New(nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := ctrl.Start(context.Background()); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Start without recognizer = %v, want ErrUnsupported", err)
	}
}

func TestStartSurfacesOpenError(t *testing.T) {
	rec := NewMockRecognizer(WithOpenError(NewError(CodePermissionDenied, "user denied microphone")))
	ctrl, _ := New(rec)
	defer ctrl.Close()

	err := ctrl.Start(context.Background())
	if err == nil {
		t.Fatal("Start should fail when Open fails")
	}
	if !IsFatal(err) {
		t.Errorf("expected fatal error, got %v", err)
	}
	if snap := ctrl.Snapshot(); snap.LastError == "" {
		t.Error("Snapshot should carry the last error")
	}
}

func TestStartSupersedesLiveSession(t *testing.T) {
	rec := NewMockRecognizer()
	ctrl, _ := New(rec)
	defer ctrl.Close()

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}

	sessions := rec.Sessions()
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if !sessions[0].Aborted() {
		t.Error("starting over a live session must abort the old one")
	}
	if sessions[1].Aborted() {
		t.Error("the new session must stay live")
	}
}

func TestFragmentAccumulation(t *testing.T) {
	rec := NewMockRecognizer()
	ctrl, _ := New(rec)
	defer ctrl.Close()
	ctx := context.Background()

	if err := ctrl.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	sess := rec.LastSession()

	sess.SendInterim("how do")
	ev := nextEvent(t, ctrl.Events())
	if ev.Kind != EventFragment || ev.Fragment.Final {
		t.Fatalf("expected interim fragment, got %+v", ev)
	}
	if snap := ctrl.Snapshot(); snap.Interim != "how do" {
		t.Errorf("Interim = %q, want %q", snap.Interim, "how do")
	}

	sess.SendFinal("how do I search", 0.9)
	ev = nextEvent(t, ctrl.Events())
	if !ev.Fragment.Final {
		t.Fatalf("expected final fragment, got %+v", ev)
	}

	sess.SendFinal("the docs", 0.7)
	nextEvent(t, ctrl.Events())

	snap := ctrl.Snapshot()
	if snap.AccumulatedFinal != "how do I search the docs" {
		t.Errorf("AccumulatedFinal = %q", snap.AccumulatedFinal)
	}
	if snap.Interim != "" {
		t.Errorf("a final should clear the interim, got %q", snap.Interim)
	}
	if want := 0.8; snap.Confidence < want-0.001 || snap.Confidence > want+0.001 {
		t.Errorf("Confidence = %v, want %v", snap.Confidence, want)
	}

	ctrl.ClearAccumulated()
	if snap := ctrl.Snapshot(); snap.AccumulatedFinal != "" || snap.Confidence != 0 {
		t.Errorf("ClearAccumulated left %+v", snap)
	}
}

func TestStopTagsEndAndFlushes(t *testing.T) {
	rec := NewMockRecognizer()
	ctrl, _ := New(rec)
	defer ctrl.Close()

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	sess := rec.LastSession()

	sess.SendFinal("last words", 0.8)
	ctrl.Stop()
	ctrl.Stop() // idempotent

	if ctrl.Listening() {
		t.Error("Listening must read false as soon as Stop is called")
	}

	ev := nextEventOfKind(t, ctrl.Events(), EventFragment)
	if ev.Fragment.Text != "last words" {
		t.Errorf("pending final should flush before the end, got %q", ev.Fragment.Text)
	}

	end := nextEventOfKind(t, ctrl.Events(), EventEnded)
	if end.Reason != EndStopped {
		t.Errorf("end reason = %s, want stopped", end.Reason)
	}
}

func TestAbortTagsEnd(t *testing.T) {
	rec := NewMockRecognizer()
	ctrl, _ := New(rec)
	defer ctrl.Close()

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	ctrl.Abort()

	end := nextEventOfKind(t, ctrl.Events(), EventEnded)
	if end.Reason != EndAborted {
		t.Errorf("end reason = %s, want aborted", end.Reason)
	}
}

func TestBenignErrorsAbsorbed(t *testing.T) {
	rec := NewMockRecognizer()
	ctrl, _ := New(rec)
	defer ctrl.Close()

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	sess := rec.LastSession()

	sess.SendError(CodeNoSpeech, "nothing heard")
	sess.SendFinal("after the silence", 0.9)

	ev := nextEvent(t, ctrl.Events())
	if ev.Kind != EventFragment {
		t.Fatalf("no-speech must be absorbed, got %s event", ev.Kind)
	}
	if ev.Fragment.Text != "after the silence" {
		t.Errorf("unexpected fragment %q", ev.Fragment.Text)
	}
}

func TestRecoverableErrorKeepsSession(t *testing.T) {
	rec := NewMockRecognizer()
	ctrl, _ := New(rec)
	defer ctrl.Close()

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	sess := rec.LastSession()

	sess.SendError(CodeNetwork, "service unreachable")
	ev := nextEvent(t, ctrl.Events())
	if ev.Kind != EventError || !IsRecoverable(ev.Err) {
		t.Fatalf("expected recoverable error event, got %+v", ev)
	}

	sess.SendFinal("still here", 0.9)
	ev = nextEvent(t, ctrl.Events())
	if ev.Kind != EventFragment {
		t.Fatalf("session should survive a network error, got %s event", ev.Kind)
	}

	sess.End()
	end := nextEventOfKind(t, ctrl.Events(), EventEnded)
	if end.Reason != EndNatural {
		t.Errorf("end reason = %s, want natural", end.Reason)
	}
}

func TestFatalErrorEndsSession(t *testing.T) {
	rec := NewMockRecognizer()
	ctrl, _ := New(rec)
	defer ctrl.Close()

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	rec.LastSession().SendError(CodePermissionDenied, "grant revoked")

	ev := nextEventOfKind(t, ctrl.Events(), EventError)
	if !IsFatal(ev.Err) {
		t.Errorf("expected fatal error, got %v", ev.Err)
	}
	end := nextEventOfKind(t, ctrl.Events(), EventEnded)
	if end.Reason != EndFailed {
		t.Errorf("end reason = %s, want failed", end.Reason)
	}
}

func TestAutoRestart(t *testing.T) {
	t.Run("Restarts after natural end", func(t *testing.T) {
		rec := NewMockRecognizer()
		ctrl, _ := New(rec,
			WithAutoRestart(nil),
			WithSettleDelay(10*time.Millisecond))
		defer ctrl.Close()

		if err := ctrl.Start(context.Background()); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		rec.LastSession().End()
		nextEventOfKind(t, ctrl.Events(), EventEnded)

		time.Sleep(100 * time.Millisecond)
		if got := rec.CallCount("Open"); got != 2 {
			t.Errorf("Open count = %d, want 2 (one restart)", got)
		}
	})

	t.Run("Gate suppresses restart", func(t *testing.T) {
		var allow atomic.Bool
		rec := NewMockRecognizer()
		ctrl, _ := New(rec,
			WithAutoRestart(func() bool { return allow.Load() }),
			WithSettleDelay(10*time.Millisecond))
		defer ctrl.Close()

		if err := ctrl.Start(context.Background()); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		rec.LastSession().End()
		nextEventOfKind(t, ctrl.Events(), EventEnded)

		time.Sleep(100 * time.Millisecond)
		if got := rec.CallCount("Open"); got != 1 {
			t.Errorf("Open count = %d, want 1 (restart gated off)", got)
		}
	})

	t.Run("No restart after user stop", func(t *testing.T) {
		rec := NewMockRecognizer()
		ctrl, _ := New(rec,
			WithAutoRestart(nil),
			WithSettleDelay(10*time.Millisecond))
		defer ctrl.Close()

		if err := ctrl.Start(context.Background()); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		ctrl.Stop()
		nextEventOfKind(t, ctrl.Events(), EventEnded)

		time.Sleep(100 * time.Millisecond)
		if got := rec.CallCount("Open"); got != 1 {
			t.Errorf("Open count = %d, want 1 (user stop must not restart)", got)
		}
	})
}

func TestCloseAbortsSession(t *testing.T) {
	rec := NewMockRecognizer()
	ctrl, _ := New(rec)

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	sess := rec.LastSession()

	if err := ctrl.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !sess.Aborted() {
		t.Error("Close must abort the live session")
	}
	if err := ctrl.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Start after Close = %v, want ErrClosed", err)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Apply(WithEventBuffer(0))
	if err := cfg.Validate(); !errors.Is(err, ErrBadEventBuffer) {
		t.Errorf("Validate = %v, want ErrBadEventBuffer", err)
	}
}

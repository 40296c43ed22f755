package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func waitJob(t *testing.T, m *MockSynthesizer, n int) *MockJob {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if jobs := m.Jobs(); len(jobs) >= n {
			return jobs[n-1]
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("job %d was never dispatched", n)
	return nil
}

type endRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *endRecorder) record(req Request) {
	r.mu.Lock()
	r.ids = append(r.ids, req.ID)
	r.mu.Unlock()
}

func (r *endRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}

func TestSpeakCompletesNaturally(t *testing.T) {
	ends := &endRecorder{}
	synth := NewMockSynthesizer(WithAutoComplete(10 * time.Millisecond))
	ctrl, err := New(synth, WithOnEnd(ends.record))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer ctrl.Close()
	ctx := context.Background()

	h := ctrl.Speak(ctx, "the answer is under settings")
	outcome, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	if outcome != OutcomeCompleted {
		t.Errorf("outcome = %s, want completed", outcome)
	}
	if ctrl.Speaking() {
		t.Error("Speaking should be false after completion")
	}
	if got := ends.all(); len(got) != 1 {
		t.Errorf("OnEnd fired %d times, want 1", len(got))
	}
}

func TestSpeakingReadsTrueSynchronously(t *testing.T) {
	synth := NewMockSynthesizer()
	ctrl, _ := New(synth)
	defer ctrl.Close()

	ctrl.Speak(context.Background(), "hold on")
	if !ctrl.Speaking() {
		t.Error("Speaking must be true the moment Speak returns")
	}
}

func TestSupersedeResolvesInterrupted(t *testing.T) {
	ends := &endRecorder{}
	synth := NewMockSynthesizer()
	ctrl, _ := New(synth, WithOnEnd(ends.record))
	defer ctrl.Close()
	ctx := context.Background()

	a := ctrl.Speak(ctx, "first answer")
	jobA := waitJob(t, synth, 1)

	b := ctrl.Speak(ctx, "second answer")
	jobB := waitJob(t, synth, 2)

	outcome, err := a.Wait(ctx)
	if err != nil {
		t.Fatalf("superseded request must not reject, got %v", err)
	}
	if outcome != OutcomeInterrupted {
		t.Errorf("outcome = %s, want interrupted", outcome)
	}
	if !jobA.Cancelled() {
		t.Error("superseding must cancel the old job")
	}

	jobB.EmitStarted()
	jobB.EmitEnded()
	if outcome, _ := b.Wait(ctx); outcome != OutcomeCompleted {
		t.Errorf("second request outcome = %s, want completed", outcome)
	}

	// A late end event from the cancelled job must not double-complete.
	jobA.EmitEnded()

	got := ends.all()
	if len(got) != 1 {
		t.Fatalf("OnEnd fired %d times, want exactly 1", len(got))
	}
	if wantID := synth.Calls()[1].Request.ID; got[0] != wantID {
		t.Errorf("OnEnd fired for %s, want the second request %s", got[0], wantID)
	}
}

func TestStopInterrupts(t *testing.T) {
	synth := NewMockSynthesizer()
	ctrl, _ := New(synth)
	defer ctrl.Close()
	ctx := context.Background()

	h := ctrl.Speak(ctx, "cut me off")
	job := waitJob(t, synth, 1)

	ctrl.Stop()
	ctrl.Stop() // idempotent

	outcome, err := h.Wait(ctx)
	if err != nil || outcome != OutcomeInterrupted {
		t.Errorf("Wait = (%s, %v), want (interrupted, nil)", outcome, err)
	}
	if !job.Cancelled() {
		t.Error("Stop must cancel the job")
	}
	if ctrl.Speaking() {
		t.Error("Speaking should be false after Stop")
	}
}

func TestStopWhenIdle(t *testing.T) {
	ctrl, _ := New(NewMockSynthesizer())
	defer ctrl.Close()
	ctrl.Stop()
	ctrl.Pause()
	ctrl.Resume()
}

func TestSynthesisFailureRejects(t *testing.T) {
	synth := NewMockSynthesizer()
	ctrl, _ := New(synth)
	defer ctrl.Close()
	ctx := context.Background()

	h := ctrl.Speak(ctx, "doomed")
	job := waitJob(t, synth, 1)
	job.EmitFailed(errors.New("audio device lost"))

	outcome, err := h.Wait(ctx)
	if outcome != OutcomeFailed {
		t.Errorf("outcome = %s, want failed", outcome)
	}
	var se *SynthesisError
	if !errors.As(err, &se) {
		t.Errorf("error = %v, want a SynthesisError", err)
	}
}

func TestDispatchErrorRejects(t *testing.T) {
	synth := NewMockSynthesizer(WithSpeakError(errors.New("backend gone")))
	ctrl, _ := New(synth)
	defer ctrl.Close()
	ctx := context.Background()

	outcome, err := ctrl.Speak(ctx, "never plays").Wait(ctx)
	if outcome != OutcomeFailed || err == nil {
		t.Errorf("Wait = (%s, %v), want failed with error", outcome, err)
	}
}

func TestSpeakWithoutSynthesizer(t *testing.T) {
	ctrl, _ := New(nil)
	outcome, err := ctrl.Speak(context.Background(), "anyone there").Wait(context.Background())
	if outcome != OutcomeFailed || !errors.Is(err, ErrNoSynthesizer) {
		t.Errorf("Wait = (%s, %v), want failed with ErrNoSynthesizer", outcome, err)
	}
}

func TestEmptyTextCompletesImmediately(t *testing.T) {
	synth := NewMockSynthesizer()
	ctrl, _ := New(synth)
	defer ctrl.Close()

	outcome, err := ctrl.Speak(context.Background(), "   ").Wait(context.Background())
	if outcome != OutcomeCompleted || err != nil {
		t.Errorf("Wait = (%s, %v), want completed", outcome, err)
	}
	if synth.CallCount() != 0 {
		t.Error("blank text must not reach the synthesizer")
	}
}

func TestVoicesWaitsForCatalog(t *testing.T) {
	t.Run("Catalog arrives in time", func(t *testing.T) {
		vs := []Voice{{ID: "late", Language: "en-US", Local: true}}
		synth := NewMockSynthesizer(WithVoicesAfter(20*time.Millisecond, vs...))
		ctrl, _ := New(synth, WithVoiceWait(2*time.Second))
		defer ctrl.Close()

		got, err := ctrl.Voices(context.Background())
		if err != nil {
			t.Fatalf("Voices failed: %v", err)
		}
		if len(got) != 1 || got[0].ID != "late" {
			t.Errorf("Voices = %+v", got)
		}
	})

	t.Run("Wait is bounded", func(t *testing.T) {
		synth := NewMockSynthesizer(WithNoVoices())
		ctrl, _ := New(synth, WithVoiceWait(40*time.Millisecond))
		defer ctrl.Close()

		if _, err := ctrl.Voices(context.Background()); !errors.Is(err, ErrVoicesUnavailable) {
			t.Errorf("Voices = %v, want ErrVoicesUnavailable", err)
		}
	})
}

func TestChooseVoice(t *testing.T) {
	local := Voice{ID: "en-local", Language: "en-US", Local: true}
	remote := Voice{ID: "en-remote", Language: "en-GB"}
	french := Voice{ID: "fr-local", Language: "fr-FR", Local: true}
	german := Voice{ID: "de-remote", Language: "de-DE"}

	cases := []struct {
		name string
		vs   []Voice
		lang string
		want string
	}{
		{"Local match preferred", []Voice{french, remote, local}, "en-US", "en-local"},
		{"Any match beats non-matching local", []Voice{french, remote}, "en-US", "en-remote"},
		{"No match falls back to first", []Voice{french, german}, "en-US", "fr-local"},
		{"Empty language prefers first local", []Voice{german, french}, "", "fr-local"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := chooseVoice(tc.vs, tc.lang); got.ID != tc.want {
				t.Errorf("chooseVoice = %s, want %s", got.ID, tc.want)
			}
		})
	}
}

func TestDefaultVoiceTracksCatalog(t *testing.T) {
	synth := NewMockSynthesizer()
	ctrl, _ := New(synth)
	defer ctrl.Close()
	ctx := context.Background()

	v, err := ctrl.DefaultVoice(ctx)
	if err != nil {
		t.Fatalf("DefaultVoice failed: %v", err)
	}
	if v.ID != "mock-en-local" {
		t.Errorf("DefaultVoice = %s, want mock-en-local", v.ID)
	}

	synth.SetVoices(Voice{ID: "fresh", Language: "en-US", Local: true})
	v, err = ctrl.DefaultVoice(ctx)
	if err != nil {
		t.Fatalf("DefaultVoice after change failed: %v", err)
	}
	if v.ID != "fresh" {
		t.Errorf("DefaultVoice = %s, want fresh (cache must follow the catalog)", v.ID)
	}
}

func TestPauseResume(t *testing.T) {
	synth := NewMockSynthesizer()
	ctrl, _ := New(synth)
	defer ctrl.Close()

	ctrl.Speak(context.Background(), "long explanation")
	waitJob(t, synth, 1)

	ctrl.Pause()
	if !ctrl.Paused() {
		t.Error("Paused should be true after the backend confirms")
	}
	ctrl.Resume()
	if ctrl.Paused() {
		t.Error("Paused should be false after resume")
	}
}

func TestRequestCarriesDefaultsAndOverrides(t *testing.T) {
	synth := NewMockSynthesizer()
	ctrl, _ := New(synth, WithDefaults(1.2, 0.9, 0.8), WithLanguage("en-GB"))
	defer ctrl.Close()

	ctrl.Speak(context.Background(), "defaults")
	waitJob(t, synth, 1)
	ctrl.Speak(context.Background(), "overridden", WithRate(2), WithVoice("pinned"))
	waitJob(t, synth, 2)

	calls := synth.Calls()
	if got := calls[0].Request; got.Rate != 1.2 || got.Pitch != 0.9 || got.Volume != 0.8 || got.Language != "en-GB" {
		t.Errorf("defaults not applied: %+v", got)
	}
	if got := calls[1].Request; got.Rate != 2 || got.Voice != "pinned" {
		t.Errorf("overrides not applied: %+v", got)
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		opt  Option
		want error
	}{
		{"Zero rate", WithDefaults(0, 1, 1), ErrBadRate},
		{"Pitch out of range", WithDefaults(1, 3, 1), ErrBadPitch},
		{"Volume out of range", WithDefaults(1, 1, 2), ErrBadVolume},
		{"Zero voice wait", WithVoiceWait(0), ErrBadVoiceWait},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(NewMockSynthesizer(), tc.opt); !errors.Is(err, tc.want) {
				t.Errorf("New = %v, want %v", err, tc.want)
			}
		})
	}
}

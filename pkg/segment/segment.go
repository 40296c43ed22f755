// Package segment turns a stream of recognition fragments into discrete
// utterances by watching for silence.
//
// The segmenter keeps everything heard since the last utterance. Each
// fragment, interim or final, pushes the silence deadline out again; only
// when the speaker has been quiet for the full window does the
// accumulated text ship as a single Utterance. A user can dictate a
// multi-sentence question with natural pauses without the first half
// being answered on its own.
//
// Example usage:
//
//	seg, err := segment.New(func(u segment.Utterance) {
//		engine.Ask(u)
//	}, segment.WithSilenceTimeout(2*time.Second))
//	if err != nil {
//		return err
//	}
//	for ev := range ctrl.Events() {
//		if ev.Kind == capture.EventFragment {
//			seg.Feed(ev.Fragment)
//		}
//	}
package segment

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-talkmode/internal/log"
	"github.com/teslashibe/go-talkmode/pkg/capture"
)

// DefaultSilenceTimeout is how long the speaker must stay quiet before
// the accumulated text is considered a complete utterance.
const DefaultSilenceTimeout = 2500 * time.Millisecond

// ErrBadTimeout is returned when the configured silence timeout is not positive.
var ErrBadTimeout = errors.New("segment: silence timeout must be positive")

// Source records how an utterance entered the engine.
type Source string

const (
	// SourceVoice marks utterances assembled from recognition fragments.
	SourceVoice Source = "voice"
	// SourceManual marks typed text submitted through the manual path.
	SourceManual Source = "manual"
)

// Utterance is one complete unit of user input. It is immutable once
// emitted and is consumed exactly once by whoever receives it.
type Utterance struct {
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Source     Source    `json:"source"`
	At         time.Time `json:"at"`
}

// Manual wraps typed text as an utterance. Typed input carries full
// confidence. Returns false when the text is blank after trimming.
func Manual(text string) (Utterance, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Utterance{}, false
	}
	return Utterance{
		Text:       text,
		Confidence: 1,
		Source:     SourceManual,
		At:         time.Now(),
	}, true
}

// Config holds segmenter settings.
type Config struct {
	SilenceTimeout time.Duration
	Logger         *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SilenceTimeout: DefaultSilenceTimeout,
		Logger:         log.L(),
	}
}

// Option mutates a Config.
type Option func(*Config)

// WithSilenceTimeout sets the quiet window that closes an utterance.
func WithSilenceTimeout(d time.Duration) Option {
	return func(c *Config) { c.SilenceTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// Apply applies options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the config for usable values.
func (c *Config) Validate() error {
	if c.SilenceTimeout <= 0 {
		return ErrBadTimeout
	}
	return nil
}

// Segmenter accumulates fragments and emits one utterance per silence
// period. Safe for concurrent use.
type Segmenter struct {
	cfg  Config
	emit func(Utterance)
	log  *slog.Logger

	mu          sync.Mutex
	finals      []string
	confSum     float64
	confN       int
	interim     string
	interimConf float64
	timer       *time.Timer
	gen         uint64
}

// New builds a segmenter that delivers utterances through emit. The emit
// callback runs on a timer goroutine for silence expiries and on the
// caller's goroutine for SubmitNow; it must not block for long.
func New(emit func(Utterance), opts ...Option) (*Segmenter, error) {
	if emit == nil {
		return nil, errors.New("segment: emit callback is required")
	}
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Segmenter{
		cfg:  cfg,
		emit: emit,
		log:  cfg.Logger.With("component", "segment"),
	}, nil
}

// Feed records a fragment and re-arms the silence countdown. Every
// fragment resets the full window, so rapid finals coalesce into one
// utterance instead of firing one each.
func (s *Segmenter) Feed(f capture.Fragment) {
	s.mu.Lock()
	if f.Final {
		if text := strings.TrimSpace(f.Text); text != "" {
			s.finals = append(s.finals, text)
			s.confSum += f.Confidence
			s.confN++
		}
		s.interim = ""
		s.interimConf = 0
	} else {
		s.interim = f.Text
		s.interimConf = f.Confidence
	}
	s.rearmLocked()
	s.mu.Unlock()
}

// SubmitNow closes the current utterance immediately instead of waiting
// out the silence window. The utterance, when there is one, is delivered
// through the emit callback exactly as an expiry would deliver it, and
// returned for convenience. Returns false when nothing has accumulated.
func (s *Segmenter) SubmitNow() (Utterance, bool) {
	s.mu.Lock()
	u, ok := s.buildLocked()
	s.resetLocked()
	s.mu.Unlock()
	if !ok {
		return Utterance{}, false
	}
	s.emit(u)
	return u, true
}

// Clear drops everything accumulated and cancels any pending expiry.
// Nothing is emitted.
func (s *Segmenter) Clear() {
	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()
}

// Pending previews the text that would ship if the silence window
// expired right now.
func (s *Segmenter) Pending() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.textLocked()
}

func (s *Segmenter) rearmLocked() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
	}
	gen := s.gen
	s.timer = time.AfterFunc(s.cfg.SilenceTimeout, func() { s.expire(gen) })
}

// expire fires when a silence window runs out. The generation check
// drops timers that were superseded by a later fragment or a reset.
func (s *Segmenter) expire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	u, ok := s.buildLocked()
	s.resetLocked()
	s.mu.Unlock()
	if !ok {
		return
	}
	s.log.Debug("utterance complete", "chars", len(u.Text), "confidence", u.Confidence)
	s.emit(u)
}

func (s *Segmenter) textLocked() string {
	parts := s.finals
	if interim := strings.TrimSpace(s.interim); interim != "" {
		parts = append(parts[:len(parts):len(parts)], interim)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func (s *Segmenter) buildLocked() (Utterance, bool) {
	text := s.textLocked()
	if text == "" {
		return Utterance{}, false
	}
	conf := s.interimConf
	if s.confN > 0 {
		conf = s.confSum / float64(s.confN)
	}
	return Utterance{
		Text:       text,
		Confidence: conf,
		Source:     SourceVoice,
		At:         time.Now(),
	}, true
}

func (s *Segmenter) resetLocked() {
	s.finals = nil
	s.confSum = 0
	s.confN = 0
	s.interim = ""
	s.interimConf = 0
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

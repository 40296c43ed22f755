// Package bridge turns one browser tab into the engine's microphone and
// speaker. The page connects a websocket, announces its voices, and then
// serves two ports at once: an Endpoint is both a capture.Recognizer
// (recognition runs in the browser, fragments stream back) and a
// playback.Synthesizer (utterances are spoken by the browser, lifecycle
// events stream back).
//
// The Endpoint outlives any single connection. Tabs attach and detach;
// work in flight on a lost tab fails over to the engine's normal retry
// path, and the next tab picks up where the last one left off.
package bridge

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-talkmode/internal/log"
	"github.com/teslashibe/go-talkmode/pkg/playback"
	"github.com/teslashibe/go-talkmode/pkg/protocol"
)

// Sentinel errors for the bridge package.
var (
	// ErrNotAttached means no browser session is connected.
	ErrNotAttached = errors.New("bridge: no browser session attached")

	// ErrClosed means the endpoint has shut down.
	ErrClosed = errors.New("bridge: endpoint closed")

	// ErrConnLost means the browser connection dropped mid-operation.
	ErrConnLost = errors.New("bridge: browser connection lost")

	// ErrBadAudioBuffer indicates a non-positive audio buffer size.
	ErrBadAudioBuffer = errors.New("bridge: audio buffer must be positive")
)

// textMessage is the RFC 6455 text frame opcode. Kept local so the
// endpoint depends only on the Conn interface, not a websocket library.
const textMessage = 1

// Conn is the subset of a websocket connection the endpoint needs. Both
// gofiber and gorilla connections satisfy it.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Frame is one decoded microphone audio frame relayed by the page for
// server-side recognition.
type Frame struct {
	Format     string
	SampleRate int
	Channels   int
	Data       []byte
}

// Config holds endpoint settings.
type Config struct {
	// AudioBuffer is how many microphone frames may queue for the relay
	// before new frames are dropped.
	AudioBuffer int

	// OnSubmit fires when the page submits typed text.
	OnSubmit func(text string)

	// OnCommand fires when the page presses a talk-mode control.
	OnCommand func(action string)

	// OnAttach fires when a browser session connects.
	OnAttach func()

	// OnDetach fires when the current browser session is lost, not when
	// it is merely replaced by a newer tab.
	OnDetach func()

	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		AudioBuffer: 64,
		Logger:      log.L(),
	}
}

// Option mutates a Config.
type Option func(*Config)

// WithAudioBuffer sets the microphone relay queue depth.
func WithAudioBuffer(n int) Option {
	return func(c *Config) { c.AudioBuffer = n }
}

// WithOnSubmit sets the typed-text callback.
func WithOnSubmit(fn func(text string)) Option {
	return func(c *Config) { c.OnSubmit = fn }
}

// WithOnCommand sets the UI command callback.
func WithOnCommand(fn func(action string)) Option {
	return func(c *Config) { c.OnCommand = fn }
}

// WithOnAttach sets the session-connected callback.
func WithOnAttach(fn func()) Option {
	return func(c *Config) { c.OnAttach = fn }
}

// WithOnDetach sets the session-lost callback.
func WithOnDetach(fn func()) Option {
	return func(c *Config) { c.OnDetach = fn }
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

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.AudioBuffer <= 0 {
		return ErrBadAudioBuffer
	}
	return nil
}

// Endpoint bridges the engine's capture and playback ports onto whichever
// browser session is currently attached.
type Endpoint struct {
	cfg Config
	log *slog.Logger

	// writeMu serializes websocket writes.
	writeMu sync.Mutex

	mu          sync.Mutex
	conn        Conn
	gen         uint64 // bumped per attach; stale pumps and events drop out
	closed      bool
	sess        *session
	pending     chan error // open call waiting for capture.began
	pendingSID  string
	jobs        map[string]*job
	voices      []playback.Voice
	haveVoices  bool
	watchers    map[int]func()
	nextWatcher int

	audio chan Frame
}

// New creates an endpoint with no browser attached yet.
func New(opts ...Option) (*Endpoint, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.L()
	}
	return &Endpoint{
		cfg:      cfg,
		log:      logger.With("component", "bridge"),
		jobs:     make(map[string]*job),
		watchers: make(map[int]func()),
		audio:    make(chan Frame, cfg.AudioBuffer),
	}, nil
}

// Serve runs one browser connection until it drops, then returns the read
// error. Call it from the websocket handler; it blocks for the life of
// the connection. A newer connection supersedes the current one.
func (e *Endpoint) Serve(conn Conn) error {
	gen, err := e.attach(conn)
	if err != nil {
		conn.Close()
		return err
	}
	e.log.Info("browser session attached")
	if e.cfg.OnAttach != nil {
		e.cfg.OnAttach()
	}

	readErr := e.readPump(conn, gen)
	if e.detach(gen) {
		e.log.Info("browser session detached", "cause", readErr)
		if e.cfg.OnDetach != nil {
			e.cfg.OnDetach()
		}
	}
	conn.Close()
	return readErr
}

// Attached reports whether a browser session is currently connected.
func (e *Endpoint) Attached() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn != nil
}

// AudioFrames returns the stream of microphone frames relayed by the
// page. The channel is never closed; frames are dropped when the
// consumer falls behind.
func (e *Endpoint) AudioFrames() <-chan Frame {
	return e.audio
}

// Close shuts the endpoint down, failing all work in flight. After Close
// the engine sees it as permanently unattached.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	conn := e.conn
	e.conn = nil
	fail := e.takeInFlightLocked()
	e.mu.Unlock()

	fail(ErrClosed)
	if conn != nil {
		conn.Close()
	}
	return nil
}

// attach makes conn the current browser session, retiring whatever the
// previous one had in flight.
func (e *Endpoint) attach(conn Conn) (uint64, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0, ErrClosed
	}
	old := e.conn
	e.conn = conn
	e.gen++
	gen := e.gen
	fail := e.takeInFlightLocked()
	e.mu.Unlock()

	fail(ErrConnLost)
	if old != nil {
		old.Close()
		e.log.Warn("previous browser session superseded")
	}
	return gen, nil
}

// detach clears the connection if it is still current. Returns false when
// a newer session already took over.
func (e *Endpoint) detach(gen uint64) bool {
	e.mu.Lock()
	if e.gen != gen || e.conn == nil {
		e.mu.Unlock()
		return false
	}
	e.conn = nil
	fail := e.takeInFlightLocked()
	e.mu.Unlock()

	fail(ErrConnLost)
	return true
}

// takeInFlightLocked removes the live session, the pending open, and all
// synthesis jobs from the endpoint and returns a function that fails them.
// The caller invokes it after releasing the lock, so no consumer callback
// ever runs under mu.
func (e *Endpoint) takeInFlightLocked() func(error) {
	sess := e.sess
	e.sess = nil
	pend := e.pending
	e.pending = nil
	e.pendingSID = ""
	jobs := e.jobs
	e.jobs = make(map[string]*job)

	return func(cause error) {
		if sess != nil {
			sess.end(cause)
		}
		if pend != nil {
			pend <- cause
		}
		for _, j := range jobs {
			j.deliver(playback.Event{Kind: playback.EventFailed, Err: &playback.SynthesisError{Cause: cause}})
		}
	}
}

// send marshals and writes one message to the current connection.
func (e *Endpoint) send(m *protocol.Message) error {
	data, err := m.Bytes()
	if err != nil {
		return err
	}
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	if conn == nil {
		return ErrNotAttached
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return conn.WriteMessage(textMessage, data)
}

// readPump parses inbound frames until the connection errors.
func (e *Endpoint) readPump(conn Conn, gen uint64) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		msg, err := protocol.ParseMessage(data)
		if err != nil {
			e.log.Warn("unparseable message from browser", "error", err)
			continue
		}
		e.dispatch(gen, msg)
	}
}

func (e *Endpoint) dispatch(gen uint64, msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeCaptureBegan:
		e.handleCaptureBegan(gen, msg)
	case protocol.TypeCaptureResult:
		e.handleCaptureResult(gen, msg)
	case protocol.TypeCaptureError:
		e.handleCaptureError(gen, msg)
	case protocol.TypeCaptureEnded:
		e.handleCaptureEnded(gen, msg)
	case protocol.TypeSpeakEvent:
		e.handleSpeakEvent(gen, msg)
	case protocol.TypeVoices:
		e.handleVoices(gen, msg)
	case protocol.TypeAudio:
		e.handleAudio(gen, msg)
	case protocol.TypeSubmit:
		e.handleSubmit(msg)
	case protocol.TypeCommand:
		e.handleCommand(msg)
	case protocol.TypePing:
		e.handlePing(msg)
	default:
		e.log.Debug("unhandled message type", "type", string(msg.Type))
	}
}

func (e *Endpoint) handleSubmit(msg *protocol.Message) {
	d, err := msg.GetSubmitData()
	if err != nil {
		e.log.Warn("bad submit payload", "error", err)
		return
	}
	if e.cfg.OnSubmit != nil {
		e.cfg.OnSubmit(d.Text)
	}
}

func (e *Endpoint) handleCommand(msg *protocol.Message) {
	d, err := msg.GetCommandData()
	if err != nil {
		e.log.Warn("bad command payload", "error", err)
		return
	}
	if e.cfg.OnCommand != nil {
		e.cfg.OnCommand(d.Action)
	}
}

func (e *Endpoint) handleAudio(gen uint64, msg *protocol.Message) {
	e.mu.Lock()
	current := gen == e.gen
	e.mu.Unlock()
	if !current {
		return
	}
	d, err := msg.GetAudioData()
	if err != nil {
		e.log.Warn("bad audio payload", "error", err)
		return
	}
	pcm, err := d.DecodeAudioData()
	if err != nil {
		e.log.Warn("undecodable audio frame", "error", err)
		return
	}
	select {
	case e.audio <- Frame{Format: d.Format, SampleRate: d.SampleRate, Channels: d.Channels, Data: pcm}:
	default:
		e.log.Debug("audio relay backlogged, dropping frame")
	}
}

func (e *Endpoint) handlePing(msg *protocol.Message) {
	d, err := msg.GetPingData()
	if err != nil {
		e.log.Warn("bad ping payload", "error", err)
		return
	}
	pong, err := protocol.NewPongMessage(d.ID, msg.Timestamp, time.Now().UnixMilli())
	if err != nil {
		return
	}
	if err := e.send(pong); err != nil {
		e.log.Debug("pong send failed", "error", err)
	}
}

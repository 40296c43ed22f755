// Package deepgram provides server-side speech recognition over
// Deepgram's streaming websocket API, adapted to the capture.Recognizer
// port.
//
// It decorates a browser relay rather than replacing it: opening a
// session still asks the page to start its microphone, but instead of
// running recognition in the browser, raw audio frames stream back and
// are piped to Deepgram. Transcript results come down the same
// capture.Session surface the engine already consumes, so switching
// between browser and server recognition is a wiring change.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/api/iterator"

	"github.com/teslashibe/go-talkmode/internal/log"
	"github.com/teslashibe/go-talkmode/pkg/bridge"
	"github.com/teslashibe/go-talkmode/pkg/capture"
)

// Sentinel errors for the deepgram package.
var (
	// ErrNoAPIKey means the provider was constructed without credentials.
	ErrNoAPIKey = errors.New("deepgram: api key not configured")

	// ErrNoRelay means no browser relay was supplied.
	ErrNoRelay = errors.New("deepgram: audio relay is required")
)

// keepAliveInterval is how often the stream is pinged during silence.
// Deepgram closes connections that stay quiet much past ten seconds.
const keepAliveInterval = 5 * time.Second

var keepAliveMsg = []byte(`{"type":"KeepAlive"}`)
var closeStreamMsg = []byte(`{"type":"CloseStream"}`)

// Relay is the browser half of server-side recognition: opening a
// session turns the page's microphone on, and the audio arrives on
// AudioFrames. A bridge.Endpoint satisfies it.
type Relay interface {
	capture.Recognizer
	AudioFrames() <-chan bridge.Frame
}

// Config controls the Deepgram connection.
type Config struct {
	APIKey      string
	APIBaseURL  string // default https://api.deepgram.com/v1
	Model       string // default nova-2
	SmartFormat bool

	// Encoding, SampleRate and Channels describe the relayed audio.
	Encoding   string // default linear16
	SampleRate int    // default 16000
	Channels   int    // default 1

	Logger *slog.Logger
}

// Recognizer opens Deepgram-backed recognition sessions.
type Recognizer struct {
	cfg   Config
	relay Relay
	log   *slog.Logger
}

// New builds a Recognizer over the given relay.
func New(cfg Config, relay Relay) (*Recognizer, error) {
	if relay == nil {
		return nil, ErrNoRelay
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.deepgram.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "linear16"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.L()
	}
	return &Recognizer{
		cfg:   cfg,
		relay: relay,
		log:   logger.With("component", "deepgram"),
	}, nil
}

// Open implements capture.Recognizer. The microphone is confirmed live
// before Deepgram is dialed, so permission failures surface exactly as
// they would with browser recognition.
func (r *Recognizer) Open(ctx context.Context, scfg capture.SessionConfig) (capture.Session, error) {
	if strings.TrimSpace(r.cfg.APIKey) == "" {
		return nil, ErrNoAPIKey
	}

	mic, err := r.relay.Open(ctx, scfg)
	if err != nil {
		return nil, err
	}

	wsURL, err := listenURL(r.cfg, scfg)
	if err != nil {
		mic.Abort()
		return nil, err
	}
	headers := http.Header{}
	headers.Set("Authorization", "Token "+r.cfg.APIKey)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		mic.Abort()
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	s := newStream(mic, conn, r.relay.AudioFrames(), r.log)
	r.log.Debug("streaming session opened", "model", r.cfg.Model, "language", scfg.Language)
	return s, nil
}

// listenURL builds the websocket URL for the streaming endpoint.
func listenURL(cfg Config, scfg capture.SessionConfig) (string, error) {
	base := strings.TrimSpace(cfg.APIBaseURL)
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	u, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("deepgram: invalid base url: %w", err)
	}
	q := u.Query()
	q.Set("model", cfg.Model)
	q.Set("encoding", cfg.Encoding)
	q.Set("sample_rate", fmt.Sprintf("%d", cfg.SampleRate))
	q.Set("channels", fmt.Sprintf("%d", cfg.Channels))
	q.Set("interim_results", fmt.Sprintf("%t", scfg.InterimResults))
	q.Set("smart_format", fmt.Sprintf("%t", cfg.SmartFormat))
	if scfg.Language != "" {
		q.Set("language", scfg.Language)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// recvItem is one queued delivery for the engine.
type recvItem struct {
	frag capture.Fragment
	err  error
}

// stream is one live Deepgram recognition run tied to one browser
// microphone session.
type stream struct {
	log    *slog.Logger
	mic    capture.Session
	conn   *websocket.Conn
	frames <-chan bridge.Frame

	queue  chan recvItem
	done   chan struct{}
	once   sync.Once
	endErr error

	writeMu    sync.Mutex
	sendClosed chan struct{}
	sendOnce   sync.Once
}

func newStream(mic capture.Session, conn *websocket.Conn, frames <-chan bridge.Frame, logger *slog.Logger) *stream {
	s := &stream{
		log:        logger,
		mic:        mic,
		conn:       conn,
		frames:     frames,
		queue:      make(chan recvItem, 64),
		done:       make(chan struct{}),
		sendClosed: make(chan struct{}),
	}
	// The relay channel is shared across sessions; whatever queued up
	// before this one started is not this session's audio.
	for {
		select {
		case <-frames:
			continue
		default:
		}
		break
	}
	go s.relayLoop()
	go s.readLoop()
	go s.micLoop()
	return s
}

// relayLoop forwards microphone frames to Deepgram and keeps the
// connection alive through silence.
func (s *stream) relayLoop() {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case f := <-s.frames:
			if len(f.Data) == 0 {
				continue
			}
			if err := s.write(websocket.BinaryMessage, f.Data); err != nil {
				s.end(fmt.Errorf("deepgram: audio write: %w", err))
				return
			}
		case <-ticker.C:
			if err := s.write(websocket.TextMessage, keepAliveMsg); err != nil {
				s.end(fmt.Errorf("deepgram: keepalive: %w", err))
				return
			}
		case <-s.sendClosed:
			return
		case <-s.done:
			return
		}
	}
}

// micLoop watches the browser microphone session. Relay pages send
// lifecycle only; the transcript comes from Deepgram.
func (s *stream) micLoop() {
	for {
		_, err := s.mic.Recv()
		if err == nil {
			s.log.Debug("ignoring browser recognition result in relay mode")
			continue
		}
		if errors.Is(err, iterator.Done) {
			// Microphone gone; flush what Deepgram still holds.
			s.closeSend()
			return
		}
		var ce *capture.Error
		if errors.As(err, &ce) {
			if ce.Benign() {
				continue
			}
			s.push(recvItem{err: ce})
			if ce.Fatal() {
				s.closeSend()
				return
			}
			continue
		}
		s.push(recvItem{err: err})
		s.closeSend()
		return
	}
}

// readLoop translates Deepgram messages into capture fragments.
func (s *stream) readLoop() {
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				s.end(iterator.Done)
			} else {
				s.end(fmt.Errorf("deepgram: read: %w", err))
			}
			return
		}

		var resp response
		if err := json.Unmarshal(payload, &resp); err != nil {
			continue
		}
		switch {
		case strings.EqualFold(resp.Type, "Error"):
			msg := strings.TrimSpace(resp.Message)
			if msg == "" {
				msg = "service reported an unspecified error"
			}
			s.push(recvItem{err: capture.NewError(capture.CodeNetwork, msg)})
		case strings.EqualFold(resp.Type, "Metadata"),
			strings.EqualFold(resp.Type, "SpeechStarted"),
			strings.EqualFold(resp.Type, "UtteranceEnd"):
			// Bookkeeping frames; nothing for the engine.
		default:
			text, conf := extractTranscript(resp)
			if text == "" {
				continue
			}
			s.push(recvItem{frag: capture.Fragment{
				Text:       text,
				Final:      resp.IsFinal || resp.SpeechFinal,
				Confidence: conf,
			}})
		}
	}
}

func (s *stream) write(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(messageType, data)
}

// closeSend tells Deepgram no more audio is coming. Pending results
// still flush before the service closes the stream.
func (s *stream) closeSend() {
	s.sendOnce.Do(func() {
		close(s.sendClosed)
		if err := s.write(websocket.TextMessage, closeStreamMsg); err != nil {
			s.log.Debug("close stream write failed", "error", err)
		}
	})
}

func (s *stream) push(it recvItem) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.queue <- it:
	default:
		s.log.Warn("transcript queue full, dropping item")
	}
}

// end terminates the stream and releases both halves. Items already
// queued still deliver first.
func (s *stream) end(err error) {
	s.once.Do(func() {
		s.endErr = err
		close(s.done)
		s.mic.Abort()
		s.conn.Close()
	})
}

// Recv implements capture.Session.
func (s *stream) Recv() (capture.Fragment, error) {
	select {
	case it := <-s.queue:
		return it.frag, it.err
	case <-s.done:
		select {
		case it := <-s.queue:
			return it.frag, it.err
		default:
		}
		return capture.Fragment{}, s.endErr
	}
}

// Stop implements capture.Session. The browser microphone winds down
// first; its ended report triggers the Deepgram flush.
func (s *stream) Stop() error {
	return s.mic.Stop()
}

// Abort implements capture.Session.
func (s *stream) Abort() error {
	s.end(iterator.Done)
	return nil
}

// response mirrors the streaming messages Deepgram sends. Results carry
// the transcript under channel.alternatives; some error shapes nest it
// under results.channels instead.
type response struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []alternative `json:"alternatives"`
	} `json:"channel"`

	Results struct {
		Channels []struct {
			Alternatives []alternative `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

type alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

func extractTranscript(resp response) (string, float64) {
	if len(resp.Channel.Alternatives) > 0 {
		alt := resp.Channel.Alternatives[0]
		if text := strings.TrimSpace(alt.Transcript); text != "" {
			return text, alt.Confidence
		}
	}
	if len(resp.Results.Channels) > 0 && len(resp.Results.Channels[0].Alternatives) > 0 {
		alt := resp.Results.Channels[0].Alternatives[0]
		return strings.TrimSpace(alt.Transcript), alt.Confidence
	}
	return "", 0
}

var _ capture.Recognizer = (*Recognizer)(nil)
var _ capture.Session = (*stream)(nil)

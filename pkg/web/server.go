// Package web serves the engine's HTTP and websocket surface: REST
// endpoints for status, transcript and control, one websocket for the
// browser session that does the actual listening and speaking, and one
// broadcast websocket for observers (dashboards, the docs UI).
package web

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-talkmode/internal/log"
	"github.com/teslashibe/go-talkmode/pkg/bridge"
	"github.com/teslashibe/go-talkmode/pkg/hub"
	"github.com/teslashibe/go-talkmode/pkg/playback"
	"github.com/teslashibe/go-talkmode/pkg/protocol"
	"github.com/teslashibe/go-talkmode/pkg/talk"
	"github.com/teslashibe/go-talkmode/pkg/transcript"
)

// Server is the engine's web front. It owns the fiber app and the
// observer hub; the engine, playback controller and browser endpoint
// are injected.
type Server struct {
	app  *fiber.App
	addr string
	log  *slog.Logger

	engine   *talk.Engine
	play     *playback.Controller
	endpoint *bridge.Endpoint
	events   *hub.Hub
}

// Config wires the server to the rest of the process.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// Engine is the conversation engine behind the API.
	Engine *talk.Engine

	// Playback answers the voices endpoint.
	Playback *playback.Controller

	// Endpoint serves the browser session socket.
	Endpoint *bridge.Endpoint

	// Events, when set, is the observer hub to broadcast through. The
	// server creates its own otherwise.
	Events *hub.Hub

	// Static is a directory of UI assets to serve at /. Empty skips it.
	Static string

	Logger *slog.Logger
}

// New builds the server and registers all routes.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.L()
	}
	events := cfg.Events
	if events == nil {
		events = hub.New("events")
	}
	s := &Server{
		addr:     cfg.Addr,
		log:      logger.With("component", "web"),
		engine:   cfg.Engine,
		play:     cfg.Playback,
		endpoint: cfg.Endpoint,
		events:   events,
	}

	app := fiber.New(fiber.Config{
		AppName:               "talkd",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	if cfg.Static != "" {
		app.Static("/", cfg.Static)
	}

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/transcript", s.handleTranscript)
	api.Post("/submit", s.handleSubmit)
	api.Post("/talk/start", s.handleTalkStart)
	api.Post("/talk/stop", s.handleTalkStop)
	api.Get("/voices", s.handleVoices)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(s.handleEventsWS))
	if s.endpoint != nil {
		app.Get("/ws/session", s.endpoint.Handler())
	}

	s.app = app
	return s
}

// Run serves until ctx is cancelled, then shuts the app down. The
// observer hub runs for the same lifetime.
func (s *Server) Run(ctx context.Context) error {
	go s.events.Run(ctx)

	errc := make(chan error, 1)
	go func() { errc <- s.app.Listen(s.addr) }()
	s.log.Info("listening", "addr", s.addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
			s.log.Warn("shutdown incomplete", "error", err)
		}
		<-errc
		return nil
	}
}

// Events returns the observer hub, for callers that broadcast directly.
func (s *Server) Events() *hub.Hub {
	return s.events
}

// PublishState pushes an engine state change to every observer.
func (s *Server) PublishState(st talk.Status) {
	msg, err := protocol.NewStateMessage(protocol.StateData{
		Mode:           st.Mode.String(),
		TalkModeActive: st.TalkMode,
		Listening:      st.Listening,
		Speaking:       st.Speaking,
		Interim:        st.Interim,
		Error:          st.Error,
	})
	if err != nil {
		return
	}
	s.broadcast(msg)
}

// PublishTurn pushes a new transcript turn to every observer.
func (s *Server) PublishTurn(t transcript.Turn) {
	msg, err := protocol.NewMessage(protocol.TypeTurn, t)
	if err != nil {
		return
	}
	s.broadcast(msg)
}

// PublishNotice pushes a user-facing notice to every observer.
func (s *Server) PublishNotice(n talk.Notice) {
	msg, err := protocol.NewNoticeMessage(string(n.Severity), n.Message)
	if err != nil {
		return
	}
	s.broadcast(msg)
}

func (s *Server) broadcast(msg *protocol.Message) {
	data, err := msg.Bytes()
	if err != nil {
		return
	}
	s.events.Broadcast(data)
}

package web

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-talkmode/pkg/hub"
	"github.com/teslashibe/go-talkmode/pkg/talk"
)

// statusResponse is the /api/status body: the engine view plus the
// session and observer plumbing around it.
type statusResponse struct {
	talk.Status
	BrowserAttached bool `json:"browserAttached"`
	Observers       int  `json:"observers"`
	Turns           int  `json:"turns"`
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	resp := statusResponse{
		Status:    s.engine.Status(),
		Observers: s.events.ClientCount(),
		Turns:     s.engine.Transcript().Len(),
	}
	if s.endpoint != nil {
		resp.BrowserAttached = s.endpoint.Attached()
	}
	return c.JSON(resp)
}

func (s *Server) handleTranscript(c *fiber.Ctx) error {
	journal := s.engine.Transcript()
	if lastParam := c.Query("last"); lastParam != "" {
		n, err := strconv.Atoi(lastParam)
		if err != nil || n < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "last must be a non-negative integer",
			})
		}
		return c.JSON(journal.Last(n))
	}
	return c.JSON(journal.Turns())
}

// submitRequest is the /api/submit body.
type submitRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSubmit(c *fiber.Ctx) error {
	var req submitRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "body must be JSON with a text field",
		})
	}
	if err := s.engine.Submit(c.Context(), req.Text); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(s.engine.Status())
}

func (s *Server) handleTalkStart(c *fiber.Ctx) error {
	if err := s.engine.StartTalk(c.Context()); err != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(s.engine.Status())
}

func (s *Server) handleTalkStop(c *fiber.Ctx) error {
	s.engine.StopTalk()
	return c.JSON(s.engine.Status())
}

func (s *Server) handleVoices(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	voices, err := s.play.Voices(ctx)
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(voices)
}

// handleEventsWS attaches one observer to the broadcast hub.
func (s *Server) handleEventsWS(conn *websocket.Conn) {
	hub.NewClient(s.events, conn).Run()
}

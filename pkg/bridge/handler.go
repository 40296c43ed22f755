package bridge

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// Handler returns a fiber websocket handler serving browser sessions on
// this endpoint. Mount it behind an upgrade check:
//
//	app.Get("/ws/session", endpoint.Handler())
func (e *Endpoint) Handler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		// Serve blocks for the life of the connection; the handler must
		// not return before it or fiber reclaims the connection.
		_ = e.Serve(conn)
	})
}

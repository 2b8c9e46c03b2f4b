// Package ws adapts the Connection Coordinator to gofiber/websocket/v2:
// the upgrade handshake, query-string parsing, and the thin adapter that
// satisfies application.Conn over a *websocket.Conn.
package ws

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"

	"github.com/blockroom/roomd/room/application"
)

// fiberConn adapts *websocket.Conn to application.Conn.
type fiberConn struct {
	*websocket.Conn
}

func (f fiberConn) ReadMessage() (int, []byte, error) {
	return f.Conn.ReadMessage()
}

func (f fiberConn) WriteMessage(messageType int, data []byte) error {
	return f.Conn.WriteMessage(messageType, data)
}

// RegisterRoutes mounts the upgrade guard and the /ws/workspace/:room_id
// endpoint on router.
func RegisterRoutes(router fiber.Router, coordinator *application.Coordinator) {
	router.Use("/ws/workspace/:room_id", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("nickname", c.Query("nickname"))
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	router.Get("/ws/workspace/:room_id", websocket.New(func(conn *websocket.Conn) {
		roomID := conn.Params("room_id")
		nickname, _ := conn.Locals("nickname").(string)

		defer conn.Close()

		if err := coordinator.Serve(context.Background(), fiberConn{conn}, roomID, nickname); err != nil {
			logrus.Debugf("[ws] session for room %s ended: %v", roomID, err)
		}
	}))
}

// Package http exposes the single REST surface: fetching (and lazily
// creating) a room's metadata.
package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/blockroom/roomd/pkg/apperr"
	"github.com/blockroom/roomd/room/domain"
)

type RoomHandler struct {
	rooms           domain.RoomRepository
	defaultMaxUsers int
}

func NewRoomHandler(rooms domain.RoomRepository, defaultMaxUsers int) *RoomHandler {
	return &RoomHandler{rooms: rooms, defaultMaxUsers: defaultMaxUsers}
}

func RegisterRoutes(router fiber.Router, handler *RoomHandler) {
	router.Get("/room/:room_id", handler.GetRoom)
}

// GetRoom returns a room's metadata, creating it with the configured
// default capacity on first access.
func (h *RoomHandler) GetRoom(c *fiber.Ctx) error {
	roomID := c.Params("room_id")
	if roomID == "" {
		panic(apperr.BadRequestError("room_id is required"))
	}

	room, err := h.rooms.GetOrCreate(c.Context(), roomID, h.defaultMaxUsers)
	if err != nil {
		panic(apperr.NotFoundError(err.Error()))
	}

	return c.JSON(room)
}

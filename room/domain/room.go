package domain

import (
	"context"
	"time"
)

// Room holds the metadata the coordinator needs in order to admit or
// reject a connecting client. Persistence, titles, and everything else
// about a room's lifecycle beyond max_users live in RoomRepository
// implementations; the coordinator only ever reads this shape back.
type Room struct {
	ID        string    `json:"room_id"`
	Title     string    `json:"title"`
	MaxUsers  int       `json:"max_users"`
	CreatedAt time.Time `json:"created"`
}

// RoomRepository is the external collaborator spec.md describes: a simple
// record store that lazily provisions a room on first reference and
// reports it back. The coordinator only calls Get, during the handshake;
// GetOrCreate is called by the HTTP room handler.
type RoomRepository interface {
	// GetOrCreate returns the room record for id, creating it with
	// defaultMaxUsers if it does not yet exist.
	GetOrCreate(ctx context.Context, id string, defaultMaxUsers int) (Room, error)
	// Get returns ErrRoomNotFound if the room has never been referenced.
	Get(ctx context.Context, id string) (Room, error)
}

package domain

import (
	"context"
	"time"
)

// PresenceTTL is the liveness window: an entry not refreshed within this
// window is pruned on the next count/list read.
const PresenceTTL = 30 * time.Second

// Presence is one online user as seen by the rest of a room.
type Presence struct {
	ClientID string    `json:"client_id"`
	Nickname string    `json:"nickname"`
	Color    string    `json:"color"`
	LastSeen time.Time `json:"last_seen"`
}

// PresenceRegistry tracks who is online in a room via heartbeat-driven
// liveness, pruning anyone who has gone quiet for longer than PresenceTTL.
type PresenceRegistry interface {
	// Add registers client as online in room with the given nickname/color.
	Add(ctx context.Context, room, client, nickname, color string) error

	// Touch refreshes client's last-seen timestamp in room.
	Touch(ctx context.Context, room, client string) error

	// Remove drops client from room's presence entirely.
	Remove(ctx context.Context, room, client string) error

	// Prune removes every entry in room whose last-seen is older than
	// PresenceTTL (or that failed to parse).
	Prune(ctx context.Context, room string) error

	// Count returns the number of online users in room after pruning.
	Count(ctx context.Context, room string) (int, error)

	// List returns every online user in room after pruning.
	List(ctx context.Context, room string) ([]Presence, error)
}

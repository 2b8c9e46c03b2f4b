package domain

import "time"

// Palette is the fixed 12-color palette a new session's color is chosen
// from uniformly at random.
var Palette = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#FFA07A",
	"#98D8C8", "#F7DC6F", "#BB8FCE", "#85C1E2",
	"#F8B739", "#52B788", "#E63946", "#457B9D",
}

// ClientSession is the ephemeral per-connection identity. It exists only
// for the lifetime of one WebSocket connection and is never persisted.
type ClientSession struct {
	ClientID string
	Nickname string
	Color    string
	RoomID   string
	LastSeen time.Time
}

package domain

import "context"

// SnapshotStore persists the single opaque workspace document string kept
// per room. It is read once per session for the initial state payload and
// overwritten whenever a commit carries a fresh document.
type SnapshotStore interface {
	// Get returns the stored snapshot and true, or ("", false) if the room
	// has never had one written.
	Get(ctx context.Context, room string) (xml string, ok bool, err error)
	// Set overwrites the room's snapshot. There is no versioning: the last
	// write wins.
	Set(ctx context.Context, room, xml string) error
}

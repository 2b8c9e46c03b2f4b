package domain

import (
	"context"
	"time"
)

// DefaultLockTTL is the TTL applied to a block lock unless the caller
// overrides it. It bounds zombie ownership after a pathological disconnect.
const DefaultLockTTL = 10 * time.Second

// LockManager acquires, releases, refreshes, and enumerates per-block
// locks, and keeps a reverse index of blocks-held-per-client so disconnect
// cleanup is O(number of locks held), not O(all locks in the room).
//
// Two Acquire surfaces are exposed on purpose: Acquire is the 2-tuple form
// the Connection Coordinator drives from handle_acquire, and AcquireGroup is
// the 3-tuple atomic form for a future multi-block drag-select flow. Both
// are backed by the same underlying primitives.
type LockManager interface {
	// Acquire attempts to grant block to client for ttl. If it is already
	// held by someone else, granted is false and owner names the current
	// holder (which may be empty if the lock expired mid-race).
	Acquire(ctx context.Context, room, block, client string, ttl time.Duration) (granted bool, owner string, err error)

	// AcquireGroup atomically acquires every block in blocks for client, or
	// grants none of them. conflictOwner/conflictBlock name the first
	// contended lock when granted is false. An empty blocks slice always
	// succeeds; a blank client always fails.
	AcquireGroup(ctx context.Context, room string, blocks []string, client string, ttl time.Duration) (granted bool, conflictOwner, conflictBlock string, err error)

	// Release deletes the lock and drops block from client's reverse index,
	// but only if client is the current owner. Returns whether it actually
	// released anything.
	Release(ctx context.Context, room, block, client string) (released bool, err error)

	// ReleaseGroup releases every block in blocks owned by client and
	// returns the subset that was actually released.
	ReleaseGroup(ctx context.Context, room string, blocks []string, client string) (released []string, err error)

	// ReleaseAll releases every lock client holds in room, used exclusively
	// at disconnect. Must not error on an empty reverse-index set.
	ReleaseAll(ctx context.Context, room, client string) (released []string, err error)

	// RefreshTTL extends a held lock's TTL if client is still the owner.
	RefreshTTL(ctx context.Context, room, block, client string, ttl time.Duration) (refreshed bool, err error)

	// RefreshAll extends the TTL of every lock client holds in room and
	// returns the count refreshed.
	RefreshAll(ctx context.Context, room, client string, ttl time.Duration) (count int, err error)

	// GetOwner returns the current owner of block, or "" if unheld.
	GetOwner(ctx context.Context, room, block string) (owner string, err error)

	// GetAllLocks returns a best-effort {block_id: owner} snapshot of every
	// held lock in room. Entries may expire mid-scan and are simply omitted;
	// a scan error yields an empty map rather than propagating.
	GetAllLocks(ctx context.Context, room string) (map[string]string, error)
}

package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockroom/roomd/infrastructure/valkey"
)

// newTestValkeyLockManager connects to a local Valkey/Redis instance and
// skips the test if none is reachable, mirroring the source's own
// t.Skip("No valkey") pattern for integration tests that need a live store.
func newTestValkeyLockManager(t *testing.T) *ValkeyLockManager {
	t.Helper()
	vk, err := valkey.NewClient(valkey.Config{Address: "localhost:6379", KeyPrefix: fmt.Sprintf("locktest-%d", time.Now().UnixNano())})
	if err != nil {
		t.Skip("No valkey")
	}
	t.Cleanup(vk.Close)
	return NewValkeyLockManager(vk)
}

func TestValkeyLockManager_AcquireIsExclusive(t *testing.T) {
	m := newTestValkeyLockManager(t)
	ctx := context.Background()

	granted, _, err := m.Acquire(ctx, "room1", "b1", "alice", time.Minute)
	require.NoError(t, err)
	assert.True(t, granted)

	granted, owner, err := m.Acquire(ctx, "room1", "b1", "bob", time.Minute)
	require.NoError(t, err)
	assert.False(t, granted)
	assert.Equal(t, "alice", owner)
}

func TestValkeyLockManager_AcquireGroupAllOrNothing(t *testing.T) {
	m := newTestValkeyLockManager(t)
	ctx := context.Background()

	_, _, err := m.Acquire(ctx, "room1", "b2", "bob", time.Minute)
	require.NoError(t, err)

	granted, conflictOwner, conflictBlock, err := m.AcquireGroup(ctx, "room1", []string{"b1", "b2", "b3"}, "alice", time.Minute)
	require.NoError(t, err)
	assert.False(t, granted)
	assert.Equal(t, "bob", conflictOwner)
	assert.Equal(t, "b2", conflictBlock)

	owner, err := m.GetOwner(ctx, "room1", "b1")
	require.NoError(t, err)
	assert.Empty(t, owner)
}

func TestValkeyLockManager_ReleaseAllDrainsReverseIndex(t *testing.T) {
	m := newTestValkeyLockManager(t)
	ctx := context.Background()

	granted, _, _, err := m.AcquireGroup(ctx, "room1", []string{"b1", "b2"}, "alice", time.Minute)
	require.NoError(t, err)
	require.True(t, granted)

	released, err := m.ReleaseAll(ctx, "room1", "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b1", "b2"}, released)

	all, err := m.GetAllLocks(ctx, "room1")
	require.NoError(t, err)
	assert.Empty(t, all)

	// A client with nothing held must not error.
	released, err = m.ReleaseAll(ctx, "room1", "ghost")
	require.NoError(t, err)
	assert.Empty(t, released)
}

func TestValkeyLockManager_RefreshRequiresOwnership(t *testing.T) {
	m := newTestValkeyLockManager(t)
	ctx := context.Background()
	_, _, err := m.Acquire(ctx, "room1", "b1", "alice", 50*time.Millisecond)
	require.NoError(t, err)

	refreshed, err := m.RefreshTTL(ctx, "room1", "b1", "bob", time.Minute)
	require.NoError(t, err)
	assert.False(t, refreshed)

	refreshed, err = m.RefreshTTL(ctx, "room1", "b1", "alice", time.Minute)
	require.NoError(t, err)
	assert.True(t, refreshed)
}

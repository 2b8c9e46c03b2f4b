package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLockManager_AcquireIsExclusive(t *testing.T) {
	m := NewMemoryLockManager()
	ctx := context.Background()

	granted, owner, err := m.Acquire(ctx, "room1", "b1", "alice", time.Minute)
	require.NoError(t, err)
	assert.True(t, granted)
	assert.Empty(t, owner)

	granted, owner, err = m.Acquire(ctx, "room1", "b1", "bob", time.Minute)
	require.NoError(t, err)
	assert.False(t, granted)
	assert.Equal(t, "alice", owner)

	// Re-acquiring by the existing owner is idempotent.
	granted, _, err = m.Acquire(ctx, "room1", "b1", "alice", time.Minute)
	require.NoError(t, err)
	assert.True(t, granted)
}

func TestMemoryLockManager_AcquireExpired(t *testing.T) {
	m := NewMemoryLockManager()
	ctx := context.Background()

	_, _, err := m.Acquire(ctx, "room1", "b1", "alice", time.Millisecond)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	granted, owner, err := m.Acquire(ctx, "room1", "b1", "bob", time.Minute)
	require.NoError(t, err)
	assert.True(t, granted)
	assert.Empty(t, owner)
}

func TestMemoryLockManager_ReleaseRequiresOwnership(t *testing.T) {
	m := NewMemoryLockManager()
	ctx := context.Background()
	_, _, err := m.Acquire(ctx, "room1", "b1", "alice", time.Minute)
	require.NoError(t, err)

	released, err := m.Release(ctx, "room1", "b1", "bob")
	require.NoError(t, err)
	assert.False(t, released)

	released, err = m.Release(ctx, "room1", "b1", "alice")
	require.NoError(t, err)
	assert.True(t, released)

	owner, err := m.GetOwner(ctx, "room1", "b1")
	require.NoError(t, err)
	assert.Empty(t, owner)
}

func TestMemoryLockManager_ReleaseAll(t *testing.T) {
	m := NewMemoryLockManager()
	ctx := context.Background()
	_, _, err := m.AcquireGroup(ctx, "room1", []string{"b1", "b2", "b3"}, "alice", time.Minute)
	require.NoError(t, err)

	released, err := m.ReleaseAll(ctx, "room1", "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b1", "b2", "b3"}, released)

	all, err := m.GetAllLocks(ctx, "room1")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestMemoryLockManager_AcquireGroupAllOrNothing(t *testing.T) {
	m := NewMemoryLockManager()
	ctx := context.Background()
	_, _, err := m.Acquire(ctx, "room1", "b2", "bob", time.Minute)
	require.NoError(t, err)

	granted, conflictOwner, conflictBlock, err := m.AcquireGroup(ctx, "room1", []string{"b1", "b2", "b3"}, "alice", time.Minute)
	require.NoError(t, err)
	assert.False(t, granted)
	assert.Equal(t, "bob", conflictOwner)
	assert.Equal(t, "b2", conflictBlock)

	// b1 must not have been granted to alice despite being checked first.
	owner, err := m.GetOwner(ctx, "room1", "b1")
	require.NoError(t, err)
	assert.Empty(t, owner)
}

func TestMemoryLockManager_RefreshRequiresOwnership(t *testing.T) {
	m := NewMemoryLockManager()
	ctx := context.Background()
	_, _, err := m.Acquire(ctx, "room1", "b1", "alice", time.Minute)
	require.NoError(t, err)

	refreshed, err := m.RefreshTTL(ctx, "room1", "b1", "bob", time.Minute)
	require.NoError(t, err)
	assert.False(t, refreshed)

	refreshed, err = m.RefreshTTL(ctx, "room1", "b1", "alice", time.Minute)
	require.NoError(t, err)
	assert.True(t, refreshed)
}

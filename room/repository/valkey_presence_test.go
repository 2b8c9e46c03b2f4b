package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockroom/roomd/infrastructure/valkey"
	"github.com/blockroom/roomd/room/domain"
)

func newTestValkeyPresenceRegistry(t *testing.T) *ValkeyPresenceRegistry {
	t.Helper()
	vk, err := valkey.NewClient(valkey.Config{Address: "localhost:6379", KeyPrefix: fmt.Sprintf("presencetest-%d", time.Now().UnixNano())})
	if err != nil {
		t.Skip("No valkey")
	}
	t.Cleanup(vk.Close)
	return NewValkeyPresenceRegistry(vk)
}

func TestValkeyPresenceRegistry_AddCountList(t *testing.T) {
	r := newTestValkeyPresenceRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Add(ctx, "room1", "alice", "Alice", "#fff"))
	require.NoError(t, r.Add(ctx, "room1", "bob", "Bob", "#000"))

	count, err := r.Count(ctx, "room1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	users, err := r.List(ctx, "room1")
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestValkeyPresenceRegistry_TouchUnknownClient(t *testing.T) {
	r := newTestValkeyPresenceRegistry(t)
	err := r.Touch(context.Background(), "room1", "ghost")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestValkeyPresenceRegistry_RemoveDropsFromRoster(t *testing.T) {
	r := newTestValkeyPresenceRegistry(t)
	ctx := context.Background()
	require.NoError(t, r.Add(ctx, "room1", "alice", "Alice", "#fff"))
	require.NoError(t, r.Remove(ctx, "room1", "alice"))

	count, err := r.Count(ctx, "room1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

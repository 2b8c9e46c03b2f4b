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

func newTestValkeySnapshotStore(t *testing.T) *ValkeySnapshotStore {
	t.Helper()
	vk, err := valkey.NewClient(valkey.Config{Address: "localhost:6379", KeyPrefix: fmt.Sprintf("snapshottest-%d", time.Now().UnixNano())})
	if err != nil {
		t.Skip("No valkey")
	}
	t.Cleanup(vk.Close)
	return NewValkeySnapshotStore(vk)
}

func TestValkeySnapshotStore_GetMissing(t *testing.T) {
	s := newTestValkeySnapshotStore(t)
	_, ok, err := s.Get(context.Background(), "room1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestValkeySnapshotStore_SetThenGet(t *testing.T) {
	s := newTestValkeySnapshotStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "room1", "<workspace/>"))
	xml, ok, err := s.Get(ctx, "room1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "<workspace/>", xml)

	require.NoError(t, s.Set(ctx, "room1", "<workspace><block/></workspace>"))
	xml, ok, err = s.Get(ctx, "room1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "<workspace><block/></workspace>", xml)
}

package repository

import (
	"context"
	"fmt"

	valkeylib "github.com/valkey-io/valkey-go"

	"github.com/blockroom/roomd/infrastructure/valkey"
)

// ValkeySnapshotStore stores the one opaque workspace document string per
// room under blocks:{room}, a plain string key with no TTL: the snapshot
// lives as long as the room does.
type ValkeySnapshotStore struct {
	client *valkey.Client
}

func NewValkeySnapshotStore(client *valkey.Client) *ValkeySnapshotStore {
	return &ValkeySnapshotStore{client: client}
}

func (s *ValkeySnapshotStore) key(room string) string {
	return s.client.Key("blocks", room)
}

func (s *ValkeySnapshotStore) Get(ctx context.Context, room string) (string, bool, error) {
	cmd := s.client.Inner().B().Get().Key(s.key(room)).Build()
	xml, err := s.client.Inner().Do(ctx, cmd).ToString()
	if err != nil {
		if valkeylib.IsValkeyNil(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("snapshot store: get %s: %w", room, err)
	}
	return xml, true, nil
}

func (s *ValkeySnapshotStore) Set(ctx context.Context, room, xml string) error {
	cmd := s.client.Inner().B().Set().Key(s.key(room)).Value(xml).Build()
	if err := s.client.Inner().Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("snapshot store: set %s: %w", room, err)
	}
	return nil
}

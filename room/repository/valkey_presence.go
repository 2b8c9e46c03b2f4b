package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/blockroom/roomd/infrastructure/valkey"
	"github.com/blockroom/roomd/room/domain"
)

func marshalPresence(e presenceEntry) (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("presence registry: marshal: %w", err)
	}
	return string(data), nil
}

func unmarshalPresence(raw string) (presenceEntry, error) {
	var e presenceEntry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return presenceEntry{}, fmt.Errorf("presence registry: unmarshal: %w", err)
	}
	return e, nil
}

// presenceEntry is the JSON shape stored as one hash field's value under
// online:{room_id}. Unlike the source's one-string-key-per-channel layout,
// a room's whole roster lives in a single hash so Count/List are one HGETALL.
type presenceEntry struct {
	Nickname string    `json:"nickname"`
	Color    string    `json:"color"`
	LastSeen time.Time `json:"last_seen"`
}

// ValkeyPresenceRegistry implements domain.PresenceRegistry on a hash per
// room, adapted from the source's per-channel presence store to a
// hset/hgetall/hlen shape.
type ValkeyPresenceRegistry struct {
	client *valkey.Client
}

func NewValkeyPresenceRegistry(client *valkey.Client) *ValkeyPresenceRegistry {
	return &ValkeyPresenceRegistry{client: client}
}

func (r *ValkeyPresenceRegistry) key(room string) string {
	return r.client.Key("online", room)
}

func (r *ValkeyPresenceRegistry) Add(ctx context.Context, room, client, nickname, color string) error {
	entry := presenceEntry{Nickname: nickname, Color: color, LastSeen: time.Now().UTC()}
	data, err := marshalPresence(entry)
	if err != nil {
		return err
	}
	cmd := r.client.Inner().B().Hset().Key(r.key(room)).FieldValue().FieldValue(client, data).Build()
	if err := r.client.Inner().Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("presence registry: add %s/%s: %w", room, client, err)
	}
	return nil
}

func (r *ValkeyPresenceRegistry) Touch(ctx context.Context, room, client string) error {
	getCmd := r.client.Inner().B().Hget().Key(r.key(room)).Field(client).Build()
	raw, err := r.client.Inner().Do(ctx, getCmd).ToString()
	if err != nil {
		if valkey.IsNil(err) {
			return domain.ErrRoomNotFound
		}
		return fmt.Errorf("presence registry: touch read %s/%s: %w", room, client, err)
	}

	entry, err := unmarshalPresence(raw)
	if err != nil {
		return err
	}
	entry.LastSeen = time.Now().UTC()
	data, err := marshalPresence(entry)
	if err != nil {
		return err
	}

	setCmd := r.client.Inner().B().Hset().Key(r.key(room)).FieldValue().FieldValue(client, data).Build()
	if err := r.client.Inner().Do(ctx, setCmd).Error(); err != nil {
		return fmt.Errorf("presence registry: touch write %s/%s: %w", room, client, err)
	}
	return nil
}

func (r *ValkeyPresenceRegistry) Remove(ctx context.Context, room, client string) error {
	cmd := r.client.Inner().B().Hdel().Key(r.key(room)).Field(client).Build()
	if err := r.client.Inner().Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("presence registry: remove %s/%s: %w", room, client, err)
	}
	return nil
}

// Prune walks every field in the room's hash and evicts stale entries. It
// has to read the whole hash regardless, so callers fold it into Count/List.
func (r *ValkeyPresenceRegistry) Prune(ctx context.Context, room string) error {
	all, err := r.rawAll(ctx, room)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for client, raw := range all {
		entry, err := unmarshalPresence(raw)
		if err != nil || now.Sub(entry.LastSeen) > domain.PresenceTTL {
			delCmd := r.client.Inner().B().Hdel().Key(r.key(room)).Field(client).Build()
			r.client.Inner().Do(ctx, delCmd) //nolint:errcheck // best-effort eviction
		}
	}
	return nil
}

func (r *ValkeyPresenceRegistry) Count(ctx context.Context, room string) (int, error) {
	if err := r.Prune(ctx, room); err != nil {
		return 0, err
	}
	cmd := r.client.Inner().B().Hlen().Key(r.key(room)).Build()
	n, err := r.client.Inner().Do(ctx, cmd).ToInt64()
	if err != nil {
		return 0, fmt.Errorf("presence registry: count %s: %w", room, err)
	}
	return int(n), nil
}

func (r *ValkeyPresenceRegistry) List(ctx context.Context, room string) ([]domain.Presence, error) {
	if err := r.Prune(ctx, room); err != nil {
		return nil, err
	}
	all, err := r.rawAll(ctx, room)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Presence, 0, len(all))
	for client, raw := range all {
		entry, err := unmarshalPresence(raw)
		if err != nil {
			continue
		}
		out = append(out, domain.Presence{
			ClientID: client,
			Nickname: entry.Nickname,
			Color:    entry.Color,
			LastSeen: entry.LastSeen,
		})
	}
	return out, nil
}

func (r *ValkeyPresenceRegistry) rawAll(ctx context.Context, room string) (map[string]string, error) {
	cmd := r.client.Inner().B().Hgetall().Key(r.key(room)).Build()
	all, err := r.client.Inner().Do(ctx, cmd).AsStrMap()
	if err != nil {
		return nil, fmt.Errorf("presence registry: list %s: %w", room, err)
	}
	return all, nil
}

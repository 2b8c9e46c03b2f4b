package repository

import (
	"context"
	"sync"
	"time"

	"github.com/blockroom/roomd/room/domain"
)

// MemoryPresenceRegistry implements domain.PresenceRegistry in memory. Used
// by coordinator unit tests so they don't need a live store.
type MemoryPresenceRegistry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]domain.Presence
}

func NewMemoryPresenceRegistry() *MemoryPresenceRegistry {
	return &MemoryPresenceRegistry{rooms: make(map[string]map[string]domain.Presence)}
}

func (m *MemoryPresenceRegistry) Add(ctx context.Context, room, client, nickname, color string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rooms[room] == nil {
		m.rooms[room] = make(map[string]domain.Presence)
	}
	m.rooms[room][client] = domain.Presence{
		ClientID: client,
		Nickname: nickname,
		Color:    color,
		LastSeen: time.Now().UTC(),
	}
	return nil
}

func (m *MemoryPresenceRegistry) Touch(ctx context.Context, room, client string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries, ok := m.rooms[room]
	if !ok {
		return domain.ErrRoomNotFound
	}
	p, ok := entries[client]
	if !ok {
		return domain.ErrRoomNotFound
	}
	p.LastSeen = time.Now().UTC()
	entries[client] = p
	return nil
}

func (m *MemoryPresenceRegistry) Remove(ctx context.Context, room, client string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms[room], client)
	return nil
}

func (m *MemoryPresenceRegistry) Prune(ctx context.Context, room string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.rooms[room]
	now := time.Now().UTC()
	for client, p := range entries {
		if now.Sub(p.LastSeen) > domain.PresenceTTL {
			delete(entries, client)
		}
	}
	return nil
}

func (m *MemoryPresenceRegistry) Count(ctx context.Context, room string) (int, error) {
	if err := m.Prune(ctx, room); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms[room]), nil
}

func (m *MemoryPresenceRegistry) List(ctx context.Context, room string) ([]domain.Presence, error) {
	if err := m.Prune(ctx, room); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Presence, 0, len(m.rooms[room]))
	for _, p := range m.rooms[room] {
		out = append(out, p)
	}
	return out, nil
}

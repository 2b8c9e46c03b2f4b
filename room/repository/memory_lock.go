package repository

import (
	"context"
	"sync"
	"time"
)

type memoryLockEntry struct {
	owner   string
	expires time.Time
}

// MemoryLockManager implements domain.LockManager in memory, mirroring the
// Valkey implementation's semantics without a network round trip. Used by
// coordinator unit tests.
type MemoryLockManager struct {
	mu    sync.Mutex
	locks map[string]map[string]memoryLockEntry // room -> block -> entry
}

func NewMemoryLockManager() *MemoryLockManager {
	return &MemoryLockManager{locks: make(map[string]map[string]memoryLockEntry)}
}

func (m *MemoryLockManager) reverseIndex(room, client string) []string {
	var blocks []string
	for block, entry := range m.locks[room] {
		if entry.owner == client && !m.expired(entry) {
			blocks = append(blocks, block)
		}
	}
	return blocks
}

func (m *MemoryLockManager) expired(e memoryLockEntry) bool {
	return time.Now().After(e.expires)
}

func (m *MemoryLockManager) ownerLocked(room, block string) (string, bool) {
	entry, ok := m.locks[room][block]
	if !ok || m.expired(entry) {
		return "", false
	}
	return entry.owner, true
}

func (m *MemoryLockManager) Acquire(ctx context.Context, room, block, client string, ttl time.Duration) (bool, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if owner, held := m.ownerLocked(room, block); held && owner != client {
		return false, owner, nil
	}
	if m.locks[room] == nil {
		m.locks[room] = make(map[string]memoryLockEntry)
	}
	m.locks[room][block] = memoryLockEntry{owner: client, expires: time.Now().Add(ttl)}
	return true, "", nil
}

func (m *MemoryLockManager) AcquireGroup(ctx context.Context, room string, blocks []string, client string, ttl time.Duration) (bool, string, string, error) {
	if client == "" {
		return false, "", "", nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, block := range blocks {
		if owner, held := m.ownerLocked(room, block); held && owner != client {
			return false, owner, block, nil
		}
	}
	if m.locks[room] == nil {
		m.locks[room] = make(map[string]memoryLockEntry)
	}
	expires := time.Now().Add(ttl)
	for _, block := range blocks {
		m.locks[room][block] = memoryLockEntry{owner: client, expires: expires}
	}
	return true, "", "", nil
}

func (m *MemoryLockManager) Release(ctx context.Context, room, block, client string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner, held := m.ownerLocked(room, block)
	if !held || owner != client {
		return false, nil
	}
	delete(m.locks[room], block)
	return true, nil
}

func (m *MemoryLockManager) ReleaseGroup(ctx context.Context, room string, blocks []string, client string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var released []string
	for _, block := range blocks {
		if owner, held := m.ownerLocked(room, block); held && owner == client {
			delete(m.locks[room], block)
			released = append(released, block)
		}
	}
	return released, nil
}

func (m *MemoryLockManager) ReleaseAll(ctx context.Context, room, client string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var released []string
	for block, entry := range m.locks[room] {
		if entry.owner == client {
			delete(m.locks[room], block)
			if !m.expired(entry) {
				released = append(released, block)
			}
		}
	}
	return released, nil
}

func (m *MemoryLockManager) RefreshTTL(ctx context.Context, room, block, client string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner, held := m.ownerLocked(room, block)
	if !held || owner != client {
		return false, nil
	}
	entry := m.locks[room][block]
	entry.expires = time.Now().Add(ttl)
	m.locks[room][block] = entry
	return true, nil
}

func (m *MemoryLockManager) RefreshAll(ctx context.Context, room, client string, ttl time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	expires := time.Now().Add(ttl)
	for block, entry := range m.locks[room] {
		if entry.owner == client && !m.expired(entry) {
			entry.expires = expires
			m.locks[room][block] = entry
			count++
		}
	}
	return count, nil
}

func (m *MemoryLockManager) GetOwner(ctx context.Context, room, block string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner, _ := m.ownerLocked(room, block)
	return owner, nil
}

func (m *MemoryLockManager) GetAllLocks(ctx context.Context, room string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for block, entry := range m.locks[room] {
		if !m.expired(entry) {
			out[block] = entry.owner
		}
	}
	return out, nil
}

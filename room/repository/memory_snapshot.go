package repository

import (
	"context"
	"sync"
)

// MemorySnapshotStore implements domain.SnapshotStore in memory, used by
// coordinator unit tests and as the single-process fallback when the store
// URL is empty or the store cannot be reached at startup.
type MemorySnapshotStore struct {
	mu        sync.Mutex
	snapshots map[string]string
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snapshots: make(map[string]string)}
}

func (s *MemorySnapshotStore) Get(ctx context.Context, room string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	xml, ok := s.snapshots[room]
	return xml, ok, nil
}

func (s *MemorySnapshotStore) Set(ctx context.Context, room, xml string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[room] = xml
	return nil
}

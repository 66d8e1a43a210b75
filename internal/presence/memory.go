package presence

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps presence in process. It is what single-instance and
// test deployments use.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[int64]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[int64]Entry)}
}

func (s *MemoryStore) MarkOnline(_ context.Context, userID int64, at time.Time) error {
	s.set(userID, true, at)
	return nil
}

func (s *MemoryStore) MarkOffline(_ context.Context, userID int64, at time.Time) error {
	s.set(userID, false, at)
	return nil
}

func (s *MemoryStore) set(userID int64, online bool, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[userID]
	if !ok {
		e = Entry{UserID: userID}
	}
	if next, applied := apply(e, online, at); applied {
		s.entries[userID] = next
	}
}

func (s *MemoryStore) Get(_ context.Context, userID int64) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[userID]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

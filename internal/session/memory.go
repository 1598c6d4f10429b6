package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process memory. Idle sessions are reaped by
// PurgeIdle, driven by the janitor job.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (m *MemoryStore) Get(_ context.Context, userID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[userID]
	if !ok {
		return nil, nil
	}
	cp := *sess
	return &cp, nil
}

func (m *MemoryStore) Put(_ context.Context, sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sess
	m.sessions[sess.UserID] = &cp
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
	return nil
}

func (m *MemoryStore) PurgeIdle(_ context.Context, maxIdle time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxIdle)
	m.mu.Lock()
	defer m.mu.Unlock()
	purged := 0
	for userID, sess := range m.sessions {
		if sess.UpdatedAt.Before(cutoff) {
			delete(m.sessions, userID)
			purged++
		}
	}
	return purged, nil
}

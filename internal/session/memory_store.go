package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryEntry struct {
	sess      Session
	expiresAt time.Time
}

type memoryStore struct {
	mu       sync.RWMutex
	now      func() time.Time
	sessions map[string]memoryEntry
}

// NewMemoryStore builds an in-process store for development and tests.
func NewMemoryStore() Store {
	return &memoryStore{now: time.Now, sessions: make(map[string]memoryEntry)}
}

func (m *memoryStore) Create(_ context.Context, sess Session, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[sess.ID]; ok && m.now().Before(e.expiresAt) {
		return fmt.Errorf("session %s already exists", sess.ID)
	}
	m.sessions[sess.ID] = memoryEntry{sess: sess, expiresAt: m.now().Add(ttl)}
	return nil
}

func (m *memoryStore) Get(_ context.Context, id string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[id]
	if !ok || !m.now().Before(e.expiresAt) {
		return Session{}, ErrNotFound
	}
	return e.sess, nil
}

func (m *memoryStore) MarkVerified(_ context.Context, id, factor string) error {
	return m.update(id, func(sess *Session) {
		sess.Verified = true
		sess.VerifiedFactor = factor
	})
}

func (m *memoryStore) SetSMSPhone(_ context.Context, id, phone string) error {
	return m.update(id, func(sess *Session) {
		sess.SMSPhone = phone
	})
}

func (m *memoryStore) update(id string, fn func(*Session)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok || !m.now().Before(e.expiresAt) {
		return ErrNotFound
	}
	fn(&e.sess)
	m.sessions[id] = e
	return nil
}

func (m *memoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return nil
}

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/guiIerme/JobFinder-sub002/internal/model/chat"
)

// MemoryStore is the map-backed Store used by tests and local development
// without a database.
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]chat.Session
	messages  map[string][]chat.Message
	analytics map[string]chat.AnalyticsRecord
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:  make(map[string]chat.Session),
		messages:  make(map[string][]chat.Message),
		analytics: make(map[string]chat.AnalyticsRecord),
	}
}

// CreateSession implements Store.
func (s *MemoryStore) CreateSession(_ context.Context, session *chat.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = *session
	return nil
}

// GetSession implements Store.
func (s *MemoryStore) GetSession(_ context.Context, id string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return chat.Session{}, ErrNotFound
	}
	return session, nil
}

// FindActiveSession implements Store.
func (s *MemoryStore) FindActiveSession(_ context.Context, identity string, since time.Time) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var newest chat.Session
	found := false
	for _, session := range s.sessions {
		if session.Identity != identity || !session.Active || session.LastActive.Before(since) {
			continue
		}
		if !found || session.LastActive.After(newest.LastActive) {
			newest = session
			found = true
		}
	}
	if !found {
		return chat.Session{}, ErrNotFound
	}
	return newest, nil
}

// UpdateSession implements Store. Like the relational store it leaves the
// escalated flag alone; only MarkEscalated moves it.
func (s *MemoryStore) UpdateSession(_ context.Context, session chat.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.sessions[session.ID]
	if !ok {
		return ErrNotFound
	}
	session.Escalated = existing.Escalated
	s.sessions[session.ID] = session
	return nil
}

// MarkEscalated implements Store. The flag moves under the write lock, so
// racing callers serialize and exactly one observes the transition.
func (s *MemoryStore) MarkEscalated(_ context.Context, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return false, ErrNotFound
	}
	if session.Escalated {
		return false, nil
	}
	session.Escalated = true
	s.sessions[sessionID] = session
	return true, nil
}

// CreateMessage implements Store.
func (s *MemoryStore) CreateMessage(_ context.Context, message *chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[message.SessionID]; !ok {
		return ErrNotFound
	}
	s.messages[message.SessionID] = append(s.messages[message.SessionID], *message)
	return nil
}

// ListMessages implements Store.
func (s *MemoryStore) ListMessages(_ context.Context, sessionID string, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.messages[sessionID]
	copied := make([]chat.Message, len(stored))
	copy(copied, stored)
	sort.SliceStable(copied, func(i, j int) bool {
		return copied[i].CreatedAt.Before(copied[j].CreatedAt)
	})

	if len(copied) > limit {
		copied = copied[len(copied)-limit:]
	}
	return copied, nil
}

// UpsertAnalytics implements Store.
func (s *MemoryStore) UpsertAnalytics(_ context.Context, record chat.AnalyticsRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.analytics[record.SessionID]
	now := time.Now().UTC()
	if ok {
		record.CreatedAt = existing.CreatedAt
	} else {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	s.analytics[record.SessionID] = record
	return nil
}

// Analytics returns the stored record for a session, used by tests and the
// degraded-mode dashboard reads.
func (s *MemoryStore) Analytics(sessionID string) (chat.AnalyticsRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.analytics[sessionID]
	return record, ok
}

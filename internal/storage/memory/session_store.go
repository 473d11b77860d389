package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
)

// SessionStore keeps parsing sessions in a map.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]catalog.ParsingSession
}

// NewSessionStore constructs a SessionStore.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]catalog.ParsingSession)}
}

// PutSession inserts or replaces a session.
func (s *SessionStore) PutSession(_ context.Context, session catalog.ParsingSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = cloneSession(session)
	return nil
}

// GetSession fetches a session by ID.
func (s *SessionStore) GetSession(_ context.Context, id string) (catalog.ParsingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return catalog.ParsingSession{}, &catalog.StorageError{Kind: catalog.StorageNotFound, Path: "session/" + id}
	}
	return cloneSession(session), nil
}

// ListSessions returns matching sessions, newest first.
func (s *SessionStore) ListSessions(_ context.Context, filter catalog.SessionFilter) ([]catalog.ParsingSession, error) {
	s.mu.RLock()
	out := make([]catalog.ParsingSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		if filter.Matches(session) {
			out = append(out, cloneSession(session))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedDate.Equal(out[j].CreatedDate) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedDate.After(out[j].CreatedDate)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func cloneSession(in catalog.ParsingSession) catalog.ParsingSession {
	if in.ProcessedDate != nil {
		ts := *in.ProcessedDate
		in.ProcessedDate = &ts
	}
	return in
}

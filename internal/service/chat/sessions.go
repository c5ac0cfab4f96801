package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/shopmate/backend/internal/model/chat"
)

const defaultSessionTitle = "New chat"

// LocalSessions is an in-memory session directory, used when the assistant runs without a
// backend that tracks sessions.
type LocalSessions struct {
	mu       sync.RWMutex
	sessions map[string]chat.Session
}

func NewLocalSessions() *LocalSessions {
	return &LocalSessions{sessions: make(map[string]chat.Session)}
}

// CreateSession provisions an anonymous session.
func (s *LocalSessions) CreateSession(_ context.Context) (chat.Session, error) {
	session := chat.Session{
		ID:        uuid.NewString(),
		Title:     defaultSessionTitle,
		Timestamp: time.Now().UTC(),
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	return session, nil
}

// ListSessions returns the sessions newest first.
func (s *LocalSessions) ListSessions(_ context.Context) ([]chat.Session, error) {
	s.mu.RLock()
	out := make([]chat.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// History always starts local sessions empty. Unknown ids are rejected.
func (s *LocalSessions) History(_ context.Context, sessionID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return nil, ErrSessionNotFound
	}
	return nil, nil
}

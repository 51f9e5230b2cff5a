package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type session struct {
	id        string
	createdAt time.Time
}

// sessionStore tracks open SSE sessions. A session exists while its SSE
// stream is connected; the message endpoint rejects ids it does not know.
type sessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]*session)}
}

func (s *sessionStore) open() *session {
	sess := &session{
		id:        uuid.NewString(),
		createdAt: time.Now().UTC(),
	}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	return sess
}

func (s *sessionStore) close(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

func (s *sessionStore) get(id string) (*session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

func (s *sessionStore) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

package session

import (
	"context"
	"sync"
)

// Store persists sessions. Update is conditional on Version and increments
// it, so concurrent writers cannot silently clobber each other.
type Store interface {
	Insert(ctx context.Context, s *UserSession) error
	Find(ctx context.Context, id string) (*UserSession, error)
	FindByToken(ctx context.Context, token string) (*UserSession, error)
	Update(ctx context.Context, s *UserSession) error
	ListBySubject(ctx context.Context, subjectID string) ([]*UserSession, error)
}

// InMemory implements Store with mutex-guarded maps.
type InMemory struct {
	mu       sync.RWMutex
	sessions map[string]*UserSession
	byToken  map[string]string
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty session store.
func NewInMemory() *InMemory {
	return &InMemory{
		sessions: make(map[string]*UserSession),
		byToken:  make(map[string]string),
	}
}

func (s *InMemory) Insert(ctx context.Context, sess *UserSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return ErrInvalidState
	}
	if _, ok := s.byToken[sess.SessionToken]; ok {
		return ErrInvalidState
	}
	cp := *sess
	cp.Version = 1
	s.sessions[cp.ID] = &cp
	s.byToken[cp.SessionToken] = cp.ID
	sess.Version = cp.Version
	return nil
}

func (s *InMemory) Find(ctx context.Context, id string) (*UserSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *InMemory) FindByToken(ctx context.Context, token string) (*UserSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byToken[token]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.sessions[id]
	return &cp, nil
}

func (s *InMemory) Update(ctx context.Context, sess *UserSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.sessions[sess.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != sess.Version {
		return ErrInvalidState
	}
	cp := *sess
	cp.Version++
	s.sessions[cp.ID] = &cp
	sess.Version = cp.Version
	return nil
}

func (s *InMemory) ListBySubject(ctx context.Context, subjectID string) ([]*UserSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*UserSession
	for _, sess := range s.sessions {
		if sess.SubjectID == subjectID {
			cp := *sess
			out = append(out, &cp)
		}
	}
	return out, nil
}

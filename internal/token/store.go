package token

import (
	"context"
	"sync"
)

// Store describes persistence for the token ledger. Update must be
// conditional: it succeeds only when the stored Version equals the Version of
// the passed aggregate, then increments it. A mismatch is reported as
// ErrInvalidState so that the losing side of a concurrent rotation sees a
// business rejection, not a silent overwrite.
type Store interface {
	Insert(ctx context.Context, t *RefreshToken) error
	Find(ctx context.Context, id string) (*RefreshToken, error)
	FindByHash(ctx context.Context, hash string) (*RefreshToken, error)
	Update(ctx context.Context, t *RefreshToken) error
	ListBySubject(ctx context.Context, subjectID string) ([]*RefreshToken, error)
}

// InMemory implements Store with an arena keyed by token ID.
type InMemory struct {
	mu     sync.RWMutex
	tokens map[string]*RefreshToken
	byHash map[string]string // token hash -> id
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty ledger store.
func NewInMemory() *InMemory {
	return &InMemory{
		tokens: make(map[string]*RefreshToken),
		byHash: make(map[string]string),
	}
}

func (s *InMemory) Insert(ctx context.Context, t *RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[t.ID]; ok {
		return ErrInvalidState
	}
	if _, ok := s.byHash[t.TokenHash]; ok {
		return ErrInvalidState
	}
	cp := *t
	cp.Version = 1
	s.tokens[cp.ID] = &cp
	s.byHash[cp.TokenHash] = cp.ID
	t.Version = cp.Version
	return nil
}

func (s *InMemory) Find(ctx context.Context, id string) (*RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *InMemory) FindByHash(ctx context.Context, hash string) (*RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHash[hash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.tokens[id]
	return &cp, nil
}

func (s *InMemory) Update(ctx context.Context, t *RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tokens[t.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != t.Version {
		return ErrInvalidState
	}
	cp := *t
	cp.Version++
	s.tokens[cp.ID] = &cp
	t.Version = cp.Version
	return nil
}

func (s *InMemory) ListBySubject(ctx context.Context, subjectID string) ([]*RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*RefreshToken
	for _, t := range s.tokens {
		if t.SubjectID == subjectID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

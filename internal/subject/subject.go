// Package subject holds the credential records the HTTP login glue resolves
// before calling the engine: the stored password hash and, when the subject
// enrolled, the TOTP secret. The engine itself never reads this directory.
package subject

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var (
	ErrInvalidInput = errors.New("subject: invalid input")
	ErrInvalidState = errors.New("subject: invalid state")
	ErrNotFound     = errors.New("subject: not found")
)

// Record is a subject's credential material. An empty TOTPSecret means no
// step-up is required for the subject.
type Record struct {
	ID           string
	PasswordHash string
	TOTPSecret   string
	CreatedAt    time.Time
}

// Directory looks up and registers credential records.
type Directory interface {
	Find(ctx context.Context, id string) (*Record, error)
	Insert(ctx context.Context, rec *Record) error
}

// InMemory is a mutex-guarded Directory for tests and DSN-less runs.
type InMemory struct {
	mu      sync.RWMutex
	records map[string]*Record
}

func NewInMemory() *InMemory {
	return &InMemory{records: make(map[string]*Record)}
}

func (d *InMemory) Find(ctx context.Context, id string) (*Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (d *InMemory) Insert(ctx context.Context, rec *Record) error {
	if strings.TrimSpace(rec.ID) == "" {
		return fmt.Errorf("%w: subject id is required", ErrInvalidInput)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.records[rec.ID]; ok {
		return fmt.Errorf("%w: subject already registered", ErrInvalidState)
	}
	cp := *rec
	d.records[rec.ID] = &cp
	return nil
}

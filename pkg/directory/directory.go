// Package directory looks up account owners.
package directory

import (
	"context"
	"errors"
	"sync"
)

// ErrOwnerNotFound is returned when no owner has the requested ID
var ErrOwnerNotFound = errors.New("directory: owner not found")

// Owner is the read-only view of a customer
type Owner struct {
	ID   int64
	Name string
}

// Directory resolves owners by ID
type Directory interface {
	FindByID(ctx context.Context, id int64) (*Owner, error)
}

// Static is a fixed in-memory directory
type Static struct {
	mu     sync.RWMutex
	owners map[int64]Owner
}

// NewStatic creates a directory containing owners
func NewStatic(owners ...Owner) *Static {
	s := &Static{owners: make(map[int64]Owner, len(owners))}
	for _, o := range owners {
		s.owners[o.ID] = o
	}
	return s
}

// Put adds or replaces an owner
func (s *Static) Put(o Owner) {
	s.mu.Lock()
	s.owners[o.ID] = o
	s.mu.Unlock()
}

// FindByID implements Directory
func (s *Static) FindByID(ctx context.Context, id int64) (*Owner, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.owners[id]
	if !ok {
		return nil, ErrOwnerNotFound
	}
	return &o, nil
}

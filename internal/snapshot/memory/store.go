// Package memory provides a process-local snapshot.Store, used by tests
// and ephemeral hosts that don't need snapshots to survive a restart.
package memory

import (
	"context"
	"sync"

	"hometopology/internal/snapshot"
)

// Store is an in-memory snapshot.Store.
type Store struct {
	mu   sync.Mutex
	data map[string][]byte
}

var _ snapshot.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

// Put stores a copy of data under id, overwriting any existing snapshot.
func (s *Store) Put(ctx context.Context, id string, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[id] = cp
	return nil
}

// Get returns a copy of the snapshot stored under id, or snapshot.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.data[id]
	if !ok {
		return nil, snapshot.ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// Package memory provides an in-memory config.Store implementation.
// Intended for tests and ephemeral hosts; configuration does not survive
// process restart.
package memory

import (
	"context"
	"encoding/json"
	"sync"

	"hometopology/internal/config"
)

// Store is an in-memory config.Store implementation.
type Store struct {
	mu  sync.RWMutex
	cfg *config.Config
}

var _ config.Store = (*Store)(nil)

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{}
}

// Load returns a deep copy of the last-saved Config, or nil if none was
// ever saved.
func (s *Store) Load(ctx context.Context) (*config.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg == nil {
		return nil, nil
	}
	return deepCopy(s.cfg)
}

// Save replaces the stored Config with a deep copy of cfg.
func (s *Store) Save(ctx context.Context, cfg *config.Config) error {
	cp, err := deepCopy(cfg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cp
	return nil
}

// deepCopy round-trips through JSON: simplest way to guarantee the store
// never aliases a caller's slices/maps, including the opaque per-module
// config blobs inside LocationRecord.Modules.
func deepCopy(cfg *config.Config) (*config.Config, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var cp config.Config
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

// Package file provides a file-based config.Store implementation.
//
// Configuration is persisted as a single versioned JSON envelope:
//
//	{"version": 1, "config": { ... }}
//
// Every Save rewrites the whole file atomically via temp-file + rename,
// with round-trip validation before the rename — the nature of a
// single-file JSON store is that every mutation is a full flush.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"hometopology/internal/config"
)

const currentVersion = config.CurrentSchemaVersion

// envelope is the versioned on-disk format.
type envelope struct {
	Version int            `json:"version"`
	Config  *config.Config `json:"config"`
}

// Store is a file-based config.Store implementation.
type Store struct {
	path string
}

var _ config.Store = (*Store)(nil)

// NewStore returns a Store persisting to path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the full configuration from disk. Returns nil if the file
// does not exist.
func (s *Store) Load(ctx context.Context) (*config.Config, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if env.Version == 0 {
		return nil, fmt.Errorf("unversioned config file detected; delete %s and restart to bootstrap a fresh config", s.path)
	}
	if env.Version > currentVersion {
		return nil, fmt.Errorf("%w: file version %d is newer than supported version %d",
			config.ErrSchemaVersionMismatch, env.Version, currentVersion)
	}
	if env.Version < currentVersion {
		migrated, err := migrateEnvelope(data, env.Version)
		if err != nil {
			return nil, fmt.Errorf("migrate config: %w", err)
		}
		if err := json.Unmarshal(migrated, &env); err != nil {
			return nil, fmt.Errorf("parse migrated config: %w", err)
		}
		if err := s.flushRaw(migrated); err != nil {
			return nil, fmt.Errorf("persist migrated config: %w", err)
		}
	}

	return env.Config, nil
}

// Save atomically writes cfg to disk, validating the write by reading it
// back before committing.
func (s *Store) Save(ctx context.Context, cfg *config.Config) error {
	if cfg.Version == 0 {
		cfg.Version = currentVersion
	}
	data, err := json.MarshalIndent(envelope{Version: currentVersion, Config: cfg}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return s.flushRaw(data)
}

func (s *Store) flushRaw(data []byte) error {
	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	check, err := os.ReadFile(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("read-back temp file: %w", err)
	}
	var verify envelope
	if err := json.Unmarshal(check, &verify); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("round-trip validation failed: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config file: %w", err)
	}
	return nil
}

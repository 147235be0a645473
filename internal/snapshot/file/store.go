// Package file provides a filesystem snapshot.Store. Each snapshot is
// gzip-compressed and written atomically via temp-file-then-rename, the
// same discipline the teacher's config/file and chunk/file backends use
// for their own on-disk writes.
package file

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"

	"hometopology/internal/snapshot"
)

// Store is a filesystem-backed snapshot.Store. Every id is stored as
// "<dir>/<id>.snap.gz".
type Store struct {
	dir string
}

var _ snapshot.Store = (*Store)(nil)

// New returns a Store that persists snapshots under dir, creating it and
// any missing parents on first write.
func New(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) pathFor(id string) string {
	return filepath.Join(s.dir, id+".snap.gz")
}

// Put gzip-compresses data and atomically writes it to the id's file.
func (s *Store) Put(ctx context.Context, id string, data []byte) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(data); err != nil {
		gw.Close()
		return fmt.Errorf("compress snapshot: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("close gzip writer: %w", err)
	}

	path := s.pathFor(id)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// Get reads and decompresses the snapshot stored under id.
func (s *Store) Get(ctx context.Context, id string) ([]byte, error) {
	f, err := os.Open(s.pathFor(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, snapshot.ErrNotFound
		}
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open gzip reader: %w", err)
	}
	defer gr.Close()

	data, err := io.ReadAll(gr)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot: %w", err)
	}
	return data, nil
}

// Package gcs provides a Google Cloud Storage-backed snapshot.Store.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"hometopology/internal/snapshot"
)

// Store is a GCS-backed snapshot.Store. Each snapshot is an object named
// "<prefix><id>" in bucket.
type Store struct {
	client *storage.Client
	bucket string
	prefix string
}

var _ snapshot.Store = (*Store)(nil)

// New builds a Store from the default application credentials, targeting
// bucket with object names namespaced under prefix.
func New(ctx context.Context, bucket, prefix string) (*Store, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &Store{client: client, bucket: bucket, prefix: prefix}, nil
}

// Close releases the underlying client's resources.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) objectName(id string) string {
	return s.prefix + id
}

// Put uploads data as the object for id, overwriting any existing object.
func (s *Store) Put(ctx context.Context, id string, data []byte) error {
	w := s.client.Bucket(s.bucket).Object(s.objectName(id)).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("write object %q: %w", s.objectName(id), err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close object writer %q: %w", s.objectName(id), err)
	}
	return nil
}

// Get downloads the object stored for id.
func (s *Store) Get(ctx context.Context, id string) ([]byte, error) {
	r, err := s.client.Bucket(s.bucket).Object(s.objectName(id)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, snapshot.ErrNotFound
		}
		return nil, fmt.Errorf("open reader for object %q: %w", s.objectName(id), err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read object %q: %w", s.objectName(id), err)
	}
	return data, nil
}

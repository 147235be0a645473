// Package snapshot persists byte blobs produced by internal/occupancy's
// DumpState — a versioned JSON envelope, spec.md §6 — so a host can move
// engine state off-box. Every backend here is a dumb blob store: none of
// them parse the envelope, they only move bytes keyed by a host-chosen id.
package snapshot

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no snapshot exists under the given id.
var ErrNotFound = errors.New("snapshot: not found")

// Store persists and retrieves snapshot envelopes by id. Implementations
// must treat data as opaque bytes; they neither validate nor interpret the
// envelope's version or contents.
type Store interface {
	Put(ctx context.Context, id string, data []byte) error
	Get(ctx context.Context, id string) ([]byte, error)
}

// Package storetest exercises the snapshot.Store contract against any
// backend, the same conformance-suite idiom as internal/config/storetest.
package storetest

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"hometopology/internal/snapshot"
)

// TestStore runs the snapshot.Store conformance suite against a fresh store
// returned by newStore for each subtest.
func TestStore(t *testing.T, newStore func(t *testing.T) snapshot.Store) {
	t.Helper()

	t.Run("GetMissingReturnsErrNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), "does-not-exist")
		if !errors.Is(err, snapshot.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("PutGetRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		want := []byte(`{"version":1,"locations":{}}`)

		if err := s.Put(ctx, "snap-1", want); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, err := s.Get(ctx, "snap-1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("PutOverwritesPreviousSnapshot", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if err := s.Put(ctx, "snap-1", []byte("first")); err != nil {
			t.Fatalf("first Put: %v", err)
		}
		if err := s.Put(ctx, "snap-1", []byte("second")); err != nil {
			t.Fatalf("second Put: %v", err)
		}
		got, err := s.Get(ctx, "snap-1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if string(got) != "second" {
			t.Errorf("got %q, want %q", got, "second")
		}
	})

	t.Run("DistinctIDsDoNotCollide", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if err := s.Put(ctx, "a", []byte("a-data")); err != nil {
			t.Fatalf("Put a: %v", err)
		}
		if err := s.Put(ctx, "b", []byte("b-data")); err != nil {
			t.Fatalf("Put b: %v", err)
		}
		gotA, err := s.Get(ctx, "a")
		if err != nil {
			t.Fatalf("Get a: %v", err)
		}
		gotB, err := s.Get(ctx, "b")
		if err != nil {
			t.Fatalf("Get b: %v", err)
		}
		if string(gotA) != "a-data" || string(gotB) != "b-data" {
			t.Errorf("got a=%q b=%q, wanted distinct values", gotA, gotB)
		}
	})
}

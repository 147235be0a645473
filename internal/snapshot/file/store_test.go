package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"hometopology/internal/snapshot"
	"hometopology/internal/snapshot/storetest"
)

func TestConformance(t *testing.T) {
	storetest.TestStore(t, func(t *testing.T) snapshot.Store {
		return New(t.TempDir())
	})
}

func TestStoreCompressesOnDisk(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	ctx := context.Background()

	raw := []byte(`{"version":1,"locations":{"house":{"contributions":[],"locked_by":[],"suspended":[]}}}`)
	if err := s.Put(ctx, "snap-1", raw); err != nil {
		t.Fatalf("Put: %v", err)
	}

	onDisk, err := os.ReadFile(filepath.Join(dir, "snap-1.snap.gz"))
	if err != nil {
		t.Fatalf("read snapshot file: %v", err)
	}
	if len(onDisk) == 0 {
		t.Fatal("expected non-empty compressed file")
	}

	got, err := s.Get(ctx, "snap-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(raw) {
		t.Errorf("got %q, want %q", got, raw)
	}
}

func TestStoreCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "snapshots")
	s := New(dir)
	if err := s.Put(context.Background(), "snap-1", []byte("data")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("expected directory to exist: %v", err)
	}
}

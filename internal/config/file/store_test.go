package file

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"hometopology/internal/config"
	"hometopology/internal/config/storetest"
)

func newTestStore(dir string) *Store {
	return NewStore(filepath.Join(dir, "config.json"))
}

func TestConformance(t *testing.T) {
	storetest.TestStore(t, func(t *testing.T) config.Store {
		return newTestStore(t.TempDir())
	})
}

func TestStoreCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "subdir", "nested")
	configPath := filepath.Join(dir, "config.json")

	s := NewStore(configPath)
	ctx := context.Background()

	if err := s.Save(ctx, &config.Config{Version: config.CurrentSchemaVersion}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(configPath); err != nil {
		t.Fatalf("config file should exist: %v", err)
	}
}

func TestStoreInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")

	if err := os.WriteFile(configPath, []byte("{invalid}"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	s := newTestStore(dir)
	_, err := s.Load(context.Background())
	if err == nil {
		t.Fatal("expected error loading invalid JSON, got nil")
	}
}

func TestStoreUnversionedFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")

	data := `{"locations": [{"id": "house", "name": "House"}]}`
	if err := os.WriteFile(configPath, []byte(data), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	s := newTestStore(dir)
	_, err := s.Load(context.Background())
	if err == nil {
		t.Fatal("expected error for unversioned config, got nil")
	}
	if !strings.Contains(err.Error(), "unversioned") {
		t.Errorf("expected error mentioning 'unversioned', got: %v", err)
	}
}

func TestStoreJSONIsHumanReadable(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")

	s := newTestStore(dir)
	ctx := context.Background()

	if err := s.Save(ctx, &config.Config{
		Version:   config.CurrentSchemaVersion,
		Locations: []config.LocationRecord{{ID: "house", Name: "House"}},
	}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	content := string(data)
	if !strings.Contains(content, "\n") {
		t.Error("expected indented JSON with newlines")
	}
	if !strings.Contains(content, `"version"`) {
		t.Error("expected versioned envelope with 'version' field")
	}
}

func TestStoreReloadFromDisk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s1 := newTestStore(dir)
	if err := s1.Save(ctx, &config.Config{
		Version:   config.CurrentSchemaVersion,
		Locations: []config.LocationRecord{{ID: "house", Name: "House"}},
	}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	s2 := newTestStore(dir)
	got, err := s2.Load(ctx)
	if err != nil {
		t.Fatalf("Load from new store: %v", err)
	}
	if got == nil || len(got.Locations) != 1 || got.Locations[0].ID != "house" {
		t.Fatalf("expected reloaded location 'house', got %+v", got)
	}
}

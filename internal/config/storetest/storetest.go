// Package storetest provides a shared conformance test suite for config.Store
// implementations. Each backend (memory, file, sqlite) wires this suite to
// verify it satisfies the full Store contract.
package storetest

import (
	"context"
	"testing"

	"hometopology/internal/config"
)

// TestStore runs the full conformance suite against a Store implementation.
// newStore must return a fresh, empty store for each sub-test.
func TestStore(t *testing.T, newStore func(t *testing.T) config.Store) {
	t.Run("LoadEmpty", func(t *testing.T) {
		s := newStore(t)
		cfg, err := s.Load(context.Background())
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg != nil {
			t.Fatalf("expected nil config from empty store, got %+v", cfg)
		}
	})

	t.Run("SaveLoadRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		want := &config.Config{
			Version: config.CurrentSchemaVersion,
			Locations: []config.LocationRecord{
				{ID: "house", Name: "House", IsExplicitRoot: true, Aliases: []string{"home"}},
				{ID: "kitchen", Name: "Kitchen", ParentID: "house", EntityIDs: []string{"sensor-1"}},
			},
		}
		if err := s.Save(ctx, want); err != nil {
			t.Fatalf("Save: %v", err)
		}

		got, err := s.Load(ctx)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if got == nil {
			t.Fatal("expected config, got nil")
		}
		if got.Version != want.Version {
			t.Errorf("Version: expected %d, got %d", want.Version, got.Version)
		}
		if len(got.Locations) != 2 {
			t.Fatalf("expected 2 locations, got %d", len(got.Locations))
		}
		if got.Locations[0].ID != "house" || !got.Locations[0].IsExplicitRoot {
			t.Errorf("house record mismatch: %+v", got.Locations[0])
		}
		if got.Locations[1].ParentID != "house" {
			t.Errorf("kitchen parent mismatch: %+v", got.Locations[1])
		}
	})

	t.Run("SaveOverwritesPreviousConfig", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		first := &config.Config{Version: config.CurrentSchemaVersion, Locations: []config.LocationRecord{{ID: "a", Name: "A"}}}
		if err := s.Save(ctx, first); err != nil {
			t.Fatalf("Save first: %v", err)
		}
		second := &config.Config{Version: config.CurrentSchemaVersion, Locations: []config.LocationRecord{{ID: "b", Name: "B"}}}
		if err := s.Save(ctx, second); err != nil {
			t.Fatalf("Save second: %v", err)
		}

		got, err := s.Load(ctx)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if len(got.Locations) != 1 || got.Locations[0].ID != "b" {
			t.Fatalf("expected only location 'b' after overwrite, got %+v", got.Locations)
		}
	})

	t.Run("ModuleConfigBlobPreserved", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		cfg := &config.Config{
			Version: config.CurrentSchemaVersion,
			Locations: []config.LocationRecord{{
				ID: "kitchen", Name: "Kitchen",
				Modules: map[string]any{
					"occupancy": map[string]any{
						"version":                   float64(1),
						"default_timeout":           float64(300),
						"occupancy_strategy":        "independent",
						"contributes_to_parent":     true,
					},
				},
			}},
		}
		if err := s.Save(ctx, cfg); err != nil {
			t.Fatalf("Save: %v", err)
		}

		got, err := s.Load(ctx)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		blob, ok := got.Locations[0].Modules["occupancy"].(map[string]any)
		if !ok {
			t.Fatalf("expected occupancy module blob to round-trip as a map, got %T", got.Locations[0].Modules["occupancy"])
		}
		if blob["default_timeout"] != float64(300) {
			t.Errorf("default_timeout: expected 300, got %v", blob["default_timeout"])
		}
	})

	t.Run("EmptyConfigIsValid", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if err := s.Save(ctx, &config.Config{Version: config.CurrentSchemaVersion}); err != nil {
			t.Fatalf("Save: %v", err)
		}

		got, err := s.Load(ctx)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if got == nil {
			t.Fatal("expected non-nil config after saving an empty one")
		}
		if len(got.Locations) != 0 {
			t.Errorf("expected 0 locations, got %d", len(got.Locations))
		}
	})
}

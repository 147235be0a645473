package config_test

import (
	"context"
	"testing"

	"hometopology/internal/config"
	"hometopology/internal/config/memory"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	if cfg == nil {
		t.Fatal("expected non-nil config")
	}
	if len(cfg.Locations) != 1 {
		t.Fatalf("expected 1 location, got %d", len(cfg.Locations))
	}
	house := cfg.Locations[0]
	if house.ID != "house" || !house.IsExplicitRoot {
		t.Errorf("expected explicit root 'house', got %+v", house)
	}
	occ, ok := house.Modules["occupancy"].(map[string]any)
	if !ok {
		t.Fatalf("expected occupancy module config, got %T", house.Modules["occupancy"])
	}
	if occ["occupancy_strategy"] != "independent" {
		t.Errorf("expected independent strategy, got %v", occ["occupancy_strategy"])
	}
}

func TestBootstrapWritesDefaultConfig(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	if err := config.Bootstrap(ctx, store); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil || len(got.Locations) != 1 {
		t.Fatalf("expected bootstrapped config to be loadable, got %+v", got)
	}
}

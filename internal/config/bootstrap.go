package config

import "context"

// DefaultConfig returns the bootstrap configuration for first-run: a single
// explicit root Location with no children, carrying the occupancy module's
// own defaults (version 1, independent strategy, contributes to parent).
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentSchemaVersion,
		Locations: []LocationRecord{
			{
				ID:             "house",
				Name:           "House",
				IsExplicitRoot: true,
				Modules: map[string]any{
					"occupancy": map[string]any{
						"version":                       1,
						"default_timeout":               300,
						"default_trailing_timeout":      120,
						"occupancy_strategy":             "independent",
						"contributes_to_parent":          true,
					},
				},
			},
		},
	}
}

// Bootstrap writes the default configuration to store. Call this when Load
// returns nil (no config has ever been saved).
func Bootstrap(ctx context.Context, store Store) error {
	return store.Save(ctx, DefaultConfig())
}

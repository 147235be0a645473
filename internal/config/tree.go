package config

import (
	"fmt"

	"hometopology/internal/topology"
)

// FromTree captures tree's current shape as a Config ready to persist.
func FromTree(tree *topology.Tree) *Config {
	locs := tree.AllLocations()
	cfg := &Config{Version: CurrentSchemaVersion, Locations: make([]LocationRecord, 0, len(locs))}
	for _, l := range locs {
		cfg.Locations = append(cfg.Locations, LocationRecord{
			ID:             l.ID,
			Name:           l.Name,
			ParentID:       l.ParentID,
			IsExplicitRoot: l.IsExplicitRoot,
			EntityIDs:      append([]string(nil), l.EntityIDs...),
			Aliases:        append([]string(nil), l.Aliases...),
			Modules:        l.Modules,
		})
	}
	return cfg
}

// ApplyToTree replays cfg's Location records onto tree, which must be empty.
// Records are expected in parent-before-child order, the order FromTree
// produces; a record naming an unknown parent fails the whole load rather
// than silently reparenting to root.
func ApplyToTree(tree *topology.Tree, cfg *Config) error {
	if cfg == nil {
		return nil
	}
	for _, r := range cfg.Locations {
		if err := tree.CreateLocation(r.ID, r.Name, r.ParentID, r.IsExplicitRoot, r.Aliases, r.EntityIDs); err != nil {
			return fmt.Errorf("config: restore location %q: %w", r.ID, err)
		}
		for moduleID, blob := range r.Modules {
			if err := tree.SetModuleConfig(r.ID, moduleID, blob); err != nil {
				return fmt.Errorf("config: restore module config %q/%q: %w", r.ID, moduleID, err)
			}
		}
	}
	return nil
}

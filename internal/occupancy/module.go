package occupancy

import (
	"encoding/json"
	"log/slog"
	"time"

	"hometopology/internal/bus"
	"hometopology/internal/logging"
	"hometopology/internal/topology"
)

// ModuleID is the key under which a Location's occupancy config lives in
// the Tree's per-module config map.
const ModuleID = "occupancy"

// CurrentConfigVersion is the schema version Module writes and expects.
const CurrentConfigVersion = 1

// ModuleConfig is the per-Location occupancy config schema (spec.md §4.4).
// Modules own their migrations; unknown-version configs fall back to
// DefaultModuleConfig with a logged warning.
type ModuleConfig struct {
	Version                       int    `json:"version"`
	DefaultTimeoutSeconds         int    `json:"default_timeout"`
	DefaultTrailingTimeoutSeconds int    `json:"default_trailing_timeout"`
	OccupancyStrategy             string `json:"occupancy_strategy"` // "independent" | "follow_parent"
	ContributesToParent           bool   `json:"contributes_to_parent"`
}

// DefaultModuleConfig is applied to any Location with no explicit config,
// and to any Location whose config fails migration.
var DefaultModuleConfig = ModuleConfig{
	Version:                       CurrentConfigVersion,
	DefaultTimeoutSeconds:         300,
	DefaultTrailingTimeoutSeconds: 120,
	OccupancyStrategy:             "independent",
	ContributesToParent:           true,
}

func (c ModuleConfig) strategy() Strategy {
	if c.OccupancyStrategy == "follow_parent" {
		return StrategyFollowParent
	}
	return StrategyIndependent
}

func (c ModuleConfig) locationConfig() LocationConfig {
	return LocationConfig{ContributesToParent: c.ContributesToParent, Strategy: c.strategy()}
}

// MigrateConfig upgrades an arbitrary stored config blob to the current
// ModuleConfig schema. Any version other than CurrentConfigVersion is
// treated as unmigratable in this first schema revision and falls back to
// DefaultModuleConfig; the caller is expected to log the fallback.
func MigrateConfig(old any) (ModuleConfig, bool) {
	switch v := old.(type) {
	case ModuleConfig:
		if v.Version == CurrentConfigVersion {
			return v, true
		}
	case map[string]any:
		raw, err := json.Marshal(v)
		if err != nil {
			break
		}
		var cfg ModuleConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			break
		}
		if cfg.Version == CurrentConfigVersion {
			return cfg, true
		}
	}
	return DefaultModuleConfig, false
}

// Module binds the Engine to the Bus and Tree: it resolves per-Location
// config (applying migration and defaults), resolves effective timeouts,
// and exposes the host-facing occupancy API.
type Module struct {
	Engine *Engine
	tree   *topology.Tree
	bus    *bus.Bus
	logger *slog.Logger
}

// Attach constructs a Module bound to tree and bus, with an Engine whose
// per-Location behavior is resolved from the Tree's "occupancy" module
// config on every call (so config changes take effect immediately, with no
// separate reload step).
func Attach(tree *topology.Tree, b *bus.Bus, logger *slog.Logger) *Module {
	m := &Module{tree: tree, bus: b, logger: logging.Default(logger).With("component", "occupancy")}
	m.Engine = New(tree, b, m.resolveLocationConfig)
	return m
}

func (m *Module) resolveLocationConfig(locationID string) LocationConfig {
	return m.resolveModuleConfig(locationID).locationConfig()
}

func (m *Module) resolveModuleConfig(locationID string) ModuleConfig {
	raw, ok := m.tree.GetModuleConfig(locationID, ModuleID)
	if !ok {
		return DefaultModuleConfig
	}
	cfg, ok := MigrateConfig(raw)
	if !ok {
		m.logger.Warn("occupancy config failed migration, using defaults",
			"location_id", locationID)
	}
	return cfg
}

// effectiveTimeout resolves the TRIGGER timeout resolution order from
// spec.md §4.4: explicit parameter > per-entity host config (opaque to
// core, not modeled here) > Location's default.
func (m *Module) effectiveTimeout(locationID string, explicit *time.Duration) *time.Duration {
	if explicit != nil {
		return explicit
	}
	cfg := m.resolveModuleConfig(locationID)
	if cfg.DefaultTimeoutSeconds <= 0 {
		return nil
	}
	d := time.Duration(cfg.DefaultTimeoutSeconds) * time.Second
	return &d
}

func (m *Module) effectiveTrailingTimeout(locationID string, explicit *time.Duration) time.Duration {
	if explicit != nil {
		return *explicit
	}
	cfg := m.resolveModuleConfig(locationID)
	if cfg.DefaultTrailingTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(cfg.DefaultTrailingTimeoutSeconds) * time.Second
}

// Trigger resolves the effective timeout (explicit, else the Location's
// configured default) and forwards to the Engine.
func (m *Module) Trigger(locationID, sourceID string, timeout *time.Duration, now time.Time) error {
	return m.Engine.Trigger(locationID, sourceID, m.effectiveTimeout(locationID, timeout), now)
}

// Clear resolves the effective trailing timeout and forwards to the Engine.
func (m *Module) Clear(locationID, sourceID string, trailingTimeout *time.Duration, now time.Time) error {
	return m.Engine.Clear(locationID, sourceID, m.effectiveTrailingTimeout(locationID, trailingTimeout), now)
}

// GetLocationState returns a snapshot view for inspection.
func (m *Module) GetLocationState(locationID string, now time.Time) (LocationState, error) {
	st, err := m.Engine.GetLocationState(locationID)
	if err != nil {
		return LocationState{}, err
	}
	st.NextExpiration = m.Engine.GetNextVacantTime(locationID, now)
	return st, nil
}

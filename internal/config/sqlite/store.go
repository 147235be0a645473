// Package sqlite provides a SQLite-based config.Store implementation,
// using the pure-Go modernc.org/sqlite driver so the binary stays
// cgo-free.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"hometopology/internal/config"
)

// Store is a SQLite-based config.Store implementation.
type Store struct {
	db   *sql.DB
	path string
}

var _ config.Store = (*Store)(nil)

// NewStore opens a SQLite database at path and runs migrations.
func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create config directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal_mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set foreign_keys: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load reads the full configuration. Returns nil if no config has ever been
// saved.
func (s *Store) Load(ctx context.Context) (*config.Config, error) {
	versionStr, err := s.getMeta(ctx, "config_version")
	if err != nil {
		return nil, err
	}
	if versionStr == nil {
		return nil, nil
	}
	cfg := &config.Config{Version: config.CurrentSchemaVersion}
	var v int
	if _, err := fmt.Sscanf(*versionStr, "%d", &v); err == nil {
		cfg.Version = v
	}
	if cfg.Version != config.CurrentSchemaVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", config.ErrSchemaVersionMismatch, cfg.Version, config.CurrentSchemaVersion)
	}

	locs, err := s.listLocations(ctx)
	if err != nil {
		return nil, err
	}
	cfg.Locations = locs
	return cfg, nil
}

// Save replaces every stored Location and meta row with cfg's contents in a
// single transaction.
func (s *Store) Save(ctx context.Context, cfg *config.Config) error {
	version := cfg.Version
	if version == 0 {
		version = config.CurrentSchemaVersion
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save tx: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"location_modules", "location_aliases", "location_entities", "locations"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for i, r := range cfg.Locations {
		var parentID *string
		if r.ParentID != "" {
			parentID = &r.ParentID
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO locations (id, name, parent_id, is_explicit_root, sort_order)
			VALUES (?, ?, ?, ?, ?)
		`, r.ID, r.Name, parentID, r.IsExplicitRoot, i); err != nil {
			return fmt.Errorf("insert location %q: %w", r.ID, err)
		}
		for _, alias := range r.Aliases {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO location_aliases (location_id, alias) VALUES (?, ?)", r.ID, alias); err != nil {
				return fmt.Errorf("insert alias %q for %q: %w", alias, r.ID, err)
			}
		}
		for _, entityID := range r.EntityIDs {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO location_entities (location_id, entity_id) VALUES (?, ?)", r.ID, entityID); err != nil {
				return fmt.Errorf("insert entity %q for %q: %w", entityID, r.ID, err)
			}
		}
		for moduleID, blob := range r.Modules {
			data, err := json.Marshal(blob)
			if err != nil {
				return fmt.Errorf("marshal module %q for %q: %w", moduleID, r.ID, err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO location_modules (location_id, module_id, config_json) VALUES (?, ?, ?)
			`, r.ID, moduleID, string(data)); err != nil {
				return fmt.Errorf("insert module %q for %q: %w", moduleID, r.ID, err)
			}
		}
	}

	if err := s.putMeta(ctx, tx, "config_version", fmt.Sprintf("%d", version)); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) listLocations(ctx context.Context) ([]config.LocationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, parent_id, is_explicit_root FROM locations ORDER BY sort_order")
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	defer rows.Close()

	var records []config.LocationRecord
	index := make(map[string]int)
	for rows.Next() {
		var r config.LocationRecord
		var parentID sql.NullString
		if err := rows.Scan(&r.ID, &r.Name, &parentID, &r.IsExplicitRoot); err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		if parentID.Valid {
			r.ParentID = parentID.String
		}
		index[r.ID] = len(records)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.attachAliases(ctx, records, index); err != nil {
		return nil, err
	}
	if err := s.attachEntities(ctx, records, index); err != nil {
		return nil, err
	}
	if err := s.attachModules(ctx, records, index); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) attachAliases(ctx context.Context, records []config.LocationRecord, index map[string]int) error {
	rows, err := s.db.QueryContext(ctx, "SELECT location_id, alias FROM location_aliases")
	if err != nil {
		return fmt.Errorf("list aliases: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var locationID, alias string
		if err := rows.Scan(&locationID, &alias); err != nil {
			return fmt.Errorf("scan alias: %w", err)
		}
		if i, ok := index[locationID]; ok {
			records[i].Aliases = append(records[i].Aliases, alias)
		}
	}
	return rows.Err()
}

func (s *Store) attachEntities(ctx context.Context, records []config.LocationRecord, index map[string]int) error {
	rows, err := s.db.QueryContext(ctx, "SELECT location_id, entity_id FROM location_entities")
	if err != nil {
		return fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var locationID, entityID string
		if err := rows.Scan(&locationID, &entityID); err != nil {
			return fmt.Errorf("scan entity: %w", err)
		}
		if i, ok := index[locationID]; ok {
			records[i].EntityIDs = append(records[i].EntityIDs, entityID)
		}
	}
	return rows.Err()
}

func (s *Store) attachModules(ctx context.Context, records []config.LocationRecord, index map[string]int) error {
	rows, err := s.db.QueryContext(ctx, "SELECT location_id, module_id, config_json FROM location_modules")
	if err != nil {
		return fmt.Errorf("list module configs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var locationID, moduleID, configJSON string
		if err := rows.Scan(&locationID, &moduleID, &configJSON); err != nil {
			return fmt.Errorf("scan module config: %w", err)
		}
		i, ok := index[locationID]
		if !ok {
			continue
		}
		var blob any
		if err := json.Unmarshal([]byte(configJSON), &blob); err != nil {
			return fmt.Errorf("unmarshal module %q for %q: %w", moduleID, locationID, err)
		}
		if records[i].Modules == nil {
			records[i].Modules = make(map[string]any)
		}
		records[i].Modules[moduleID] = blob
	}
	return rows.Err()
}

func (s *Store) getMeta(ctx context.Context, key string) (*string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get meta %q: %w", key, err)
	}
	return &value, nil
}

func (s *Store) putMeta(ctx context.Context, tx *sql.Tx, key, value string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("put meta %q: %w", key, err)
	}
	return nil
}

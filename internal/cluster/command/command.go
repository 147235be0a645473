// Package command provides serialization for topology/occupancy mutations
// applied via Raft. Each Command is one tree mutation or engine operation;
// the FSM deserializes commands and dispatches them to a local Tree/Module
// pair. Snapshot captures the full state for FSM.Snapshot()/Restore().
package command

import (
	"encoding/json"
	"fmt"
	"time"

	"hometopology/internal/config"
	"hometopology/internal/occupancy"
)

// Op identifies which Tree/Module method a Command dispatches to.
type Op string

const (
	OpCreateLocation   Op = "create_location"
	OpDeleteLocation   Op = "delete_location"
	OpReparentLocation Op = "reparent_location"
	OpTrigger          Op = "trigger"
	OpClear            Op = "clear"
	OpVacate           Op = "vacate"
	OpVacateArea       Op = "vacate_area"
	OpLock             Op = "lock"
	OpUnlock           Op = "unlock"
	OpUnlockAll        Op = "unlock_all"
)

// Command is one replicated tree mutation or engine operation.
type Command struct {
	Op  Op        `json:"op"`
	Now time.Time `json:"now"`

	LocationID     string   `json:"location_id,omitempty"`
	Name           string   `json:"name,omitempty"`
	ParentID       string   `json:"parent_id,omitempty"`
	IsExplicitRoot bool     `json:"is_explicit_root,omitempty"`
	Aliases        []string `json:"aliases,omitempty"`
	EntityIDs      []string `json:"entity_ids,omitempty"`

	SourceID       string `json:"source_id,omitempty"`
	TimeoutSeconds *int   `json:"timeout_seconds,omitempty"`
	IncludeLocked  bool   `json:"include_locked,omitempty"`
}

// Marshal serializes a Command to bytes for raft.Apply().
func Marshal(cmd Command) ([]byte, error) {
	return json.Marshal(cmd)
}

// Unmarshal deserializes bytes back to a Command.
func Unmarshal(b []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(b, &cmd); err != nil {
		return Command{}, fmt.Errorf("unmarshal command: %w", err)
	}
	return cmd, nil
}

// Timeout returns TimeoutSeconds as a *time.Duration, or nil if unset.
func (c Command) Timeout() *time.Duration {
	if c.TimeoutSeconds == nil {
		return nil
	}
	d := time.Duration(*c.TimeoutSeconds) * time.Second
	return &d
}

// Snapshot captures the full replicated state: the Location Tree plus the
// occupancy engine's runtime state.
type Snapshot struct {
	Locations []config.LocationRecord `json:"locations"`
	Occupancy occupancy.Snapshot      `json:"occupancy"`
}

// MarshalSnapshot serializes a Snapshot to bytes.
func MarshalSnapshot(snap Snapshot) ([]byte, error) {
	return json.Marshal(snap)
}

// UnmarshalSnapshot deserializes bytes back to a Snapshot.
func UnmarshalSnapshot(b []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}

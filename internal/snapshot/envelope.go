package snapshot

import (
	"encoding/json"
	"time"
)

// Envelope mirrors the JSON shape of occupancy.Snapshot without importing
// internal/occupancy — the snapshot package stores bytes for any caller
// that produces this shape, and stays a leaf dependency.
type Envelope struct {
	Version   int                      `json:"version"`
	Locations map[string]LocationState `json:"locations"`
}

// LocationState mirrors occupancy.LocationSnapshot.
type LocationState struct {
	Contributions []ContributionState `json:"contributions"`
	LockedBy      []string            `json:"locked_by"`
	Suspended     []SuspendedState    `json:"suspended"`
}

// ContributionState mirrors occupancy.ContributionSnapshot.
type ContributionState struct {
	SourceID  string     `json:"source_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// SuspendedState mirrors occupancy.SuspendedSnapshot.
type SuspendedState struct {
	SourceID         string  `json:"source_id"`
	RemainingSeconds float64 `json:"remaining_seconds"`
}

// PeekVersion reads only the envelope's version field, without decoding the
// (potentially large) locations map — used to log a schema mismatch before
// a caller attempts a full unmarshal.
func PeekVersion(data []byte) (int, error) {
	var head struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return 0, err
	}
	return head.Version, nil
}

package occupancy

import "errors"

// Sentinel errors for the invalid-argument error kind (spec.md §7). These,
// plus ErrSnapshotVersionMismatch from RestoreState, are the only errors the
// Engine surfaces to the caller; not-found and stale-state conditions are
// no-ops.
var (
	ErrUnknownLocation = errors.New("occupancy: unknown location")
	ErrEmptySourceID    = errors.New("occupancy: empty source id")
	ErrInvalidTimeout   = errors.New("occupancy: timeout must be positive")
)

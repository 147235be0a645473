package occupancy

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// CurrentSnapshotVersion is the version written by DumpState. RestoreState
// rejects any other version.
const CurrentSnapshotVersion = 1

// ErrSnapshotVersionMismatch is returned by RestoreState when the snapshot's
// Version does not match CurrentSnapshotVersion.
var ErrSnapshotVersionMismatch = errors.New("occupancy: snapshot version mismatch")

// Snapshot is the persisted-state format from spec.md §6: a versioned
// object naming, for every Location with non-default runtime state, its
// contributions, lock holders, and suspended-contribution remainders.
type Snapshot struct {
	Version   int                          `json:"version"`
	Locations map[string]LocationSnapshot `json:"locations"`
}

// LocationSnapshot is one Location's persisted runtime state.
type LocationSnapshot struct {
	Contributions []ContributionSnapshot `json:"contributions"`
	LockedBy      []string               `json:"locked_by"`
	Suspended     []SuspendedSnapshot    `json:"suspended"`
}

// ContributionSnapshot is a single persisted SourceContribution.
type ContributionSnapshot struct {
	SourceID  string     `json:"source_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// SuspendedSnapshot is a persisted suspended-contribution remainder.
type SuspendedSnapshot struct {
	SourceID         string  `json:"source_id"`
	RemainingSeconds float64 `json:"remaining_seconds"`
}

// DumpState returns a versioned snapshot of every Location with non-default
// runtime state. Synthetic propagation contributions (source ids prefixed
// with ChildSourcePrefix) are omitted; RestoreState reconstructs them.
func (e *Engine) DumpState() Snapshot {
	snap := Snapshot{Version: CurrentSnapshotVersion, Locations: make(map[string]LocationSnapshot)}
	for id, st := range e.states {
		if st.isEmpty() {
			continue
		}
		var ls LocationSnapshot
		var sourceIDs []string
		for sid := range st.contributions {
			if strings.HasPrefix(sid, ChildSourcePrefix) {
				continue
			}
			sourceIDs = append(sourceIDs, sid)
		}
		sort.Strings(sourceIDs)
		for _, sid := range sourceIDs {
			ls.Contributions = append(ls.Contributions, ContributionSnapshot{
				SourceID:  sid,
				ExpiresAt: st.contributions[sid].ExpiresAt,
			})
		}
		for s := range st.lockedBy {
			ls.LockedBy = append(ls.LockedBy, s)
		}
		sort.Strings(ls.LockedBy)
		var suspendedIDs []string
		for sid := range st.suspended {
			suspendedIDs = append(suspendedIDs, sid)
		}
		sort.Strings(suspendedIDs)
		for _, sid := range suspendedIDs {
			ls.Suspended = append(ls.Suspended, SuspendedSnapshot{
				SourceID:         sid,
				RemainingSeconds: st.suspended[sid].Seconds(),
			})
		}
		if len(ls.Contributions) == 0 && len(ls.LockedBy) == 0 && len(ls.Suspended) == 0 {
			continue
		}
		snap.Locations[id] = ls
	}
	return snap
}

// RestoreState replaces the Engine's runtime state with snap. Non-locked
// contributions older than max_age (relative to now) are discarded
// (stale-state protection, spec.md §7); locked state is restored
// unconditionally. Unknown Locations in the snapshot are ignored. Once
// every snapshot entry is loaded, propagation is recomputed bottom-up.
// occupancy.changed is never emitted during restore.
func (e *Engine) RestoreState(snap Snapshot, now time.Time, maxAge time.Duration) error {
	if snap.Version != CurrentSnapshotVersion {
		return fmt.Errorf("%w: got %d, want %d", ErrSnapshotVersionMismatch, snap.Version, CurrentSnapshotVersion)
	}

	e.states = make(map[string]*locationRuntime)

	var ids []string
	for id := range snap.Locations {
		if e.tree.Get(id) == nil {
			continue // tree shape may have changed; ignore unknown locations
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		entry := snap.Locations[id]
		st := e.getState(id)
		isLocked := len(entry.LockedBy) > 0

		for _, s := range entry.LockedBy {
			st.lockedBy[s] = struct{}{}
		}
		for _, susp := range entry.Suspended {
			st.suspended[susp.SourceID] = time.Duration(susp.RemainingSeconds * float64(time.Second))
		}
		for _, c := range entry.Contributions {
			if strings.HasPrefix(c.SourceID, ChildSourcePrefix) {
				continue // synthetic; reconstructed by the recompute pass below
			}
			if !isLocked && c.ExpiresAt != nil && now.Sub(*c.ExpiresAt) > maxAge {
				continue // stale-state protection
			}
			var expiresAt *time.Time
			if c.ExpiresAt != nil {
				t := *c.ExpiresAt
				expiresAt = &t
			}
			st.contributions[c.SourceID] = &Contribution{SourceID: c.SourceID, ExpiresAt: expiresAt}
		}
	}

	e.silent = true
	for _, id := range ids {
		e.settleFor(id, now, "restore")
	}
	e.silent = false
	return nil
}

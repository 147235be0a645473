package occupancy

import (
	"sort"
	"strings"
	"time"
)

// GetNextExpiration returns the earliest expires_at across all non-locked,
// finite contributions in the entire tree, or nil if none exist. Synthetic
// propagation contributions are included since they mirror a real,
// finite-expiry descendant contribution whenever they are themselves
// finite.
func (e *Engine) GetNextExpiration(now time.Time) *time.Time {
	var earliest *time.Time
	for _, st := range e.states {
		if st.isLocked() {
			continue
		}
		for _, c := range st.contributions {
			if c.ExpiresAt == nil {
				continue
			}
			if earliest == nil || c.ExpiresAt.Before(*earliest) {
				t := *c.ExpiresAt
				earliest = &t
			}
		}
	}
	return earliest
}

// CheckTimeouts removes every real (non-synthetic), non-locked contribution
// whose expires_at has passed, in non-decreasing timestamp order with ties
// broken by (location_id, source_id). Synthetic child: propagation
// contributions are never scanned directly — they are maintained solely as
// a side effect of the real contribution's removal, which keeps cascaded
// emission in the child-first order spec.md §4.3.5 requires.
func (e *Engine) CheckTimeouts(now time.Time) {
	type expired struct {
		locationID string
		sourceID   string
		expiresAt  time.Time
	}
	var due []expired
	for locID, st := range e.states {
		if st.isLocked() {
			continue
		}
		for sid, c := range st.contributions {
			if strings.HasPrefix(sid, ChildSourcePrefix) {
				continue
			}
			if c.ExpiresAt != nil && !c.ExpiresAt.After(now) {
				due = append(due, expired{locID, sid, *c.ExpiresAt})
			}
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].expiresAt.Equal(due[j].expiresAt) {
			return due[i].expiresAt.Before(due[j].expiresAt)
		}
		if due[i].locationID != due[j].locationID {
			return due[i].locationID < due[j].locationID
		}
		return due[i].sourceID < due[j].sourceID
	})

	for _, d := range due {
		st, ok := e.states[d.locationID]
		if !ok || st.isLocked() {
			continue
		}
		c, ok := st.contributions[d.sourceID]
		if !ok || c.ExpiresAt == nil || c.ExpiresAt.After(now) {
			continue // already changed by an earlier cascade in this batch
		}
		delete(st.contributions, d.sourceID)
		e.settleFor(d.locationID, now, "expired:"+d.sourceID)
	}
}

// GetNextVacantTime predicts when locationID will become vacant, considering
// its own contributions and every descendant that propagates to it. Returns
// nil if any contributing source, direct or propagated, is indefinite.
func (e *Engine) GetNextVacantTime(locationID string, now time.Time) *time.Time {
	st, ok := e.states[locationID]
	if !ok || len(st.contributions) == 0 {
		return nil
	}
	expiry, known := maxExpiry(st.contributions)
	if !known {
		return nil
	}
	return expiry
}

// GetEffectiveTimeout is a convenience alias for GetNextVacantTime.
func (e *Engine) GetEffectiveTimeout(locationID string, now time.Time) *time.Time {
	return e.GetNextVacantTime(locationID, now)
}

package occupancy

import (
	"sort"
	"time"

	"hometopology/internal/bus"
)

// settleFor recomputes locationID's occupied state, emits occupancy.changed
// if it flipped, maintains the synthetic child: contribution on its parent,
// and fans out to any FOLLOW_PARENT children. It is the single place that
// implements hierarchical propagation (spec.md §4.3.3) and the
// FOLLOW_PARENT strategy (§4.3.4), and is always called after a primitive
// operation has already mutated locationID's own contributions.
//
// reason is used verbatim when locationID's own occupied flips; cascaded
// calls up or down the tree pass their own "propagated:<id>" reason.
func (e *Engine) settleFor(locationID string, now time.Time, reason string) {
	st := e.getState(locationID)
	cfg := e.config(locationID)
	loc := e.tree.Get(locationID)

	var occupied bool
	var expiryBasis *time.Time
	var expiryKnown bool

	switch cfg.Strategy {
	case StrategyFollowParent:
		if loc != nil && loc.ParentID != "" {
			occupied = e.getState(loc.ParentID).cachedOccupied
		}
		if occupied {
			expiryKnown = true // mirrors; no natural finite expiry of its own
		}
	default:
		occupied = st.isOccupied()
		if occupied {
			expiryBasis, expiryKnown = maxExpiry(st.contributions)
		}
	}

	prev := st.cachedOccupied
	if occupied != prev {
		st.cachedOccupied = occupied
		e.emit(locationID, occupied, prev, reason, now)
	}

	if loc != nil && loc.ParentID != "" {
		key := ChildSourcePrefix + locationID
		pst := e.getState(loc.ParentID)
		existing, exists := pst.contributions[key]

		switch {
		case !(cfg.ContributesToParent && occupied) && exists:
			delete(pst.contributions, key)
			e.settleFor(loc.ParentID, now, "propagated:"+locationID)
		case cfg.ContributesToParent && occupied && expiryKnown &&
			(!exists || !expiryEqual(existing.ExpiresAt, expiryBasis)):
			pst.contributions[key] = &Contribution{SourceID: key, ExpiresAt: expiryBasis}
			e.settleFor(loc.ParentID, now, "propagated:"+locationID)
		}
	}

	for _, child := range e.tree.ChildrenOf(locationID) {
		if e.config(child.ID).Strategy == StrategyFollowParent {
			e.settleFor(child.ID, now, "propagated:"+locationID)
		}
	}

	e.pruneIfEmpty(locationID)
}

// emit publishes an occupancy.changed event for locationID, if the Engine
// was constructed with a Bus.
func (e *Engine) emit(locationID string, occupied, previousOccupied bool, reason string, now time.Time) {
	if e.pub == nil || e.silent {
		return
	}
	st := e.getState(locationID)

	sourceIDs := make([]string, 0, len(st.contributions))
	for sid := range st.contributions {
		sourceIDs = append(sourceIDs, sid)
	}
	sort.Strings(sourceIDs)

	contribs := make([]map[string]any, 0, len(sourceIDs))
	for _, sid := range sourceIDs {
		c := st.contributions[sid]
		entry := map[string]any{"source_id": c.SourceID}
		if c.ExpiresAt != nil {
			entry["expires_at"] = *c.ExpiresAt
		} else {
			entry["expires_at"] = nil
		}
		contribs = append(contribs, entry)
	}

	lockedBy := make([]string, 0, len(st.lockedBy))
	for s := range st.lockedBy {
		lockedBy = append(lockedBy, s)
	}
	sort.Strings(lockedBy)

	e.pub.Publish(bus.Event{
		Type:       "occupancy.changed",
		Source:     "occupancy",
		LocationID: locationID,
		Timestamp:  now,
		Payload: map[string]any{
			"occupied":          occupied,
			"previous_occupied": previousOccupied,
			"reason":            reason,
			"contributions":     contribs,
			"locked_by":         lockedBy,
		},
	})
}

package occupancy

import (
	"fmt"
	"time"

	"hometopology/internal/bus"
	"hometopology/internal/topology"
)

// Engine is a deterministic, per-Location occupancy state machine. It is
// not safe for concurrent use; see spec.md §5 / SPEC_FULL.md §5 — hosts
// serialize all engine calls onto a single execution context, same as the
// Tree and Bus.
type Engine struct {
	tree     *topology.Tree
	pub      *bus.Bus
	configFn func(locationID string) LocationConfig
	states   map[string]*locationRuntime
	silent   bool // suppresses emission during RestoreState
}

// New returns an Engine bound to tree (for parent/child lookups during
// propagation) and pub (for occupancy.changed emission; may be nil, in
// which case the Engine still tracks state but never publishes).
//
// configFn resolves per-Location occupancy behavior (contributes_to_parent,
// occupancy_strategy); a nil configFn makes every Location use
// DefaultLocationConfig. The Module wrapper normally supplies configFn by
// reading and migrating the Tree's opaque per-module config blobs.
func New(tree *topology.Tree, pub *bus.Bus, configFn func(string) LocationConfig) *Engine {
	return &Engine{
		tree:     tree,
		pub:      pub,
		configFn: configFn,
		states:   make(map[string]*locationRuntime),
	}
}

func (e *Engine) config(id string) LocationConfig {
	if e.configFn == nil {
		return DefaultLocationConfig
	}
	return e.configFn(id)
}

func (e *Engine) getState(id string) *locationRuntime {
	st, ok := e.states[id]
	if !ok {
		st = newLocationRuntime()
		e.states[id] = st
	}
	return st
}

func (e *Engine) pruneIfEmpty(id string) {
	if st, ok := e.states[id]; ok && st.isEmpty() {
		delete(e.states, id)
	}
}

// Trigger adds or refreshes a SourceContribution on locationID. timeout nil
// means indefinite. If a contribution with sourceID already exists, the
// resulting expires_at is the later of the two (nil dominates).
func (e *Engine) Trigger(locationID, sourceID string, timeout *time.Duration, now time.Time) error {
	if e.tree.Get(locationID) == nil {
		return fmt.Errorf("%w: %q", ErrUnknownLocation, locationID)
	}
	if sourceID == "" {
		return ErrEmptySourceID
	}
	if timeout != nil && *timeout <= 0 {
		return ErrInvalidTimeout
	}
	if e.config(locationID).Strategy == StrategyFollowParent {
		return nil // direct events are silently dropped on followers
	}

	st := e.getState(locationID)
	if st.isLocked() {
		return nil // locked: no event/command but LOCK/UNLOCK mutates contributions
	}

	var newExpiry *time.Time
	if timeout != nil {
		t := now.Add(*timeout)
		newExpiry = &t
	}

	existing, ok := st.contributions[sourceID]
	if ok {
		newExpiry = dominantExpiry(existing.ExpiresAt, newExpiry)
		if expiryEqual(existing.ExpiresAt, newExpiry) {
			return nil // idempotent-safe no-op
		}
		existing.ExpiresAt = newExpiry
	} else {
		st.contributions[sourceID] = &Contribution{SourceID: sourceID, ExpiresAt: newExpiry}
	}

	e.settleFor(locationID, now, "trigger:"+sourceID)
	return nil
}

// Clear removes a SourceContribution, or (with trailingTimeout > 0) arms a
// shortened expiry for it. No-op if no matching contribution exists.
func (e *Engine) Clear(locationID, sourceID string, trailingTimeout time.Duration, now time.Time) error {
	if sourceID == "" {
		return ErrEmptySourceID
	}
	if e.config(locationID).Strategy == StrategyFollowParent {
		return nil
	}
	st, ok := e.states[locationID]
	if !ok {
		return nil
	}
	if st.isLocked() {
		return nil
	}
	existing, ok := st.contributions[sourceID]
	if !ok {
		return nil
	}

	if trailingTimeout <= 0 {
		delete(st.contributions, sourceID)
	} else {
		candidate := now.Add(trailingTimeout)
		if existing.ExpiresAt != nil && existing.ExpiresAt.Before(candidate) {
			return nil // never lengthens a pending expiration
		}
		existing.ExpiresAt = &candidate
	}

	e.settleFor(locationID, now, "clear:"+sourceID)
	return nil
}

// Vacate removes every contribution on locationID immediately. No-op if
// locationID is locked or unknown.
func (e *Engine) Vacate(locationID string, now time.Time) error {
	st, ok := e.states[locationID]
	if !ok || st.isLocked() {
		return nil
	}
	if !removeRealContributions(st) {
		return nil
	}
	e.settleFor(locationID, now, "vacate")
	return nil
}

// VacateArea vacates locationID and every descendant. Locked Locations are
// skipped unless includeLocked is true, in which case they are unlocked
// first. Returns the ids of Locations whose occupancy actually flipped.
func (e *Engine) VacateArea(locationID, sourceID string, includeLocked bool, now time.Time) ([]string, error) {
	if e.tree.Get(locationID) == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLocation, locationID)
	}
	targets := append([]string{locationID}, e.tree.DescendantIDs(locationID)...)
	watched := append(e.tree.AncestorIDs(locationID), targets...)
	before := make(map[string]bool, len(watched))
	for _, id := range watched {
		if st, ok := e.states[id]; ok {
			before[id] = st.cachedOccupied
		}
	}

	for _, id := range targets {
		st, ok := e.states[id]
		if !ok {
			continue
		}
		if st.isLocked() {
			if !includeLocked {
				continue
			}
			e.unlockAllSources(id, now)
			st = e.getState(id)
		}
		if !removeRealContributions(st) {
			continue
		}
		e.settleFor(id, now, "vacate")
	}

	var flipped []string
	for _, id := range watched {
		st, ok := e.states[id] // a vacated Location may have been pruned
		if (ok && st.cachedOccupied) != before[id] {
			flipped = append(flipped, id)
		}
	}
	return flipped, nil
}

// Lock adds sourceID to locationID's lock set. On the empty-to-non-empty
// transition, every finite-expiry contribution has its remaining duration
// snapshotted and its live expiry cleared (suspended).
func (e *Engine) Lock(locationID, sourceID string, now time.Time) error {
	if sourceID == "" {
		return ErrEmptySourceID
	}
	if e.tree.Get(locationID) == nil {
		return fmt.Errorf("%w: %q", ErrUnknownLocation, locationID)
	}
	st := e.getState(locationID)
	if _, already := st.lockedBy[sourceID]; already {
		return nil
	}
	wasLocked := st.isLocked()
	st.lockedBy[sourceID] = struct{}{}
	if !wasLocked {
		for id, c := range st.contributions {
			if c.ExpiresAt != nil {
				st.suspended[id] = c.ExpiresAt.Sub(now)
				c.ExpiresAt = nil
			}
		}
		e.settleFor(locationID, now, "lock:"+sourceID)
	}
	return nil
}

// Unlock removes sourceID from locationID's lock set. If this empties the
// set, every suspended contribution's expiry is restored relative to now.
func (e *Engine) Unlock(locationID, sourceID string, now time.Time) error {
	st, ok := e.states[locationID]
	if !ok {
		return nil
	}
	if _, present := st.lockedBy[sourceID]; !present {
		return nil
	}
	delete(st.lockedBy, sourceID)
	if !st.isLocked() {
		e.resumeSuspended(st, now)
		e.settleFor(locationID, now, "unlock:"+sourceID)
		return nil
	}
	e.pruneIfEmpty(locationID)
	return nil
}

// UnlockAll unconditionally clears locationID's lock set, resuming any
// suspended contributions.
func (e *Engine) UnlockAll(locationID string, now time.Time) error {
	st, ok := e.states[locationID]
	if !ok || !st.isLocked() {
		return nil
	}
	e.unlockAllSources(locationID, now)
	return nil
}

func (e *Engine) unlockAllSources(locationID string, now time.Time) {
	st := e.getState(locationID)
	if !st.isLocked() {
		return
	}
	clear(st.lockedBy)
	e.resumeSuspended(st, now)
	e.settleFor(locationID, now, "unlock_all")
}

func (e *Engine) resumeSuspended(st *locationRuntime, now time.Time) {
	for id, remaining := range st.suspended {
		if c, ok := st.contributions[id]; ok {
			t := now.Add(remaining)
			c.ExpiresAt = &t
		}
	}
	clear(st.suspended)
}

// GetLocationState returns a read-only snapshot of locationID's runtime
// state.
func (e *Engine) GetLocationState(locationID string) (LocationState, error) {
	if e.tree.Get(locationID) == nil {
		return LocationState{}, fmt.Errorf("%w: %q", ErrUnknownLocation, locationID)
	}
	st, ok := e.states[locationID]
	if !ok {
		return LocationState{LocationID: locationID}, nil
	}
	out := LocationState{
		LocationID: locationID,
		IsOccupied: st.cachedOccupied,
	}
	for _, c := range st.contributions {
		out.Contributions = append(out.Contributions, c.Clone())
	}
	for s := range st.lockedBy {
		out.LockedBy = append(out.LockedBy, s)
	}
	out.NextExpiration = e.GetEffectiveTimeout(locationID, time.Time{})
	return out, nil
}

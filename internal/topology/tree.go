// Package topology implements the Location Tree: an ordered forest of
// Locations with stable string ids, parent links, entity assignments,
// aliases, and per-module opaque configuration.
//
// A Tree is not safe for concurrent use. Hosts driving it from multiple
// producers must serialize all calls onto a single execution context, the
// same rule that applies to the Event Bus and the Occupancy Engine.
package topology

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by Tree operations. Callers should use errors.Is
// to check these rather than matching on string content.
var (
	ErrEmptyID          = errors.New("topology: empty location id")
	ErrAlreadyExists    = errors.New("topology: location already exists")
	ErrUnknownParent    = errors.New("topology: unknown parent location")
	ErrExplicitRootConflict = errors.New("topology: explicit root cannot have a parent")
	ErrNotFound         = errors.New("topology: location not found")
	ErrHasChildren      = errors.New("topology: location has children")
	ErrCycle            = errors.New("topology: reparent would create a cycle")
)

// Location is a node in the topology forest.
type Location struct {
	ID             string
	Name           string
	ParentID       string // empty means no parent
	IsExplicitRoot bool
	EntityIDs      []string
	Aliases        []string
	Modules        map[string]any
}

func (l *Location) clone() *Location {
	cp := *l
	cp.EntityIDs = append([]string(nil), l.EntityIDs...)
	cp.Aliases = append([]string(nil), l.Aliases...)
	cp.Modules = make(map[string]any, len(l.Modules))
	for k, v := range l.Modules {
		cp.Modules[k] = v
	}
	return &cp
}

// Tree stores the Location forest in memory.
type Tree struct {
	locations map[string]*Location
	children  map[string][]string // parent id -> ordered child ids
	roots     []string            // ordered root ids (explicit and discovered, insertion order)
	aliases   map[string]string   // alias -> location id
	entityLoc map[string]string   // entity id -> location id
}

// New returns an empty Tree.
func New() *Tree {
	return &Tree{
		locations: make(map[string]*Location),
		children:  make(map[string][]string),
		aliases:   make(map[string]string),
		entityLoc: make(map[string]string),
	}
}

// CreateLocation adds a new Location to the forest.
//
// Fails with ErrAlreadyExists if id is already in use, ErrUnknownParent if
// parentID is set but does not reference an existing Location, and
// ErrExplicitRootConflict if parentID is set and isExplicitRoot is true.
func (t *Tree) CreateLocation(id, name, parentID string, isExplicitRoot bool, aliases, entityIDs []string) error {
	if id == "" {
		return ErrEmptyID
	}
	if _, ok := t.locations[id]; ok {
		return fmt.Errorf("%w: %q", ErrAlreadyExists, id)
	}
	if parentID != "" {
		if _, ok := t.locations[parentID]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownParent, parentID)
		}
		if isExplicitRoot {
			return ErrExplicitRootConflict
		}
	}
	for _, a := range aliases {
		if existing, ok := t.aliases[a]; ok {
			return fmt.Errorf("topology: alias %q already resolves to %q", a, existing)
		}
	}

	loc := &Location{
		ID:             id,
		Name:           name,
		ParentID:       parentID,
		IsExplicitRoot: isExplicitRoot,
		Aliases:        append([]string(nil), aliases...),
		Modules:        make(map[string]any),
	}
	t.locations[id] = loc
	for _, a := range aliases {
		t.aliases[a] = id
	}
	if parentID == "" {
		t.roots = append(t.roots, id)
	} else {
		t.children[parentID] = append(t.children[parentID], id)
	}
	for _, e := range entityIDs {
		t.assignEntityUnchecked(e, id)
	}
	return nil
}

// DeleteLocation removes a Location. Fails with ErrHasChildren if it has
// any descendants; the caller must delete or reparent children first.
func (t *Tree) DeleteLocation(id string) error {
	loc, ok := t.locations[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if len(t.children[id]) > 0 {
		return fmt.Errorf("%w: %q", ErrHasChildren, id)
	}

	for _, e := range append([]string(nil), loc.EntityIDs...) {
		delete(t.entityLoc, e)
	}
	for _, a := range loc.Aliases {
		delete(t.aliases, a)
	}
	if loc.ParentID == "" {
		t.roots = removeString(t.roots, id)
	} else {
		t.children[loc.ParentID] = removeString(t.children[loc.ParentID], id)
	}
	delete(t.children, id)
	delete(t.locations, id)
	return nil
}

// Reparent moves a Location to a new parent (or to root if newParentID is
// empty). Fails if the move would create a cycle.
func (t *Tree) Reparent(id, newParentID string) error {
	loc, ok := t.locations[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if newParentID == id {
		return ErrCycle
	}
	if newParentID != "" {
		if _, ok := t.locations[newParentID]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownParent, newParentID)
		}
		for cur := newParentID; cur != ""; cur = t.locations[cur].ParentID {
			if cur == id {
				return ErrCycle
			}
		}
	}

	if loc.ParentID == "" {
		t.roots = removeString(t.roots, id)
	} else {
		t.children[loc.ParentID] = removeString(t.children[loc.ParentID], id)
	}

	loc.ParentID = newParentID
	if newParentID == "" {
		// A reparented-to-root Location keeps whatever IsExplicitRoot it had;
		// it does not retroactively become explicit.
		t.roots = append(t.roots, id)
	} else {
		loc.IsExplicitRoot = false
		t.children[newParentID] = append(t.children[newParentID], id)
	}
	return nil
}

// Get returns the Location with the given id, or nil if it does not exist.
// The returned Location is a defensive copy; mutate the tree only through
// its methods.
func (t *Tree) Get(id string) *Location {
	loc, ok := t.locations[id]
	if !ok {
		return nil
	}
	return loc.clone()
}

// ResolveAlias returns the Location that alias resolves to, or nil.
func (t *Tree) ResolveAlias(alias string) *Location {
	id, ok := t.aliases[alias]
	if !ok {
		return nil
	}
	return t.Get(id)
}

// ParentOf returns the parent Location, or nil if id is a root or unknown.
func (t *Tree) ParentOf(id string) *Location {
	loc, ok := t.locations[id]
	if !ok || loc.ParentID == "" {
		return nil
	}
	return t.Get(loc.ParentID)
}

// ChildrenOf returns the direct children of id, in insertion order.
func (t *Tree) ChildrenOf(id string) []*Location {
	ids := t.children[id]
	out := make([]*Location, 0, len(ids))
	for _, cid := range ids {
		out = append(out, t.Get(cid))
	}
	return out
}

// AncestorsOf returns ancestors of id in parent-to-root order.
func (t *Tree) AncestorsOf(id string) []*Location {
	var out []*Location
	loc, ok := t.locations[id]
	if !ok {
		return nil
	}
	for cur := loc.ParentID; cur != ""; {
		parent, ok := t.locations[cur]
		if !ok {
			break
		}
		out = append(out, parent.clone())
		cur = parent.ParentID
	}
	return out
}

// DescendantsOf returns descendants of id in pre-order.
func (t *Tree) DescendantsOf(id string) []*Location {
	var out []*Location
	var walk func(string)
	walk = func(cur string) {
		for _, cid := range t.children[cur] {
			out = append(out, t.Get(cid))
			walk(cid)
		}
	}
	walk(id)
	return out
}

// Roots returns all root Locations (no parent), split into explicit and
// discovered roots, each in insertion order.
func (t *Tree) Roots() (explicit, discovered []*Location) {
	for _, id := range t.roots {
		loc := t.locations[id]
		if loc.IsExplicitRoot {
			explicit = append(explicit, loc.clone())
		} else {
			discovered = append(discovered, loc.clone())
		}
	}
	return explicit, discovered
}

// AssignEntity assigns entityID to locationID, removing it from any prior
// Location first.
func (t *Tree) AssignEntity(entityID, locationID string) error {
	if _, ok := t.locations[locationID]; !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, locationID)
	}
	t.assignEntityUnchecked(entityID, locationID)
	return nil
}

func (t *Tree) assignEntityUnchecked(entityID, locationID string) {
	if prev, ok := t.entityLoc[entityID]; ok {
		if prev == locationID {
			return
		}
		if prevLoc, ok := t.locations[prev]; ok {
			prevLoc.EntityIDs = removeString(prevLoc.EntityIDs, entityID)
		}
	}
	t.entityLoc[entityID] = locationID
	loc := t.locations[locationID]
	for _, e := range loc.EntityIDs {
		if e == entityID {
			return
		}
	}
	loc.EntityIDs = append(loc.EntityIDs, entityID)
}

// RemoveEntity removes entityID from whatever Location holds it. No-op if
// the entity is not assigned anywhere.
func (t *Tree) RemoveEntity(entityID string) {
	loc, ok := t.entityLoc[entityID]
	if !ok {
		return
	}
	if l, ok := t.locations[loc]; ok {
		l.EntityIDs = removeString(l.EntityIDs, entityID)
	}
	delete(t.entityLoc, entityID)
}

// LocationOfEntity returns the Location id holding entityID, or "" if
// unassigned.
func (t *Tree) LocationOfEntity(entityID string) string {
	return t.entityLoc[entityID]
}

// SetModuleConfig stores an opaque config blob for moduleID on locationID.
func (t *Tree) SetModuleConfig(locationID, moduleID string, config any) error {
	loc, ok := t.locations[locationID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, locationID)
	}
	loc.Modules[moduleID] = config
	return nil
}

// GetModuleConfig returns the config blob for moduleID on locationID, and
// whether one was set.
func (t *Tree) GetModuleConfig(locationID, moduleID string) (any, bool) {
	loc, ok := t.locations[locationID]
	if !ok {
		return nil, false
	}
	cfg, ok := loc.Modules[moduleID]
	return cfg, ok
}

// AncestorIDs returns the ids of AncestorsOf(id), parent-to-root order.
func (t *Tree) AncestorIDs(id string) []string {
	anc := t.AncestorsOf(id)
	out := make([]string, len(anc))
	for i, l := range anc {
		out[i] = l.ID
	}
	return out
}

// DescendantIDs returns the ids of DescendantsOf(id), pre-order.
func (t *Tree) DescendantIDs(id string) []string {
	desc := t.DescendantsOf(id)
	out := make([]string, len(desc))
	for i, l := range desc {
		out[i] = l.ID
	}
	return out
}

// AllLocations returns every Location in the forest in parent-before-child
// order, suitable for replaying through CreateLocation to reconstruct the
// tree (used by config persistence).
func (t *Tree) AllLocations() []*Location {
	var out []*Location
	var walk func(string)
	walk = func(id string) {
		out = append(out, t.Get(id))
		for _, cid := range t.children[id] {
			walk(cid)
		}
	}
	for _, id := range t.roots {
		walk(id)
	}
	return out
}

func removeString(s []string, v string) []string {
	for i, x := range s {
		if x == v {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}

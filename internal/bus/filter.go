package bus

import "strings"

// TreeView is the subset of internal/topology.Tree that tree-aware filter
// predicates need. A *topology.Tree satisfies this interface structurally;
// the Bus never imports the topology package directly, keeping the two
// leaves of the dependency order independent of each other.
type TreeView interface {
	AncestorIDs(locationID string) []string
	DescendantIDs(locationID string) []string
}

// Filter selects which published Events a subscription receives. The zero
// Filter matches everything. All set fields are ANDed together.
type Filter struct {
	// EventType matches exactly, or as a dotted prefix when EventTypePrefix
	// is true (e.g. "occupancy." matches "occupancy.changed").
	EventType       string
	EventTypePrefix bool

	Source     string
	LocationID string
	EntityID   string

	// IncludesAncestorsOf matches events whose LocationID is an ancestor of
	// the given location, evaluated against Tree.
	IncludesAncestorsOf string
	// IncludesDescendantsOf matches events whose LocationID is a descendant
	// of the given location, evaluated against Tree.
	IncludesDescendantsOf string

	// Tree is required only when IncludesAncestorsOf or
	// IncludesDescendantsOf is set.
	Tree TreeView
}

// Match reports whether e satisfies the filter.
func (f Filter) Match(e Event) bool {
	if f.EventType != "" {
		if f.EventTypePrefix {
			if !strings.HasPrefix(e.Type, f.EventType) {
				return false
			}
		} else if e.Type != f.EventType {
			return false
		}
	}
	if f.Source != "" && f.Source != e.Source {
		return false
	}
	if f.LocationID != "" && f.LocationID != e.LocationID {
		return false
	}
	if f.EntityID != "" && f.EntityID != e.EntityID {
		return false
	}
	if f.IncludesAncestorsOf != "" {
		if !containsID(f.Tree.AncestorIDs(f.IncludesAncestorsOf), e.LocationID) {
			return false
		}
	}
	if f.IncludesDescendantsOf != "" {
		if !containsID(f.Tree.DescendantIDs(f.IncludesDescendantsOf), e.LocationID) {
			return false
		}
	}
	return true
}

func containsID(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

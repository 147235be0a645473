package topology

import (
	"errors"
	"testing"
)

func TestCreateLocation(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(*Tree)
		id        string
		parentID  string
		root      bool
		wantError error
	}{
		{
			name: "explicit root",
			id:   "house",
			root: true,
		},
		{
			name: "discovered root",
			id:   "inbox",
			root: false,
		},
		{
			name:      "empty id",
			id:        "",
			wantError: ErrEmptyID,
		},
		{
			name: "unknown parent",
			id:   "kitchen", parentID: "house",
			wantError: ErrUnknownParent,
		},
		{
			name: "explicit root with parent is invalid",
			setup: func(tr *Tree) {
				_ = tr.CreateLocation("house", "House", "", true, nil, nil)
			},
			id: "kitchen", parentID: "house", root: true,
			wantError: ErrExplicitRootConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New()
			if tt.setup != nil {
				tt.setup(tr)
			}
			err := tr.CreateLocation(tt.id, tt.id, tt.parentID, tt.root, nil, nil)
			if tt.wantError != nil {
				if !errors.Is(err, tt.wantError) {
					t.Fatalf("got error %v, want %v", err, tt.wantError)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tr.Get(tt.id) == nil {
				t.Fatalf("location %q not created", tt.id)
			}
		})
	}
}

func TestCreateLocationDuplicate(t *testing.T) {
	tr := New()
	if err := tr.CreateLocation("house", "House", "", true, nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := tr.CreateLocation("house", "House", "", true, nil, nil); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("got %v, want ErrAlreadyExists", err)
	}
}

func TestDeleteLocationWithChildren(t *testing.T) {
	tr := New()
	mustCreate(t, tr, "house", "", true)
	mustCreate(t, tr, "kitchen", "house", false)

	if err := tr.DeleteLocation("house"); !errors.Is(err, ErrHasChildren) {
		t.Fatalf("got %v, want ErrHasChildren", err)
	}
	if err := tr.DeleteLocation("kitchen"); err != nil {
		t.Fatal(err)
	}
	if err := tr.DeleteLocation("house"); err != nil {
		t.Fatal(err)
	}
	if tr.Get("house") != nil {
		t.Fatal("house should be gone")
	}
}

func TestReparentCycle(t *testing.T) {
	tr := New()
	mustCreate(t, tr, "house", "", true)
	mustCreate(t, tr, "main_floor", "house", false)
	mustCreate(t, tr, "kitchen", "main_floor", false)

	if err := tr.Reparent("house", "kitchen"); !errors.Is(err, ErrCycle) {
		t.Fatalf("got %v, want ErrCycle", err)
	}
	if err := tr.Reparent("house", "house"); !errors.Is(err, ErrCycle) {
		t.Fatalf("got %v, want ErrCycle", err)
	}
	if err := tr.Reparent("kitchen", "house"); err != nil {
		t.Fatalf("valid reparent failed: %v", err)
	}
	if got := tr.ParentOf("kitchen"); got == nil || got.ID != "house" {
		t.Fatalf("kitchen parent = %v, want house", got)
	}
}

func TestAncestorsAndDescendants(t *testing.T) {
	tr := New()
	mustCreate(t, tr, "house", "", true)
	mustCreate(t, tr, "main_floor", "house", false)
	mustCreate(t, tr, "kitchen", "main_floor", false)

	anc := tr.AncestorsOf("kitchen")
	if len(anc) != 2 || anc[0].ID != "main_floor" || anc[1].ID != "house" {
		t.Fatalf("ancestors = %v, want [main_floor house]", idsOf(anc))
	}

	desc := tr.DescendantsOf("house")
	if len(desc) != 2 || desc[0].ID != "main_floor" || desc[1].ID != "kitchen" {
		t.Fatalf("descendants = %v, want [main_floor kitchen]", idsOf(desc))
	}
}

func TestRootsPartition(t *testing.T) {
	tr := New()
	mustCreate(t, tr, "house", "", true)
	mustCreate(t, tr, "inbox", "", false)

	explicit, discovered := tr.Roots()
	if len(explicit) != 1 || explicit[0].ID != "house" {
		t.Fatalf("explicit roots = %v", idsOf(explicit))
	}
	if len(discovered) != 1 || discovered[0].ID != "inbox" {
		t.Fatalf("discovered roots = %v", idsOf(discovered))
	}
}

func TestAssignEntityReassigns(t *testing.T) {
	tr := New()
	mustCreate(t, tr, "kitchen", "", true)
	mustCreate(t, tr, "bedroom", "", true)

	if err := tr.AssignEntity("sensor.motion_1", "kitchen"); err != nil {
		t.Fatal(err)
	}
	if got := tr.LocationOfEntity("sensor.motion_1"); got != "kitchen" {
		t.Fatalf("location = %q, want kitchen", got)
	}

	if err := tr.AssignEntity("sensor.motion_1", "bedroom"); err != nil {
		t.Fatal(err)
	}
	if got := tr.LocationOfEntity("sensor.motion_1"); got != "bedroom" {
		t.Fatalf("location = %q, want bedroom", got)
	}
	if k := tr.Get("kitchen"); len(k.EntityIDs) != 0 {
		t.Fatalf("kitchen still has entities: %v", k.EntityIDs)
	}
}

func TestModuleConfig(t *testing.T) {
	tr := New()
	mustCreate(t, tr, "kitchen", "", true)

	if _, ok := tr.GetModuleConfig("kitchen", "occupancy"); ok {
		t.Fatal("expected no config set")
	}
	if err := tr.SetModuleConfig("kitchen", "occupancy", map[string]int{"default_timeout": 300}); err != nil {
		t.Fatal(err)
	}
	cfg, ok := tr.GetModuleConfig("kitchen", "occupancy")
	if !ok {
		t.Fatal("expected config to be set")
	}
	if cfg.(map[string]int)["default_timeout"] != 300 {
		t.Fatalf("unexpected config: %v", cfg)
	}
}

func mustCreate(t *testing.T, tr *Tree, id, parentID string, root bool) {
	t.Helper()
	if err := tr.CreateLocation(id, id, parentID, root, nil, nil); err != nil {
		t.Fatalf("create %q: %v", id, err)
	}
}

func idsOf(locs []*Location) []string {
	out := make([]string, len(locs))
	for i, l := range locs {
		out[i] = l.ID
	}
	return out
}

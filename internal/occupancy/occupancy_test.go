package occupancy

import (
	"testing"
	"time"

	"hometopology/internal/bus"
	"hometopology/internal/topology"
)

func sec(n int) time.Time { return time.Unix(int64(n), 0) }

func dur(n int) *time.Duration {
	d := time.Duration(n) * time.Second
	return &d
}

type recorder struct {
	events []bus.Event
}

func (r *recorder) subscribe(b *bus.Bus) {
	b.Subscribe(bus.Filter{EventType: "occupancy.changed"}, func(e bus.Event) error {
		r.events = append(r.events, e)
		return nil
	})
}

func (r *recorder) locationOrder() []string {
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.LocationID
	}
	return out
}

func newTestEngine(t *testing.T, tr *topology.Tree) (*Engine, *recorder) {
	t.Helper()
	b := bus.New(nil)
	rec := &recorder{}
	rec.subscribe(b)
	return New(tr, b, nil), rec
}

// Scenario 1: motion-only room, single trigger and expiry.
func TestScenarioMotionOnlyRoom(t *testing.T) {
	tr := topology.New()
	mustCreate(t, tr, "kitchen", "", true)
	e, rec := newTestEngine(t, tr)

	if err := e.Trigger("kitchen", "motion", dur(300), sec(0)); err != nil {
		t.Fatal(err)
	}
	if len(rec.events) != 1 || rec.events[0].Payload["occupied"] != true {
		t.Fatalf("expected one occupied=true event, got %v", rec.events)
	}

	next := e.GetNextExpiration(sec(0))
	if next == nil || !next.Equal(sec(300)) {
		t.Fatalf("next expiration = %v, want 300", next)
	}

	e.CheckTimeouts(sec(299))
	if len(rec.events) != 1 {
		t.Fatalf("check_timeouts(299) should not change state, got %v", rec.events)
	}

	e.CheckTimeouts(sec(300))
	if len(rec.events) != 2 || rec.events[1].Payload["occupied"] != false {
		t.Fatalf("expected occupied=false after expiry, got %v", rec.events)
	}
}

// Scenario 2: presence + motion coverage gap.
func TestScenarioPresenceMotionGap(t *testing.T) {
	tr := topology.New()
	mustCreate(t, tr, "office", "", true)
	e, rec := newTestEngine(t, tr)

	if err := e.Trigger("office", "presence", nil, sec(0)); err != nil {
		t.Fatal(err)
	}
	if err := e.Trigger("office", "motion", dur(600), sec(60)); err != nil {
		t.Fatal(err)
	}
	if err := e.Clear("office", "presence", 120*time.Second, sec(120)); err != nil {
		t.Fatal(err)
	}

	st, err := e.GetLocationState("office")
	if err != nil {
		t.Fatal(err)
	}
	if !st.IsOccupied || len(st.Contributions) != 2 {
		t.Fatalf("state at t=121: %+v", st)
	}
	for _, c := range st.Contributions {
		switch c.SourceID {
		case "presence":
			if c.ExpiresAt == nil || !c.ExpiresAt.Equal(sec(240)) {
				t.Fatalf("presence expiry = %v, want 240", c.ExpiresAt)
			}
		case "motion":
			if c.ExpiresAt == nil || !c.ExpiresAt.Equal(sec(660)) {
				t.Fatalf("motion expiry = %v, want 660", c.ExpiresAt)
			}
		}
	}

	e.CheckTimeouts(sec(240))
	st, _ = e.GetLocationState("office")
	if !st.IsOccupied {
		t.Fatal("office should still be occupied after presence expires")
	}

	e.CheckTimeouts(sec(660))
	st, _ = e.GetLocationState("office")
	if st.IsOccupied {
		t.Fatal("office should be vacant after motion expires")
	}
	if len(rec.events) == 0 || rec.events[len(rec.events)-1].Payload["occupied"] != false {
		t.Fatalf("expected final event occupied=false, got %v", rec.events)
	}
}

// Scenario 3: lock suspension and resume.
func TestScenarioLockSuspension(t *testing.T) {
	tr := topology.New()
	mustCreate(t, tr, "kitchen", "", true)
	e, rec := newTestEngine(t, tr)

	if err := e.Trigger("kitchen", "motion", dur(600), sec(0)); err != nil {
		t.Fatal(err)
	}
	if err := e.Lock("kitchen", "sleep", sec(180)); err != nil {
		t.Fatal(err)
	}

	st, _ := e.GetLocationState("kitchen")
	if !st.IsOccupied || len(st.LockedBy) != 1 || st.LockedBy[0] != "sleep" {
		t.Fatalf("unexpected state after lock: %+v", st)
	}
	if st.Contributions[0].ExpiresAt != nil {
		t.Fatalf("live contribution should be suspended (nil expiry), got %v", st.Contributions[0].ExpiresAt)
	}

	e.CheckTimeouts(sec(1000))
	st, _ = e.GetLocationState("kitchen")
	if !st.IsOccupied {
		t.Fatal("lock should have prevented expiry")
	}

	if err := e.Unlock("kitchen", "sleep", sec(1000)); err != nil {
		t.Fatal(err)
	}
	st, _ = e.GetLocationState("kitchen")
	if st.Contributions[0].ExpiresAt == nil || !st.Contributions[0].ExpiresAt.Equal(sec(1420)) {
		t.Fatalf("expiry after unlock = %v, want 1420", st.Contributions[0].ExpiresAt)
	}

	e.CheckTimeouts(sec(1420))
	st, _ = e.GetLocationState("kitchen")
	if st.IsOccupied {
		t.Fatal("kitchen should be vacant at t=1420")
	}
	if rec.events[len(rec.events)-1].Payload["occupied"] != false {
		t.Fatalf("expected final occupied=false event, got %v", rec.events)
	}
}

// Scenario 4: hierarchical propagation.
func TestScenarioHierarchicalPropagation(t *testing.T) {
	tr := topology.New()
	mustCreate(t, tr, "house", "", true)
	mustCreate(t, tr, "main_floor", "house", false)
	mustCreate(t, tr, "kitchen", "main_floor", false)
	e, rec := newTestEngine(t, tr)

	if err := e.Trigger("kitchen", "motion", dur(300), sec(0)); err != nil {
		t.Fatal(err)
	}
	if len(rec.events) != 3 {
		t.Fatalf("expected 3 events, got %d: %v", len(rec.events), rec.locationOrder())
	}
	want := []string{"kitchen", "main_floor", "house"}
	for i, id := range want {
		if rec.events[i].LocationID != id || rec.events[i].Payload["occupied"] != true {
			t.Fatalf("event order = %v, want %v all occupied=true", rec.locationOrder(), want)
		}
	}

	mfState, _ := e.GetLocationState("main_floor")
	var found bool
	for _, c := range mfState.Contributions {
		if c.SourceID == "child:kitchen" {
			found = true
			if c.ExpiresAt == nil || !c.ExpiresAt.Equal(sec(300)) {
				t.Fatalf("child:kitchen expiry = %v, want 300", c.ExpiresAt)
			}
		}
	}
	if !found {
		t.Fatal("expected synthetic child:kitchen contribution on main_floor")
	}

	rec.events = nil
	e.CheckTimeouts(sec(300))
	if len(rec.events) != 3 {
		t.Fatalf("expected 3 cascade events, got %d: %v", len(rec.events), rec.locationOrder())
	}
	for i, id := range want {
		if rec.events[i].LocationID != id || rec.events[i].Payload["occupied"] != false {
			t.Fatalf("cascade order = %v, want child-first %v all occupied=false", rec.locationOrder(), want)
		}
	}
}

// Scenario 5: cascading vacate skips locks.
func TestScenarioCascadingVacateSkipsLocks(t *testing.T) {
	tr := topology.New()
	mustCreate(t, tr, "house", "", true)
	mustCreate(t, tr, "kitchen", "house", false)
	mustCreate(t, tr, "bedroom", "house", false)
	e, _ := newTestEngine(t, tr)

	if err := e.Trigger("kitchen", "motion", nil, sec(0)); err != nil {
		t.Fatal(err)
	}
	if err := e.Trigger("bedroom", "motion", nil, sec(0)); err != nil {
		t.Fatal(err)
	}
	if err := e.Lock("bedroom", "sleep", sec(0)); err != nil {
		t.Fatal(err)
	}

	if _, err := e.VacateArea("house", "everyone_left", false, sec(10)); err != nil {
		t.Fatal(err)
	}
	houseState, _ := e.GetLocationState("house")
	kitchenState, _ := e.GetLocationState("kitchen")
	bedroomState, _ := e.GetLocationState("bedroom")
	if kitchenState.IsOccupied {
		t.Fatal("kitchen should be vacant")
	}
	if !bedroomState.IsOccupied {
		t.Fatal("bedroom (locked) should remain occupied")
	}
	if !houseState.IsOccupied {
		t.Fatal("house should still be occupied because bedroom still propagates")
	}

	if _, err := e.VacateArea("house", "everyone_left", true, sec(20)); err != nil {
		t.Fatal(err)
	}
	houseState, _ = e.GetLocationState("house")
	bedroomState, _ = e.GetLocationState("bedroom")
	if bedroomState.IsOccupied || len(bedroomState.LockedBy) != 0 {
		t.Fatalf("bedroom should be unlocked and vacant, got %+v", bedroomState)
	}
	if houseState.IsOccupied {
		t.Fatal("house should now be vacant")
	}
}

// Scenario 6: restore with stale protection.
func TestScenarioRestoreStaleProtection(t *testing.T) {
	tr := topology.New()
	mustCreate(t, tr, "kitchen", "", true)
	expiry := sec(100)
	snap := Snapshot{
		Version: CurrentSnapshotVersion,
		Locations: map[string]LocationSnapshot{
			"kitchen": {
				Contributions: []ContributionSnapshot{{SourceID: "motion", ExpiresAt: &expiry}},
			},
		},
	}

	e, rec := newTestEngine(t, tr)
	if err := e.RestoreState(snap, sec(200), 60*time.Second); err != nil {
		t.Fatal(err)
	}
	if len(rec.events) != 0 {
		t.Fatal("restore must not emit occupancy.changed")
	}
	st, _ := e.GetLocationState("kitchen")
	if st.IsOccupied {
		t.Fatal("contribution older than max_age should have been discarded")
	}

	e2, rec2 := newTestEngine(t, tr)
	if err := e2.RestoreState(snap, sec(200), 200*time.Second); err != nil {
		t.Fatal(err)
	}
	if len(rec2.events) != 0 {
		t.Fatal("restore must not emit occupancy.changed")
	}
	st2, _ := e2.GetLocationState("kitchen")
	if !st2.IsOccupied {
		t.Fatal("contribution within max_age should have been retained")
	}
	e2.CheckTimeouts(sec(200))
	st2, _ = e2.GetLocationState("kitchen")
	if st2.IsOccupied {
		t.Fatal("retained-but-already-expired contribution should clear on next check_timeouts")
	}
}

func TestDumpRestoreRoundTrip(t *testing.T) {
	tr := topology.New()
	mustCreate(t, tr, "house", "", true)
	mustCreate(t, tr, "kitchen", "house", false)
	e, _ := newTestEngine(t, tr)

	if err := e.Trigger("kitchen", "motion", dur(300), sec(0)); err != nil {
		t.Fatal(err)
	}
	if err := e.Trigger("kitchen", "presence", nil, sec(0)); err != nil {
		t.Fatal(err)
	}

	snap := e.DumpState()
	e2, _ := newTestEngine(t, tr)
	if err := e2.RestoreState(snap, sec(0), 0); err != nil {
		t.Fatal(err)
	}

	before, _ := e.GetLocationState("kitchen")
	after, _ := e2.GetLocationState("kitchen")
	if before.IsOccupied != after.IsOccupied {
		t.Fatalf("occupied mismatch: %v vs %v", before.IsOccupied, after.IsOccupied)
	}
	if len(before.Contributions) != len(after.Contributions) {
		t.Fatalf("contribution count mismatch: %d vs %d", len(before.Contributions), len(after.Contributions))
	}

	houseAfter, _ := e2.GetLocationState("house")
	if !houseAfter.IsOccupied {
		t.Fatal("propagation should be reconstructed on restore")
	}
}

func TestTriggerIdempotence(t *testing.T) {
	tr := topology.New()
	mustCreate(t, tr, "kitchen", "", true)
	e, rec := newTestEngine(t, tr)

	if err := e.Trigger("kitchen", "motion", dur(300), sec(0)); err != nil {
		t.Fatal(err)
	}
	if err := e.Trigger("kitchen", "motion", dur(300), sec(0)); err != nil {
		t.Fatal(err)
	}
	if len(rec.events) != 1 {
		t.Fatalf("expected exactly one occupied=true event, got %d", len(rec.events))
	}
}

func TestTriggerWhileLockedIsNoop(t *testing.T) {
	tr := topology.New()
	mustCreate(t, tr, "kitchen", "", true)
	e, _ := newTestEngine(t, tr)

	if err := e.Lock("kitchen", "sleep", sec(0)); err != nil {
		t.Fatal(err)
	}
	if err := e.Trigger("kitchen", "motion", dur(300), sec(0)); err != nil {
		t.Fatal(err)
	}
	st, _ := e.GetLocationState("kitchen")
	if st.IsOccupied {
		t.Fatal("trigger while locked must not mutate contributions")
	}

	if err := e.Unlock("kitchen", "sleep", sec(0)); err != nil {
		t.Fatal(err)
	}
	next := e.GetNextExpiration(sec(0))
	if next != nil {
		t.Fatalf("dropped trigger while locked should not reappear after unlock, got %v", next)
	}
}

func TestVacateNoopWhenLocked(t *testing.T) {
	tr := topology.New()
	mustCreate(t, tr, "kitchen", "", true)
	e, rec := newTestEngine(t, tr)

	if err := e.Trigger("kitchen", "motion", nil, sec(0)); err != nil {
		t.Fatal(err)
	}
	if err := e.Lock("kitchen", "sleep", sec(0)); err != nil {
		t.Fatal(err)
	}
	rec.events = nil
	if err := e.Vacate("kitchen", sec(0)); err != nil {
		t.Fatal(err)
	}
	if len(rec.events) != 0 {
		t.Fatal("vacate of a locked location must be a no-op")
	}
}

// Locking/unlocking a child with a finite-expiry contribution must refresh
// the parent's synthetic child:<id> contribution, not just the child's own
// suspended/resumed expiry.
func TestLockRefreshesParentSynthetic(t *testing.T) {
	tr := topology.New()
	mustCreate(t, tr, "house", "", true)
	mustCreate(t, tr, "kitchen", "house", false)
	e, _ := newTestEngine(t, tr)

	if err := e.Trigger("kitchen", "motion", dur(300), sec(0)); err != nil {
		t.Fatal(err)
	}
	childSynthetic := func() *time.Time {
		st, _ := e.GetLocationState("house")
		for _, c := range st.Contributions {
			if c.SourceID == "child:kitchen" {
				return c.ExpiresAt
			}
		}
		t.Fatal("expected synthetic child:kitchen contribution on house")
		return nil
	}
	if got := childSynthetic(); got == nil || !got.Equal(sec(300)) {
		t.Fatalf("child:kitchen expiry before lock = %v, want 300", got)
	}

	if err := e.Lock("kitchen", "sleep", sec(10)); err != nil {
		t.Fatal(err)
	}
	if got := childSynthetic(); got != nil {
		t.Fatalf("child:kitchen expiry after lock = %v, want nil (indefinite while locked)", got)
	}
	next := e.GetNextExpiration(sec(10))
	if next != nil {
		t.Fatalf("house next expiration while kitchen is locked = %v, want nil", next)
	}

	if err := e.Unlock("kitchen", "sleep", sec(200)); err != nil {
		t.Fatal(err)
	}
	// Lock snapshotted 290s of remaining duration at t=10 (300-10); unlock at
	// t=200 restores it relative to now: 200+290=490.
	if got := childSynthetic(); got == nil || !got.Equal(sec(490)) {
		t.Fatalf("child:kitchen expiry after unlock = %v, want 490", got)
	}
	next = e.GetNextExpiration(sec(200))
	if next == nil || !next.Equal(sec(490)) {
		t.Fatalf("house next expiration after unlock = %v, want 490", next)
	}
}

func TestFollowParentStrategy(t *testing.T) {
	tr := topology.New()
	mustCreate(t, tr, "house", "", true)
	mustCreate(t, tr, "hallway", "house", false)

	b := bus.New(nil)
	rec := &recorder{}
	rec.subscribe(b)
	e := New(tr, b, func(id string) LocationConfig {
		if id == "hallway" {
			return LocationConfig{Strategy: StrategyFollowParent, ContributesToParent: true}
		}
		return DefaultLocationConfig
	})

	// Direct triggers on a follower are silently dropped.
	if err := e.Trigger("hallway", "motion", dur(60), sec(0)); err != nil {
		t.Fatal(err)
	}
	st, _ := e.GetLocationState("hallway")
	if st.IsOccupied {
		t.Fatal("follow_parent location must ignore direct triggers")
	}

	if err := e.Trigger("house", "presence", nil, sec(0)); err != nil {
		t.Fatal(err)
	}
	st, _ = e.GetLocationState("hallway")
	if !st.IsOccupied {
		t.Fatal("hallway should mirror house becoming occupied")
	}
}

func TestForestInvariantAfterOperations(t *testing.T) {
	tr := topology.New()
	mustCreate(t, tr, "house", "", true)
	mustCreate(t, tr, "main_floor", "house", false)
	mustCreate(t, tr, "kitchen", "main_floor", false)
	e, _ := newTestEngine(t, tr)

	if err := e.Trigger("kitchen", "motion", dur(300), sec(0)); err != nil {
		t.Fatal(err)
	}

	mfState, _ := e.GetLocationState("main_floor")
	kState, _ := e.GetLocationState("kitchen")
	hasChildKitchen := false
	for _, c := range mfState.Contributions {
		if c.SourceID == "child:kitchen" {
			hasChildKitchen = true
		}
	}
	if kState.IsOccupied != hasChildKitchen {
		t.Fatalf("propagation consistency violated: kitchen occupied=%v, main_floor has child:kitchen=%v",
			kState.IsOccupied, hasChildKitchen)
	}
}

func mustCreate(t *testing.T, tr *topology.Tree, id, parentID string, root bool) {
	t.Helper()
	if err := tr.CreateLocation(id, id, parentID, root, nil, nil); err != nil {
		t.Fatalf("create %q: %v", id, err)
	}
}

package bus

import (
	"errors"
	"testing"

	"hometopology/internal/topology"
)

func TestPublishOrderAndFiltering(t *testing.T) {
	b := New(nil)
	var got []string

	b.Subscribe(Filter{EventType: "occupancy.changed"}, func(e Event) error {
		got = append(got, "occupancy:"+e.LocationID)
		return nil
	})
	b.Subscribe(Filter{EventType: "sensor.", EventTypePrefix: true}, func(e Event) error {
		got = append(got, "sensor:"+e.LocationID)
		return nil
	})

	b.Publish(Event{Type: "occupancy.changed", LocationID: "kitchen"})
	b.Publish(Event{Type: "sensor.state_changed", LocationID: "kitchen"})

	want := []string{"occupancy:kitchen", "sensor:kitchen"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestPrefixFilterRequiresFlag(t *testing.T) {
	b := New(nil)
	var matched bool
	b.Subscribe(Filter{EventType: "occupancy."}, func(e Event) error {
		matched = true
		return nil
	})
	b.Publish(Event{Type: "occupancy.changed"})
	if matched {
		t.Fatal("non-prefix filter should not match by prefix")
	}

	b.Subscribe(Filter{EventType: "occupancy.", EventTypePrefix: true}, func(e Event) error {
		matched = true
		return nil
	})
	matched = false
	b.Publish(Event{Type: "occupancy.changed"})
	if !matched {
		t.Fatal("prefix filter should have matched")
	}
}

func TestHandlerFailureIsolation(t *testing.T) {
	b := New(nil)
	var secondCalled bool
	b.Subscribe(Filter{}, func(e Event) error {
		return errors.New("boom")
	})
	b.Subscribe(Filter{}, func(e Event) error {
		secondCalled = true
		return nil
	})
	b.Publish(Event{Type: "x"})
	if !secondCalled {
		t.Fatal("failure in first handler should not block the second")
	}
}

func TestHandlerPanicIsolation(t *testing.T) {
	b := New(nil)
	var secondCalled bool
	b.Subscribe(Filter{}, func(e Event) error {
		panic("boom")
	})
	b.Subscribe(Filter{}, func(e Event) error {
		secondCalled = true
		return nil
	})
	b.Publish(Event{Type: "x"})
	if !secondCalled {
		t.Fatal("panic in first handler should not block the second")
	}
}

func TestReentrantPublish(t *testing.T) {
	b := New(nil)
	var order []string
	b.Subscribe(Filter{EventType: "outer"}, func(e Event) error {
		order = append(order, "outer-start")
		b.Publish(Event{Type: "inner"})
		order = append(order, "outer-end")
		return nil
	})
	b.Subscribe(Filter{EventType: "inner"}, func(e Event) error {
		order = append(order, "inner")
		return nil
	})
	b.Publish(Event{Type: "outer"})

	want := []string{"outer-start", "inner", "outer-end"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New(nil)
	var called bool
	id := b.Subscribe(Filter{}, func(e Event) error {
		called = true
		return nil
	})
	b.Unsubscribe(id)
	b.Publish(Event{Type: "x"})
	if called {
		t.Fatal("unsubscribed handler should not be called")
	}
}

func TestTreeAwareFilters(t *testing.T) {
	tr := topology.New()
	mustCreate(t, tr, "house", "", true)
	mustCreate(t, tr, "main_floor", "house", false)
	mustCreate(t, tr, "kitchen", "main_floor", false)

	b := New(nil)
	var descMatches, ancMatches []string

	b.Subscribe(Filter{IncludesDescendantsOf: "house", Tree: tr}, func(e Event) error {
		descMatches = append(descMatches, e.LocationID)
		return nil
	})
	b.Subscribe(Filter{IncludesAncestorsOf: "kitchen", Tree: tr}, func(e Event) error {
		ancMatches = append(ancMatches, e.LocationID)
		return nil
	})

	b.Publish(Event{Type: "occupancy.changed", LocationID: "kitchen"})
	b.Publish(Event{Type: "occupancy.changed", LocationID: "house"})

	if len(descMatches) != 1 || descMatches[0] != "kitchen" {
		t.Fatalf("descendant matches = %v, want [kitchen]", descMatches)
	}
	if len(ancMatches) != 1 || ancMatches[0] != "house" {
		t.Fatalf("ancestor matches = %v, want [house]", ancMatches)
	}
}

func mustCreate(t *testing.T, tr *topology.Tree, id, parentID string, root bool) {
	t.Helper()
	if err := tr.CreateLocation(id, id, parentID, root, nil, nil); err != nil {
		t.Fatalf("create %q: %v", id, err)
	}
}

package bus

import (
	"fmt"
	"log/slog"

	"hometopology/internal/logging"

	"github.com/google/uuid"
)

// Handler processes a single Event. A returned error is logged and
// swallowed; it never aborts dispatch of the remaining subscriptions.
type Handler func(Event) error

// Subscription is an opaque handle returned by Subscribe, usable with
// Unsubscribe.
type Subscription uuid.UUID

type subscription struct {
	id      Subscription
	handler Handler
	filter  Filter
}

// Bus is a synchronous, ordered, fault-isolated event dispatcher. A Bus is
// not safe for concurrent use; callers must serialize Subscribe/Unsubscribe/
// Publish onto a single execution context, same as the Tree and Engine.
type Bus struct {
	subs   []subscription
	logger *slog.Logger
}

// New returns an empty Bus. A nil logger discards all log output.
func New(logger *slog.Logger) *Bus {
	return &Bus{logger: logging.Default(logger).With("component", "bus")}
}

// Subscribe registers handler to receive every Event matching filter, in
// the order Publish is called. The returned Subscription can be passed to
// Unsubscribe.
func (b *Bus) Subscribe(filter Filter, handler Handler) Subscription {
	id := Subscription(uuid.New())
	b.subs = append(b.subs, subscription{id: id, handler: handler, filter: filter})
	return id
}

// Unsubscribe removes a subscription. No-op if id is unknown.
func (b *Bus) Unsubscribe(id Subscription) {
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish dispatches event to every matching subscription, in subscription
// order, on the calling goroutine, before returning. A handler that panics
// or returns an error is logged and skipped; dispatch of the remaining
// handlers continues. Re-entrant Publish calls from within a handler run to
// completion before the outer dispatch resumes.
func (b *Bus) Publish(event Event) {
	// Snapshot the subscription list: a handler may Subscribe/Unsubscribe
	// during dispatch, and that must not affect the in-flight Publish call.
	subs := append([]subscription(nil), b.subs...)
	for _, s := range subs {
		if !s.filter.Match(event) {
			continue
		}
		b.invoke(s, event)
	}
}

func (b *Bus) invoke(s subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"subscription", s.id,
				"event_type", event.Type,
				"panic", fmt.Sprint(r))
		}
	}()
	if err := s.handler(event); err != nil {
		b.logger.Error("event handler failed",
			"subscription", s.id,
			"event_type", event.Type,
			"error", err)
	}
}

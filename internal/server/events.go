package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"hometopology/internal/bus"
)

// handleEvents streams bus.Event traffic as Server-Sent Events. Query
// parameters narrow the Filter: event_type (optionally a dotted prefix via
// event_type_prefix=true), source, location_id, entity_id.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	q := r.URL.Query()
	filter := bus.Filter{
		EventType:       q.Get("event_type"),
		EventTypePrefix: q.Get("event_type_prefix") == "true",
		Source:          q.Get("source"),
		LocationID:      q.Get("location_id"),
		EntityID:        q.Get("entity_id"),
		Tree:            s.tree,
	}

	// Buffered so a slow client never blocks the dispatch goroutine that
	// runs the matching Bus.Publish call; a full buffer drops the event
	// rather than stall engine mutations.
	ch := make(chan bus.Event, 64)
	var subID bus.Subscription
	s.do(func() {
		subID = s.bus.Subscribe(filter, func(e bus.Event) error {
			select {
			case ch <- e:
			default:
			}
			return nil
		})
	})
	defer s.do(func() { s.bus.Unsubscribe(subID) })

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-ch:
			data, err := json.Marshal(e)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
			flusher.Flush()
		}
	}
}

// Package bus implements a synchronous, ordered, fault-isolated event
// dispatcher. Subscribers register a filter; publish walks subscriptions in
// registration order and never lets a handler failure abort dispatch of the
// rest.
package bus

import "time"

// Event is the unit of traffic on the Bus.
type Event struct {
	Type       string         `json:"type"`
	Source     string         `json:"source,omitempty"`
	LocationID string         `json:"location_id,omitempty"`
	EntityID   string         `json:"entity_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

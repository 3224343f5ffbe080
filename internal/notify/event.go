// Package notify pushes job lifecycle events to owning clients. Delivery is
// at-most-once: events for owners without a live connection are dropped, and
// clients fall back to polling. Consumers treat the progress percent as the
// display source of truth so late or duplicate events are harmless.
package notify

import "encoding/json"

// EventKind discriminates the wire messages a client receives.
type EventKind string

const (
	EventProgress  EventKind = "progress"
	EventComplete  EventKind = "complete"
	EventError     EventKind = "error"
	EventCancelled EventKind = "cancelled"
)

// Event is one status/progress update for a single job, routed to the room of
// its owner.
type Event struct {
	Kind    EventKind       `json:"kind"`
	JobID   string          `json:"job_id"`
	OwnerID string          `json:"owner_id"`
	Percent int             `json:"percent,omitempty"`
	Message string          `json:"message,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

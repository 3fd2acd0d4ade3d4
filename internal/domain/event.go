package domain

import "time"

// EventType discriminates the event variants. The set is closed; formatting
// and storage layers switch on it exhaustively.
type EventType string

const (
	EventMessage EventType = "MESSAGE"
	EventJoined  EventType = "JOINED"
	EventParted  EventType = "PARTED"
)

// Event is an immutable fact appended to a room's log. Sequence numbers are
// gapless and strictly increasing per room, starting at 0. Username is a
// snapshot of the member's display name at event time, not a live reference.
type Event struct {
	Sequence  uint64    `json:"sequenceNumber"`
	Type      EventType `json:"type"`
	Username  string    `json:"username"`
	Timestamp time.Time `json:"timestamp"`
	// Text is set for MESSAGE events only.
	Text string `json:"text,omitempty"`
}

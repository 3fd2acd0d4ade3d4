package core

import "github.com/dkeye/Parley/internal/domain"

// UpdateType discriminates the payloads pushed to room subscribers.
type UpdateType string

const (
	UpdateEvent       UpdateType = "EVENT"
	UpdateUsers       UpdateType = "USERS"
	UpdateInitialData UpdateType = "INITIAL_DATA"
)

// RoomUpdate is the payload fanned out to everyone subscribed to a room.
type RoomUpdate struct {
	Type   UpdateType     `json:"type"`
	Event  *domain.Event  `json:"event,omitempty"`
	Users  []string       `json:"users,omitempty"`
	Events []domain.Event `json:"events,omitempty"`
}

func EventUpdate(ev domain.Event) RoomUpdate {
	return RoomUpdate{Type: UpdateEvent, Event: &ev}
}

func UsersUpdate(users []string) RoomUpdate {
	return RoomUpdate{Type: UpdateUsers, Users: users}
}

// InitialDataUpdate carries the catch-up view sent to a freshly activated
// subscriber: current users plus the full event log.
func InitialDataUpdate(snap RoomSnapshot) RoomUpdate {
	return RoomUpdate{Type: UpdateInitialData, Users: snap.Users, Events: snap.Events}
}

// Publisher broadcasts an update to all parties subscribed to a room.
// Delivery is best-effort; the coordinator calls Publish only after its own
// state mutation has committed.
type Publisher interface {
	Publish(roomID domain.RoomID, update RoomUpdate)
}

// MultiPublisher fans a publish out to several backends.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(roomID domain.RoomID, update RoomUpdate) {
	for _, p := range m {
		p.Publish(roomID, update)
	}
}

// Package domain contains the chat entities and the validation rules that
// guard their construction. No transport or storage logic lives here.
package domain

type (
	RoomID string
	UserID string
)

// Room is a named channel. Rooms live for the process (or database) lifetime
// once created; there is no deletion path.
type Room struct {
	ID   RoomID `json:"id"`
	Name string `json:"name"`
}

// Status is a member's presence state within one room.
//
// The lifecycle is one-directional: PENDING (username reserved, not yet
// listening) -> ACTIVE (listening, shown in the user list) -> INACTIVE
// (left or disconnected, username released). The only way back is
// INACTIVE -> PENDING, and only while the released username is still
// unclaimed.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
)

// Member is one user's relationship to one room.
type Member struct {
	UserID   UserID `json:"userId"`
	Username string `json:"username"`
	Status   Status `json:"status"`
}

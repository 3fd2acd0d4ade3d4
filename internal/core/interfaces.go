// Package core declares the contracts between the coordination layer and its
// collaborators: the backing store and the fan-out publisher. Implementations
// live in internal/store and internal/adapters.
package core

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Parley/internal/domain"
)

// ErrNotFound is the storage-level miss. The app layer translates it into a
// domain.NotFoundError with context.
var ErrNotFound = errors.New("record not found")

// ErrRoomExists reports a room-id collision on insert. The registry reacts by
// regenerating the id.
var ErrRoomExists = errors.New("room id already exists")

// EventDraft is an event before the store assigns its sequence number.
type EventDraft struct {
	Type      domain.EventType
	Username  string
	Timestamp time.Time
	Text      string
}

// StatusChange is applied atomically with an event append when a presence
// transition and its event belong to the same logical operation.
type StatusChange struct {
	UserID domain.UserID
	Status domain.Status
}

// RoomStore is the persistence collaborator. Implementations need no internal
// per-room serialization: every mutating call arrives under the coordinator's
// room-keyed mutex. They must still be safe for concurrent use across rooms.
type RoomStore interface {
	// InsertRoom registers a new empty room. Returns ErrRoomExists when the
	// id is already taken.
	InsertRoom(ctx context.Context, room domain.Room) error
	// Room fetches a room by id. Returns ErrNotFound when absent.
	Room(ctx context.Context, id domain.RoomID) (domain.Room, error)
	// Rooms lists all rooms with their active-member counts. The view is a
	// cheap snapshot with no ordering guarantee beyond stable iteration.
	Rooms(ctx context.Context) ([]RoomSummary, error)

	// Member fetches one membership. The bool reports presence.
	Member(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (domain.Member, bool, error)
	// PutMember inserts or replaces a membership record.
	PutMember(ctx context.Context, roomID domain.RoomID, member domain.Member) error
	// UsernameTaken reports whether a PENDING or ACTIVE member of the room
	// already claims the username. INACTIVE members do not count.
	UsernameTaken(ctx context.Context, roomID domain.RoomID, username string) (bool, error)
	// ActiveUsernames lists display names of ACTIVE members.
	ActiveUsernames(ctx context.Context, roomID domain.RoomID) ([]string, error)
	// ActiveRooms lists the rooms where the user is currently ACTIVE.
	ActiveRooms(ctx context.Context, userID domain.UserID) ([]domain.RoomID, error)

	// Events returns the room's full event log in sequence order.
	Events(ctx context.Context, roomID domain.RoomID) ([]domain.Event, error)
	// AppendEvent assigns the next sequence number, appends the event, and,
	// when status is non-nil, applies the status change in the same atomic
	// unit. Sequence numbers start at 0 and are gapless per room.
	AppendEvent(ctx context.Context, roomID domain.RoomID, draft EventDraft, status *StatusChange) (domain.Event, error)
}

// RoomSummary is the lite listing row for room browsing.
type RoomSummary struct {
	ID          domain.RoomID `json:"id"`
	Name        string        `json:"name"`
	ActiveUsers int           `json:"activeUsers"`
}

// RoomSnapshot is the full read view of one room: sorted active usernames
// plus the complete event log.
type RoomSnapshot struct {
	Room   domain.Room    `json:"room"`
	Users  []string       `json:"users"`
	Events []domain.Event `json:"events"`
}

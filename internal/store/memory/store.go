// Package memory implements the room store as process-local maps. Rooms live
// for the process lifetime; the event log is a plain slice with a per-room
// sequence counter.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
)

type roomState struct {
	room    domain.Room
	members map[domain.UserID]domain.Member
	events  []domain.Event
	nextSeq uint64
}

// Store is safe for concurrent use across rooms. Per-room write ordering is
// the coordinator's job (room-keyed mutex), not this package's.
type Store struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*roomState
}

func New() *Store {
	return &Store{rooms: make(map[domain.RoomID]*roomState)}
}

func (s *Store) InsertRoom(_ context.Context, room domain.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[room.ID]; ok {
		return core.ErrRoomExists
	}
	s.rooms[room.ID] = &roomState{
		room:    room,
		members: make(map[domain.UserID]domain.Member),
	}
	return nil
}

func (s *Store) Room(_ context.Context, id domain.RoomID) (domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return domain.Room{}, core.ErrNotFound
	}
	return r.room, nil
}

func (s *Store) Rooms(_ context.Context) ([]core.RoomSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.RoomSummary, 0, len(s.rooms))
	for _, r := range s.rooms {
		active := 0
		for _, m := range r.members {
			if m.Status == domain.StatusActive {
				active++
			}
		}
		out = append(out, core.RoomSummary{ID: r.room.ID, Name: r.room.Name, ActiveUsers: active})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Member(_ context.Context, roomID domain.RoomID, userID domain.UserID) (domain.Member, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return domain.Member{}, false, core.ErrNotFound
	}
	m, ok := r.members[userID]
	return m, ok, nil
}

func (s *Store) PutMember(_ context.Context, roomID domain.RoomID, member domain.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return core.ErrNotFound
	}
	r.members[member.UserID] = member
	return nil
}

func (s *Store) UsernameTaken(_ context.Context, roomID domain.RoomID, username string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return false, core.ErrNotFound
	}
	for _, m := range r.members {
		if m.Username == username && m.Status != domain.StatusInactive {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ActiveUsernames(_ context.Context, roomID domain.RoomID) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, core.ErrNotFound
	}
	out := make([]string, 0, len(r.members))
	for _, m := range r.members {
		if m.Status == domain.StatusActive {
			out = append(out, m.Username)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) ActiveRooms(_ context.Context, userID domain.UserID) ([]domain.RoomID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.RoomID
	for id, r := range s.rooms {
		if m, ok := r.members[userID]; ok && m.Status == domain.StatusActive {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *Store) Events(_ context.Context, roomID domain.RoomID) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, core.ErrNotFound
	}
	out := make([]domain.Event, len(r.events))
	copy(out, r.events)
	return out, nil
}

func (s *Store) AppendEvent(_ context.Context, roomID domain.RoomID, draft core.EventDraft, status *core.StatusChange) (domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return domain.Event{}, core.ErrNotFound
	}
	if status != nil {
		if _, ok := r.members[status.UserID]; !ok {
			return domain.Event{}, core.ErrNotFound
		}
	}
	ev := domain.Event{
		Sequence:  r.nextSeq,
		Type:      draft.Type,
		Username:  draft.Username,
		Timestamp: draft.Timestamp,
		Text:      draft.Text,
	}
	r.nextSeq++
	r.events = append(r.events, ev)
	if status != nil {
		m := r.members[status.UserID]
		m.Status = status.Status
		r.members[status.UserID] = m
	}
	return ev, nil
}

// Package app is the coordination layer: the room coordinator (the public
// room-service contract) and the subscription tracker that drives presence
// transitions. All room mutations run under a per-room keyed mutex; a second
// keyed-mutex domain serializes each user's subscription-set transitions.
package app

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
	"github.com/dkeye/Parley/internal/keyedmutex"
	"github.com/rs/zerolog/log"
)

// Coordinator combines the registry, the backing store, and the room-keyed
// mutex into the public room-service contract. Updates are published to the
// fan-out collaborator after the state mutation commits, still inside the
// room's critical section so subscribers observe events in sequence order.
type Coordinator struct {
	store core.RoomStore
	pub   core.Publisher
	reg   *Registry
	rooms *keyedmutex.Mutex[domain.RoomID]
}

func NewCoordinator(store core.RoomStore, pub core.Publisher) *Coordinator {
	return &Coordinator{
		store: store,
		pub:   pub,
		reg:   NewRegistry(store),
		rooms: keyedmutex.New[domain.RoomID](),
	}
}

// CreateRoom validates the name and registers a new empty room.
func (c *Coordinator) CreateRoom(ctx context.Context, name string) (domain.RoomID, error) {
	return c.reg.Create(ctx, name)
}

// Room returns the full read view of a room: sorted active usernames plus
// the event log. The view is a snapshot; clients reconcile it against the
// live feed using sequence numbers.
func (c *Coordinator) Room(ctx context.Context, id domain.RoomID) (core.RoomSnapshot, error) {
	room, err := c.reg.Get(ctx, id)
	if err != nil {
		return core.RoomSnapshot{}, err
	}
	users, err := c.store.ActiveUsernames(ctx, id)
	if err != nil {
		return core.RoomSnapshot{}, err
	}
	events, err := c.store.Events(ctx, id)
	if err != nil {
		return core.RoomSnapshot{}, err
	}
	return core.RoomSnapshot{Room: room, Users: users, Events: events}, nil
}

// ListRooms returns the lite browsing view.
func (c *Coordinator) ListRooms(ctx context.Context) ([]core.RoomSummary, error) {
	return c.reg.List(ctx)
}

// Membership reports the caller's membership in a room, if any. Used by
// clients restoring a session.
func (c *Coordinator) Membership(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (domain.Member, bool, error) {
	return c.member(ctx, roomID, userID)
}

// AddUser reserves a username for the user as a PENDING member. It returns
// false, without mutating anything, when the username is already claimed by
// a PENDING or ACTIVE member. A user who already holds a PENDING or ACTIVE
// membership under a different name is rejected with an input error.
func (c *Coordinator) AddUser(ctx context.Context, roomID domain.RoomID, userID domain.UserID, username string) (bool, error) {
	if userID == "" {
		return false, domain.Inputf("value of %q is empty", "userId")
	}
	if err := domain.ValidateUsername(username); err != nil {
		return false, err
	}

	ok := false
	err := c.withRoom(roomID, func() error {
		taken, err := c.store.UsernameTaken(ctx, roomID, username)
		if err != nil {
			return c.roomErr(roomID, err)
		}
		if taken {
			return nil
		}
		member, exists, err := c.member(ctx, roomID, userID)
		if err != nil {
			return err
		}
		if exists && member.Status != domain.StatusInactive {
			return domain.Inputf("user %q is already in room %q", userID, roomID)
		}
		if err := c.store.PutMember(ctx, roomID, domain.Member{
			UserID:   userID,
			Username: username,
			Status:   domain.StatusPending,
		}); err != nil {
			return c.roomErr(roomID, err)
		}
		ok = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if ok {
		log.Info().Str("module", "app.coordinator").Str("room", string(roomID)).Str("user", string(userID)).Str("username", username).Msg("member pending")
	}
	return ok, nil
}

// Reactivate restores an INACTIVE member to PENDING if their previous
// username is still free. It reports whether the user may proceed to
// activate: true for an already PENDING/ACTIVE member, false when there is
// no membership or the username was reclaimed.
func (c *Coordinator) Reactivate(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (bool, error) {
	ok := false
	err := c.withRoom(roomID, func() error {
		member, exists, err := c.member(ctx, roomID, userID)
		if err != nil {
			return err
		}
		if !exists {
			return nil
		}
		if member.Status != domain.StatusInactive {
			ok = true
			return nil
		}
		taken, err := c.store.UsernameTaken(ctx, roomID, member.Username)
		if err != nil {
			return c.roomErr(roomID, err)
		}
		if taken {
			return nil
		}
		member.Status = domain.StatusPending
		if err := c.store.PutMember(ctx, roomID, member); err != nil {
			return c.roomErr(roomID, err)
		}
		ok = true
		return nil
	})
	return ok, err
}

// Activate transitions a PENDING member to ACTIVE, appending a Joined event.
// Activating an already ACTIVE member is a no-op returning nil, so a second
// subscription never yields a duplicate join event.
func (c *Coordinator) Activate(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (*domain.Event, error) {
	var ev *domain.Event
	err := c.withRoom(roomID, func() error {
		member, exists, err := c.member(ctx, roomID, userID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.NotFoundf("user %q is not in room %q", userID, roomID)
		}
		switch member.Status {
		case domain.StatusActive:
			return nil
		case domain.StatusInactive:
			// A socket can re-subscribe before the rejoin call lands. Allow
			// it only while the released username is still unclaimed.
			taken, err := c.store.UsernameTaken(ctx, roomID, member.Username)
			if err != nil {
				return c.roomErr(roomID, err)
			}
			if taken {
				return domain.NotFoundf("user %q no longer holds a membership in room %q", userID, roomID)
			}
		}
		appended, err := c.store.AppendEvent(ctx, roomID, core.EventDraft{
			Type:      domain.EventJoined,
			Username:  member.Username,
			Timestamp: time.Now().UTC(),
		}, &core.StatusChange{UserID: userID, Status: domain.StatusActive})
		if err != nil {
			return c.roomErr(roomID, err)
		}
		ev = &appended
		c.publishEvent(ctx, roomID, appended)
		c.publishUsers(ctx, roomID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if ev != nil {
		log.Info().Str("module", "app.coordinator").Str("room", string(roomID)).Str("user", string(userID)).Uint64("seq", ev.Sequence).Msg("member joined")
	}
	return ev, nil
}

// Deactivate transitions an ACTIVE member to INACTIVE, appending a Parted
// event and releasing the username. Deactivating a member who is not ACTIVE
// is a no-op returning nil.
func (c *Coordinator) Deactivate(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (*domain.Event, error) {
	var ev *domain.Event
	err := c.withRoom(roomID, func() error {
		appended, err := c.deactivateLocked(ctx, roomID, userID, true)
		if err != nil {
			return err
		}
		ev = appended
		return nil
	})
	if err != nil {
		return nil, err
	}
	if ev != nil {
		log.Info().Str("module", "app.coordinator").Str("room", string(roomID)).Str("user", string(userID)).Uint64("seq", ev.Sequence).Msg("member parted")
	}
	return ev, nil
}

// PostMessage appends a Message event attributed to the member's current
// display name. Posting does not require ACTIVE status; the membership
// lookup only resolves the name.
func (c *Coordinator) PostMessage(ctx context.Context, roomID domain.RoomID, userID domain.UserID, text string) (domain.Event, error) {
	if text == "" {
		return domain.Event{}, domain.Inputf("value of %q is empty", "text")
	}
	var ev domain.Event
	err := c.withRoom(roomID, func() error {
		member, exists, err := c.member(ctx, roomID, userID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.NotFoundf("user %q is not in room %q", userID, roomID)
		}
		appended, err := c.store.AppendEvent(ctx, roomID, core.EventDraft{
			Type:      domain.EventMessage,
			Username:  member.Username,
			Timestamp: time.Now().UTC(),
			Text:      text,
		}, nil)
		if err != nil {
			return c.roomErr(roomID, err)
		}
		ev = appended
		c.publishEvent(ctx, roomID, appended)
		return nil
	})
	return ev, err
}

// RemoveUserEverywhere deactivates the user in every room where they are
// currently ACTIVE, e.g. on full disconnect. Room locks are acquired one at
// a time, never two simultaneously, so unrelated rooms are never blocked on
// each other.
func (c *Coordinator) RemoveUserEverywhere(ctx context.Context, userID domain.UserID) (map[domain.RoomID]domain.Event, error) {
	roomIDs, err := c.store.ActiveRooms(ctx, userID)
	if err != nil {
		return nil, err
	}
	events := make(map[domain.RoomID]domain.Event, len(roomIDs))
	for _, roomID := range roomIDs {
		err := c.withRoom(roomID, func() error {
			ev, err := c.deactivateLocked(ctx, roomID, userID, false)
			if err != nil {
				return err
			}
			if ev != nil {
				events[roomID] = *ev
			}
			return nil
		})
		if err != nil {
			return events, err
		}
	}
	if len(events) > 0 {
		log.Info().Str("module", "app.coordinator").Str("user", string(userID)).Int("rooms", len(events)).Msg("removed from all rooms")
	}
	return events, nil
}

// deactivateLocked is the common ACTIVE -> INACTIVE transition. Callers hold
// the room lock. When requireMember is false a missing membership is treated
// as the no-op case rather than NotFound.
func (c *Coordinator) deactivateLocked(ctx context.Context, roomID domain.RoomID, userID domain.UserID, requireMember bool) (*domain.Event, error) {
	member, exists, err := c.member(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	if !exists {
		if requireMember {
			return nil, domain.NotFoundf("user %q is not in room %q", userID, roomID)
		}
		return nil, nil
	}
	if member.Status != domain.StatusActive {
		return nil, nil
	}
	appended, err := c.store.AppendEvent(ctx, roomID, core.EventDraft{
		Type:      domain.EventParted,
		Username:  member.Username,
		Timestamp: time.Now().UTC(),
	}, &core.StatusChange{UserID: userID, Status: domain.StatusInactive})
	if err != nil {
		return nil, c.roomErr(roomID, err)
	}
	c.publishEvent(ctx, roomID, appended)
	c.publishUsers(ctx, roomID)
	return &appended, nil
}

func (c *Coordinator) withRoom(roomID domain.RoomID, fn func() error) error {
	var err error
	c.rooms.Do(roomID, func() {
		err = fn()
	})
	return err
}

// member translates the store's room miss into the domain NotFound.
func (c *Coordinator) member(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (domain.Member, bool, error) {
	member, exists, err := c.store.Member(ctx, roomID, userID)
	if err != nil {
		return domain.Member{}, false, c.roomErr(roomID, err)
	}
	return member, exists, nil
}

func (c *Coordinator) roomErr(roomID domain.RoomID, err error) error {
	if errors.Is(err, core.ErrNotFound) {
		return domain.NotFoundf("no room with id %q", roomID)
	}
	return err
}

func (c *Coordinator) publishEvent(ctx context.Context, roomID domain.RoomID, ev domain.Event) {
	if c.pub == nil {
		return
	}
	c.pub.Publish(roomID, core.EventUpdate(ev))
}

func (c *Coordinator) publishUsers(ctx context.Context, roomID domain.RoomID) {
	if c.pub == nil {
		return
	}
	users, err := c.store.ActiveUsernames(ctx, roomID)
	if err != nil {
		log.Warn().Str("module", "app.coordinator").Str("room", string(roomID)).Err(err).Msg("active usernames for publish")
		return
	}
	c.pub.Publish(roomID, core.UsersUpdate(users))
}

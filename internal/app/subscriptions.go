package app

import (
	"context"
	"sync"

	"github.com/dkeye/Parley/internal/domain"
	"github.com/dkeye/Parley/internal/keyedmutex"
	"github.com/rs/zerolog/log"
)

// SubscriptionTracker multiplexes a user's physical subscriptions (one per
// session and subscription id, e.g. several tabs on several devices) down to
// one logical "is this user listening to this room" boolean, and calls into
// the coordinator only on edge transitions. All transitions for one user are
// serialized by a user-keyed mutex so a concurrent duplicate subscribe can
// never double-activate.
//
// Entries self-prune: empty subscription maps drop their session, sessions
// drop their user, so memory stays bounded by live subscriptions.
type SubscriptionTracker struct {
	coord *Coordinator
	users *keyedmutex.Mutex[domain.UserID]

	// mu guards the bindings maps themselves; the users mutex guards the
	// check-then-act spanning the coordinator call.
	mu       sync.RWMutex
	bindings map[domain.UserID]map[string]map[string]domain.RoomID
}

func NewSubscriptionTracker(coord *Coordinator) *SubscriptionTracker {
	return &SubscriptionTracker{
		coord:    coord,
		users:    keyedmutex.New[domain.UserID](),
		bindings: make(map[domain.UserID]map[string]map[string]domain.RoomID),
	}
}

// OnSubscribe binds (session, subscription) to a room. If this is the user's
// first live subscription to the room, the member is activated (and the join
// fanned out) before the binding is recorded.
func (t *SubscriptionTracker) OnSubscribe(ctx context.Context, userID domain.UserID, sessionID, subscriptionID string, roomID domain.RoomID) error {
	var err error
	t.users.Do(userID, func() {
		if !t.hasRoom(userID, roomID) {
			if _, err = t.coord.Activate(ctx, roomID, userID); err != nil {
				return
			}
		}
		t.record(userID, sessionID, subscriptionID, roomID)
	})
	if err != nil {
		return err
	}
	log.Debug().Str("module", "app.subscriptions").Str("user", string(userID)).Str("session", sessionID).Str("sub", subscriptionID).Str("room", string(roomID)).Msg("subscribed")
	return nil
}

// OnUnsubscribe removes one binding. If the user no longer holds any
// subscription to that room, the member is deactivated.
func (t *SubscriptionTracker) OnUnsubscribe(ctx context.Context, userID domain.UserID, sessionID, subscriptionID string) error {
	var err error
	t.users.Do(userID, func() {
		roomID, ok := t.remove(userID, sessionID, subscriptionID)
		if !ok || t.hasRoom(userID, roomID) {
			return
		}
		_, err = t.coord.Deactivate(ctx, roomID, userID)
	})
	return err
}

// OnDisconnect removes every subscription held by the session in one step
// and deactivates the user exactly once per room that lost its last
// reference, not once per removed subscription.
func (t *SubscriptionTracker) OnDisconnect(ctx context.Context, userID domain.UserID, sessionID string) error {
	var firstErr error
	t.users.Do(userID, func() {
		dropped := t.dropSession(userID, sessionID)
		for _, roomID := range dropped {
			if t.hasRoom(userID, roomID) {
				continue
			}
			if _, err := t.coord.Deactivate(ctx, roomID, userID); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	if firstErr == nil {
		log.Debug().Str("module", "app.subscriptions").Str("user", string(userID)).Str("session", sessionID).Msg("session disconnected")
	}
	return firstErr
}

// hasRoom reports whether any live binding for the user references the room.
func (t *SubscriptionTracker) hasRoom(userID domain.UserID, roomID domain.RoomID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, subs := range t.bindings[userID] {
		for _, r := range subs {
			if r == roomID {
				return true
			}
		}
	}
	return false
}

func (t *SubscriptionTracker) record(userID domain.UserID, sessionID, subscriptionID string, roomID domain.RoomID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sessions, ok := t.bindings[userID]
	if !ok {
		sessions = make(map[string]map[string]domain.RoomID)
		t.bindings[userID] = sessions
	}
	subs, ok := sessions[sessionID]
	if !ok {
		subs = make(map[string]domain.RoomID)
		sessions[sessionID] = subs
	}
	subs[subscriptionID] = roomID
}

func (t *SubscriptionTracker) remove(userID domain.UserID, sessionID, subscriptionID string) (domain.RoomID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sessions, ok := t.bindings[userID]
	if !ok {
		return "", false
	}
	subs, ok := sessions[sessionID]
	if !ok {
		return "", false
	}
	roomID, ok := subs[subscriptionID]
	if !ok {
		return "", false
	}
	delete(subs, subscriptionID)
	if len(subs) == 0 {
		delete(sessions, sessionID)
	}
	if len(sessions) == 0 {
		delete(t.bindings, userID)
	}
	return roomID, true
}

// dropSession removes the whole session and returns the distinct rooms its
// subscriptions referenced.
func (t *SubscriptionTracker) dropSession(userID domain.UserID, sessionID string) []domain.RoomID {
	t.mu.Lock()
	defer t.mu.Unlock()
	sessions, ok := t.bindings[userID]
	if !ok {
		return nil
	}
	subs, ok := sessions[sessionID]
	if !ok {
		return nil
	}
	delete(sessions, sessionID)
	if len(sessions) == 0 {
		delete(t.bindings, userID)
	}
	seen := make(map[domain.RoomID]struct{}, len(subs))
	var rooms []domain.RoomID
	for _, roomID := range subs {
		if _, dup := seen[roomID]; dup {
			continue
		}
		seen[roomID] = struct{}{}
		rooms = append(rooms, roomID)
	}
	return rooms
}

// subscriptionCount reports live bindings for a user; used by tests to check
// self-pruning.
func (t *SubscriptionTracker) subscriptionCount(userID domain.UserID) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, subs := range t.bindings[userID] {
		n += len(subs)
	}
	return n
}

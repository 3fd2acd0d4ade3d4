package app

import (
	"context"
	"sync"
	"testing"

	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
	"github.com/dkeye/Parley/internal/store/memory"
)

// capturePublisher records every published update, in order.
type capturePublisher struct {
	mu      sync.Mutex
	updates []core.RoomUpdate
	rooms   []domain.RoomID
}

func (p *capturePublisher) Publish(roomID domain.RoomID, update core.RoomUpdate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rooms = append(p.rooms, roomID)
	p.updates = append(p.updates, update)
}

func (p *capturePublisher) eventsOfType(typ domain.EventType) []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.Event
	for _, u := range p.updates {
		if u.Type == core.UpdateEvent && u.Event.Type == typ {
			out = append(out, *u.Event)
		}
	}
	return out
}

func newTestCoordinator(t *testing.T) (*Coordinator, *capturePublisher) {
	t.Helper()
	pub := &capturePublisher{}
	return NewCoordinator(memory.New(), pub), pub
}

func mustCreateRoom(t *testing.T, c *Coordinator, name string) domain.RoomID {
	t.Helper()
	id, err := c.CreateRoom(context.Background(), name)
	if err != nil {
		t.Fatalf("CreateRoom(%q): %v", name, err)
	}
	return id
}

func mustAddUser(t *testing.T, c *Coordinator, roomID domain.RoomID, userID domain.UserID, username string) {
	t.Helper()
	ok, err := c.AddUser(context.Background(), roomID, userID, username)
	if err != nil {
		t.Fatalf("AddUser(%s, %s): %v", userID, username, err)
	}
	if !ok {
		t.Fatalf("AddUser(%s, %s) = false", userID, username)
	}
}

func TestCreateRoomDistinctIDs(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t)

	a := mustCreateRoom(t, c, "General")
	b := mustCreateRoom(t, c, "General")
	if a == b {
		t.Fatalf("two rooms share id %q", a)
	}
	if len(a) != 6 {
		t.Fatalf("room id %q has length %d, want 6", a, len(a))
	}

	if _, err := c.Room(ctx, "zzzzzz"); !domain.IsNotFound(err) {
		t.Fatalf("Room on unknown id = %v, want NotFound", err)
	}
}

func TestCreateRoomValidation(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t)

	for _, name := range []string{"", " padded ", "way too long a room name!", "bad/chars"} {
		if _, err := c.CreateRoom(ctx, name); !domain.IsInput(err) {
			t.Errorf("CreateRoom(%q) = %v, want InputError", name, err)
		}
	}
}

func TestAddUserDuplicateUsername(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t)
	roomID := mustCreateRoom(t, c, "General")

	mustAddUser(t, c, roomID, "u1", "alice")

	ok, err := c.AddUser(ctx, roomID, "u2", "alice")
	if err != nil {
		t.Fatalf("second AddUser returned error %v, want ok=false", err)
	}
	if ok {
		t.Fatal("duplicate username accepted")
	}

	member, exists, err := c.Membership(ctx, roomID, "u1")
	if err != nil || !exists {
		t.Fatalf("Membership(u1): exists=%v err=%v", exists, err)
	}
	if member.Username != "alice" || member.Status != domain.StatusPending {
		t.Fatalf("u1 membership altered: %+v", member)
	}
	if _, exists, _ := c.Membership(ctx, roomID, "u2"); exists {
		t.Fatal("rejected AddUser still created a membership")
	}
}

func TestAddUserSecondNameRejected(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t)
	roomID := mustCreateRoom(t, c, "General")

	mustAddUser(t, c, roomID, "u1", "alice")
	if _, err := c.AddUser(ctx, roomID, "u1", "bob"); !domain.IsInput(err) {
		t.Fatalf("AddUser under a second name = %v, want InputError", err)
	}
}

func TestAddUserUnknownRoom(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t)
	if _, err := c.AddUser(ctx, "zzzzzz", "u1", "alice"); !domain.IsNotFound(err) {
		t.Fatalf("AddUser on unknown room = %v, want NotFound", err)
	}
}

func TestActivateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c, pub := newTestCoordinator(t)
	roomID := mustCreateRoom(t, c, "General")
	mustAddUser(t, c, roomID, "u1", "alice")

	ev, err := c.Activate(ctx, roomID, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if ev == nil || ev.Type != domain.EventJoined || ev.Sequence != 0 {
		t.Fatalf("first Activate = %+v", ev)
	}

	again, err := c.Activate(ctx, roomID, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if again != nil {
		t.Fatalf("second Activate produced event %+v", again)
	}

	if joins := pub.eventsOfType(domain.EventJoined); len(joins) != 1 {
		t.Fatalf("published %d Joined events, want 1", len(joins))
	}
}

func TestActivateWithoutMembership(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t)
	roomID := mustCreateRoom(t, c, "General")

	if _, err := c.Activate(ctx, roomID, "ghost"); !domain.IsNotFound(err) {
		t.Fatalf("Activate without membership = %v, want NotFound", err)
	}
}

func TestDeactivateLifecycle(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t)
	roomID := mustCreateRoom(t, c, "General")
	mustAddUser(t, c, roomID, "u1", "alice")

	// Not yet ACTIVE: no-op.
	ev, err := c.Deactivate(ctx, roomID, "u1")
	if err != nil || ev != nil {
		t.Fatalf("Deactivate while PENDING = (%+v, %v)", ev, err)
	}

	if _, err := c.Activate(ctx, roomID, "u1"); err != nil {
		t.Fatal(err)
	}
	ev, err = c.Deactivate(ctx, roomID, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if ev == nil || ev.Type != domain.EventParted || ev.Sequence != 1 {
		t.Fatalf("Deactivate = %+v", ev)
	}

	member, _, err := c.Membership(ctx, roomID, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if member.Status != domain.StatusInactive {
		t.Fatalf("status after deactivate = %s", member.Status)
	}

	if _, err := c.Deactivate(ctx, roomID, "ghost"); !domain.IsNotFound(err) {
		t.Fatalf("Deactivate without membership = %v, want NotFound", err)
	}
}

func TestPostMessageDoesNotRequireActive(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t)
	roomID := mustCreateRoom(t, c, "General")
	mustAddUser(t, c, roomID, "u1", "alice")

	ev, err := c.PostMessage(ctx, roomID, "u1", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if ev.Type != domain.EventMessage || ev.Username != "alice" || ev.Text != "hello" {
		t.Fatalf("message event = %+v", ev)
	}

	if _, err := c.PostMessage(ctx, roomID, "u1", ""); !domain.IsInput(err) {
		t.Fatalf("empty message = %v, want InputError", err)
	}
	if _, err := c.PostMessage(ctx, roomID, "ghost", "hi"); !domain.IsNotFound(err) {
		t.Fatalf("message without membership = %v, want NotFound", err)
	}
}

func TestRejoinFlow(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t)
	roomID := mustCreateRoom(t, c, "General")

	mustAddUser(t, c, roomID, "u1", "alice")
	if _, err := c.Activate(ctx, roomID, "u1"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Deactivate(ctx, roomID, "u1"); err != nil {
		t.Fatal(err)
	}

	// While u1 is INACTIVE the username is free for someone else.
	mustAddUser(t, c, roomID, "u2", "alice")

	ok, err := c.Reactivate(ctx, roomID, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("Reactivate succeeded although the username was reclaimed")
	}

	// Rejoining under a still-unclaimed name restores PENDING.
	mustAddUser(t, c, roomID, "u1", "alison")
	member, _, err := c.Membership(ctx, roomID, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if member.Username != "alison" || member.Status != domain.StatusPending {
		t.Fatalf("rejoined membership = %+v", member)
	}
}

func TestReactivateKeepsUsername(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t)
	roomID := mustCreateRoom(t, c, "General")

	mustAddUser(t, c, roomID, "u1", "alice")
	if _, err := c.Activate(ctx, roomID, "u1"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Deactivate(ctx, roomID, "u1"); err != nil {
		t.Fatal(err)
	}

	ok, err := c.Reactivate(ctx, roomID, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("Reactivate with a free username failed")
	}
	member, _, err := c.Membership(ctx, roomID, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if member.Username != "alice" || member.Status != domain.StatusPending {
		t.Fatalf("reactivated membership = %+v", member)
	}

	// Already PENDING: immediate success, no-op.
	ok, err = c.Reactivate(ctx, roomID, "u1")
	if err != nil || !ok {
		t.Fatalf("Reactivate while PENDING = (%v, %v)", ok, err)
	}

	// Unknown member: false without error.
	ok, err = c.Reactivate(ctx, roomID, "ghost")
	if err != nil || ok {
		t.Fatalf("Reactivate for unknown member = (%v, %v)", ok, err)
	}
}

func TestConcurrentWritersKeepSequencesGapless(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t)
	roomID := mustCreateRoom(t, c, "General")
	mustAddUser(t, c, roomID, "u1", "alice")

	const (
		writers  = 16
		messages = 50
	)
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < messages; i++ {
				if _, err := c.PostMessage(ctx, roomID, "u1", "x"); err != nil {
					t.Errorf("PostMessage: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	snap, err := c.Room(ctx, roomID)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Events) != writers*messages {
		t.Fatalf("got %d events, want %d", len(snap.Events), writers*messages)
	}
	for i, ev := range snap.Events {
		if ev.Sequence != uint64(i) {
			t.Fatalf("event %d has sequence %d; log is not gapless", i, ev.Sequence)
		}
	}
}

func TestRemoveUserEverywhere(t *testing.T) {
	ctx := context.Background()
	c, pub := newTestCoordinator(t)

	roomA := mustCreateRoom(t, c, "Alpha")
	roomB := mustCreateRoom(t, c, "Beta")
	roomC := mustCreateRoom(t, c, "Gamma")

	for _, roomID := range []domain.RoomID{roomA, roomB} {
		mustAddUser(t, c, roomID, "u1", "alice")
		if _, err := c.Activate(ctx, roomID, "u1"); err != nil {
			t.Fatal(err)
		}
	}
	// Member of C but never activated: must not part from it.
	mustAddUser(t, c, roomC, "u1", "alice")

	events, err := c.RemoveUserEverywhere(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("parted from %d rooms, want 2", len(events))
	}
	for _, roomID := range []domain.RoomID{roomA, roomB} {
		ev, ok := events[roomID]
		if !ok {
			t.Fatalf("no parted event for room %s", roomID)
		}
		if ev.Type != domain.EventParted {
			t.Fatalf("event for room %s = %+v", roomID, ev)
		}
	}
	if parts := pub.eventsOfType(domain.EventParted); len(parts) != 2 {
		t.Fatalf("published %d Parted events, want 2", len(parts))
	}
}

func TestListRoomsLite(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t)

	roomID := mustCreateRoom(t, c, "General")
	mustCreateRoom(t, c, "Quiet")
	mustAddUser(t, c, roomID, "u1", "alice")
	if _, err := c.Activate(ctx, roomID, "u1"); err != nil {
		t.Fatal(err)
	}

	rooms, err := c.ListRooms(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rooms) != 2 {
		t.Fatalf("got %d rooms, want 2", len(rooms))
	}
	counts := make(map[domain.RoomID]int)
	for _, r := range rooms {
		counts[r.ID] = r.ActiveUsers
	}
	if counts[roomID] != 1 {
		t.Fatalf("active count for %s = %d, want 1", roomID, counts[roomID])
	}
}

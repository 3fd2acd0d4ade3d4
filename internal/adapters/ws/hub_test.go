package ws

import (
	"encoding/json"
	"testing"

	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
)

func newTestClient(buffer int) *client {
	return &client{
		sessionID: "s1",
		userID:    "u1",
		send:      make(chan []byte, buffer),
		subs:      make(map[string]domain.RoomID),
	}
}

func TestHubDeliversToJoinedRoomOnly(t *testing.T) {
	hub := NewHub()
	a := newTestClient(4)
	b := newTestClient(4)
	hub.join(a, "room1")
	hub.join(b, "room2")

	hub.Publish("room1", core.UsersUpdate([]string{"alice"}))

	select {
	case payload := <-a.send:
		var frame serverFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			t.Fatal(err)
		}
		if frame.RoomID != "room1" || frame.Update.Type != core.UpdateUsers {
			t.Fatalf("frame = %+v", frame)
		}
	default:
		t.Fatal("subscriber of room1 received nothing")
	}

	select {
	case <-b.send:
		t.Fatal("subscriber of room2 received a room1 update")
	default:
	}
}

func TestHubDropsOnBackpressure(t *testing.T) {
	hub := NewHub()
	full := newTestClient(0)
	hub.join(full, "room1")

	// Must not block even though the buffer is full.
	hub.Publish("room1", core.UsersUpdate([]string{"alice"}))
}

func TestHubDropRemovesEverywhere(t *testing.T) {
	hub := NewHub()
	c := newTestClient(4)
	hub.join(c, "room1")
	hub.join(c, "room2")

	hub.drop(c)

	hub.Publish("room1", core.UsersUpdate(nil))
	hub.Publish("room2", core.UsersUpdate(nil))
	select {
	case <-c.send:
		t.Fatal("dropped client still receives updates")
	default:
	}
	if len(hub.rooms) != 0 {
		t.Fatalf("hub still tracks %d rooms", len(hub.rooms))
	}
}

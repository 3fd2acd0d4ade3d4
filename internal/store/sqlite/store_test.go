package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("Open with blank path succeeded")
	}
}

func TestRoomRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.InsertRoom(ctx, domain.Room{ID: "abc123", Name: "General"}); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertRoom(ctx, domain.Room{ID: "abc123", Name: "Other"}); !errors.Is(err, core.ErrRoomExists) {
		t.Fatalf("duplicate insert = %v, want ErrRoomExists", err)
	}

	room, err := s.Room(ctx, "abc123")
	if err != nil {
		t.Fatal(err)
	}
	if room.Name != "General" {
		t.Fatalf("room name = %q", room.Name)
	}

	if _, err := s.Room(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("missing room = %v, want ErrNotFound", err)
	}
}

func TestSequenceDerivedInsideTransaction(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	if err := s.InsertRoom(ctx, domain.Room{ID: "r1", Name: "General"}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 4; i++ {
		ev, err := s.AppendEvent(ctx, "r1", core.EventDraft{
			Type:      domain.EventMessage,
			Username:  "alice",
			Timestamp: time.Now(),
			Text:      "hi",
		}, nil)
		if err != nil {
			t.Fatalf("AppendEvent %d: %v", i, err)
		}
		if ev.Sequence != uint64(i) {
			t.Fatalf("event %d got sequence %d", i, ev.Sequence)
		}
	}

	events, err := s.Events(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	for i, ev := range events {
		if ev.Sequence != uint64(i) {
			t.Fatalf("stored event %d has sequence %d", i, ev.Sequence)
		}
	}
}

func TestAppendEventWithStatusChange(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	if err := s.InsertRoom(ctx, domain.Room{ID: "r1", Name: "General"}); err != nil {
		t.Fatal(err)
	}
	if err := s.PutMember(ctx, "r1", domain.Member{UserID: "u1", Username: "alice", Status: domain.StatusPending}); err != nil {
		t.Fatal(err)
	}

	if _, err := s.AppendEvent(ctx, "r1", core.EventDraft{
		Type:      domain.EventJoined,
		Username:  "alice",
		Timestamp: time.Now(),
	}, &core.StatusChange{UserID: "u1", Status: domain.StatusActive}); err != nil {
		t.Fatal(err)
	}

	m, ok, err := s.Member(ctx, "r1", "u1")
	if err != nil || !ok {
		t.Fatalf("Member: ok=%v err=%v", ok, err)
	}
	if m.Status != domain.StatusActive {
		t.Fatalf("status = %s, want ACTIVE", m.Status)
	}

	// A status change targeting a missing member must roll the event back.
	if _, err := s.AppendEvent(ctx, "r1", core.EventDraft{
		Type:      domain.EventParted,
		Username:  "ghost",
		Timestamp: time.Now(),
	}, &core.StatusChange{UserID: "ghost", Status: domain.StatusInactive}); err == nil {
		t.Fatal("append with missing member succeeded")
	}
	events, err := s.Events(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events after rollback, want 1", len(events))
	}
}

func TestUsernameTakenCountsPendingAndActiveOnly(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	if err := s.InsertRoom(ctx, domain.Room{ID: "r1", Name: "General"}); err != nil {
		t.Fatal(err)
	}
	if err := s.PutMember(ctx, "r1", domain.Member{UserID: "u1", Username: "alice", Status: domain.StatusInactive}); err != nil {
		t.Fatal(err)
	}

	taken, err := s.UsernameTaken(ctx, "r1", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if taken {
		t.Fatal("INACTIVE member's username reported as taken")
	}

	if err := s.PutMember(ctx, "r1", domain.Member{UserID: "u2", Username: "alice", Status: domain.StatusActive}); err != nil {
		t.Fatal(err)
	}
	taken, err = s.UsernameTaken(ctx, "r1", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !taken {
		t.Fatal("ACTIVE member's username reported as free")
	}
}

func TestRoomsCountsActiveMembers(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	if err := s.InsertRoom(ctx, domain.Room{ID: "r1", Name: "General"}); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertRoom(ctx, domain.Room{ID: "r2", Name: "Random"}); err != nil {
		t.Fatal(err)
	}
	if err := s.PutMember(ctx, "r1", domain.Member{UserID: "u1", Username: "alice", Status: domain.StatusActive}); err != nil {
		t.Fatal(err)
	}
	if err := s.PutMember(ctx, "r1", domain.Member{UserID: "u2", Username: "bob", Status: domain.StatusPending}); err != nil {
		t.Fatal(err)
	}

	rooms, err := s.Rooms(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rooms) != 2 {
		t.Fatalf("got %d rooms", len(rooms))
	}
	if rooms[0].ID != "r1" || rooms[0].ActiveUsers != 1 {
		t.Fatalf("r1 summary = %+v", rooms[0])
	}
	if rooms[1].ID != "r2" || rooms[1].ActiveUsers != 0 {
		t.Fatalf("r2 summary = %+v", rooms[1])
	}
}

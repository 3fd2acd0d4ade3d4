package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
	"github.com/rs/zerolog/log"
)

const (
	roomIDLen      = 6
	roomIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// Registry creates, looks up, and enumerates rooms. It owns the id policy:
// short random alphanumerics, regenerated on the (astronomically rare)
// collision.
type Registry struct {
	store core.RoomStore
}

func NewRegistry(store core.RoomStore) *Registry {
	return &Registry{store: store}
}

// Create validates the name, mints an id, and registers an empty room.
func (r *Registry) Create(ctx context.Context, name string) (domain.RoomID, error) {
	if err := domain.ValidateRoomName(name); err != nil {
		return "", err
	}
	for {
		id, err := newRoomID()
		if err != nil {
			return "", err
		}
		err = r.store.InsertRoom(ctx, domain.Room{ID: id, Name: name})
		if errors.Is(err, core.ErrRoomExists) {
			continue
		}
		if err != nil {
			return "", err
		}
		log.Info().Str("module", "app.registry").Str("room", string(id)).Str("name", name).Msg("room created")
		return id, nil
	}
}

// Get resolves a room id, translating a store miss into NotFound.
func (r *Registry) Get(ctx context.Context, id domain.RoomID) (domain.Room, error) {
	room, err := r.store.Room(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		return domain.Room{}, domain.NotFoundf("no room with id %q", id)
	}
	return room, err
}

// List returns the lite browsing view.
func (r *Registry) List(ctx context.Context) ([]core.RoomSummary, error) {
	return r.store.Rooms(ctx)
}

func newRoomID() (domain.RoomID, error) {
	buf := make([]byte, roomIDLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate room id: %w", err)
	}
	for i, b := range buf {
		buf[i] = roomIDAlphabet[int(b)%len(roomIDAlphabet)]
	}
	return domain.RoomID(buf), nil
}

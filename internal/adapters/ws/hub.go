package ws

import (
	"encoding/json"
	"sync"

	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
	"github.com/rs/zerolog/log"
)

// serverFrame is what subscribers receive: the room the update belongs to
// plus the update payload itself.
type serverFrame struct {
	RoomID domain.RoomID   `json:"roomId"`
	Update core.RoomUpdate `json:"update"`
}

// Hub is the in-process fan-out backend: it tracks which connections hold
// live subscriptions to which room and implements core.Publisher over them.
// Delivery is best-effort; a subscriber whose send buffer is full drops the
// frame and catches up from sequence numbers on its own.
type Hub struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[domain.RoomID]map[*client]struct{})}
}

func (h *Hub) Publish(roomID domain.RoomID, update core.RoomUpdate) {
	payload, err := json.Marshal(serverFrame{RoomID: roomID, Update: update})
	if err != nil {
		log.Error().Str("module", "ws.hub").Err(err).Msg("marshal update")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	sent, dropped := 0, 0
	for c := range h.rooms[roomID] {
		if err := c.trySend(payload); err != nil {
			dropped++
			continue
		}
		sent++
	}
	log.Debug().Str("module", "ws.hub").Str("room", string(roomID)).Int("sent_to", sent).Int("dropped", dropped).Msg("fanned out")
}

func (h *Hub) join(c *client, roomID domain.RoomID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.rooms[roomID]
	if !ok {
		set = make(map[*client]struct{})
		h.rooms[roomID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) leave(c *client, roomID domain.RoomID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.rooms[roomID]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.rooms, roomID)
	}
}

// drop removes the connection from every room it was receiving.
func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for roomID, set := range h.rooms {
		delete(set, c)
		if len(set) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

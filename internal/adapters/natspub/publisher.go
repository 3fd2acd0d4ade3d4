// Package natspub mirrors room updates onto NATS subjects so out-of-process
// consumers (history, bots, relays) can follow rooms without a socket on
// this server. One subject per room: room.updates.<id>.
package natspub

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const subjectPrefix = "room.updates."

type Publisher struct {
	nc *nats.Conn
}

func New(url string) (*Publisher, error) {
	nc, err := nats.Connect(url, nats.Name("parley-room-updates"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	log.Info().Str("module", "natspub").Str("url", url).Msg("connected")
	return &Publisher{nc: nc}, nil
}

func (p *Publisher) Publish(roomID domain.RoomID, update core.RoomUpdate) {
	payload, err := json.Marshal(update)
	if err != nil {
		log.Error().Str("module", "natspub").Err(err).Msg("marshal update")
		return
	}
	if err := p.nc.Publish(subjectPrefix+string(roomID), payload); err != nil {
		log.Warn().Str("module", "natspub").Str("room", string(roomID)).Err(err).Msg("publish")
	}
}

func (p *Publisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
	}
}

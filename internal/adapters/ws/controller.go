// Package ws is the subscription transport: one WebSocket connection is one
// session, frames carry subscribe/unsubscribe/message actions, and the hub
// fans room updates back out to subscribed connections.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Parley/internal/app"
	"github.com/dkeye/Parley/internal/config"
	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrBackpressure = errors.New("backpressure")

const sendBuffer = 32

// clientFrame is what the browser sends.
type clientFrame struct {
	Action         string        `json:"action"`
	SubscriptionID string        `json:"subscriptionId"`
	RoomID         domain.RoomID `json:"roomId"`
	Text           string        `json:"text"`
}

// errorFrame reports a rejected action back to the sender only.
type errorFrame struct {
	Error string `json:"error"`
}

type client struct {
	sessionID string
	userID    domain.UserID
	conn      *websocket.Conn
	send      chan []byte

	// subs is the connection-local view of its own subscriptions, touched
	// only by the read pump.
	subs map[string]domain.RoomID

	mu     sync.RWMutex
	closed bool
}

func (c *client) trySend(payload []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- payload:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// Controller upgrades HTTP requests and runs the per-connection pumps.
type Controller struct {
	cfg     *config.Config
	coord   *app.Coordinator
	tracker *app.SubscriptionTracker
	hub     *Hub
}

func NewController(cfg *config.Config, coord *app.Coordinator, tracker *app.SubscriptionTracker, hub *Hub) *Controller {
	return &Controller{cfg: cfg, coord: coord, tracker: tracker, hub: hub}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle runs one session. The user id comes from the session middleware;
// the session id is minted per connection.
func (ctl *Controller) Handle(ctx context.Context, c *gin.Context) {
	userID := domain.UserID(c.GetString("user_id"))
	sessionID := uuid.NewString()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Str("module", "ws").Err(err).Msg("upgrade")
		return
	}
	log.Info().Str("module", "ws").Str("user", string(userID)).Str("session", sessionID).Msg("session opened")

	cl := &client{
		sessionID: sessionID,
		userID:    userID,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		subs:      make(map[string]domain.RoomID),
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go ctl.writePump(ctx, cl)
	ctl.readPump(ctx, cl)

	// The socket is gone: release hub membership first so no further frames
	// are queued, then drive the presence transitions.
	ctl.hub.drop(cl)
	if err := ctl.tracker.OnDisconnect(ctx, userID, sessionID); err != nil {
		log.Warn().Str("module", "ws").Str("session", sessionID).Err(err).Msg("disconnect cleanup")
	}
	cl.close()
	log.Info().Str("module", "ws").Str("session", sessionID).Msg("session closed")
}

func (ctl *Controller) readPump(ctx context.Context, cl *client) {
	cl.conn.SetReadLimit(ctl.cfg.ReadLimit)
	deadline := ctl.cfg.PingPeriod + ctl.cfg.PingPeriod/2
	_ = cl.conn.SetReadDeadline(time.Now().Add(deadline))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, payload, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Str("module", "ws").Str("session", cl.sessionID).Err(err).Msg("read")
			}
			return
		}
		var frame clientFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			ctl.sendError(cl, "malformed frame")
			continue
		}
		ctl.dispatch(ctx, cl, frame)
	}
}

func (ctl *Controller) dispatch(ctx context.Context, cl *client, frame clientFrame) {
	switch frame.Action {
	case "subscribe":
		ctl.onSubscribe(ctx, cl, frame)
	case "unsubscribe":
		ctl.onUnsubscribe(ctx, cl, frame)
	case "message":
		if _, err := ctl.coord.PostMessage(ctx, frame.RoomID, cl.userID, frame.Text); err != nil {
			ctl.sendError(cl, err.Error())
		}
	default:
		ctl.sendError(cl, "unknown action")
	}
}

func (ctl *Controller) onSubscribe(ctx context.Context, cl *client, frame clientFrame) {
	if frame.SubscriptionID == "" || frame.RoomID == "" {
		ctl.sendError(cl, "subscribe needs subscriptionId and roomId")
		return
	}
	// Join the hub before activating so the subscriber cannot miss its own
	// join event; a failed activation rolls the hub membership back.
	ctl.hub.join(cl, frame.RoomID)
	if err := ctl.tracker.OnSubscribe(ctx, cl.userID, cl.sessionID, frame.SubscriptionID, frame.RoomID); err != nil {
		if !ctl.subscribedTo(cl, frame.RoomID) {
			ctl.hub.leave(cl, frame.RoomID)
		}
		ctl.sendError(cl, err.Error())
		return
	}
	cl.subs[frame.SubscriptionID] = frame.RoomID

	// Catch-up view for this subscriber only; the live feed is reconciled
	// against it by sequence number.
	snap, err := ctl.coord.Room(ctx, frame.RoomID)
	if err != nil {
		ctl.sendError(cl, err.Error())
		return
	}
	payload, err := json.Marshal(serverFrame{RoomID: frame.RoomID, Update: core.InitialDataUpdate(snap)})
	if err != nil {
		log.Error().Str("module", "ws").Err(err).Msg("marshal initial data")
		return
	}
	if err := cl.trySend(payload); err != nil {
		log.Warn().Str("module", "ws").Str("session", cl.sessionID).Err(err).Msg("send initial data")
	}
}

func (ctl *Controller) onUnsubscribe(ctx context.Context, cl *client, frame clientFrame) {
	roomID, ok := cl.subs[frame.SubscriptionID]
	if !ok {
		return
	}
	delete(cl.subs, frame.SubscriptionID)
	if err := ctl.tracker.OnUnsubscribe(ctx, cl.userID, cl.sessionID, frame.SubscriptionID); err != nil {
		log.Warn().Str("module", "ws").Str("session", cl.sessionID).Err(err).Msg("unsubscribe")
	}
	if !ctl.subscribedTo(cl, roomID) {
		ctl.hub.leave(cl, roomID)
	}
}

// subscribedTo reports whether the connection still holds a subscription to
// the room.
func (ctl *Controller) subscribedTo(cl *client, roomID domain.RoomID) bool {
	for _, r := range cl.subs {
		if r == roomID {
			return true
		}
	}
	return false
}

func (ctl *Controller) sendError(cl *client, msg string) {
	payload, err := json.Marshal(errorFrame{Error: msg})
	if err != nil {
		return
	}
	_ = cl.trySend(payload)
}

func (ctl *Controller) writePump(ctx context.Context, cl *client) {
	ticker := time.NewTicker(ctl.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-cl.send:
			if !ok {
				return
			}
			_ = cl.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := cl.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Warn().Str("module", "ws").Str("session", cl.sessionID).Err(err).Msg("write")
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

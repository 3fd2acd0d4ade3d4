package httpapi

import (
	"net/http"

	"github.com/dkeye/Parley/internal/app"
	"github.com/dkeye/Parley/internal/domain"
	"github.com/gin-gonic/gin"
)

type handlers struct {
	coord *app.Coordinator
}

type createRoomRequest struct {
	Name string `json:"name"`
}

type createRoomResponse struct {
	ID domain.RoomID `json:"id"`
}

type joinRoomRequest struct {
	Username string `json:"username"`
}

// joinRoomResponse reports whether the username was accepted. A rejected
// name is a normal outcome the client retries with a different one.
type joinRoomResponse struct {
	OK bool `json:"ok"`
}

func (h *handlers) createRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed body"})
		return
	}
	id, err := h.coord.CreateRoom(c.Request.Context(), req.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, createRoomResponse{ID: id})
}

func (h *handlers) listRooms(c *gin.Context) {
	rooms, err := h.coord.ListRooms(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rooms)
}

func (h *handlers) getRoom(c *gin.Context) {
	snap, err := h.coord.Room(c.Request.Context(), domain.RoomID(c.Param("id")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// membership lets a returning client discover whether it already holds a
// name in the room before prompting for one.
func (h *handlers) membership(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))
	userID := domain.UserID(c.GetString("user_id"))

	member, exists, err := h.coord.Membership(c.Request.Context(), roomID, userID)
	if err != nil {
		writeError(c, err)
		return
	}
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "no membership"})
		return
	}
	c.JSON(http.StatusOK, member)
}

// joinRoom reserves a username as a PENDING member. Without a username in
// the body it attempts a rejoin under the previously held name instead.
func (h *handlers) joinRoom(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))
	userID := domain.UserID(c.GetString("user_id"))

	var req joinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed body"})
		return
	}

	var (
		ok  bool
		err error
	)
	if req.Username == "" {
		ok, err = h.coord.Reactivate(c.Request.Context(), roomID, userID)
	} else {
		ok, err = h.coord.AddUser(c.Request.Context(), roomID, userID, req.Username)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, joinRoomResponse{OK: ok})
}

type postMessageRequest struct {
	Text string `json:"text"`
}

func (h *handlers) postMessage(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))
	userID := domain.UserID(c.GetString("user_id"))

	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed body"})
		return
	}
	ev, err := h.coord.PostMessage(c.Request.Context(), roomID, userID, req.Text)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ev)
}

// writeError translates the domain taxonomy into HTTP statuses: input errors
// are client mistakes, missing references are 404, anything else is internal.
func writeError(c *gin.Context, err error) {
	switch {
	case domain.IsInput(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case domain.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// Package httpapi exposes the room operations over REST and hosts the
// WebSocket endpoint. Identity is a cookie-backed user id minted on first
// contact; the coordinator treats it as an opaque, stable identifier.
package httpapi

import (
	"context"

	"github.com/dkeye/Parley/internal/adapters/ws"
	"github.com/dkeye/Parley/internal/app"
	"github.com/dkeye/Parley/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// UserIDMiddleware assigns a stable user id to first-time visitors and makes
// it available to handlers under the "user_id" key.
func UserIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		userID, _ := session.Get("user_id").(string)
		if userID == "" {
			userID = uuid.NewString()
			session.Set("user_id", userID)
			if err := session.Save(); err != nil {
				log.Warn().Str("module", "httpapi").Err(err).Msg("save session")
			}
		}
		c.Set("user_id", userID)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, coord *app.Coordinator, tracker *app.SubscriptionTracker, hub *ws.Hub) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("ParleySessions", store))
	r.Use(UserIDMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	h := &handlers{coord: coord}
	api := r.Group("/api")
	api.POST("/rooms", h.createRoom)
	api.GET("/rooms", h.listRooms)
	api.GET("/rooms/:id", h.getRoom)
	api.GET("/rooms/:id/me", h.membership)
	api.POST("/rooms/:id/users", h.joinRoom)
	api.POST("/rooms/:id/messages", h.postMessage)

	ctl := ws.NewController(cfg, coord, tracker, hub)
	api.GET("/ws", func(c *gin.Context) {
		ctl.Handle(ctx, c)
	})

	log.Info().Str("module", "httpapi").Str("static", cfg.StaticPath).Msg("router setup")
	return r
}

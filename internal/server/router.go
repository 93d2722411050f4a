package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"medevent/internal/auth"
	"medevent/internal/chat"
	"medevent/internal/config"
	"medevent/internal/metrics"
	"medevent/internal/models"
	"medevent/internal/mw"
	"medevent/internal/service"
	"medevent/internal/ws"
)

// Deps are the long-lived components the router wires together. Users backs
// the participant profiles in room listings and may be nil.
type Deps struct {
	Config  config.Config
	DB      *gorm.DB
	Hub     *ws.Hub
	Relay   *chat.Relay
	Rooms   service.RoomStore
	Users   service.Directory
	Limiter *mw.Limiter
}

func SetupRouter(d Deps) *gin.Engine {
	cfg := d.Config
	resolver := d.Relay.Resolver()
	h := NewHandler(
		service.NewUserService(d.DB, cfg),
		service.NewRoomService(d.Rooms, d.Users, resolver),
		service.NewMessageService(d.Relay),
		resolver,
	)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(mw.RequestLogger())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env, cfg.CORSOrigins))
	if d.Limiter != nil {
		r.Use(d.Limiter.Middleware())
	}

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", ws.Serve(d.Hub, d.Relay, cfg))

	api := r.Group("/api")
	api.GET("/health", h.Health)
	api.POST("/auth/signup", h.Signup)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/refresh", h.RefreshToken)

	authed := api.Group("")
	authed.Use(auth.AuthMiddleware(cfg, d.DB))
	authed.POST("/messages", h.PostMessage)
	authed.GET("/messages/:roomId", h.ListMessages)
	authed.POST("/chat-rooms", h.CreateChatRoom)
	authed.GET("/chat-rooms/:userId", h.ListChatRooms)
	authed.GET("/doctors", h.ListDoctors)
	authed.GET("/user-profile/:userId", h.GetProfile)
	authed.PUT("/user-profile/:userId", h.UpdateProfile)

	admin := authed.Group("/admin")
	admin.Use(auth.RequireRole(models.RoleAdmin))
	admin.GET("/support-rooms", h.SupportInbox)

	return r
}

package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/1zbbxzak1/EventHubBot/pkg/logger"
	"github.com/1zbbxzak1/EventHubBot/pkg/middleware"
	"github.com/1zbbxzak1/EventHubBot/pkg/telemetry"
)

// RouterConfig contains what the HTTP surface is built from
type RouterConfig struct {
	Workshops *WorkshopHandler
	Admin     *AdminHandler
	Health    *HealthHandler
	// Metrics is mounted at /metrics when set
	Metrics http.Handler
	// Idempotency guards write routes when set
	Idempotency *middleware.IdempotencyConfig
	AdminIDs    []string
	// JWTSecret switches identity from the X-User-ID header to Bearer tokens
	JWTSecret []byte
	Logger    *logger.Logger
	Tracing   bool
}

// NewRouter registers every route on a fresh gin engine
func NewRouter(cfg *RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Tracing {
		router.Use(telemetry.TracingMiddleware())
	}
	if cfg.Logger != nil {
		router.Use(middleware.Logger(cfg.Logger))
	}

	router.GET("/health", cfg.Health.Health)
	router.GET("/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	idempotent := func(c *gin.Context) { c.Next() }
	if cfg.Idempotency != nil {
		idempotent = middleware.Idempotency(cfg.Idempotency)
	}

	identity := middleware.RequireUser()
	if len(cfg.JWTSecret) > 0 {
		identity = middleware.RequireToken(cfg.JWTSecret)
	}

	v1 := router.Group("/api/v1", identity)
	{
		workshops := v1.Group("/workshops")
		workshops.GET("", cfg.Workshops.List)
		workshops.GET("/upcoming", cfg.Workshops.Upcoming)
		workshops.GET("/:id", cfg.Workshops.Get)
		workshops.POST("/:id/register", idempotent, cfg.Workshops.Register)
		workshops.POST("/:id/cancel", idempotent, cfg.Workshops.Cancel)
		workshops.POST("/:id/confirm", idempotent, cfg.Workshops.Confirm)

		v1.GET("/me/registrations", cfg.Workshops.MyRegistrations)

		admin := v1.Group("/admin/workshops", middleware.RequireAdmin(cfg.AdminIDs))
		admin.POST("", cfg.Admin.Create)
		admin.PUT("/:id", cfg.Admin.Update)
		admin.DELETE("/:id", cfg.Admin.Delete)
		admin.GET("/:id/participants", cfg.Admin.Participants)
		admin.POST("/:id/participants", idempotent, cfg.Admin.AddParticipant)
		admin.DELETE("/:id/participants/:userId", cfg.Admin.RemoveParticipant)
		admin.GET("/:id/waitlist", cfg.Admin.Waitlist)
		admin.GET("/:id/attendance", cfg.Admin.Attendance)
		admin.POST("/:id/attendance", cfg.Admin.MarkAttendance)
	}

	return router
}

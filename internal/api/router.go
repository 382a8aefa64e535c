package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"gatepass-backend/config"
	"gatepass-backend/internal/metrics"
	"gatepass-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, cfg config.ServerConfig, m *metrics.Metrics, log *zap.Logger) *gin.Engine {
	if log == nil {
		log = zap.NewNop()
	}
	r := gin.New()
	r.Use(mw.Logger(log.Named("http")), mw.Recovery(log))

	r.GET("/metrics", gin.WrapH(m.Handler()))
	r.GET("/healthz", h.Health)

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst, mw.ClientKey(cfg.RequestIPHeader))

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.POST("/events", h.PostEvent)
		api.GET("/events", h.ListEvents)

		api.GET("/overstays", h.ListOverstays)
		api.POST("/overstays/:id/resolve", h.ResolveOverstay)

		outside := []gin.HandlerFunc{h.GetOutside}
		if h.outside != nil {
			outside = append([]gin.HandlerFunc{h.outside.Middleware()}, outside...)
		}
		api.GET("/presence/outside", outside...)

		api.GET("/notifications", h.ListNotifications)

		api.GET("/subscriptions", h.GetSubscription)
		api.PUT("/subscriptions", h.PutSubscription)
		api.DELETE("/subscriptions", h.DeleteSubscription)
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})
	return r
}

// Health reports whether the database answers.
func (h *Handler) Health(c *gin.Context) {
	sqlDB, err := h.store.DB().DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		h.log.Warn("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"timeclock-backend/config"
	"timeclock-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, cfg *config.ServerConfig) *gin.Engine {
	r := gin.Default()

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), 5)

	cacheTTL := time.Duration(cfg.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(cacheTTL, 2*cacheTTL)
	caching := mw.Cache(cacheStore, cacheTTL)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.POST("/fence-events", h.PostFenceEvent)
		api.POST("/fence-events/snapshot", h.PostFenceSnapshot)

		api.GET("/tracking", h.GetTracking)
		api.POST("/tracking/start", h.StartTracking)
		api.POST("/tracking/stop", h.StopTracking)
		api.POST("/tracking/pause", h.PauseTracking)
		api.POST("/tracking/resume", h.ResumeTracking)
		api.POST("/tracking/dismiss", h.DismissTracking)

		api.GET("/entries", h.GetEntries)
		api.PUT("/entries", h.UpsertEntry)
		api.DELETE("/entries/:id", h.DeleteEntry)
		api.POST("/entries/absence", h.RecordAbsence)
		api.POST("/entries/:id/verify", h.VerifyEntry)

		api.GET("/locations", caching, h.GetLocations)

		api.GET("/sync/status", h.SyncStatus)
		api.POST("/sync/kick", h.SyncKick)

		api.PUT("/subscriptions", h.PutSubscription)
		api.DELETE("/subscriptions", h.DeleteSubscription)
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)
	}

	// Remote-store side of the sync protocol, for server deployments.
	syncGroup := r.Group("/sync")
	{
		syncGroup.POST("/push", h.SyncPush)
		syncGroup.GET("/pull", h.SyncPull)
	}

	return r
}

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"timeclock-backend/internal/model"
)

// pushRequest mirrors sync.PushRequest; declared here so the server side has
// no dependency on the client package.
type pushRequest struct {
	Entries []model.DailyHoursEntry `json:"entries"`
}

// SyncPush handles POST /sync/push: the remote-store side of a push batch.
// Acceptance is per row and replays are no-ops.
func (h *Handler) SyncPush(c *gin.Context) {
	var req pushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	accepted, rejected, err := h.store.AcceptPushed(c.Request.Context(), req.Entries)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"accepted": accepted,
		"rejected": rejected,
	})
}

// SyncPull handles GET /sync/pull?since=&limit=&offset=.
func (h *Handler) SyncPull(c *gin.Context) {
	since := time.Time{}
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'since' timestamp, use RFC3339"})
			return
		}
		since = parsed
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	entries, err := h.store.EntriesSince(c.Request.Context(), since, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if entries == nil {
		entries = []model.DailyHoursEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// SyncStatus handles GET /api/sync/status.
func (h *Handler) SyncStatus(c *gin.Context) {
	if h.reconciler == nil {
		c.JSON(http.StatusOK, gin.H{"state": "disabled"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": string(h.reconciler.State())})
}

// SyncKick handles POST /api/sync/kick: the connectivity-restored /
// app-foregrounded signal.
func (h *Handler) SyncKick(c *gin.Context) {
	if h.reconciler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sync is disabled"})
		return
	}
	h.reconciler.Kick()
	c.Status(http.StatusAccepted)
}

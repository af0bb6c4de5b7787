package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"timeclock-backend/internal/geofence"
)

type fenceEventRequest struct {
	FenceID        int64     `json:"fenceId" binding:"required"`
	Transition     string    `json:"transition" binding:"required,oneof=enter exit"`
	OccurredAt     time.Time `json:"occurredAt" binding:"required"`
	AccuracyMeters float64   `json:"accuracyMeters"`
}

// PostFenceEvent handles POST /api/fence-events: the geofence event source's
// callback into the core. Events go through the debouncer; nothing here
// touches the ledger directly.
func (h *Handler) PostFenceEvent(c *gin.Context) {
	var req fenceEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.debouncer.Observe(geofence.Event{
		FenceID:        req.FenceID,
		Transition:     geofence.Transition(req.Transition),
		OccurredAt:     req.OccurredAt,
		AccuracyMeters: req.AccuracyMeters,
	})
	c.Status(http.StatusAccepted)
}

type fenceSnapshotRequest struct {
	InsideFenceIDs []int64 `json:"insideFenceIds"`
}

// PostFenceSnapshot handles POST /api/fence-events/snapshot: the event
// source's report of which fences the device is currently inside. Used to
// reconcile a persisted session after a process restart.
func (h *Handler) PostFenceSnapshot(c *gin.Context) {
	var req fenceSnapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.tracker.Reload(c.Request.Context(), req.InsideFenceIDs); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

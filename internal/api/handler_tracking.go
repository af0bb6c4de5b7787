package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"timeclock-backend/internal/model"
	"timeclock-backend/internal/tracker"
)

// trackingResponse is the wire form of the active session.
type trackingResponse struct {
	LocationID    int64      `json:"locationId"`
	LocationName  string     `json:"locationName"`
	EnterAt       time.Time  `json:"enterAt"`
	Source        string     `json:"source"`
	Paused        bool       `json:"paused"`
	PausedMinutes int        `json:"pausedMinutes"`
	PauseStartAt  *time.Time `json:"pauseStartAt,omitempty"`
}

func toTrackingResponse(a *model.ActiveTracking) trackingResponse {
	return trackingResponse{
		LocationID:    a.LocationID,
		LocationName:  a.LocationName,
		EnterAt:       a.EnterAt,
		Source:        string(a.Source),
		Paused:        a.Paused(),
		PausedMinutes: int(a.PauseTotal(time.Now()).Minutes()),
		PauseStartAt:  a.PauseStartedAt,
	}
}

// GetTracking handles GET /api/tracking. 204 means off the clock.
func (h *Handler) GetTracking(c *gin.Context) {
	act, err := h.tracker.Active(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to read active tracking"})
		return
	}
	if act == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, toTrackingResponse(act))
}

type startTrackingRequest struct {
	LocationID int64 `json:"locationId" binding:"required"`
}

// StartTracking handles POST /api/tracking/start.
func (h *Handler) StartTracking(c *gin.Context) {
	var req startTrackingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	act, err := h.tracker.ManualStart(c.Request.Context(), req.LocationID)
	switch {
	case errors.Is(err, tracker.ErrSessionActive):
		c.JSON(http.StatusConflict, gin.H{"error": "a session is already active"})
	case errors.Is(err, tracker.ErrUnknownLocation):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown location"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusCreated, toTrackingResponse(act))
	}
}

// StopTracking handles POST /api/tracking/stop.
func (h *Handler) StopTracking(c *gin.Context) {
	err := h.tracker.ManualStop(c.Request.Context())
	switch {
	case errors.Is(err, tracker.ErrNoActiveSession):
		c.JSON(http.StatusConflict, gin.H{"error": "no session is active"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.Status(http.StatusNoContent)
	}
}

// PauseTracking handles POST /api/tracking/pause.
func (h *Handler) PauseTracking(c *gin.Context) {
	err := h.tracker.Pause(c.Request.Context())
	switch {
	case errors.Is(err, tracker.ErrNoActiveSession):
		c.JSON(http.StatusConflict, gin.H{"error": "no session is active"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.Status(http.StatusNoContent)
	}
}

// ResumeTracking handles POST /api/tracking/resume.
func (h *Handler) ResumeTracking(c *gin.Context) {
	err := h.tracker.Resume(c.Request.Context())
	switch {
	case errors.Is(err, tracker.ErrNoActiveSession):
		c.JSON(http.StatusConflict, gin.H{"error": "no session is active"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.Status(http.StatusNoContent)
	}
}

type dismissRequest struct {
	LocationID int64 `json:"locationId" binding:"required"`
}

// DismissTracking handles POST /api/tracking/dismiss: "not today" for a
// location, cleared at the next local midnight.
func (h *Handler) DismissTracking(c *gin.Context) {
	var req dismissRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.tracker.Dismiss(req.LocationID)
	c.Status(http.StatusNoContent)
}

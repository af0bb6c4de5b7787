package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"timeclock-backend/internal/aggregate"
	"timeclock-backend/internal/store"
)

type upsertEntryRequest struct {
	ID           string `json:"id"`
	Date         string `json:"date" binding:"required"`
	LocationID   int64  `json:"locationId"`
	LocationName string `json:"locationName"`
	TotalMinutes int    `json:"totalMinutes"`
	BreakMinutes int    `json:"breakMinutes"`
	FirstEntry   string `json:"firstEntry"`
	LastExit     string `json:"lastExit"`
	Notes        string `json:"notes"`
}

// UpsertEntry handles PUT /api/entries: manual creation and edits.
func (h *Handler) UpsertEntry(c *gin.Context) {
	var req upsertEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry, err := h.aggregator.Upsert(c.Request.Context(), aggregate.UpsertParams{
		ID:           req.ID,
		Date:         req.Date,
		LocationID:   req.LocationID,
		LocationName: req.LocationName,
		TotalMinutes: req.TotalMinutes,
		BreakMinutes: req.BreakMinutes,
		FirstEntry:   req.FirstEntry,
		LastExit:     req.LastExit,
		Notes:        req.Notes,
	})
	switch {
	case errors.Is(err, aggregate.ErrInvalidEntry):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, aggregate.ErrEntryDeleted), errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		h.kickSync()
		c.JSON(http.StatusOK, entry)
	}
}

// GetEntries handles GET /api/entries?start=&end= (RFC3339 timestamps).
func (h *Handler) GetEntries(c *gin.Context) {
	start, err := time.Parse(time.RFC3339, c.Query("start"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'start' timestamp, use RFC3339"})
		return
	}
	end, err := time.Parse(time.RFC3339, c.Query("end"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'end' timestamp, use RFC3339"})
		return
	}

	entries, err := h.aggregator.EntriesByPeriod(c.Request.Context(), start, end)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to list entries"})
		return
	}
	c.JSON(http.StatusOK, entries)
}

// DeleteEntry handles DELETE /api/entries/:id (soft delete).
func (h *Handler) DeleteEntry(c *gin.Context) {
	err := h.aggregator.Delete(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		h.kickSync()
		c.Status(http.StatusNoContent)
	}
}

type absenceRequest struct {
	Date   string `json:"date" binding:"required"`
	Reason string `json:"reason" binding:"required"`
}

// RecordAbsence handles POST /api/entries/absence.
func (h *Handler) RecordAbsence(c *gin.Context) {
	var req absenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry, err := h.aggregator.RecordAbsence(c.Request.Context(), req.Date, req.Reason)
	switch {
	case errors.Is(err, aggregate.ErrInvalidEntry):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		h.kickSync()
		c.JSON(http.StatusCreated, entry)
	}
}

type verifyRequest struct {
	Verified *bool `json:"verified" binding:"required"`
}

// VerifyEntry handles POST /api/entries/:id/verify.
func (h *Handler) VerifyEntry(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry, err := h.aggregator.Verify(c.Request.Context(), c.Param("id"), *req.Verified)
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, aggregate.ErrEntryDeleted):
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		h.kickSync()
		c.JSON(http.StatusOK, entry)
	}
}

// kickSync nudges the reconciler after a local edit so other devices see it
// soon. No-op when sync is disabled.
func (h *Handler) kickSync() {
	if h.reconciler != nil {
		h.reconciler.Kick()
	}
}

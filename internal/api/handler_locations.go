package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetLocations handles GET /api/locations: the registry read model used by
// the UI for names and colors.
func (h *Handler) GetLocations(c *gin.Context) {
	locations, err := h.store.Locations(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to list locations"})
		return
	}
	c.JSON(http.StatusOK, locations)
}

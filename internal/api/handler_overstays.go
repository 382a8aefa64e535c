package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"gatepass-backend/internal/overstay"
	"gatepass-backend/internal/parse"
)

// ListOverstays handles GET /api/overstays. Every parameter is optional:
// resolved defaults to false and minHours to the configured threshold.
func (h *Handler) ListOverstays(c *gin.Context) {
	from, err := parse.Timestamp(c.Query("from"), h.loc)
	if err != nil {
		badRequest(c, "invalid 'from' timestamp")
		return
	}
	to, err := parse.Timestamp(c.Query("to"), h.loc)
	if err != nil {
		badRequest(c, "invalid 'to' timestamp")
		return
	}

	refresh := parse.OptionalBool(c.Query("refresh"))
	views, err := h.service.ListOverstays(c.Request.Context(), overstay.ListFilter{
		Resolved: parse.OptionalBool(c.Query("resolved")),
		From:     from,
		To:       to,
		MinHours: parse.OptionalFloat(c.Query("minHours")),
		Refresh:  refresh != nil && *refresh,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

// ResolveOverstay handles POST /api/overstays/:id/resolve.
func (h *Handler) ResolveOverstay(c *gin.Context) {
	id := c.Param("id")
	if err := h.service.ResolveOverstay(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "resolved": true})
}

// GetOutside handles GET /api/presence/outside.
func (h *Handler) GetOutside(c *gin.Context) {
	out, err := h.service.CurrentlyOutside(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(out), "subjects": out})
}

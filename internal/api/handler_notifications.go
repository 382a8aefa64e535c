package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ListNotifications handles GET /api/notifications?account_id=.
func (h *Handler) ListNotifications(c *gin.Context) {
	accountID := c.Query("account_id")
	if accountID == "" {
		badRequest(c, "account_id is required")
		return
	}
	inbox, err := h.store.ListNotifications(c.Request.Context(), accountID, queryLimit(c, 50, 500))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, inbox)
}

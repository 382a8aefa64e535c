package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"gatepass-backend/internal/model"
	"gatepass-backend/internal/overstay"
	"gatepass-backend/internal/parse"
	"gatepass-backend/internal/store"
)

type postEventRequest struct {
	SubjectID string `json:"subject_id" binding:"required"`
	Action    string `json:"action" binding:"required"`
	Purpose   string `json:"purpose"`
	// ClientTimestamp is an RFC3339 string, a zone-less local time, or epoch
	// milliseconds as a number or string.
	ClientTimestamp any    `json:"client_timestamp"`
	Name            string `json:"name"`
	Group           string `json:"group"`
	Cohort          int    `json:"cohort"`
}

// PostEvent handles POST /api/events from a gate terminal.
func (h *Handler) PostEvent(c *gin.Context) {
	var req postEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	at, err := h.clientTimestamp(req.ClientTimestamp)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	ev, err := h.service.RecordEvent(c.Request.Context(), overstay.RecordEventInput{
		SubjectID:  req.SubjectID,
		Action:     req.Action,
		Purpose:    req.Purpose,
		At:         at,
		Name:       req.Name,
		Group:      req.Group,
		Cohort:     req.Cohort,
		RecordedBy: model.RecordedBySecurity,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	if h.outside != nil {
		h.outside.Flush()
	}
	c.JSON(http.StatusCreated, ev)
}

func (h *Handler) clientTimestamp(raw any) (*time.Time, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case float64:
		return parse.Timestamp(strconv.FormatInt(int64(v), 10), h.loc)
	case string:
		return parse.Timestamp(v, h.loc)
	default:
		return nil, fmt.Errorf("unsupported client_timestamp %v", raw)
	}
}

// ListEvents handles GET /api/events, newest first.
func (h *Handler) ListEvents(c *gin.Context) {
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

	events, err := h.store.QueryEvents(c.Request.Context(), store.EventQuery{
		Since:       from,
		Until:       to,
		SubjectID:   c.Query("subject_id"),
		NewestFirst: true,
		Limit:       queryLimit(c, 500, 5000),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"gatepass-backend/internal/mw"
	"gatepass-backend/internal/overstay"
	"gatepass-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	service *overstay.Service
	store   store.Store
	webpush *webpush.Options
	outside *mw.ResponseCache
	loc     *time.Location
	log     *zap.Logger
}

// NewHandler creates a new API handler. outside is the cache in front of the
// presence listing; it is flushed whenever an event is recorded.
func NewHandler(svc *overstay.Service, s store.Store, webpushOptions *webpush.Options, outside *mw.ResponseCache, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		service: svc,
		store:   s,
		webpush: webpushOptions,
		outside: outside,
		loc:     time.Local,
		log:     log.Named("api"),
	}
}

// writeError maps domain errors to status codes. Unknown errors are logged
// and reported as a generic 500.
func (h *Handler) writeError(c *gin.Context, err error) {
	var cooldown *overstay.CooldownError
	switch {
	case errors.As(err, &cooldown):
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(cooldown.Remaining.Seconds()))))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.Is(err, overstay.ErrInvalidAction), errors.Is(err, overstay.ErrMissingSubject), errors.Is(err, overstay.ErrInvalidMinHours):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		_ = c.Error(err)
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}

// queryLimit reads ?limit, clamped to [1, max].
func queryLimit(c *gin.Context, def, max int) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

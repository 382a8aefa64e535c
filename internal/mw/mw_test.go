package mw

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func get(r http.Handler, path string, header map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimiter_PerClientHeader(t *testing.T) {
	r := gin.New()
	r.Use(RateLimiter(rate.Limit(1), 2, ClientKey("X-Forwarded-For")))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	a := map[string]string{"X-Forwarded-For": "10.0.0.1, 172.16.0.1"}
	b := map[string]string{"X-Forwarded-For": "10.0.0.2"}

	assert.Equal(t, http.StatusOK, get(r, "/ping", a).Code)
	assert.Equal(t, http.StatusOK, get(r, "/ping", a).Code)
	w := get(r, "/ping", a)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"error":"too many requests"}`, w.Body.String())

	assert.Equal(t, http.StatusOK, get(r, "/ping", b).Code)
}

func TestResponseCache_ServesAndFlushes(t *testing.T) {
	var calls atomic.Int32
	rc := NewResponseCache(time.Minute)
	r := gin.New()
	r.GET("/outside", rc.Middleware(), func(c *gin.Context) {
		calls.Add(1)
		c.JSON(http.StatusOK, gin.H{"n": calls.Load()})
	})

	first := get(r, "/outside", nil)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
	second := get(r, "/outside", nil)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "application/json; charset=utf-8", second.Header().Get("Content-Type"))
	assert.Equal(t, int32(1), calls.Load())

	get(r, "/outside?x=1", nil)
	assert.Equal(t, int32(2), calls.Load())

	rc.Flush()
	assert.JSONEq(t, `{"n":3}`, get(r, "/outside", nil).Body.String())
}

func TestResponseCache_SkipsErrors(t *testing.T) {
	var calls atomic.Int32
	rc := NewResponseCache(time.Minute)
	r := gin.New()
	r.GET("/fail", rc.Middleware(), func(c *gin.Context) {
		calls.Add(1)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "boom"})
	})

	get(r, "/fail", nil)
	get(r, "/fail", nil)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(Logger(zap.NewNop()), Recovery(zap.NewNop()))
	r.GET("/panic", func(c *gin.Context) { panic("boom") })

	w := get(r, "/panic", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, w.Body.String())
}

package mw

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// idleLimiterTTL drops the limiter of a client that has been quiet this long.
const idleLimiterTTL = 10 * time.Minute

// KeyedRateLimiter holds one token bucket per client key.
type KeyedRateLimiter struct {
	limiters *cache.Cache
	mu       sync.Mutex
	r        rate.Limit
	b        int
}

// NewKeyedRateLimiter creates a limiter allowing r events per second with
// burst b for every key.
func NewKeyedRateLimiter(r rate.Limit, b int) *KeyedRateLimiter {
	return &KeyedRateLimiter{
		limiters: cache.New(idleLimiterTTL, 2*idleLimiterTTL),
		r:        r,
		b:        b,
	}
}

// Limiter returns the bucket for key, creating it on first use.
func (k *KeyedRateLimiter) Limiter(key string) *rate.Limiter {
	if l, ok := k.limiters.Get(key); ok {
		k.limiters.SetDefault(key, l)
		return l.(*rate.Limiter)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if l, ok := k.limiters.Get(key); ok {
		return l.(*rate.Limiter)
	}
	l := rate.NewLimiter(k.r, k.b)
	k.limiters.SetDefault(key, l)
	return l
}

// ClientKey identifies the caller by the first address in header, falling
// back to gin's ClientIP when the header is unset or empty.
func ClientKey(header string) func(*gin.Context) string {
	return func(c *gin.Context) string {
		if header != "" {
			if v := c.GetHeader(header); v != "" {
				if first, _, _ := strings.Cut(v, ","); strings.TrimSpace(first) != "" {
					return strings.TrimSpace(first)
				}
			}
		}
		return c.ClientIP()
	}
}

// RateLimiter rejects callers that exceed r requests per second with 429.
func RateLimiter(r rate.Limit, b int, key func(*gin.Context) string) gin.HandlerFunc {
	limiter := NewKeyedRateLimiter(r, b)
	if key == nil {
		key = ClientKey("")
	}
	return func(c *gin.Context) {
		if !limiter.Limiter(key(c)).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

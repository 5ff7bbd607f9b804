package middleware

import (
	"fmt"
	"time"

	"go_relay/internal/config"
	"go_relay/internal/httpx"
	"go_relay/internal/ratelimit"

	"github.com/gin-gonic/gin"
)

// RateLimit bounds request rate for one route class. Authenticated requests
// are keyed by identity id, anonymous ones by client IP. The limiter is
// policy-agnostic; each route class carries its own thresholds.
func RateLimit(limiter *ratelimit.Limiter, class string, policy config.RatePolicy) gin.HandlerFunc {
	window := time.Duration(policy.WindowSec) * time.Second
	return func(c *gin.Context) {
		key := class + ":"
		if uid, ok := c.Get("uid"); ok {
			key += fmt.Sprintf("uid:%v", uid)
		} else {
			key += "ip:" + c.ClientIP()
		}

		if !limiter.Allow(key, policy.MaxRequests, window) {
			httpx.FailErr(c, httpx.ErrRateLimited(""))
			c.Abort()
			return
		}

		c.Next()
	}
}

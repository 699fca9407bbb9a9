package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mailshare/internal/pkg/errcode"
	"github.com/xxxsen/mailshare/internal/pkg/response"
	"github.com/xxxsen/mailshare/internal/ratelimit"
)

// strictScope is the link scope shared by every public route, so one client
// IP has a single budget across them.
const strictScope = "public"

// RateLimit applies the strict tier to every request keyed by client IP. A
// disabled rule lets everything through without touching the limiter.
func RateLimit(limiter *ratelimit.Limiter, rule *ratelimit.Rule) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rule.Enabled() {
			c.Next()
			return
		}
		ip := c.ClientIP()
		res := limiter.Limit(c.Request.Context(), ip, strictScope, rule)
		if res.Allowed {
			c.Next()
			return
		}
		logutil.GetLogger(c.Request.Context()).Warn("rate limit hit",
			zap.String("ip", ip),
			zap.String("scope", rule.Scope),
			zap.String("path", c.FullPath()),
		)
		if res.RetryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(res.RetryAfter))
		}
		response.ErrorWithStatus(c, http.StatusTooManyRequests, errcode.ErrTooMany, http.StatusText(http.StatusTooManyRequests))
		c.Abort()
	}
}

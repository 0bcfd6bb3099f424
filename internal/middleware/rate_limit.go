package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/osvaldoandrade/felanmalan/internal/metrics"
	"github.com/osvaldoandrade/felanmalan/internal/ratelimit"
	"github.com/osvaldoandrade/felanmalan/pkg/config"
	"github.com/osvaldoandrade/felanmalan/pkg/domain"
)

// RateLimitErrands limits errand submissions per client IP.
func RateLimitErrands(lim ratelimit.Limiter, cfg *config.Config) gin.HandlerFunc {
	return rateLimitClientIP(lim, "errands", "create_errand", cfg.RateLimit.Errands)
}

func rateLimitClientIP(lim ratelimit.Limiter, scope string, operation string, wcfg config.RateLimitWindowConfig) gin.HandlerFunc {
	window := ratelimit.Window{Limit: wcfg.Limit, Period: time.Duration(wcfg.WindowSeconds) * time.Second}
	return func(c *gin.Context) {
		if lim == nil || !window.Enabled() {
			c.Next()
			return
		}

		dec, err := lim.Allow(c.Request.Context(), scope, c.ClientIP(), window)
		if err != nil {
			// Fail open to avoid turning Redis hiccups into outages.
			slog.Default().Warn("rate limit check failed", "scope", scope, "op", operation, "err", err)
			c.Next()
			return
		}
		c.Header("RateLimit-Limit", strconv.Itoa(window.Limit))
		if dec.Allowed {
			c.Header("RateLimit-Remaining", strconv.Itoa(dec.Remaining))
			c.Next()
			return
		}

		retryAfterSeconds := int((dec.RetryAfter + time.Second - 1) / time.Second)
		if retryAfterSeconds <= 0 {
			retryAfterSeconds = 1
		}
		c.Header("RateLimit-Remaining", "0")
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
		metrics.RateLimitHitsTotal.WithLabelValues(scope, operation).Inc()
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"message": domain.MsgTooManyRequests})
	}
}

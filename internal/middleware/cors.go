package middleware

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORSMiddleware admits requests without an Origin header, origins on the
// allow-list, and any origin when the list holds "*" or dev is set.
func CORSMiddleware(allowed []string, dev bool) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc:  OriginAllowed(allowed, dev),
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-Request-Id", "traceparent", "tracestate"},
		ExposeHeaders:    []string{"X-Request-Id", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

// OriginAllowed returns the origin predicate used by CORSMiddleware.
func OriginAllowed(allowed []string, dev bool) func(origin string) bool {
	set := make(map[string]bool, len(allowed))
	wildcard := false
	for _, o := range allowed {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			wildcard = true
		}
		if o != "" {
			set[o] = true
		}
	}
	return func(origin string) bool {
		if origin == "" || dev || wildcard {
			return true
		}
		return set[strings.TrimRight(origin, "/")]
	}
}

package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/osvaldoandrade/felanmalan/pkg/domain"
)

const requestIDHeader = "X-Request-Id"

func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(requestIDHeader)
		if reqID == "" || len(reqID) > 128 {
			reqID = uuid.NewString()
		}
		c.Writer.Header().Set(requestIDHeader, reqID)
		c.Request = c.Request.WithContext(domain.WithRequestID(c.Request.Context(), reqID))
		c.Set("request_id", reqID)
		c.Next()
	}
}

package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/labmart/pos/internal/logging"
)

const requestIDKey = "request_id"

// RequestID returns the id resolved by RequestLogger so logging and request
// dedup share one value, minting it here when the middleware is not
// installed.
func RequestID(c *gin.Context) string {
	if v, ok := c.Get(requestIDKey); ok {
		if id, ok := v.(string); ok && id != "" {
			return id
		}
	}
	id := c.GetHeader("X-Request-ID")
	if id == "" {
		id = uuid.NewString()
	}
	c.Set(requestIDKey, id)
	return id
}

// RequestLogger attaches a request-scoped logger carrying a request id and
// emits one line per request.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := RequestID(c)

		l := logging.New("http").With("request_id", requestID)
		logging.With(c, l)

		c.Next()

		l.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/supaocr/server/internal/requestid"
)

const maxInboundIDLen = 128

// WithRequestID assigns a correlation ID to every request. A caller-supplied
// X-Request-ID is kept when it is short enough; otherwise a new one is made.
// The ID is echoed in the response header and stored on the request context.
func WithRequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestid.Header)
		if id == "" || len(id) > maxInboundIDLen {
			id = requestid.New()
		}

		c.Request = c.Request.WithContext(requestid.With(c.Request.Context(), id))
		c.Header(requestid.Header, id)
		c.Next()
	}
}

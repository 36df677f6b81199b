package middleware

import (
	"net/http"

	"github.com/spb722/ai-companion/pkg/errors"

	"github.com/gin-gonic/gin"
)

// BodyLimit rejects requests whose body exceeds maxBytes. A declared
// Content-Length over the limit is rejected up front; chunked bodies are
// capped by the reader so a handler can never buffer more than the limit.
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.Error(errors.NewError(http.StatusRequestEntityTooLarge,
				errors.CodeInvalidRequest, "Request body too large."))
			c.Abort()
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

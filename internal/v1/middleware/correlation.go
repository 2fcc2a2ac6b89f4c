// Package middleware holds the gin middleware shared by the admin and
// WebSocket surfaces.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/huddlekit/signaling/internal/v1/logging"
)

// HeaderXCorrelationID carries a request's correlation id end to end.
const HeaderXCorrelationID = "X-Correlation-ID"

// CorrelationID propagates the caller's correlation id, minting one when the
// request arrives without it. The id is echoed on the response and stored in
// the gin context under the logging key so request logs carry it.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderXCorrelationID)
		if id == "" {
			id = uuid.New().String()
		}

		c.Header(HeaderXCorrelationID, id)
		c.Set(string(logging.CorrelationIDKey), id)

		c.Next()
	}
}

// Package middleware contains Gin middleware shared across the
// real-time core's HTTP-facing endpoints.
package middleware

import (
	"context"

	"github.com/arkanwolfshade/mythosmud/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderXCorrelationID is the header key for the correlation ID.
const HeaderXCorrelationID = "X-Correlation-ID"

// CorrelationID adds a correlation ID to the request context, generating
// one when the caller didn't supply it. Log lines written through
// internal/logging with the request's context carry it; it is not copied
// onto Events published while handling the request.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader(HeaderXCorrelationID)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		c.Header(HeaderXCorrelationID, correlationID)
		c.Set(string(logging.CorrelationIDKey), correlationID)

		ctx := context.WithValue(c.Request.Context(), logging.CorrelationIDKey, correlationID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// CorrelationIDFromGin returns the correlation id stashed on the Gin
// context by CorrelationID, or "" if the middleware wasn't installed.
func CorrelationIDFromGin(c *gin.Context) string {
	v, ok := c.Get(string(logging.CorrelationIDKey))
	if !ok {
		return ""
	}
	id, _ := v.(string)
	return id
}

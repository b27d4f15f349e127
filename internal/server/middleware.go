package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/cooprin/fleetbill/internal/auditcontext"
)

const (
	headerRequestID = "X-Request-ID"
	headerActorType = "X-Actor-Type"
	headerActorID   = "X-Actor-ID"
)

// RequestContext propagates the request id and caller identity into the
// context so the audit trail can attribute every mutation.
func RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(headerRequestID))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(headerRequestID, requestID)

		ctx := c.Request.Context()
		ctx = auditcontext.WithRequestID(ctx, requestID)
		ctx = auditcontext.WithIPAddress(ctx, c.ClientIP())
		ctx = auditcontext.WithUserAgent(ctx, c.Request.UserAgent())

		actorType := strings.TrimSpace(c.GetHeader(headerActorType))
		actorID := strings.TrimSpace(c.GetHeader(headerActorID))
		if actorType != "" {
			ctx = auditcontext.WithActor(ctx, actorType, actorID)
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

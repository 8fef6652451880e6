package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/storetax/internal/observability/context"
	"github.com/smallbiznis/storetax/pkg/telemetry/correlation"
)

// The upstream auth gateway authenticates staff and forwards who they are.
const (
	HeaderStaffRole     = "X-Staff-Role"
	HeaderStaffID       = "X-Staff-Id"
	HeaderCorrelationID = "X-Correlation-Id"
)

// StaffActor copies the gateway identity headers onto the request context.
func StaffActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if role := strings.TrimSpace(c.GetHeader(HeaderStaffRole)); role != "" {
			ctx = obscontext.WithActor(ctx, role, strings.TrimSpace(c.GetHeader(HeaderStaffID)))
		}

		ctx = correlation.ContextWithCorrelationID(ctx, strings.TrimSpace(c.GetHeader(HeaderCorrelationID)))
		ctx, cid := correlation.EnsureCorrelationID(ctx)
		c.Header(HeaderCorrelationID, cid)

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) authorize(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, _ := obscontext.ActorFromContext(c.Request.Context())
		if role == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if s.authzSvc == nil {
			AbortWithError(c, ErrForbidden)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), role, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

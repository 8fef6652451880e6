package server

import (
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/storetax/internal/observability/context"
	"github.com/smallbiznis/storetax/internal/observability/logger"
	obstracing "github.com/smallbiznis/storetax/internal/observability/tracing"
	"github.com/smallbiznis/storetax/internal/ratelimit"
	"go.uber.org/zap"
)

const (
	rateLimitReasonRole   = "role-rate"
	rateLimitReasonClient = "client-rate"
)

func (s *Server) CalculateRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.calcLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		endpoint := normalizeRateLimitEndpoint(c)
		role, _ := obscontext.ActorFromContext(ctx)

		res, err := s.calcLimiter.AllowRole(ctx, role)
		if err != nil {
			logger.WithContext(ctx, s.log).Warn("calculate role rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !res.Allowed {
			s.denyRateLimit(c, endpoint, rateLimitReasonRole, res)
			return
		}

		res, err = s.calcLimiter.AllowClient(ctx, c.ClientIP())
		if err != nil {
			logger.WithContext(ctx, s.log).Warn("calculate client rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !res.Allowed {
			s.denyRateLimit(c, endpoint, rateLimitReasonClient, res)
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		s.obsMetrics.RecordRateLimitAllowed(ctx, endpoint)
		c.Next()
	}
}

func (s *Server) denyRateLimit(c *gin.Context, endpoint, reason string, res *ratelimit.Result) {
	ctx := c.Request.Context()
	logger.WithContext(ctx, s.log).Warn("calculate rate limit exceeded",
		zap.String("reason", reason),
		zap.String("endpoint", endpoint),
	)
	s.obsMetrics.RecordRateLimitDenied(ctx, endpoint, reason)

	retryAfter := int(math.Ceil(res.RetryAfter.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	c.Header("X-RateLimit-Remaining", "0")
	c.Header(obstracing.RateLimitReasonHeader, reason)
	AbortWithError(c, ErrRateLimited)
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}

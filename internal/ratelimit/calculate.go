package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/storetax/internal/config"
	"go.uber.org/zap"
)

const (
	keyCalculateRole   = "tax:calculate:role:%s"
	keyCalculateClient = "tax:calculate:client:%s"
)

// CalculateLimiter throttles tax calculations per staff role and per client
// address. A nil limiter allows everything.
type CalculateLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewCalculateLimiter(cfg config.Config, client *redis.Client, log *zap.Logger) *CalculateLimiter {
	if client == nil || cfg.CalculateRateLimit <= 0 {
		log.Named("ratelimit").Info("calculate rate limiting disabled")
		return nil
	}

	burst := cfg.CalculateRateBurst
	if burst <= 0 {
		burst = cfg.CalculateRateLimit
	}

	return &CalculateLimiter{
		bucket: NewTokenBucket(client),
		rate:   float64(cfg.CalculateRateLimit),
		burst:  burst,
	}
}

func (l *CalculateLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *CalculateLimiter) AllowRole(ctx context.Context, role string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyCalculateRole, keyPart(role)), l.rate, l.burst)
}

func (l *CalculateLimiter) AllowClient(ctx context.Context, ipAddress string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyCalculateClient, keyPart(ipAddress)), l.rate, l.burst)
}

func keyPart(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return "anonymous"
	}
	return value
}

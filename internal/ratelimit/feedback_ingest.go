package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hookforge/hookforge/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const (
	keyFeedbackIngestUser     = "feedback:ingest:user:%s"
	keyFeedbackIngestEndpoint = "feedback:ingest:endpoint"
)

// FeedbackIngestLimiter throttles the performance feedback endpoint,
// per reporting user and for the endpoint as a whole. A nil limiter
// allows everything, so callers never branch on configuration.
type FeedbackIngestLimiter struct {
	enabled bool

	bucket *TokenBucket

	userRate      float64
	userBurst     int
	endpointRate  float64
	endpointBurst int
}

func NewFeedbackIngestLimiter(cfg config.Config, client *redis.Client) *FeedbackIngestLimiter {
	if !cfg.RateLimitEnabled || client == nil {
		return nil
	}
	if cfg.FeedbackUserRate <= 0 || cfg.FeedbackUserBurst <= 0 {
		return nil
	}
	if cfg.FeedbackEndpointRate <= 0 || cfg.FeedbackEndpointBurst <= 0 {
		return nil
	}

	return &FeedbackIngestLimiter{
		enabled:       true,
		bucket:        NewTokenBucket(client),
		userRate:      cfg.FeedbackUserRate,
		userBurst:     cfg.FeedbackUserBurst,
		endpointRate:  cfg.FeedbackEndpointRate,
		endpointBurst: cfg.FeedbackEndpointBurst,
	}
}

func (l *FeedbackIngestLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *FeedbackIngestLimiter) AllowUser(ctx context.Context, userID string) (bool, time.Duration, error) {
	if !l.Enabled() {
		return true, 0, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyFeedbackIngestUser, strings.TrimSpace(userID)), l.userRate, l.userBurst)
}

func (l *FeedbackIngestLimiter) AllowEndpoint(ctx context.Context) (bool, time.Duration, error) {
	if !l.Enabled() {
		return true, 0, nil
	}
	return l.bucket.Allow(ctx, keyFeedbackIngestEndpoint, l.endpointRate, l.endpointBurst)
}

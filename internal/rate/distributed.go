package rate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistributedLimiter enforces a sliding-window budget shared across engine
// instances using Redis counters. It mirrors the [Limiter] semantics with
// bucket-stamped keys: the current and previous fixed buckets are combined
// with weighted interpolation.
//
// Intended for the login endpoint class, where per-instance budgets would let
// an attacker multiply its effective rate by spraying across instances.
type DistributedLimiter struct {
	redis  redis.UniversalClient
	prefix string
	cfg    ClassConfig
}

// NewDistributedLimiter creates a Redis-backed limiter with the given key
// prefix and class budget.
func NewDistributedLimiter(redisClient redis.UniversalClient, prefix string, cfg ClassConfig) *DistributedLimiter {
	if prefix == "" {
		prefix = "arl"
	}
	return &DistributedLimiter{
		redis:  redisClient,
		prefix: prefix,
		cfg:    cfg,
	}
}

// Allow consumes one unit of the shared budget for clientID. Returns
// [ErrRateLimited] when the sliding window is exhausted and
// [ErrLimiterUnavailable] when Redis is unreachable.
func (l *DistributedLimiter) Allow(ctx context.Context, clientID string) error {
	if l == nil || l.redis == nil || l.cfg.Budget <= 0 || l.cfg.Window <= 0 || clientID == "" {
		return nil
	}

	now := time.Now()
	bucket := now.UnixNano() / int64(l.cfg.Window)
	curKey := l.key(clientID, bucket)
	prevKey := l.key(clientID, bucket-1)

	prev, err := l.redis.Get(ctx, prevKey).Int64()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}

	cur, err := l.redis.Incr(ctx, curKey).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}

	// Bucket keys live two windows so the previous bucket is still readable
	// while it contributes weight; TTL only needs setting on first hit.
	if cur == 1 {
		if err := l.redis.Expire(ctx, curKey, 2*l.cfg.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
		}
	}

	elapsed := time.Duration(now.UnixNano() % int64(l.cfg.Window))
	remaining := float64(l.cfg.Window-elapsed) / float64(l.cfg.Window)
	effective := float64(cur) + float64(prev)*remaining

	if effective > float64(l.cfg.Budget) {
		return ErrRateLimited
	}
	return nil
}

// Reset clears the current and previous buckets for clientID.
func (l *DistributedLimiter) Reset(ctx context.Context, clientID string) error {
	if l == nil || l.redis == nil || l.cfg.Window <= 0 {
		return nil
	}

	bucket := time.Now().UnixNano() / int64(l.cfg.Window)
	keys := []string{l.key(clientID, bucket), l.key(clientID, bucket-1)}
	if err := l.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}
	return nil
}

func (l *DistributedLimiter) key(clientID string, bucket int64) string {
	return l.prefix + ":" + clientID + ":" + strconv.FormatInt(bucket, 10)
}

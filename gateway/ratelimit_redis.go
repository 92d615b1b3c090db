// Copyright 2025 AgentMesh
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"agentmesh/core/shared/logger"
)

// RedisRateLimiter is the optional distributed tier, enabled when
// REDIS_URL is configured. It keeps the same fixed-window semantics as
// the other tiers via INCR + window-scoped keys, and falls back to the
// wrapped limiter on any Redis error.
type RedisRateLimiter struct {
	client   *redis.Client
	max      int
	window   time.Duration
	fallback RateLimiter
	log      *logger.Logger
	now      func() time.Time
}

// NewRedisRateLimiter connects to Redis and wraps fallback for outages
func NewRedisRateLimiter(redisURL string, max int, window time.Duration, fallback RateLimiter) (*RedisRateLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisRateLimiter{
		client:   client,
		max:      max,
		window:   window,
		fallback: fallback,
		log:      logger.New("ratelimit"),
		now:      time.Now,
	}, nil
}

// Check increments the key's counter for the current fixed window
func (l *RedisRateLimiter) Check(key string) RateLimitResult {
	now := l.now()

	if loopbackKey(key) {
		return RateLimitResult{Allowed: true, Limit: l.max, Remaining: l.max, ResetAt: now.Add(l.window)}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	windowStart := now.Truncate(l.window)
	resetAt := windowStart.Add(l.window)
	redisKey := fmt.Sprintf("ratelimit:%s:%d", key, windowStart.Unix())

	pipe := l.client.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.ExpireAt(ctx, redisKey, resetAt.Add(l.window))
	if _, err := pipe.Exec(ctx); err != nil {
		l.log.Warn("", "", "redis rate limit check failed, using fallback", map[string]interface{}{
			"error": err.Error(),
			"key":   key,
		})
		return l.fallback.Check(key)
	}

	count := int(incr.Val())
	remaining := l.max - count
	if remaining < 0 {
		remaining = 0
	}

	if count > l.max {
		return RateLimitResult{
			Allowed:    false,
			Limit:      l.max,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: resetAt.Sub(now),
		}
	}

	return RateLimitResult{Allowed: true, Limit: l.max, Remaining: remaining, ResetAt: resetAt}
}

// Close releases the Redis connection
func (l *RedisRateLimiter) Close() error {
	return l.client.Close()
}

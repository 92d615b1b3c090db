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
	"time"

	"agentmesh/core/shared/logger"
	"agentmesh/core/store"
)

// DurableRateLimiter counts against storage-backed buckets through the
// atomic check_rate_limit primitive, so limits survive restarts and
// hold across replicas. On storage error it falls back to an in-process
// limiter rather than failing open without any bound.
type DurableRateLimiter struct {
	store    *store.Store
	max      int
	window   time.Duration
	fallback *MemoryRateLimiter
	log      *logger.Logger
}

// NewDurableRateLimiter creates the durable tier with its fallback
func NewDurableRateLimiter(s *store.Store, max int, window time.Duration) *DurableRateLimiter {
	return &DurableRateLimiter{
		store:    s,
		max:      max,
		window:   window,
		fallback: NewMemoryRateLimiter(max, window),
		log:      logger.New("ratelimit"),
	}
}

// Check performs the atomic check-and-increment against the bucket row
func (l *DurableRateLimiter) Check(key string) RateLimitResult {
	if loopbackKey(key) {
		return RateLimitResult{Allowed: true, Limit: l.max, Remaining: l.max, ResetAt: time.Now().Add(l.window)}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	row, err := l.store.CheckRateLimit(ctx, key, int(l.window.Milliseconds()), l.max)
	if err != nil {
		l.log.Warn("", "", "durable rate limit check failed, using in-process fallback", map[string]interface{}{
			"error": err.Error(),
			"key":   key,
		})
		return l.fallback.Check(key)
	}

	result := RateLimitResult{
		Allowed:   row.Allowed,
		Limit:     l.max,
		Remaining: row.Remaining,
		ResetAt:   row.ResetAt,
	}
	if !row.Allowed {
		result.RetryAfter = time.Duration(row.RetryAfterSeconds) * time.Second
	}
	return result
}

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
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitResult is the outcome of one limiter check
type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration // zero when allowed
}

// RateLimiter is implemented by the in-memory, durable, and Redis tiers
type RateLimiter interface {
	Check(key string) RateLimitResult
}

// loopbackKey reports whether a key should bypass rate limiting
func loopbackKey(key string) bool {
	return key == "127.0.0.1" || key == "::1" || key == "localhost" ||
		strings.HasPrefix(key, "127.0.0.1:") || strings.HasPrefix(key, "[::1]:")
}

// memoryBucket tracks one key's fixed window
type memoryBucket struct {
	count       int
	windowStart time.Time
}

// MemoryRateLimiter is the in-process fixed-window limiter. Counters
// are lost on restart; the durable tier exists for that.
type MemoryRateLimiter struct {
	max    int
	window time.Duration
	mu     sync.Mutex
	keys   map[string]*memoryBucket
	now    func() time.Time
}

// NewMemoryRateLimiter creates a limiter allowing max requests per window
func NewMemoryRateLimiter(max int, window time.Duration) *MemoryRateLimiter {
	return &MemoryRateLimiter{
		max:    max,
		window: window,
		keys:   make(map[string]*memoryBucket),
		now:    time.Now,
	}
}

// Check counts one request against the key's current window. The first
// request of a new window resets the count to 1.
func (l *MemoryRateLimiter) Check(key string) RateLimitResult {
	now := l.now()

	if loopbackKey(key) {
		return RateLimitResult{Allowed: true, Limit: l.max, Remaining: l.max, ResetAt: now.Add(l.window)}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bucket, ok := l.keys[key]
	if !ok || now.Sub(bucket.windowStart) >= l.window {
		bucket = &memoryBucket{count: 1, windowStart: now}
		l.keys[key] = bucket
	} else {
		bucket.count++
	}

	resetAt := bucket.windowStart.Add(l.window)
	remaining := l.max - bucket.count
	if remaining < 0 {
		remaining = 0
	}

	if bucket.count > l.max {
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

// HeadersFor writes the standard rate-limit headers for a result
func HeadersFor(result RateLimitResult) http.Header {
	h := http.Header{}
	h.Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
	if !result.Allowed {
		seconds := int(result.RetryAfter.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		h.Set("Retry-After", strconv.Itoa(seconds))
	}
	return h
}

// agentLimiters caches one in-memory limiter per agent, sized to the
// agent's own configured limit
type agentLimiters struct {
	mu       sync.Mutex
	limiters map[string]*MemoryRateLimiter
}

func newAgentLimiters() *agentLimiters {
	return &agentLimiters{limiters: make(map[string]*MemoryRateLimiter)}
}

// forAgent returns the limiter for an agent, creating or resizing it
// when the configured limit changed
func (a *agentLimiters) forAgent(agentID string, limitPerMinute int) *MemoryRateLimiter {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := fmt.Sprintf("%s:%d", agentID, limitPerMinute)
	if l, ok := a.limiters[key]; ok {
		return l
	}
	l := NewMemoryRateLimiter(limitPerMinute, time.Minute)
	a.limiters[key] = l
	return l
}

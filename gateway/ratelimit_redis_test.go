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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisRateLimiter(t *testing.T) {
	mr := miniredis.RunT(t)

	fallback := NewMemoryRateLimiter(2, time.Minute)
	l, err := NewRedisRateLimiter("redis://"+mr.Addr(), 2, time.Minute, fallback)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	r1 := l.Check("agent:a1")
	assert.True(t, r1.Allowed)
	assert.Equal(t, 1, r1.Remaining)

	r2 := l.Check("agent:a1")
	assert.True(t, r2.Allowed)
	assert.Equal(t, 0, r2.Remaining)

	r3 := l.Check("agent:a1")
	assert.False(t, r3.Allowed)
	assert.True(t, r3.RetryAfter > 0)

	// Independent keys do not share buckets
	assert.True(t, l.Check("agent:a2").Allowed)
}

func TestRedisRateLimiterFallsBackOnOutage(t *testing.T) {
	mr := miniredis.RunT(t)

	fallback := NewMemoryRateLimiter(1, time.Minute)
	l, err := NewRedisRateLimiter("redis://"+mr.Addr(), 1, time.Minute, fallback)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	mr.Close()

	// Redis is down: the wrapped limiter still bounds the key
	assert.True(t, l.Check("agent:a1").Allowed)
	assert.False(t, l.Check("agent:a1").Allowed)
}

func TestRedisRateLimiterLoopback(t *testing.T) {
	mr := miniredis.RunT(t)

	l, err := NewRedisRateLimiter("redis://"+mr.Addr(), 1, time.Minute, NewMemoryRateLimiter(1, time.Minute))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	for i := 0; i < 5; i++ {
		assert.True(t, l.Check("127.0.0.1").Allowed)
	}
}

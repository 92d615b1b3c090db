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

package store

import (
	"context"
	"fmt"
	"time"
)

// RateLimitRow is the result of the atomic check_rate_limit primitive
type RateLimitRow struct {
	Allowed           bool
	Remaining         int
	ResetAt           time.Time
	RetryAfterSeconds int
}

// CheckRateLimit invokes the atomic check-and-increment primitive: it
// either increments an existing in-window bucket row or starts a new
// window at now, serializing concurrent callers on the row.
func (s *Store) CheckRateLimit(ctx context.Context, key string, windowMS int, max int) (*RateLimitRow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT allowed, remaining, reset_at, retry_after_seconds FROM check_rate_limit($1, $2, $3)`,
		key, windowMS, max)

	var r RateLimitRow
	if err := row.Scan(&r.Allowed, &r.Remaining, &r.ResetAt, &r.RetryAfterSeconds); err != nil {
		return nil, fmt.Errorf("failed to check rate limit: %w", err)
	}
	return &r, nil
}

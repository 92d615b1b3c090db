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
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"agentmesh/core/shared/logger"
	"agentmesh/core/shared/types"
	"agentmesh/core/store"
)

// APIKeyPrefix is the product prefix every agent key carries
const APIKeyPrefix = "am_live_"

// Request headers
const (
	HeaderAgentKey        = "X-Agent-Key"
	HeaderSchedulerSecret = "X-Scheduler-Secret"
	HeaderSignature       = "X-Signature"
	HeaderCorrelationID   = "X-Correlation-Id"
)

// AuthResult is the outcome of one authentication attempt
type AuthResult struct {
	OK        bool
	Agent     *types.Agent
	RateLimit *RateLimitResult
	Err       *APIError
}

// Authenticator verifies agent API keys and applies per-agent rate limits
type Authenticator struct {
	store    *store.Store
	limiters *agentLimiters
	log      *logger.Logger
}

// NewAuthenticator creates an authenticator backed by the store
func NewAuthenticator(s *store.Store) *Authenticator {
	return &Authenticator{
		store:    s,
		limiters: newAgentLimiters(),
		log:      logger.New("auth"),
	}
}

// Authenticate extracts the agent key, verifies it against storage,
// enforces agent status and the per-agent rate bucket, and touches
// last_seen_at asynchronously.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) AuthResult {
	rawKey := r.Header.Get(HeaderAgentKey)
	if rawKey == "" {
		return AuthResult{Err: NewAPIError(KindAuth, "missing X-Agent-Key header", http.StatusUnauthorized)}
	}
	if !strings.HasPrefix(rawKey, APIKeyPrefix) {
		return AuthResult{Err: NewAPIError(KindAuth, "malformed agent key", http.StatusUnauthorized)}
	}

	agent, err := a.store.VerifyAgentAPIKey(ctx, rawKey)
	if err == store.ErrNotFound {
		return AuthResult{Err: NewAPIError(KindAuth, "invalid agent key", http.StatusUnauthorized)}
	}
	if err != nil {
		a.log.Error("", "", "agent key verification failed", map[string]interface{}{
			"error": err.Error(),
		})
		return AuthResult{Err: NewAPIError(KindInternal, "authentication unavailable", http.StatusInternalServerError)}
	}

	if agent.Status != types.AgentStatusActive {
		return AuthResult{Err: NewAPIError(KindAuth, "agent is "+string(agent.Status), http.StatusUnauthorized)}
	}

	limit := agent.RateLimitPerMinute
	if limit <= 0 {
		limit = 60
	}
	result := a.limiters.forAgent(agent.ID, limit).Check("agent:" + agent.ID)
	if !result.Allowed {
		return AuthResult{
			Agent:     agent,
			RateLimit: &result,
			Err:       NewAPIError(KindRateLimit, "rate limit exceeded", http.StatusTooManyRequests),
		}
	}

	// Touch last_seen_at without blocking the response
	go func(agentID string) {
		touchCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		a.store.TouchLastSeen(touchCtx, agentID)
	}(agent.ID)

	return AuthResult{OK: true, Agent: agent, RateLimit: &result}
}

// VerifySharedSecret compares a presented internal secret in constant
// time. Used for the scheduler and provisioning channels.
func VerifySharedSecret(presented, expected string) bool {
	if expected == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) == 1
}

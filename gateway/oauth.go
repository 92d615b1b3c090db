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
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"agentmesh/core/shared/types"
	"agentmesh/core/store"
)

// OAuthStateTTL is how long an OAuth state stays consumable
const OAuthStateTTL = 5 * time.Minute

// oauthInitiate creates a single-use state for an integration's OAuth
// flow and returns it to the caller, which builds the provider URL.
func (g *Gateway) oauthInitiate(ctx context.Context, req *Request, agentID string) (*DispatchResult, *APIError) {
	integrationID, _ := req.Params["integration_id"].(string)
	redirectURI, _ := req.Params["redirect_uri"].(string)
	if integrationID == "" || redirectURI == "" {
		return nil, NewAPIError(KindValidation, "params.integration_id and params.redirect_uri are required", http.StatusBadRequest)
	}

	if _, err := g.store.GetIntegration(ctx, integrationID); err != nil {
		if err == store.ErrNotFound {
			return nil, NewAPIError(KindNotFound, "integration not found", http.StatusNotFound)
		}
		return nil, NewAPIError(KindInternal, "integration lookup failed", http.StatusInternalServerError)
	}

	state, err := randomState()
	if err != nil {
		return nil, NewAPIError(KindInternal, "failed to generate state", http.StatusInternalServerError)
	}

	st := &types.OAuthState{
		State:         state,
		IntegrationID: integrationID,
		AgentID:       agentID,
		RedirectURI:   redirectURI,
		ExpiresAt:     time.Now().Add(OAuthStateTTL),
	}
	if err := g.store.CreateOAuthState(ctx, st); err != nil {
		return nil, NewAPIError(KindInternal, "failed to persist oauth state", http.StatusInternalServerError)
	}

	return &DispatchResult{
		StatusCode: http.StatusCreated,
		Body: map[string]interface{}{
			"state":      state,
			"expires_at": st.ExpiresAt.UTC().Format(time.RFC3339),
		},
	}, nil
}

// oauthCallback consumes a state exactly once and forwards the code
// exchange to the integration handler
func (g *Gateway) oauthCallback(ctx context.Context, req *Request, correlationID string) (*DispatchResult, *APIError) {
	state, _ := req.Params["state"].(string)
	code, _ := req.Params["code"].(string)
	if state == "" || code == "" {
		return nil, NewAPIError(KindValidation, "params.state and params.code are required", http.StatusBadRequest)
	}

	consumed, err := g.store.ConsumeOAuthState(ctx, state, time.Now())
	if err != nil {
		switch err {
		case store.ErrStateConsumed:
			return nil, NewAPIError(KindConflict, "oauth state already used", http.StatusConflict)
		case store.ErrNotFound:
			return nil, NewAPIError(KindAuth, "unknown or expired oauth state", http.StatusUnauthorized)
		default:
			return nil, NewAPIError(KindInternal, "oauth state lookup failed", http.StatusInternalServerError)
		}
	}

	// The state is burned before the exchange: a failed exchange must
	// not leave a replayable state behind.
	result, err := g.dispatcher.Dispatch(ctx, "integration-oauth-exchange", map[string]interface{}{
		"integration_id": consumed.IntegrationID,
		"agent_id":       consumed.AgentID,
		"redirect_uri":   consumed.RedirectURI,
		"code":           code,
	}, correlationID)
	if err != nil {
		return nil, NewAPIError(KindUpstream, "oauth exchange failed: "+err.Error(), http.StatusBadGateway)
	}

	return result, nil
}

func randomState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

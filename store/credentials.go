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
	"database/sql"
	"fmt"
	"time"

	"agentmesh/core/shared/types"
)

// GetIntegration loads an integration by id
func (s *Store) GetIntegration(ctx context.Context, integrationID string) (*types.Integration, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, service_name, service_type, config, COALESCE(health_check_url, ''), status
		FROM integrations WHERE id = $1
	`, integrationID)

	var i types.Integration
	var cfg []byte
	err := row.Scan(&i.ID, &i.ServiceName, &i.ServiceType, &cfg, &i.HealthCheckURL, &i.Status)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load integration %s: %w", integrationID, err)
	}
	i.Config = unmarshalJSON(cfg)

	return &i, nil
}

// GetCredential loads the credential row for an integration
func (s *Store) GetCredential(ctx context.Context, integrationID string) (*types.IntegrationCredential, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, integration_id, encrypted_payload, key_version, expires_at, last_used_at
		FROM integration_credentials WHERE integration_id = $1
	`, integrationID)

	var c types.IntegrationCredential
	var expires, lastUsed sql.NullTime
	err := row.Scan(&c.ID, &c.IntegrationID, &c.EncryptedPayload, &c.KeyVersion, &expires, &lastUsed)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credential for %s: %w", integrationID, err)
	}
	if expires.Valid {
		t := expires.Time
		c.ExpiresAt = &t
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		c.LastUsedAt = &t
	}

	return &c, nil
}

// UpdateCredentialPayload replaces the encrypted payload and key version
// after a lazy re-encryption, and touches last_used_at
func (s *Store) UpdateCredentialPayload(ctx context.Context, credentialID, encryptedPayload, keyVersion string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE integration_credentials
		SET encrypted_payload = $2, key_version = $3, last_used_at = NOW()
		WHERE id = $1
	`, credentialID, encryptedPayload, keyVersion)
	if err != nil {
		return fmt.Errorf("failed to update credential payload: %w", err)
	}
	return nil
}

// TouchCredential updates last_used_at only
func (s *Store) TouchCredential(ctx context.Context, credentialID string) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE integration_credentials SET last_used_at = NOW() WHERE id = $1`, credentialID)
	if err != nil {
		s.log.Warn("", "", "failed to touch credential", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// CreateOAuthState inserts a single-use OAuth state valid for five minutes
func (s *Store) CreateOAuthState(ctx context.Context, st *types.OAuthState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO oauth_states (state, integration_id, agent_id, redirect_uri, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, st.State, st.IntegrationID, st.AgentID, st.RedirectURI, st.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to create oauth state: %w", err)
	}
	return nil
}

// ConsumeOAuthState marks a state used and returns it. The guarded
// UPDATE makes consumption single-use: a second caller sees
// ErrStateConsumed, an expired or unknown state sees ErrNotFound.
func (s *Store) ConsumeOAuthState(ctx context.Context, state string, now time.Time) (*types.OAuthState, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE oauth_states
		SET used_at = NOW()
		WHERE state = $1 AND used_at IS NULL AND expires_at > $2
		RETURNING state, integration_id, agent_id, redirect_uri, used_at, expires_at
	`, state, now)

	var st types.OAuthState
	var usedAt sql.NullTime
	err := row.Scan(&st.State, &st.IntegrationID, &st.AgentID, &st.RedirectURI, &usedAt, &st.ExpiresAt)
	if err == sql.ErrNoRows {
		// Distinguish a consumed state from an unknown or expired one
		var exists bool
		if checkErr := s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM oauth_states WHERE state = $1 AND used_at IS NOT NULL)`, state).
			Scan(&exists); checkErr == nil && exists {
			return nil, ErrStateConsumed
		}
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume oauth state: %w", err)
	}
	if usedAt.Valid {
		t := usedAt.Time
		st.UsedAt = &t
	}

	return &st, nil
}

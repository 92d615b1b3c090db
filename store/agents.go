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

	"github.com/lib/pq"

	"agentmesh/core/shared/types"
)

// VerifyAgentAPIKey authenticates a raw API key through the storage
// primitive, which hashes the key and joins the active key row to its
// agent profile. Returns ErrNotFound when no active key matches.
func (s *Store) VerifyAgentAPIKey(ctx context.Context, rawKey string) (*types.Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT * FROM verify_agent_api_key($1)`, rawKey)

	var a types.Agent
	var caps pq.StringArray
	var signingSecret sql.NullString
	var lastSeen sql.NullTime
	var metadata []byte

	err := row.Scan(&a.ID, &a.Name, &a.Type, &a.Status, &caps,
		&a.RateLimitPerMinute, &a.AllowDestructive, &signingSecret, &lastSeen, &metadata)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to verify agent api key: %w", err)
	}

	a.Capabilities = []string(caps)
	if signingSecret.Valid {
		a.SigningSecretEnc = signingSecret.String
	}
	if lastSeen.Valid {
		t := lastSeen.Time
		a.LastSeenAt = &t
	}
	a.Metadata = unmarshalJSON(metadata)

	return &a, nil
}

// GetAgent loads an agent profile by id
func (s *Store) GetAgent(ctx context.Context, agentID string) (*types.Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, type, status, capabilities, rate_limit_per_minute,
		       allow_destructive, signing_secret_ciphertext, last_seen_at, metadata
		FROM agents WHERE id = $1
	`, agentID)

	var a types.Agent
	var caps pq.StringArray
	var signingSecret sql.NullString
	var lastSeen sql.NullTime
	var metadata []byte

	err := row.Scan(&a.ID, &a.Name, &a.Type, &a.Status, &caps,
		&a.RateLimitPerMinute, &a.AllowDestructive, &signingSecret, &lastSeen, &metadata)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load agent %s: %w", agentID, err)
	}

	a.Capabilities = []string(caps)
	if signingSecret.Valid {
		a.SigningSecretEnc = signingSecret.String
	}
	if lastSeen.Valid {
		t := lastSeen.Time
		a.LastSeenAt = &t
	}
	a.Metadata = unmarshalJSON(metadata)

	return &a, nil
}

// TouchLastSeen updates the agent's last_seen_at. Called fire-and-forget
// after every authenticated request; failures are logged, never surfaced.
func (s *Store) TouchLastSeen(ctx context.Context, agentID string) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE agents SET last_seen_at = NOW() WHERE id = $1`, agentID)
	if err != nil {
		s.log.Warn(agentID, "", "failed to touch last_seen_at", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// ListToolDefinitions returns the active tools available to an agent
// holding the given capabilities
func (s *Store) ListToolDefinitions(ctx context.Context, capabilities []string) ([]types.ToolDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, description, input_schema, capability_name, action_name, is_active
		FROM tool_definitions
		WHERE is_active = TRUE AND capability_name = ANY($1)
		ORDER BY name
	`, pq.Array(capabilities))
	if err != nil {
		return nil, fmt.Errorf("failed to list tool definitions: %w", err)
	}
	defer rows.Close()

	var tools []types.ToolDefinition
	for rows.Next() {
		var t types.ToolDefinition
		var schema []byte
		if err := rows.Scan(&t.Name, &t.Description, &schema, &t.CapabilityName, &t.ActionName, &t.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan tool definition: %w", err)
		}
		t.InputSchema = unmarshalJSON(schema)
		tools = append(tools, t)
	}

	return tools, rows.Err()
}

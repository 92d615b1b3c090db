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

	"agentmesh/core/shared/types"
)

// HasApprovedConfirmation reports whether an approved confirmation
// exists for the (agent, action) pair
func (s *Store) HasApprovedConfirmation(ctx context.Context, agentID, action string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM agent_confirmations
			WHERE agent_id = $1 AND action = $2 AND status = 'approved'
		)
	`, agentID, action).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check confirmation: %w", err)
	}
	return exists, nil
}

// CreatePendingConfirmation inserts a pending confirmation unless one
// already exists for the pair; returns the confirmation in either case.
func (s *Store) CreatePendingConfirmation(ctx context.Context, id, agentID, action string) (*types.AgentConfirmation, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO agent_confirmations (id, agent_id, action, status, created_at)
		VALUES ($1, $2, $3, 'pending', NOW())
		ON CONFLICT (agent_id, action) WHERE status = 'pending'
		DO UPDATE SET agent_id = agent_confirmations.agent_id
		RETURNING id, agent_id, action, status, created_at
	`, id, agentID, action)

	var c types.AgentConfirmation
	if err := row.Scan(&c.ID, &c.AgentID, &c.Action, &c.Status, &c.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to create confirmation: %w", err)
	}
	return &c, nil
}

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

// CreateCommand inserts a new agent command in pending state
func (s *Store) CreateCommand(ctx context.Context, cmd *types.AgentCommand) error {
	metadata, err := marshalJSON(cmd.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_commands (id, agent_id, command_text, status, metadata, received_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, cmd.ID, cmd.AgentID, cmd.CommandText, cmd.Status, metadata)
	if err != nil {
		return fmt.Errorf("failed to create command: %w", err)
	}
	return nil
}

// GetCommandStatus reads a command's status and metadata for polling
func (s *Store) GetCommandStatus(ctx context.Context, commandID string) (types.CommandStatus, map[string]interface{}, error) {
	var status types.CommandStatus
	var metadata []byte

	err := s.db.QueryRowContext(ctx,
		`SELECT status, metadata FROM agent_commands WHERE id = $1`, commandID).
		Scan(&status, &metadata)
	if err == sql.ErrNoRows {
		return "", nil, ErrNotFound
	}
	if err != nil {
		return "", nil, fmt.Errorf("failed to read command status: %w", err)
	}

	return status, unmarshalJSON(metadata), nil
}

// TransitionCommand moves a command to a new status. Terminal states
// are absorbing: the guarded UPDATE refuses to leave one, and the call
// reports ErrTerminalState so callers can tell a no-op from success.
// completed_at is set when the new status is terminal.
func (s *Store) TransitionCommand(ctx context.Context, commandID string, status types.CommandStatus, metadata map[string]interface{}) error {
	meta, err := marshalJSON(metadata)
	if err != nil {
		return err
	}

	var res sql.Result
	if status.IsTerminal() {
		res, err = s.db.ExecContext(ctx, `
			UPDATE agent_commands
			SET status = $2,
			    metadata = COALESCE($3, metadata),
			    completed_at = NOW()
			WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')
		`, commandID, status, meta)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE agent_commands
			SET status = $2,
			    metadata = COALESCE($3, metadata)
			WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')
		`, commandID, status, meta)
	}
	if err != nil {
		return fmt.Errorf("failed to transition command %s: %w", commandID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read transition result: %w", err)
	}
	if affected == 0 {
		return ErrTerminalState
	}
	return nil
}

// InsertResponse appends one AgentResponse row
func (s *Store) InsertResponse(ctx context.Context, resp *types.AgentResponse) error {
	metadata, err := marshalJSON(resp.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_responses (id, agent_id, command_id, session_id, content, metadata, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, NOW())
	`, resp.ID, resp.AgentID, resp.CommandID, resp.SessionID, resp.Content, metadata)
	if err != nil {
		return fmt.Errorf("failed to insert agent response: %w", err)
	}
	return nil
}

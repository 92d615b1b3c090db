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

	"github.com/lib/pq"

	"agentmesh/core/shared/types"
)

// MatchAgentMemories invokes the vector-similarity primitive, which
// returns the agent's memories whose cosine similarity to the query
// embedding is at least threshold, sorted descending, capped at k.
func (s *Store) MatchAgentMemories(ctx context.Context, agentID string, embedding []float64, k int, threshold float64) ([]types.AgentMemory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT * FROM match_agent_memories($1, $2::vector, $3, $4)`,
		agentID, vectorLiteral(embedding), k, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to match agent memories: %w", err)
	}
	defer rows.Close()

	var memories []types.AgentMemory
	for rows.Next() {
		var m types.AgentMemory
		var toolNames pq.StringArray
		err := rows.Scan(&m.ID, &m.SessionID, &m.CommandID, &m.Summary,
			&m.CommandText, &m.ResponseText, &toolNames, &m.TurnCount,
			&m.Importance, &m.CreatedAt, &m.Similarity)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory row: %w", err)
		}
		m.AgentID = agentID
		m.ToolNames = []string(toolNames)
		memories = append(memories, m)
	}

	return memories, rows.Err()
}

// TouchMemories updates last_accessed_at for the given memory ids.
// Fire-and-forget: failures are logged only.
func (s *Store) TouchMemories(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	_, err := s.db.ExecContext(ctx, `SELECT touch_agent_memories($1)`, pq.Array(ids))
	if err != nil {
		s.log.Warn("", "", "failed to touch agent memories", map[string]interface{}{
			"error": err.Error(),
			"count": len(ids),
		})
	}
}

// InsertMemory stores one memory row with its embedding
func (s *Store) InsertMemory(ctx context.Context, m *types.AgentMemory) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_memories (
			id, agent_id, session_id, command_id, summary, embedding,
			command_text, response_text, tool_names, turn_count, importance,
			created_at, last_accessed_at
		) VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6::vector, $7, $8, $9, $10, $11, NOW(), NOW())
	`, m.ID, m.AgentID, m.SessionID, m.CommandID, m.Summary, vectorLiteral(m.Embedding),
		m.CommandText, m.ResponseText, pq.Array(m.ToolNames), m.TurnCount, m.Importance)
	if err != nil {
		return fmt.Errorf("failed to insert agent memory: %w", err)
	}
	return nil
}

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
	"encoding/json"
	"fmt"
	"time"

	"agentmesh/core/shared/types"
)

// GetWorkflow loads an active workflow definition by id
func (s *Store) GetWorkflow(ctx context.Context, workflowID string) (*types.Workflow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, steps, trigger_type, trigger_config, is_active
		FROM workflows WHERE id = $1
	`, workflowID)

	var w types.Workflow
	var steps, triggerConfig []byte

	err := row.Scan(&w.ID, &w.Name, &steps, &w.TriggerType, &triggerConfig, &w.IsActive)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow %s: %w", workflowID, err)
	}

	if err := json.Unmarshal(steps, &w.Steps); err != nil {
		return nil, fmt.Errorf("workflow %s has malformed steps: %w", workflowID, err)
	}
	w.TriggerConfig = unmarshalJSON(triggerConfig)

	return &w, nil
}

// CreateWorkflowRun inserts a run in running state
func (s *Store) CreateWorkflowRun(ctx context.Context, run *types.WorkflowRun) error {
	triggerData, err := marshalJSON(run.TriggerData)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_runs (id, workflow_id, status, trigger_type, trigger_data, step_results, started_at)
		VALUES ($1, $2, $3, $4, $5, '[]'::jsonb, NOW())
	`, run.ID, run.WorkflowID, run.Status, run.TriggerType, triggerData)
	if err != nil {
		return fmt.Errorf("failed to create workflow run: %w", err)
	}
	return nil
}

// SaveStepResults overwrites the run's growing step_results list.
// Called after every step so a crashed process leaves an accurate prefix.
func (s *Store) SaveStepResults(ctx context.Context, runID string, results []types.StepResult) error {
	data, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to marshal step results: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE workflow_runs SET step_results = $2 WHERE id = $1`, runID, data)
	if err != nil {
		return fmt.Errorf("failed to save step results: %w", err)
	}
	return nil
}

// CompleteWorkflowRun writes the run's terminal state
func (s *Store) CompleteWorkflowRun(ctx context.Context, runID string, status types.RunStatus, results []types.StepResult, runErr string) error {
	data, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to marshal step results: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE workflow_runs
		SET status = $2, step_results = $3, error = NULLIF($4, ''), completed_at = NOW()
		WHERE id = $1
	`, runID, status, data, runErr)
	if err != nil {
		return fmt.Errorf("failed to complete workflow run: %w", err)
	}
	return nil
}

// CreateOrchestrationRun inserts an orchestration run in running state
func (s *Store) CreateOrchestrationRun(ctx context.Context, run *types.OrchestrationRun) error {
	agentIDs, err := json.Marshal(run.AgentIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal agent ids: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orchestration_runs (id, workflow_run_id, step_id, command, agent_ids, strategy, status, started_at)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, $7, NOW())
	`, run.ID, run.WorkflowRunID, run.StepID, run.Command, agentIDs, run.Strategy, run.Status)
	if err != nil {
		return fmt.Errorf("failed to create orchestration run: %w", err)
	}
	return nil
}

// CompleteOrchestrationRun writes the run's terminal state and merged result
func (s *Store) CompleteOrchestrationRun(ctx context.Context, runID string, status types.RunStatus, result string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orchestration_runs
		SET status = $2, result = $3, completed_at = NOW()
		WHERE id = $1
	`, runID, status, result)
	if err != nil {
		return fmt.Errorf("failed to complete orchestration run: %w", err)
	}
	return nil
}

// InsertOrchestrationResponse inserts the initial pending row for one
// fan-out target
func (s *Store) InsertOrchestrationResponse(ctx context.Context, runID, agentID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orchestration_responses (orchestration_run_id, agent_id, status)
		VALUES ($1, $2, 'pending')
	`, runID, agentID)
	if err != nil {
		return fmt.Errorf("failed to insert orchestration response: %w", err)
	}
	return nil
}

// CompleteOrchestrationResponse persists one agent's terminal outcome
func (s *Store) CompleteOrchestrationResponse(ctx context.Context, r *types.OrchestrationResponse) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orchestration_responses
		SET status = $3, response = $4, tool_calls = $5, turns = $6,
		    score = $7, duration_ms = $8, error = NULLIF($9, ''), completed_at = NOW()
		WHERE orchestration_run_id = $1 AND agent_id = $2
	`, r.OrchestrationRunID, r.AgentID, r.Status, r.Response, r.ToolCalls,
		r.Turns, r.Score, r.DurationMS, r.Error)
	if err != nil {
		return fmt.Errorf("failed to complete orchestration response: %w", err)
	}
	return nil
}

// InsertAgentMessage records one inter-agent message on a channel
func (s *Store) InsertAgentMessage(ctx context.Context, channel, fromID, toID, kind, content string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_messages (channel, from_agent_id, to_agent_id, kind, content, status, created_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, 'sent', NOW())
	`, channel, fromID, toID, kind, content)
	if err != nil {
		return fmt.Errorf("failed to insert agent message: %w", err)
	}
	return nil
}

// MarkChannelDelivered marks every message on a channel delivered
func (s *Store) MarkChannelDelivered(ctx context.Context, channel string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE agent_messages SET status = 'delivered', delivered_at = NOW()
		WHERE channel = $1 AND status = 'sent'
	`, channel)
	if err != nil {
		return fmt.Errorf("failed to mark channel delivered: %w", err)
	}
	return nil
}

// WorkflowRunSummary is the row shape for admin run inspection
type WorkflowRunSummary struct {
	ID          string           `json:"id"`
	WorkflowID  string           `json:"workflow_id"`
	Status      types.RunStatus  `json:"status"`
	TriggerType string           `json:"trigger_type"`
	Error       string           `json:"error,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// ListWorkflowRuns returns recent runs of one workflow, newest first
func (s *Store) ListWorkflowRuns(ctx context.Context, workflowID string, limit int) ([]WorkflowRunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_id, status, trigger_type, COALESCE(error, ''), started_at, completed_at
		FROM workflow_runs WHERE workflow_id = $1
		ORDER BY started_at DESC LIMIT $2
	`, workflowID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow runs: %w", err)
	}
	defer rows.Close()

	var runs []WorkflowRunSummary
	for rows.Next() {
		var r WorkflowRunSummary
		var completed sql.NullTime
		if err := rows.Scan(&r.ID, &r.WorkflowID, &r.Status, &r.TriggerType, &r.Error, &r.StartedAt, &completed); err != nil {
			return nil, fmt.Errorf("failed to scan workflow run: %w", err)
		}
		if completed.Valid {
			t := completed.Time
			r.CompletedAt = &t
		}
		runs = append(runs, r)
	}

	return runs, rows.Err()
}

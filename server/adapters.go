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

package server

import (
	"context"
	"fmt"

	"agentmesh/core/executor"
	"agentmesh/core/orchestrator"
	"agentmesh/core/store"
	"agentmesh/core/workflow"
)

// agentRunner adapts the agent executor to the workflow executor's
// AgentRunner contract: resolve the target agent's capabilities, then
// run the command by calling the executor in process (no HTTP hop).
type agentRunner struct {
	store *store.Store
	exec  *executor.Executor
}

func (r *agentRunner) RunCommand(ctx context.Context, agentID, command, correlationID string) (*workflow.AgentStepResult, error) {
	capabilities, err := r.capabilitiesFor(ctx, agentID)
	if err != nil {
		return nil, err
	}

	result, err := r.exec.Execute(ctx, executor.ExecuteInput{
		Command:       command,
		AgentID:       agentID,
		Capabilities:  capabilities,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}

	return &workflow.AgentStepResult{
		Response:  result.Response,
		ToolCalls: result.ToolCalls,
		Turns:     result.Turns,
	}, nil
}

func (r *agentRunner) capabilitiesFor(ctx context.Context, agentID string) ([]string, error) {
	if agentID == "" || agentID == "system" {
		// The system identity runs workflow steps with no tool access
		return nil, nil
	}
	agent, err := r.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve agent %s: %w", agentID, err)
	}
	return agent.Capabilities, nil
}

// orchestratorDispatcher adapts the agent executor to the
// orchestrator's fan-out contract
type orchestratorDispatcher struct {
	store *store.Store
	exec  *executor.Executor
}

func (d *orchestratorDispatcher) DispatchToAgent(ctx context.Context, agentID, command, correlationID string) (*orchestrator.AgentResult, error) {
	agent, err := d.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve agent %s: %w", agentID, err)
	}

	result, err := d.exec.Execute(ctx, executor.ExecuteInput{
		Command:       command,
		AgentID:       agentID,
		Capabilities:  agent.Capabilities,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}

	return &orchestrator.AgentResult{
		AgentID:   agentID,
		AgentName: agent.Name,
		Status:    "completed",
		Response:  result.Response,
		ToolCalls: result.ToolCalls,
		Turns:     result.Turns,
	}, nil
}

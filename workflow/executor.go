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

// Package workflow implements the sequential step machine: per-step
// timeouts, bounded retries, conditional branching, and polling-based
// synchronization with asynchronously-completing commands.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"agentmesh/core/executor"
	"agentmesh/core/orchestrator"
	"agentmesh/core/shared/logger"
	"agentmesh/core/shared/types"
)

// Workflow Prometheus metrics
var (
	workflowRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentmesh_workflow_runs_total",
			Help: "Workflow runs by final status",
		},
		[]string{"status", "trigger"},
	)
	workflowStepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentmesh_workflow_step_duration_milliseconds",
			Help:    "Step duration by type",
			Buckets: []float64{10, 50, 100, 500, 1000, 5000, 10000, 30000},
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(workflowRunsTotal)
	prometheus.MustRegister(workflowStepDuration)
}

// Step bounds
const (
	DefaultStepTimeout = 30 * time.Second
	MaxWaitDelay       = 25 * time.Second
	MaxRetryBackoff    = 10 * time.Second
)

// AgentStepResult is what one agent_command step produces
type AgentStepResult struct {
	Response  string
	ToolCalls int
	Turns     int
}

// AgentRunner executes one command against one agent; implemented by an
// adapter that calls the agent executor in process. The call does not go
// through the shared-secret HTTP channel.
type AgentRunner interface {
	RunCommand(ctx context.Context, agentID, command, correlationID string) (*AgentStepResult, error)
}

// OrchestratorInvoker runs a multi-agent fan-out
type OrchestratorInvoker interface {
	Orchestrate(ctx context.Context, in orchestrator.Input) (*orchestrator.Output, error)
}

// RunStore is the slice of storage the workflow executor uses
type RunStore interface {
	GetWorkflow(ctx context.Context, workflowID string) (*types.Workflow, error)
	CreateWorkflowRun(ctx context.Context, run *types.WorkflowRun) error
	SaveStepResults(ctx context.Context, runID string, results []types.StepResult) error
	CompleteWorkflowRun(ctx context.Context, runID string, status types.RunStatus, results []types.StepResult, runErr string) error
	CreateCommand(ctx context.Context, cmd *types.AgentCommand) error
	GetCommandStatus(ctx context.Context, commandID string) (types.CommandStatus, map[string]interface{}, error)
	GetIntegration(ctx context.Context, integrationID string) (*types.Integration, error)
}

// Executor runs workflows step by step
type Executor struct {
	store        RunStore
	agents       AgentRunner
	orchestrator OrchestratorInvoker
	log          *logger.Logger
}

// New creates a workflow executor
func New(store RunStore, agents AgentRunner, orch OrchestratorInvoker) *Executor {
	return &Executor{
		store:        store,
		agents:       agents,
		orchestrator: orch,
		log:          logger.New("workflow"),
	}
}

// Run executes one workflow invocation to completion and returns the
// run summary. Satisfies the gateway's WorkflowInvoker contract.
func (e *Executor) Run(ctx context.Context, workflowID, triggerType string, triggerData map[string]interface{}) (map[string]interface{}, error) {
	w, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if !w.IsActive {
		return nil, fmt.Errorf("workflow %s is not active", workflowID)
	}
	if err := Validate(w); err != nil {
		return nil, err
	}
	if triggerType == "" {
		triggerType = TriggerManual
	}
	if !validTriggers[triggerType] {
		return nil, fmt.Errorf("unknown trigger type %q", triggerType)
	}

	run := &types.WorkflowRun{
		ID:          uuid.New().String(),
		WorkflowID:  w.ID,
		Status:      types.RunStatusRunning,
		TriggerType: triggerType,
		TriggerData: triggerData,
		StartedAt:   time.Now(),
	}
	if err := e.store.CreateWorkflowRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create workflow run: %w", err)
	}

	correlationID, _ := triggerData["correlation_id"].(string)
	agentID, _ := triggerData["agent_id"].(string)

	results, runErr := e.runSteps(ctx, w, run.ID, agentID, correlationID)

	status := types.RunStatusCompleted
	errMessage := ""
	if runErr != "" {
		status = types.RunStatusFailed
		errMessage = runErr
	}

	if err := e.store.CompleteWorkflowRun(ctx, run.ID, status, results, errMessage); err != nil {
		e.log.Error(agentID, correlationID, "failed to persist workflow completion", map[string]interface{}{
			"error":  err.Error(),
			"run_id": run.ID,
		})
	}

	workflowRunsTotal.WithLabelValues(string(status), triggerType).Inc()

	stepResultsJSON, _ := json.Marshal(results)
	var stepResults []interface{}
	json.Unmarshal(stepResultsJSON, &stepResults)

	out := map[string]interface{}{
		"run_id":       run.ID,
		"workflow_id":  w.ID,
		"status":       string(status),
		"step_results": stepResults,
	}
	if errMessage != "" {
		out["error"] = errMessage
	}
	return out, nil
}

// runSteps walks the declared step order, honoring branching and
// failure policies, persisting the growing result list after each step.
func (e *Executor) runSteps(ctx context.Context, w *types.Workflow, runID, agentID, correlationID string) ([]types.StepResult, string) {
	results := make([]types.StepResult, 0, len(w.Steps))
	pendingNext := ""

	for _, step := range w.Steps {
		// A previous condition named a step to jump to: skip every
		// step until it is reached.
		if pendingNext != "" && step.ID != pendingNext {
			results = append(results, types.StepResult{
				StepID:   step.ID,
				StepType: step.Type,
				Status:   "skipped",
			})
			e.persistProgress(ctx, runID, results)
			continue
		}
		pendingNext = ""

		result := e.runStepWithRetries(ctx, step, runID, agentID, correlationID, results)
		results = append(results, result)
		e.persistProgress(ctx, runID, results)

		workflowStepDuration.WithLabelValues(step.Type).Observe(float64(result.DurationMS))

		if result.Status == "failed" {
			policy := step.OnFailure
			if policy == "" {
				policy = OnFailureStop
			}
			if policy == OnFailureStop {
				return results, result.Error
			}
			continue
		}

		if next, ok := result.Output["next_step"].(string); ok && next != "" {
			pendingNext = next
		}
	}

	return results, ""
}

// runStepWithRetries wraps one step under its timeout and retry budget
func (e *Executor) runStepWithRetries(ctx context.Context, step types.WorkflowStep, runID, agentID, correlationID string, prior []types.StepResult) types.StepResult {
	timeout := DefaultStepTimeout
	if step.TimeoutMS > 0 {
		timeout = time.Duration(step.TimeoutMS) * time.Millisecond
	}

	start := time.Now()
	var lastErr error

	for attempt := 0; attempt <= step.Retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1000*(1<<uint(attempt-1))) * time.Millisecond
			if backoff > MaxRetryBackoff {
				backoff = MaxRetryBackoff
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				lastErr = ctx.Err()
				break
			}
		}

		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		output, err := e.runStep(stepCtx, step, runID, agentID, correlationID, prior)
		cancel()

		if err == nil {
			return types.StepResult{
				StepID:     step.ID,
				StepType:   step.Type,
				Status:     "completed",
				Output:     output,
				DurationMS: time.Since(start).Milliseconds(),
			}
		}
		lastErr = err

		// A bare context error means the timeout fired mid-step; steps
		// that produced their own timeout message keep it.
		if errors.Is(err, context.DeadlineExceeded) {
			lastErr = fmt.Errorf("step %s timed out after %s", step.ID, timeout)
		}
		if ctx.Err() != nil {
			break
		}
	}

	return types.StepResult{
		StepID:     step.ID,
		StepType:   step.Type,
		Status:     "failed",
		Error:      lastErr.Error(),
		DurationMS: time.Since(start).Milliseconds(),
	}
}

// runStep executes one step by kind
func (e *Executor) runStep(ctx context.Context, step types.WorkflowStep, runID, agentID, correlationID string, prior []types.StepResult) (map[string]interface{}, error) {
	switch step.Type {
	case StepAgentCommand:
		return e.runAgentCommand(ctx, step, agentID, correlationID)
	case StepWait:
		return e.runWait(ctx, step)
	case StepCondition:
		return e.runCondition(step, prior)
	case StepIntegrationAction:
		return e.runIntegrationAction(ctx, step, agentID)
	case StepOrchestrator:
		return e.runOrchestrator(ctx, step, runID, correlationID)
	default:
		return nil, fmt.Errorf("unknown step type %q", step.Type)
	}
}

// runAgentCommand executes the agent executor on the step's command
func (e *Executor) runAgentCommand(ctx context.Context, step types.WorkflowStep, triggerAgentID, correlationID string) (map[string]interface{}, error) {
	command, _ := step.Config["command"].(string)
	if command == "" {
		return nil, fmt.Errorf("agent_command step %s has no command", step.ID)
	}

	if payload, ok := step.Config["payload"]; ok && payload != nil {
		payloadJSON, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("step %s payload is not serializable: %w", step.ID, err)
		}
		command = fmt.Sprintf("%s: %s", command, payloadJSON)
	}

	targetAgentID, _ := step.Config["target_agent_id"].(string)
	if targetAgentID == "" {
		targetAgentID = triggerAgentID
	}
	if targetAgentID == "" {
		targetAgentID = "system"
	}

	result, err := e.agents.RunCommand(ctx, targetAgentID, command, correlationID)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"command":    command,
		"response":   result.Response,
		"tool_calls": result.ToolCalls,
		"turns":      result.Turns,
	}, nil
}

// runWait sleeps for the configured delay, capped
func (e *Executor) runWait(ctx context.Context, step types.WorkflowStep) (map[string]interface{}, error) {
	delayMS, _ := step.Config["delay_ms"].(float64)
	delay := time.Duration(delayMS) * time.Millisecond
	if delay > MaxWaitDelay {
		delay = MaxWaitDelay
	}
	if delay < 0 {
		delay = 0
	}

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return map[string]interface{}{"waited_ms": delay.Milliseconds()}, nil
}

// runCondition evaluates the expression against earlier step results
// and names the branch target
func (e *Executor) runCondition(step types.WorkflowStep, prior []types.StepResult) (map[string]interface{}, error) {
	expr, _ := step.Config["expression"].(string)
	cond, err := ParseCondition(expr)
	if err != nil {
		return nil, err
	}

	met := cond.Evaluate(prior)

	next := ""
	if met {
		next, _ = step.Config["then_step"].(string)
	} else {
		next, _ = step.Config["else_step"].(string)
	}

	out := map[string]interface{}{"condition_met": met}
	if next != "" {
		out["next_step"] = next
	}
	return out, nil
}

// runIntegrationAction inserts a command for the integration handler
// and polls it to a terminal state under the step's timeout
func (e *Executor) runIntegrationAction(ctx context.Context, step types.WorkflowStep, agentID string) (map[string]interface{}, error) {
	actionName, _ := step.Config["action_name"].(string)
	if actionName == "" {
		return nil, fmt.Errorf("integration_action step %s has no action_name", step.ID)
	}
	integrationID, _ := step.Config["integration_id"].(string)

	// Default config from the integration record, overridden by the
	// step's own parameters.
	parameters := make(map[string]interface{})
	if integrationID != "" {
		if integration, err := e.store.GetIntegration(ctx, integrationID); err == nil && integration.Config != nil {
			if defaults, ok := integration.Config[actionName].(map[string]interface{}); ok {
				for k, v := range defaults {
					parameters[k] = v
				}
			}
		}
	}
	if overrides, ok := step.Config["parameters"].(map[string]interface{}); ok {
		for k, v := range overrides {
			parameters[k] = v
		}
	}

	cmd := &types.AgentCommand{
		ID:          uuid.New().String(),
		AgentID:     agentID,
		CommandText: fmt.Sprintf("integration action %s", actionName),
		Status:      types.CommandStatusPending,
		Metadata: map[string]interface{}{
			"action_name":    actionName,
			"integration_id": integrationID,
			"parameters":     parameters,
		},
	}
	if err := e.store.CreateCommand(ctx, cmd); err != nil {
		return nil, fmt.Errorf("failed to create integration command: %w", err)
	}

	deadline, ok := ctx.Deadline()
	pollBudget := executor.MaxPollTimeout
	if ok {
		pollBudget = time.Until(deadline)
	}

	poll := executor.PollUntilTerminal(ctx, e.store, cmd.ID, pollBudget)
	switch poll.Status {
	case executor.PollCompleted:
		return map[string]interface{}{
			"command_id":     cmd.ID,
			"action_name":    actionName,
			"integration_id": integrationID,
			"status":         string(poll.Status),
			"output":         poll.Output,
			"parameters":     parameters,
		}, nil
	case executor.PollTimeout:
		return nil, fmt.Errorf("Integration action timed out: %s", actionName)
	default:
		return nil, fmt.Errorf("integration action %s %s: %s", actionName, poll.Status, poll.Error)
	}
}

// runOrchestrator fans the step's command out to several agents
func (e *Executor) runOrchestrator(ctx context.Context, step types.WorkflowStep, runID, correlationID string) (map[string]interface{}, error) {
	command, _ := step.Config["command"].(string)
	if command == "" {
		return nil, fmt.Errorf("orchestrator step %s has no command", step.ID)
	}
	if payload, ok := step.Config["payload"]; ok && payload != nil {
		payloadJSON, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("step %s payload is not serializable: %w", step.ID, err)
		}
		command = fmt.Sprintf("%s: %s", command, payloadJSON)
	}

	rawIDs, _ := step.Config["agent_ids"].([]interface{})
	agentIDs := make([]string, 0, len(rawIDs))
	for _, raw := range rawIDs {
		if id, ok := raw.(string); ok && id != "" {
			agentIDs = append(agentIDs, id)
		}
	}
	if len(agentIDs) == 0 {
		return nil, fmt.Errorf("orchestrator step %s has no agent_ids", step.ID)
	}

	strategy, _ := step.Config["strategy"].(string)
	if strategy == "" {
		strategy = orchestrator.StrategyMergeAll
	}

	timeout := time.Duration(0)
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	out, err := e.orchestrator.Orchestrate(ctx, orchestrator.Input{
		Command:       command,
		AgentIDs:      agentIDs,
		Strategy:      strategy,
		Timeout:       timeout,
		WorkflowRunID: runID,
		StepID:        step.ID,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}

	resultsJSON, _ := json.Marshal(out.AgentResults)
	var agentResults []interface{}
	json.Unmarshal(resultsJSON, &agentResults)

	return map[string]interface{}{
		"orchestration_run_id": out.OrchestrationRunID,
		"status":               string(out.Status),
		"merged_response":      out.MergedResponse,
		"agent_results":        agentResults,
		"duration_ms":          out.DurationMS,
	}, nil
}

// persistProgress writes the growing result list after each step
func (e *Executor) persistProgress(ctx context.Context, runID string, results []types.StepResult) {
	if err := e.store.SaveStepResults(ctx, runID, results); err != nil {
		e.log.Warn("", "", "failed to persist step results", map[string]interface{}{
			"error":  err.Error(),
			"run_id": runID,
		})
	}
}

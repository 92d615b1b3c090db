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

package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"agentmesh/core/orchestrator"
	"agentmesh/core/shared/types"
)

type fakeRunStore struct {
	mu          sync.Mutex
	workflow    *types.Workflow
	runs        []*types.WorkflowRun
	saved       [][]types.StepResult
	finalStatus types.RunStatus
	finalError  string
	finalSteps  []types.StepResult
	commands    []*types.AgentCommand
	cmdStatus   types.CommandStatus
	cmdMetadata map[string]interface{}
}

func (f *fakeRunStore) GetWorkflow(ctx context.Context, workflowID string) (*types.Workflow, error) {
	return f.workflow, nil
}

func (f *fakeRunStore) CreateWorkflowRun(ctx context.Context, run *types.WorkflowRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run)
	return nil
}

func (f *fakeRunStore) SaveStepResults(ctx context.Context, runID string, results []types.StepResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	snapshot := make([]types.StepResult, len(results))
	copy(snapshot, results)
	f.saved = append(f.saved, snapshot)
	return nil
}

func (f *fakeRunStore) CompleteWorkflowRun(ctx context.Context, runID string, status types.RunStatus, results []types.StepResult, runErr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalStatus = status
	f.finalError = runErr
	f.finalSteps = results
	return nil
}

func (f *fakeRunStore) CreateCommand(ctx context.Context, cmd *types.AgentCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
	return nil
}

func (f *fakeRunStore) GetCommandStatus(ctx context.Context, commandID string) (types.CommandStatus, map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cmdStatus == "" {
		return types.CommandStatusPending, nil, nil
	}
	return f.cmdStatus, f.cmdMetadata, nil
}

func (f *fakeRunStore) GetIntegration(ctx context.Context, integrationID string) (*types.Integration, error) {
	return &types.Integration{ID: integrationID, ServiceName: "test", Status: "active"}, nil
}

type fakeAgentRunner struct {
	mu       sync.Mutex
	commands []string
	fail     int // fail this many calls before succeeding
}

func (f *fakeAgentRunner) RunCommand(ctx context.Context, agentID, command, correlationID string) (*AgentStepResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)
	if f.fail > 0 {
		f.fail--
		return nil, fmt.Errorf("transient agent failure")
	}
	return &AgentStepResult{Response: "ok: " + command, ToolCalls: 1, Turns: 2}, nil
}

type fakeOrchestrator struct {
	output *orchestrator.Output
}

func (f *fakeOrchestrator) Orchestrate(ctx context.Context, in orchestrator.Input) (*orchestrator.Output, error) {
	return f.output, nil
}

func newTestWorkflowExecutor(store *fakeRunStore, runner *fakeAgentRunner, orch *fakeOrchestrator) *Executor {
	if runner == nil {
		runner = &fakeAgentRunner{}
	}
	if orch == nil {
		orch = &fakeOrchestrator{output: &orchestrator.Output{Status: types.RunStatusCompleted}}
	}
	return New(store, runner, orch)
}

func activeWorkflow(steps ...types.WorkflowStep) *types.Workflow {
	return &types.Workflow{
		ID:          "wf-1",
		Name:        "test workflow",
		Steps:       steps,
		TriggerType: TriggerManual,
		IsActive:    true,
	}
}

func TestRunOrchestratorAndWaitSteps(t *testing.T) {
	store := &fakeRunStore{workflow: activeWorkflow(
		types.WorkflowStep{
			ID:   "a",
			Type: StepOrchestrator,
			Config: map[string]interface{}{
				"agent_ids": []interface{}{"x", "y", "z"},
				"command":   "summarize",
				"strategy":  "merge_all",
			},
			TimeoutMS: 5000,
		},
		types.WorkflowStep{
			ID:     "b",
			Type:   StepWait,
			Config: map[string]interface{}{"delay_ms": float64(50)},
		},
	)}

	orch := &fakeOrchestrator{output: &orchestrator.Output{
		OrchestrationRunID: "orun-1",
		Status:             types.RunStatusCompleted,
		MergedResponse:     "[Agent x]: A.\n\n[Agent y]: B.",
	}}

	exec := newTestWorkflowExecutor(store, nil, orch)
	out, err := exec.Run(context.Background(), "wf-1", TriggerManual, map[string]interface{}{"agent_id": "ag-1"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if out["status"] != "completed" {
		t.Errorf("expected completed run, got %v", out["status"])
	}

	if store.finalStatus != types.RunStatusCompleted {
		t.Errorf("expected persisted completed status, got %s", store.finalStatus)
	}
	if len(store.finalSteps) != 2 {
		t.Fatalf("expected 2 step results, got %d", len(store.finalSteps))
	}

	stepA := store.finalSteps[0]
	if stepA.Status != "completed" || stepA.Output["merged_response"] != "[Agent x]: A.\n\n[Agent y]: B." {
		t.Errorf("unexpected step a result: %+v", stepA)
	}

	stepB := store.finalSteps[1]
	if stepB.Status != "completed" || stepB.Output["waited_ms"] != int64(50) {
		t.Errorf("unexpected step b result: %+v", stepB)
	}

	// Progress persisted after each step
	if len(store.saved) != 2 {
		t.Errorf("expected 2 incremental saves, got %d", len(store.saved))
	}
}

func TestRunIntegrationActionTimeoutStopsWorkflow(t *testing.T) {
	store := &fakeRunStore{workflow: activeWorkflow(
		types.WorkflowStep{
			ID:   "ia",
			Type: StepIntegrationAction,
			Config: map[string]interface{}{
				"action_name": "sync_inventory",
			},
			TimeoutMS: 1200,
		},
		types.WorkflowStep{
			ID:     "after",
			Type:   StepWait,
			Config: map[string]interface{}{"delay_ms": float64(1)},
		},
	)}
	// Command never leaves pending

	exec := newTestWorkflowExecutor(store, nil, nil)
	out, err := exec.Run(context.Background(), "wf-1", TriggerManual, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if out["status"] != "failed" {
		t.Errorf("expected failed run, got %v", out["status"])
	}
	if !strings.Contains(store.finalError, "Integration action timed out: sync_inventory") {
		t.Errorf("unexpected run error: %q", store.finalError)
	}

	// on_failure defaults to stop: the second step never ran
	if len(store.finalSteps) != 1 {
		t.Fatalf("expected 1 step result, got %d", len(store.finalSteps))
	}
	if store.finalSteps[0].Status != "failed" {
		t.Errorf("expected failed step, got %+v", store.finalSteps[0])
	}
}

func TestRunConditionBranchSkipsSteps(t *testing.T) {
	store := &fakeRunStore{workflow: activeWorkflow(
		types.WorkflowStep{
			ID:     "first",
			Type:   StepAgentCommand,
			Config: map[string]interface{}{"command": "do the thing"},
		},
		types.WorkflowStep{
			ID:   "gate",
			Type: StepCondition,
			Config: map[string]interface{}{
				"expression": "first.status == completed",
				"then_step":  "final",
				"else_step":  "fallback",
			},
		},
		types.WorkflowStep{
			ID:     "fallback",
			Type:   StepAgentCommand,
			Config: map[string]interface{}{"command": "should be skipped"},
		},
		types.WorkflowStep{
			ID:     "final",
			Type:   StepAgentCommand,
			Config: map[string]interface{}{"command": "reached the end"},
		},
	)}
	runner := &fakeAgentRunner{}

	exec := newTestWorkflowExecutor(store, runner, nil)
	out, err := exec.Run(context.Background(), "wf-1", TriggerManual, map[string]interface{}{"agent_id": "ag-1"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out["status"] != "completed" {
		t.Errorf("expected completed run, got %v", out["status"])
	}

	if len(store.finalSteps) != 4 {
		t.Fatalf("expected 4 step results, got %d", len(store.finalSteps))
	}
	if store.finalSteps[1].Output["condition_met"] != true {
		t.Errorf("condition should be met: %+v", store.finalSteps[1])
	}
	if store.finalSteps[2].Status != "skipped" || store.finalSteps[2].DurationMS != 0 {
		t.Errorf("fallback step should be skipped with zero duration: %+v", store.finalSteps[2])
	}
	if store.finalSteps[3].Status != "completed" {
		t.Errorf("final step should run: %+v", store.finalSteps[3])
	}

	for _, cmd := range runner.commands {
		if strings.Contains(cmd, "should be skipped") {
			t.Error("skipped step was executed")
		}
	}
}

func TestRunRetriesTransientFailure(t *testing.T) {
	store := &fakeRunStore{workflow: activeWorkflow(
		types.WorkflowStep{
			ID:      "flaky",
			Type:    StepAgentCommand,
			Config:  map[string]interface{}{"command": "eventually works"},
			Retries: 1,
		},
	)}
	runner := &fakeAgentRunner{fail: 1}

	exec := newTestWorkflowExecutor(store, runner, nil)
	start := time.Now()
	out, err := exec.Run(context.Background(), "wf-1", TriggerManual, map[string]interface{}{"agent_id": "ag-1"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if out["status"] != "completed" {
		t.Errorf("expected completed after retry, got %v", out["status"])
	}
	if len(runner.commands) != 2 {
		t.Errorf("expected 2 attempts, got %d", len(runner.commands))
	}
	// First retry backs off ~1s
	if time.Since(start) < 900*time.Millisecond {
		t.Error("retry skipped the backoff")
	}
}

func TestRunAgentCommandAppendsPayload(t *testing.T) {
	store := &fakeRunStore{workflow: activeWorkflow(
		types.WorkflowStep{
			ID:   "cmd",
			Type: StepAgentCommand,
			Config: map[string]interface{}{
				"command": "create a task",
				"payload": map[string]interface{}{"title": "ship it"},
			},
		},
	)}
	runner := &fakeAgentRunner{}

	exec := newTestWorkflowExecutor(store, runner, nil)
	if _, err := exec.Run(context.Background(), "wf-1", TriggerManual, map[string]interface{}{"agent_id": "ag-1"}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(runner.commands) != 1 {
		t.Fatalf("expected 1 command, got %d", len(runner.commands))
	}
	if !strings.HasPrefix(runner.commands[0], "create a task: {") {
		t.Errorf("payload not appended: %q", runner.commands[0])
	}
}

func TestParseCondition(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"step1", false},
		{"step1.status == completed", false},
		{"step1.output != empty", false},
		{"step1.result == x", true},  // unknown field
		{"step1.status >= completed", true}, // unknown op
		{"", true},
		{"a b c", true},
		{"step1.status == 'completed'", true}, // quoted values not in grammar
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			_, err := ParseCondition(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseCondition(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
			}
		})
	}
}

func TestConditionEvaluate(t *testing.T) {
	results := []types.StepResult{
		{StepID: "a", Status: "completed", Output: map[string]interface{}{"status": "completed"}},
		{StepID: "b", Status: "failed"},
	}

	tests := []struct {
		expr string
		want bool
	}{
		{"a", true},
		{"b", false},
		{"missing", false},
		{"a.status == completed", true},
		{"a.status != completed", false},
		{"b.status == failed", true},
		{"b.status != completed", true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			cond, err := ParseCondition(tt.expr)
			if err != nil {
				t.Fatalf("ParseCondition failed: %v", err)
			}
			if got := cond.Evaluate(results); got != tt.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestValidateRejectsBadDefinitions(t *testing.T) {
	tests := []struct {
		name string
		w    *types.Workflow
	}{
		{"no steps", &types.Workflow{Name: "x"}},
		{"no name", activeWorkflowNamed("", types.WorkflowStep{ID: "a", Type: StepWait})},
		{"duplicate ids", activeWorkflowNamed("x",
			types.WorkflowStep{ID: "a", Type: StepWait},
			types.WorkflowStep{ID: "a", Type: StepWait})},
		{"unknown type", activeWorkflowNamed("x", types.WorkflowStep{ID: "a", Type: "mystery"})},
		{"bad condition", activeWorkflowNamed("x", types.WorkflowStep{
			ID: "a", Type: StepCondition,
			Config: map[string]interface{}{"expression": "a.status >= done"},
		})},
		{"orchestrator without agents", activeWorkflowNamed("x", types.WorkflowStep{
			ID: "a", Type: StepOrchestrator, Config: map[string]interface{}{},
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Validate(tt.w); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func activeWorkflowNamed(name string, steps ...types.WorkflowStep) *types.Workflow {
	return &types.Workflow{ID: "wf", Name: name, Steps: steps, IsActive: true}
}

func TestLoadDefinitionFromYAML(t *testing.T) {
	doc := []byte(`
name: nightly-digest
trigger_type: scheduled
is_active: true
steps:
  - id: gather
    type: orchestrator
    config:
      agent_ids: [research, summarizer]
      command: build the digest
      strategy: merge_all
    timeout_ms: 20000
  - id: pause
    type: wait
    config:
      delay_ms: 1000
`)

	w, err := LoadDefinition(doc)
	if err != nil {
		t.Fatalf("LoadDefinition failed: %v", err)
	}
	if w.Name != "nightly-digest" || len(w.Steps) != 2 {
		t.Errorf("unexpected workflow: %+v", w)
	}
	if w.Steps[0].Type != StepOrchestrator || w.Steps[0].TimeoutMS != 20000 {
		t.Errorf("unexpected first step: %+v", w.Steps[0])
	}
}

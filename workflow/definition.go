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
	"fmt"

	"gopkg.in/yaml.v3"

	"agentmesh/core/shared/types"
)

// Step kinds
const (
	StepAgentCommand      = "agent_command"
	StepWait              = "wait"
	StepCondition         = "condition"
	StepIntegrationAction = "integration_action"
	StepOrchestrator      = "orchestrator"
)

// Failure policies
const (
	OnFailureStop     = "stop"
	OnFailureContinue = "continue"
	OnFailureSkip     = "skip"
)

// Trigger types
const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
	TriggerWebhook   = "webhook"
	TriggerEvent     = "event"
)

var validStepTypes = map[string]bool{
	StepAgentCommand:      true,
	StepWait:              true,
	StepCondition:         true,
	StepIntegrationAction: true,
	StepOrchestrator:      true,
}

var validTriggers = map[string]bool{
	TriggerManual:    true,
	TriggerScheduled: true,
	TriggerWebhook:   true,
	TriggerEvent:     true,
}

// LoadDefinition parses a YAML workflow document and validates it.
// Admin tooling and tests author workflows in YAML; the stored form is
// the same structure serialized as JSON.
func LoadDefinition(data []byte) (*types.Workflow, error) {
	var w types.Workflow
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to parse workflow document: %w", err)
	}
	if err := Validate(&w); err != nil {
		return nil, err
	}
	return &w, nil
}

// Validate checks a workflow definition's structure, including every
// condition expression, before any run starts.
func Validate(w *types.Workflow) error {
	if w.Name == "" {
		return fmt.Errorf("workflow name is required")
	}
	if len(w.Steps) == 0 {
		return fmt.Errorf("workflow %s has no steps", w.Name)
	}
	if w.TriggerType != "" && !validTriggers[w.TriggerType] {
		return fmt.Errorf("workflow %s has unknown trigger type %q", w.Name, w.TriggerType)
	}

	seen := make(map[string]bool, len(w.Steps))
	for i, step := range w.Steps {
		if step.ID == "" {
			return fmt.Errorf("step %d has no id", i)
		}
		if seen[step.ID] {
			return fmt.Errorf("duplicate step id %q", step.ID)
		}
		seen[step.ID] = true

		if !validStepTypes[step.Type] {
			return fmt.Errorf("step %s has unknown type %q", step.ID, step.Type)
		}
		if step.OnFailure != "" && step.OnFailure != OnFailureStop &&
			step.OnFailure != OnFailureContinue && step.OnFailure != OnFailureSkip {
			return fmt.Errorf("step %s has unknown on_failure %q", step.ID, step.OnFailure)
		}
		if step.Retries < 0 {
			return fmt.Errorf("step %s has negative retries", step.ID)
		}

		if step.Type == StepCondition {
			expr, _ := step.Config["expression"].(string)
			if expr == "" {
				return fmt.Errorf("condition step %s has no expression", step.ID)
			}
			if _, err := ParseCondition(expr); err != nil {
				return fmt.Errorf("condition step %s: %w", step.ID, err)
			}
		}

		if step.Type == StepOrchestrator {
			ids, _ := step.Config["agent_ids"].([]interface{})
			if len(ids) == 0 {
				return fmt.Errorf("orchestrator step %s has no agent_ids", step.ID)
			}
		}
	}

	return nil
}

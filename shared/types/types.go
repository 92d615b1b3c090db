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

// Package types holds the core entities shared across the gateway,
// executor, orchestrator, and workflow packages.
package types

import "time"

// AgentType classifies how much autonomy an agent has
type AgentType string

const (
	AgentTypeAutonomous AgentType = "autonomous"
	AgentTypeSupervised AgentType = "supervised"
	AgentTypeTool       AgentType = "tool"
)

// AgentStatus is the lifecycle state of an agent
type AgentStatus string

const (
	AgentStatusActive    AgentStatus = "active"
	AgentStatusInactive  AgentStatus = "inactive"
	AgentStatusSuspended AgentStatus = "suspended"
)

// Agent is an authenticated non-human principal
type Agent struct {
	ID                 string                 `json:"id"`
	Name               string                 `json:"name"`
	Type               AgentType              `json:"type"`
	Status             AgentStatus            `json:"status"`
	Capabilities       []string               `json:"capabilities"`
	RateLimitPerMinute int                    `json:"rate_limit_per_minute"`
	AllowDestructive   bool                   `json:"allow_destructive"`
	SigningSecretEnc   string                 `json:"-"`
	LastSeenAt         *time.Time             `json:"last_seen_at,omitempty"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
}

// HasCapability reports whether the agent holds the named capability
func (a *Agent) HasCapability(capability string) bool {
	for _, c := range a.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// CommandStatus is the lifecycle state of an agent command.
// Terminal states (completed, failed, cancelled) are absorbing.
type CommandStatus string

const (
	CommandStatusPending    CommandStatus = "pending"
	CommandStatusProcessing CommandStatus = "processing"
	CommandStatusCompleted  CommandStatus = "completed"
	CommandStatusFailed     CommandStatus = "failed"
	CommandStatusCancelled  CommandStatus = "cancelled"
)

// IsTerminal reports whether the status can never change again
func (s CommandStatus) IsTerminal() bool {
	return s == CommandStatusCompleted || s == CommandStatusFailed || s == CommandStatusCancelled
}

// AgentCommand is a natural-language instruction addressed to an agent
type AgentCommand struct {
	ID          string                 `json:"id"`
	AgentID     string                 `json:"agent_id"`
	CommandText string                 `json:"command_text"`
	Status      CommandStatus          `json:"status"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	ReceivedAt  time.Time              `json:"received_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

// AgentResponse is the append-only artifact of one conversation
type AgentResponse struct {
	ID        string                 `json:"id"`
	AgentID   string                 `json:"agent_id"`
	CommandID string                 `json:"command_id,omitempty"`
	SessionID string                 `json:"session_id"`
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// AgentMemory is a past interaction summary with its embedding
type AgentMemory struct {
	ID             string    `json:"id"`
	AgentID        string    `json:"agent_id"`
	SessionID      string    `json:"session_id"`
	CommandID      string    `json:"command_id,omitempty"`
	Summary        string    `json:"summary"`
	Embedding      []float64 `json:"-"`
	CommandText    string    `json:"command_text"`
	ResponseText   string    `json:"response_text"`
	ToolNames      []string  `json:"tool_names"`
	TurnCount      int       `json:"turn_count"`
	Importance     float64   `json:"importance"`
	Similarity     float64   `json:"similarity,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// ToolDefinition is one entry of the static tool catalog
type ToolDefinition struct {
	Name           string                 `json:"name"`
	Description    string                 `json:"description"`
	InputSchema    map[string]interface{} `json:"input_schema"`
	CapabilityName string                 `json:"capability_name"`
	ActionName     string                 `json:"action_name"`
	IsActive       bool                   `json:"is_active"`
}

// ConfirmationStatus is the state of a supervised-agent approval
type ConfirmationStatus string

const (
	ConfirmationPending  ConfirmationStatus = "pending"
	ConfirmationApproved ConfirmationStatus = "approved"
	ConfirmationRejected ConfirmationStatus = "rejected"
)

// AgentConfirmation gates non-query actions for supervised agents
type AgentConfirmation struct {
	ID        string             `json:"id"`
	AgentID   string             `json:"agent_id"`
	Action    string             `json:"action"`
	Status    ConfirmationStatus `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
}

// WorkflowStep is one node of a workflow definition
type WorkflowStep struct {
	ID        string                 `json:"id" yaml:"id"`
	Type      string                 `json:"type" yaml:"type"`
	Config    map[string]interface{} `json:"config" yaml:"config"`
	TimeoutMS int                    `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	Retries   int                    `json:"retries,omitempty" yaml:"retries,omitempty"`
	OnFailure string                 `json:"on_failure,omitempty" yaml:"on_failure,omitempty"`
}

// Workflow is an ordered list of steps with a trigger
type Workflow struct {
	ID            string                 `json:"id" yaml:"id"`
	Name          string                 `json:"name" yaml:"name"`
	Steps         []WorkflowStep         `json:"steps" yaml:"steps"`
	TriggerType   string                 `json:"trigger_type" yaml:"trigger_type"`
	TriggerConfig map[string]interface{} `json:"trigger_config,omitempty" yaml:"trigger_config,omitempty"`
	IsActive      bool                   `json:"is_active" yaml:"is_active"`
}

// RunStatus is the lifecycle state of a workflow run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusTimedOut  RunStatus = "timed_out"
)

// StepResult records the outcome of one executed step
type StepResult struct {
	StepID     string                 `json:"step_id"`
	StepType   string                 `json:"step_type"`
	Status     string                 `json:"status"` // completed, failed, skipped
	Output     map[string]interface{} `json:"output,omitempty"`
	Error      string                 `json:"error,omitempty"`
	DurationMS int64                  `json:"duration_ms"`
}

// WorkflowRun is one invocation of a workflow
type WorkflowRun struct {
	ID          string                 `json:"id"`
	WorkflowID  string                 `json:"workflow_id"`
	Status      RunStatus              `json:"status"`
	TriggerType string                 `json:"trigger_type"`
	TriggerData map[string]interface{} `json:"trigger_data,omitempty"`
	StepResults []StepResult           `json:"step_results"`
	Error       string                 `json:"error,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

// OrchestrationRun is one orchestrator invocation
type OrchestrationRun struct {
	ID            string     `json:"id"`
	WorkflowRunID string     `json:"workflow_run_id,omitempty"`
	StepID        string     `json:"step_id,omitempty"`
	Command       string     `json:"command"`
	AgentIDs      []string   `json:"agent_ids"`
	Strategy      string     `json:"strategy"`
	Status        RunStatus  `json:"status"`
	Result        string     `json:"result,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// OrchestrationResponse is the per-agent outcome of one fan-out
type OrchestrationResponse struct {
	OrchestrationRunID string     `json:"orchestration_run_id"`
	AgentID            string     `json:"agent_id"`
	Status             string     `json:"status"` // pending, completed, failed, timed_out
	Response           string     `json:"response,omitempty"`
	ToolCalls          int        `json:"tool_calls"`
	Turns              int        `json:"turns"`
	Score              *float64   `json:"score,omitempty"`
	DurationMS         int64      `json:"duration_ms"`
	Error              string     `json:"error,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}

// IntegrationCredential is an encrypted credential for an integration
type IntegrationCredential struct {
	ID               string     `json:"id"`
	IntegrationID    string     `json:"integration_id"`
	EncryptedPayload string     `json:"-"`
	KeyVersion       string     `json:"key_version"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	LastUsedAt       *time.Time `json:"last_used_at,omitempty"`
}

// Integration describes an external service reachable through dispatch
type Integration struct {
	ID             string                 `json:"id"`
	ServiceName    string                 `json:"service_name"`
	ServiceType    string                 `json:"service_type"` // oauth2, api_key, webhook, custom
	Config         map[string]interface{} `json:"config,omitempty"`
	HealthCheckURL string                 `json:"health_check_url,omitempty"`
	Status         string                 `json:"status"`
}

// OAuthState is a single-use CSRF token for the OAuth flow
type OAuthState struct {
	State         string     `json:"state"`
	IntegrationID string     `json:"integration_id"`
	AgentID       string     `json:"agent_id"`
	RedirectURI   string     `json:"redirect_uri"`
	UsedAt        *time.Time `json:"used_at,omitempty"`
	ExpiresAt     time.Time  `json:"expires_at"`
}

// AuditEvent is one append-only audit record
type AuditEvent struct {
	ActorType    string                 `json:"actor_type"`
	ActorID      string                 `json:"actor_id"`
	Action       string                 `json:"action"`
	ResourceType string                 `json:"resource_type,omitempty"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
	OccurredAt   time.Time              `json:"occurred_at"`
}

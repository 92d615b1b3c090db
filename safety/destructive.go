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

package safety

import "agentmesh/core/shared/types"

// destructiveActions is the static set of actions with real-world side
// effects. Executing any of these requires the agent's allow_destructive
// flag regardless of capabilities.
var destructiveActions = map[string]bool{
	"email.send":         true,
	"email.send_bulk":    true,
	"social.post":        true,
	"finance.payment":    true,
	"finance.transfer":   true,
	"code.deploy":        true,
	"crm.update_contact": true,
	"crm.delete_contact": true,
	"data.export":        true,
	"data.delete":        true,
	"calendar.delete":    true,
}

// GateResult is the outcome of a destructive-action check
type GateResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// IsDestructive reports whether the action has real-world side effects
func IsDestructive(action string) bool {
	return destructiveActions[action]
}

// VerifyDestructive evaluates whether an agent may perform an action
// from the destructive set. Non-destructive actions always pass. Tool
// agents are unconditionally denied; every other type needs the
// per-agent allow_destructive flag.
func VerifyDestructive(action string, agentType types.AgentType, allowDestructive bool) GateResult {
	if !IsDestructive(action) {
		return GateResult{Allowed: true}
	}

	if agentType == types.AgentTypeTool {
		return GateResult{
			Allowed: false,
			Reason:  "tool agents may not perform destructive actions",
		}
	}

	if !allowDestructive {
		return GateResult{
			Allowed: false,
			Reason:  "agent is not permitted to perform destructive actions",
		}
	}

	return GateResult{Allowed: true}
}

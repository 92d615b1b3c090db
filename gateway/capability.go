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

package gateway

import "strings"

// RouteType classifies where an action is dispatched
type RouteType string

const (
	RouteQuery       RouteType = "query"
	RouteWorkflow    RouteType = "workflow"
	RouteIntegration RouteType = "integration"
	RouteAgent       RouteType = "agent"
	RouteSystem      RouteType = "system"
)

// actionCapabilities maps every known action to its required
// capability. An empty value means a system action with no capability
// requirement. Unknown actions are denied by default.
var actionCapabilities = map[string]string{
	// CRM
	"crm.search":         "crm",
	"crm.get_contact":    "crm",
	"crm.update_contact": "crm",
	"crm.delete_contact": "crm",

	// Email
	"email.send":      "email",
	"email.send_bulk": "email",
	"email.search":    "email",

	// Calendar
	"calendar.list_events":  "calendar",
	"calendar.create_event": "calendar",
	"calendar.delete":       "calendar",

	// Documents
	"documents.search": "documents",
	"documents.create": "documents",

	// Tasks
	"tasks.list":   "tasks",
	"tasks.create": "tasks",
	"tasks.update": "tasks",

	// Social / finance / code / data
	"social.post":      "social",
	"finance.payment":  "finance",
	"finance.transfer": "finance",
	"code.deploy":      "code",
	"data.export":      "data",
	"data.delete":      "data",

	// Queries (read actions against core tables)
	"query.agents":                  "query",
	"query.agent_commands":          "query",
	"query.agent_responses":         "query",
	"query.agent_memories":          "query",
	"query.workflows":               "query",
	"query.workflow_runs":           "query",
	"query.orchestration_runs":      "query",
	"query.orchestration_responses": "query",
	"query.integrations":            "query",
	"query.tool_definitions":        "query",

	// Workflows
	"workflow.execute": "workflows",
	"workflow.status":  "workflows",

	// Integrations
	"integration.status":         "",
	"integration.action":         "integrations",
	"integration.oauth.initiate": "integrations",
	"integration.oauth.callback": "integrations",
	"integration.credential.get": "",

	// Agent internals and system actions (no capability required)
	"agent.status":             "",
	"agent.capabilities":       "",
	"agent.execute":            "",
	"system.health":            "",
	"system.provision_tenant":  "",
	"system.emit_event":        "",
}

// RequiredCapability returns (capability, known) for an action
func RequiredCapability(action string) (string, bool) {
	required, ok := actionCapabilities[action]
	return required, ok
}

// CanPerformAction returns true iff the action is known and either
// requires no capability or the agent holds the required one
func CanPerformAction(capabilities []string, action string) bool {
	required, known := actionCapabilities[action]
	if !known {
		return false
	}
	if required == "" {
		return true
	}
	for _, c := range capabilities {
		if c == required {
			return true
		}
	}
	return false
}

// RouteFor resolves an action prefix to its dispatch route. Anything
// without a dedicated prefix routes to the generic system handler
// identified by the action itself.
func RouteFor(action string) RouteType {
	switch {
	case strings.HasPrefix(action, "query."):
		return RouteQuery
	case strings.HasPrefix(action, "workflow."):
		return RouteWorkflow
	case strings.HasPrefix(action, "integration."):
		return RouteIntegration
	case strings.HasPrefix(action, "agent."):
		return RouteAgent
	default:
		return RouteSystem
	}
}

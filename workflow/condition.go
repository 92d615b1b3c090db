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
	"regexp"

	"agentmesh/core/shared/types"
)

// Condition grammar: a bare step id, or <step_id>.<field> <op> <value>
// with field in {status, output}, op in {==, !=}, and an identifier
// value. Anything else fails validation at workflow-load time.
var conditionPattern = regexp.MustCompile(
	`^\s*([A-Za-z_][A-Za-z0-9_\-]*)(?:\.(status|output)\s*(==|!=)\s*([A-Za-z_][A-Za-z0-9_\-]*))?\s*$`)

// Condition is one parsed condition expression
type Condition struct {
	StepID string
	Field  string // empty for the bare-step form
	Op     string
	Value  string
}

// ParseCondition validates and parses a condition expression
func ParseCondition(expr string) (*Condition, error) {
	m := conditionPattern.FindStringSubmatch(expr)
	if m == nil {
		return nil, fmt.Errorf("invalid condition expression: %q", expr)
	}
	return &Condition{StepID: m[1], Field: m[2], Op: m[3], Value: m[4]}, nil
}

// Evaluate resolves the condition against earlier step results. A bare
// step id is truthy iff that step completed. An unknown step id
// evaluates to false.
func (c *Condition) Evaluate(results []types.StepResult) bool {
	var target *types.StepResult
	for i := range results {
		if results[i].StepID == c.StepID {
			target = &results[i]
			break
		}
	}
	if target == nil {
		return false
	}

	if c.Field == "" {
		return target.Status == "completed"
	}

	var actual string
	switch c.Field {
	case "status":
		actual = target.Status
	case "output":
		if target.Output != nil {
			if s, ok := target.Output["output"].(string); ok {
				actual = s
			} else if s, ok := target.Output["status"].(string); ok {
				actual = s
			}
		}
	}

	if c.Op == "!=" {
		return actual != c.Value
	}
	return actual == c.Value
}

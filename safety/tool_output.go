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

import "regexp"

// MaxToolOutputBytes caps tool output fed back to the model
const MaxToolOutputBytes = 50 * 1024

// TruncationMarker is appended when tool output is cut
const TruncationMarker = "[TRUNCATED]"

// Redaction labels specific to tool output
const (
	LabelInternalIP = "[REDACTED_INTERNAL_IP]"
	LabelEnvVar     = "[REDACTED_ENV_VAR]"
	LabelConnString = "[REDACTED_CONNECTION_STRING]"
)

var (
	// RFC 1918 ranges: 10/8, 172.16/12, 192.168/16
	internalIPPattern = regexp.MustCompile(`\b(?:10\.(?:\d{1,3}\.){2}\d{1,3}|172\.(?:1[6-9]|2\d|3[01])\.(?:\d{1,3}\.)\d{1,3}|192\.168\.(?:\d{1,3}\.)\d{1,3})\b`)

	envVarPattern = regexp.MustCompile(`\b[A-Z][A-Z0-9_]{2,}=(?:"[^"\n]*"|'[^'\n]*'|\S+)`)

	connStringPattern = regexp.MustCompile(`\b(?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?|redis|amqp)://[^\s"']+`)
)

// FilterResult carries sanitized content plus the violations observed.
// Tool-output filtering never blocks; violations are informational.
type FilterResult struct {
	Content    string      `json:"content"`
	Violations []Violation `json:"violations,omitempty"`
	Truncated  bool        `json:"truncated"`
}

// FilterToolOutput sanitizes output returned by a tool before it is
// handed back to the model: PII redaction, internal address and secret
// scrubbing, and a hard size cap.
func FilterToolOutput(output string) FilterResult {
	var violations []Violation

	content := output
	if next := connStringPattern.ReplaceAllString(content, LabelConnString); next != content {
		violations = append(violations, Violation{Type: "connection_string", Severity: SeverityWarn})
		content = next
	}
	if next := envVarPattern.ReplaceAllString(content, LabelEnvVar); next != content {
		violations = append(violations, Violation{Type: "env_var_assignment", Severity: SeverityWarn})
		content = next
	}
	if next := internalIPPattern.ReplaceAllString(content, LabelInternalIP); next != content {
		violations = append(violations, Violation{Type: "internal_ip", Severity: SeverityWarn})
		content = next
	}
	if next := RedactPII(content); next != content {
		violations = append(violations, Violation{Type: "pii", Severity: SeverityWarn})
		content = next
	}

	truncated := false
	if len(content) > MaxToolOutputBytes {
		content = content[:MaxToolOutputBytes] + TruncationMarker
		truncated = true
	}

	return FilterResult{Content: content, Violations: violations, Truncated: truncated}
}

// leak patterns suggest the model is reproducing its own instructions
var leakPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bmy\s+system\s+prompt\s+(?:is|says)\b`),
	regexp.MustCompile(`(?i)\bI\s+(?:was|am)\s+instructed\s+to\b`),
	regexp.MustCompile(`(?i)\bhere\s+(?:are|is)\s+my\s+(?:instructions|system\s+prompt)\b`),
	regexp.MustCompile(`(?i)^SECURITY RULES`),
}

// FilterResponse applies PII redaction to a model response and warns
// (without blocking) when the response looks like an instruction leak.
func FilterResponse(response string) FilterResult {
	var violations []Violation

	content := response
	if next := RedactPII(content); next != content {
		violations = append(violations, Violation{Type: "pii", Severity: SeverityWarn})
		content = next
	}

	for _, p := range leakPatterns {
		if p.MatchString(content) {
			violations = append(violations, Violation{Type: "instruction_leak", Severity: SeverityWarn})
			break
		}
	}

	return FilterResult{Content: content, Violations: violations}
}

// WrapToolResult wraps tool output in boundary markers so the model is
// instructed to treat the content as data, not instructions.
func WrapToolResult(toolName, content string) string {
	return "[TOOL_RESULT: " + toolName + "]\n" + content + "\n[/TOOL_RESULT]"
}

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
	"fmt"
	"strings"

	"agentmesh/core/shared/types"
)

// LogAuditEvent appends one audit record through the storage primitive.
// Audit writes retry transient failures but never fail a request.
func (s *Store) LogAuditEvent(ctx context.Context, e *types.AuditEvent) error {
	details, err := marshalJSON(e.Details)
	if err != nil {
		return err
	}

	return s.execWithRetry(ctx,
		`SELECT log_audit_event($1, $2, $3, $4, $5, $6)`,
		e.ActorType, e.ActorID, e.Action, e.ResourceType, e.ResourceID, details)
}

// EmitEvent publishes a platform event through the storage primitive
func (s *Store) EmitEvent(ctx context.Context, eventType string, payload map[string]interface{}, sourceType, sourceID string) error {
	data, err := marshalJSON(payload)
	if err != nil {
		return err
	}

	return s.execWithRetry(ctx,
		`SELECT emit_event($1, $2, $3, $4)`,
		eventType, data, sourceType, sourceID)
}

// ProvisionTenant creates a tenant through the storage primitive and
// returns its id. A duplicate slug surfaces as ErrConflict.
func (s *Store) ProvisionTenant(ctx context.Context, name, slug, tenantType, adminEmail, plan string, branding map[string]interface{}) (string, error) {
	brandingJSON, err := marshalJSON(branding)
	if err != nil {
		return "", err
	}

	var tenantID string
	err = s.db.QueryRowContext(ctx,
		`SELECT tenant_id FROM provision_tenant($1, $2, $3, $4, $5, $6)`,
		name, slug, tenantType, adminEmail, plan, brandingJSON).Scan(&tenantID)
	if err != nil {
		if isUniqueViolation(err) {
			return "", ErrConflict
		}
		return "", fmt.Errorf("failed to provision tenant: %w", err)
	}
	return tenantID, nil
}

// isUniqueViolation detects a uniqueness conflict from the driver error
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "already exists")
}

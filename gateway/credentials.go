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

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"agentmesh/core/shared/crypto"
	"agentmesh/core/store"
)

// credentialGet serves integration.credential.get for internal callers:
// decrypt the stored credential, migrating the payload to the current
// key version when it was written under an older one.
func (g *Gateway) credentialGet(ctx context.Context, req *Request, internal bool) (*DispatchResult, *APIError) {
	if !internal {
		return nil, NewAPIError(KindPermission, "credential access is internal-only", http.StatusForbidden)
	}

	integrationID, _ := req.Params["integration_id"].(string)
	if integrationID == "" {
		return nil, NewAPIError(KindValidation, "params.integration_id is required", http.StatusBadRequest)
	}

	credential, err := g.store.GetCredential(ctx, integrationID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, NewAPIError(KindNotFound, "credential not found", http.StatusNotFound)
		}
		return nil, NewAPIError(KindInternal, "credential lookup failed", http.StatusInternalServerError)
	}

	if credential.ExpiresAt != nil && time.Now().After(*credential.ExpiresAt) {
		return nil, NewAPIError(KindAuth, "credential expired", http.StatusGone)
	}

	var payload crypto.Payload
	if err := json.Unmarshal([]byte(credential.EncryptedPayload), &payload); err != nil {
		return nil, NewAPIError(KindInternal, "malformed credential payload", http.StatusInternalServerError)
	}

	var secretData map[string]interface{}
	if err := g.envelope.Decrypt(&payload, &secretData); err != nil {
		return nil, NewAPIError(KindInternal, "credential decryption failed", http.StatusInternalServerError)
	}

	// Lazy key migration: payloads written under an old key version are
	// re-encrypted under the current one on read.
	if migrated, err := g.migrateCredential(ctx, credential.ID, &payload); err == nil && migrated {
		g.log.Info("", "", "credential migrated to current key version", map[string]interface{}{
			"integration_id": integrationID,
		})
	} else {
		g.store.TouchCredential(ctx, credential.ID)
	}

	return &DispatchResult{
		StatusCode: http.StatusOK,
		Body: map[string]interface{}{
			"integration_id": integrationID,
			"credentials":    secretData,
			"key_version":    payload.KeyID,
		},
	}, nil
}

// migrateCredential re-encrypts a stale payload under the current key
// version and persists it; reports whether migration happened
func (g *Gateway) migrateCredential(ctx context.Context, credentialID string, payload *crypto.Payload) (bool, error) {
	if g.envelope == nil || payload.KeyID == g.envelope.CurrentKeyID() {
		return false, nil
	}
	fresh, err := g.envelope.ReEncrypt(payload)
	if err != nil {
		return false, err
	}

	data, err := json.Marshal(fresh)
	if err != nil {
		return false, err
	}
	if err := g.store.UpdateCredentialPayload(ctx, credentialID, string(data), fresh.KeyID); err != nil {
		return false, err
	}
	return true, nil
}

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

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"agentmesh/core/shared/crypto"
	"agentmesh/core/store"
)

// webhook signature headers by scheme
const (
	headerWebhookSignature = "X-Webhook-Signature"
	headerStripeSignature  = "Stripe-Signature"
	headerGitHubSignature  = "X-Hub-Signature-256"
)

// HandleWebhook receives an inbound webhook for a workflow with a
// webhook trigger, verifies its signature per the trigger config, and
// invokes the workflow with the payload as trigger data.
func (g *Gateway) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	workflowID := mux.Vars(r)["workflow_id"]

	correlationID := r.Header.Get(HeaderCorrelationID)
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	w.Header().Set(HeaderCorrelationID, correlationID)

	ctx, cancel := context.WithTimeout(r.Context(), RequestCeiling)
	defer cancel()

	rawBody, apiErr := readRawBody(r)
	if apiErr != nil {
		g.fail(w, correlationID, "", "workflow.webhook", start, apiErr, nil)
		return
	}

	workflow, err := g.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		if err == store.ErrNotFound {
			g.fail(w, correlationID, "", "workflow.webhook", start,
				NewAPIError(KindNotFound, "workflow not found", http.StatusNotFound), nil)
			return
		}
		g.fail(w, correlationID, "", "workflow.webhook", start,
			NewAPIError(KindInternal, "workflow lookup failed", http.StatusInternalServerError), nil)
		return
	}
	if workflow.TriggerType != "webhook" {
		g.fail(w, correlationID, "", "workflow.webhook", start,
			NewAPIError(KindValidation, "workflow is not webhook-triggered", http.StatusBadRequest), nil)
		return
	}

	// Verify the inbound signature when the trigger demands one
	if secret, _ := workflow.TriggerConfig["secret"].(string); secret != "" {
		scheme, _ := workflow.TriggerConfig["signature_scheme"].(string)
		if scheme == "" {
			scheme = string(crypto.WebhookHMACSHA256)
		}

		var header string
		switch crypto.WebhookScheme(scheme) {
		case crypto.WebhookStripe:
			header = r.Header.Get(headerStripeSignature)
		case crypto.WebhookGitHub:
			header = r.Header.Get(headerGitHubSignature)
		default:
			header = r.Header.Get(headerWebhookSignature)
		}

		if err := crypto.VerifyWebhook(crypto.WebhookScheme(scheme), secret, header, rawBody, time.Now()); err != nil {
			g.fail(w, correlationID, "", "workflow.webhook", start,
				NewAPIError(KindAuth, "webhook signature verification failed", http.StatusUnauthorized), nil)
			return
		}
	}

	var payload map[string]interface{}
	if len(rawBody) > 0 {
		if apiErr := decodeValidated(rawBody, &payload); apiErr != nil {
			g.fail(w, correlationID, "", "workflow.webhook", start, apiErr, nil)
			return
		}
	}

	triggerData := map[string]interface{}{
		"source":         "webhook",
		"payload":        payload,
		"correlation_id": correlationID,
	}

	result, err := g.workflows.Run(ctx, workflowID, "webhook", triggerData)
	if err != nil {
		g.fail(w, correlationID, "", "workflow.webhook", start,
			NewAPIError(KindInternal, "workflow execution failed", http.StatusInternalServerError), nil)
		return
	}

	gatewayRequests.WithLabelValues("workflow.webhook", "success").Inc()
	gatewayDuration.Observe(float64(time.Since(start).Milliseconds()))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"request_id":    uuid.New().String(),
		"status":        "success",
		"data":          result,
		"correlationId": correlationID,
	})
}

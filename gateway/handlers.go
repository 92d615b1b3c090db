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
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"agentmesh/core/shared/crypto"
	"agentmesh/core/shared/logger"
	"agentmesh/core/shared/types"
	"agentmesh/core/safety"
	"agentmesh/core/store"
)

// Gateway Prometheus metrics
var (
	gatewayRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentmesh_gateway_requests_total",
			Help: "Total number of gateway requests",
		},
		[]string{"action", "status"},
	)
	gatewayDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentmesh_gateway_request_duration_milliseconds",
			Help:    "Gateway request duration in milliseconds",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200, 500, 1000, 5000, 25000},
		},
	)
	gatewayDestructiveBlocked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentmesh_gateway_destructive_blocked_total",
			Help: "Destructive actions blocked by the gate",
		},
	)
)

func init() {
	prometheus.MustRegister(gatewayRequests)
	prometheus.MustRegister(gatewayDuration)
	prometheus.MustRegister(gatewayDestructiveBlocked)
}

// RequestCeiling is the implicit deadline of every inbound request
const RequestCeiling = 25 * time.Second

// Request is the gateway request envelope
type Request struct {
	Action        string                 `json:"action"`
	Params        map[string]interface{} `json:"params,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
}

// ResponseMeta describes the handled request
type ResponseMeta struct {
	AgentID    string         `json:"agent_id,omitempty"`
	Action     string         `json:"action"`
	DurationMS int64          `json:"duration_ms"`
	RateLimit  *RateLimitInfo `json:"rate_limit,omitempty"`
}

// Response is the gateway response envelope
type Response struct {
	RequestID string                 `json:"request_id"`
	Status    string                 `json:"status"` // success or error
	Data      map[string]interface{} `json:"data,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Meta      ResponseMeta           `json:"meta"`
}

// WorkflowInvoker runs a workflow; wired in from the workflow package
type WorkflowInvoker interface {
	Run(ctx context.Context, workflowID, triggerType string, triggerData map[string]interface{}) (map[string]interface{}, error)
}

// Config wires the gateway's collaborators
type Config struct {
	Store           *store.Store
	Authenticator   *Authenticator
	Audit           *AuditEmitter
	Dispatcher      InternalDispatcher
	Workflows       WorkflowInvoker
	Envelope        *crypto.Envelope
	SchedulerSecret string
	ProvisionSecret string

	// GlobalLimiter bounds unauthenticated callers by remote address
	// before any storage work happens. Optional; typically the durable
	// or Redis tier.
	GlobalLimiter RateLimiter
}

// Gateway is the single API entry point
type Gateway struct {
	store           *store.Store
	auth            *Authenticator
	audit           *AuditEmitter
	dispatcher      InternalDispatcher
	workflows       WorkflowInvoker
	envelope        *crypto.Envelope
	schedulerSecret string
	provisionSecret string
	globalLimiter   RateLimiter
	log             *logger.Logger
}

// New creates the gateway
func New(cfg Config) *Gateway {
	return &Gateway{
		store:           cfg.Store,
		auth:            cfg.Authenticator,
		audit:           cfg.Audit,
		dispatcher:      cfg.Dispatcher,
		workflows:       cfg.Workflows,
		envelope:        cfg.Envelope,
		schedulerSecret: cfg.SchedulerSecret,
		provisionSecret: cfg.ProvisionSecret,
		globalLimiter:   cfg.GlobalLimiter,
		log:             logger.New("gateway"),
	}
}

// Register mounts the gateway endpoints on the router
func (g *Gateway) Register(r *mux.Router) {
	r.HandleFunc("/api/gateway", g.HandleRequest).Methods(http.MethodPost)
	r.HandleFunc("/api/webhooks/{workflow_id}", g.HandleWebhook).Methods(http.MethodPost)
}

// HandleRequest runs the admission pipeline: validation, action
// resolution, authentication, capability check, agent-type enforcement,
// destructive gate, signature verification, dispatch, audit.
func (g *Gateway) HandleRequest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	correlationID := r.Header.Get(HeaderCorrelationID)
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	w.Header().Set(HeaderCorrelationID, correlationID)

	ctx, cancel := context.WithTimeout(r.Context(), RequestCeiling)
	defer cancel()

	// Global pre-auth limiter, keyed by remote address
	if g.globalLimiter != nil {
		result := g.globalLimiter.Check(remoteHost(r))
		for k, vs := range HeadersFor(result) {
			for _, v := range vs {
				w.Header().Set(k, v)
			}
		}
		if !result.Allowed {
			g.fail(w, correlationID, "", "", start,
				NewAPIError(KindRateLimit, "rate limit exceeded", http.StatusTooManyRequests),
				rateLimitInfo(&result))
			return
		}
	}

	// 1. Input validation
	if apiErr := ValidateContentType(r); apiErr != nil {
		g.fail(w, correlationID, "", "", start, apiErr, nil)
		return
	}

	rawBody, apiErr := readRawBody(r)
	if apiErr != nil {
		g.fail(w, correlationID, "", "", start, apiErr, nil)
		return
	}

	var req Request
	if apiErr := decodeValidated(rawBody, &req); apiErr != nil {
		g.fail(w, correlationID, "", "", start, apiErr, nil)
		return
	}
	if req.CorrelationID != "" {
		correlationID = req.CorrelationID
		w.Header().Set(HeaderCorrelationID, correlationID)
	}
	if req.Action == "" {
		g.fail(w, correlationID, "", "", start, NewAPIError(KindValidation, "action is required", http.StatusBadRequest), nil)
		return
	}

	// 2. Resolve the action
	if _, known := RequiredCapability(req.Action); !known {
		g.fail(w, correlationID, "", req.Action, start, NewAPIError(KindValidation, "unknown action: "+req.Action, http.StatusBadRequest), nil)
		return
	}
	route := RouteFor(req.Action)

	// Internal callers present the scheduler secret instead of an agent
	// key; they skip the agent-specific gates (capability, type,
	// destructive) but not validation or dispatch.
	if secret := r.Header.Get(HeaderSchedulerSecret); secret != "" {
		if !VerifySharedSecret(secret, g.schedulerSecret) {
			g.fail(w, correlationID, "", req.Action, start, NewAPIError(KindAuth, "invalid scheduler secret", http.StatusUnauthorized), nil)
			return
		}
		g.serveAction(ctx, w, &req, nil, correlationID, route, start, nil)
		return
	}

	// 3. Authenticate
	authResult := g.auth.Authenticate(ctx, r)
	if !authResult.OK {
		var rl *RateLimitInfo
		if authResult.RateLimit != nil {
			rl = rateLimitInfo(authResult.RateLimit)
			for k, vs := range HeadersFor(*authResult.RateLimit) {
				for _, v := range vs {
					w.Header().Set(k, v)
				}
			}
		}
		agentID := ""
		if authResult.Agent != nil {
			agentID = authResult.Agent.ID
		}
		g.fail(w, correlationID, agentID, req.Action, start, authResult.Err, rl)
		return
	}
	agent := authResult.Agent

	// 4. Capability check
	if !CanPerformAction(agent.Capabilities, req.Action) {
		g.fail(w, correlationID, agent.ID, req.Action, start,
			NewAPIError(KindPermission, "agent lacks capability for "+req.Action, http.StatusForbidden), nil)
		return
	}

	// 5. Agent-type enforcement
	if agent.Type == types.AgentTypeTool && route != RouteQuery {
		g.fail(w, correlationID, agent.ID, req.Action, start,
			NewAPIError(KindPermission, "tool agents may only perform query actions", http.StatusForbidden), nil)
		return
	}
	if agent.Type == types.AgentTypeSupervised && route != RouteQuery {
		approved, err := g.store.HasApprovedConfirmation(ctx, agent.ID, req.Action)
		if err != nil {
			g.fail(w, correlationID, agent.ID, req.Action, start,
				NewAPIError(KindInternal, "confirmation lookup failed", http.StatusInternalServerError), nil)
			return
		}
		if !approved {
			g.deferForConfirmation(ctx, w, agent, req.Action, correlationID, start)
			return
		}
	}

	// 6. Destructive gate
	if safety.IsDestructive(req.Action) {
		gate := safety.VerifyDestructive(req.Action, agent.Type, agent.AllowDestructive)
		if !gate.Allowed {
			gatewayDestructiveBlocked.Inc()
			g.audit.Emit(types.AuditEvent{
				ActorType: "agent",
				ActorID:   agent.ID,
				Action:    "gateway.destructive_blocked",
				Details: map[string]interface{}{
					"action": req.Action,
					"reason": gate.Reason,
				},
			})
			g.fail(w, correlationID, agent.ID, req.Action, start,
				NewAPIError(KindPermission, gate.Reason, http.StatusForbidden), nil)
			return
		}
	}

	// 7. Signature verification
	if sig := r.Header.Get(HeaderSignature); sig != "" && agent.SigningSecretEnc != "" {
		secret, err := g.decryptSigningSecret(agent)
		if err != nil {
			g.fail(w, correlationID, agent.ID, req.Action, start,
				NewAPIError(KindInternal, "signing secret unavailable", http.StatusInternalServerError), nil)
			return
		}
		if err := crypto.VerifySignature(secret, sig, rawBody, time.Now()); err != nil {
			g.fail(w, correlationID, agent.ID, req.Action, start,
				NewAPIError(KindAuth, "invalid request signature", http.StatusUnauthorized), nil)
			return
		}
	}

	// 8-9. Dispatch and audit
	g.serveAction(ctx, w, &req, agent, correlationID, route, start, rateLimitInfo(authResult.RateLimit))
}

// serveAction dispatches an admitted request and writes the envelope
func (g *Gateway) serveAction(ctx context.Context, w http.ResponseWriter, req *Request, agent *types.Agent, correlationID string, route RouteType, start time.Time, rl *RateLimitInfo) {
	agentID := ""
	actorType := "system"
	if agent != nil {
		agentID = agent.ID
		actorType = "agent"
	}

	// Pre-dispatch audit: records the same action and agent id the
	// post-dispatch event will carry.
	g.audit.Emit(types.AuditEvent{
		ActorType: actorType,
		ActorID:   agentID,
		Action:    "gateway." + req.Action,
		Details:   map[string]interface{}{"phase": "pre", "correlation_id": correlationID},
	})

	result, apiErr := g.dispatch(ctx, req, agentID, correlationID, route, agent == nil)

	outcome := "success"
	status := http.StatusOK
	var data map[string]interface{}
	errMessage := ""

	if apiErr != nil {
		outcome = "error"
		status = apiErr.Status
		errMessage = apiErr.Message
	} else {
		status = result.StatusCode
		data = result.Body
		if status >= 400 {
			outcome = "error"
			if msg, ok := data["error"].(string); ok {
				errMessage = msg
			}
		}
	}

	duration := time.Since(start)

	g.audit.Emit(types.AuditEvent{
		ActorType: actorType,
		ActorID:   agentID,
		Action:    "gateway." + req.Action,
		Details: map[string]interface{}{
			"phase":          "post",
			"outcome":        outcome,
			"duration_ms":    duration.Milliseconds(),
			"correlation_id": correlationID,
		},
	})

	gatewayRequests.WithLabelValues(req.Action, outcome).Inc()
	gatewayDuration.Observe(float64(duration.Milliseconds()))

	if apiErr != nil {
		g.writeFailureEnvelope(w, correlationID, agentID, req.Action, duration, apiErr, rl)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Response{
		RequestID: uuid.New().String(),
		Status:    statusWord(status),
		Data:      data,
		Error:     errMessage,
		Meta: ResponseMeta{
			AgentID:    agentID,
			Action:     req.Action,
			DurationMS: duration.Milliseconds(),
			RateLimit:  rl,
		},
	})
}

// dispatch routes an admitted action to its handler
func (g *Gateway) dispatch(ctx context.Context, req *Request, agentID, correlationID string, route RouteType, internal bool) (*DispatchResult, *APIError) {
	switch route {
	case RouteWorkflow:
		if req.Action == "workflow.status" {
			return g.workflowStatus(ctx, req)
		}
		return g.dispatchWorkflow(ctx, req, agentID, internal)

	case RouteQuery:
		return g.dispatchQuery(ctx, req)

	case RouteAgent, RouteIntegration, RouteSystem:
		switch req.Action {
		case "agent.status":
			return g.fixedAgentRead(ctx, agentID, false)
		case "agent.capabilities":
			return g.fixedAgentRead(ctx, agentID, true)
		case "integration.status":
			return g.integrationStatus(ctx, req)
		case "integration.oauth.initiate":
			return g.oauthInitiate(ctx, req, agentID)
		case "integration.oauth.callback":
			return g.oauthCallback(ctx, req, correlationID)
		case "integration.credential.get":
			return g.credentialGet(ctx, req, internal)
		case "system.provision_tenant":
			return g.provisionTenant(ctx, req)
		case "system.emit_event":
			return g.emitEvent(ctx, req, agentID)
		}

		// Generic dispatch: the handler name equals the action
		result, err := g.dispatcher.Dispatch(ctx, req.Action, withIdentity(req.Params, agentID, correlationID), correlationID)
		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return nil, NewAPIError(KindTimeout, "downstream handler timed out", http.StatusBadGateway)
			}
			return nil, NewAPIError(KindUpstream, "downstream dispatch failed: "+err.Error(), http.StatusBadGateway)
		}
		return result, nil

	default:
		return nil, NewAPIError(KindValidation, "unroutable action "+req.Action, http.StatusBadRequest)
	}
}

// dispatchWorkflow invokes the workflow executor directly, carrying the
// caller identity in trigger data. The scheduler-secret channel is
// implied: the invoker trusts the gateway's admission.
func (g *Gateway) dispatchWorkflow(ctx context.Context, req *Request, agentID string, internal bool) (*DispatchResult, *APIError) {
	workflowID, _ := req.Params["workflow_id"].(string)
	if workflowID == "" {
		return nil, NewAPIError(KindValidation, "params.workflow_id is required", http.StatusBadRequest)
	}

	triggerType, _ := req.Params["trigger_type"].(string)
	if triggerType == "" {
		triggerType = "manual"
	}
	// Scheduled invocations come only over the scheduler-secret channel
	if triggerType == "scheduled" && !internal {
		return nil, NewAPIError(KindPermission, "scheduled triggers require the scheduler secret", http.StatusForbidden)
	}

	triggerData := make(map[string]interface{}, len(req.Params)+2)
	for k, v := range req.Params {
		triggerData[k] = v
	}
	triggerData["source"] = "api-gateway"
	triggerData["agent_id"] = agentID

	result, err := g.workflows.Run(ctx, workflowID, triggerType, triggerData)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, NewAPIError(KindNotFound, "workflow not found: "+workflowID, http.StatusNotFound)
		}
		return nil, NewAPIError(KindInternal, "workflow execution failed: "+err.Error(), http.StatusInternalServerError)
	}

	return &DispatchResult{StatusCode: http.StatusOK, Body: result}, nil
}

// workflowStatus lists recent runs of one workflow
func (g *Gateway) workflowStatus(ctx context.Context, req *Request) (*DispatchResult, *APIError) {
	workflowID, _ := req.Params["workflow_id"].(string)
	if workflowID == "" {
		return nil, NewAPIError(KindValidation, "params.workflow_id is required", http.StatusBadRequest)
	}
	limit := 0
	if f, ok := req.Params["limit"].(float64); ok {
		limit = int(f)
	}

	runs, err := g.store.ListWorkflowRuns(ctx, workflowID, limit)
	if err != nil {
		return nil, NewAPIError(KindInternal, "failed to list workflow runs", http.StatusInternalServerError)
	}

	runsJSON, _ := json.Marshal(runs)
	var decoded []interface{}
	json.Unmarshal(runsJSON, &decoded)

	return &DispatchResult{
		StatusCode: http.StatusOK,
		Body:       map[string]interface{}{"workflow_id": workflowID, "runs": decoded, "count": len(runs)},
	}, nil
}

// dispatchQuery performs the bounded table read behind query.* actions
func (g *Gateway) dispatchQuery(ctx context.Context, req *Request) (*DispatchResult, *APIError) {
	table := req.Action[len("query."):]

	selectList, _ := req.Params["select"].(string)
	limit := 50
	if f, ok := req.Params["limit"].(float64); ok {
		limit = int(f)
	}

	rows, err := g.store.QueryTable(ctx, table, selectList, limit)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, NewAPIError(KindNotFound, "unknown query target", http.StatusNotFound)
		}
		return nil, NewAPIError(KindValidation, err.Error(), http.StatusBadRequest)
	}

	return &DispatchResult{
		StatusCode: http.StatusOK,
		Body:       map[string]interface{}{"rows": rows, "count": len(rows)},
	}, nil
}

// fixedAgentRead serves agent.status and agent.capabilities
func (g *Gateway) fixedAgentRead(ctx context.Context, agentID string, capabilitiesOnly bool) (*DispatchResult, *APIError) {
	if agentID == "" {
		return nil, NewAPIError(KindValidation, "agent identity required", http.StatusBadRequest)
	}

	agent, err := g.store.GetAgent(ctx, agentID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, NewAPIError(KindNotFound, "agent not found", http.StatusNotFound)
		}
		return nil, NewAPIError(KindInternal, "agent lookup failed", http.StatusInternalServerError)
	}

	if capabilitiesOnly {
		return &DispatchResult{
			StatusCode: http.StatusOK,
			Body:       map[string]interface{}{"capabilities": agent.Capabilities},
		}, nil
	}
	return &DispatchResult{
		StatusCode: http.StatusOK,
		Body: map[string]interface{}{
			"id":           agent.ID,
			"name":         agent.Name,
			"type":         agent.Type,
			"status":       agent.Status,
			"last_seen_at": agent.LastSeenAt,
		},
	}, nil
}

// integrationStatus serves the fixed integration.status read
func (g *Gateway) integrationStatus(ctx context.Context, req *Request) (*DispatchResult, *APIError) {
	integrationID, _ := req.Params["integration_id"].(string)
	if integrationID == "" {
		return nil, NewAPIError(KindValidation, "params.integration_id is required", http.StatusBadRequest)
	}

	integration, err := g.store.GetIntegration(ctx, integrationID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, NewAPIError(KindNotFound, "integration not found", http.StatusNotFound)
		}
		return nil, NewAPIError(KindInternal, "integration lookup failed", http.StatusInternalServerError)
	}

	return &DispatchResult{
		StatusCode: http.StatusOK,
		Body: map[string]interface{}{
			"id":           integration.ID,
			"service_name": integration.ServiceName,
			"service_type": integration.ServiceType,
			"status":       integration.Status,
		},
	}, nil
}

// provisionTenant serves system.provision_tenant, guarded by the
// provisioning secret carried in params
func (g *Gateway) provisionTenant(ctx context.Context, req *Request) (*DispatchResult, *APIError) {
	secret, _ := req.Params["provisioning_secret"].(string)
	if !VerifySharedSecret(secret, g.provisionSecret) {
		return nil, NewAPIError(KindAuth, "invalid provisioning secret", http.StatusUnauthorized)
	}

	if apiErr := ValidateFields(req.Params, map[string]FieldRule{
		"name":        {Required: true, Type: "string", MinLength: 1, MaxLength: 200},
		"slug":        {Required: true, Type: "string", Pattern: slugPattern, MaxLength: 63},
		"type":        {Required: true, Type: "string"},
		"admin_email": {Required: true, Type: "string", Pattern: emailPattern},
		"plan":        {Required: true, Type: "string", Enum: []string{"free", "starter", "business", "professional", "enterprise"}},
	}); apiErr != nil {
		return nil, apiErr
	}

	branding, _ := req.Params["branding"].(map[string]interface{})
	tenantID, err := g.store.ProvisionTenant(ctx,
		req.Params["name"].(string), req.Params["slug"].(string),
		req.Params["type"].(string), req.Params["admin_email"].(string),
		req.Params["plan"].(string), branding)
	if err != nil {
		if err == store.ErrConflict {
			return nil, NewAPIError(KindConflict, "slug already taken", http.StatusConflict)
		}
		return nil, NewAPIError(KindInternal, "tenant provisioning failed", http.StatusInternalServerError)
	}

	return &DispatchResult{
		StatusCode: http.StatusCreated,
		Body:       map[string]interface{}{"tenant_id": tenantID},
	}, nil
}

// emitEvent publishes a platform event through the storage primitive
func (g *Gateway) emitEvent(ctx context.Context, req *Request, agentID string) (*DispatchResult, *APIError) {
	eventType, _ := req.Params["event_type"].(string)
	if eventType == "" {
		return nil, NewAPIError(KindValidation, "params.event_type is required", http.StatusBadRequest)
	}
	payload, _ := req.Params["payload"].(map[string]interface{})

	sourceType := "system"
	if agentID != "" {
		sourceType = "agent"
	}
	if err := g.store.EmitEvent(ctx, eventType, payload, sourceType, agentID); err != nil {
		return nil, NewAPIError(KindInternal, "failed to emit event", http.StatusInternalServerError)
	}

	return &DispatchResult{
		StatusCode: http.StatusCreated,
		Body:       map[string]interface{}{"emitted": true, "event_type": eventType},
	}, nil
}

// deferForConfirmation creates a pending confirmation and returns 202
func (g *Gateway) deferForConfirmation(ctx context.Context, w http.ResponseWriter, agent *types.Agent, action, correlationID string, start time.Time) {
	confirmation, err := g.store.CreatePendingConfirmation(ctx, uuid.New().String(), agent.ID, action)
	if err != nil {
		g.fail(w, correlationID, agent.ID, action, start,
			NewAPIError(KindInternal, "failed to create confirmation", http.StatusInternalServerError), nil)
		return
	}

	gatewayRequests.WithLabelValues(action, "deferred").Inc()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(HeaderCorrelationID, correlationID)
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":                "Approval required",
		"message":              "This action requires an approved confirmation for supervised agents.",
		"confirmation_pending": true,
		"confirmation_id":      confirmation.ID,
		"correlationId":        correlationID,
	})
}

// decryptSigningSecret unwraps the agent's encrypted HMAC secret
func (g *Gateway) decryptSigningSecret(agent *types.Agent) (string, error) {
	var payload crypto.Payload
	if err := json.Unmarshal([]byte(agent.SigningSecretEnc), &payload); err != nil {
		return "", fmt.Errorf("malformed signing secret payload: %w", err)
	}
	var secret string
	if err := g.envelope.Decrypt(&payload, &secret); err != nil {
		return "", err
	}
	return secret, nil
}

// fail records metrics and writes the error envelope
func (g *Gateway) fail(w http.ResponseWriter, correlationID, agentID, action string, start time.Time, apiErr *APIError, rl *RateLimitInfo) {
	if action != "" {
		gatewayRequests.WithLabelValues(action, "error").Inc()
	}
	gatewayDuration.Observe(float64(time.Since(start).Milliseconds()))
	g.log.ErrorWithCode(agentID, correlationID, "request rejected", apiErr.Status, apiErr, map[string]interface{}{
		"action": action,
	})
	writeError(w, correlationID, apiErr, rl)
}

// writeFailureEnvelope writes an error produced after admission
func (g *Gateway) writeFailureEnvelope(w http.ResponseWriter, correlationID, agentID, action string, duration time.Duration, apiErr *APIError, rl *RateLimitInfo) {
	g.log.ErrorWithCode(agentID, correlationID, "dispatch failed", apiErr.Status, apiErr, map[string]interface{}{
		"action":      action,
		"duration_ms": duration.Milliseconds(),
	})
	writeError(w, correlationID, apiErr, rl)
}

// withIdentity copies params adding the caller identity
func withIdentity(params map[string]interface{}, agentID, correlationID string) map[string]interface{} {
	out := make(map[string]interface{}, len(params)+2)
	for k, v := range params {
		out[k] = v
	}
	if agentID != "" {
		out["agent_id"] = agentID
	}
	out["correlation_id"] = correlationID
	return out
}

func rateLimitInfo(r *RateLimitResult) *RateLimitInfo {
	if r == nil {
		return nil
	}
	return &RateLimitInfo{Limit: r.Limit, Remaining: r.Remaining, ResetAt: r.ResetAt.Unix()}
}

func statusWord(status int) string {
	if status >= 400 {
		return "error"
	}
	return "success"
}

// remoteHost strips the port from the request's remote address
func remoteHost(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

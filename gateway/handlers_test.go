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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentmesh/core/store"
)

type stubDispatcher struct {
	result *DispatchResult
	err    error
	calls  []string
}

func (s *stubDispatcher) Dispatch(ctx context.Context, handler string, params map[string]interface{}, correlationID string) (*DispatchResult, error) {
	s.calls = append(s.calls, handler)
	if s.err != nil {
		return nil, s.err
	}
	if s.result != nil {
		return s.result, nil
	}
	return &DispatchResult{StatusCode: 200, Body: map[string]interface{}{"ok": true}}, nil
}

type stubWorkflows struct {
	result map[string]interface{}
	err    error
	runs   []string
}

func (s *stubWorkflows) Run(ctx context.Context, workflowID, triggerType string, triggerData map[string]interface{}) (map[string]interface{}, error) {
	s.runs = append(s.runs, workflowID)
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func agentRows(agentType string, caps []string, rateLimit int, allowDestructive bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "name", "type", "status", "capabilities", "rate_limit_per_minute",
		"allow_destructive", "signing_secret_ciphertext", "last_seen_at", "metadata",
	}).AddRow("ag-1", "Test Agent", agentType, "active", "{"+strings.Join(caps, ",")+"}",
		rateLimit, allowDestructive, nil, nil, nil)
}

func newTestGateway(t *testing.T) (*Gateway, sqlmock.Sqlmock, *stubDispatcher, *stubWorkflows) {
	t.Helper()
	db, mock, err := sqlmock.New(
		sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	mock.MatchExpectationsInOrder(false)
	t.Cleanup(func() { db.Close() })

	s := store.NewWithDB(db)
	dispatcher := &stubDispatcher{}
	workflows := &stubWorkflows{result: map[string]interface{}{"run_id": "run-1", "status": "completed"}}

	g := New(Config{
		Store:           s,
		Authenticator:   NewAuthenticator(s),
		Audit:           NewAuditEmitter(s, 100, 1),
		Dispatcher:      dispatcher,
		Workflows:       workflows,
		SchedulerSecret: "sched-secret",
		ProvisionSecret: "prov-secret",
	})
	return g, mock, dispatcher, workflows
}

func doRequest(g *Gateway, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	r := httptest.NewRequest(http.MethodPost, "/api/gateway", bytes.NewReader(data))
	r.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	g.HandleRequest(w, r)
	return w
}

func TestRejectsWrongContentType(t *testing.T) {
	g, _, _, _ := newTestGateway(t)

	r := httptest.NewRequest(http.MethodPost, "/api/gateway", strings.NewReader("action=x"))
	r.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	g.HandleRequest(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEmpty(t, w.Header().Get(HeaderCorrelationID))
}

func TestRejectsUnknownAction(t *testing.T) {
	g, _, _, _ := newTestGateway(t)

	w := doRequest(g, Request{Action: "nothing.real"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var envelope map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "validation_error", envelope["error"])
	assert.NotEmpty(t, envelope["correlationId"])
}

func TestRejectsMissingAgentKey(t *testing.T) {
	g, _, _, _ := newTestGateway(t)

	w := doRequest(g, Request{Action: "crm.search"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRejectsMalformedAgentKey(t *testing.T) {
	g, _, _, _ := newTestGateway(t)

	w := doRequest(g, Request{Action: "crm.search"}, map[string]string{
		HeaderAgentKey: "not-the-product-prefix",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCapabilityDenied(t *testing.T) {
	g, mock, _, _ := newTestGateway(t)

	mock.ExpectQuery(`SELECT \* FROM verify_agent_api_key`).
		WillReturnRows(agentRows("autonomous", []string{"email"}, 100, false))
	mock.ExpectExec(`UPDATE agents SET last_seen_at`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := doRequest(g, Request{Action: "crm.search"}, map[string]string{
		HeaderAgentKey: "am_live_abc123",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestToolAgentRestrictedToQueries(t *testing.T) {
	g, mock, _, _ := newTestGateway(t)

	mock.ExpectQuery(`SELECT \* FROM verify_agent_api_key`).
		WillReturnRows(agentRows("tool", []string{"crm", "query"}, 100, false))
	mock.ExpectExec(`UPDATE agents SET last_seen_at`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := doRequest(g, Request{Action: "crm.search"}, map[string]string{
		HeaderAgentKey: "am_live_abc123",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	var envelope map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Contains(t, envelope["message"], "query actions")
}

func TestSupervisedAgentDeferredForConfirmation(t *testing.T) {
	g, mock, _, _ := newTestGateway(t)

	mock.ExpectQuery(`SELECT \* FROM verify_agent_api_key`).
		WillReturnRows(agentRows("supervised", []string{"email"}, 100, true))
	mock.ExpectExec(`UPDATE agents SET last_seen_at`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT EXISTS`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(`INSERT INTO agent_confirmations`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "agent_id", "action", "status", "created_at"}).
			AddRow("conf-1", "ag-1", "email.send", "pending", time.Now()))

	w := doRequest(g, Request{Action: "email.send"}, map[string]string{
		HeaderAgentKey: "am_live_abc123",
	})
	assert.Equal(t, http.StatusAccepted, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Approval required", body["error"])
	assert.Equal(t, true, body["confirmation_pending"])
	assert.Equal(t, w.Header().Get(HeaderCorrelationID), body["correlationId"])
}

func TestDestructiveBlockedWithoutFlag(t *testing.T) {
	g, mock, _, _ := newTestGateway(t)

	mock.ExpectQuery(`SELECT \* FROM verify_agent_api_key`).
		WillReturnRows(agentRows("autonomous", []string{"email"}, 100, false))
	mock.ExpectExec(`UPDATE agents SET last_seen_at`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := doRequest(g, Request{Action: "email.send"}, map[string]string{
		HeaderAgentKey: "am_live_abc123",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestQueryRouteReadsTable(t *testing.T) {
	g, mock, _, _ := newTestGateway(t)

	mock.ExpectQuery(`SELECT \* FROM verify_agent_api_key`).
		WillReturnRows(agentRows("tool", []string{"query"}, 100, false))
	mock.ExpectExec(`UPDATE agents SET last_seen_at`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT \* FROM workflows LIMIT`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow("wf-1", "digest"))

	w := doRequest(g, Request{Action: "query.workflows"}, map[string]string{
		HeaderAgentKey: "am_live_abc123",
	})
	assert.Equal(t, http.StatusOK, w.Code)

	var envelope Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "success", envelope.Status)
	assert.Equal(t, float64(1), envelope.Data["count"])
	assert.Equal(t, "ag-1", envelope.Meta.AgentID)
}

func TestWorkflowRouteInvokesExecutor(t *testing.T) {
	g, mock, _, workflows := newTestGateway(t)

	mock.ExpectQuery(`SELECT \* FROM verify_agent_api_key`).
		WillReturnRows(agentRows("autonomous", []string{"workflows"}, 100, false))
	mock.ExpectExec(`UPDATE agents SET last_seen_at`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := doRequest(g, Request{
		Action: "workflow.execute",
		Params: map[string]interface{}{"workflow_id": "wf-1"},
	}, map[string]string{
		HeaderAgentKey: "am_live_abc123",
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"wf-1"}, workflows.runs)
}

func TestSchedulerSecretBypassesAgentAuth(t *testing.T) {
	g, _, _, workflows := newTestGateway(t)

	w := doRequest(g, Request{
		Action: "workflow.execute",
		Params: map[string]interface{}{"workflow_id": "wf-2", "trigger_type": "scheduled"},
	}, map[string]string{
		HeaderSchedulerSecret: "sched-secret",
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"wf-2"}, workflows.runs)
}

func TestInvalidSchedulerSecretRejected(t *testing.T) {
	g, _, _, _ := newTestGateway(t)

	w := doRequest(g, Request{Action: "workflow.execute"}, map[string]string{
		HeaderSchedulerSecret: "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPerAgentRateLimitReturns429(t *testing.T) {
	g, mock, _, _ := newTestGateway(t)

	// Three calls against a limit of 2: third blocks
	for i := 0; i < 3; i++ {
		mock.ExpectQuery(`SELECT \* FROM verify_agent_api_key`).
			WillReturnRows(agentRows("tool", []string{"query"}, 2, false))
		mock.ExpectExec(`UPDATE agents SET last_seen_at`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`SELECT \* FROM workflows LIMIT`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("wf-1"))
	}

	headers := map[string]string{HeaderAgentKey: "am_live_abc123"}
	req := Request{Action: "query.workflows"}

	w1 := doRequest(g, req, headers)
	w2 := doRequest(g, req, headers)
	w3 := doRequest(g, req, headers)

	assert.Equal(t, http.StatusOK, w1.Code)
	assert.Equal(t, http.StatusOK, w2.Code)
	assert.Equal(t, http.StatusTooManyRequests, w3.Code)
	assert.NotEmpty(t, w3.Header().Get("Retry-After"))
	assert.Equal(t, "0", w3.Header().Get("X-RateLimit-Remaining"))
}

func TestProvisionTenantRequiresSecret(t *testing.T) {
	g, _, _, _ := newTestGateway(t)

	w := doRequest(g, Request{
		Action: "system.provision_tenant",
		Params: map[string]interface{}{
			"provisioning_secret": "wrong",
			"name":                "Acme",
			"slug":                "acme",
			"type":                "business",
			"admin_email":         "ops@acme.test",
			"plan":                "starter",
		},
	}, map[string]string{HeaderSchedulerSecret: "sched-secret"})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestProvisionTenantCreates(t *testing.T) {
	g, mock, _, _ := newTestGateway(t)

	mock.ExpectQuery(`SELECT tenant_id FROM provision_tenant`).
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id"}).AddRow("ten-1"))

	w := doRequest(g, Request{
		Action: "system.provision_tenant",
		Params: map[string]interface{}{
			"provisioning_secret": "prov-secret",
			"name":                "Acme",
			"slug":                "acme",
			"type":                "business",
			"admin_email":         "ops@acme.test",
			"plan":                "professional",
		},
	}, map[string]string{HeaderSchedulerSecret: "sched-secret"})

	assert.Equal(t, http.StatusCreated, w.Code)

	var envelope Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "ten-1", envelope.Data["tenant_id"])
}

func TestRateLimiterHeaders(t *testing.T) {
	l := NewMemoryRateLimiter(2, time.Minute)

	r1 := l.Check("key")
	assert.True(t, r1.Allowed)
	assert.Equal(t, 1, r1.Remaining)

	r2 := l.Check("key")
	assert.True(t, r2.Allowed)
	assert.Equal(t, 0, r2.Remaining)

	r3 := l.Check("key")
	assert.False(t, r3.Allowed)

	h := HeadersFor(r3)
	assert.Equal(t, "2", h.Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", h.Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, h.Get("Retry-After"))
}

func TestRateLimiterLoopbackAlwaysAllowed(t *testing.T) {
	l := NewMemoryRateLimiter(1, time.Minute)
	for i := 0; i < 10; i++ {
		assert.True(t, l.Check("127.0.0.1").Allowed)
	}
}

func TestRateLimiterWindowReset(t *testing.T) {
	l := NewMemoryRateLimiter(1, time.Minute)
	now := time.Unix(1700000000, 0)
	l.now = func() time.Time { return now }

	assert.True(t, l.Check("k").Allowed)
	assert.False(t, l.Check("k").Allowed)

	// First request of the next window resets the count to 1
	now = now.Add(time.Minute)
	r := l.Check("k")
	assert.True(t, r.Allowed)
	assert.Equal(t, 0, r.Remaining)
}

func TestCanPerformAction(t *testing.T) {
	assert.True(t, CanPerformAction([]string{"crm"}, "crm.search"))
	assert.False(t, CanPerformAction([]string{"email"}, "crm.search"))
	assert.True(t, CanPerformAction(nil, "agent.status"), "system actions need no capability")
	assert.False(t, CanPerformAction([]string{"crm"}, "made.up"), "unknown actions denied")
}

func TestRouteFor(t *testing.T) {
	assert.Equal(t, RouteQuery, RouteFor("query.agents"))
	assert.Equal(t, RouteWorkflow, RouteFor("workflow.execute"))
	assert.Equal(t, RouteIntegration, RouteFor("integration.status"))
	assert.Equal(t, RouteAgent, RouteFor("agent.status"))
	assert.Equal(t, RouteSystem, RouteFor("crm.search"))
}

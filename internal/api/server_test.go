package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/harunnryd/warden/internal/agents"
	"github.com/harunnryd/warden/internal/anomaly"
	"github.com/harunnryd/warden/internal/audit"
	"github.com/harunnryd/warden/internal/auth"
	"github.com/harunnryd/warden/internal/knowledge"
	"github.com/harunnryd/warden/internal/metrics"
	"github.com/harunnryd/warden/internal/orchestrator"
	"github.com/harunnryd/warden/internal/policy"
	"github.com/harunnryd/warden/internal/security/hitl"
	"github.com/harunnryd/warden/internal/security/rbac"
	"github.com/harunnryd/warden/internal/security/signing"
	"github.com/harunnryd/warden/internal/store"
	"github.com/harunnryd/warden/internal/tool"
)

type testAPI struct {
	srv   *httptest.Server
	auth  *auth.Service
	repos store.Repositories
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	ctx := context.Background()

	auditLog, err := audit.NewFileLogger(audit.Options{Dir: t.TempDir()})
	require.NoError(t, err)
	m := metrics.New()

	repos := store.NewMemoryRepositories()
	require.NoError(t, store.Seed(ctx, repos))
	kb, err := knowledge.Open("", nil)
	require.NoError(t, err)

	signer, err := signing.NewService("api-secret", auditLog)
	require.NoError(t, err)
	approvals, err := hitl.NewService(hitl.Options{Audit: auditLog})
	require.NoError(t, err)
	roles := rbac.NewService(auditLog)
	enforcer := policy.NewEnforcer(roles, approvals, policy.Options{Audit: auditLog, Metrics: m})

	registry := tool.NewRegistry()
	registry.MustRegister(
		agents.NewEmailAgent(repos.Emails, signer, auditLog),
		agents.NewDriveAgent(repos.Documents, kb, signer, auditLog),
		agents.NewExpenseAgent(repos, agents.ExpenseOptions{}, signer, auditLog),
	)
	router := tool.NewRouter(registry, enforcer, signer, tool.RouterOptions{Audit: auditLog, Metrics: m})
	orch, err := orchestrator.New(orchestrator.Options{Router: router, Audit: auditLog, Metrics: m})
	require.NoError(t, err)

	authSvc, err := auth.NewService(auth.Options{Secret: "jwt", BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)
	require.NoError(t, authSvc.Register(ctx, "alice", "pw", rbac.RoleEmployee))

	server, err := NewServer(Options{
		Orchestrator: orch,
		Router:       router,
		Approvals:    approvals,
		Auth:         authSvc,
		Permissions:  roles,
		Knowledge:    kb,
		AuditLog:     auditLog,
		Alerts:       anomaly.NewAlertManager(auditLog, nil),
		Audit:        auditLog,
		Metrics:      m,
	})
	require.NoError(t, err)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return &testAPI{srv: ts, auth: authSvc, repos: repos}
}

func (a *testAPI) token(t *testing.T, subject, role string) string {
	t.Helper()
	tok, err := a.auth.Issue(subject, role)
	require.NoError(t, err)
	return tok
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	if resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	a := newTestAPI(t)
	status, body := a.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	status, _ = a.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	a := newTestAPI(t)
	status, body := a.do(t, http.MethodPost, "/tasks", "", map[string]any{"request": "search policy"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "ErrUnauthenticated", body["category"])

	status, _ = a.do(t, http.MethodPost, "/tasks", "garbage", map[string]any{"request": "search policy"})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestLoginThenRunTask(t *testing.T) {
	a := newTestAPI(t)

	status, body := a.do(t, http.MethodPost, "/auth/token", "", map[string]any{"username": "alice", "password": "pw"})
	require.Equal(t, http.StatusOK, status)
	token := body["access_token"].(string)

	status, body = a.do(t, http.MethodPost, "/tasks", token, map[string]any{
		"session_id": "web-1",
		"request":    "send an email to finance",
		"data":       map[string]any{"recipient": "finance@enterprise.com"},
	})
	require.Equal(t, http.StatusOK, status)
	summary := body["summary"].(map[string]any)
	assert.Equal(t, "sent", summary["email_agent"].(map[string]any)["status"])

	status, _ = a.do(t, http.MethodPost, "/auth/token", "", map[string]any{"username": "alice", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestTaskFailureReportsCompletedSteps(t *testing.T) {
	a := newTestAPI(t)
	status, body := a.do(t, http.MethodPost, "/tasks", a.token(t, "alice", rbac.RoleEmployee), map[string]any{
		"request": "expense my taxi", "data": map[string]any{"report_id": "rpt-9"},
	})
	assert.Equal(t, http.StatusForbidden, status)
	assert.EqualValues(t, 2, body["step"])
	assert.Len(t, body["completed"], 1)
}

func TestDirectToolDispatchIsGoverned(t *testing.T) {
	a := newTestAPI(t)
	employee := a.token(t, "alice", rbac.RoleEmployee)

	status, body := a.do(t, http.MethodPost, "/tools/drive_agent", employee, map[string]any{"action": "retrieve", "doc_id": "policy_v1"})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	status, _ = a.do(t, http.MethodPost, "/tools/expense_agent", employee, map[string]any{"action": "review", "report_id": "x"})
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = a.do(t, http.MethodPost, "/tools/shell_agent", employee, map[string]any{"action": "run"})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestBankUpdateWaitsForApproval(t *testing.T) {
	a := newTestAPI(t)
	admin := a.token(t, "root", rbac.RoleAdmin)
	employee := a.token(t, "alice", rbac.RoleEmployee)
	update := map[string]any{"new_iban": "GB33BUKB20201555555555", "rationale": "employee moved banks"}

	status, body := a.do(t, http.MethodPost, "/employees/emp-001/bank/update", admin, update)
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, "pending_approval", body["status"])

	status, body = a.do(t, http.MethodGet, "/approvals?status=PENDING", admin, nil)
	require.Equal(t, http.StatusOK, status)
	pending := body["approvals"].([]any)
	require.Len(t, pending, 1)
	id := pending[0].(map[string]any)["request_id"].(string)
	assert.Equal(t, "employee moved banks", pending[0].(map[string]any)["rationale"])

	path := "/approvals/" + url.PathEscape(id) + "/approve"
	status, _ = a.do(t, http.MethodPost, path, employee, nil)
	assert.Equal(t, http.StatusForbidden, status, "only admins resolve approvals")

	status, body = a.do(t, http.MethodPost, path, admin, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "root", body["approver"])

	status, _ = a.do(t, http.MethodPost, "/approvals/"+url.PathEscape(id)+"/deny", admin, nil)
	assert.Equal(t, http.StatusConflict, status)

	emp, _, _ := a.repos.Ledger.Get(context.Background(), store.DemoEmployeeID)
	assert.Equal(t, "DE89370400440532013000", emp.BankAccount.IBAN, "granting does not replay the call")
}

func TestKnowledgeIngestAndQuery(t *testing.T) {
	a := newTestAPI(t)
	admin := a.token(t, "root", rbac.RoleAdmin)
	employee := a.token(t, "alice", rbac.RoleEmployee)

	ingest := map[string]any{
		"collection": knowledge.CollectionPolicies,
		"items": []any{
			map[string]any{"id": "p1", "document": "Travel must be booked in economy class", "metadata": map[string]any{"source_id": "travel_policy"}},
			map[string]any{"id": "p2", "document": "Meals are capped at 40 EUR per day", "metadata": map[string]any{"source_id": "meal_policy"}},
		},
	}
	status, _ := a.do(t, http.MethodPost, "/kb/ingest", employee, ingest)
	assert.Equal(t, http.StatusForbidden, status)

	status, body := a.do(t, http.MethodPost, "/kb/ingest", admin, ingest)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 2, body["count"])

	status, body = a.do(t, http.MethodPost, "/kb/query", employee, map[string]any{
		"collection": knowledge.CollectionPolicies, "query": "economy travel booking", "k": 1,
	})
	require.Equal(t, http.StatusOK, status)
	matches := body["matches"].([]any)
	require.Len(t, matches, 1)
	assert.Equal(t, "p1", matches[0].(map[string]any)["id"])

	status, _ = a.do(t, http.MethodPost, "/kb/query", employee, map[string]any{"collection": "secrets", "query": "x"})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestLogsRequireAuditorPermission(t *testing.T) {
	a := newTestAPI(t)
	employee := a.token(t, "alice", rbac.RoleEmployee)
	auditor := a.token(t, "ines", rbac.RoleAuditor)

	status, _ := a.do(t, http.MethodPost, "/tasks", employee, map[string]any{"request": "search the drive"})
	require.Equal(t, http.StatusOK, status)

	status, _ = a.do(t, http.MethodGet, "/logs", employee, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, body := a.do(t, http.MethodGet, "/logs?event=request_received", auditor, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["entries"], 1)

	status, body = a.do(t, http.MethodGet, "/logs?stream=security&event=permission_denied", auditor, nil)
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, body["entries"], "the employee's denied /logs call was recorded")

	status, body = a.do(t, http.MethodGet, "/alerts", auditor, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, body["alerts"])
}

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/warden/internal/agents"
	"github.com/harunnryd/warden/internal/anomaly"
	"github.com/harunnryd/warden/internal/audit"
	"github.com/harunnryd/warden/internal/cognitive"
	wardenErrors "github.com/harunnryd/warden/internal/errors"
	"github.com/harunnryd/warden/internal/orchestrator/session"
	"github.com/harunnryd/warden/internal/policy"
	"github.com/harunnryd/warden/internal/security/hitl"
	"github.com/harunnryd/warden/internal/security/rbac"
	"github.com/harunnryd/warden/internal/security/signing"
	"github.com/harunnryd/warden/internal/store"
	"github.com/harunnryd/warden/internal/tool"
)

type pipeline struct {
	orch      *Orchestrator
	repos     store.Repositories
	approvals *hitl.Service
	audit     *audit.Recorder
	alerts    *anomaly.AlertManager

	mu          sync.Mutex
	transitions []Transition
}

func newPipeline(t *testing.T, roles ...rbac.RoleDefinition) *pipeline {
	t.Helper()
	ctx := context.Background()
	rec := audit.NewRecorder()
	repos := store.NewMemoryRepositories()
	require.NoError(t, store.Seed(ctx, repos))

	signer, err := signing.NewService("pipeline-secret", rec)
	require.NoError(t, err)
	approvals, err := hitl.NewService(hitl.Options{Audit: rec})
	require.NoError(t, err)
	enforcer := policy.NewEnforcer(rbac.NewService(rec, roles...), approvals, policy.Options{Audit: rec})

	registry := tool.NewRegistry()
	registry.MustRegister(
		agents.NewEmailAgent(repos.Emails, signer, rec),
		agents.NewDriveAgent(repos.Documents, nil, signer, rec),
		agents.NewExpenseAgent(repos, agents.ExpenseOptions{}, signer, rec),
	)
	router := tool.NewRouter(registry, enforcer, signer, tool.RouterOptions{Audit: rec})

	alerts := anomaly.NewAlertManager(rec, nil)
	detector := anomaly.NewDetector(anomaly.Options{Threshold: 10, Audit: rec, Alerts: alerts})

	p := &pipeline{repos: repos, approvals: approvals, audit: rec, alerts: alerts}
	p.orch, err = New(Options{
		Router:          router,
		Sessions:        session.NewStore(session.Options{}),
		Instrumentation: anomaly.NewInstrumentation(detector),
		Audit:           rec,
		Observer: func(tr Transition) {
			p.mu.Lock()
			p.transitions = append(p.transitions, tr)
			p.mu.Unlock()
		},
	})
	require.NoError(t, err)
	return p
}

func (p *pipeline) states() []State {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]State, 0, len(p.transitions))
	for _, tr := range p.transitions {
		out = append(out, tr.State)
	}
	return out
}

func TestNewRequiresRouter(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, wardenErrors.ErrInvalidInput)
}

func TestHandleRequestSendsEmail(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	result, err := p.orch.HandleRequest(ctx, "sess-1", rbac.RoleEmployee, "Please email finance the receipts", map[string]any{
		"recipient": "finance@enterprise.com",
	})
	require.NoError(t, err)

	summary, ok := result.Summary[agents.EmailAgentName]
	require.True(t, ok)
	assert.Equal(t, "sent", summary.Status)
	require.Len(t, result.Raw, 1)

	sent, err := p.repos.Emails.List(ctx, "finance@enterprise.com", store.FolderSent)
	require.NoError(t, err)
	assert.Len(t, sent, 1)

	assert.Equal(t, []State{StatePlanning, StateExecuting, StateAggregating, StateDone}, p.states())
	assert.Equal(t, []string{
		"request_received", "email_agent_execute", "email_sent", "response_generated",
	}, filterEvents(p.audit.Events(audit.StreamAudit), "request_received", "email_agent_execute", "email_sent", "response_generated"))

	mem := p.orch.Sessions().Get("sess-1")
	require.Len(t, mem.Conversation, 2)
	assert.Equal(t, session.RoleUser, mem.Conversation[0].Role)
	assert.Equal(t, session.RoleSystem, mem.Conversation[1].Role)
	assert.Contains(t, mem.Conversation[1].Content, `"sent"`)
}

func TestEmployeeExpenseChainStopsAtReview(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	_, err := p.orch.HandleRequest(ctx, "sess-2", rbac.RoleEmployee, "File my expense", map[string]any{
		"report_id": "rpt-1", "amount": 250.0,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, wardenErrors.ErrPermissionDenied)

	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, 1, stepErr.Index)
	assert.Equal(t, 3, stepErr.Total)
	assert.Equal(t, "review", stepErr.Action)
	require.Len(t, stepErr.Completed, 1)
	assert.Equal(t, "submitted", stepErr.Completed[0].Output["status"])

	report, ok, err := p.repos.Expenses.Get(ctx, "rpt-1")
	require.NoError(t, err)
	require.True(t, ok, "submitted report survives the aborted plan")
	assert.Equal(t, store.ExpensePending, report.Status)

	assert.True(t, p.audit.Has(audit.StreamSecurity, "policy_violation"))
	assert.True(t, p.audit.Has(audit.StreamAudit, "request_failed"))
	states := p.states()
	assert.Equal(t, StateFailed, states[len(states)-1])

	emp, _, _ := p.repos.Ledger.Get(ctx, store.DemoEmployeeID)
	assert.Equal(t, 1200.0, emp.BankAccount.Balance)
}

func TestExpenseWithNonNumericAmountIsRejected(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	_, err := p.orch.HandleRequest(ctx, "sess-amt", rbac.RoleEmployee, "File my expense", map[string]any{
		"report_id": "rpt-abc", "amount": "abc",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, wardenErrors.ErrInvalidInput)

	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, 0, stepErr.Index)
	assert.Equal(t, "submit", stepErr.Action)

	_, ok, err := p.repos.Expenses.Get(ctx, "rpt-abc")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReimbursementRequiresHumanApproval(t *testing.T) {
	p := newPipeline(t,
		rbac.NewRole(rbac.RoleAdmin, "submit", "review", "issue_reimbursement"),
		rbac.NewRole(rbac.RoleEmployee, "submit"),
	)
	ctx := context.Background()

	_, err := p.orch.HandleRequest(ctx, "sess-3", rbac.RoleAdmin, "reimburse my travel", map[string]any{
		"report_id": "rpt-7", "amount": 300.0,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, wardenErrors.ErrApprovalRequired)

	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, 2, stepErr.Index)
	assert.Len(t, stepErr.Completed, 2)

	pending, err := p.approvals.List(hitl.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "issue_reimbursement", pending[0].ToolName)
	assert.Equal(t, "Issue reimbursement if approved", pending[0].Rationale)

	report, _, _ := p.repos.Expenses.Get(ctx, "rpt-7")
	assert.Equal(t, store.ExpenseApproved, report.Status, "review ran, payout did not")
	emp, _, _ := p.repos.Ledger.Get(ctx, store.DemoEmployeeID)
	assert.Equal(t, 1200.0, emp.BankAccount.Balance)
}

func TestRepeatedActionRaisesAnomaly(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := p.orch.HandleRequest(ctx, "sess-4", rbac.RoleEmployee, "search the drive for policy", nil)
		require.NoError(t, err)
	}
	assert.Empty(t, p.alerts.List())

	_, err := p.orch.HandleRequest(ctx, "sess-4", rbac.RoleEmployee, "search the drive for policy", nil)
	require.NoError(t, err)
	alerts := p.alerts.List()
	require.Len(t, alerts, 1)
	assert.True(t, p.audit.Has(audit.StreamSecurity, "anomaly_detected"))
}

type stubPlanner struct{ steps []cognitive.PlannedStep }

func (s stubPlanner) Plan(context.Context, string, map[string]any) []cognitive.PlannedStep {
	return s.steps
}

type recordingDispatcher struct {
	mu     sync.Mutex
	calls  []string
	failOn string
}

func (d *recordingDispatcher) Dispatch(_ context.Context, _, toolName string, payload map[string]any, _ string) (map[string]any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	action, _ := payload["action"].(string)
	d.calls = append(d.calls, action)
	if action == d.failOn {
		return nil, fmt.Errorf("%s: %w", toolName, wardenErrors.ErrInternal)
	}
	return map[string]any{"status": "ok"}, nil
}

func TestStepsRunInPlanOrderAndStopAtFirstFailure(t *testing.T) {
	dispatcher := &recordingDispatcher{failOn: "b"}
	orch, err := New(Options{
		Router: dispatcher,
		Planner: stubPlanner{steps: []cognitive.PlannedStep{
			{Agent: "x", Action: "a"}, {Agent: "x", Action: "b"}, {Agent: "x", Action: "c"},
		}},
	})
	require.NoError(t, err)

	_, err = orch.HandleRequest(context.Background(), "s", "admin", "anything", nil)
	assert.ErrorIs(t, err, wardenErrors.ErrInternal)
	assert.Equal(t, []string{"a", "b"}, dispatcher.calls)
}

func TestEmptyPlanYieldsEmptyResult(t *testing.T) {
	orch, err := New(Options{Router: &recordingDispatcher{}, Planner: stubPlanner{}})
	require.NoError(t, err)

	result, err := orch.HandleRequest(context.Background(), "s", "admin", "noop", nil)
	require.NoError(t, err)
	assert.Empty(t, result.Summary)
	assert.Empty(t, result.Raw)
}

func filterEvents(events []string, keep ...string) []string {
	wanted := make(map[string]bool, len(keep))
	for _, k := range keep {
		wanted[k] = true
	}
	var out []string
	for _, e := range events {
		if wanted[e] {
			out = append(out, e)
		}
	}
	return out
}

package cognitive

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func actions(steps []PlannedStep) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.Action
	}
	return out
}

func TestHeuristicPlanner_ExpenseChain(t *testing.T) {
	p := NewHeuristicPlanner()
	steps := p.Plan(context.Background(), "Please process my Expense", map[string]any{
		"employee_id": "emp-001",
		"amount":      50.00,
		"category":    "travel",
	})

	require.Len(t, steps, 3)
	assert.Equal(t, []string{"submit", "review", "issue_reimbursement"}, actions(steps))
	for _, s := range steps {
		assert.Equal(t, AgentExpense, s.Agent)
	}
	reportID := steps[0].Params["report_id"].(string)
	assert.Regexp(t, regexp.MustCompile(`^rpt-[0-9a-z]{6}$`), reportID)
	assert.Equal(t, reportID, steps[1].Params["report_id"])
	assert.Equal(t, reportID, steps[2].Params["report_id"])
	assert.Equal(t, 50.0, steps[0].Params["amount"])
	assert.Equal(t, "USD", steps[0].Params["currency"])
}

func TestHeuristicPlanner_Routes(t *testing.T) {
	tests := []struct {
		name    string
		request string
		data    map[string]any
		agent   string
		action  string
		check   func(t *testing.T, params map[string]any)
	}{
		{
			name:    "email wins over drive",
			request: "email the document to bob",
			agent:   AgentEmail,
			action:  "send",
			check: func(t *testing.T, params map[string]any) {
				assert.Equal(t, "noreply@enterprise.com", params["sender"])
				assert.Equal(t, "employee@enterprise.com", params["recipient"])
				assert.Equal(t, "No subject", params["subject"])
				assert.Equal(t, "email the document to bob", params["body"])
			},
		},
		{
			name:    "upload",
			request: "Upload this file",
			data:    map[string]any{"title": "Q3"},
			agent:   AgentDrive,
			action:  "upload",
			check: func(t *testing.T, params map[string]any) {
				assert.Regexp(t, `^doc-[0-9a-z]{6}$`, params["doc_id"])
				assert.Equal(t, "Q3", params["title"])
				assert.Equal(t, []any{"uploaded"}, params["tags"])
			},
		},
		{
			name:    "drive search",
			request: "search the drive",
			data:    map[string]any{"keyword": "travel"},
			agent:   AgentDrive,
			action:  "search",
			check: func(t *testing.T, params map[string]any) {
				assert.Equal(t, "travel", params["keyword"])
			},
		},
		{
			name:    "retrieve document",
			request: "get document",
			agent:   AgentDrive,
			action:  "retrieve",
			check: func(t *testing.T, params map[string]any) {
				assert.Equal(t, "policy_v1", params["doc_id"])
			},
		},
		{
			name:    "document without verb",
			request: "the document please",
			agent:   AgentDrive,
			action:  "search",
			check: func(t *testing.T, params map[string]any) {
				assert.Equal(t, "policy", params["keyword"])
			},
		},
		{
			name:    "fallback",
			request: "hello there",
			agent:   AgentDrive,
			action:  "search",
			check: func(t *testing.T, params map[string]any) {
				assert.Equal(t, map[string]any{"keyword": "policy"}, params)
			},
		},
	}

	p := NewHeuristicPlanner()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			steps := p.Plan(context.Background(), tt.request, tt.data)
			require.Len(t, steps, 1)
			assert.Equal(t, tt.agent, steps[0].Agent)
			assert.Equal(t, tt.action, steps[0].Action)
			tt.check(t, steps[0].Params)
		})
	}
}

func TestHeuristicPlanner_FallbackRationale(t *testing.T) {
	steps := NewHeuristicPlanner().Plan(context.Background(), "", nil)
	require.Len(t, steps, 1)
	assert.Equal(t, "Default route to policy search", steps[0].Rationale)
}

func TestHeuristicPlanner_AmountFromString(t *testing.T) {
	steps := NewHeuristicPlanner().Plan(context.Background(), "reimburse me", map[string]any{"amount": "42.5"})
	assert.Equal(t, 42.5, steps[0].Params["amount"])
}

func TestPlannedStep_Payload(t *testing.T) {
	step := PlannedStep{Agent: AgentDrive, Action: "search", Params: map[string]any{"keyword": "x"}, Rationale: "why"}
	assert.Equal(t, map[string]any{"action": "search", "keyword": "x", "rationale": "why"}, step.Payload())
}

func TestExpensePlanKeepsUnparseableAmount(t *testing.T) {
	planner := NewHeuristicPlanner()

	steps := planner.Plan(context.Background(), "reimburse me", map[string]any{"amount": "abc"})
	require.Len(t, steps, 3)
	assert.Equal(t, "abc", steps[0].Params["amount"])

	steps = planner.Plan(context.Background(), "reimburse me", map[string]any{"amount": true})
	assert.Equal(t, true, steps[0].Params["amount"])

	steps = planner.Plan(context.Background(), "reimburse me", nil)
	assert.Equal(t, 100.0, steps[0].Params["amount"])
}

package cognitive

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/oklog/ulid/v2"
)

const (
	AgentEmail   = "email_agent"
	AgentDrive   = "drive_agent"
	AgentExpense = "expense_agent"
)

// HeuristicPlanner routes by keyword. The mapping is deterministic apart from generated ids.
type HeuristicPlanner struct {
	newID func(prefix string) string
}

func NewHeuristicPlanner() *HeuristicPlanner {
	return &HeuristicPlanner{newID: shortID}
}

func (p *HeuristicPlanner) Plan(ctx context.Context, request string, data map[string]any) []PlannedStep {
	slog.Info("planning_task", "request", request)
	if data == nil {
		data = map[string]any{}
	}
	steps := p.route(request, data)
	slog.Info("plan_completed", "step_count", len(steps))
	return steps
}

func (p *HeuristicPlanner) route(request string, data map[string]any) []PlannedStep {
	lower := strings.ToLower(request)
	has := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(lower, w) {
				return true
			}
		}
		return false
	}

	switch {
	case has("email"):
		return []PlannedStep{{
			Agent:  AgentEmail,
			Action: "send",
			Params: map[string]any{
				"sender":    stringOr(data, "sender", "noreply@enterprise.com"),
				"recipient": stringOr(data, "recipient", "employee@enterprise.com"),
				"subject":   stringOr(data, "subject", "No subject"),
				"body":      stringOr(data, "body", request),
			},
			Rationale: "Send email",
		}}

	case has("document", "drive", "upload"):
		switch {
		case has("upload"):
			return []PlannedStep{{
				Agent:  AgentDrive,
				Action: "upload",
				Params: map[string]any{
					"doc_id":  stringOr(data, "doc_id", p.newID("doc")),
					"title":   stringOr(data, "title", "Untitled"),
					"content": stringOr(data, "content", ""),
					"tags":    valueOr(data, "tags", []any{"uploaded"}),
				},
				Rationale: "Upload document",
			}}
		case has("search"):
			return []PlannedStep{searchStep(stringOr(data, "keyword", "policy"), "Search documents")}
		case has("retrieve", "get"):
			return []PlannedStep{{
				Agent:     AgentDrive,
				Action:    "retrieve",
				Params:    map[string]any{"doc_id": stringOr(data, "doc_id", "policy_v1")},
				Rationale: "Retrieve document",
			}}
		default:
			return []PlannedStep{searchStep(stringOr(data, "keyword", "policy"), "Search documents")}
		}

	case has("expense", "reimburse", "reimbursement"):
		reportID := stringOr(data, "report_id", p.newID("rpt"))
		return []PlannedStep{
			{
				Agent:  AgentExpense,
				Action: "submit",
				Params: map[string]any{
					"report_id":   reportID,
					"employee_id": stringOr(data, "employee_id", "emp-001"),
					"amount":      amountOr(data, "amount", 100.0),
					"currency":    stringOr(data, "currency", "USD"),
					"category":    stringOr(data, "category", "travel"),
					"description": stringOr(data, "description", "Auto-submitted by planner"),
				},
				Rationale: "Submit expense report",
			},
			{
				Agent:     AgentExpense,
				Action:    "review",
				Params:    map[string]any{"report_id": reportID},
				Rationale: "Policy-based automated review",
			},
			{
				Agent:     AgentExpense,
				Action:    "issue_reimbursement",
				Params:    map[string]any{"report_id": reportID},
				Rationale: "Issue reimbursement if approved",
			},
		}
	}

	return []PlannedStep{searchStep("policy", "Default route to policy search")}
}

func searchStep(keyword, rationale string) PlannedStep {
	return PlannedStep{
		Agent:     AgentDrive,
		Action:    "search",
		Params:    map[string]any{"keyword": keyword},
		Rationale: rationale,
	}
}

// shortID returns prefix-xxxxxx using the random tail of a ULID.
func shortID(prefix string) string {
	id := strings.ToLower(ulid.Make().String())
	return prefix + "-" + id[len(id)-6:]
}

func valueOr(data map[string]any, key string, fallback any) any {
	if v, ok := data[key]; ok && v != nil {
		return v
	}
	return fallback
}

func stringOr(data map[string]any, key, fallback string) string {
	v, ok := data[key]
	if !ok || v == nil {
		return fallback
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// amountOr parses numeric values and numeric strings. Anything else present is
// passed through untouched so expense_agent rejects it; only a missing value
// takes the fallback.
func amountOr(data map[string]any, key string, fallback float64) any {
	raw, ok := data[key]
	if !ok || raw == nil {
		return fallback
	}
	switch v := raw.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return raw
}

package agents

import (
	"context"
	"errors"

	"github.com/harunnryd/warden/internal/audit"
	wardenErrors "github.com/harunnryd/warden/internal/errors"
	"github.com/harunnryd/warden/internal/security/signing"
	"github.com/harunnryd/warden/internal/store"
	"github.com/harunnryd/warden/internal/tool"
)

const (
	ExpenseAgentName = "expense_agent"

	DefaultApprovalThreshold = 1000.0
)

type ExpenseOptions struct {
	// ApprovalThreshold is the amount above which review routes to a manager.
	ApprovalThreshold float64
	PolicyDocID       string
}

type ExpenseAgent struct {
	signedAgent
	expenses  store.ExpenseRepository
	ledger    store.LedgerRepository
	docs      store.DocumentRepository
	threshold float64
	policyDoc string
}

func NewExpenseAgent(repos store.Repositories, opts ExpenseOptions, signer *signing.Service, auditLog audit.Logger) *ExpenseAgent {
	a := &ExpenseAgent{
		signedAgent: newSignedAgent(ExpenseAgentName, signer, auditLog),
		expenses:    repos.Expenses,
		ledger:      repos.Ledger,
		docs:        repos.Documents,
		threshold:   opts.ApprovalThreshold,
		policyDoc:   opts.PolicyDocID,
	}
	if a.threshold <= 0 {
		a.threshold = DefaultApprovalThreshold
	}
	if a.policyDoc == "" {
		a.policyDoc = store.PolicyDocumentID
	}
	a.actions["submit"] = a.submit
	a.actions["review"] = a.review
	a.actions["issue_reimbursement"] = a.issueReimbursement
	a.actions["update_bank_account"] = a.updateBankAccount
	return a
}

func (a *ExpenseAgent) ToolMetadata() tool.Metadata {
	return tool.Metadata{
		Description: "Submit, review and pay expense reports; maintain employee bank details",
		Actions:     []string{"submit", "review", "issue_reimbursement", "update_bank_account"},
		Risk:        tool.RiskHigh,
	}
}

func (a *ExpenseAgent) submit(ctx context.Context, _ string, payload map[string]any) (map[string]any, error) {
	reportID, err := requireString(payload, "report_id")
	if err != nil {
		return nil, err
	}
	employeeID, err := requireString(payload, "employee_id")
	if err != nil {
		return nil, err
	}
	category, err := requireString(payload, "category")
	if err != nil {
		return nil, err
	}
	amount, ok := toFloat(payload["amount"])
	if !ok {
		return nil, wardenErrors.InvalidInput("amount must be a number")
	}

	report := store.ExpenseReport{
		ID:          reportID,
		EmployeeID:  employeeID,
		Amount:      amount,
		Currency:    optionalString(payload, "currency", "USD"),
		Category:    category,
		Description: optionalString(payload, "description", ""),
		Status:      store.ExpensePending,
	}
	if err := a.expenses.Put(ctx, report); err != nil {
		return nil, err
	}
	a.audit.Audit(ctx, "expense_submitted", map[string]any{"report_id": reportID, "employee_id": employeeID})
	return map[string]any{"status": "submitted", "report_id": reportID}, nil
}

func (a *ExpenseAgent) review(ctx context.Context, _ string, payload map[string]any) (map[string]any, error) {
	reportID, err := requireString(payload, "report_id")
	if err != nil {
		return nil, err
	}
	if _, ok, err := a.docs.Get(ctx, a.policyDoc); err != nil {
		return nil, err
	} else if !ok {
		a.audit.Security(ctx, audit.SeverityWarning, "policy_missing", map[string]any{"report_id": reportID})
		return businessError("Policy not available"), nil
	}

	report, err := a.expenses.Update(ctx, reportID, func(r *store.ExpenseReport) error {
		if r.Amount > a.threshold {
			r.Status = store.ExpenseManagerReview
		} else {
			r.Status = store.ExpenseApproved
		}
		return nil
	})
	if errors.Is(err, wardenErrors.ErrNotFound) {
		return map[string]any{"status": "not_found"}, nil
	}
	if err != nil {
		return nil, err
	}
	a.audit.Audit(ctx, "expense_reviewed", map[string]any{"report_id": reportID, "status": report.Status})
	return map[string]any{"status": StatusOK, "report": report.Map()}, nil
}

var errNotApproved = errors.New("report not approved")

func (a *ExpenseAgent) issueReimbursement(ctx context.Context, _ string, payload map[string]any) (map[string]any, error) {
	reportID, err := requireString(payload, "report_id")
	if err != nil {
		return nil, err
	}
	report, ok, err := a.expenses.Get(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string]any{"status": "not_found"}, nil
	}
	if _, ok, err := a.ledger.Get(ctx, report.EmployeeID); err != nil {
		return nil, err
	} else if !ok {
		return businessError("Employee not found"), nil
	}

	// Mark paid first so a concurrent second payout of the same report fails the status check.
	var paying store.ExpenseReport
	_, err = a.expenses.Update(ctx, reportID, func(r *store.ExpenseReport) error {
		if r.Status != store.ExpenseApproved {
			paying = *r
			return errNotApproved
		}
		r.Status = store.ExpensePaid
		paying = *r
		return nil
	})
	if errors.Is(err, errNotApproved) {
		a.audit.Security(ctx, audit.SeverityWarning, "reimbursement_denied", map[string]any{"report_id": reportID, "status": paying.Status})
		return businessError("Report not approved"), nil
	}
	if err != nil {
		return nil, err
	}

	employee, err := a.ledger.Update(ctx, paying.EmployeeID, func(e *store.Employee) error {
		e.BankAccount.Balance += paying.Amount
		return nil
	})
	if err != nil {
		// Put the report back so the payout can be retried.
		_, _ = a.expenses.Update(ctx, reportID, func(r *store.ExpenseReport) error {
			r.Status = store.ExpenseApproved
			return nil
		})
		return nil, err
	}
	a.audit.Audit(ctx, "reimbursement_issued", map[string]any{"report_id": reportID, "employee_id": paying.EmployeeID})
	return map[string]any{"status": "paid", "balance": employee.BankAccount.Balance}, nil
}

func (a *ExpenseAgent) updateBankAccount(ctx context.Context, _ string, payload map[string]any) (map[string]any, error) {
	employeeID := optionalString(payload, "employee_id", "")
	if employeeID == "" {
		return businessError("employee_id is required"), nil
	}

	var reason string
	var events []map[string]any
	employee, err := a.ledger.Update(ctx, employeeID, func(e *store.Employee) error {
		if iban := optionalString(payload, "new_iban", ""); iban != "" {
			e.BankAccount.IBAN = iban
			events = append(events, map[string]any{"event": "bank_account_updated"})
		}
		if raw, present := payload["balance_set"]; present && raw != nil {
			v, ok := toFloat(raw)
			if !ok {
				reason = "Invalid balance_set"
				return errInvalidAmount
			}
			e.BankAccount.Balance = v
			events = append(events, map[string]any{"event": "bank_balance_set", "balance": v})
		}
		if raw, present := payload["balance_delta"]; present && raw != nil {
			v, ok := toFloat(raw)
			if !ok {
				reason = "Invalid balance_delta"
				return errInvalidAmount
			}
			e.BankAccount.Balance += v
			events = append(events, map[string]any{"event": "bank_balance_changed", "delta": v})
		}
		return nil
	})
	switch {
	case errors.Is(err, errInvalidAmount):
		return businessError(reason), nil
	case errors.Is(err, wardenErrors.ErrNotFound):
		return businessError("Employee not found"), nil
	case err != nil:
		return nil, err
	}

	for _, ev := range events {
		name := ev["event"].(string)
		delete(ev, "event")
		ev["employee_id"] = employeeID
		a.audit.Audit(ctx, name, ev)
	}
	return map[string]any{"status": StatusOK, "employee_id": employeeID, "bank_account": employee.BankAccount.Map()}, nil
}

var errInvalidAmount = errors.New("invalid amount")

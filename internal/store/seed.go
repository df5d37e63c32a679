package store

import (
	"context"
	"fmt"
)

const (
	PolicyDocumentID = "policy_v1"
	DemoEmployeeID   = "emp-001"
)

// Seed loads the demo mailbox, the expense policy and one employee.
func Seed(ctx context.Context, repos Repositories) error {
	if repos.Emails != nil {
		existing, err := repos.Emails.List(ctx, "employee@enterprise.com", FolderInbox)
		if err != nil {
			return fmt.Errorf("seed emails: %w", err)
		}
		if len(existing) == 0 {
			if err := repos.Emails.Add(ctx, EmailRecord{
				Sender:    "finance@enterprise.com",
				Recipient: "employee@enterprise.com",
				Subject:   "Policy Update",
				Body:      "Please review the updated reimbursement policy.",
				Folder:    FolderInbox,
			}); err != nil {
				return fmt.Errorf("seed emails: %w", err)
			}
		}
	}
	if repos.Documents != nil {
		if err := repos.Documents.Put(ctx, Document{
			ID:      PolicyDocumentID,
			Title:   "Expense Policy v1",
			Content: "Expenses must be approved by managers and follow category limits.",
			Tags:    []string{"policy", "finance"},
		}); err != nil {
			return fmt.Errorf("seed documents: %w", err)
		}
	}
	if repos.Ledger != nil {
		if err := repos.Ledger.Put(ctx, Employee{
			ID:      DemoEmployeeID,
			Name:    "Alice Employee",
			Email:   "alice@enterprise.com",
			Role:    "employee",
			Manager: "manager@enterprise.com",
			BankAccount: BankAccount{
				IBAN:    "DE89370400440532013000",
				Balance: 1200.0,
			},
		}); err != nil {
			return fmt.Errorf("seed ledger: %w", err)
		}
	}
	return nil
}

// Package store holds the agents' backing data behind repository interfaces.
package store

import "context"

type EmailRepository interface {
	Add(ctx context.Context, email EmailRecord) error
	// List returns recipient's mail in folder, oldest first.
	List(ctx context.Context, recipient, folder string) ([]EmailRecord, error)
	// Search matches keyword case-insensitively against subject and body.
	Search(ctx context.Context, recipient, keyword string) ([]EmailRecord, error)
}

type DocumentRepository interface {
	Put(ctx context.Context, doc Document) error
	Get(ctx context.Context, id string) (Document, bool, error)
	// Search matches keyword against title, content and tags; results are ordered by id.
	Search(ctx context.Context, keyword string) ([]Document, error)
}

type ExpenseRepository interface {
	Put(ctx context.Context, report ExpenseReport) error
	Get(ctx context.Context, id string) (ExpenseReport, bool, error)
	// Update applies fn atomically; fn's error aborts without saving.
	Update(ctx context.Context, id string, fn func(*ExpenseReport) error) (ExpenseReport, error)
}

// LedgerRepository serializes writes per employee.
type LedgerRepository interface {
	Get(ctx context.Context, employeeID string) (Employee, bool, error)
	Put(ctx context.Context, employee Employee) error
	Update(ctx context.Context, employeeID string, fn func(*Employee) error) (Employee, error)
}

// Repositories groups the stores the built-in agents depend on.
type Repositories struct {
	Emails    EmailRepository
	Documents DocumentRepository
	Expenses  ExpenseRepository
	Ledger    LedgerRepository
}

func NewMemoryRepositories() Repositories {
	return Repositories{
		Emails:    NewMemoryEmailRepository(),
		Documents: NewMemoryDocumentRepository(),
		Expenses:  NewMemoryExpenseRepository(),
		Ledger:    NewMemoryLedger(),
	}
}

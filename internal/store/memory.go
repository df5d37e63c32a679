package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/warden/internal/concurrency"
	wardenErrors "github.com/harunnryd/warden/internal/errors"
)

type MemoryEmailRepository struct {
	mu     sync.RWMutex
	emails []EmailRecord
}

func NewMemoryEmailRepository() *MemoryEmailRepository {
	return &MemoryEmailRepository{}
}

func (r *MemoryEmailRepository) Add(ctx context.Context, email EmailRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if email.Folder == "" {
		email.Folder = FolderInbox
	}
	if email.CreatedAt.IsZero() {
		email.CreatedAt = time.Now().UTC()
	}
	email.ID = int64(len(r.emails) + 1)
	r.emails = append(r.emails, email)
	return nil
}

func (r *MemoryEmailRepository) List(ctx context.Context, recipient, folder string) ([]EmailRecord, error) {
	return r.filter(func(e EmailRecord) bool {
		return e.Recipient == recipient && e.Folder == folder
	}), nil
}

func (r *MemoryEmailRepository) Search(ctx context.Context, recipient, keyword string) ([]EmailRecord, error) {
	kw := strings.ToLower(keyword)
	return r.filter(func(e EmailRecord) bool {
		if e.Recipient != recipient {
			return false
		}
		return strings.Contains(strings.ToLower(e.Subject), kw) || strings.Contains(strings.ToLower(e.Body), kw)
	}), nil
}

func (r *MemoryEmailRepository) filter(keep func(EmailRecord) bool) []EmailRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []EmailRecord{}
	for _, e := range r.emails {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

type MemoryDocumentRepository struct {
	mu   sync.RWMutex
	docs map[string]Document
}

func NewMemoryDocumentRepository() *MemoryDocumentRepository {
	return &MemoryDocumentRepository{docs: make(map[string]Document)}
}

func (r *MemoryDocumentRepository) Put(ctx context.Context, doc Document) error {
	if doc.ID == "" {
		return wardenErrors.InvalidInput("document id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc.Tags = append([]string(nil), doc.Tags...)
	r.docs[doc.ID] = doc
	return nil
}

func (r *MemoryDocumentRepository) Get(ctx context.Context, id string) (Document, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[id]
	return doc, ok, nil
}

func (r *MemoryDocumentRepository) Search(ctx context.Context, keyword string) ([]Document, error) {
	kw := strings.ToLower(keyword)
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []Document{}
	for _, doc := range r.docs {
		if strings.Contains(strings.ToLower(doc.Title), kw) ||
			strings.Contains(strings.ToLower(doc.Content), kw) ||
			strings.Contains(strings.ToLower(strings.Join(doc.Tags, " ")), kw) {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type MemoryExpenseRepository struct {
	mu      sync.Mutex
	reports map[string]ExpenseReport
}

func NewMemoryExpenseRepository() *MemoryExpenseRepository {
	return &MemoryExpenseRepository{reports: make(map[string]ExpenseReport)}
}

func (r *MemoryExpenseRepository) Put(ctx context.Context, report ExpenseReport) error {
	if report.ID == "" {
		return wardenErrors.InvalidInput("report id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports[report.ID] = report
	return nil
}

func (r *MemoryExpenseRepository) Get(ctx context.Context, id string) (ExpenseReport, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	report, ok := r.reports[id]
	return report, ok, nil
}

func (r *MemoryExpenseRepository) Update(ctx context.Context, id string, fn func(*ExpenseReport) error) (ExpenseReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	report, ok := r.reports[id]
	if !ok {
		return ExpenseReport{}, wardenErrors.NotFound(fmt.Sprintf("expense report %s", id))
	}
	if err := fn(&report); err != nil {
		return ExpenseReport{}, err
	}
	r.reports[id] = report
	return report, nil
}

// MemoryLedger guards each employee's record with its own lock so balance
// read-modify-write cycles cannot interleave.
type MemoryLedger struct {
	mu        sync.RWMutex
	employees map[string]Employee
	locks     *concurrency.KeyedMutex
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		employees: make(map[string]Employee),
		locks:     concurrency.NewKeyedMutex(),
	}
}

func (l *MemoryLedger) Get(ctx context.Context, employeeID string) (Employee, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.employees[employeeID]
	return e, ok, nil
}

func (l *MemoryLedger) Put(ctx context.Context, employee Employee) error {
	if employee.ID == "" {
		return wardenErrors.InvalidInput("employee id is required")
	}
	return l.locks.With(employee.ID, func() error {
		l.mu.Lock()
		l.employees[employee.ID] = employee
		l.mu.Unlock()
		return nil
	})
}

func (l *MemoryLedger) Update(ctx context.Context, employeeID string, fn func(*Employee) error) (Employee, error) {
	var updated Employee
	err := l.locks.With(employeeID, func() error {
		current, ok, _ := l.Get(ctx, employeeID)
		if !ok {
			return wardenErrors.NotFound(fmt.Sprintf("employee %s", employeeID))
		}
		if err := fn(&current); err != nil {
			return err
		}
		l.mu.Lock()
		l.employees[employeeID] = current
		l.mu.Unlock()
		updated = current
		return nil
	})
	return updated, err
}

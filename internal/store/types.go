package store

import "time"

const (
	FolderInbox = "inbox"
	FolderSent  = "sent"
)

type EmailRecord struct {
	ID        int64     `json:"id,omitempty"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Folder    string    `json:"folder"`
	CreatedAt time.Time `json:"created_at"`
}

// Map renders the record the way agents return it.
func (e EmailRecord) Map() map[string]any {
	return map[string]any{
		"sender":    e.Sender,
		"recipient": e.Recipient,
		"subject":   e.Subject,
		"body":      e.Body,
		"folder":    e.Folder,
	}
}

type Document struct {
	ID      string   `json:"doc_id"`
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
}

func (d Document) Map() map[string]any {
	tags := make([]any, len(d.Tags))
	for i, t := range d.Tags {
		tags[i] = t
	}
	return map[string]any{
		"title":   d.Title,
		"content": d.Content,
		"tags":    tags,
	}
}

const (
	ExpensePending       = "pending"
	ExpenseApproved      = "approved"
	ExpenseManagerReview = "manager_review"
	ExpensePaid          = "paid"
)

type ExpenseReport struct {
	ID          string  `json:"report_id"`
	EmployeeID  string  `json:"employee_id"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
	Status      string  `json:"status"`
}

func (r ExpenseReport) Map() map[string]any {
	return map[string]any{
		"employee_id": r.EmployeeID,
		"amount":      r.Amount,
		"currency":    r.Currency,
		"category":    r.Category,
		"description": r.Description,
		"status":      r.Status,
	}
}

type BankAccount struct {
	IBAN    string  `json:"iban"`
	Balance float64 `json:"balance"`
}

type Employee struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Email       string      `json:"email"`
	Role        string      `json:"role"`
	Manager     string      `json:"manager"`
	BankAccount BankAccount `json:"bank_account"`
}

func (b BankAccount) Map() map[string]any {
	return map[string]any{"iban": b.IBAN, "balance": b.Balance}
}

// Package bus is the signed inter-agent message queue served over HTTP.
package bus

import (
	"fmt"
	"time"

	wardenErrors "github.com/harunnryd/warden/internal/errors"
)

const (
	ProtocolExpenseTask   = "expense_task"
	ProtocolRetrievalTask = "retrieval_task"
	ProtocolCustom        = "custom"

	HeaderSignature = "Signature"
	HeaderNonce     = "X-Nonce"
	HeaderTimestamp = "X-Timestamp"
)

type Message struct {
	Sender    string         `json:"sender"`
	Recipient string         `json:"recipient"`
	Protocol  string         `json:"protocol"`
	TaskID    string         `json:"task_id"`
	Payload   map[string]any `json:"payload"`
}

// Record is a queued message.
type Record struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Sender    string         `json:"sender"`
	Recipient string         `json:"recipient"`
	Protocol  string         `json:"protocol"`
	TaskID    string         `json:"task_id"`
	Payload   map[string]any `json:"payload"`
	Status    string         `json:"status"`
}

type SendResult struct {
	Status    string    `json:"status"`
	MessageID string    `json:"message_id"`
	Recipient string    `json:"recipient"`
	Protocol  string    `json:"protocol"`
	Timestamp time.Time `json:"timestamp"`
}

type Inbox struct {
	Recipient    string    `json:"recipient"`
	MessageCount int       `json:"message_count"`
	Protocols    []string  `json:"protocols"`
	Messages     []Record  `json:"messages"`
	Timestamp    time.Time `json:"timestamp"`
}

type Status struct {
	Status               string         `json:"status"`
	TotalMessages        int            `json:"total_messages"`
	PendingMessages      int            `json:"pending_messages"`
	ProtocolDistribution map[string]int `json:"protocol_distribution"`
	Timestamp            time.Time      `json:"timestamp"`
}

var expenseActions = map[string]bool{
	"submit":              true,
	"review":              true,
	"issue_reimbursement": true,
	"update_bank_account": true,
}

// Validate checks the envelope fields and the protocol's payload schema.
// Unknown protocols are rejected; custom payloads are not inspected.
func (m Message) Validate() error {
	if m.Sender == "" || m.Recipient == "" || m.Protocol == "" || m.TaskID == "" {
		return wardenErrors.InvalidInput("sender, recipient, protocol and task_id are required")
	}
	switch m.Protocol {
	case ProtocolExpenseTask:
		action, _ := m.Payload["action"].(string)
		if !expenseActions[action] {
			return wardenErrors.InvalidInput(fmt.Sprintf("expense_task: unsupported action %q", action))
		}
		key := "report_id"
		if action == "update_bank_account" {
			key = "employee_id"
		}
		if s, _ := m.Payload[key].(string); s == "" {
			return wardenErrors.InvalidInput(fmt.Sprintf("expense_task: %s is required", key))
		}
	case ProtocolRetrievalTask:
		doc, _ := m.Payload["doc_id"].(string)
		keyword, _ := m.Payload["keyword"].(string)
		if doc == "" && keyword == "" {
			return wardenErrors.InvalidInput("retrieval_task: doc_id or keyword is required")
		}
	case ProtocolCustom:
	default:
		return wardenErrors.InvalidInput(fmt.Sprintf("unknown protocol %q", m.Protocol))
	}
	return nil
}

// signable is the map both sides sign: the message as it looks after a JSON round trip.
func (m Message) signable() map[string]any {
	payload := m.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	return map[string]any{
		"sender":    m.Sender,
		"recipient": m.Recipient,
		"protocol":  m.Protocol,
		"task_id":   m.TaskID,
		"payload":   payload,
	}
}

package agents

import (
	"context"

	"github.com/harunnryd/warden/internal/audit"
	"github.com/harunnryd/warden/internal/security/signing"
	"github.com/harunnryd/warden/internal/store"
	"github.com/harunnryd/warden/internal/tool"
)

const EmailAgentName = "email_agent"

type EmailAgent struct {
	signedAgent
	emails store.EmailRepository
}

func NewEmailAgent(emails store.EmailRepository, signer *signing.Service, auditLog audit.Logger) *EmailAgent {
	a := &EmailAgent{signedAgent: newSignedAgent(EmailAgentName, signer, auditLog), emails: emails}
	a.actions["send"] = a.send
	a.actions["list"] = a.list
	a.actions["filter"] = a.filter
	return a
}

func (a *EmailAgent) ToolMetadata() tool.Metadata {
	return tool.Metadata{
		Description: "Send, list and filter enterprise mail",
		Actions:     []string{"send", "list", "filter"},
		Risk:        tool.RiskMedium,
	}
}

func (a *EmailAgent) send(ctx context.Context, _ string, payload map[string]any) (map[string]any, error) {
	record := store.EmailRecord{Folder: store.FolderSent}
	var err error
	if record.Sender, err = requireString(payload, "sender"); err != nil {
		return nil, err
	}
	if record.Recipient, err = requireString(payload, "recipient"); err != nil {
		return nil, err
	}
	if record.Subject, err = requireString(payload, "subject"); err != nil {
		return nil, err
	}
	if record.Body, err = requireString(payload, "body"); err != nil {
		return nil, err
	}
	if err := a.emails.Add(ctx, record); err != nil {
		return nil, err
	}
	a.audit.Audit(ctx, "email_sent", map[string]any{"recipient": record.Recipient, "subject": record.Subject})
	return map[string]any{"status": "sent"}, nil
}

func (a *EmailAgent) list(ctx context.Context, _ string, payload map[string]any) (map[string]any, error) {
	recipient, err := requireString(payload, "recipient")
	if err != nil {
		return nil, err
	}
	emails, err := a.emails.List(ctx, recipient, optionalString(payload, "folder", store.FolderInbox))
	if err != nil {
		return nil, err
	}
	return map[string]any{"status": StatusOK, "emails": emailMaps(emails)}, nil
}

func (a *EmailAgent) filter(ctx context.Context, _ string, payload map[string]any) (map[string]any, error) {
	recipient, err := requireString(payload, "recipient")
	if err != nil {
		return nil, err
	}
	keyword, err := requireString(payload, "keyword")
	if err != nil {
		return nil, err
	}
	emails, err := a.emails.Search(ctx, recipient, keyword)
	if err != nil {
		return nil, err
	}
	return map[string]any{"status": StatusOK, "emails": emailMaps(emails)}, nil
}

func emailMaps(emails []store.EmailRecord) []any {
	out := make([]any, 0, len(emails))
	for _, e := range emails {
		out = append(out, e.Map())
	}
	return out
}

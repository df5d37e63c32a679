// Package agents holds the built-in email, drive and expense tools.
package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/harunnryd/warden/internal/audit"
	wardenErrors "github.com/harunnryd/warden/internal/errors"
	"github.com/harunnryd/warden/internal/security/signing"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

type actionFunc func(ctx context.Context, sessionID string, payload map[string]any) (map[string]any, error)

// signedAgent verifies signed payloads and dispatches on payload["action"].
type signedAgent struct {
	name    string
	signer  *signing.Service
	audit   audit.Logger
	actions map[string]actionFunc
}

func newSignedAgent(name string, signer *signing.Service, auditLog audit.Logger) signedAgent {
	if auditLog == nil {
		auditLog = audit.Nop()
	}
	return signedAgent{name: name, signer: signer, audit: auditLog, actions: map[string]actionFunc{}}
}

func (a *signedAgent) Name() string { return a.name }

func (a *signedAgent) Execute(ctx context.Context, sessionID string, payload map[string]any) (map[string]any, error) {
	action, _ := payload["action"].(string)
	fn, ok := a.actions[action]
	if !ok {
		return nil, wardenErrors.InvalidInput(fmt.Sprintf("unsupported %s action %q", strings.TrimSuffix(a.name, "_agent"), action))
	}
	a.audit.Audit(ctx, a.name+"_execute", map[string]any{"session_id": sessionID, "action": action})
	return fn(ctx, sessionID, payload)
}

func (a *signedAgent) ExecuteSigned(ctx context.Context, sessionID string, msg signing.SignedMessage) (map[string]any, error) {
	if a.signer == nil {
		return nil, wardenErrors.Internal(a.name + ": no signature service configured")
	}
	slog.Debug("verifying_payload", "agent", a.name)
	payload, err := a.signer.Unwrap(msg)
	if err != nil {
		a.audit.Security(ctx, audit.SeverityCritical, "agent_signature_rejected", map[string]any{"agent": a.name, "session_id": sessionID})
		return nil, err
	}
	return a.Execute(ctx, sessionID, payload)
}

func businessError(reason string) map[string]any {
	return map[string]any{"status": StatusError, "reason": reason}
}

func requireString(payload map[string]any, key string) (string, error) {
	v, ok := payload[key]
	if !ok || v == nil {
		return "", wardenErrors.InvalidInput(key + " is required")
	}
	s, ok := v.(string)
	if !ok {
		return "", wardenErrors.InvalidInput(key + " must be a string")
	}
	return s, nil
}

func optionalString(payload map[string]any, key, fallback string) string {
	if s, ok := payload[key].(string); ok {
		return s
	}
	return fallback
}

func stringList(v any) []string {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	}
	return nil
}

// toFloat accepts JSON numbers, Go ints and numeric strings.
func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

// Package policy decides whether an action may run: shape, then role, then human approval.
package policy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/harunnryd/warden/internal/audit"
	wardenErrors "github.com/harunnryd/warden/internal/errors"
	"github.com/harunnryd/warden/internal/metrics"
	"github.com/harunnryd/warden/internal/security/hitl"
)

const requestIDInputPrefix = 20

// Payload is the shape every checked call is coerced to.
type Payload struct {
	Input     string
	Rationale string
}

// PermissionChecker is satisfied by rbac.Service.
type PermissionChecker interface {
	CheckPermission(ctx context.Context, role, action string) bool
}

type Options struct {
	Rules          []Rule
	MaxInputLength int
	// HonorGrantedApprovals lets one call through per grant, for the exact input that was approved.
	HonorGrantedApprovals bool
	Audit                 audit.Logger
	Metrics               *metrics.Metrics
}

type Enforcer struct {
	rbac    PermissionChecker
	hitl    *hitl.Service
	rules   []Rule
	maxLen  int
	honor   bool
	audit   audit.Logger
	metrics *metrics.Metrics
}

func NewEnforcer(rbac PermissionChecker, approvals *hitl.Service, opts Options) *Enforcer {
	e := &Enforcer{
		rbac:    rbac,
		hitl:    approvals,
		rules:   opts.Rules,
		maxLen:  opts.MaxInputLength,
		honor:   opts.HonorGrantedApprovals,
		audit:   opts.Audit,
		metrics: opts.Metrics,
	}
	if e.rules == nil {
		e.rules = DefaultRules()
	}
	if e.maxLen <= 0 {
		e.maxLen = 5000
	}
	if e.audit == nil {
		e.audit = audit.Nop()
	}
	return e
}

func (e *Enforcer) HITL() *hitl.Service {
	return e.hitl
}

func (e *Enforcer) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Validate returns nil when the call may proceed.
func (e *Enforcer) Validate(ctx context.Context, action, role string, payload map[string]any) error {
	return e.Evaluate(ctx, action, role, payload).Err()
}

func (e *Enforcer) Evaluate(ctx context.Context, action, role string, payload map[string]any) Decision {
	decision := e.evaluate(ctx, action, role, payload)
	e.metrics.ObservePolicyDecision(action, string(decision.Kind))
	return decision
}

func (e *Enforcer) evaluate(ctx context.Context, action, role string, raw map[string]any) Decision {
	payload, err := e.coerce(raw)
	if err != nil {
		e.audit.Security(ctx, audit.SeverityWarning, "payload_validation_failed", map[string]any{
			"tool":  action,
			"error": err.Error(),
		})
		return Denied(err.Error(), err)
	}

	if !e.rbac.CheckPermission(ctx, role, action) {
		e.audit.Security(ctx, audit.SeverityCritical, "policy_violation", map[string]any{"tool": action, "role": role})
		reason := fmt.Sprintf("Role %s not authorized for %s", role, action)
		return Denied(reason, wardenErrors.PermissionDenied(reason))
	}

	for _, rule := range e.rules {
		if !rule.matches(action, role) {
			continue
		}
		return e.requireApproval(ctx, action, role, payload)
	}

	return Allowed()
}

func (e *Enforcer) requireApproval(ctx context.Context, action, role string, payload Payload) Decision {
	outcome, req, err := e.hitl.Gate(ctx, hitl.GateRequest{
		BaseID:       RequestID(action, payload.Input),
		ToolName:     action,
		RequestedBy:  role,
		Rationale:    payload.Rationale,
		InputDigest:  InputDigest(action, payload.Input),
		HonorGranted: e.honor,
	})
	if err != nil {
		slog.Error("Failed to file approval request", "action", action, "error", err)
		return Denied("approval request could not be recorded", wardenErrors.Internal(err.Error()))
	}

	fields := map[string]any{"tool": action, "role": role, "request_id": req.RequestID}
	switch outcome {
	case hitl.GateGranted:
		e.audit.Audit(ctx, "hitl_approval_honored", fields)
		return Allowed()
	case hitl.GateDenied:
		e.audit.Security(ctx, audit.SeverityWarning, "hitl_request_denied_retry", fields)
		reason := fmt.Sprintf("approval %s was denied by %s", req.RequestID, req.Approver)
		return Denied(reason, wardenErrors.PermissionDenied(reason))
	default:
		e.audit.Audit(ctx, "hitl_required", fields)
		return PendingApproval(req.RequestID)
	}
}

func (e *Enforcer) coerce(raw map[string]any) (Payload, error) {
	input, ok := raw["input"].(string)
	if !ok {
		return Payload{}, wardenErrors.InvalidInput("input must be a string")
	}
	rationale := ""
	if v, present := raw["rationale"]; present && v != nil {
		s, ok := v.(string)
		if !ok {
			return Payload{}, wardenErrors.InvalidInput("rationale must be a string")
		}
		rationale = s
	}
	if len([]rune(input)) > e.maxLen {
		return Payload{}, wardenErrors.InvalidInput("Input too long")
	}
	return Payload{Input: input, Rationale: rationale}, nil
}

// InputDigest fingerprints the full input an approval is granted for.
func InputDigest(action, input string) string {
	sum := sha256.Sum256([]byte(action + "\x00" + input))
	return hex.EncodeToString(sum[:])
}

// RequestID derives the approval key from the action and the first characters of the input.
func RequestID(action, input string) string {
	runes := []rune(input)
	if len(runes) > requestIDInputPrefix {
		runes = runes[:requestIDInputPrefix]
	}
	return action + ":" + string(runes)
}

package tool

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/harunnryd/warden/internal/audit"
	"github.com/harunnryd/warden/internal/concurrency"
	wardenErrors "github.com/harunnryd/warden/internal/errors"
	"github.com/harunnryd/warden/internal/logger"
	"github.com/harunnryd/warden/internal/metrics"
	"github.com/harunnryd/warden/internal/security/signing"
)

const DefaultDispatchTimeout = 10 * time.Second

// Validator is satisfied by policy.Enforcer.
type Validator interface {
	Validate(ctx context.Context, action, role string, payload map[string]any) error
}

type RouterOptions struct {
	Timeout time.Duration
	Audit   audit.Logger
	Metrics *metrics.Metrics
}

// Router checks policy for the requested action and then hands the payload to the tool.
type Router struct {
	registry *Registry
	policy   Validator
	signer   *signing.Service
	timeout  time.Duration
	audit    audit.Logger
	metrics  *metrics.Metrics
}

func NewRouter(registry *Registry, policy Validator, signer *signing.Service, opts RouterOptions) *Router {
	r := &Router{
		registry: registry,
		policy:   policy,
		signer:   signer,
		timeout:  opts.Timeout,
		audit:    opts.Audit,
		metrics:  opts.Metrics,
	}
	if r.timeout <= 0 {
		r.timeout = DefaultDispatchTimeout
	}
	if r.audit == nil {
		r.audit = audit.Nop()
	}
	return r
}

func (r *Router) Registry() *Registry {
	return r.registry
}

// Dispatch handles the full lifecycle: Resolve Tool -> Check Policy -> Sign -> Run Tool.
// Policy is always consulted before the tool is touched.
func (r *Router) Dispatch(ctx context.Context, sessionID, toolName string, payload map[string]any, role string) (map[string]any, error) {
	start := time.Now()
	traceID := logger.GetTraceID(ctx)
	slog.Info("Dispatch request", "tool", toolName, "role", role, "trace_id", traceID)

	e, ok := r.registry.lookup(toolName)
	if !ok {
		r.audit.Security(ctx, audit.SeverityCritical, "tool_not_found", map[string]any{"tool": toolName, "session_id": sessionID})
		r.metrics.ObserveDispatch(toolName, "unknown_tool", time.Since(start))
		return nil, wardenErrors.UnknownTool(toolName)
	}

	action, _ := payload["action"].(string)
	rationale, _ := payload["rationale"].(string)
	toAgent := withoutRationale(payload)

	if err := r.policy.Validate(ctx, action, role, map[string]any{
		"input":     signing.Repr(toAgent),
		"rationale": rationale,
	}); err != nil {
		r.metrics.ObserveDispatch(toolName, wardenErrors.Category(err), time.Since(start))
		return nil, err
	}
	r.audit.Audit(ctx, "tool_invocation", map[string]any{"tool": toolName, "action": action, "role": role, "session_id": sessionID})

	result, err := r.execute(ctx, e, sessionID, toAgent)
	duration := time.Since(start)
	if err != nil {
		slog.Error("Tool execution failed", "tool", toolName, "action", action, "error", err, "duration", duration, "trace_id", traceID)
		r.audit.Audit(ctx, "tool_response", map[string]any{"tool": toolName, "session_id": sessionID, "status": "error", "error": err.Error()})
		r.metrics.ObserveDispatch(toolName, "error", duration)
		return nil, err
	}

	slog.Info("Tool execution success", "tool", toolName, "action", action, "duration", duration, "trace_id", traceID)
	r.audit.Audit(ctx, "tool_response", map[string]any{"tool": toolName, "session_id": sessionID, "status": "success"})
	r.metrics.ObserveDispatch(toolName, "ok", duration)
	return result, nil
}

type execResult struct {
	out map[string]any
	err error
}

// execute runs the tool under the dispatch deadline. A tool that overruns is
// abandoned; its late result is discarded.
func (r *Router) execute(ctx context.Context, e entry, sessionID string, payload map[string]any) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan execResult, 1)
	concurrency.SafeGo(func() {
		var res execResult
		if e.signed != nil && r.signer != nil {
			res.out, res.err = e.signed.ExecuteSigned(ctx, sessionID, r.signer.Wrap(payload))
		} else {
			res.out, res.err = e.tool.Execute(ctx, sessionID, payload)
		}
		done <- res
	}, func(p interface{}) {
		done <- execResult{err: wardenErrors.Internal(fmt.Sprintf("tool panicked: %v", p))}
	})

	select {
	case res := <-done:
		return res.out, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("dispatch %s: %w", e.tool.Name(), ctx.Err())
	}
}

func withoutRationale(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if k == "rationale" {
			continue
		}
		out[k] = v
	}
	return out
}

package tool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/warden/internal/audit"
	wardenErrors "github.com/harunnryd/warden/internal/errors"
	"github.com/harunnryd/warden/internal/security/signing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPolicy struct {
	mu    sync.Mutex
	calls []map[string]any
	err   error
}

func (p *recordingPolicy) Validate(_ context.Context, action, role string, payload map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	call := map[string]any{"action": action, "role": role}
	for k, v := range payload {
		call[k] = v
	}
	p.calls = append(p.calls, call)
	return p.err
}

type plainTool struct {
	name  string
	mu    sync.Mutex
	seen  []map[string]any
	delay time.Duration
	panic bool
}

func (t *plainTool) Name() string { return t.name }

func (t *plainTool) Execute(ctx context.Context, _ string, payload map[string]any) (map[string]any, error) {
	if t.panic {
		panic("boom")
	}
	if t.delay > 0 {
		select {
		case <-time.After(t.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	t.mu.Lock()
	t.seen = append(t.seen, payload)
	t.mu.Unlock()
	return map[string]any{"status": "ok"}, nil
}

type signedTool struct {
	plainTool
	signer *signing.Service
	got    signing.SignedMessage
}

func (t *signedTool) ExecuteSigned(_ context.Context, _ string, msg signing.SignedMessage) (map[string]any, error) {
	t.got = msg
	payload, err := t.signer.Unwrap(msg)
	if err != nil {
		return nil, err
	}
	return map[string]any{"status": "ok", "action": payload["action"]}, nil
}

func newSigner(t *testing.T) *signing.Service {
	t.Helper()
	s, err := signing.NewService("test-secret", audit.Nop())
	require.NoError(t, err)
	return s
}

func TestRouter_UnknownTool(t *testing.T) {
	rec := audit.NewRecorder()
	policy := &recordingPolicy{}
	r := NewRouter(NewRegistry(), policy, newSigner(t), RouterOptions{Audit: rec})

	_, err := r.Dispatch(context.Background(), "s1", "ghost_agent", map[string]any{"action": "send"}, "admin")

	require.Error(t, err)
	assert.ErrorIs(t, err, wardenErrors.ErrUnknownTool)
	assert.Empty(t, policy.calls)
	assert.True(t, rec.Has(audit.StreamSecurity, "tool_not_found"))
}

func TestRouter_PolicyRunsBeforeTool(t *testing.T) {
	reg := NewRegistry()
	tl := &plainTool{name: "expense_agent"}
	reg.MustRegister(tl)
	policy := &recordingPolicy{err: wardenErrors.PermissionDenied("Role employee not authorized for review")}
	r := NewRouter(reg, policy, nil, RouterOptions{})

	_, err := r.Dispatch(context.Background(), "s1", "expense_agent", map[string]any{
		"action":    "review",
		"report_id": "rpt-1",
		"rationale": "check it",
	}, "employee")

	assert.ErrorIs(t, err, wardenErrors.ErrPermissionDenied)
	assert.Empty(t, tl.seen)
	require.Len(t, policy.calls, 1)
	assert.Equal(t, "review", policy.calls[0]["action"])
	assert.Equal(t, "employee", policy.calls[0]["role"])
	assert.Equal(t, "{'action': 'review', 'report_id': 'rpt-1'}", policy.calls[0]["input"])
	assert.Equal(t, "check it", policy.calls[0]["rationale"])
}

func TestRouter_StripsRationale(t *testing.T) {
	reg := NewRegistry()
	tl := &plainTool{name: "drive_agent"}
	reg.MustRegister(tl)
	rec := audit.NewRecorder()
	r := NewRouter(reg, &recordingPolicy{}, nil, RouterOptions{Audit: rec})

	out, err := r.Dispatch(context.Background(), "s1", "drive_agent", map[string]any{
		"action":    "search",
		"keyword":   "policy",
		"rationale": "find it",
	}, "employee")

	require.NoError(t, err)
	assert.Equal(t, "ok", out["status"])
	require.Len(t, tl.seen, 1)
	assert.NotContains(t, tl.seen[0], "rationale")
	assert.Equal(t, "policy", tl.seen[0]["keyword"])
	assert.Equal(t, []string{"tool_invocation", "tool_response"}, rec.Events(audit.StreamAudit))
}

func TestRouter_SignedToolReceivesVerifiableMessage(t *testing.T) {
	signer := newSigner(t)
	reg := NewRegistry()
	tl := &signedTool{plainTool: plainTool{name: "email_agent"}, signer: signer}
	reg.MustRegister(tl)
	r := NewRouter(reg, &recordingPolicy{}, signer, RouterOptions{})

	out, err := r.Dispatch(context.Background(), "s1", "email_agent", map[string]any{
		"action":    "send",
		"recipient": "bob@enterprise.com",
		"rationale": "notify",
	}, "employee")

	require.NoError(t, err)
	assert.Equal(t, "send", out["action"])
	assert.NotEmpty(t, tl.got.Signature)
	assert.NotContains(t, tl.got.Payload, "rationale")
	assert.Empty(t, tl.seen, "plain Execute must not be used for signed tools")

	descriptors := reg.Descriptors()
	require.Len(t, descriptors, 1)
	assert.True(t, descriptors[0].Signed)
}

func TestRouter_DispatchDeadline(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(&plainTool{name: "slow_agent", delay: time.Second})
	r := NewRouter(reg, &recordingPolicy{}, nil, RouterOptions{Timeout: 20 * time.Millisecond})

	_, err := r.Dispatch(context.Background(), "s1", "slow_agent", map[string]any{"action": "search"}, "admin")

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRouter_ToolPanicBecomesError(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(&plainTool{name: "bad_agent", panic: true})
	r := NewRouter(reg, &recordingPolicy{}, nil, RouterOptions{})

	_, err := r.Dispatch(context.Background(), "s1", "bad_agent", map[string]any{"action": "search"}, "admin")

	assert.ErrorIs(t, err, wardenErrors.ErrInternal)
}

func TestRegistry_RejectsDuplicateAndEmpty(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&plainTool{name: "drive_agent"}))

	err := reg.Register(&plainTool{name: "drive_agent"})
	assert.ErrorIs(t, err, wardenErrors.ErrConflict)

	err = reg.Register(&plainTool{name: "  "})
	assert.ErrorIs(t, err, wardenErrors.ErrInvalidInput)

	assert.Equal(t, []string{"drive_agent"}, reg.Names())
}

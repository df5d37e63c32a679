package hitl

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/harunnryd/warden/internal/audit"
	"github.com/harunnryd/warden/internal/clock"
	wardenErrors "github.com/harunnryd/warden/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRequestIsPending(t *testing.T) {
	rec := audit.NewRecorder()
	svc, err := NewService(Options{Audit: rec})
	require.NoError(t, err)
	ctx := context.Background()

	created, err := svc.CreateRequest(ctx, "issue_reimbursement:[('action', 'issue", "issue_reimbursement", "admin", "Issue reimbursement")
	require.NoError(t, err)
	assert.Nil(t, created.Approved)
	assert.Equal(t, StatusPending, created.Status())

	got, ok := svc.Status(created.RequestID)
	require.True(t, ok)
	assert.Equal(t, "admin", got.RequestedBy)
	assert.True(t, rec.Has(audit.StreamAudit, "hitl_request_created"))
}

func TestApproveAndDenyTransitionOnce(t *testing.T) {
	svc, err := NewService(Options{})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = svc.CreateRequest(ctx, "a", "update_bank_account", "admin", "")
	require.NoError(t, err)
	_, err = svc.CreateRequest(ctx, "b", "issue_reimbursement", "admin", "")
	require.NoError(t, err)

	require.NoError(t, svc.Approve(ctx, "a", "cfo"))
	req, _ := svc.Status("a")
	require.NotNil(t, req.Approved)
	assert.True(t, *req.Approved)
	assert.Equal(t, "cfo", req.Approver)
	assert.Equal(t, StatusGranted, req.Status())

	require.NoError(t, svc.Deny(ctx, "b", "cfo"))
	req, _ = svc.Status("b")
	assert.Equal(t, StatusDenied, req.Status())

	assert.ErrorIs(t, svc.Deny(ctx, "a", "cfo"), wardenErrors.ErrAlreadyResolved)
	assert.ErrorIs(t, svc.Approve(ctx, "b", "cfo"), wardenErrors.ErrAlreadyResolved)
	req, _ = svc.Status("a")
	assert.Equal(t, StatusGranted, req.Status(), "second transition must not change state")
}

func TestUnknownRequest(t *testing.T) {
	svc, err := NewService(Options{})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Approve(context.Background(), "missing", "cfo"), wardenErrors.ErrNotFound)
	assert.ErrorIs(t, svc.Deny(context.Background(), "missing", "cfo"), wardenErrors.ErrNotFound)
	_, ok := svc.Status("missing")
	assert.False(t, ok)
}

func TestListFiltersAndOrders(t *testing.T) {
	fake := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	svc, err := NewService(Options{Clock: fake})
	require.NoError(t, err)
	ctx := context.Background()

	for _, id := range []string{"first", "second", "third"} {
		_, err := svc.CreateRequest(ctx, id, "issue_reimbursement", "admin", "")
		require.NoError(t, err)
		fake.Advance(time.Second)
	}
	require.NoError(t, svc.Approve(ctx, "second", "cfo"))

	all, err := svc.List("")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "first", all[0].RequestID)
	assert.Equal(t, "third", all[2].RequestID)

	pending, err := svc.List(StatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestFilePersistenceIsShared(t *testing.T) {
	path := filepath.Join(t.TempDir(), "approvals.json")
	server, err := NewService(Options{Path: path})
	require.NoError(t, err)
	cli, err := NewService(Options{Path: path})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = server.CreateRequest(ctx, "shared", "update_bank_account", "admin", "")
	require.NoError(t, err)

	require.NoError(t, cli.Approve(ctx, "shared", "ops"))

	req, ok := server.Status("shared")
	require.True(t, ok)
	assert.Equal(t, StatusGranted, req.Status())
	assert.Equal(t, "ops", req.Approver)
}

func TestCreateRequestNeverOverwrites(t *testing.T) {
	svc, err := NewService(Options{})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = svc.CreateRequest(ctx, "r", "update_bank_account", "admin", "")
	require.NoError(t, err)
	require.NoError(t, svc.Deny(ctx, "r", "cfo"))

	_, err = svc.CreateRequest(ctx, "r", "update_bank_account", "admin", "again")
	assert.ErrorIs(t, err, wardenErrors.ErrConflict)

	req, _ := svc.Status("r")
	assert.Equal(t, StatusDenied, req.Status())
	assert.Equal(t, "cfo", req.Approver)
}

func gate(digest string, honor bool) GateRequest {
	return GateRequest{
		BaseID:       "update_bank_account:{'action': 'update_b",
		ToolName:     "update_bank_account",
		RequestedBy:  "admin",
		InputDigest:  digest,
		HonorGranted: honor,
	}
}

func TestGateLifecycle(t *testing.T) {
	rec := audit.NewRecorder()
	svc, err := NewService(Options{Audit: rec})
	require.NoError(t, err)
	ctx := context.Background()

	outcome, first, err := svc.Gate(ctx, gate("d1", true))
	require.NoError(t, err)
	assert.Equal(t, GatePending, outcome)
	assert.Equal(t, "update_bank_account:{'action': 'update_b", first.RequestID)

	outcome, reused, err := svc.Gate(ctx, gate("d1", true))
	require.NoError(t, err)
	assert.Equal(t, GatePending, outcome)
	assert.Equal(t, first.RequestID, reused.RequestID)

	// Same prefix, different input: filed separately.
	outcome, other, err := svc.Gate(ctx, gate("d2", true))
	require.NoError(t, err)
	assert.Equal(t, GatePending, outcome)
	assert.Equal(t, first.RequestID+"~2", other.RequestID)

	require.NoError(t, svc.Approve(ctx, first.RequestID, "cfo"))

	outcome, granted, err := svc.Gate(ctx, gate("d1", true))
	require.NoError(t, err)
	assert.Equal(t, GateGranted, outcome)
	require.NotNil(t, granted.ConsumedAt)
	assert.True(t, rec.Has(audit.StreamAudit, "hitl_approval_consumed"))

	outcome, next, err := svc.Gate(ctx, gate("d1", true))
	require.NoError(t, err)
	assert.Equal(t, GatePending, outcome)
	assert.Equal(t, first.RequestID+"~3", next.RequestID)

	stored, _ := svc.Status(first.RequestID)
	assert.Equal(t, StatusGranted, stored.Status())
}

func TestGateWithoutHonorFilesNewRequest(t *testing.T) {
	svc, err := NewService(Options{})
	require.NoError(t, err)
	ctx := context.Background()

	_, first, err := svc.Gate(ctx, gate("d1", false))
	require.NoError(t, err)
	require.NoError(t, svc.Approve(ctx, first.RequestID, "cfo"))

	outcome, next, err := svc.Gate(ctx, gate("d1", false))
	require.NoError(t, err)
	assert.Equal(t, GatePending, outcome)
	assert.NotEqual(t, first.RequestID, next.RequestID)

	stored, _ := svc.Status(first.RequestID)
	assert.Nil(t, stored.ConsumedAt)
	assert.Equal(t, "cfo", stored.Approver)
}

func TestGateKeepsDenial(t *testing.T) {
	svc, err := NewService(Options{})
	require.NoError(t, err)
	ctx := context.Background()

	_, first, err := svc.Gate(ctx, gate("d1", true))
	require.NoError(t, err)
	require.NoError(t, svc.Deny(ctx, first.RequestID, "cfo"))

	outcome, denied, err := svc.Gate(ctx, gate("d1", true))
	require.NoError(t, err)
	assert.Equal(t, GateDenied, outcome)
	assert.Equal(t, first.RequestID, denied.RequestID)
	assert.Equal(t, "cfo", denied.Approver)

	assert.ErrorIs(t, svc.Approve(ctx, first.RequestID, "intern"), wardenErrors.ErrAlreadyResolved)

	_, _, err = svc.Gate(ctx, gate("", true))
	assert.ErrorIs(t, err, wardenErrors.ErrInvalidInput)
}

func TestGateConsumesAcrossProcesses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "approvals.json")
	server, err := NewService(Options{Path: path})
	require.NoError(t, err)
	cli, err := NewService(Options{Path: path})
	require.NoError(t, err)
	ctx := context.Background()

	_, req, err := server.Gate(ctx, gate("d1", true))
	require.NoError(t, err)
	require.NoError(t, cli.Approve(ctx, req.RequestID, "ops"))

	outcome, _, err := server.Gate(ctx, gate("d1", true))
	require.NoError(t, err)
	assert.Equal(t, GateGranted, outcome)

	// The other process sees the grant as used.
	outcome, _, err = cli.Gate(ctx, gate("d1", true))
	require.NoError(t, err)
	assert.Equal(t, GatePending, outcome)
}

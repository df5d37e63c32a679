package formatter

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/harunnryd/warden/internal/policy"
	"github.com/harunnryd/warden/internal/security/hitl"
	"github.com/harunnryd/warden/internal/security/rbac"
)

func sampleApprovals() []hitl.ApprovalRequest {
	granted := true
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return []hitl.ApprovalRequest{
		{RequestID: "issue_reimbursement:{'report_id': 'R1'", ToolName: "issue_reimbursement", RequestedBy: "admin", Rationale: "quarterly travel", CreatedAt: at},
		{RequestID: "update_bank_account:{'employee_id': 'E", ToolName: "update_bank_account", RequestedBy: "admin", CreatedAt: at, Approved: &granted, Approver: "root", ResolvedAt: &at},
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		format  OutputFormat
		wantErr bool
	}{
		{name: "table format", format: OutputFormatTable},
		{name: "json format", format: OutputFormatJSON},
		{name: "yaml format", format: OutputFormatYAML},
		{name: "invalid format", format: OutputFormat("xml"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := New(tt.format)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, f)
		})
	}
}

func TestParseOutputFormat(t *testing.T) {
	got, err := ParseOutputFormat(" YAML ")
	require.NoError(t, err)
	assert.Equal(t, OutputFormatYAML, got)

	_, err = ParseOutputFormat("csv")
	assert.Error(t, err)
}

func TestTableApprovals(t *testing.T) {
	out, err := NewTableFormatter().FormatApprovals(sampleApprovals())
	require.NoError(t, err)
	assert.Contains(t, out, "Request ID")
	assert.Contains(t, out, "PENDING")
	assert.Contains(t, out, "GRANTED")
	assert.Contains(t, out, "2026-03-01 10:00:00")

	empty, err := NewTableFormatter().FormatApprovals(nil)
	require.NoError(t, err)
	assert.Equal(t, "No approval requests", empty)
}

func TestJSONApprovalsCarryStatus(t *testing.T) {
	out, err := NewJSONFormatter().FormatApprovals(sampleApprovals())
	require.NoError(t, err)

	var views []ApprovalView
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	require.Len(t, views, 2)
	assert.Equal(t, "PENDING", views[0].Status)
	assert.Equal(t, "GRANTED", views[1].Status)
	assert.Equal(t, "root", views[1].Approver)
}

func TestPolicyView(t *testing.T) {
	view := NewPolicyView(rbac.DefaultRoles(), policy.DefaultRules())

	out, err := NewYAMLFormatter().FormatPolicy(view)
	require.NoError(t, err)

	var decoded PolicyView
	require.NoError(t, yaml.Unmarshal([]byte(out), &decoded))
	require.Len(t, decoded.Roles, 3)
	assert.Equal(t, rbac.RoleAdmin, decoded.Roles[0].Name)
	assert.Contains(t, decoded.Roles[1].Permissions, "submit")
	assert.Len(t, decoded.HITLRules, 2)

	table, err := NewTableFormatter().FormatPolicy(view)
	require.NoError(t, err)
	assert.Contains(t, table, "fetch_audit_log")
	assert.Contains(t, table, "update_bank_account")
}

func TestTruncateStringRunes(t *testing.T) {
	assert.Equal(t, "short", truncateString("short", 10))
	assert.Equal(t, "ééé...", truncateString("éééééééé", 6))
}

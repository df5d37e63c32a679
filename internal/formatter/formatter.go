// Package formatter renders approvals and policy tables for the CLI.
package formatter

import (
	"fmt"
	"strings"
	"time"

	"github.com/harunnryd/warden/internal/policy"
	"github.com/harunnryd/warden/internal/security/hitl"
	"github.com/harunnryd/warden/internal/security/rbac"
)

type OutputFormat string

const (
	OutputFormatTable OutputFormat = "table"
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatYAML  OutputFormat = "yaml"
)

type Formatter interface {
	FormatApprovals([]hitl.ApprovalRequest) (string, error)
	FormatPolicy(PolicyView) (string, error)
}

// ApprovalView flattens an approval request with its derived status.
type ApprovalView struct {
	RequestID   string     `json:"request_id" yaml:"request_id"`
	ToolName    string     `json:"tool_name" yaml:"tool_name"`
	RequestedBy string     `json:"requested_by" yaml:"requested_by"`
	Status      string     `json:"status" yaml:"status"`
	Rationale   string     `json:"rationale" yaml:"rationale"`
	Approver    string     `json:"approver,omitempty" yaml:"approver,omitempty"`
	CreatedAt   time.Time  `json:"created_at" yaml:"created_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty" yaml:"resolved_at,omitempty"`
}

func NewApprovalViews(reqs []hitl.ApprovalRequest) []ApprovalView {
	out := make([]ApprovalView, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, ApprovalView{
			RequestID:   r.RequestID,
			ToolName:    r.ToolName,
			RequestedBy: r.RequestedBy,
			Status:      string(r.Status()),
			Rationale:   r.Rationale,
			Approver:    r.Approver,
			CreatedAt:   r.CreatedAt,
			ResolvedAt:  r.ResolvedAt,
		})
	}
	return out
}

type RoleView struct {
	Name        string   `json:"name" yaml:"name"`
	Permissions []string `json:"permissions" yaml:"permissions"`
}

type PolicyView struct {
	Roles     []RoleView    `json:"roles" yaml:"roles"`
	HITLRules []policy.Rule `json:"hitl_rules" yaml:"hitl_rules"`
}

func NewPolicyView(roles []rbac.RoleDefinition, rules []policy.Rule) PolicyView {
	view := PolicyView{HITLRules: rules}
	for _, r := range roles {
		view.Roles = append(view.Roles, RoleView{Name: r.Name, Permissions: r.Actions()})
	}
	return view
}

func New(format OutputFormat) (Formatter, error) {
	switch format {
	case OutputFormatTable:
		return NewTableFormatter(), nil
	case OutputFormatJSON:
		return NewJSONFormatter(), nil
	case OutputFormatYAML:
		return NewYAMLFormatter(), nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s (supported: table, json, yaml)", format)
	}
}

func ParseOutputFormat(s string) (OutputFormat, error) {
	format := OutputFormat(strings.ToLower(strings.TrimSpace(s)))
	switch format {
	case OutputFormatTable, OutputFormatJSON, OutputFormatYAML:
		return format, nil
	default:
		return "", fmt.Errorf("invalid output format: %s (supported: table, json, yaml)", s)
	}
}

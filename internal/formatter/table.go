package formatter

import (
	"strings"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"

	"github.com/harunnryd/warden/internal/security/hitl"
)

const timeLayout = "2006-01-02 15:04:05"

type TableFormatter struct {
	headerStyle  lipgloss.Style
	oddRowStyle  lipgloss.Style
	evenRowStyle lipgloss.Style
	pendingStyle lipgloss.Style
	borderStyle  lipgloss.Style
}

func NewTableFormatter() *TableFormatter {
	purple := lipgloss.Color("99")
	gray := lipgloss.Color("245")
	lightGray := lipgloss.Color("241")
	amber := lipgloss.Color("214")

	return &TableFormatter{
		headerStyle: lipgloss.NewStyle().
			Foreground(purple).
			Bold(true).
			Align(lipgloss.Center).
			Padding(0, 1),
		oddRowStyle: lipgloss.NewStyle().
			Foreground(gray).
			Padding(0, 1),
		evenRowStyle: lipgloss.NewStyle().
			Foreground(lightGray).
			Padding(0, 1),
		pendingStyle: lipgloss.NewStyle().
			Foreground(amber).
			Bold(true).
			Padding(0, 1),
		borderStyle: lipgloss.NewStyle().
			Foreground(purple),
	}
}

func (f *TableFormatter) FormatApprovals(reqs []hitl.ApprovalRequest) (string, error) {
	if len(reqs) == 0 {
		return "No approval requests", nil
	}

	views := NewApprovalViews(reqs)
	const statusCol = 3

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(f.borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return f.headerStyle
			case col == statusCol && row >= 0 && row < len(views) && views[row].Status == string(hitl.StatusPending):
				return f.pendingStyle
			case row%2 == 0:
				return f.evenRowStyle
			default:
				return f.oddRowStyle
			}
		}).
		Headers("Request ID", "Tool", "Requested By", "Status", "Rationale", "Created")

	for _, v := range views {
		t.Row(
			truncateString(v.RequestID, 36),
			v.ToolName,
			v.RequestedBy,
			v.Status,
			truncateString(v.Rationale, 30),
			v.CreatedAt.Format(timeLayout),
		)
	}

	return t.String(), nil
}

func (f *TableFormatter) FormatPolicy(view PolicyView) (string, error) {
	roles := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(f.borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow || col == 0 {
				return f.headerStyle
			}
			return f.evenRowStyle
		}).
		Headers("Role", "Permissions")
	for _, r := range view.Roles {
		roles.Row(r.Name, strings.Join(r.Permissions, ", "))
	}

	var b strings.Builder
	b.WriteString(roles.String())

	if len(view.HITLRules) > 0 {
		rules := table.New().
			Border(lipgloss.RoundedBorder()).
			BorderStyle(f.borderStyle).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return f.headerStyle
				}
				return f.evenRowStyle
			}).
			Headers("Role", "Tool", "HITL")
		for _, r := range view.HITLRules {
			hitlCell := "no"
			if r.HITLRequired {
				hitlCell = "yes"
			}
			rules.Row(r.Role, r.Tool, hitlCell)
		}
		b.WriteString("\n")
		b.WriteString(rules.String())
	}

	return b.String(), nil
}

func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}

// Package rbac is the source of truth for which role may perform which action.
package rbac

import (
	"context"
	"sort"
	"sync"

	"github.com/harunnryd/warden/internal/audit"
)

const (
	RoleAdmin    = "admin"
	RoleEmployee = "employee"
	RoleAuditor  = "auditor"
)

type RoleDefinition struct {
	Name        string              `json:"name" yaml:"name"`
	Permissions map[string]struct{} `json:"-" yaml:"-"`
}

func NewRole(name string, permissions ...string) RoleDefinition {
	set := make(map[string]struct{}, len(permissions))
	for _, p := range permissions {
		set[p] = struct{}{}
	}
	return RoleDefinition{Name: name, Permissions: set}
}

// Actions returns the sorted permission list.
func (r RoleDefinition) Actions() []string {
	out := make([]string, 0, len(r.Permissions))
	for p := range r.Permissions {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func DefaultRoles() []RoleDefinition {
	return []RoleDefinition{
		NewRole(RoleAdmin, "review", "issue_reimbursement", "update_bank_account", "send", "upload", "retrieve", "search", "list", "filter"),
		NewRole(RoleEmployee, "submit", "send", "upload", "retrieve", "search", "list", "filter"),
		NewRole(RoleAuditor, "fetch_audit_log"),
	}
}

type Service struct {
	mu    sync.RWMutex
	roles map[string]RoleDefinition
	audit audit.Logger
}

func NewService(auditLog audit.Logger, roles ...RoleDefinition) *Service {
	if auditLog == nil {
		auditLog = audit.Nop()
	}
	if len(roles) == 0 {
		roles = DefaultRoles()
	}
	s := &Service{
		roles: make(map[string]RoleDefinition, len(roles)),
		audit: auditLog,
	}
	for _, r := range roles {
		s.roles[r.Name] = r
	}
	return s
}

// CheckPermission reports whether role holds action. Role names are case-sensitive
// and unknown roles never hold anything.
func (s *Service) CheckPermission(ctx context.Context, role, action string) bool {
	s.mu.RLock()
	def, ok := s.roles[role]
	s.mu.RUnlock()

	if !ok {
		s.audit.Security(ctx, audit.SeverityWarning, "unknown_role", map[string]any{"role": role, "action": action})
		return false
	}
	if _, allowed := def.Permissions[action]; !allowed {
		s.audit.Security(ctx, audit.SeverityWarning, "permission_denied", map[string]any{"role": role, "action": action})
		return false
	}
	return true
}

// Roles lists the role definitions sorted by name.
func (s *Service) Roles() []RoleDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]RoleDefinition, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

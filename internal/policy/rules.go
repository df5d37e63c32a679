package policy

import (
	"fmt"
	"strings"

	"github.com/harunnryd/warden/internal/config"
)

// Rule marks a (role, action) pair that needs a human decision before it runs.
type Rule struct {
	Role         string `json:"role" yaml:"role"`
	Tool         string `json:"tool" yaml:"tool"`
	HITLRequired bool   `json:"hitl_required" yaml:"hitl_required"`
}

func RulesFromConfig(cfg []config.HITLRule) []Rule {
	rules := make([]Rule, 0, len(cfg))
	for _, r := range cfg {
		rules = append(rules, Rule{Role: r.Role, Tool: r.Tool, HITLRequired: r.HITLRequired})
	}
	return rules
}

func DefaultRules() []Rule {
	return RulesFromConfig(config.DefaultHITLRules())
}

// ValidateRules rejects rules that could never match.
func ValidateRules(rules []Rule, knownRoles []string) error {
	known := make(map[string]struct{}, len(knownRoles))
	for _, r := range knownRoles {
		known[r] = struct{}{}
	}

	for i, rule := range rules {
		if strings.TrimSpace(rule.Role) == "" {
			return fmt.Errorf("hitl rule %d: role cannot be empty", i)
		}
		if strings.TrimSpace(rule.Tool) == "" {
			return fmt.Errorf("hitl rule %d: tool cannot be empty", i)
		}
		if len(known) > 0 {
			if _, ok := known[rule.Role]; !ok {
				return fmt.Errorf("hitl rule %d: unknown role %q", i, rule.Role)
			}
		}
	}
	return nil
}

func (r Rule) matches(action, role string) bool {
	return r.HITLRequired && r.Tool == action && r.Role == role
}

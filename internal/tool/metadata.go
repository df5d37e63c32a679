package tool

import (
	"sort"
	"strings"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

type Metadata struct {
	Description string    `json:"description"`
	Actions     []string  `json:"actions"`
	Risk        RiskLevel `json:"risk"`
}

type MetadataProvider interface {
	ToolMetadata() Metadata
}

type Descriptor struct {
	Name     string   `json:"name"`
	Signed   bool     `json:"signed"`
	Metadata Metadata `json:"metadata"`
}

func normalizeToolMetadata(meta Metadata) Metadata {
	risk := RiskLevel(strings.TrimSpace(strings.ToLower(string(meta.Risk))))
	switch risk {
	case RiskLow, RiskMedium, RiskHigh:
	default:
		risk = RiskMedium
	}

	seen := make(map[string]struct{}, len(meta.Actions))
	actions := make([]string, 0, len(meta.Actions))
	for _, action := range meta.Actions {
		normalized := strings.TrimSpace(strings.ToLower(action))
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		actions = append(actions, normalized)
	}
	sort.Strings(actions)

	return Metadata{
		Description: strings.TrimSpace(meta.Description),
		Actions:     actions,
		Risk:        risk,
	}
}

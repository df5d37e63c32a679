package formatter

import (
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/harunnryd/warden/internal/security/hitl"
)

type YAMLFormatter struct{}

func NewYAMLFormatter() *YAMLFormatter {
	return &YAMLFormatter{}
}

func (f *YAMLFormatter) FormatApprovals(reqs []hitl.ApprovalRequest) (string, error) {
	return marshalYAML(NewApprovalViews(reqs))
}

func (f *YAMLFormatter) FormatPolicy(view PolicyView) (string, error) {
	return marshalYAML(view)
}

func marshalYAML(v any) (string, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

package formatter

import (
	"encoding/json"

	"github.com/harunnryd/warden/internal/security/hitl"
)

type JSONFormatter struct{}

func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{}
}

func (f *JSONFormatter) FormatApprovals(reqs []hitl.ApprovalRequest) (string, error) {
	return marshalJSON(NewApprovalViews(reqs))
}

func (f *JSONFormatter) FormatPolicy(view PolicyView) (string, error) {
	return marshalJSON(view)
}

func marshalJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

package cognitive

import (
	"log/slog"
	"sort"
	"strings"
)

const defaultStatus = "ok"

// Aggregator groups step outputs by tool. It holds no state.
type Aggregator struct{}

func NewAggregator() *Aggregator {
	return &Aggregator{}
}

func (a *Aggregator) Synthesize(responses []AgentResponse) Result {
	slog.Debug("aggregating_responses", "count", len(responses))

	grouped := make(map[string][]Detail)
	raw := make([]map[string]any, 0, len(responses))
	for _, resp := range responses {
		grouped[resp.Tool] = append(grouped[resp.Tool], Detail{Output: resp.Output, Rationale: resp.Rationale})
		raw = append(raw, resp.Output)
	}

	summary := make(map[string]ToolSummary, len(grouped))
	for toolName, details := range grouped {
		summary[toolName] = summarize(details)
	}
	return Result{Summary: summary, Raw: raw}
}

func summarize(details []Detail) ToolSummary {
	if len(details) == 0 {
		return ToolSummary{Status: "no-output"}
	}
	seen := make(map[string]struct{})
	for _, d := range details {
		status, _ := d.Output["status"].(string)
		if status == "" {
			status = defaultStatus
		}
		seen[status] = struct{}{}
	}
	statuses := make([]string, 0, len(seen))
	for s := range seen {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	return ToolSummary{Status: strings.Join(statuses, " & "), Details: details}
}

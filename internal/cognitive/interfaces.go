// Package cognitive turns a request into planned agent steps and folds the agents' outputs back into one result.
package cognitive

import "context"

// Planner produces the ordered steps for one request.
// Implementations must never fail and must return at least one step.
type Planner interface {
	Plan(ctx context.Context, request string, data map[string]any) []PlannedStep
}

// PlannedStep is one agent invocation. Steps run in order; later steps may depend on earlier side effects.
type PlannedStep struct {
	Agent     string         `json:"agent" yaml:"agent"`
	Action    string         `json:"action" yaml:"action"`
	Params    map[string]any `json:"params" yaml:"params"`
	Rationale string         `json:"rationale" yaml:"rationale"`
}

// Payload is what the router receives: the action, the params and the rationale in one map.
func (s PlannedStep) Payload() map[string]any {
	payload := make(map[string]any, len(s.Params)+2)
	for k, v := range s.Params {
		payload[k] = v
	}
	payload["action"] = s.Action
	payload["rationale"] = s.Rationale
	return payload
}

// AgentResponse is recorded after each successful dispatch.
type AgentResponse struct {
	Tool      string         `json:"tool"`
	Output    map[string]any `json:"output"`
	Rationale string         `json:"rationale"`
}

type Detail struct {
	Output    map[string]any `json:"output"`
	Rationale string         `json:"rationale"`
}

type ToolSummary struct {
	Status  string   `json:"status"`
	Details []Detail `json:"details,omitempty"`
}

// Result is the synthesized answer for one request.
type Result struct {
	Summary map[string]ToolSummary `json:"summary"`
	Raw     []map[string]any       `json:"raw"`
}

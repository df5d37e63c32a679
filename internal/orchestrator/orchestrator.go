// Package orchestrator runs one request end to end: plan, dispatch each step in order, aggregate.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/oklog/ulid/v2"

	"github.com/harunnryd/warden/internal/anomaly"
	"github.com/harunnryd/warden/internal/audit"
	"github.com/harunnryd/warden/internal/cognitive"
	wardenErrors "github.com/harunnryd/warden/internal/errors"
	"github.com/harunnryd/warden/internal/logger"
	"github.com/harunnryd/warden/internal/metrics"
	"github.com/harunnryd/warden/internal/orchestrator/session"
)

type State string

const (
	StatePlanning    State = "planning"
	StateExecuting   State = "executing"
	StateAggregating State = "aggregating"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// Dispatcher is satisfied by tool.Router.
type Dispatcher interface {
	Dispatch(ctx context.Context, sessionID, toolName string, payload map[string]any, role string) (map[string]any, error)
}

// Transition is reported to the Observer on every state change. Step is 1-based while executing.
type Transition struct {
	SessionID string
	State     State
	Step      int
	Total     int
}

type Options struct {
	Planner         cognitive.Planner
	Aggregator      *cognitive.Aggregator
	Router          Dispatcher
	Sessions        *session.Store
	Instrumentation *anomaly.Instrumentation
	Audit           audit.Logger
	Metrics         *metrics.Metrics
	Observer        func(Transition)
}

// StepError aborts a plan. Steps before Index already ran and their side effects stay in place.
type StepError struct {
	Index     int
	Total     int
	Agent     string
	Action    string
	Completed []cognitive.AgentResponse
	Err       error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d/%d (%s.%s) failed: %v", e.Index+1, e.Total, e.Agent, e.Action, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

type Orchestrator struct {
	planner    cognitive.Planner
	aggregator *cognitive.Aggregator
	router     Dispatcher
	sessions   *session.Store
	instrument *anomaly.Instrumentation
	audit      audit.Logger
	metrics    *metrics.Metrics
	observer   func(Transition)
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Router == nil {
		return nil, wardenErrors.InvalidInput("orchestrator: router is required")
	}
	o := &Orchestrator{
		planner:    opts.Planner,
		aggregator: opts.Aggregator,
		router:     opts.Router,
		sessions:   opts.Sessions,
		instrument: opts.Instrumentation,
		audit:      opts.Audit,
		metrics:    opts.Metrics,
		observer:   opts.Observer,
	}
	if o.planner == nil {
		o.planner = cognitive.NewHeuristicPlanner()
	}
	if o.aggregator == nil {
		o.aggregator = cognitive.NewAggregator()
	}
	if o.sessions == nil {
		o.sessions = session.NewStore(session.Options{})
	}
	if o.instrument == nil {
		o.instrument = anomaly.NewInstrumentation(anomaly.NewDetector(anomaly.Options{Audit: o.audit}))
	}
	if o.audit == nil {
		o.audit = audit.Nop()
	}
	return o, nil
}

func (o *Orchestrator) Sessions() *session.Store {
	return o.sessions
}

// HandleRequest is serialized per session. The first failing step aborts the rest of the plan
// and is returned as a *StepError; nothing already done is rolled back.
func (o *Orchestrator) HandleRequest(ctx context.Context, sessionID, role, request string, data map[string]any) (cognitive.Result, error) {
	if logger.GetTraceID(ctx) == "" {
		ctx = logger.WithTraceID(ctx, ulid.Make().String())
	}
	ctx = logger.WithSessionID(ctx, sessionID)
	ctx = logger.WithRole(ctx, role)

	var result cognitive.Result
	err := o.sessions.WithSession(sessionID, func() error {
		var err error
		result, err = o.handle(ctx, sessionID, role, request, data)
		return err
	})
	return result, err
}

func (o *Orchestrator) handle(ctx context.Context, sessionID, role, request string, data map[string]any) (cognitive.Result, error) {
	o.audit.Audit(ctx, "request_received", map[string]any{"session_id": sessionID, "role": role})
	o.sessions.AppendMessage(sessionID, session.RoleUser, request)

	o.transition(Transition{SessionID: sessionID, State: StatePlanning})
	steps := o.planner.Plan(ctx, request, data)

	responses := make([]cognitive.AgentResponse, 0, len(steps))
	for i, step := range steps {
		o.transition(Transition{SessionID: sessionID, State: StateExecuting, Step: i + 1, Total: len(steps)})

		payload := step.Payload()
		output, err := o.instrument.Wrap(ctx, step.Agent, role, sessionID, func(ctx context.Context) (map[string]any, error) {
			return o.router.Dispatch(ctx, sessionID, step.Agent, payload, role)
		})
		if err != nil {
			stepErr := &StepError{
				Index:     i,
				Total:     len(steps),
				Agent:     step.Agent,
				Action:    step.Action,
				Completed: responses,
				Err:       err,
			}
			o.fail(ctx, sessionID, stepErr)
			return cognitive.Result{}, stepErr
		}
		responses = append(responses, cognitive.AgentResponse{Tool: step.Agent, Output: output, Rationale: step.Rationale})
	}

	o.transition(Transition{SessionID: sessionID, State: StateAggregating, Total: len(steps)})
	result := o.aggregator.Synthesize(responses)

	o.sessions.AppendMessage(sessionID, session.RoleSystem, render(result))
	o.audit.Audit(ctx, "response_generated", map[string]any{"session_id": sessionID, "steps": len(responses)})
	o.transition(Transition{SessionID: sessionID, State: StateDone, Total: len(steps)})
	o.metrics.ObserveRequest(string(StateDone))
	return result, nil
}

func (o *Orchestrator) fail(ctx context.Context, sessionID string, stepErr *StepError) {
	slog.Warn("Plan aborted", "session_id", sessionID, "step", stepErr.Index+1, "action", stepErr.Action, "error", stepErr.Err)
	o.audit.Audit(ctx, "request_failed", map[string]any{
		"session_id":      sessionID,
		"step":            stepErr.Index + 1,
		"action":          stepErr.Action,
		"error_category":  wardenErrors.Category(stepErr.Err),
		"steps_completed": len(stepErr.Completed),
	})
	o.transition(Transition{SessionID: sessionID, State: StateFailed, Step: stepErr.Index + 1, Total: stepErr.Total})
	o.metrics.ObserveRequest(string(StateFailed))
}

func (o *Orchestrator) transition(t Transition) {
	slog.Debug("Request state", "session_id", t.SessionID, "state", t.State, "step", t.Step, "total", t.Total)
	if o.observer != nil {
		o.observer(t)
	}
}

func render(result cognitive.Result) string {
	b, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(b)
}

package anomaly

import "context"

// Handler is the wrapped unit of work, normally a router dispatch.
type Handler func(ctx context.Context) (map[string]any, error)

type Instrumentation struct {
	detector *Detector
}

func NewInstrumentation(detector *Detector) *Instrumentation {
	return &Instrumentation{detector: detector}
}

// Wrap records the attempt, then runs handler. The event is recorded even if handler fails.
func (i *Instrumentation) Wrap(ctx context.Context, toolName, role, sessionID string, handler Handler) (map[string]any, error) {
	i.detector.RecordEvent(ctx, toolName, role, sessionID)
	return handler(ctx)
}

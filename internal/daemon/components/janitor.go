package components

import (
	"context"

	"github.com/harunnryd/warden/internal/daemon"
	"github.com/harunnryd/warden/internal/scheduler"
)

type JanitorComponent struct {
	janitor      *scheduler.Janitor
	dependencies []string
}

func NewJanitorComponent(j *scheduler.Janitor, dependencies ...string) *JanitorComponent {
	return &JanitorComponent{janitor: j, dependencies: dependencies}
}

func (c *JanitorComponent) Name() string           { return c.janitor.Name() }
func (c *JanitorComponent) Dependencies() []string { return c.dependencies }

func (c *JanitorComponent) Init(ctx context.Context) error {
	return nil
}

func (c *JanitorComponent) Start(ctx context.Context) error {
	return c.janitor.Start(ctx)
}

func (c *JanitorComponent) Stop(ctx context.Context) error {
	return c.janitor.Stop(ctx)
}

func (c *JanitorComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	if err := c.janitor.Health(ctx); err != nil {
		return &daemon.ComponentHealth{Name: c.Name(), Error: err}, nil
	}
	return &daemon.ComponentHealth{Name: c.Name(), Healthy: true}, nil
}

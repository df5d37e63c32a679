package runtime

import (
	"context"
	"fmt"

	"github.com/harunnryd/warden/internal/clock"
	"github.com/harunnryd/warden/internal/config"
	"github.com/harunnryd/warden/internal/metrics"
)

// Scope selects how much of the runtime a command needs.
type Scope int

const (
	// ScopeGovernance opens the audit log, approvals and policy only.
	ScopeGovernance Scope = iota
	// ScopeFull adds data stores, agents, the orchestrator and both servers.
	ScopeFull
)

type RuntimeBuilder interface {
	WithContext(ctx context.Context) RuntimeBuilder
	WithConfig(cfg *config.Config) RuntimeBuilder
	WithClock(c clock.Clock) RuntimeBuilder
	WithScope(scope Scope) RuntimeBuilder
	Build() (*Components, error)
}

type DefaultRuntimeBuilder struct {
	ctx   context.Context
	cfg   *config.Config
	clock clock.Clock
	scope Scope
}

func NewRuntimeBuilder() RuntimeBuilder {
	return &DefaultRuntimeBuilder{scope: ScopeFull}
}

func (b *DefaultRuntimeBuilder) WithContext(ctx context.Context) RuntimeBuilder {
	b.ctx = ctx
	return b
}

func (b *DefaultRuntimeBuilder) WithConfig(cfg *config.Config) RuntimeBuilder {
	b.cfg = cfg
	return b
}

func (b *DefaultRuntimeBuilder) WithClock(c clock.Clock) RuntimeBuilder {
	b.clock = c
	return b
}

func (b *DefaultRuntimeBuilder) WithScope(scope Scope) RuntimeBuilder {
	b.scope = scope
	return b
}

func (b *DefaultRuntimeBuilder) Build() (*Components, error) {
	if b.ctx == nil {
		b.ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	c := &Components{
		Config:  b.cfg,
		Clock:   clock.OrSystem(b.clock),
		Metrics: metrics.New(),
	}

	steps := []func() error{c.buildAudit, c.buildGovernance}
	if b.scope == ScopeFull {
		steps = append(steps,
			func() error { return c.buildData(b.ctx) },
			c.buildSigning,
			c.buildPipeline,
			func() error { return c.buildAuth(b.ctx) },
			c.buildServers,
			c.buildJanitor,
		)
	}

	for _, step := range steps {
		if err := step(); err != nil {
			_ = c.Close()
			return nil, err
		}
	}
	return c, nil
}

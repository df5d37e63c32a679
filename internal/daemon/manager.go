// Package daemon runs the warden server components under one lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

const (
	DefaultShutdownTimeout     = 10 * time.Second
	DefaultHealthCheckInterval = 30 * time.Second
)

type Options struct {
	ShutdownTimeout     time.Duration
	HealthCheckInterval time.Duration
}

type Daemon struct {
	name            string
	opts            Options
	components      []Component
	order           []string
	health          HealthStatus
	startedAt       time.Time
	mu              sync.RWMutex
	healthCheckDone chan struct{}
}

func NewDaemon(name string, opts Options) (*Daemon, error) {
	if name == "" {
		return nil, fmt.Errorf("daemon name cannot be empty")
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	if opts.HealthCheckInterval <= 0 {
		opts.HealthCheckInterval = DefaultHealthCheckInterval
	}

	return &Daemon{
		name:            name,
		opts:            opts,
		health:          StatusStarting,
		healthCheckDone: make(chan struct{}),
	}, nil
}

func (d *Daemon) AddComponent(comp Component) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.components = append(d.components, comp)
	slog.Info("Component registered", "component", comp.Name(), "total_components", len(d.components))
}

// Start brings every component up and blocks until ctx is cancelled or the
// process receives SIGINT/SIGTERM, then shuts down in reverse order.
func (d *Daemon) Start(ctx context.Context) error {
	slog.Info("Warden daemon starting...", "name", d.name)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	order, err := d.resolveOrder()
	if err != nil {
		d.setHealth(StatusStopped)
		return fmt.Errorf("component ordering failed: %w", err)
	}
	d.mu.Lock()
	d.order = order
	d.mu.Unlock()

	initialized, err := d.initializeComponents(ctx, order)
	if err != nil {
		d.rollback(initialized)
		return fmt.Errorf("component initialization failed: %w", err)
	}

	if err := d.startComponents(ctx, order); err != nil {
		_ = d.gracefulShutdown(context.Background())
		return fmt.Errorf("component startup failed: %w", err)
	}

	d.mu.Lock()
	d.health = StatusRunning
	d.startedAt = time.Now()
	d.mu.Unlock()
	slog.Info("Warden daemon is running", "name", d.name, "components", len(order))

	go d.startHealthMonitor(ctx)

	<-ctx.Done()

	slog.Info("Context cancelled, initiating graceful shutdown", "name", d.name, "reason", ctx.Err())
	d.setHealth(StatusStopping)
	close(d.healthCheckDone)

	return d.gracefulShutdown(context.Background())
}

func (d *Daemon) Health() HealthStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.health
}

func (d *Daemon) Uptime() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.startedAt.IsZero() {
		return 0
	}
	return time.Since(d.startedAt)
}

func (d *Daemon) ComponentHealth() map[string]*ComponentHealth {
	d.mu.RLock()
	components := make([]Component, len(d.components))
	copy(components, d.components)
	d.mu.RUnlock()

	result := make(map[string]*ComponentHealth, len(components))
	for _, comp := range components {
		health, err := comp.Health(context.Background())
		if health == nil {
			health = &ComponentHealth{Name: comp.Name()}
		}
		if err != nil {
			health.Healthy = false
			health.Error = err
		}
		result[comp.Name()] = health
	}
	return result
}

func (d *Daemon) Component(name string) Component {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.componentLocked(name)
}

func (d *Daemon) componentLocked(name string) Component {
	for _, comp := range d.components {
		if comp.Name() == name {
			return comp
		}
	}
	return nil
}

func (d *Daemon) setHealth(status HealthStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.health = status
}

func (d *Daemon) initializeComponents(ctx context.Context, order []string) ([]Component, error) {
	var initialized []Component
	for _, name := range order {
		comp := d.Component(name)
		slog.Info("Initializing component...", "component", name)
		if err := comp.Init(ctx); err != nil {
			slog.Error("Component initialization failed", "component", name, "error", err)
			return initialized, fmt.Errorf("component %s init failed: %w", name, err)
		}
		initialized = append(initialized, comp)
	}
	slog.Info("All components initialized", "count", len(initialized))
	return initialized, nil
}

func (d *Daemon) startComponents(ctx context.Context, order []string) error {
	for _, name := range order {
		comp := d.Component(name)
		if err := comp.Start(ctx); err != nil {
			slog.Error("Component startup failed", "component", name, "error", err)
			return fmt.Errorf("component %s startup failed: %w", name, err)
		}
		slog.Info("Component started", "component", name)
	}
	return nil
}

func (d *Daemon) gracefulShutdown(parent context.Context) error {
	slog.Info("Graceful shutdown initiated", "name", d.name, "timeout", d.opts.ShutdownTimeout)

	ctx, cancel := context.WithTimeout(parent, d.opts.ShutdownTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- d.shutdownComponents(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			slog.Error("Shutdown completed with error", "name", d.name, "error", err)
		} else {
			slog.Info("Graceful shutdown completed", "name", d.name)
		}
		return err
	case <-ctx.Done():
		slog.Error("Shutdown timeout exceeded", "name", d.name, "timeout", d.opts.ShutdownTimeout)
		return fmt.Errorf("shutdown timeout after %v", d.opts.ShutdownTimeout)
	}
}

func (d *Daemon) shutdownComponents(ctx context.Context) error {
	d.mu.RLock()
	order := append([]string(nil), d.order...)
	d.mu.RUnlock()

	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		comp := d.Component(order[i])
		if comp == nil {
			continue
		}
		if err := comp.Stop(ctx); err != nil {
			slog.Error("Component stop failed", "component", order[i], "error", err)
			errs = append(errs, fmt.Errorf("stop %s: %w", order[i], err))
			continue
		}
		slog.Info("Component stopped", "component", order[i])
	}

	d.setHealth(StatusStopped)
	return errors.Join(errs...)
}

// rollback stops only what finished Init, newest first.
func (d *Daemon) rollback(initialized []Component) {
	slog.Warn("Rolling back initialized components...", "name", d.name, "count", len(initialized))

	ctx, cancel := context.WithTimeout(context.Background(), d.opts.ShutdownTimeout)
	defer cancel()
	for i := len(initialized) - 1; i >= 0; i-- {
		if err := initialized[i].Stop(ctx); err != nil {
			slog.Error("Rollback failed", "component", initialized[i].Name(), "error", err)
		}
	}
	d.setHealth(StatusStopped)
}

func (d *Daemon) startHealthMonitor(ctx context.Context) {
	ticker := time.NewTicker(d.opts.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.healthCheckDone:
			return
		case <-ticker.C:
			d.checkComponentHealth()
		}
	}
}

func (d *Daemon) checkComponentHealth() int {
	healths := d.ComponentHealth()
	unhealthy := 0
	for name, health := range healths {
		if !health.Healthy {
			unhealthy++
			slog.Warn("Component unhealthy", "component", name, "error", health.Error)
		}
	}
	if unhealthy > 0 {
		slog.Warn("Daemon has unhealthy components", "count", unhealthy, "total", len(healths))
	} else {
		slog.Debug("All components healthy", "count", len(healths))
	}
	return unhealthy
}

// resolveOrder returns component names with dependencies first, keeping
// registration order among independent components.
func (d *Daemon) resolveOrder() ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, comp := range d.components {
		for _, dep := range comp.Dependencies() {
			if d.componentLocked(dep) == nil {
				return nil, fmt.Errorf("component %s depends on %s which is not registered", comp.Name(), dep)
			}
		}
	}

	visited := make(map[string]bool)
	visiting := make(map[string]bool)
	order := make([]string, 0, len(d.components))

	var visit func(name string) error
	visit = func(name string) error {
		if visiting[name] {
			return fmt.Errorf("circular dependency detected involving %s", name)
		}
		if visited[name] {
			return nil
		}
		visiting[name] = true
		for _, dep := range d.componentLocked(name).Dependencies() {
			if err := visit(dep); err != nil {
				return err
			}
		}
		visiting[name] = false
		visited[name] = true
		order = append(order, name)
		return nil
	}

	for _, comp := range d.components {
		if err := visit(comp.Name()); err != nil {
			return nil, err
		}
	}
	return order, nil
}

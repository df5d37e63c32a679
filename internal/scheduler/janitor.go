// Package scheduler runs periodic housekeeping over the in-memory governance state.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/harunnryd/warden/internal/audit"
	"github.com/harunnryd/warden/internal/clock"
	wardenErrors "github.com/harunnryd/warden/internal/errors"
)

const DefaultSchedule = "@every 1m"

// SweepFunc removes expired state and reports how many entries it dropped.
type SweepFunc func(ctx context.Context) (int, error)

// Count adapts a plain prune method.
func Count(fn func() int) SweepFunc {
	return func(context.Context) (int, error) { return fn(), nil }
}

type sweep struct {
	name string
	fn   SweepFunc
}

type Options struct {
	Schedule string
	Clock    clock.Clock
	Audit    audit.Logger
}

// Report is the outcome of one janitor pass.
type Report struct {
	At      time.Time
	Removed map[string]int
	Errors  map[string]string
}

type Janitor struct {
	mu       sync.Mutex
	schedule string
	sweeps   []sweep
	cron     *cron.Cron
	running  bool
	last     Report
	clock    clock.Clock
	audit    audit.Logger
}

func NewJanitor(opts Options) (*Janitor, error) {
	schedule := opts.Schedule
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, wardenErrors.InvalidInput(fmt.Sprintf("janitor schedule %q: %v", schedule, err))
	}
	j := &Janitor{schedule: schedule, clock: clock.OrSystem(opts.Clock), audit: opts.Audit}
	if j.audit == nil {
		j.audit = audit.Nop()
	}
	return j, nil
}

// Register adds a sweep. Sweeps run in registration order.
func (j *Janitor) Register(name string, fn SweepFunc) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.sweeps = append(j.sweeps, sweep{name: name, fn: fn})
}

func (j *Janitor) Name() string {
	return "Janitor"
}

func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return nil
	}

	j.cron = cron.New(cron.WithChain(cron.Recover(cron.DiscardLogger)))
	if _, err := j.cron.AddFunc(j.schedule, func() { j.RunOnce(context.WithoutCancel(ctx)) }); err != nil {
		return fmt.Errorf("schedule janitor: %w", err)
	}
	j.cron.Start()
	j.running = true
	slog.Info("Janitor started", "schedule", j.schedule, "sweeps", len(j.sweeps))
	return nil
}

// Stop waits for a running pass to finish or ctx to expire.
func (j *Janitor) Stop(ctx context.Context) error {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return nil
	}
	j.running = false
	c := j.cron
	j.mu.Unlock()

	select {
	case <-c.Stop().Done():
		slog.Info("Janitor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Janitor) Health(context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.running {
		return wardenErrors.Internal("janitor not running")
	}
	return nil
}

// RunOnce runs every sweep now. A failing sweep does not stop the others.
func (j *Janitor) RunOnce(ctx context.Context) Report {
	j.mu.Lock()
	sweeps := append([]sweep(nil), j.sweeps...)
	j.mu.Unlock()

	report := Report{At: j.clock.Now().UTC(), Removed: map[string]int{}, Errors: map[string]string{}}
	total := 0
	for _, s := range sweeps {
		n, err := s.fn(ctx)
		if err != nil {
			slog.Warn("Janitor sweep failed", "sweep", s.name, "error", err)
			report.Errors[s.name] = err.Error()
			continue
		}
		report.Removed[s.name] = n
		total += n
	}

	if total > 0 || len(report.Errors) > 0 {
		j.audit.Audit(ctx, "janitor_sweep", map[string]any{"removed": report.Removed, "errors": sortedKeys(report.Errors)})
	}
	slog.Debug("Janitor pass complete", "removed", total)

	j.mu.Lock()
	j.last = report
	j.mu.Unlock()
	return report
}

func (j *Janitor) LastReport() Report {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.last
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

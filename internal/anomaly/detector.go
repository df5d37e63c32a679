// Package anomaly flags bursts of the same action by the same role inside a sliding window.
// Detection is advisory: it never blocks a dispatch.
package anomaly

import (
	"context"
	"sync"
	"time"

	"github.com/harunnryd/warden/internal/audit"
	"github.com/harunnryd/warden/internal/clock"
	"github.com/harunnryd/warden/internal/metrics"
)

const (
	DefaultWindow    = 300 * time.Second
	DefaultThreshold = 10
)

type ActionEvent struct {
	Timestamp time.Time
	ToolName  string
	Role      string
	SessionID string
}

type Options struct {
	Window    time.Duration
	Threshold int
	Clock     clock.Clock
	Audit     audit.Logger
	Alerts    *AlertManager
	Metrics   *metrics.Metrics
}

type Detector struct {
	mu        sync.Mutex
	events    []ActionEvent
	window    time.Duration
	threshold int
	clock     clock.Clock
	audit     audit.Logger
	alerts    *AlertManager
	metrics   *metrics.Metrics
}

func NewDetector(opts Options) *Detector {
	d := &Detector{
		window:    opts.Window,
		threshold: opts.Threshold,
		clock:     clock.OrSystem(opts.Clock),
		audit:     opts.Audit,
		alerts:    opts.Alerts,
		metrics:   opts.Metrics,
	}
	if d.window <= 0 {
		d.window = DefaultWindow
	}
	if d.threshold <= 0 {
		d.threshold = DefaultThreshold
	}
	if d.audit == nil {
		d.audit = audit.Nop()
	}
	return d
}

// RecordEvent appends the event, drops events older than the window and
// raises an alert when the (tool, role) count exceeds the threshold.
func (d *Detector) RecordEvent(ctx context.Context, toolName, role, sessionID string) {
	now := d.clock.Now()

	d.mu.Lock()
	d.events = append(d.events, ActionEvent{Timestamp: now, ToolName: toolName, Role: role, SessionID: sessionID})
	d.pruneLocked(now)
	count := d.countLocked(toolName, role)
	d.mu.Unlock()

	if count <= d.threshold {
		return
	}

	details := map[string]any{
		"tool":       toolName,
		"role":       role,
		"session_id": sessionID,
		"count":      count,
	}
	d.audit.Security(ctx, audit.SeverityWarning, "anomaly_detected", details)
	d.metrics.ObserveAnomaly(toolName, role)
	if d.alerts != nil {
		d.alerts.Raise(ctx, "anomaly_detected", audit.SeverityWarning, details)
	}
}

// Prune drops expired events; the janitor calls it so idle detectors do not hold memory.
func (d *Detector) Prune() int {
	now := d.clock.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	before := len(d.events)
	d.pruneLocked(now)
	return before - len(d.events)
}

// Count returns how many in-window events match (tool, role).
func (d *Detector) Count(toolName, role string) int {
	now := d.clock.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pruneLocked(now)
	return d.countLocked(toolName, role)
}

func (d *Detector) pruneLocked(now time.Time) {
	cutoff := now.Add(-d.window)
	i := 0
	for i < len(d.events) && d.events[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		d.events = append(d.events[:0:0], d.events[i:]...)
	}
}

func (d *Detector) countLocked(toolName, role string) int {
	count := 0
	for _, e := range d.events {
		if e.ToolName == toolName && e.Role == role {
			count++
		}
	}
	return count
}

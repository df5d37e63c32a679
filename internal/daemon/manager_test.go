package daemon

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type event struct {
	component string
	phase     string
}

type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) add(component, phase string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{component, phase})
}

func (r *recorder) phase(phase string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.phase == phase {
			out = append(out, e.component)
		}
	}
	return out
}

type mockComponent struct {
	name         string
	dependencies []string
	rec          *recorder
	initError    error
	startError   error
	stopError    error
	healthy      bool
}

func newMockComponent(rec *recorder, name string, dependencies ...string) *mockComponent {
	return &mockComponent{name: name, dependencies: dependencies, rec: rec, healthy: true}
}

func (m *mockComponent) Name() string           { return m.name }
func (m *mockComponent) Dependencies() []string { return m.dependencies }

func (m *mockComponent) Init(ctx context.Context) error {
	m.rec.add(m.name, "init")
	return m.initError
}

func (m *mockComponent) Start(ctx context.Context) error {
	m.rec.add(m.name, "start")
	return m.startError
}

func (m *mockComponent) Stop(ctx context.Context) error {
	m.rec.add(m.name, "stop")
	return m.stopError
}

func (m *mockComponent) Health(ctx context.Context) (*ComponentHealth, error) {
	return &ComponentHealth{Name: m.name, Healthy: m.healthy}, nil
}

func equal(a, b []string) bool {
	return strings.Join(a, ",") == strings.Join(b, ",")
}

func runUntilRunning(t *testing.T, d *Daemon) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for d.Health() != StatusRunning {
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("daemon never reached running, health = %s", d.Health())
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cancel, errCh
}

func TestNewDaemon(t *testing.T) {
	if _, err := NewDaemon("", Options{}); err == nil {
		t.Fatal("NewDaemon() with empty name should fail")
	}

	d, err := NewDaemon("warden", Options{})
	if err != nil {
		t.Fatalf("NewDaemon() error = %v", err)
	}
	if d.opts.ShutdownTimeout != DefaultShutdownTimeout {
		t.Errorf("shutdown timeout = %v, want %v", d.opts.ShutdownTimeout, DefaultShutdownTimeout)
	}
	if d.Health() != StatusStarting {
		t.Errorf("health = %s, want %s", d.Health(), StatusStarting)
	}
}

func TestResolveOrderPutsDependenciesFirst(t *testing.T) {
	rec := &recorder{}
	d, _ := NewDaemon("warden", Options{})
	d.AddComponent(newMockComponent(rec, "API", "DataDir", "Janitor"))
	d.AddComponent(newMockComponent(rec, "Janitor", "DataDir"))
	d.AddComponent(newMockComponent(rec, "DataDir"))

	order, err := d.resolveOrder()
	if err != nil {
		t.Fatalf("resolveOrder() error = %v", err)
	}
	if want := []string{"DataDir", "Janitor", "API"}; !equal(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestResolveOrderRejectsCyclesAndMissing(t *testing.T) {
	rec := &recorder{}
	d, _ := NewDaemon("warden", Options{})
	d.AddComponent(newMockComponent(rec, "A", "B"))
	d.AddComponent(newMockComponent(rec, "B", "A"))
	if _, err := d.resolveOrder(); err == nil || !strings.Contains(err.Error(), "circular") {
		t.Errorf("resolveOrder() error = %v, want circular dependency", err)
	}

	d2, _ := NewDaemon("warden", Options{})
	d2.AddComponent(newMockComponent(rec, "A", "Ghost"))
	if _, err := d2.resolveOrder(); err == nil || !strings.Contains(err.Error(), "not registered") {
		t.Errorf("resolveOrder() error = %v, want missing dependency", err)
	}
}

func TestStartRunsLifecycleInOrder(t *testing.T) {
	rec := &recorder{}
	d, _ := NewDaemon("warden", Options{ShutdownTimeout: time.Second})
	d.AddComponent(newMockComponent(rec, "API", "DataDir"))
	d.AddComponent(newMockComponent(rec, "DataDir"))

	cancel, errCh := runUntilRunning(t, d)
	if d.Uptime() < 0 {
		t.Error("uptime should be non-negative")
	}
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop")
	}

	if got := rec.phase("init"); !equal(got, []string{"DataDir", "API"}) {
		t.Errorf("init order = %v", got)
	}
	if got := rec.phase("start"); !equal(got, []string{"DataDir", "API"}) {
		t.Errorf("start order = %v", got)
	}
	if got := rec.phase("stop"); !equal(got, []string{"API", "DataDir"}) {
		t.Errorf("stop order = %v", got)
	}
	if d.Health() != StatusStopped {
		t.Errorf("health = %s, want stopped", d.Health())
	}
}

func TestInitFailureRollsBackInitialized(t *testing.T) {
	rec := &recorder{}
	d, _ := NewDaemon("warden", Options{})
	d.AddComponent(newMockComponent(rec, "DataDir"))
	bad := newMockComponent(rec, "API", "DataDir")
	bad.initError = errors.New("bind failed")
	d.AddComponent(bad)
	d.AddComponent(newMockComponent(rec, "Bus", "API"))

	err := d.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "bind failed") {
		t.Fatalf("Start() error = %v, want init failure", err)
	}
	if got := rec.phase("stop"); !equal(got, []string{"DataDir"}) {
		t.Errorf("rollback stopped %v, want only DataDir", got)
	}
	if got := rec.phase("start"); len(got) != 0 {
		t.Errorf("nothing should start, got %v", got)
	}
}

func TestStartFailureShutsDown(t *testing.T) {
	rec := &recorder{}
	d, _ := NewDaemon("warden", Options{ShutdownTimeout: time.Second})
	d.AddComponent(newMockComponent(rec, "DataDir"))
	bad := newMockComponent(rec, "API", "DataDir")
	bad.startError = errors.New("listen: address in use")
	d.AddComponent(bad)

	err := d.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "address in use") {
		t.Fatalf("Start() error = %v", err)
	}
	if got := rec.phase("stop"); !equal(got, []string{"API", "DataDir"}) {
		t.Errorf("stop order = %v", got)
	}
}

func TestShutdownJoinsStopErrors(t *testing.T) {
	rec := &recorder{}
	d, _ := NewDaemon("warden", Options{ShutdownTimeout: time.Second})
	a := newMockComponent(rec, "A")
	a.stopError = errors.New("flush failed")
	d.AddComponent(a)
	d.AddComponent(newMockComponent(rec, "B"))

	cancel, errCh := runUntilRunning(t, d)
	cancel()

	err := <-errCh
	if err == nil || !strings.Contains(err.Error(), "stop A: flush failed") {
		t.Fatalf("Start() error = %v", err)
	}
	if got := rec.phase("stop"); !equal(got, []string{"B", "A"}) {
		t.Errorf("stop order = %v", got)
	}
}

func TestCheckComponentHealthCountsUnhealthy(t *testing.T) {
	rec := &recorder{}
	d, _ := NewDaemon("warden", Options{})
	sick := newMockComponent(rec, "Bus")
	sick.healthy = false
	d.AddComponent(newMockComponent(rec, "API"))
	d.AddComponent(sick)

	if got := d.checkComponentHealth(); got != 1 {
		t.Errorf("unhealthy = %d, want 1", got)
	}
	healths := d.ComponentHealth()
	if !healths["API"].Healthy || healths["Bus"].Healthy {
		t.Errorf("unexpected health map: %+v", healths)
	}
}

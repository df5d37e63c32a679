package anomaly

import (
	"context"
	"sync"
	"time"

	"github.com/harunnryd/warden/internal/audit"
	"github.com/harunnryd/warden/internal/clock"
)

// DefaultAlertHistory bounds how many raised alerts List keeps.
const DefaultAlertHistory = 1000

type Alert struct {
	Event    string         `json:"event"`
	Severity string         `json:"severity"`
	Details  map[string]any `json:"details"`
	RaisedAt time.Time      `json:"raised_at"`
}

// AlertManager keeps raised alerts and fans them out to subscribers.
type AlertManager struct {
	mu          sync.Mutex
	alerts      []Alert
	limit       int
	subscribers map[chan Alert]struct{}
	clock       clock.Clock
	audit       audit.Logger
}

func NewAlertManager(auditLog audit.Logger, c clock.Clock) *AlertManager {
	if auditLog == nil {
		auditLog = audit.Nop()
	}
	return &AlertManager{
		audit:       auditLog,
		clock:       clock.OrSystem(c),
		limit:       DefaultAlertHistory,
		subscribers: make(map[chan Alert]struct{}),
	}
}

func (m *AlertManager) Raise(ctx context.Context, event, severity string, details map[string]any) {
	alert := Alert{Event: event, Severity: severity, Details: details, RaisedAt: m.clock.Now().UTC()}

	m.mu.Lock()
	m.alerts = append(m.alerts, alert)
	if over := len(m.alerts) - m.limit; over > 0 {
		m.alerts = append(m.alerts[:0:0], m.alerts[over:]...)
	}
	// Sends happen under the lock so an unsubscribe never races a send on a closed channel.
	// Slow subscribers miss alerts rather than stall the dispatch path.
	for ch := range m.subscribers {
		select {
		case ch <- alert:
		default:
		}
	}
	m.mu.Unlock()

	m.audit.Audit(ctx, "alert_raised", map[string]any{"event": event, "severity": severity, "details": details})
}

// List returns the retained alerts, oldest first.
func (m *AlertManager) List() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}

// Subscribe returns a buffered channel receiving future alerts and a cancel
// func that unsubscribes and closes the channel.
func (m *AlertManager) Subscribe(buffer int) (<-chan Alert, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Alert, buffer)
	m.mu.Lock()
	m.subscribers[ch] = struct{}{}
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subscribers, ch)
			m.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

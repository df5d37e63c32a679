// Package audit writes the audit and security event streams as JSON lines.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/warden/internal/clock"
	"github.com/harunnryd/warden/internal/logger"
)

type Stream string

const (
	StreamAudit    Stream = "audit"
	StreamSecurity Stream = "security"
)

const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

const redactedValue = "***REDACTED***"

type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Stream    Stream         `json:"stream"`
	Severity  string         `json:"severity"`
	Event     string         `json:"event"`
	TraceID   string         `json:"trace_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

type Filter struct {
	Event     string
	Severity  string
	SessionID string
	StartTime time.Time
	EndTime   time.Time
}

// Logger is what the pipeline components depend on. Write failures are reported through slog and never returned.
type Logger interface {
	Audit(ctx context.Context, event string, fields map[string]any)
	Security(ctx context.Context, severity, event string, fields map[string]any)
}

type Options struct {
	Dir            string
	AuditFile      string
	SecurityFile   string
	RedactKeywords []string
	Clock          clock.Clock
}

type FileLogger struct {
	mu             sync.RWMutex
	paths          map[Stream]string
	redactKeywords []string
	clock          clock.Clock
}

func NewFileLogger(opts Options) (*FileLogger, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("audit log dir is required")
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create audit log dir: %w", err)
	}

	auditFile := opts.AuditFile
	if auditFile == "" {
		auditFile = "audit.jsonl"
	}
	securityFile := opts.SecurityFile
	if securityFile == "" {
		securityFile = "security.jsonl"
	}

	keywords := make([]string, 0, len(opts.RedactKeywords))
	for _, kw := range opts.RedactKeywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			keywords = append(keywords, kw)
		}
	}

	return &FileLogger{
		paths: map[Stream]string{
			StreamAudit:    filepath.Join(opts.Dir, auditFile),
			StreamSecurity: filepath.Join(opts.Dir, securityFile),
		},
		redactKeywords: keywords,
		clock:          clock.OrSystem(opts.Clock),
	}, nil
}

func (l *FileLogger) Audit(ctx context.Context, event string, fields map[string]any) {
	l.emit(ctx, &Entry{Stream: StreamAudit, Severity: SeverityInfo, Event: event, Fields: fields})
}

func (l *FileLogger) Security(ctx context.Context, severity, event string, fields map[string]any) {
	if severity == "" {
		severity = SeverityInfo
	}
	l.emit(ctx, &Entry{Stream: StreamSecurity, Severity: severity, Event: event, Fields: fields})
}

func (l *FileLogger) emit(ctx context.Context, entry *Entry) {
	if err := l.Log(ctx, entry); err != nil {
		slog.Error("Failed to write event log", "stream", entry.Stream, "event", entry.Event, "error", err)
	}
}

// Log appends entry to its stream after redaction.
func (l *FileLogger) Log(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("audit entry cannot be nil")
	}
	path, ok := l.paths[entry.Stream]
	if !ok {
		return fmt.Errorf("unknown audit stream %q", entry.Stream)
	}

	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.clock.Now().UTC()
	}
	if entry.TraceID == "" {
		entry.TraceID = logger.GetTraceID(ctx)
	}
	if entry.SessionID == "" {
		entry.SessionID = logger.GetSessionID(ctx)
	}
	entry.Fields = Redact(entry.Fields, l.redactKeywords)

	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}

	echo(ctx, entry)
	return nil
}

func (l *FileLogger) Query(ctx context.Context, stream Stream, filter *Filter) ([]*Entry, error) {
	path, ok := l.paths[stream]
	if !ok {
		return nil, fmt.Errorf("unknown audit stream %q", stream)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return []*Entry{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	entries := []*Entry{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			slog.Warn("Failed to parse audit entry", "line", string(line), "error", err)
			continue
		}
		if filter != nil && !filter.matches(&entry) {
			continue
		}
		entries = append(entries, &entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (f *Filter) matches(entry *Entry) bool {
	if f.Event != "" && entry.Event != f.Event {
		return false
	}
	if f.Severity != "" && entry.Severity != f.Severity {
		return false
	}
	if f.SessionID != "" && entry.SessionID != f.SessionID {
		return false
	}
	if !f.StartTime.IsZero() && entry.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && entry.Timestamp.After(f.EndTime) {
		return false
	}
	return true
}

// Redact returns a copy of fields where every key containing one of keywords is masked.
// Nested maps are walked.
func Redact(fields map[string]any, keywords []string) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if sensitiveKey(k, keywords) {
			out[k] = redactedValue
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = Redact(nested, keywords)
			continue
		}
		out[k] = v
	}
	return out
}

func sensitiveKey(key string, keywords []string) bool {
	lower := strings.ToLower(key)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func echo(ctx context.Context, entry *Entry) {
	level := slog.LevelDebug
	switch entry.Severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityCritical:
		level = slog.LevelError
	}
	slog.Log(ctx, level, entry.Event, "stream", entry.Stream, "trace_id", entry.TraceID, "fields", entry.Fields)
}

type nopLogger struct{}

func (nopLogger) Audit(context.Context, string, map[string]any)            {}
func (nopLogger) Security(context.Context, string, string, map[string]any) {}

// Nop discards all events.
func Nop() Logger { return nopLogger{} }

// Recorder keeps events in memory. Used by tests and by the REPL when no log dir is configured.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Audit(ctx context.Context, event string, fields map[string]any) {
	r.add(Entry{Stream: StreamAudit, Severity: SeverityInfo, Event: event, Fields: fields, TraceID: logger.GetTraceID(ctx)})
}

func (r *Recorder) Security(ctx context.Context, severity, event string, fields map[string]any) {
	r.add(Entry{Stream: StreamSecurity, Severity: severity, Event: event, Fields: fields, TraceID: logger.GetTraceID(ctx)})
}

func (r *Recorder) add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.Timestamp = time.Now().UTC()
	r.entries = append(r.entries, e)
}

func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Events returns the event names recorded on stream, in order.
func (r *Recorder) Events(stream Stream) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var names []string
	for _, e := range r.entries {
		if e.Stream == stream {
			names = append(names, e.Event)
		}
	}
	return names
}

// Has reports whether event was recorded on stream.
func (r *Recorder) Has(stream Stream, event string) bool {
	for _, name := range r.Events(stream) {
		if name == event {
			return true
		}
	}
	return false
}

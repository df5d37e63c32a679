package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/harunnryd/warden/internal/audit"
	"github.com/harunnryd/warden/internal/clock"
)

const unknownSource = "unknown"

type ProvenanceRecord struct {
	Timestamp time.Time      `json:"timestamp"`
	SourceID  string         `json:"source_id"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details"`
}

// Provenance appends one JSON line per knowledge-base touch.
type Provenance struct {
	mu    sync.Mutex
	path  string
	clock clock.Clock
	audit audit.Logger
}

func NewProvenance(path string, auditLog audit.Logger, c clock.Clock) (*Provenance, error) {
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create provenance dir: %w", err)
		}
	}
	if auditLog == nil {
		auditLog = audit.Nop()
	}
	return &Provenance{path: path, clock: clock.OrSystem(c), audit: auditLog}, nil
}

func (p *Provenance) Record(ctx context.Context, sourceID, action string, details map[string]any) error {
	if sourceID == "" {
		sourceID = unknownSource
	}
	rec := ProvenanceRecord{
		Timestamp: p.clock.Now().UTC(),
		SourceID:  sourceID,
		Action:    action,
		Details:   details,
	}

	if p.path != "" {
		line, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal provenance: %w", err)
		}
		p.mu.Lock()
		err = appendLine(p.path, line)
		p.mu.Unlock()
		if err != nil {
			return err
		}
	}

	p.audit.Audit(ctx, "provenance_recorded", map[string]any{"source_id": sourceID, "action": action})
	return nil
}

// Records reads the log back, oldest first.
func (p *Provenance) Records() ([]ProvenanceRecord, error) {
	if p.path == "" {
		return nil, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []ProvenanceRecord
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var rec ProvenanceRecord
		if err := dec.Decode(&rec); err != nil {
			return out, fmt.Errorf("decode provenance: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open provenance log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write provenance log: %w", err)
	}
	return nil
}

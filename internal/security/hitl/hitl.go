// Package hitl tracks human approval requests for sensitive actions.
package hitl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/harunnryd/warden/internal/audit"
	"github.com/harunnryd/warden/internal/clock"
	wardenErrors "github.com/harunnryd/warden/internal/errors"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"
)

type Status string

const (
	StatusPending Status = "PENDING"
	StatusGranted Status = "GRANTED"
	StatusDenied  Status = "DENIED"
)

// ApprovalRequest is tri-state: Approved is nil until a human decides.
type ApprovalRequest struct {
	RequestID   string     `json:"request_id"`
	ToolName    string     `json:"tool_name"`
	RequestedBy string     `json:"requested_by"`
	Rationale   string     `json:"rationale"`
	CreatedAt   time.Time  `json:"created_at"`
	Approved    *bool      `json:"approved"`
	Approver    string     `json:"approver,omitempty"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	// InputDigest ties the request to the exact input it was filed for.
	InputDigest string `json:"input_digest,omitempty"`
	// ConsumedAt is set once a grant has let its call through.
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
}

func (r ApprovalRequest) Status() Status {
	switch {
	case r.Approved == nil:
		return StatusPending
	case *r.Approved:
		return StatusGranted
	default:
		return StatusDenied
	}
}

type Options struct {
	// Path enables file persistence shared across processes. Empty keeps requests in memory.
	Path  string
	Clock clock.Clock
	Audit audit.Logger
}

type Service struct {
	mu       sync.Mutex
	requests map[string]ApprovalRequest
	path     string
	fileLock *flock.Flock
	clock    clock.Clock
	audit    audit.Logger
}

func NewService(opts Options) (*Service, error) {
	s := &Service{
		requests: make(map[string]ApprovalRequest),
		path:     opts.Path,
		clock:    clock.OrSystem(opts.Clock),
		audit:    opts.Audit,
	}
	if s.audit == nil {
		s.audit = audit.Nop()
	}

	if s.path != "" {
		if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create approvals dir: %w", err)
		}
		s.fileLock = flock.New(s.path + ".lock")
	}
	return s, nil
}

// CreateRequest files a new pending request under id. An id that is already
// taken is a conflict; decided requests are never reset.
func (s *Service) CreateRequest(ctx context.Context, id, toolName, requestedBy, rationale string) (ApprovalRequest, error) {
	var created ApprovalRequest
	err := s.mutate(func(requests map[string]ApprovalRequest) error {
		if existing, ok := requests[id]; ok {
			return wardenErrors.Conflict(fmt.Sprintf("approval request %s already exists (%s)", id, existing.Status()))
		}
		created = s.newRequest(id, toolName, requestedBy, rationale, "")
		requests[id] = created
		return nil
	})
	if err != nil {
		return ApprovalRequest{}, err
	}
	s.logCreated(ctx, created)
	return created, nil
}

type GateOutcome string

const (
	GatePending GateOutcome = "pending"
	GateDenied  GateOutcome = "denied"
	GateGranted GateOutcome = "granted"
)

type GateRequest struct {
	// BaseID is the preferred id. Taken ids get a "~N" suffix.
	BaseID      string
	ToolName    string
	RequestedBy string
	Rationale   string
	InputDigest string
	// HonorGranted lets an unused grant for the same input through once.
	HonorGranted bool
}

// Gate decides a call against earlier requests for the same tool, requester
// and input digest, under one lock:
//
//	pending        -> reused
//	denied         -> stays denied
//	unused grant   -> consumed when HonorGranted, else a new request is filed
//	nothing usable -> a new pending request is filed
func (s *Service) Gate(ctx context.Context, g GateRequest) (GateOutcome, ApprovalRequest, error) {
	if g.InputDigest == "" {
		return "", ApprovalRequest{}, wardenErrors.InvalidInput("approval gate needs an input digest")
	}

	var (
		outcome GateOutcome
		result  ApprovalRequest
		created bool
	)
	err := s.mutate(func(requests map[string]ApprovalRequest) error {
		var pending, denied, grant *ApprovalRequest
		for id := range requests {
			req := requests[id]
			if req.ToolName != g.ToolName || req.RequestedBy != g.RequestedBy || req.InputDigest != g.InputDigest {
				continue
			}
			switch req.Status() {
			case StatusPending:
				pending = &req
			case StatusDenied:
				denied = &req
			case StatusGranted:
				if req.ConsumedAt == nil {
					grant = &req
				}
			}
		}

		switch {
		case pending != nil:
			outcome, result = GatePending, *pending
		case denied != nil:
			outcome, result = GateDenied, *denied
		case grant != nil && g.HonorGranted:
			now := s.clock.Now().UTC()
			grant.ConsumedAt = &now
			requests[grant.RequestID] = *grant
			outcome, result = GateGranted, *grant
		default:
			id := nextID(requests, g.BaseID)
			result = s.newRequest(id, g.ToolName, g.RequestedBy, g.Rationale, g.InputDigest)
			requests[id] = result
			outcome, created = GatePending, true
		}
		return nil
	})
	if err != nil {
		return "", ApprovalRequest{}, err
	}

	switch {
	case created:
		s.logCreated(ctx, result)
	case outcome == GateGranted:
		s.audit.Audit(ctx, "hitl_approval_consumed", map[string]any{"request_id": result.RequestID, "approver": result.Approver})
	}
	return outcome, result, nil
}

func nextID(requests map[string]ApprovalRequest, base string) string {
	if _, taken := requests[base]; !taken {
		return base
	}
	for n := 2; ; n++ {
		id := fmt.Sprintf("%s~%d", base, n)
		if _, taken := requests[id]; !taken {
			return id
		}
	}
}

func (s *Service) newRequest(id, toolName, requestedBy, rationale, digest string) ApprovalRequest {
	return ApprovalRequest{
		RequestID:   id,
		ToolName:    toolName,
		RequestedBy: requestedBy,
		Rationale:   rationale,
		CreatedAt:   s.clock.Now().UTC(),
		InputDigest: digest,
	}
}

func (s *Service) logCreated(ctx context.Context, req ApprovalRequest) {
	slog.Info("Approval required", "id", req.RequestID, "tool", req.ToolName, "requested_by", req.RequestedBy)
	s.audit.Audit(ctx, "hitl_request_created", map[string]any{
		"request_id":   req.RequestID,
		"tool":         req.ToolName,
		"requested_by": req.RequestedBy,
		"rationale":    req.Rationale,
	})
}

func (s *Service) Approve(ctx context.Context, id, approver string) error {
	return s.resolve(ctx, id, approver, true)
}

func (s *Service) Deny(ctx context.Context, id, approver string) error {
	return s.resolve(ctx, id, approver, false)
}

func (s *Service) resolve(ctx context.Context, id, approver string, approved bool) error {
	err := s.mutate(func(requests map[string]ApprovalRequest) error {
		req, ok := requests[id]
		if !ok {
			return wardenErrors.NotFound(fmt.Sprintf("approval request %s", id))
		}
		if req.Approved != nil {
			return wardenErrors.AlreadyResolved(fmt.Sprintf("approval %s is already %s", id, req.Status()))
		}

		now := s.clock.Now().UTC()
		decision := approved
		req.Approved = &decision
		req.Approver = approver
		req.ResolvedAt = &now
		requests[id] = req
		return nil
	})
	if err != nil {
		return err
	}

	event := "hitl_request_denied"
	if approved {
		event = "hitl_request_approved"
	}
	s.audit.Audit(ctx, event, map[string]any{"request_id": id, "approver": approver})
	return nil
}

func (s *Service) Status(id string) (ApprovalRequest, bool) {
	requests, err := s.snapshot()
	if err != nil {
		slog.Warn("Failed to read approvals", "error", err)
		return ApprovalRequest{}, false
	}
	req, ok := requests[id]
	return req, ok
}

// List returns requests in creation order. An empty status returns all of them.
func (s *Service) List(status Status) ([]ApprovalRequest, error) {
	requests, err := s.snapshot()
	if err != nil {
		return nil, err
	}

	out := make([]ApprovalRequest, 0, len(requests))
	for _, req := range requests {
		if status != "" && req.Status() != status {
			continue
		}
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].RequestID < out[j].RequestID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Service) mutate(fn func(map[string]ApprovalRequest) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fileLock != nil {
		if err := s.fileLock.Lock(); err != nil {
			return fmt.Errorf("lock approvals file: %w", err)
		}
		defer s.fileLock.Unlock()

		if err := s.loadLocked(); err != nil {
			return err
		}
	}

	if err := fn(s.requests); err != nil {
		return err
	}
	return s.saveLocked()
}

func (s *Service) snapshot() (map[string]ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fileLock != nil {
		if err := s.fileLock.RLock(); err != nil {
			return nil, fmt.Errorf("lock approvals file: %w", err)
		}
		defer s.fileLock.Unlock()

		if err := s.loadLocked(); err != nil {
			return nil, err
		}
	}

	out := make(map[string]ApprovalRequest, len(s.requests))
	for k, v := range s.requests {
		out[k] = v
	}
	return out, nil
}

func (s *Service) loadLocked() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	loaded := make(map[string]ApprovalRequest)
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parse approvals file: %w", err)
	}
	s.requests = loaded
	return nil
}

func (s *Service) saveLocked() error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.requests, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(s.path, bytes.NewReader(data))
}

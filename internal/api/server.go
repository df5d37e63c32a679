// Package api exposes the orchestrator and its governance controls over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/oklog/ulid/v2"

	"github.com/harunnryd/warden/internal/anomaly"
	"github.com/harunnryd/warden/internal/audit"
	"github.com/harunnryd/warden/internal/auth"
	wardenErrors "github.com/harunnryd/warden/internal/errors"
	"github.com/harunnryd/warden/internal/knowledge"
	"github.com/harunnryd/warden/internal/logger"
	"github.com/harunnryd/warden/internal/metrics"
	"github.com/harunnryd/warden/internal/orchestrator"
	"github.com/harunnryd/warden/internal/security/hitl"
	"github.com/harunnryd/warden/internal/security/rbac"
)

const maxBodyBytes = 1 << 20

// AuditQuerier is satisfied by audit.FileLogger.
type AuditQuerier interface {
	Query(ctx context.Context, stream audit.Stream, filter *audit.Filter) ([]*audit.Entry, error)
}

// PermissionChecker is satisfied by rbac.Service.
type PermissionChecker interface {
	CheckPermission(ctx context.Context, role, action string) bool
}

type Options struct {
	Orchestrator *orchestrator.Orchestrator
	Router       orchestrator.Dispatcher
	Approvals    *hitl.Service
	Auth         *auth.Service
	Permissions  PermissionChecker
	Knowledge    *knowledge.Base
	AuditLog     AuditQuerier
	Alerts       *anomaly.AlertManager
	Audit        audit.Logger
	Metrics      *metrics.Metrics
}

type Server struct {
	orch        *orchestrator.Orchestrator
	router      orchestrator.Dispatcher
	approvals   *hitl.Service
	auth        *auth.Service
	permissions PermissionChecker
	kb          *knowledge.Base
	auditLog    AuditQuerier
	alerts      *anomaly.AlertManager
	audit       audit.Logger
	metrics     *metrics.Metrics
}

func NewServer(opts Options) (*Server, error) {
	if opts.Orchestrator == nil || opts.Router == nil || opts.Auth == nil {
		return nil, wardenErrors.InvalidInput("api: orchestrator, router and auth are required")
	}
	s := &Server{
		orch:        opts.Orchestrator,
		router:      opts.Router,
		approvals:   opts.Approvals,
		auth:        opts.Auth,
		permissions: opts.Permissions,
		kb:          opts.Knowledge,
		auditLog:    opts.AuditLog,
		alerts:      opts.Alerts,
		audit:       opts.Audit,
		metrics:     opts.Metrics,
	}
	if s.permissions == nil {
		s.permissions = rbac.NewService(s.audit)
	}
	if s.audit == nil {
		s.audit = audit.Nop()
	}
	return s, nil
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(traceMiddleware)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/auth/token", s.handleToken).Methods(http.MethodPost)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	p := r.NewRoute().Subrouter()
	p.Use(s.authMiddleware)
	p.HandleFunc("/tasks", s.handleTask).Methods(http.MethodPost)
	p.HandleFunc("/tools/{tool}", s.handleTool).Methods(http.MethodPost)
	p.HandleFunc("/employees/{id}/bank/update", s.handleBankUpdate).Methods(http.MethodPost)
	p.HandleFunc("/approvals", s.handleListApprovals).Methods(http.MethodGet)
	p.HandleFunc("/approvals/{id}/approve", s.handleResolve(true)).Methods(http.MethodPost)
	p.HandleFunc("/approvals/{id}/deny", s.handleResolve(false)).Methods(http.MethodPost)
	p.HandleFunc("/kb/ingest", s.handleIngest).Methods(http.MethodPost)
	p.HandleFunc("/kb/query", s.handleQuery).Methods(http.MethodPost)
	p.HandleFunc("/logs", s.handleLogs).Methods(http.MethodGet)
	p.HandleFunc("/alerts", s.handleAlerts).Methods(http.MethodGet)
	return r
}

type subjectKey struct{}

func subject(ctx context.Context) string {
	v, _ := ctx.Value(subjectKey{}).(string)
	return v
}

func traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = ulid.Make().String()
		}
		w.Header().Set("X-Trace-ID", traceID)
		next.ServeHTTP(w, r.WithContext(logger.WithTraceID(r.Context(), traceID)))
	})
}

// authMiddleware puts the token's role on the context. Roles are never read from request bodies.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, wardenErrors.Unauthenticated("missing bearer token"))
			return
		}
		claims, err := s.auth.Verify(token)
		if err != nil {
			s.audit.Security(r.Context(), audit.SeverityWarning, "invalid_token", map[string]any{"path": r.URL.Path})
			writeError(w, err)
			return
		}
		ctx := logger.WithRole(r.Context(), claims.Role)
		ctx = context.WithValue(ctx, subjectKey{}, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) require(w http.ResponseWriter, r *http.Request, action string) bool {
	role := logger.GetRole(r.Context())
	if s.permissions.CheckPermission(r.Context(), role, action) {
		return true
	}
	writeError(w, wardenErrors.PermissionDenied("Role "+role+" not authorized for "+action))
	return false
}

func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if logger.GetRole(r.Context()) == rbac.RoleAdmin {
		return true
	}
	writeError(w, wardenErrors.PermissionDenied("admin role required"))
	return false
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, wardenErrors.InvalidInput("invalid request body"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	body := map[string]any{
		"error":    err.Error(),
		"category": wardenErrors.Category(err),
	}
	var stepErr *orchestrator.StepError
	if errors.As(err, &stepErr) {
		body["step"] = stepErr.Index + 1
		body["total_steps"] = stepErr.Total
		completed := make([]any, 0, len(stepErr.Completed))
		for _, c := range stepErr.Completed {
			completed = append(completed, map[string]any{"tool": c.Tool, "output": c.Output})
		}
		body["completed"] = completed
	}
	if errors.Is(err, wardenErrors.ErrApprovalRequired) {
		body["status"] = "pending_approval"
	}
	writeJSON(w, wardenErrors.HTTPStatus(err), body)
}

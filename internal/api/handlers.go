package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/harunnryd/warden/internal/anomaly"
	"github.com/harunnryd/warden/internal/audit"
	"github.com/harunnryd/warden/internal/cognitive"
	wardenErrors "github.com/harunnryd/warden/internal/errors"
	"github.com/harunnryd/warden/internal/knowledge"
	"github.com/harunnryd/warden/internal/logger"
	"github.com/harunnryd/warden/internal/security/hitl"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decode(w, r, &req) {
		return
	}
	token, err := s.auth.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"access_token": token, "token_type": "bearer"})
}

type taskRequest struct {
	SessionID string         `json:"session_id"`
	Request   string         `json:"request"`
	Data      map[string]any `json:"data"`
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Request == "" {
		writeError(w, wardenErrors.InvalidInput("request is required"))
		return
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = subject(r.Context())
	}

	result, err := s.orch.HandleRequest(r.Context(), sessionID, logger.GetRole(r.Context()), req.Request, req.Data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, taskResponse(sessionID, result))
}

func taskResponse(sessionID string, result cognitive.Result) map[string]any {
	return map[string]any{"session_id": sessionID, "summary": result.Summary, "raw": result.Raw}
}

func (s *Server) handleTool(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if !decode(w, r, &payload) {
		return
	}
	s.dispatch(w, r, mux.Vars(r)["tool"], payload)
}

type bankUpdateRequest struct {
	NewIBAN      string   `json:"new_iban,omitempty"`
	BalanceSet   *float64 `json:"balance_set,omitempty"`
	BalanceDelta *float64 `json:"balance_delta,omitempty"`
	Rationale    string   `json:"rationale,omitempty"`
}

func (s *Server) handleBankUpdate(w http.ResponseWriter, r *http.Request) {
	var req bankUpdateRequest
	if !decode(w, r, &req) {
		return
	}
	payload := map[string]any{
		"action":      "update_bank_account",
		"employee_id": mux.Vars(r)["id"],
		"rationale":   req.Rationale,
	}
	if req.NewIBAN != "" {
		payload["new_iban"] = req.NewIBAN
	}
	if req.BalanceSet != nil {
		payload["balance_set"] = *req.BalanceSet
	}
	if req.BalanceDelta != nil {
		payload["balance_delta"] = *req.BalanceDelta
	}
	s.dispatch(w, r, "expense_agent", payload)
}

// dispatch sends one governed tool call outside of a plan.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, toolName string, payload map[string]any) {
	ctx := r.Context()
	out, err := s.router.Dispatch(ctx, subject(ctx), toolName, payload, logger.GetRole(ctx))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	if s.approvals == nil {
		writeError(w, wardenErrors.NotFound("approvals are not enabled"))
		return
	}
	status := hitl.Status(r.URL.Query().Get("status"))
	switch status {
	case "", hitl.StatusPending, hitl.StatusGranted, hitl.StatusDenied:
	default:
		writeError(w, wardenErrors.InvalidInput("status must be PENDING, GRANTED or DENIED"))
		return
	}
	requests, err := s.approvals.List(status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"approvals": requests})
}

func (s *Server) handleResolve(approve bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.approvals == nil {
			writeError(w, wardenErrors.NotFound("approvals are not enabled"))
			return
		}
		if !s.requireAdmin(w, r) {
			return
		}
		id := mux.Vars(r)["id"]
		approver := subject(r.Context())
		var err error
		if approve {
			err = s.approvals.Approve(r.Context(), id, approver)
		} else {
			err = s.approvals.Deny(r.Context(), id, approver)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		req, _ := s.approvals.Status(id)
		writeJSON(w, http.StatusOK, req)
	}
}

type ingestRequest struct {
	Collection string           `json:"collection"`
	Items      []knowledge.Item `json:"items"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.kb == nil {
		writeError(w, wardenErrors.NotFound("knowledge base is not enabled"))
		return
	}
	if !s.requireAdmin(w, r) {
		return
	}
	var req ingestRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.kb.Ingest(r.Context(), req.Collection, req.Items); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ingested", "count": len(req.Items)})
}

type queryRequest struct {
	Collection string `json:"collection"`
	Query      string `json:"query"`
	K          int    `json:"k"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if s.kb == nil {
		writeError(w, wardenErrors.NotFound("knowledge base is not enabled"))
		return
	}
	var req queryRequest
	if !decode(w, r, &req) {
		return
	}
	if req.K <= 0 {
		req.K = 3
	}
	matches, err := s.kb.Query(r.Context(), req.Collection, req.Query, req.K)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, r, "fetch_audit_log") {
		return
	}
	if s.auditLog == nil {
		writeError(w, wardenErrors.NotFound("audit log is not file backed"))
		return
	}
	q := r.URL.Query()
	stream := audit.Stream(q.Get("stream"))
	if stream == "" {
		stream = audit.StreamAudit
	}
	filter := &audit.Filter{Event: q.Get("event"), Severity: q.Get("severity"), SessionID: q.Get("session_id")}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, wardenErrors.InvalidInput("since must be RFC3339"))
			return
		}
		filter.StartTime = t
	}
	entries, err := s.auditLog.Query(r.Context(), stream, filter)
	if err != nil {
		writeError(w, wardenErrors.InvalidInput(err.Error()))
		return
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 && limit < len(entries) {
		entries = entries[len(entries)-limit:]
	}
	writeJSON(w, http.StatusOK, map[string]any{"stream": stream, "entries": entries})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, r, "fetch_audit_log") {
		return
	}
	alerts := []anomaly.Alert{}
	if s.alerts != nil {
		alerts = s.alerts.List()
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

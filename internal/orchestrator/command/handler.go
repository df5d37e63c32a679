package command

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/harunnryd/warden/internal/formatter"
	"github.com/harunnryd/warden/internal/logger"
	"github.com/harunnryd/warden/internal/orchestrator/session"
	"github.com/harunnryd/warden/internal/security/hitl"

	"github.com/google/shlex"
)

type Handler interface {
	CanHandle(input string) bool
	Execute(ctx context.Context, sessionID string, input string) error
}

type DefaultCommandHandler struct {
	approvals *hitl.Service
	sessions  *session.Store
	output    commandOutput
	table     *formatter.TableFormatter
}

type commandOutput interface {
	Send(ctx context.Context, sessionID string, content string) error
}

const commandOutputPrefix = "[CMD] "
const defaultApprover = "cli"

func NewHandler(approvals *hitl.Service, sessions *session.Store, output commandOutput) *DefaultCommandHandler {
	return &DefaultCommandHandler{
		approvals: approvals,
		sessions:  sessions,
		output:    output,
		table:     formatter.NewTableFormatter(),
	}
}

func (h *DefaultCommandHandler) CanHandle(input string) bool {
	return strings.HasPrefix(strings.TrimSpace(input), "/")
}

func (h *DefaultCommandHandler) Execute(ctx context.Context, sessionID string, input string) error {
	parts, parseErr := shlex.Split(input)
	if parseErr != nil {
		parts = strings.Fields(input)
	}
	if len(parts) == 0 {
		return nil
	}
	cmd := parts[0]
	args := parts[1:]

	slog.Info("Executing slash command", "cmd", cmd, "session", sessionID)

	var msg string
	var err error

	switch cmd {
	case "/approve":
		msg, err = h.handleResolve(ctx, args, true)
	case "/deny":
		msg, err = h.handleResolve(ctx, args, false)
	case "/approvals":
		msg, err = h.handleApprovals(args)
	case "/note":
		msg, err = h.handleNote(sessionID, args)
	case "/notes":
		msg = h.handleNotes(sessionID)
	case "/reset":
		msg = h.handleReset(sessionID)
	case "/help":
		msg = h.helpText()
	default:
		msg = fmt.Sprintf("Unknown command: %s", cmd)
	}

	if err != nil {
		msg = fmt.Sprintf("Command failed: %v", err)
		slog.Error("Command execution failed", "cmd", cmd, "error", err)
	}

	if cmd != "/reset" && h.sessions != nil {
		h.sessions.AppendMessage(sessionID, session.RoleSystem, msg)
	}
	if h.output != nil {
		if err := h.output.Send(ctx, sessionID, formatCommandOutput(msg)); err != nil {
			return fmt.Errorf("send command output: %w", err)
		}
	}

	return nil
}

func (h *DefaultCommandHandler) handleResolve(ctx context.Context, args []string, approve bool) (string, error) {
	if len(args) < 1 {
		if approve {
			return "Usage: /approve <id>", nil
		}
		return "Usage: /deny <id>", nil
	}
	if h.approvals == nil {
		return "", fmt.Errorf("approval service not initialized")
	}
	id := strings.Join(args, " ")
	approver := logger.GetRole(ctx)
	if approver == "" {
		approver = defaultApprover
	}
	if approve {
		if err := h.approvals.Approve(ctx, id, approver); err != nil {
			return "", err
		}
		return fmt.Sprintf("Approved: %s", id), nil
	}
	if err := h.approvals.Deny(ctx, id, approver); err != nil {
		return "", err
	}
	return fmt.Sprintf("Denied: %s", id), nil
}

func (h *DefaultCommandHandler) handleApprovals(args []string) (string, error) {
	if h.approvals == nil {
		return "", fmt.Errorf("approval service not initialized")
	}
	status := hitl.StatusPending
	if len(args) > 0 {
		switch strings.ToLower(args[0]) {
		case "all":
			status = ""
		case "granted":
			status = hitl.StatusGranted
		case "denied":
			status = hitl.StatusDenied
		}
	}
	requests, err := h.approvals.List(status)
	if err != nil {
		return "", err
	}
	if len(requests) == 0 {
		return "No approval requests.", nil
	}
	return h.table.FormatApprovals(requests)
}

func (h *DefaultCommandHandler) handleNote(sessionID string, args []string) (string, error) {
	if len(args) < 2 {
		return "Usage: /note <key> <value> [ttl]", nil
	}
	if h.sessions == nil {
		return "", fmt.Errorf("session store not initialized")
	}
	var ttl time.Duration
	if len(args) > 2 {
		parsed, err := time.ParseDuration(args[2])
		if err != nil {
			return "", fmt.Errorf("invalid ttl %q: %w", args[2], err)
		}
		ttl = parsed
	}
	h.sessions.AddNote(sessionID, args[0], args[1], ttl)
	return fmt.Sprintf("Noted %s.", args[0]), nil
}

func (h *DefaultCommandHandler) handleNotes(sessionID string) string {
	if h.sessions == nil {
		return "No notes."
	}
	notes := h.sessions.Notes(sessionID)
	if len(notes) == 0 {
		return "No notes."
	}
	keys := make([]string, 0, len(notes))
	for k := range notes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s = %v", k, notes[k]))
	}
	return strings.Join(lines, "\n")
}

func (h *DefaultCommandHandler) handleReset(sessionID string) string {
	if h.sessions != nil {
		h.sessions.Reset(sessionID)
	}
	return "Session cleared."
}

func (h *DefaultCommandHandler) helpText() string {
	return "Available commands: /help, /approvals [all|granted|denied], /approve <id>, /deny <id>, /note <key> <value> [ttl], /notes, /reset"
}

func formatCommandOutput(msg string) string {
	if strings.HasPrefix(msg, commandOutputPrefix) {
		return msg
	}
	return commandOutputPrefix + msg
}

// Package runtime assembles the warden services from configuration.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/harunnryd/warden/internal/agents"
	"github.com/harunnryd/warden/internal/anomaly"
	"github.com/harunnryd/warden/internal/api"
	"github.com/harunnryd/warden/internal/audit"
	"github.com/harunnryd/warden/internal/auth"
	"github.com/harunnryd/warden/internal/bus"
	"github.com/harunnryd/warden/internal/clock"
	"github.com/harunnryd/warden/internal/cognitive"
	"github.com/harunnryd/warden/internal/config"
	"github.com/harunnryd/warden/internal/idempotency"
	"github.com/harunnryd/warden/internal/knowledge"
	"github.com/harunnryd/warden/internal/metrics"
	"github.com/harunnryd/warden/internal/orchestrator"
	"github.com/harunnryd/warden/internal/orchestrator/session"
	"github.com/harunnryd/warden/internal/policy"
	"github.com/harunnryd/warden/internal/scheduler"
	"github.com/harunnryd/warden/internal/security/hitl"
	"github.com/harunnryd/warden/internal/security/rbac"
	"github.com/harunnryd/warden/internal/security/signing"
	"github.com/harunnryd/warden/internal/store"
	"github.com/harunnryd/warden/internal/tool"
)

const (
	EmailBackendMemory = "memory"
	EmailBackendSQLite = "sqlite"

	defaultApprovalsFile = "approvals.json"
	defaultNonceFile     = "nonces.json"
)

// Components is every service one warden process needs. Fields stay nil
// when the builder was asked for a lighter set.
type Components struct {
	Config *config.Config
	Clock  clock.Clock

	AuditLog *audit.FileLogger
	Metrics  *metrics.Metrics

	Repos      store.Repositories
	Knowledge  *knowledge.Base
	Provenance *knowledge.Provenance

	Signer    *signing.Service
	Nonces    *idempotency.Store
	Approvals *hitl.Service
	Roles     *rbac.Service
	Enforcer  *policy.Enforcer

	Registry     *tool.Registry
	Router       *tool.Router
	Sessions     *session.Store
	Detector     *anomaly.Detector
	Alerts       *anomaly.AlertManager
	Orchestrator *orchestrator.Orchestrator

	Auth    *auth.Service
	API     *api.Server
	Bus     *bus.Server
	Janitor *scheduler.Janitor

	closers []func() error
}

// Close releases what the builder opened, newest first.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Components) onClose(fn func() error) {
	c.closers = append(c.closers, fn)
}

func (c *Components) buildAudit() error {
	cfg := c.Config
	auditLog, err := audit.NewFileLogger(audit.Options{
		Dir:            cfg.Logging.Dir,
		AuditFile:      cfg.Logging.AuditFile,
		SecurityFile:   cfg.Logging.SecurityFile,
		RedactKeywords: cfg.Logging.RedactKeywords,
		Clock:          c.Clock,
	})
	if err != nil {
		return fmt.Errorf("init audit log: %w", err)
	}
	c.AuditLog = auditLog
	return nil
}

func (c *Components) buildGovernance() error {
	cfg := c.Config

	approvalsPath := cfg.Security.ApprovalsPath
	if approvalsPath == "" {
		approvalsPath = cfg.DataPath(defaultApprovalsFile)
	}
	approvals, err := hitl.NewService(hitl.Options{Path: approvalsPath, Clock: c.Clock, Audit: c.AuditLog})
	if err != nil {
		return fmt.Errorf("init approvals: %w", err)
	}
	c.Approvals = approvals

	c.Roles = rbac.NewService(c.AuditLog)

	rules := policy.RulesFromConfig(cfg.Governance.HITLRules)
	roleNames := make([]string, 0, 3)
	for _, r := range c.Roles.Roles() {
		roleNames = append(roleNames, r.Name)
	}
	if err := policy.ValidateRules(rules, roleNames); err != nil {
		return fmt.Errorf("invalid hitl rules: %w", err)
	}

	c.Enforcer = policy.NewEnforcer(c.Roles, c.Approvals, policy.Options{
		Rules:                 rules,
		MaxInputLength:        cfg.Governance.MaxInputLength,
		HonorGrantedApprovals: cfg.Governance.HonorGrantedApprovals,
		Audit:                 c.AuditLog,
		Metrics:               c.Metrics,
	})
	return nil
}

func (c *Components) buildData(ctx context.Context) error {
	cfg := c.Config
	if err := os.MkdirAll(cfg.Data.Dir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	repos := store.NewMemoryRepositories()
	switch strings.ToLower(strings.TrimSpace(cfg.Data.EmailBackend)) {
	case "", EmailBackendMemory:
	case EmailBackendSQLite:
		emails, err := store.NewSQLiteEmailRepository(cfg.DataPath(cfg.Data.SQLitePath))
		if err != nil {
			return fmt.Errorf("open email store: %w", err)
		}
		c.onClose(emails.Close)
		repos.Emails = emails
	default:
		return fmt.Errorf("unknown email backend %q (supported: memory, sqlite)", cfg.Data.EmailBackend)
	}
	if cfg.Data.Seed {
		if err := store.Seed(ctx, repos); err != nil {
			return err
		}
	}
	c.Repos = repos

	prov, err := knowledge.NewProvenance(cfg.DataPath(cfg.Data.ProvenanceFile), c.AuditLog, c.Clock)
	if err != nil {
		return fmt.Errorf("init provenance: %w", err)
	}
	c.Provenance = prov

	kb, err := knowledge.Open(cfg.DataPath(cfg.Data.KnowledgePath), prov)
	if err != nil {
		return fmt.Errorf("open knowledge base: %w", err)
	}
	c.Knowledge = kb
	return nil
}

func (c *Components) buildSigning() error {
	cfg := c.Config
	signer, err := signing.NewService(cfg.Security.HMACSecret, c.AuditLog)
	if err != nil {
		return fmt.Errorf("init signer: %w", err)
	}
	c.Signer = signer

	noncePath := cfg.Security.NonceCache
	if noncePath == "" {
		noncePath = cfg.DataPath(defaultNonceFile)
	}
	nonces, err := idempotency.NewStore(noncePath, idempotency.WithClock(c.Clock))
	if err != nil {
		return fmt.Errorf("open nonce cache: %w", err)
	}
	c.Nonces = nonces
	c.onClose(nonces.Save)
	return nil
}

func (c *Components) buildPipeline() error {
	cfg := c.Config

	dispatchTimeout, err := config.DurationOrDefault(cfg.Orchestrator.DispatchTimeout, config.DefaultOrchestratorDispatchTimeout)
	if err != nil {
		return err
	}
	sessionTTL, err := config.DurationOrDefault(cfg.Session.TTL, config.DefaultSessionTTL)
	if err != nil {
		return err
	}
	window, err := config.DurationOrDefault(cfg.Anomaly.Window, config.DefaultAnomalyWindow)
	if err != nil {
		return err
	}

	c.Registry = tool.NewRegistry()
	if err := registerAgents(c.Registry, c); err != nil {
		return err
	}
	c.Router = tool.NewRouter(c.Registry, c.Enforcer, c.Signer, tool.RouterOptions{
		Timeout: dispatchTimeout,
		Audit:   c.AuditLog,
		Metrics: c.Metrics,
	})

	c.Sessions = session.NewStore(session.Options{TTL: sessionTTL, Clock: c.Clock})
	c.Alerts = anomaly.NewAlertManager(c.AuditLog, c.Clock)
	c.Detector = anomaly.NewDetector(anomaly.Options{
		Window:    window,
		Threshold: cfg.Anomaly.Threshold,
		Clock:     c.Clock,
		Audit:     c.AuditLog,
		Alerts:    c.Alerts,
		Metrics:   c.Metrics,
	})

	orch, err := orchestrator.New(orchestrator.Options{
		Planner:         cognitive.NewHeuristicPlanner(),
		Aggregator:      cognitive.NewAggregator(),
		Router:          c.Router,
		Sessions:        c.Sessions,
		Instrumentation: anomaly.NewInstrumentation(c.Detector),
		Audit:           c.AuditLog,
		Metrics:         c.Metrics,
		Observer: func(t orchestrator.Transition) {
			slog.Debug("Orchestrator transition", "state", t.State, "session_id", t.SessionID, "step", t.Step, "total", t.Total)
		},
	})
	if err != nil {
		return err
	}
	c.Orchestrator = orch
	return nil
}

func registerAgents(registry *tool.Registry, c *Components) error {
	expense := c.Config.Agents.Expense
	for _, t := range []tool.Tool{
		agents.NewEmailAgent(c.Repos.Emails, c.Signer, c.AuditLog),
		agents.NewDriveAgent(c.Repos.Documents, c.Knowledge, c.Signer, c.AuditLog),
		agents.NewExpenseAgent(c.Repos, agents.ExpenseOptions{
			ApprovalThreshold: expense.ApprovalThreshold,
			PolicyDocID:       expense.PolicyDocID,
		}, c.Signer, c.AuditLog),
	} {
		if err := registry.Register(t); err != nil {
			return fmt.Errorf("register %s: %w", t.Name(), err)
		}
	}
	return nil
}

func (c *Components) buildAuth(ctx context.Context) error {
	cfg := c.Config
	expiry, err := config.DurationOrDefault(cfg.Auth.TokenExpiry, config.DefaultAuthTokenExpiry)
	if err != nil {
		return err
	}
	svc, err := auth.NewService(auth.Options{
		Secret:      cfg.Auth.JWTSecret,
		TokenExpiry: expiry,
		Clock:       c.Clock,
		Audit:       c.AuditLog,
	})
	if err != nil {
		return fmt.Errorf("init auth: %w", err)
	}
	if cfg.Auth.AdminUser != "" && cfg.Auth.AdminPassword != "" {
		if err := svc.Register(ctx, cfg.Auth.AdminUser, cfg.Auth.AdminPassword, rbac.RoleAdmin); err != nil {
			return fmt.Errorf("register admin user: %w", err)
		}
		if cfg.Auth.AdminPassword == config.DefaultAuthAdminPassword {
			slog.Warn("Admin user uses the default password", "user", cfg.Auth.AdminUser)
		}
	}
	c.Auth = svc
	return nil
}

func (c *Components) buildServers() error {
	cfg := c.Config

	server, err := api.NewServer(api.Options{
		Orchestrator: c.Orchestrator,
		Router:       c.Router,
		Approvals:    c.Approvals,
		Auth:         c.Auth,
		Permissions:  c.Roles,
		Knowledge:    c.Knowledge,
		AuditLog:     c.AuditLog,
		Alerts:       c.Alerts,
		Audit:        c.AuditLog,
		Metrics:      c.Metrics,
	})
	if err != nil {
		return err
	}
	c.API = server

	replayWindow, err := config.DurationOrDefault(cfg.Security.ReplayWindow, config.DefaultSecurityReplayWindow)
	if err != nil {
		return err
	}
	rateWindow, err := config.DurationOrDefault(cfg.Bus.RateLimitWindow, config.DefaultBusRateLimitWindow)
	if err != nil {
		return err
	}
	verifier := signing.NewEnvelopeVerifier(c.Signer, c.Nonces, replayWindow, c.Clock)
	c.Bus = bus.NewServer(verifier, bus.Options{
		RateLimit: cfg.Bus.RateLimit,
		Window:    rateWindow,
		Clock:     c.Clock,
		Audit:     c.AuditLog,
		Metrics:   c.Metrics,
	})
	return nil
}

func (c *Components) buildJanitor() error {
	j, err := scheduler.NewJanitor(scheduler.Options{
		Schedule: c.Config.Janitor.Schedule,
		Clock:    c.Clock,
		Audit:    c.AuditLog,
	})
	if err != nil {
		return err
	}
	j.Register("sessions", scheduler.Count(c.Sessions.Sweep))
	j.Register("anomaly_events", scheduler.Count(c.Detector.Prune))
	j.Register("nonces", func(ctx context.Context) (int, error) {
		removed := c.Nonces.Prune()
		return removed, c.Nonces.Save()
	})
	j.Register("bus_limiters", scheduler.Count(c.Bus.PruneLimiters))
	c.Janitor = j
	return nil
}

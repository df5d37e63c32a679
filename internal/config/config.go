package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/harunnryd/warden/internal/pathutil"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Logging      LoggingConfig      `koanf:"logging"`
	Security     SecurityConfig     `koanf:"security"`
	Governance   GovernanceConfig   `koanf:"governance"`
	Anomaly      AnomalyConfig      `koanf:"anomaly"`
	Session      SessionConfig      `koanf:"session"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Agents       AgentsConfig       `koanf:"agents"`
	Data         DataConfig         `koanf:"data"`
	Bus          BusConfig          `koanf:"bus"`
	Auth         AuthConfig         `koanf:"auth"`
	Janitor      JanitorConfig      `koanf:"janitor"`
}

type ServerConfig struct {
	Port            int    `koanf:"port"`
	LogLevel        string `koanf:"log_level"`
	ReadTimeout     string `koanf:"read_timeout"`
	WriteTimeout    string `koanf:"write_timeout"`
	IdleTimeout     string `koanf:"idle_timeout"`
	ShutdownTimeout string `koanf:"shutdown_timeout"`
}

type LoggingConfig struct {
	Dir            string   `koanf:"dir"`
	AuditFile      string   `koanf:"audit_file"`
	SecurityFile   string   `koanf:"security_file"`
	RedactKeywords []string `koanf:"redact_keywords"`
}

type SecurityConfig struct {
	HMACSecret    string `koanf:"hmac_secret"`
	ReplayWindow  string `koanf:"replay_window"`
	ApprovalsPath string `koanf:"approvals_path"`
	NonceCache    string `koanf:"nonce_cache"`
}

type HITLRule struct {
	Role         string `koanf:"role" yaml:"role"`
	Tool         string `koanf:"tool" yaml:"tool"`
	HITLRequired bool   `koanf:"hitl_required" yaml:"hitl_required"`
}

type GovernanceConfig struct {
	MaxInputLength        int        `koanf:"max_input_length"`
	HITLRules             []HITLRule `koanf:"hitl_rules"`
	HonorGrantedApprovals bool       `koanf:"honor_granted_approvals"`
}

type AnomalyConfig struct {
	Window    string `koanf:"window"`
	Threshold int    `koanf:"threshold"`
}

type SessionConfig struct {
	TTL string `koanf:"ttl"`
}

type OrchestratorConfig struct {
	DispatchTimeout string `koanf:"dispatch_timeout"`
}

type AgentsConfig struct {
	Expense ExpenseAgentConfig `koanf:"expense"`
}

type ExpenseAgentConfig struct {
	ApprovalThreshold float64 `koanf:"approval_threshold"`
	PolicyDocID       string  `koanf:"policy_doc_id"`
}

type DataConfig struct {
	Dir            string `koanf:"dir"`
	EmailBackend   string `koanf:"email_backend"`
	SQLitePath     string `koanf:"sqlite_path"`
	KnowledgePath  string `koanf:"knowledge_path"`
	ProvenanceFile string `koanf:"provenance_file"`
	Seed           bool   `koanf:"seed"`
}

type BusConfig struct {
	Enabled         bool   `koanf:"enabled"`
	Port            int    `koanf:"port"`
	RateLimit       int    `koanf:"rate_limit"`
	RateLimitWindow string `koanf:"rate_limit_window"`
}

type AuthConfig struct {
	JWTSecret     string `koanf:"jwt_secret"`
	TokenExpiry   string `koanf:"token_expiry"`
	AdminUser     string `koanf:"admin_user"`
	AdminPassword string `koanf:"admin_password"`
}

type JanitorConfig struct {
	Schedule string `koanf:"schedule"`
}

const (
	DefaultServerPort            = 8080
	DefaultServerLogLevel        = "info"
	DefaultServerReadTimeout     = "10s"
	DefaultServerWriteTimeout    = "15s"
	DefaultServerIdleTimeout     = "60s"
	DefaultServerShutdownTimeout = "5s"

	DefaultLoggingDir          = "~/.warden/logs"
	DefaultLoggingAuditFile    = "audit.jsonl"
	DefaultLoggingSecurityFile = "security.jsonl"

	DefaultSecurityHMACSecret   = "super-secret-key"
	DefaultSecurityReplayWindow = "5m"

	DefaultGovernanceMaxInputLength = 5000

	DefaultAnomalyWindow    = "300s"
	DefaultAnomalyThreshold = 10

	DefaultSessionTTL = "60m"

	DefaultOrchestratorDispatchTimeout = "10s"

	DefaultExpenseApprovalThreshold = 1000.0
	DefaultExpensePolicyDocID       = "policy_v1"

	DefaultDataDir            = "~/.warden/data"
	DefaultDataEmailBackend   = "memory"
	DefaultDataSQLitePath     = "warden.db"
	DefaultDataKnowledgePath  = "knowledge"
	DefaultDataProvenanceFile = "provenance.jsonl"

	DefaultBusPort            = 9100
	DefaultBusRateLimit       = 100
	DefaultBusRateLimitWindow = "60s"

	DefaultAuthJWTSecret     = "change-me"
	DefaultAuthTokenExpiry   = "60m"
	DefaultAuthAdminUser     = "admin"
	DefaultAuthAdminPassword = "admin"

	DefaultJanitorSchedule = "@every 1m"
)

// DefaultHITLRules are the static rules that hold admin money movement for a human.
func DefaultHITLRules() []HITLRule {
	return []HITLRule{
		{Role: "admin", Tool: "issue_reimbursement", HITLRequired: true},
		{Role: "admin", Tool: "update_bank_account", HITLRequired: true},
	}
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"server.port":                        DefaultServerPort,
		"server.log_level":                   DefaultServerLogLevel,
		"server.read_timeout":                DefaultServerReadTimeout,
		"server.write_timeout":               DefaultServerWriteTimeout,
		"server.idle_timeout":                DefaultServerIdleTimeout,
		"server.shutdown_timeout":            DefaultServerShutdownTimeout,
		"logging.dir":                        DefaultLoggingDir,
		"logging.audit_file":                 DefaultLoggingAuditFile,
		"logging.security_file":              DefaultLoggingSecurityFile,
		"logging.redact_keywords":            []string{"password", "secret"},
		"security.hmac_secret":               DefaultSecurityHMACSecret,
		"security.replay_window":             DefaultSecurityReplayWindow,
		"security.approvals_path":            "",
		"security.nonce_cache":               "",
		"governance.max_input_length":        DefaultGovernanceMaxInputLength,
		"governance.hitl_rules":              DefaultHITLRules(),
		"governance.honor_granted_approvals": false,
		"anomaly.window":                     DefaultAnomalyWindow,
		"anomaly.threshold":                  DefaultAnomalyThreshold,
		"session.ttl":                        DefaultSessionTTL,
		"orchestrator.dispatch_timeout":      DefaultOrchestratorDispatchTimeout,
		"agents.expense.approval_threshold":  DefaultExpenseApprovalThreshold,
		"agents.expense.policy_doc_id":       DefaultExpensePolicyDocID,
		"data.dir":                           DefaultDataDir,
		"data.email_backend":                 DefaultDataEmailBackend,
		"data.sqlite_path":                   DefaultDataSQLitePath,
		"data.knowledge_path":                DefaultDataKnowledgePath,
		"data.provenance_file":               DefaultDataProvenanceFile,
		"data.seed":                          true,
		"bus.enabled":                        true,
		"bus.port":                           DefaultBusPort,
		"bus.rate_limit":                     DefaultBusRateLimit,
		"bus.rate_limit_window":              DefaultBusRateLimitWindow,
		"auth.jwt_secret":                    DefaultAuthJWTSecret,
		"auth.token_expiry":                  DefaultAuthTokenExpiry,
		"auth.admin_user":                    DefaultAuthAdminUser,
		"auth.admin_password":                DefaultAuthAdminPassword,
		"janitor.schedule":                   DefaultJanitorSchedule,
	}
}

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	for key, value := range defaults() {
		k.Set(key, value)
	}

	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, err
		}
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			globalPath := filepath.Join(home, ".warden", "config.yaml")
			if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
				slog.Debug("Global config not found or invalid", "path", globalPath, "error", err)
			}
		}
	}

	// WARDEN_SECURITY_HMAC_SECRET style keys only map the first underscore to a section separator.
	k.Load(env.Provider("WARDEN_", ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, "WARDEN_"))
		return strings.Replace(key, "_", ".", 1)
	}), nil)

	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	if err := normalizePathFields(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func normalizePathFields(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	for _, field := range []*string{
		&cfg.Logging.Dir,
		&cfg.Data.Dir,
		&cfg.Security.ApprovalsPath,
		&cfg.Security.NonceCache,
	} {
		expanded, err := expandConfiguredPath(*field)
		if err != nil {
			return err
		}
		if expanded != "" {
			*field = expanded
		}
	}

	return nil
}

func expandConfiguredPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	expanded, err := pathutil.Expand(trimmed)
	if err != nil {
		return "", err
	}
	return expanded, nil
}

// DataPath resolves name relative to the data directory unless it is already absolute.
func (c *Config) DataPath(name string) string {
	return joinUnlessAbs(c.Data.Dir, name)
}

// LogPath resolves name relative to the logging directory unless it is already absolute.
func (c *Config) LogPath(name string) string {
	return joinUnlessAbs(c.Logging.Dir, name)
}

func joinUnlessAbs(dir, name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}

// Package config binds the orchestrator's environment-variable surface
// (spec.md §6 "Environment configuration recognized by the core") into a
// typed, immutable Config loaded once at process startup. Grounded on
// fyrsmithlabs-contextd's internal/config/loader.go koanf usage, simplified
// from a YAML-plus-env layered load to env-only since spec.md defines no
// config file format for the core.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// StateStoreType selects the durable backend for workflow.Orchestrator's
// StateStore (spec.md §6 "STATE_STORE_TYPE ∈ {memory, relational}").
type StateStoreType string

const (
	StateStoreMemory     StateStoreType = "memory"
	StateStoreRelational StateStoreType = "relational"
)

// Config is the orchestrator's complete runtime configuration, constructed
// once at startup and passed down by value or pointer to every component
// (spec.md §9 "Global mutable state. Avoid."). Fields are unexported-free
// but the value returned by Load should be treated as read-only: nothing in
// this module mutates a *Config after construction.
type Config struct {
	// StateStoreType selects memory or relational persistence.
	StateStoreType StateStoreType
	// RelationalDriver selects which relational backend the DSN addresses,
	// "mysql" or "sqlite". Required when StateStoreType is relational.
	RelationalDriver string
	// RelationalDSN is the connection string for the relational StateStore.
	// The sqlite AuditLog does not use it; it is opened at
	// AuditLogDir/audit.db.
	RelationalDSN string

	// EventLogDir is the base directory for the JSONL-per-workflow
	// EventLog layout (spec.md §4.2/§6).
	EventLogDir string
	// AuditLogDir is the directory holding the sqlite AuditLog database
	// when StateStoreType is relational; ignored for the memory backend.
	AuditLogDir string

	// DefaultTaskTimeout is applied to any task lacking its own
	// TaskSpec.Timeout (spec.md §6 "DEFAULT_TASK_TIMEOUT_MS").
	DefaultTaskTimeout time.Duration
	// MaxConcurrentTasksPerWorkflow bounds per-workflow task concurrency
	// (spec.md §5/§6).
	MaxConcurrentTasksPerWorkflow int
	// ApprovalTokenTTL bounds how long a minted approval token remains
	// consumable (spec.md §4.7/§6).
	ApprovalTokenTTL time.Duration
	// CRVRequiredConfidence is the minimum confidence the CRV Gate accepts
	// before blocking with CRVLowConfidence (spec.md §4.6/§6).
	CRVRequiredConfidence float64
	// CompensationBestEffort controls whether a failed compensation halts
	// the saga unwind or is logged and skipped (spec.md §4.9/§6).
	CompensationBestEffort bool

	// RedisAddr is loaded from the environment, but cmd/orchestratord does
	// not read it: the Orchestrator it builds always uses the in-memory
	// ToolResultCache, whatever this field holds.
	RedisAddr string
}

func defaults() Config {
	return Config{
		StateStoreType:                StateStoreMemory,
		EventLogDir:                   "./data/events",
		AuditLogDir:                   "./data/audit",
		DefaultTaskTimeout:            30 * time.Second,
		MaxConcurrentTasksPerWorkflow: 8,
		ApprovalTokenTTL:              time.Hour,
		CRVRequiredConfidence:         0.7,
		CompensationBestEffort:        true,
	}
}

// Load reads the environment variables named in spec.md §6 through koanf's
// env provider and returns a validated Config. Unset variables keep their
// documented defaults.
func Load() (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", strings.ToUpper), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	cfg := defaults()

	if v := k.String("STATE_STORE_TYPE"); v != "" {
		switch StateStoreType(v) {
		case StateStoreMemory, StateStoreRelational:
			cfg.StateStoreType = StateStoreType(v)
		default:
			return nil, fmt.Errorf("config: STATE_STORE_TYPE must be %q or %q, got %q",
				StateStoreMemory, StateStoreRelational, v)
		}
	}
	if v := k.String("RELATIONAL_DRIVER"); v != "" {
		cfg.RelationalDriver = v
	}
	if v := k.String("RELATIONAL_DSN"); v != "" {
		cfg.RelationalDSN = v
	}
	if v := k.String("EVENT_LOG_DIR"); v != "" {
		cfg.EventLogDir = v
	}
	if v := k.String("AUDIT_LOG_DIR"); v != "" {
		cfg.AuditLogDir = v
	}
	if v := k.String("DEFAULT_TASK_TIMEOUT_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: DEFAULT_TASK_TIMEOUT_MS: %w", err)
		}
		cfg.DefaultTaskTimeout = time.Duration(ms) * time.Millisecond
	}
	if v := k.String("MAX_CONCURRENT_TASKS_PER_WORKFLOW"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: MAX_CONCURRENT_TASKS_PER_WORKFLOW: %w", err)
		}
		cfg.MaxConcurrentTasksPerWorkflow = n
	}
	if v := k.String("APPROVAL_TOKEN_TTL_SEC"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: APPROVAL_TOKEN_TTL_SEC: %w", err)
		}
		cfg.ApprovalTokenTTL = time.Duration(secs) * time.Second
	}
	if v := k.String("CRV_REQUIRED_CONFIDENCE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("config: CRV_REQUIRED_CONFIDENCE: %w", err)
		}
		cfg.CRVRequiredConfidence = f
	}
	if v := k.String("COMPENSATION_BEST_EFFORT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("config: COMPENSATION_BEST_EFFORT: %w", err)
		}
		cfg.CompensationBestEffort = b
	}
	if v := k.String("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c Config) validate() error {
	if c.StateStoreType == StateStoreRelational {
		if c.RelationalDriver != "mysql" && c.RelationalDriver != "sqlite" {
			return fmt.Errorf("config: RELATIONAL_DRIVER must be %q or %q when STATE_STORE_TYPE=relational, got %q",
				"mysql", "sqlite", c.RelationalDriver)
		}
		if c.RelationalDSN == "" {
			return fmt.Errorf("config: RELATIONAL_DSN is required when STATE_STORE_TYPE=relational")
		}
	}
	if c.MaxConcurrentTasksPerWorkflow < 1 {
		return fmt.Errorf("config: MAX_CONCURRENT_TASKS_PER_WORKFLOW must be positive, got %d", c.MaxConcurrentTasksPerWorkflow)
	}
	if c.CRVRequiredConfidence < 0 || c.CRVRequiredConfidence > 1 {
		return fmt.Errorf("config: CRV_REQUIRED_CONFIDENCE must be in [0,1], got %f", c.CRVRequiredConfidence)
	}
	return nil
}

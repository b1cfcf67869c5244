package main

import (
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wfguard/orchestrator/config"
	"github.com/wfguard/orchestrator/workflow"
	"github.com/wfguard/orchestrator/workflow/auditlog"
	"github.com/wfguard/orchestrator/workflow/crv"
	"github.com/wfguard/orchestrator/workflow/eventlog"
	"github.com/wfguard/orchestrator/workflow/policygate"
	"github.com/wfguard/orchestrator/workflow/statestore"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:     "orchestratord",
	Short:   "Governed durable workflow orchestrator",
	Version: version,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(verifyAuditCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(denyCmd)
	rootCmd.AddCommand(rollbackCmd)
}

// exitCodeFor maps a returned error to the process exit code documented in
// spec.md §6/§9. Errors that match neither named condition, including
// failures returned while running, approving or rolling back a workflow,
// fall back to the generic config-error code.
func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, auditlog.ErrIntegrity), errors.Is(err, workflow.ErrAuditIntegrity):
		return exitAuditIntegrityFailed
	case errors.Is(err, statestore.ErrUnavailable):
		return exitStateStoreUnavailable
	default:
		return exitConfigError
	}
}

// buildOrchestrator wires a workflow.Orchestrator from the process's
// environment configuration (SPEC_FULL.md §1 "Configuration").
func buildOrchestrator(cfg *config.Config, logger *zap.Logger) (*workflow.Orchestrator, error) {
	opts := []workflow.Option{
		workflow.WithMaxConcurrentTasks(cfg.MaxConcurrentTasksPerWorkflow),
		workflow.WithDefaultTaskTimeout(cfg.DefaultTaskTimeout),
		workflow.WithCompensationBestEffort(cfg.CompensationBestEffort),
		workflow.WithLogger(logger),
		workflow.WithEventLog(eventlog.NewJSONLStore(cfg.EventLogDir)),
		workflow.WithPolicyGate(policygate.NewGate(cfg.ApprovalTokenTTL)),
		workflow.WithCRVGate(crv.NewGate(nil, false, cfg.CRVRequiredConfidence)),
	}

	switch cfg.StateStoreType {
	case config.StateStoreMemory:
		// defaultConfig already installs memory backends; nothing to add.
	case config.StateStoreRelational:
		store, auditLog, err := buildRelationalBackends(cfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, workflow.WithStateStore(store), workflow.WithAuditLog(auditLog))
	}

	return workflow.New(opts...), nil
}

func buildRelationalBackends(cfg *config.Config) (statestore.Store, auditlog.Log, error) {
	switch cfg.RelationalDriver {
	case "mysql":
		store, err := statestore.NewMySQLStore(cfg.RelationalDSN)
		if err != nil {
			return nil, nil, err
		}
		auditLog, err := auditlog.NewSQLiteLog(cfg.AuditLogDir + "/audit.db")
		if err != nil {
			return nil, nil, err
		}
		return store, auditLog, nil
	case "sqlite":
		store, err := statestore.NewSQLiteStore(cfg.RelationalDSN)
		if err != nil {
			return nil, nil, err
		}
		auditLog, err := auditlog.NewSQLiteLog(cfg.AuditLogDir + "/audit.db")
		if err != nil {
			return nil, nil, err
		}
		return store, auditLog, nil
	default:
		return nil, nil, errConfigInvalid("RELATIONAL_DRIVER must be mysql or sqlite")
	}
}

type configError string

func (e configError) Error() string { return string(e) }

func errConfigInvalid(msg string) error { return configError(msg) }

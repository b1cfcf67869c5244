package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wfguard/orchestrator/config"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback <workflow-id>",
	Short: "Restore a workflow's context to its most recently verified memory snapshot",
	Args:  cobra.ExactArgs(1),
	RunE:  runRollback,
}

func runRollback(cmd *cobra.Command, args []string) error {
	workflowID := args[0]
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	orch, err := buildOrchestrator(cfg, logger)
	if err != nil {
		return err
	}
	if err := orch.Rollback(context.Background(), workflowID); err != nil {
		return fmt.Errorf("rollback workflow %s: %w", workflowID, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "workflow %s rolled back to latest verified snapshot\n", workflowID)
	return nil
}

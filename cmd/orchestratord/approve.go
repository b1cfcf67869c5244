package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wfguard/orchestrator/config"
)

var approveCmd = &cobra.Command{
	Use:   "approve <token> <approver-id>",
	Short: "Approve a task awaiting human approval (spec.md §4.7)",
	Args:  cobra.ExactArgs(2),
	RunE:  runApprove,
}

var denyCmd = &cobra.Command{
	Use:   "deny <token> <reason>",
	Short: "Deny a task awaiting human approval (spec.md §4.7)",
	Args:  cobra.ExactArgs(2),
	RunE:  runDeny,
}

func runApprove(cmd *cobra.Command, args []string) error {
	token, approverID := args[0], args[1]
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
	if err := orch.Approve(context.Background(), token, approverID); err != nil {
		return fmt.Errorf("approve: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "approved")
	return nil
}

func runDeny(cmd *cobra.Command, args []string) error {
	token, reason := args[0], args[1]
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
	if err := orch.Deny(context.Background(), token, reason); err != nil {
		return fmt.Errorf("deny: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "denied")
	return nil
}

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wfguard/orchestrator/workflow/auditlog"
)

var (
	verifyAuditDBPath   string
	verifyAuditWorkflow string
)

var verifyAuditCmd = &cobra.Command{
	Use:   "verify-audit",
	Short: "Verify the hash chain of a workflow's audit log",
	Long: `verify-audit opens the sqlite-backed audit log at --db and recomputes
every entry's content hash and previous-hash linkage for --workflow
(spec.md §4.3). A broken chain exits with code 2.`,
	RunE: runVerifyAudit,
}

func init() {
	verifyAuditCmd.Flags().StringVar(&verifyAuditDBPath, "db", "", "path to the sqlite audit log database")
	verifyAuditCmd.Flags().StringVar(&verifyAuditWorkflow, "workflow", "", "workflow id to verify")
	verifyAuditCmd.MarkFlagRequired("db")       //nolint:errcheck
	verifyAuditCmd.MarkFlagRequired("workflow") //nolint:errcheck
}

func runVerifyAudit(cmd *cobra.Command, args []string) error {
	log, err := auditlog.NewSQLiteLog(verifyAuditDBPath)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer log.Close() //nolint:errcheck

	if err := log.VerifyChain(context.Background(), verifyAuditWorkflow); err != nil {
		return fmt.Errorf("audit chain verification failed for %s: %w", verifyAuditWorkflow, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "audit log for workflow %s verified: chain intact\n", verifyAuditWorkflow)
	return nil
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wfguard/orchestrator/config"
	"github.com/wfguard/orchestrator/workflow"
)

var runCmd = &cobra.Command{
	Use:   "run <workflow-spec.json>",
	Short: "Submit and run a workflow specification to completion or the first pause point",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

// specDoc is the JSON-serializable wire form of workflow.Spec, since
// workflow.Spec carries no json tags (it is constructed programmatically by
// in-process callers per spec.md §9). This is the document the run
// subcommand accepts from a file.
type specDoc struct {
	ID              string       `json:"id"`
	TenantID        string       `json:"tenant_id"`
	Name            string       `json:"name"`
	Goal            string       `json:"goal"`
	Constraints     string       `json:"constraints"`
	SuccessCriteria string       `json:"success_criteria"`
	PrincipalID     string       `json:"principal_id"`
	Permissions     []permDoc    `json:"permissions"`
	Tasks           []taskDoc    `json:"tasks"`
}

type permDoc struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Intent     string         `json:"intent"`
	DataZone   string         `json:"data_zone"`
	Conditions map[string]any `json:"conditions"`
}

type taskDoc struct {
	ID                  string          `json:"id"`
	Name                string          `json:"name"`
	Type                string          `json:"type"`
	Tool                string          `json:"tool"`
	Inputs              map[string]any  `json:"inputs"`
	OutputSchema        map[string]any  `json:"output_schema"`
	DependsOn           []string        `json:"depends_on"`
	TimeoutMS           int64           `json:"timeout_ms"`
	RiskTier            string          `json:"risk_tier"`
	RequiredPermissions []permDoc       `json:"required_permissions"`
	AllowedTools        []string        `json:"allowed_tools"`
	Retry               *retryDoc       `json:"retry"`
	Compensation        *compensateDoc  `json:"compensation"`
}

type retryDoc struct {
	MaxAttempts       int     `json:"max_attempts"`
	BackoffMS         int64   `json:"backoff_ms"`
	BackoffMultiplier float64 `json:"backoff_multiplier"`
	Jitter            bool    `json:"jitter"`
}

type compensateDoc struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

func toPermission(p permDoc) workflow.Permission {
	return workflow.Permission{
		Action:     p.Action,
		Resource:   p.Resource,
		Intent:     workflow.Intent(p.Intent),
		DataZone:   workflow.DataZone(p.DataZone),
		Conditions: p.Conditions,
	}
}

func toSpec(doc specDoc) (*workflow.Spec, error) {
	dag := workflow.NewDAG()
	for i := range doc.Tasks {
		if doc.Tasks[i].ID == "" {
			doc.Tasks[i].ID = uuid.NewString()
		}
	}
	for _, t := range doc.Tasks {
		ts := &workflow.TaskSpec{
			ID:           t.ID,
			Name:         t.Name,
			Type:         workflow.TaskType(t.Type),
			Tool:         t.Tool,
			Inputs:       t.Inputs,
			OutputSchema: t.OutputSchema,
			Timeout:      time.Duration(t.TimeoutMS) * time.Millisecond,
			RiskTier:     workflow.RiskTier(t.RiskTier),
			AllowedTools: t.AllowedTools,
		}
		for _, p := range t.RequiredPermissions {
			ts.RequiredPermissions = append(ts.RequiredPermissions, toPermission(p))
		}
		if t.Retry != nil {
			ts.Retry = &workflow.RetryPolicy{
				MaxAttempts:       t.Retry.MaxAttempts,
				BackoffMS:         t.Retry.BackoffMS,
				BackoffMultiplier: t.Retry.BackoffMultiplier,
				Jitter:            t.Retry.Jitter,
			}
		}
		if t.Compensation != nil {
			ts.Compensation = &workflow.CompensationSpec{Tool: t.Compensation.Tool, Args: t.Compensation.Args}
		}
		if err := dag.AddTask(ts); err != nil {
			return nil, err
		}
	}
	for _, t := range doc.Tasks {
		if len(t.DependsOn) > 0 {
			dag.DependsOn(t.ID, t.DependsOn...)
		}
	}
	if err := dag.Validate(); err != nil {
		return nil, err
	}

	specID := doc.ID
	if specID == "" {
		specID = uuid.NewString()
	}
	spec := &workflow.Spec{
		ID:              specID,
		TenantID:        doc.TenantID,
		Name:            doc.Name,
		Goal:            doc.Goal,
		Constraints:     doc.Constraints,
		SuccessCriteria: doc.SuccessCriteria,
		DAG:             dag,
		PrincipalID:     doc.PrincipalID,
	}
	for _, p := range doc.Permissions {
		spec.Permissions = append(spec.Permissions, toPermission(p))
	}
	return spec, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read workflow spec: %w", err)
	}
	var doc specDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse workflow spec: %w", err)
	}
	spec, err := toSpec(doc)
	if err != nil {
		return fmt.Errorf("build workflow spec: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	orch, err := buildOrchestrator(cfg, logger)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := orch.Submit(ctx, spec); err != nil {
		return fmt.Errorf("submit workflow %s: %w", spec.ID, err)
	}
	if err := orch.Run(ctx, spec.ID); err != nil {
		return fmt.Errorf("run workflow %s: %w", spec.ID, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "workflow %s submitted and run to completion or pause\n", spec.ID)
	return nil
}

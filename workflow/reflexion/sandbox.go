package reflexion

import (
	"context"
	"fmt"
	"reflect"

	"github.com/wfguard/orchestrator/workflow"
	"github.com/wfguard/orchestrator/workflow/crv"
	"github.com/wfguard/orchestrator/workflow/memorystore"
	"github.com/wfguard/orchestrator/workflow/policygate"
	"github.com/wfguard/orchestrator/workflow/tool"
)

// Sandbox validates a FixProposal through the three gates spec.md §4.10
// requires before promotion: (1) Policy Gate allows, (2) CRV of the sandbox
// result passes, (3) a fixed set of chaos scenarios all pass. It shares the
// production PolicyGate, CRVGate, and Tool Execution Layer (spec.md §4.10
// "structurally identical to the production execution path") but keeps its
// own isolated MemoryStore so rollback-safety probing never touches
// production snapshots.
type Sandbox struct {
	policyGate *policygate.Gate
	crvGate    *crv.Gate
	toolLayer  *tool.Layer
	memory     memorystore.Store
}

// NewSandbox constructs a Sandbox over the production gates and tool layer,
// with its own isolated MemoryStore (spec.md §4.10's isolation requirement:
// "isolated validation runs must not pollute the production audit trail").
func NewSandbox(policyGate *policygate.Gate, crvGate *crv.Gate, toolLayer *tool.Layer) *Sandbox {
	return &Sandbox{
		policyGate: policyGate,
		crvGate:    crvGate,
		toolLayer:  toolLayer,
		memory:     memorystore.NewMemoryStore(),
	}
}

// ValidationInput is everything Sandbox.Validate needs to evaluate one
// FixProposal end to end.
type ValidationInput struct {
	Principal           policygate.Principal
	WorkflowID          string
	TaskID              string
	RiskTier            workflow.RiskTier
	RequiredPermissions []workflow.Permission
	AllowedTools        []string
	Invocation          tool.Invocation
	Confidence          float64
	// BoundaryArgs, if non-nil, is run through the tool and CRV gate as the
	// "boundary conditions" chaos scenario in place of Invocation.Args.
	BoundaryArgs map[string]any
}

// Report records the outcome of each of the three gates.
type Report struct {
	PolicyAllowed   bool
	PolicyReason    string
	CRVPassed       bool
	CRVReason       string
	ChaosIdempotent bool
	ChaosRollback   bool
	ChaosBoundary   bool
}

// Promoted reports whether every gate in the report passed (spec.md §4.10
// "Promote only if all three gates pass").
func (r Report) Promoted() bool {
	return r.PolicyAllowed && r.CRVPassed && r.ChaosIdempotent && r.ChaosRollback && r.ChaosBoundary
}

// Validate runs the three-gate sandbox validation for in and returns a
// Report. A non-nil error indicates the sandbox itself could not complete
// evaluation (e.g. the tool invocation errored transport-side), distinct
// from a gate simply failing, which is recorded in the returned Report.
func (s *Sandbox) Validate(ctx context.Context, in ValidationInput) (Report, error) {
	var report Report

	decision, err := s.policyGate.Evaluate(ctx, in.Principal, in.TaskID, in.WorkflowID,
		in.RiskTier, in.RequiredPermissions, in.AllowedTools, in.Invocation.Tool)
	if err != nil {
		return report, fmt.Errorf("reflexion: sandbox policy gate: %w", err)
	}
	report.PolicyAllowed = decision.State == policygate.StateAllowed
	report.PolicyReason = decision.Reason
	if !report.PolicyAllowed {
		return report, nil
	}

	result, err := s.toolLayer.Execute(ctx, in.Invocation)
	if err != nil {
		return report, fmt.Errorf("reflexion: sandbox tool execution: %w", err)
	}

	verdict, err := s.crvGate.Evaluate(ctx, crv.Commit{
		TaskID: in.TaskID, WorkflowID: in.WorkflowID, Result: result.Output, Confidence: in.Confidence,
	})
	if err != nil {
		return report, fmt.Errorf("reflexion: sandbox crv gate: %w", err)
	}
	report.CRVPassed = verdict.Passed
	report.CRVReason = verdict.Message
	if !report.CRVPassed {
		return report, nil
	}

	if err := s.chaosIdempotency(ctx, in, result, &report); err != nil {
		return report, err
	}
	if err := s.chaosRollbackSafety(ctx, in, result, &report); err != nil {
		return report, err
	}
	if err := s.chaosBoundary(ctx, in, &report); err != nil {
		return report, err
	}

	return report, nil
}

// chaosIdempotency re-invokes the same tool call and confirms the second
// attempt is served from the cache with an identical result (spec.md §4.10
// "idempotency under double-apply").
func (s *Sandbox) chaosIdempotency(ctx context.Context, in ValidationInput, first tool.Result, report *Report) error {
	second, err := s.toolLayer.Execute(ctx, in.Invocation)
	if err != nil {
		return fmt.Errorf("reflexion: sandbox idempotency probe: %w", err)
	}
	report.ChaosIdempotent = second.Replayed &&
		second.IdempotencyKey == first.IdempotencyKey &&
		reflect.DeepEqual(second.Output, first.Output)
	return nil
}

// chaosRollbackSafety writes a verified snapshot of the sandbox result into
// the isolated MemoryStore and confirms a rollback target round-trips
// exactly (spec.md §4.10 "rollback safety").
func (s *Sandbox) chaosRollbackSafety(ctx context.Context, in ValidationInput, result tool.Result, report *Report) error {
	entry, err := s.memory.Write(ctx, memorystore.Entry{
		WorkflowID: in.WorkflowID, Type: memorystore.EntrySnapshot, Content: result.Output,
		TaskID: in.TaskID, StepID: fmt.Sprintf("%d", in.Invocation.StepID),
	})
	if err != nil {
		return fmt.Errorf("reflexion: sandbox rollback probe write: %w", err)
	}
	if err := s.memory.MarkVerified(ctx, entry.ID); err != nil {
		return fmt.Errorf("reflexion: sandbox rollback probe verify: %w", err)
	}
	latest, err := s.memory.LatestVerifiedSnapshot(ctx, in.WorkflowID)
	if err != nil {
		return fmt.Errorf("reflexion: sandbox rollback probe lookup: %w", err)
	}
	report.ChaosRollback = reflect.DeepEqual(latest.Content, result.Output)
	return nil
}

// chaosBoundary re-runs the tool with BoundaryArgs, when supplied, and
// confirms the tool succeeds and the CRV gate passes its result (spec.md
// §4.10 "boundary conditions"). When no BoundaryArgs are supplied there is
// nothing to probe and the scenario passes vacuously.
func (s *Sandbox) chaosBoundary(ctx context.Context, in ValidationInput, report *Report) error {
	if in.BoundaryArgs == nil {
		report.ChaosBoundary = true
		return nil
	}
	invocation := in.Invocation
	invocation.Args = in.BoundaryArgs
	result, err := s.toolLayer.Execute(ctx, invocation)
	if err != nil {
		report.ChaosBoundary = false
		return nil
	}
	verdict, err := s.crvGate.Evaluate(ctx, crv.Commit{
		TaskID: in.TaskID, WorkflowID: in.WorkflowID, Result: result.Output, Confidence: in.Confidence,
	})
	if err != nil {
		return fmt.Errorf("reflexion: sandbox boundary probe crv: %w", err)
	}
	report.ChaosBoundary = verdict.Passed
	return nil
}

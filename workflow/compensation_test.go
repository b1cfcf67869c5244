package workflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/wfguard/orchestrator/workflow"
	"github.com/wfguard/orchestrator/workflow/cache"
	"github.com/wfguard/orchestrator/workflow/crv"
	"github.com/wfguard/orchestrator/workflow/memorystore"
	"github.com/wfguard/orchestrator/workflow/policygate"
	"github.com/wfguard/orchestrator/workflow/tool"
)

// TestRunFailureCompensatesSucceededTask builds a two-task
// workflow (t1 -> t2) where t1 declares a compensation, and t2 always fails.
// The workflow must end compensated, with t1's compensation tool invoked
// exactly once.
func TestRunFailureCompensatesSucceededTask(t *testing.T) {
	var compensateCalls int
	registry := tool.NewRegistry()
	registry.Register(succeedTool("provision"), tool.Spec{Name: "provision"})
	registry.Register(&funcTool{name: "deprovision", fn: func(_ int, _ map[string]any) (map[string]any, error) {
		compensateCalls++
		return map[string]any{"reverted": true}, nil
	}}, tool.Spec{Name: "deprovision"})
	registry.Register(&funcTool{name: "always_fail", fn: func(_ int, _ map[string]any) (map[string]any, error) {
		return nil, workflow.NewTaskError(workflow.CodeToolError, "permanent failure", false)
	}}, tool.Spec{Name: "always_fail"})

	layer := tool.NewLayer(registry, cache.NewMemoryCache())
	orch := workflow.New(
		workflow.WithToolLayer(layer),
		workflow.WithCRVGate(crv.NewGate(nil, false, 0)),
		workflow.WithPolicyGate(policygate.NewGate(time.Hour)),
		workflow.WithCompensationBestEffort(true),
	)

	dag := workflow.NewDAG()
	if err := dag.AddTask(&workflow.TaskSpec{
		ID: "t1", Type: workflow.TaskAction, Tool: "provision",
		Compensation: &workflow.CompensationSpec{Tool: "deprovision"},
	}); err != nil {
		t.Fatalf("AddTask t1: %v", err)
	}
	if err := dag.AddTask(&workflow.TaskSpec{ID: "t2", Type: workflow.TaskAction, Tool: "always_fail"}); err != nil {
		t.Fatalf("AddTask t2: %v", err)
	}
	dag.DependsOn("t2", "t1")

	spec := &workflow.Spec{ID: "wf-comp", Name: "wf-comp", DAG: dag, PrincipalID: "principal-1"}
	ctx := context.Background()
	if err := orch.Submit(ctx, spec); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := orch.Run(ctx, "wf-comp"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	state, err := orch.StateStore().Load(ctx, "wf-comp")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.Status != workflow.StatusCompensated {
		t.Errorf("Status = %v, want %v", state.Status, workflow.StatusCompensated)
	}
	if state.Tasks["t1"].Phase != workflow.PhaseSucceeded {
		t.Errorf("t1 Phase = %v, want %v", state.Tasks["t1"].Phase, workflow.PhaseSucceeded)
	}
	if state.Tasks["t2"].Phase != workflow.PhaseFailed {
		t.Errorf("t2 Phase = %v, want %v", state.Tasks["t2"].Phase, workflow.PhaseFailed)
	}
	if compensateCalls != 1 {
		t.Errorf("compensateCalls = %d, want 1", compensateCalls)
	}
}

// TestRunFailureNotBestEffortHaltsOnCompensationError confirms that when
// WithCompensationBestEffort(false), a failing compensation halts the saga
// unwind rather than continuing past it.
func TestRunFailureNotBestEffortHaltsOnCompensationError(t *testing.T) {
	registry := tool.NewRegistry()
	registry.Register(succeedTool("provision"), tool.Spec{Name: "provision"})
	registry.Register(&funcTool{name: "broken_deprovision", fn: func(_ int, _ map[string]any) (map[string]any, error) {
		return nil, workflow.NewTaskError(workflow.CodeToolError, "cannot undo", false)
	}}, tool.Spec{Name: "broken_deprovision"})
	registry.Register(&funcTool{name: "always_fail", fn: func(_ int, _ map[string]any) (map[string]any, error) {
		return nil, workflow.NewTaskError(workflow.CodeToolError, "permanent failure", false)
	}}, tool.Spec{Name: "always_fail"})

	layer := tool.NewLayer(registry, cache.NewMemoryCache())
	orch := workflow.New(
		workflow.WithToolLayer(layer),
		workflow.WithCRVGate(crv.NewGate(nil, false, 0)),
		workflow.WithPolicyGate(policygate.NewGate(time.Hour)),
		workflow.WithCompensationBestEffort(false),
	)

	dag := workflow.NewDAG()
	if err := dag.AddTask(&workflow.TaskSpec{
		ID: "t1", Type: workflow.TaskAction, Tool: "provision",
		Compensation: &workflow.CompensationSpec{Tool: "broken_deprovision"},
	}); err != nil {
		t.Fatalf("AddTask t1: %v", err)
	}
	if err := dag.AddTask(&workflow.TaskSpec{ID: "t2", Type: workflow.TaskAction, Tool: "always_fail"}); err != nil {
		t.Fatalf("AddTask t2: %v", err)
	}
	dag.DependsOn("t2", "t1")

	spec := &workflow.Spec{ID: "wf-comp-halt", Name: "wf-comp-halt", DAG: dag, PrincipalID: "principal-1"}
	ctx := context.Background()
	if err := orch.Submit(ctx, spec); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := orch.Run(ctx, "wf-comp-halt"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	state, err := orch.StateStore().Load(ctx, "wf-comp-halt")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.Status != workflow.StatusFailed {
		t.Errorf("Status = %v, want %v", state.Status, workflow.StatusFailed)
	}
}

// TestSnapshotAndRollbackRestoresContext confirms Snapshot/Rollback round-trip
// a workflow's context through a verified memory snapshot.
func TestSnapshotAndRollbackRestoresContext(t *testing.T) {
	registry := tool.NewRegistry()
	registry.Register(succeedTool("noop"), tool.Spec{Name: "noop"})
	layer := tool.NewLayer(registry, cache.NewMemoryCache())
	orch := workflow.New(
		workflow.WithToolLayer(layer),
		workflow.WithCRVGate(crv.NewGate(nil, false, 0)),
		workflow.WithPolicyGate(policygate.NewGate(time.Hour)),
	)

	dag := workflow.NewDAG()
	if err := dag.AddTask(&workflow.TaskSpec{ID: "t1", Type: workflow.TaskAction, Tool: "noop"}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	spec := &workflow.Spec{ID: "wf-snap", Name: "wf-snap", DAG: dag, PrincipalID: "principal-1"}
	ctx := context.Background()
	if err := orch.Submit(ctx, spec); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := orch.Run(ctx, "wf-snap"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	entry, err := orch.Snapshot(ctx, "wf-snap", "t1", "0", true)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !entry.Verified {
		t.Fatal("expected the snapshot to be marked verified")
	}

	state, err := orch.StateStore().Load(ctx, "wf-snap")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	state.Context["t1"] = map[string]any{"mutated": true}
	state.Version++
	if err := orch.StateStore().Save(ctx, state, nil); err != nil {
		t.Fatalf("Save mutated state: %v", err)
	}

	if err := orch.Rollback(ctx, "wf-snap"); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	restored, err := orch.StateStore().Load(ctx, "wf-snap")
	if err != nil {
		t.Fatalf("Load after rollback: %v", err)
	}
	if restored.Status != workflow.StatusAborted {
		t.Errorf("Status after rollback = %v, want %v", restored.Status, workflow.StatusAborted)
	}
	if out, ok := restored.Context["t1"].(map[string]any); !ok || out["ok"] != true {
		t.Errorf("Context[t1] after rollback = %+v, want the pre-mutation snapshot content", restored.Context["t1"])
	}
}

// TestRollbackWithoutVerifiedSnapshotFails confirms Rollback refuses to run
// when no snapshot has ever been marked verified.
func TestRollbackWithoutVerifiedSnapshotFails(t *testing.T) {
	registry := tool.NewRegistry()
	registry.Register(succeedTool("noop"), tool.Spec{Name: "noop"})
	layer := tool.NewLayer(registry, cache.NewMemoryCache())
	orch := workflow.New(
		workflow.WithToolLayer(layer),
		workflow.WithCRVGate(crv.NewGate(nil, false, 0)),
		workflow.WithPolicyGate(policygate.NewGate(time.Hour)),
		workflow.WithMemoryStore(memorystore.NewMemoryStore()),
	)

	dag := workflow.NewDAG()
	if err := dag.AddTask(&workflow.TaskSpec{ID: "t1", Type: workflow.TaskAction, Tool: "noop"}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	spec := &workflow.Spec{ID: "wf-norollback", Name: "wf-norollback", DAG: dag, PrincipalID: "principal-1"}
	ctx := context.Background()
	if err := orch.Submit(ctx, spec); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if err := orch.Rollback(ctx, "wf-norollback"); err == nil {
		t.Fatal("expected Rollback to fail without a verified snapshot")
	}
}

package reflexion_test

import (
	"testing"

	"github.com/wfguard/orchestrator/workflow"
	"github.com/wfguard/orchestrator/workflow/reflexion"
)

func TestProposeAlternateTool(t *testing.T) {
	spec := &workflow.TaskSpec{Tool: "primary", AllowedTools: []string{"primary", "backup"}}
	fix, ok := reflexion.ProposeAlternateTool(spec)
	if !ok {
		t.Fatal("expected an alternate tool to be proposed")
	}
	if fix.Kind != reflexion.FixAlternateTool || fix.AlternateTool != "backup" {
		t.Errorf("unexpected fix: %+v", fix)
	}
}

func TestProposeAlternateToolNoneAvailable(t *testing.T) {
	spec := &workflow.TaskSpec{Tool: "primary", AllowedTools: []string{"primary"}}
	if _, ok := reflexion.ProposeAlternateTool(spec); ok {
		t.Error("expected no alternate tool to be available")
	}
}

func TestProposeCRVThresholdStaysWithinBounds(t *testing.T) {
	fix, err := reflexion.ProposeCRVThreshold(0.7, +1)
	if err != nil {
		t.Fatalf("ProposeCRVThreshold: %v", err)
	}
	if fix.Kind != reflexion.FixCRVThreshold {
		t.Errorf("Kind = %v, want FixCRVThreshold", fix.Kind)
	}
	if fix.CRVThreshold < 0.5 || fix.CRVThreshold > 1.0 {
		t.Errorf("CRVThreshold = %v, out of [0.5, 1.0]", fix.CRVThreshold)
	}
	if fix.CRVThreshold <= 0.7 {
		t.Errorf("CRVThreshold = %v, want > 0.7 for direction +1", fix.CRVThreshold)
	}
}

func TestProposeCRVThresholdLowerDirection(t *testing.T) {
	fix, err := reflexion.ProposeCRVThreshold(0.9, -1)
	if err != nil {
		t.Fatalf("ProposeCRVThreshold: %v", err)
	}
	if fix.CRVThreshold >= 0.9 {
		t.Errorf("CRVThreshold = %v, want < 0.9 for direction -1", fix.CRVThreshold)
	}
}

func buildLinearDAG(t *testing.T) *workflow.DAG {
	t.Helper()
	dag := workflow.NewDAG()
	for _, id := range []string{"a", "b", "c"} {
		if err := dag.AddTask(&workflow.TaskSpec{ID: id, Type: workflow.TaskAction, Tool: "noop"}); err != nil {
			t.Fatalf("AddTask(%s): %v", id, err)
		}
	}
	dag.DependsOn("b", "a")
	return dag
}

func TestProposeReorderAcceptsAcyclicEdge(t *testing.T) {
	dag := buildLinearDAG(t)
	fix, err := reflexion.ProposeReorder(dag, "c", "b")
	if err != nil {
		t.Fatalf("ProposeReorder: %v", err)
	}
	if fix.Kind != reflexion.FixReorder || fix.ReorderAfter != "c" || fix.ReorderBefore != "b" {
		t.Errorf("unexpected fix: %+v", fix)
	}
	// Original DAG must remain unmodified until ApplyReorder is called.
	if len(dag.Dependencies["c"]) != 0 {
		t.Error("ProposeReorder must not mutate the original DAG")
	}
}

func TestProposeReorderRejectsCycle(t *testing.T) {
	dag := buildLinearDAG(t)
	if _, err := reflexion.ProposeReorder(dag, "a", "b"); err == nil {
		t.Fatal("expected a cycle error for a<-b given b already depends on a")
	}
}

func TestApplyReorderMutatesDAG(t *testing.T) {
	dag := buildLinearDAG(t)
	fix, err := reflexion.ProposeReorder(dag, "c", "b")
	if err != nil {
		t.Fatalf("ProposeReorder: %v", err)
	}
	if err := reflexion.ApplyReorder(dag, fix); err != nil {
		t.Fatalf("ApplyReorder: %v", err)
	}
	deps := dag.Dependencies["c"]
	if len(deps) != 1 || deps[0] != "b" {
		t.Errorf("Dependencies[c] = %v, want [b]", deps)
	}
}

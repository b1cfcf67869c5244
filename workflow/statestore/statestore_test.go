package statestore_test

import (
	"context"
	"testing"

	"github.com/wfguard/orchestrator/workflow"
	"github.com/wfguard/orchestrator/workflow/eventlog"
	"github.com/wfguard/orchestrator/workflow/statestore"
)

func newTestSpec(id string) *workflow.Spec {
	dag := workflow.NewDAG()
	_ = dag.AddTask(&workflow.TaskSpec{ID: "t1", Type: workflow.TaskAction, Tool: "noop"})
	return &workflow.Spec{ID: id, Name: id, DAG: dag, PrincipalID: "principal-1"}
}

func TestSaveSpecIsIdempotent(t *testing.T) {
	store := statestore.NewMemoryStore()
	ctx := context.Background()
	spec := newTestSpec("wf-1")
	if err := store.SaveSpec(ctx, spec); err != nil {
		t.Fatalf("SaveSpec: %v", err)
	}
	// A second SaveSpec for the same id must not overwrite the first.
	other := newTestSpec("wf-1")
	other.Name = "renamed"
	if err := store.SaveSpec(ctx, other); err != nil {
		t.Fatalf("second SaveSpec: %v", err)
	}
	loaded, err := store.LoadSpec(ctx, "wf-1")
	if err != nil {
		t.Fatalf("LoadSpec: %v", err)
	}
	if loaded.Name != "wf-1" {
		t.Errorf("Name = %q, want original %q (SaveSpec must reject a second write)", loaded.Name, "wf-1")
	}
}

func TestLoadSpecUnknownIDReturnsNotFound(t *testing.T) {
	store := statestore.NewMemoryStore()
	if _, err := store.LoadSpec(context.Background(), "missing"); err != statestore.ErrNotFound {
		t.Errorf("err = %v, want %v", err, statestore.ErrNotFound)
	}
}

func TestSaveEnforcesOptimisticConcurrency(t *testing.T) {
	store := statestore.NewMemoryStore()
	ctx := context.Background()
	spec := newTestSpec("wf-1")
	state := workflow.NewState(spec)
	if err := store.Save(ctx, state, nil); err != nil {
		t.Fatalf("first Save: %v", err)
	}

	// Saving with a version that skips ahead of the persisted one (0 -> 2,
	// rather than 0 -> 1) must conflict.
	skipped := workflow.NewState(spec)
	skipped.Version = 2
	if err := store.Save(ctx, skipped, nil); err != statestore.ErrConflict {
		t.Errorf("err = %v, want %v", err, statestore.ErrConflict)
	}

	// Advancing by exactly one must succeed.
	state.Version = 1
	if err := store.Save(ctx, state, nil); err != nil {
		t.Errorf("Save with sequential version: %v", err)
	}
}

func TestListReturnsWorkflowsByStatus(t *testing.T) {
	store := statestore.NewMemoryStore()
	ctx := context.Background()

	running := newTestSpec("wf-running")
	runningState := workflow.NewState(running)
	runningState.Status = workflow.StatusRunning
	if err := store.Save(ctx, runningState, nil); err != nil {
		t.Fatalf("Save running: %v", err)
	}

	done := newTestSpec("wf-done")
	doneState := workflow.NewState(done)
	doneState.Status = workflow.StatusCompleted
	if err := store.Save(ctx, doneState, nil); err != nil {
		t.Fatalf("Save done: %v", err)
	}

	ids, err := store.List(ctx, workflow.StatusRunning)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 1 || ids[0] != "wf-running" {
		t.Errorf("List(running) = %v, want [wf-running]", ids)
	}
}

func TestPendingEventsAndMarkEmitted(t *testing.T) {
	store := statestore.NewMemoryStore()
	ctx := context.Background()
	spec := newTestSpec("wf-1")
	state := workflow.NewState(spec)
	events := []eventlog.Event{
		{ID: "wf-1:e1", WorkflowID: "wf-1", Type: eventlog.EventWorkflowStarted},
		{ID: "wf-1:e2", WorkflowID: "wf-1", Type: eventlog.EventTaskStarted},
	}
	if err := store.Save(ctx, state, events); err != nil {
		t.Fatalf("Save: %v", err)
	}

	pending, err := store.PendingEvents(ctx, 0)
	if err != nil {
		t.Fatalf("PendingEvents: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("len(pending) = %d, want 2", len(pending))
	}

	if err := store.MarkEventsEmitted(ctx, []string{"wf-1:e1"}); err != nil {
		t.Fatalf("MarkEventsEmitted: %v", err)
	}
	pending, err = store.PendingEvents(ctx, 0)
	if err != nil {
		t.Fatalf("PendingEvents after mark: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "wf-1:e2" {
		t.Errorf("pending after mark = %v, want only wf-1:e2", pending)
	}
}

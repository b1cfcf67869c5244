package workflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/wfguard/orchestrator/workflow"
	"github.com/wfguard/orchestrator/workflow/auditlog"
	"github.com/wfguard/orchestrator/workflow/cache"
	"github.com/wfguard/orchestrator/workflow/crv"
	"github.com/wfguard/orchestrator/workflow/eventlog"
	"github.com/wfguard/orchestrator/workflow/memorystore"
	"github.com/wfguard/orchestrator/workflow/policygate"
	"github.com/wfguard/orchestrator/workflow/statestore"
	"github.com/wfguard/orchestrator/workflow/tool"
)

// Scenario 1: happy path, linear DAG A -> B -> C, all LOW risk, all
// deterministic tools returning {ok: true}.
func TestScenarioHappyPathLinearDAG(t *testing.T) {
	registry := tool.NewRegistry()
	registry.Register(succeedTool("noop"), tool.Spec{Name: "noop"})
	eventLog := eventlog.NewMemoryStore()
	auditLog := auditlog.NewMemoryLog()
	memStore := memorystore.NewMemoryStore()
	layer := tool.NewLayer(registry, cache.NewMemoryCache())
	orch := workflow.New(
		workflow.WithToolLayer(layer),
		workflow.WithCRVGate(crv.NewGate(nil, false, 0)),
		workflow.WithPolicyGate(policygate.NewGate(time.Hour)),
		workflow.WithEventLog(eventLog),
		workflow.WithAuditLog(auditLog),
		workflow.WithMemoryStore(memStore),
	)

	dag := workflow.NewDAG()
	for _, id := range []string{"A", "B", "C"} {
		if err := dag.AddTask(&workflow.TaskSpec{ID: id, Type: workflow.TaskAction, Tool: "noop", RiskTier: workflow.RiskLow}); err != nil {
			t.Fatalf("AddTask(%s): %v", id, err)
		}
	}
	dag.DependsOn("B", "A")
	dag.DependsOn("C", "B")

	spec := &workflow.Spec{ID: "wf-1", TenantID: "t-1", Name: "wf-1", DAG: dag, PrincipalID: "principal-1"}
	ctx := context.Background()
	if err := orch.Submit(ctx, spec); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := orch.Run(ctx, "wf-1"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	state, err := orch.StateStore().Load(ctx, "wf-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.Status != workflow.StatusCompleted {
		t.Fatalf("Status = %v, want %v", state.Status, workflow.StatusCompleted)
	}

	events, err := eventLog.Read(ctx, "wf-1")
	if err != nil {
		t.Fatalf("Read events: %v", err)
	}
	var types []eventlog.Type
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	wantPrefix := []eventlog.Type{eventlog.EventWorkflowStarted}
	if len(types) == 0 || types[0] != wantPrefix[0] {
		t.Fatalf("events = %v, want to start with %v", types, wantPrefix)
	}
	if types[len(types)-1] != eventlog.EventWorkflowCompleted {
		t.Fatalf("last event = %v, want %v", types[len(types)-1], eventlog.EventWorkflowCompleted)
	}
	var startedCount, succeededCount int
	for _, tp := range types {
		if tp == eventlog.EventTaskStarted {
			startedCount++
		}
		if tp == eventlog.EventTaskSucceeded {
			succeededCount++
		}
	}
	if startedCount != 3 || succeededCount != 3 {
		t.Errorf("startedCount=%d succeededCount=%d, want 3 and 3", startedCount, succeededCount)
	}

	if err := auditLog.VerifyChain(ctx, "wf-1"); err != nil {
		t.Errorf("VerifyChain: %v", err)
	}

	timeline, err := memStore.Timeline(ctx, "wf-1")
	if err != nil {
		t.Fatalf("Timeline: %v", err)
	}
	var lifecycleCount int
	for _, e := range timeline {
		for _, tag := range e.Tags {
			if tag == "task_lifecycle" {
				lifecycleCount++
			}
		}
	}
	if lifecycleCount != 6 {
		t.Errorf("task_lifecycle memory entries = %d, want 6 (start+success for each of 3 tasks)", lifecycleCount)
	}
}

// Scenario 2: task B fails twice then succeeds, with exponential backoff
// retry {max_attempts: 3, backoff_ms: 10, backoff_multiplier: 2}.
func TestScenarioRetryThenSucceed(t *testing.T) {
	flaky := &funcTool{name: "flaky", fn: func(calls int, _ map[string]any) (map[string]any, error) {
		if calls < 3 {
			return nil, workflow.NewTaskError(workflow.CodeToolError, "transient", true)
		}
		return map[string]any{"ok": true}, nil
	}}
	registry := tool.NewRegistry()
	registry.Register(flaky, tool.Spec{Name: "flaky", SideEffecting: true, Idempotency: tool.StrategyCacheReplay})
	resultCache := cache.NewMemoryCache()
	layer := tool.NewLayer(registry, resultCache)
	eventLog := eventlog.NewMemoryStore()
	orch := workflow.New(
		workflow.WithToolLayer(layer),
		workflow.WithCRVGate(crv.NewGate(nil, false, 0)),
		workflow.WithPolicyGate(policygate.NewGate(time.Hour)),
		workflow.WithEventLog(eventLog),
	)

	dag := workflow.NewDAG()
	if err := dag.AddTask(&workflow.TaskSpec{
		ID: "B", Type: workflow.TaskAction, Tool: "flaky",
		Retry: &workflow.RetryPolicy{MaxAttempts: 3, BackoffMS: 10, BackoffMultiplier: 2},
	}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	spec := &workflow.Spec{ID: "wf-2", Name: "wf-2", DAG: dag, PrincipalID: "principal-1"}
	ctx := context.Background()
	if err := orch.Submit(ctx, spec); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	start := time.Now()
	if err := orch.Run(ctx, "wf-2"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	elapsed := time.Since(start)
	if elapsed < 30*time.Millisecond {
		t.Errorf("elapsed = %v, want at least ~30ms (10ms + 20ms backoff)", elapsed)
	}

	state, err := orch.StateStore().Load(ctx, "wf-2")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.Status != workflow.StatusCompleted {
		t.Fatalf("Status = %v, want %v", state.Status, workflow.StatusCompleted)
	}
	if state.Tasks["B"].Attempt != 3 {
		t.Errorf("Attempt = %d, want 3", state.Tasks["B"].Attempt)
	}
	if flaky.calls != 3 {
		t.Errorf("calls = %d, want 3", flaky.calls)
	}

	events, _ := eventLog.Read(ctx, "wf-2")
	var startedAttempts []int
	for _, ev := range events {
		if ev.Type == eventlog.EventTaskStarted && ev.TaskID == "B" {
			startedAttempts = append(startedAttempts, 1) // one started event per round, not per attempt
		}
	}
	if len(startedAttempts) != 1 {
		t.Errorf("task_started events for B = %d, want 1 (attempts are internal to the single started/succeeded span)", len(startedAttempts))
	}

	key, err := tool.ComputeIdempotencyKey("B", 3, "flaky", map[string]any{})
	if err != nil {
		t.Fatalf("ComputeIdempotencyKey: %v", err)
	}
	if has, _ := resultCache.Has(ctx, key); !has {
		t.Error("expected exactly one cached successful result keyed by attempt 3's idempotency key")
	}
}

// Scenario 3: CRV blocks a commit (value > 0 validator; task returns
// {value: -5}); workflow enters compensation, any earlier side-effecting
// task with a registered compensation is invoked exactly once.
func TestScenarioCRVBlocksCommitTriggersCompensation(t *testing.T) {
	var compensateCalls int
	registry := tool.NewRegistry()
	registry.Register(succeedTool("provision"), tool.Spec{Name: "provision"})
	registry.Register(&funcTool{name: "deprovision", fn: func(_ int, _ map[string]any) (map[string]any, error) {
		compensateCalls++
		return map[string]any{"reverted": true}, nil
	}}, tool.Spec{Name: "deprovision"})
	registry.Register(&funcTool{name: "negative", fn: func(_ int, _ map[string]any) (map[string]any, error) {
		return map[string]any{"value": -5.0}, nil
	}}, tool.Spec{Name: "negative"})

	layer := tool.NewLayer(registry, cache.NewMemoryCache())
	crvGate := crv.NewGate([]crv.Validator{
		&crv.PredicateValidator{
			ValidatorName: "positive_value",
			Code:          workflow.CRVOutOfScope,
			Predicate: func(c crv.Commit) (bool, string) {
				v, _ := c.Result["value"].(float64)
				if v > 0 {
					return true, ""
				}
				return false, "value must be > 0"
			},
		},
	}, true, 0)
	orch := workflow.New(
		workflow.WithToolLayer(layer),
		workflow.WithCRVGate(crvGate),
		workflow.WithPolicyGate(policygate.NewGate(time.Hour)),
	)

	dag := workflow.NewDAG()
	if err := dag.AddTask(&workflow.TaskSpec{
		ID: "A", Type: workflow.TaskAction, Tool: "provision",
		Compensation: &workflow.CompensationSpec{Tool: "deprovision"},
	}); err != nil {
		t.Fatalf("AddTask A: %v", err)
	}
	if err := dag.AddTask(&workflow.TaskSpec{ID: "B", Type: workflow.TaskAction, Tool: "negative"}); err != nil {
		t.Fatalf("AddTask B: %v", err)
	}
	dag.DependsOn("B", "A")

	spec := &workflow.Spec{ID: "wf-3", Name: "wf-3", DAG: dag, PrincipalID: "principal-1"}
	ctx := context.Background()
	if err := orch.Submit(ctx, spec); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := orch.Run(ctx, "wf-3"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	state, err := orch.StateStore().Load(ctx, "wf-3")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.Tasks["B"].Phase != workflow.PhaseFailed {
		t.Fatalf("B Phase = %v, want %v", state.Tasks["B"].Phase, workflow.PhaseFailed)
	}
	if state.Tasks["B"].LastError == nil || state.Tasks["B"].LastError.Code != workflow.CodeCRVBlocked {
		t.Fatalf("B LastError = %+v, want CodeCRVBlocked", state.Tasks["B"].LastError)
	}
	if state.Tasks["B"].LastError.CRVCode != workflow.CRVOutOfScope {
		t.Errorf("B LastError.CRVCode = %v, want %v", state.Tasks["B"].LastError.CRVCode, workflow.CRVOutOfScope)
	}
	if state.Status != workflow.StatusCompensated {
		t.Errorf("Status = %v, want %v", state.Status, workflow.StatusCompensated)
	}
	if compensateCalls != 1 {
		t.Errorf("compensateCalls = %d, want 1", compensateCalls)
	}
}

// Scenario 4: task C declared HIGH; policy gate returns pending_human with
// an approval token. A second approve call with the same token fails.
func TestScenarioHighRiskGatedApproval(t *testing.T) {
	registry := tool.NewRegistry()
	registry.Register(succeedTool("noop"), tool.Spec{Name: "noop"})
	registry.Register(succeedTool("deploy"), tool.Spec{Name: "deploy"})
	auditLog := auditlog.NewMemoryLog()
	eventLog := eventlog.NewMemoryStore()
	layer := tool.NewLayer(registry, cache.NewMemoryCache())
	orch := workflow.New(
		workflow.WithToolLayer(layer),
		workflow.WithCRVGate(crv.NewGate(nil, false, 0)),
		workflow.WithPolicyGate(policygate.NewGate(time.Hour)),
		workflow.WithAuditLog(auditLog),
		workflow.WithEventLog(eventLog),
	)

	dag := workflow.NewDAG()
	for _, id := range []string{"A", "B"} {
		if err := dag.AddTask(&workflow.TaskSpec{ID: id, Type: workflow.TaskAction, Tool: "noop", RiskTier: workflow.RiskLow}); err != nil {
			t.Fatalf("AddTask(%s): %v", id, err)
		}
	}
	if err := dag.AddTask(&workflow.TaskSpec{ID: "C", Type: workflow.TaskAction, Tool: "deploy", RiskTier: workflow.RiskHigh}); err != nil {
		t.Fatalf("AddTask C: %v", err)
	}

	spec := &workflow.Spec{ID: "wf-4", Name: "wf-4", DAG: dag, PrincipalID: "principal-1"}
	ctx := context.Background()
	if err := orch.Submit(ctx, spec); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := orch.Run(ctx, "wf-4"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	state, err := orch.StateStore().Load(ctx, "wf-4")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.Tasks["A"].Phase != workflow.PhaseSucceeded || state.Tasks["B"].Phase != workflow.PhaseSucceeded {
		t.Fatalf("A and B should have proceeded while C is suspended: A=%v B=%v", state.Tasks["A"].Phase, state.Tasks["B"].Phase)
	}
	if state.Tasks["C"].Phase != workflow.PhaseAwaitingApproval {
		t.Fatalf("C Phase = %v, want %v", state.Tasks["C"].Phase, workflow.PhaseAwaitingApproval)
	}
	token := state.Tasks["C"].ApprovalToken

	if err := orch.Approve(ctx, token, "approver-1"); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if err := orch.Approve(ctx, token, "approver-2"); err == nil {
		t.Fatal("a second Approve call with an already-consumed token must fail")
	}

	state, err = orch.StateStore().Load(ctx, "wf-4")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.Status != workflow.StatusCompleted {
		t.Fatalf("Status = %v, want %v", state.Status, workflow.StatusCompleted)
	}

	var startedC int
	events, _ := eventLog.Read(ctx, "wf-4")
	for _, ev := range events {
		if ev.TaskID == "C" && ev.Type == eventlog.EventTaskStarted {
			startedC++
		}
	}
	if startedC != 1 {
		t.Errorf("task_started(C) events = %d, want exactly 1", startedC)
	}

	entries, err := auditLog.Read(ctx, "wf-4")
	if err != nil {
		t.Fatalf("Read audit log: %v", err)
	}
	var sawPending, sawApproved bool
	var pendingBeforeApproved bool
	for _, e := range entries {
		if e.Action == "policy_evaluate" && e.StateAfter["decision"] == "pending_human" {
			sawPending = true
		}
		if e.Action == "task_approved" {
			sawApproved = true
			pendingBeforeApproved = sawPending
		}
	}
	if !sawPending || !sawApproved || !pendingBeforeApproved {
		t.Errorf("audit trail must contain evaluate(pending_human) before task_approved: pending=%v approved=%v order=%v",
			sawPending, sawApproved, pendingBeforeApproved)
	}
}

// Scenario 5: crash and resume. After A and B succeed, a fresh Orchestrator
// backed by the same durable stores re-dispatches the still-pending task,
// without re-invoking the tools for already-succeeded tasks.
func TestScenarioCrashAndResume(t *testing.T) {
	aTool := succeedTool("toolA")
	bTool := succeedTool("toolB")
	cTool := succeedTool("toolC")
	registry := tool.NewRegistry()
	registry.Register(aTool, tool.Spec{Name: "toolA"})
	registry.Register(bTool, tool.Spec{Name: "toolB"})
	registry.Register(cTool, tool.Spec{Name: "toolC"})
	stateStore := statestore.NewMemoryStore()
	eventLog := eventlog.NewMemoryStore()
	auditLog := auditlog.NewMemoryLog()
	layer := tool.NewLayer(registry, cache.NewMemoryCache())

	buildOrch := func() *workflow.Orchestrator {
		return workflow.New(
			workflow.WithStateStore(stateStore),
			workflow.WithEventLog(eventLog),
			workflow.WithAuditLog(auditLog),
			workflow.WithToolLayer(layer),
			workflow.WithCRVGate(crv.NewGate(nil, false, 0)),
			workflow.WithPolicyGate(policygate.NewGate(time.Hour)),
		)
	}

	dag := workflow.NewDAG()
	if err := dag.AddTask(&workflow.TaskSpec{ID: "A", Type: workflow.TaskAction, Tool: "toolA"}); err != nil {
		t.Fatalf("AddTask A: %v", err)
	}
	if err := dag.AddTask(&workflow.TaskSpec{ID: "B", Type: workflow.TaskAction, Tool: "toolB"}); err != nil {
		t.Fatalf("AddTask B: %v", err)
	}
	if err := dag.AddTask(&workflow.TaskSpec{ID: "C", Type: workflow.TaskAction, Tool: "toolC"}); err != nil {
		t.Fatalf("AddTask C: %v", err)
	}
	dag.DependsOn("B", "A")
	dag.DependsOn("C", "B")

	spec := &workflow.Spec{ID: "wf-5", Name: "wf-5", DAG: dag, PrincipalID: "principal-1"}
	ctx := context.Background()

	firstOrch := buildOrch()
	if err := firstOrch.Submit(ctx, spec); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Simulate a crash mid-C: persist a state directly where A and B have
	// already succeeded and C is still pending, bypassing Run entirely so
	// no in-process goroutine for C ever starts in this test process.
	state, err := firstOrch.StateStore().Load(ctx, "wf-5")
	if err != nil {
		t.Fatalf("Load initial state: %v", err)
	}
	now := time.Now().UTC()
	state.Status = workflow.StatusRunning
	state.StartedAt = &now
	state.Tasks["A"].Phase = workflow.PhaseSucceeded
	state.Tasks["A"].Output = map[string]any{"ok": true}
	state.Tasks["B"].Phase = workflow.PhaseSucceeded
	state.Tasks["B"].Output = map[string]any{"ok": true}
	state.Context["A"] = map[string]any{"ok": true}
	state.Context["B"] = map[string]any{"ok": true}
	state.Version++
	if err := stateStore.Save(ctx, state, nil); err != nil {
		t.Fatalf("Save crash-point state: %v", err)
	}

	// A brand new Orchestrator, as after a process restart, resumes the
	// workflow from durable state alone.
	secondOrch := buildOrch()
	if err := secondOrch.Run(ctx, "wf-5"); err != nil {
		t.Fatalf("resumed Run: %v", err)
	}

	final, err := secondOrch.StateStore().Load(ctx, "wf-5")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if final.Status != workflow.StatusCompleted {
		t.Fatalf("Status = %v, want %v", final.Status, workflow.StatusCompleted)
	}
	for _, id := range []string{"A", "B", "C"} {
		if final.Tasks[id].Phase != workflow.PhaseSucceeded {
			t.Errorf("%s Phase = %v, want %v", id, final.Tasks[id].Phase, workflow.PhaseSucceeded)
		}
	}
	if aTool.calls != 0 || bTool.calls != 0 {
		t.Errorf("toolA calls=%d toolB calls=%d, want 0: A and B must not be re-invoked on resume", aTool.calls, bTool.calls)
	}
	if cTool.calls != 1 {
		t.Errorf("toolC calls=%d, want 1", cTool.calls)
	}
	if err := auditLog.VerifyChain(ctx, "wf-5"); err != nil {
		t.Errorf("VerifyChain after resume: %v", err)
	}
}

// Scenario 6: rollback. After C succeeds and is CRV-verified, a verified
// snapshot is recorded; a later task D "corrupts" the context; the operator
// rolls back; the workflow ends aborted with the snapshot restored and an
// audit entry recorded.
func TestScenarioRollback(t *testing.T) {
	registry := tool.NewRegistry()
	registry.Register(succeedTool("noop"), tool.Spec{Name: "noop"})
	auditLog := auditlog.NewMemoryLog()
	memStore := memorystore.NewMemoryStore()
	layer := tool.NewLayer(registry, cache.NewMemoryCache())
	orch := workflow.New(
		workflow.WithToolLayer(layer),
		workflow.WithCRVGate(crv.NewGate(nil, false, 0)),
		workflow.WithPolicyGate(policygate.NewGate(time.Hour)),
		workflow.WithAuditLog(auditLog),
		workflow.WithMemoryStore(memStore),
	)

	dag := workflow.NewDAG()
	if err := dag.AddTask(&workflow.TaskSpec{ID: "C", Type: workflow.TaskAction, Tool: "noop"}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	spec := &workflow.Spec{ID: "wf-6", Name: "wf-6", DAG: dag, PrincipalID: "principal-1"}
	ctx := context.Background()
	if err := orch.Submit(ctx, spec); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := orch.Run(ctx, "wf-6"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	verified, err := orch.Snapshot(ctx, "wf-6", "C", "0", true)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	// Stand-in for a later task D: corrupt the workflow's context directly.
	state, err := orch.StateStore().Load(ctx, "wf-6")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	state.Context["C"] = map[string]any{"corrupted": true}
	state.Version++
	if err := orch.StateStore().Save(ctx, state, nil); err != nil {
		t.Fatalf("Save corrupted state: %v", err)
	}

	latest, err := memStore.LatestVerifiedSnapshot(ctx, "wf-6")
	if err != nil {
		t.Fatalf("LatestVerifiedSnapshot: %v", err)
	}
	if latest.ID != verified.ID {
		t.Fatalf("LatestVerifiedSnapshot = %s, want %s", latest.ID, verified.ID)
	}

	if err := orch.Rollback(ctx, "wf-6"); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	restored, err := orch.StateStore().Load(ctx, "wf-6")
	if err != nil {
		t.Fatalf("Load after rollback: %v", err)
	}
	if restored.Status != workflow.StatusAborted {
		t.Errorf("Status after rollback = %v, want %v", restored.Status, workflow.StatusAborted)
	}
	if out, ok := restored.Context["C"].(map[string]any); !ok || out["ok"] != true {
		t.Errorf("Context[C] after rollback = %+v, want the pre-corruption snapshot content", restored.Context["C"])
	}

	entries, err := auditLog.Read(ctx, "wf-6")
	if err != nil {
		t.Fatalf("Read audit log: %v", err)
	}
	var foundRollback bool
	for _, e := range entries {
		if e.Action == "workflow_rollback" {
			foundRollback = true
		}
	}
	if !foundRollback {
		t.Error("expected a workflow_rollback audit entry")
	}
	if err := auditLog.VerifyChain(ctx, "wf-6"); err != nil {
		t.Errorf("VerifyChain: %v", err)
	}
}

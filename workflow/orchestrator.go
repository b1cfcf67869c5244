package workflow

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/wfguard/orchestrator/workflow/auditlog"
	"github.com/wfguard/orchestrator/workflow/crv"
	"github.com/wfguard/orchestrator/workflow/eventlog"
	"github.com/wfguard/orchestrator/workflow/memorystore"
	"github.com/wfguard/orchestrator/workflow/policygate"
	"github.com/wfguard/orchestrator/workflow/statestore"
	"github.com/wfguard/orchestrator/workflow/tool"
)

// Orchestrator drives DAG-governed workflow execution: dependency-satisfaction
// scheduling (scheduler.go), per-task policy gating, tool invocation, CRV
// verification, and saga compensation. Grounded on graph/engine.go's Engine,
// generalized from a single typed-state execution loop driven by explicit
// node routing to a dependency-satisfaction ready-set loop driven by
// scheduler.go's readySet/skipSet over a dynamic map[string]any context.
type Orchestrator struct {
	cfg *orchestratorConfig

	mu               sync.Mutex
	pendingApprovals map[string]approvalRef // token -> (workflow, task)
}

type approvalRef struct {
	workflowID string
	taskID     string
}

// New constructs an Orchestrator from the given options, defaulting to
// in-memory backends suitable for a single process (defaultConfig).
func New(opts ...Option) *Orchestrator {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return &Orchestrator{cfg: cfg, pendingApprovals: make(map[string]approvalRef)}
}

// workflowRNG derives a deterministic RNG seed from the workflow id, the same
// way graph/engine.go's initRNG seeds per-run randomness, so retry jitter is
// reproducible across Resume calls for the same workflow.
func workflowRNG(workflowID string) *rand.Rand {
	h := sha256.Sum256([]byte(workflowID))
	seed := int64(binary.BigEndian.Uint64(h[:8])) // #nosec G115 -- deterministic seeding, not security-sensitive
	return rand.New(rand.NewSource(seed))         // #nosec G404 -- jitter timing only
}

// Submit registers a new workflow specification and its initial pending
// state (spec.md §4.9 "Submission"). The spec's DAG must already be
// structurally valid (spec.DAG.Validate).
func (o *Orchestrator) Submit(ctx context.Context, spec *Spec) error {
	if spec == nil || spec.ID == "" || spec.DAG == nil {
		return NewTaskError(CodeInvalidSpec, "workflow spec, id, and dag are required", false)
	}
	if err := spec.DAG.Validate(); err != nil {
		return err
	}
	for _, t := range spec.DAG.Tasks {
		if err := t.Retry.Validate(); err != nil {
			return err
		}
	}

	if err := o.cfg.stateStore.SaveSpec(ctx, spec); err != nil {
		return fmt.Errorf("orchestrator: save spec: %w", err)
	}

	state := NewState(spec)
	now := time.Now().UTC()
	state.StartedAt = &now
	state.Status = StatusPending

	event := eventlog.Event{
		ID: spec.ID + ":submitted", WorkflowID: spec.ID,
		Type: eventlog.EventWorkflowStarted, Timestamp: now,
	}
	if err := o.cfg.eventLog.Append(ctx, spec.ID, []eventlog.Event{event}); err != nil {
		return fmt.Errorf("orchestrator: append submit event: %w", err)
	}
	if err := o.cfg.stateStore.Save(ctx, state, []eventlog.Event{event}); err != nil {
		return fmt.Errorf("orchestrator: save initial state: %w", err)
	}
	if _, err := o.cfg.auditLog.Append(ctx, spec.ID, spec.PrincipalID, "workflow_submitted", nil,
		map[string]any{"status": string(state.Status)}, map[string]any{"goal": spec.Goal}); err != nil {
		return fmt.Errorf("orchestrator: audit submit: %w", err)
	}
	o.cfg.logger.Info("workflow submitted", zap.String("workflow_id", spec.ID), zap.String("name", spec.Name))
	return nil
}

// Run drives a submitted workflow's execution loop until every task reaches
// a terminal phase, or until the workflow pauses waiting on a human approval
// (spec.md §4.9 "execution loop"). Run is idempotent to call again on a
// paused or crashed-and-recovered workflow: it always starts from the
// durably persisted state (spec.md §4.9 "Resumption").
func (o *Orchestrator) Run(ctx context.Context, workflowID string) error {
	spec, state, err := o.load(ctx, workflowID)
	if err != nil {
		return err
	}

	if state.Status == StatusPending {
		state.Status = StatusRunning
	}
	if state.Status != StatusRunning {
		return nil
	}

	rng := workflowRNG(workflowID)
	var stateMu sync.Mutex

	for {
		if state.AllTerminal() {
			break
		}

		skip := skipSet(spec.DAG, state)
		var roundEvents []eventlog.Event
		for _, id := range skip {
			state.Tasks[id].Phase = PhaseSkipped
			roundEvents = append(roundEvents, eventlog.Event{
				ID: workflowID + ":" + id + ":skipped", WorkflowID: workflowID, TaskID: id,
				Type: eventlog.EventTaskSkipped, Timestamp: time.Now().UTC(),
			})
		}

		ready := readySet(spec.DAG, state)
		if len(ready) == 0 {
			if len(roundEvents) > 0 {
				if err := o.persistRound(ctx, state, roundEvents); err != nil {
					return err
				}
			}
			if state.AllTerminal() {
				break
			}
			// No ready work and not terminal: the workflow is paused on an
			// awaiting-approval task or an async dependency that has not yet
			// resolved. Leave status running and return for the caller to
			// retry Run later (e.g. after Approve/Deny).
			return o.persistRound(ctx, state, nil)
		}

		sem := make(chan struct{}, o.cfg.maxConcurrentTasks)
		var wg sync.WaitGroup
		eventsCh := make(chan eventlog.Event, len(ready)*4)
		for _, id := range ready {
			id := id
			state.Tasks[id].Phase = PhaseReady
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				for _, ev := range o.executeTask(ctx, spec, state, id, rng, &stateMu) {
					eventsCh <- ev
				}
			}()
		}
		wg.Wait()
		close(eventsCh)
		for ev := range eventsCh {
			roundEvents = append(roundEvents, ev)
		}

		o.cfg.metrics.setActiveTasks(0)
		if err := o.persistRound(ctx, state, roundEvents); err != nil {
			return err
		}
	}

	return o.finalize(ctx, spec, state)
}

// persistRound appends this round's events ahead of the state save (spec.md
// §4.2 write-ahead discipline) and durably persists the updated state.
func (o *Orchestrator) persistRound(ctx context.Context, state *State, events []eventlog.Event) error {
	if len(events) > 0 {
		if err := o.cfg.eventLog.Append(ctx, state.WorkflowID, events); err != nil {
			return fmt.Errorf("orchestrator: append round events: %w", err)
		}
	}
	state.Version++
	if err := o.cfg.stateStore.Save(ctx, state, events); err != nil {
		return fmt.Errorf("orchestrator: save state: %w", err)
	}
	return nil
}

func (o *Orchestrator) load(ctx context.Context, workflowID string) (*Spec, *State, error) {
	spec, err := o.cfg.stateStore.LoadSpec(ctx, workflowID)
	if err != nil {
		return nil, nil, fmt.Errorf("orchestrator: load spec: %w", err)
	}
	state, err := o.cfg.stateStore.Load(ctx, workflowID)
	if err != nil {
		return nil, nil, fmt.Errorf("orchestrator: load state: %w", err)
	}
	return spec, state, nil
}

// finalize settles a workflow whose ready set has drained: completed if
// every task succeeded or was skipped, otherwise failed and then
// compensated.
func (o *Orchestrator) finalize(ctx context.Context, spec *Spec, state *State) error {
	now := time.Now().UTC()
	state.EndedAt = &now

	if state.AllSucceeded() {
		state.Status = StatusCompleted
		return o.persistTerminal(ctx, state, eventlog.EventWorkflowCompleted, "workflow_completed")
	}

	state.Status = StatusFailed
	if err := o.persistTerminal(ctx, state, eventlog.EventWorkflowFailed, "workflow_failed"); err != nil {
		return err
	}
	return o.compensate(ctx, spec, state)
}

func (o *Orchestrator) persistTerminal(ctx context.Context, state *State, eventType eventlog.Type, action string) error {
	event := eventlog.Event{
		ID: state.WorkflowID + ":" + action, WorkflowID: state.WorkflowID,
		Type: eventType, Timestamp: time.Now().UTC(),
	}
	if _, err := o.cfg.auditLog.Append(ctx, state.WorkflowID, "system", action, nil,
		map[string]any{"status": string(state.Status)}, nil); err != nil {
		return fmt.Errorf("orchestrator: audit %s: %w", action, err)
	}
	return o.persistRound(ctx, state, []eventlog.Event{event})
}

// writeMemoryNote appends an audit entry recording a memory write and then
// persists the entry itself, linking the two via SourceAuditID (spec.md
// §4.4 "Memory writes automatically append a matching audit entry").
func (o *Orchestrator) writeMemoryNote(ctx context.Context, workflowID, taskID, stepID string, entryType memorystore.EntryType, content map[string]any, tags []string, sourceEventID string) (memorystore.Entry, error) {
	auditEntry, err := o.cfg.auditLog.Append(ctx, workflowID, "system", "memory_write", nil,
		map[string]any{"type": string(entryType), "tags": tags},
		map[string]any{"task_id": taskID, "step_id": stepID, "source_event_id": sourceEventID})
	if err != nil {
		return memorystore.Entry{}, fmt.Errorf("orchestrator: audit memory write: %w", err)
	}
	return o.cfg.memoryStore.Write(ctx, memorystore.Entry{
		WorkflowID: workflowID, Type: entryType, Content: content,
		TaskID: taskID, StepID: stepID, SourceAuditID: strconv.FormatInt(auditEntry.Seq, 10),
		Tags: tags, Metadata: map[string]any{"source_event_id": sourceEventID},
	})
}

// executeTask runs one task to a terminal or paused outcome: policy gate,
// retried tool invocation, and CRV verification. Returns the events produced
// so the caller can batch them into one write-ahead append per round.
// stateMu guards the shared State.Context/CompensationStack across
// concurrently executing tasks within the same round.
func (o *Orchestrator) executeTask(ctx context.Context, spec *Spec, state *State, taskID string, rng *rand.Rand, stateMu *sync.Mutex) []eventlog.Event {
	ctx, span := o.cfg.tracer.Start(ctx, "task."+taskID)
	span.SetAttributes(attribute.String("workflow_id", state.WorkflowID), attribute.String("task_id", taskID))
	defer span.End()

	taskSpec := spec.DAG.Tasks[taskID]
	ts := state.Tasks[taskID]
	var events []eventlog.Event

	now := time.Now().UTC()
	ts.Phase = PhaseRunning
	ts.StartedAt = &now
	startEvent := eventlog.Event{
		ID: state.WorkflowID + ":" + taskID + ":started", WorkflowID: state.WorkflowID, TaskID: taskID,
		Type: eventlog.EventTaskStarted, Timestamp: now,
	}
	events = append(events, startEvent)
	if _, err := o.writeMemoryNote(ctx, state.WorkflowID, taskID, "0", memorystore.EntryEpisodicNote,
		map[string]any{"phase": "started"}, []string{"task_lifecycle"}, startEvent.ID); err != nil {
		return o.failTask(state, ts, taskID, NewTaskError(CodeToolError, err.Error(), false), events)
	}

	principal := policygate.Principal{ID: spec.PrincipalID, Permissions: spec.Permissions}
	decision, err := o.cfg.policyGate.Evaluate(ctx, principal, taskID, state.WorkflowID, taskSpec.RiskTier,
		taskSpec.RequiredPermissions, taskSpec.AllowedTools, taskSpec.Tool)
	if err != nil {
		return o.failTask(state, ts, taskID, NewTaskError(CodeToolError, err.Error(), false), events)
	}

	auditProvenance := map[string]any{"principal": principal.ID, "action": taskID}
	if decision.ApprovalToken != "" {
		auditProvenance["token"] = decision.ApprovalToken
	}
	if _, auditErr := o.cfg.auditLog.Append(ctx, state.WorkflowID, principal.ID, "policy_evaluate", nil,
		map[string]any{"decision": string(decision.State), "reason": decision.Reason}, auditProvenance); auditErr != nil {
		return o.failTask(state, ts, taskID, NewTaskError(CodeToolError, auditErr.Error(), false), events)
	}

	switch decision.State {
	case policygate.StateDenied:
		o.cfg.metrics.incPolicyDenial(state.WorkflowID, decision.Code)
		span.SetStatus(codes.Error, decision.Reason)
		taskErr := &TaskError{Code: decision.Code, Message: decision.Reason, TaskID: taskID}
		events = append(events, eventlog.Event{
			ID: state.WorkflowID + ":" + taskID + ":denied", WorkflowID: state.WorkflowID, TaskID: taskID,
			Type: eventlog.EventTaskDenied, Timestamp: time.Now().UTC(),
			Meta: map[string]any{"reason": decision.Reason},
		})
		return o.failTask(state, ts, taskID, taskErr, events)
	case policygate.StatePendingHuman:
		ts.Phase = PhaseAwaitingApproval
		ts.ApprovalToken = decision.ApprovalToken
		o.mu.Lock()
		o.pendingApprovals[decision.ApprovalToken] = approvalRef{workflowID: state.WorkflowID, taskID: taskID}
		o.mu.Unlock()
		o.cfg.metrics.setApprovalQueueSize(len(o.pendingApprovals))
		events = append(events, eventlog.Event{
			ID: state.WorkflowID + ":" + taskID + ":awaiting_approval", WorkflowID: state.WorkflowID, TaskID: taskID,
			Type: eventlog.EventTaskAwaitingApproval, Timestamp: time.Now().UTC(),
			Meta: map[string]any{"required_approvers": decision.RequiredApprovers},
		})
		return events
	}

	return o.runTaskAction(ctx, spec, state, taskID, rng, stateMu, events)
}

// runTaskAction executes the tool/CRV portion of a task once its policy gate
// check has already passed (either inline in executeTask, or because a human
// approval just consumed the pending request).
func (o *Orchestrator) runTaskAction(ctx context.Context, spec *Spec, state *State, taskID string, rng *rand.Rand, stateMu *sync.Mutex, events []eventlog.Event) []eventlog.Event {
	taskSpec := spec.DAG.Tasks[taskID]
	ts := state.Tasks[taskID]

	for {
		ts.Attempt++
		timeout := taskSpec.Timeout
		if timeout <= 0 {
			timeout = o.cfg.defaultTaskTimeout
		}

		stateMu.Lock()
		args := mergeArgs(taskSpec.Inputs, state.Context)
		stateMu.Unlock()

		start := time.Now()
		result, err := o.cfg.toolLayer.Execute(ctx, tool.Invocation{
			TaskID: taskID, StepID: ts.Attempt, Tool: taskSpec.Tool, Args: args,
			OutputSchema: taskSpec.OutputSchema, Timeout: timeout,
		})
		latency := time.Since(start)

		if err != nil {
			taskErr, _ := err.(*TaskError)
			if taskErr == nil {
				taskErr = NewTaskError(CodeToolError, err.Error(), true)
			}
			o.cfg.metrics.recordTaskLatency(state.WorkflowID, taskID, latency, "error")
			if shouldRetry(taskSpec.Retry, ts.Attempt, taskErr) {
				o.cfg.metrics.incRetry(state.WorkflowID, taskID)
				events = append(events, eventlog.Event{
					ID: fmt.Sprintf("%s:%s:retry:%d", state.WorkflowID, taskID, ts.Attempt),
					WorkflowID: state.WorkflowID, TaskID: taskID, Type: eventlog.EventTaskRetried,
					Timestamp: time.Now().UTC(), Meta: map[string]any{"attempt": ts.Attempt, "code": string(taskErr.Code)},
				})
				delay := computeBackoff(taskSpec.Retry, ts.Attempt, rng)
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return o.failTask(state, ts, taskID, NewTaskError(CodeCancelled, ctx.Err().Error(), false), events)
				}
				continue
			}
			return o.failTask(state, ts, taskID, taskErr, events)
		}

		confidence := confidenceOf(result.Output)
		commitID := uuid.NewString()
		verdict, verr := o.cfg.crvGate.Evaluate(ctx, crv.Commit{
			ID: commitID, TaskID: taskID, WorkflowID: state.WorkflowID, Result: result.Output, Confidence: confidence,
		})
		if verr != nil {
			return o.failTask(state, ts, taskID, NewTaskError(CodeToolError, verr.Error(), false), events)
		}
		if !verdict.Passed {
			o.cfg.metrics.incCRVBlock(state.WorkflowID, verdict.Code)
			taskErr := &TaskError{Code: CodeCRVBlocked, CRVCode: verdict.Code, Message: verdict.Message, TaskID: taskID, Retryable: verdict.Code == CRVToolError}
			events = append(events, eventlog.Event{
				ID: fmt.Sprintf("%s:%s:crv_blocked:%d", state.WorkflowID, taskID, ts.Attempt),
				WorkflowID: state.WorkflowID, TaskID: taskID, Type: eventlog.EventCRVBlocked,
				Timestamp: time.Now().UTC(), Meta: map[string]any{"crv_code": string(verdict.Code), "message": verdict.Message},
			})
			if _, auditErr := o.cfg.auditLog.Append(ctx, state.WorkflowID, "system", "crv_blocked", result.Output, nil,
				map[string]any{"task_id": taskID, "commit_id": commitID, "crv_code": string(verdict.Code), "message": verdict.Message}); auditErr != nil {
				return o.failTask(state, ts, taskID, NewTaskError(CodeToolError, auditErr.Error(), false), events)
			}
			if shouldRetry(taskSpec.Retry, ts.Attempt, taskErr) {
				o.cfg.metrics.incRetry(state.WorkflowID, taskID)
				delay := computeBackoff(taskSpec.Retry, ts.Attempt, rng)
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return o.failTask(state, ts, taskID, NewTaskError(CodeCancelled, ctx.Err().Error(), false), events)
				}
				continue
			}
			return o.failTask(state, ts, taskID, taskErr, events)
		}

		o.cfg.metrics.recordTaskLatency(state.WorkflowID, taskID, latency, "success")
		ended := time.Now().UTC()
		ts.Output = result.Output
		ts.IdempotencyKey = result.IdempotencyKey
		ts.Phase = PhaseSucceeded
		ts.EndedAt = &ended
		if taskSpec.Type == TaskDecision {
			if branch, ok := result.Output["branch"].(string); ok {
				ts.DecisionBranch = branch
			}
		}

		stateMu.Lock()
		state.Context[taskID] = result.Output
		if taskSpec.Compensation != nil {
			state.CompensationStack = append(state.CompensationStack, CompensationRecord{
				TaskID: taskID, Spec: *taskSpec.Compensation, OriginalArgs: args,
				Result: result.Output, CompletedAt: ended,
			})
		}
		stateMu.Unlock()

		succeededEvent := eventlog.Event{
			ID: state.WorkflowID + ":" + taskID + ":succeeded", WorkflowID: state.WorkflowID, TaskID: taskID,
			Type: eventlog.EventTaskSucceeded, Timestamp: ended,
			Meta: map[string]any{"idempotency_key": result.IdempotencyKey, "replayed": result.Replayed},
		}
		events = append(events, succeededEvent)
		if _, err := o.writeMemoryNote(ctx, state.WorkflowID, taskID, strconv.Itoa(ts.Attempt), memorystore.EntryEpisodicNote,
			map[string]any{"phase": "succeeded", "output": result.Output}, []string{"task_lifecycle"}, succeededEvent.ID); err != nil {
			return o.failTask(state, ts, taskID, NewTaskError(CodeToolError, err.Error(), false), events)
		}
		return events
	}
}

func (o *Orchestrator) failTask(state *State, ts *TaskState, taskID string, taskErr *TaskError, events []eventlog.Event) []eventlog.Event {
	ended := time.Now().UTC()
	ts.Phase = PhaseFailed
	ts.LastError = taskErr
	ts.EndedAt = &ended
	return append(events, eventlog.Event{
		ID: state.WorkflowID + ":" + taskID + ":failed", WorkflowID: state.WorkflowID, TaskID: taskID,
		Type: eventlog.EventTaskFailed, Timestamp: ended,
		Meta: map[string]any{"code": string(taskErr.Code), "message": taskErr.Message},
	})
}

func confidenceOf(output map[string]any) float64 {
	if v, ok := output["confidence"].(float64); ok {
		return v
	}
	return 1.0
}

func mergeArgs(taskInputs, context map[string]any) map[string]any {
	merged := make(map[string]any, len(taskInputs)+len(context))
	for k, v := range context {
		merged[k] = v
	}
	for k, v := range taskInputs {
		merged[k] = v
	}
	return merged
}

// Approve records a human approval against an outstanding approval token
// and, once the required number of distinct approvers has signed, resumes
// the gated task's tool execution directly without re-entering the policy
// gate (spec.md §4.7: a consumed token authorizes exactly the evaluation it
// was minted for).
func (o *Orchestrator) Approve(ctx context.Context, token, approverID string) error {
	o.mu.Lock()
	ref, ok := o.pendingApprovals[token]
	o.mu.Unlock()
	if !ok {
		return ErrTokenConsumed
	}

	decision, err := o.cfg.policyGate.Approve(ctx, token, approverID)
	if err != nil {
		return err
	}
	if decision.State != policygate.StateAllowed {
		return nil // still awaiting additional approvers
	}

	o.mu.Lock()
	delete(o.pendingApprovals, token)
	queued := len(o.pendingApprovals)
	o.mu.Unlock()
	o.cfg.metrics.setApprovalQueueSize(queued)

	spec, state, err := o.load(ctx, ref.workflowID)
	if err != nil {
		return err
	}
	events := []eventlog.Event{{
		ID: ref.workflowID + ":" + ref.taskID + ":approved", WorkflowID: ref.workflowID, TaskID: ref.taskID,
		Type: eventlog.EventTaskApproved, Timestamp: time.Now().UTC(), Meta: map[string]any{"approver": approverID},
	}}
	if _, auditErr := o.cfg.auditLog.Append(ctx, ref.workflowID, approverID, "task_approved", nil,
		map[string]any{"task_id": ref.taskID}, nil); auditErr != nil {
		return fmt.Errorf("orchestrator: audit approval: %w", auditErr)
	}

	var stateMu sync.Mutex
	rng := workflowRNG(ref.workflowID)
	events = append(events, o.runTaskAction(ctx, spec, state, ref.taskID, rng, &stateMu, nil)...)
	if err := o.persistRound(ctx, state, events); err != nil {
		return err
	}
	return o.Run(ctx, ref.workflowID)
}

// Deny rejects an outstanding approval request, failing its task (which in
// turn drives the workflow into compensation once Run next observes it).
func (o *Orchestrator) Deny(ctx context.Context, token, reason string) error {
	o.mu.Lock()
	ref, ok := o.pendingApprovals[token]
	o.mu.Unlock()
	if !ok {
		return ErrTokenConsumed
	}
	if _, err := o.cfg.policyGate.Deny(ctx, token, reason); err != nil {
		return err
	}
	o.mu.Lock()
	delete(o.pendingApprovals, token)
	queued := len(o.pendingApprovals)
	o.mu.Unlock()
	o.cfg.metrics.setApprovalQueueSize(queued)

	_, state, err := o.load(ctx, ref.workflowID)
	if err != nil {
		return err
	}
	ts := state.Tasks[ref.taskID]
	events := o.failTask(state, ts, ref.taskID, NewTaskError(CodeInsufficientPermissions, reason, false), nil)
	events = append(events, eventlog.Event{
		ID: ref.workflowID + ":" + ref.taskID + ":denied", WorkflowID: ref.workflowID, TaskID: ref.taskID,
		Type: eventlog.EventTaskDenied, Timestamp: time.Now().UTC(), Meta: map[string]any{"reason": reason},
	})
	if err := o.persistRound(ctx, state, events); err != nil {
		return err
	}
	return o.Run(ctx, ref.workflowID)
}

// Resume reloads a workflow's durable state and continues its execution
// loop; equivalent to Run, named separately to match spec.md §4.9's
// operation vocabulary for crash-recovery callers. Nothing in this module
// calls it at startup; cmd/orchestratord performs no recovery scan.
func (o *Orchestrator) Resume(ctx context.Context, workflowID string) error {
	return o.Run(ctx, workflowID)
}

// StateStore exposes the configured durable state backend, for callers
// that need to load or enumerate workflows directly (e.g. a crash-recovery
// scan via List).
func (o *Orchestrator) StateStore() statestore.Store { return o.cfg.stateStore }

// AuditLog exposes the configured audit backend, for operator tooling that
// verifies the hash chain independently of running a workflow.
func (o *Orchestrator) AuditLog() auditlog.Log { return o.cfg.auditLog }

// MemoryStore exposes the configured MemoryStore, for the Reflexion
// subsystem's postmortem/snapshot lookups.
func (o *Orchestrator) MemoryStore() memorystore.Store { return o.cfg.memoryStore }

// ToolLayer exposes the configured Tool Execution Layer, so the Reflexion
// subsystem's sandbox can dispatch tool invocations through the same
// registry the production path uses (spec.md §4.10 "sandbox ... structurally
// identical to the production execution path").
func (o *Orchestrator) ToolLayer() *tool.Layer { return o.cfg.toolLayer }

// CRVGate exposes the configured CRV Gate.
func (o *Orchestrator) CRVGate() *crv.Gate { return o.cfg.crvGate }

// PolicyGate exposes the configured Goal-Guard policy gate.
func (o *Orchestrator) PolicyGate() *policygate.Gate { return o.cfg.policyGate }

package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/wfguard/orchestrator/workflow/eventlog"
	"github.com/wfguard/orchestrator/workflow/memorystore"
	"github.com/wfguard/orchestrator/workflow/tool"
)

// compensate unwinds a failed workflow's successful side-effecting tasks in
// LIFO order (spec.md §4.9 "saga-style compensation"). Grounded on the
// teacher's checkpoint-then-resume pattern in graph/engine.go, replacing
// checkpoint restoration with explicit compensating tool calls since the
// spec models compensation as declared inverse actions rather than state
// replay.
func (o *Orchestrator) compensate(ctx context.Context, spec *Spec, state *State) error {
	state.Status = StatusCompensating
	startEvent := eventlog.Event{
		ID: state.WorkflowID + ":compensation_started", WorkflowID: state.WorkflowID,
		Type: eventlog.EventCompensationStarted, Timestamp: time.Now().UTC(),
		Meta: map[string]any{"stack_depth": len(state.CompensationStack)},
	}
	if err := o.persistRound(ctx, state, []eventlog.Event{startEvent}); err != nil {
		return err
	}

	var events []eventlog.Event
	for i := len(state.CompensationStack) - 1; i >= 0; i-- {
		record := state.CompensationStack[i]
		args := mergeArgs(record.Spec.Args, mergeArgs(record.OriginalArgs, record.Result))

		_, err := o.cfg.toolLayer.Execute(ctx, tool.Invocation{
			TaskID: "compensate:" + record.TaskID, StepID: i, Tool: record.Spec.Tool, Args: args,
			Timeout: o.cfg.defaultTaskTimeout,
		})
		if err != nil {
			o.cfg.metrics.incCompensation(state.WorkflowID, "failed")
			events = append(events, eventlog.Event{
				ID: fmt.Sprintf("%s:compensation_failed:%d", state.WorkflowID, i),
				WorkflowID: state.WorkflowID, TaskID: record.TaskID, Type: eventlog.EventCompensationFailed,
				Timestamp: time.Now().UTC(), Meta: map[string]any{"error": err.Error()},
			})
			if _, auditErr := o.cfg.auditLog.Append(ctx, state.WorkflowID, "system", "compensation_failed",
				record.Result, nil, map[string]any{"task_id": record.TaskID, "error": err.Error()}); auditErr != nil {
				return fmt.Errorf("orchestrator: audit compensation failure: %w", auditErr)
			}
			if !o.cfg.compensationBestEffort {
				state.Status = StatusFailed
				return o.persistRound(ctx, state, events)
			}
			continue
		}

		o.cfg.metrics.incCompensation(state.WorkflowID, "applied")
		events = append(events, eventlog.Event{
			ID: fmt.Sprintf("%s:compensation_applied:%d", state.WorkflowID, i),
			WorkflowID: state.WorkflowID, TaskID: record.TaskID, Type: eventlog.EventCompensationApplied,
			Timestamp: time.Now().UTC(),
		})
	}

	state.Status = StatusCompensated
	completed := time.Now().UTC()
	state.EndedAt = &completed
	return o.persistRound(ctx, state, events)
}

// Rollback restores a workflow's context to its most recently verified
// memory snapshot (spec.md §4.4/§4.9 "rollback may only target a snapshot
// that has been marked verified"). Unlike compensate, Rollback is an
// operator-initiated recovery operation, not an automatic consequence of
// task failure.
func (o *Orchestrator) Rollback(ctx context.Context, workflowID string) error {
	_, state, err := o.load(ctx, workflowID)
	if err != nil {
		return err
	}

	snapshot, err := o.cfg.memoryStore.LatestVerifiedSnapshot(ctx, workflowID)
	if err != nil {
		return err
	}

	startEvent := eventlog.Event{
		ID: workflowID + ":rollback_started", WorkflowID: workflowID,
		Type: eventlog.EventRollbackStarted, Timestamp: time.Now().UTC(),
		Meta: map[string]any{"snapshot_id": snapshot.ID},
	}

	state.Context = snapshot.Content
	// Rollback is a terminal recovery action, not an automatic resumption:
	// the workflow is left aborted, and Run returns without executing
	// anything for an aborted workflow (spec.md §4 "Rollback on command").
	state.Status = StatusAborted
	now := time.Now().UTC()
	state.EndedAt = &now
	completeEvent := eventlog.Event{
		ID: workflowID + ":rollback_completed", WorkflowID: workflowID,
		Type: eventlog.EventRollbackCompleted, Timestamp: time.Now().UTC(),
		Meta: map[string]any{"snapshot_id": snapshot.ID},
	}

	if _, err := o.cfg.auditLog.Append(ctx, workflowID, "operator", "workflow_rollback", nil,
		map[string]any{"snapshot_id": snapshot.ID}, map[string]any{"snapshot_created_at": snapshot.CreatedAt}); err != nil {
		return fmt.Errorf("orchestrator: audit rollback: %w", err)
	}
	return o.persistRound(ctx, state, []eventlog.Event{startEvent, completeEvent})
}

// Snapshot records a memory snapshot of a workflow's current context,
// marked verified when verify is true; Rollback only restores from a
// verified snapshot (spec.md §4.4).
func (o *Orchestrator) Snapshot(ctx context.Context, workflowID, taskID, stepID string, verify bool) (memorystore.Entry, error) {
	_, state, err := o.load(ctx, workflowID)
	if err != nil {
		return memorystore.Entry{}, err
	}
	entry, err := o.writeMemoryNote(ctx, workflowID, taskID, stepID, memorystore.EntrySnapshot,
		state.Context, nil, "")
	if err != nil {
		return memorystore.Entry{}, err
	}
	if verify {
		if err := o.cfg.memoryStore.MarkVerified(ctx, entry.ID); err != nil {
			return memorystore.Entry{}, err
		}
		entry.Verified = true
	}
	return entry, nil
}

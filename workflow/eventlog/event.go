// Package eventlog implements the EventLog component (spec.md §4.2): an
// append-only, durable record of everything that happened during a
// workflow run, written ahead of the corresponding StateStore save so a
// crash between the two always leaves an event trail for the transition
// that was about to commit. Grounded on graph/emit's Event/Emitter/
// LogEmitter, generalized from the teacher's workflow-agnostic
// observability event to the spec's task/workflow lifecycle event.
package eventlog

import (
	"context"
	"time"
)

// Type is the closed set of event kinds recorded for a workflow run
// (spec.md §3 "Event").
type Type string

const (
	EventWorkflowStarted      Type = "workflow_started"
	EventWorkflowCompleted    Type = "workflow_completed"
	EventWorkflowFailed       Type = "workflow_failed"
	EventWorkflowAborted      Type = "workflow_aborted"
	EventTaskReady            Type = "task_ready"
	EventTaskStarted          Type = "task_started"
	EventTaskRetried          Type = "task_retried"
	EventTaskSucceeded        Type = "task_succeeded"
	EventTaskFailed           Type = "task_failed"
	EventTaskSkipped          Type = "task_skipped"
	EventTaskAwaitingApproval Type = "task_awaiting_approval"
	EventTaskApproved         Type = "task_approved"
	EventTaskDenied           Type = "task_denied"
	EventCRVBlocked           Type = "crv_blocked"
	EventCompensationStarted  Type = "compensation_started"
	EventCompensationApplied  Type = "compensation_applied"
	EventCompensationFailed   Type = "compensation_failed"
	EventRollbackStarted      Type = "rollback_started"
	EventRollbackCompleted    Type = "rollback_completed"
)

// Event is one append-only record in a workflow's event log.
type Event struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id"`
	TaskID     string         `json:"task_id,omitempty"`
	Type       Type           `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	Meta       map[string]any `json:"meta,omitempty"`
	// Emitted reports whether this event has been delivered out of the
	// transactional outbox (see statestore.Store.PendingEvents). Not
	// persisted by filesystem backends that have no separate outbox stage.
	Emitted bool `json:"-"`
}

// Log is the durable append-only contract for workflow events.
type Log interface {
	// Append writes events for a workflow, in order, ahead of the
	// corresponding StateStore.Save call for the same transition
	// (spec.md §4.2 "write-ahead-of-StateStore-write discipline").
	Append(ctx context.Context, workflowID string, events []Event) error

	// Read returns every event recorded for a workflow, in append order.
	Read(ctx context.Context, workflowID string) ([]Event, error)
}

// Package reflexion implements the optional Reflexion subsystem (spec.md
// §4.10): given a task failure, it produces a structured postmortem
// assigning the failure to the taxonomy, proposes at most one bounded fix,
// validates the fix in an isolated sandbox through three gates, and caps
// attempts at three per task. Grounded on the general postmortem/fix/
// sandbox shape described in spec.md §4.10; there is no teacher analogue
// (graph/engine.go has no self-repair subsystem), so this package leans on
// the same stdlib-only approach the rest of workflow/ uses for pure
// decision logic, wiring the already-built crv.Gate, policygate.Gate, and
// tool.Layer for the sandbox validation itself.
package reflexion

import (
	"time"

	"github.com/wfguard/orchestrator/workflow"
)

// MaxFixAttempts caps the number of fix attempts Reflexion will make for a
// single task (spec.md §4.10 "Cap at three fix attempts per task").
const MaxFixAttempts = 3

// Postmortem is the structured diagnosis of one task failure (spec.md
// §4.10 "structured postmortem assigning the failure to the taxonomy").
type Postmortem struct {
	WorkflowID string
	TaskID     string
	Code       workflow.Code
	CRVCode    workflow.CRVCode
	Summary    string
	Context    map[string]any
	CreatedAt  time.Time
}

// Diagnose builds a Postmortem from a task's terminal error. taskErr must be
// non-nil; ctx carries any additional context the caller wants attached
// (e.g. the task's last output, upstream decision branches).
func Diagnose(workflowID, taskID string, taskErr *workflow.TaskError, ctx map[string]any) Postmortem {
	summary := taskErr.Message
	if taskErr.Code == workflow.CodeCRVBlocked {
		summary = string(taskErr.CRVCode) + ": " + summary
	}
	return Postmortem{
		WorkflowID: workflowID,
		TaskID:     taskID,
		Code:       taskErr.Code,
		CRVCode:    taskErr.CRVCode,
		Summary:    summary,
		Context:    ctx,
		CreatedAt:  time.Now().UTC(),
	}
}

// AttemptTracker counts fix attempts per task so a Reflexion driver can
// enforce MaxFixAttempts across repeated failures of the same task.
type AttemptTracker struct {
	attempts map[string]int // taskID -> attempts made
}

// NewAttemptTracker constructs an empty tracker.
func NewAttemptTracker() *AttemptTracker {
	return &AttemptTracker{attempts: make(map[string]int)}
}

// Allow reports whether another fix attempt is permitted for taskID and, if
// so, records it. Once MaxFixAttempts have been recorded, Allow always
// returns false for that task.
func (t *AttemptTracker) Allow(taskID string) bool {
	if t.attempts[taskID] >= MaxFixAttempts {
		return false
	}
	t.attempts[taskID]++
	return true
}

// Attempts reports how many fix attempts have been recorded for taskID.
func (t *AttemptTracker) Attempts(taskID string) int {
	return t.attempts[taskID]
}

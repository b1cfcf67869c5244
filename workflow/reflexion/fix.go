package reflexion

import (
	"fmt"

	"github.com/wfguard/orchestrator/workflow"
)

// FixKind is the closed set of bounded fixes Reflexion may propose (spec.md
// §4.10: "alternate tool ... CRV threshold modification ... or
// workflow-step reordering").
type FixKind string

const (
	FixAlternateTool FixKind = "alternate_tool"
	FixCRVThreshold  FixKind = "crv_threshold"
	FixReorder       FixKind = "reorder"
)

// FixProposal is the single bounded remediation Reflexion proposes for one
// Postmortem. Exactly one of the Kind-specific fields is meaningful.
type FixProposal struct {
	Kind FixKind

	// AlternateTool is populated when Kind == FixAlternateTool: a tool name
	// drawn from the task's AllowedTools, different from the one that failed.
	AlternateTool string

	// CRVThreshold is populated when Kind == FixCRVThreshold: the proposed
	// new required-confidence value.
	CRVThreshold float64

	// ReorderAfter/ReorderBefore are populated when Kind == FixReorder: a
	// new dependency edge (ReorderAfter depends on ReorderBefore) to add to
	// the DAG, never removing any existing edge.
	ReorderAfter  string
	ReorderBefore string
}

// crvThresholdBounds are the absolute bounds a proposed CRV threshold must
// stay within (spec.md §4.10 "within absolute bounds [0.5, 1.0]").
const (
	crvThresholdMin = 0.5
	crvThresholdMax = 1.0
	// crvThresholdMaxDelta is the maximum proportional change from the
	// original threshold (spec.md §4.10 "within ±20% of the original").
	crvThresholdMaxDelta = 0.20
)

// ProposeAlternateTool proposes switching a task to a different tool drawn
// from its own allow-list (spec.md §4.10 "must be in the allowed-tools
// list"). Returns false if no alternate is available.
func ProposeAlternateTool(spec *workflow.TaskSpec) (FixProposal, bool) {
	for _, candidate := range spec.AllowedTools {
		if candidate != spec.Tool {
			return FixProposal{Kind: FixAlternateTool, AlternateTool: candidate}, true
		}
	}
	return FixProposal{}, false
}

// ProposeCRVThreshold proposes a new required-confidence value for the CRV
// Gate, bounded to [0.5, 1.0] and within ±20% of originalThreshold (spec.md
// §4.10). direction > 0 proposes raising the threshold (stricter);
// direction <= 0 proposes lowering it (more permissive).
func ProposeCRVThreshold(originalThreshold float64, direction int) (FixProposal, error) {
	delta := originalThreshold * crvThresholdMaxDelta
	var proposed float64
	if direction > 0 {
		proposed = originalThreshold + delta
	} else {
		proposed = originalThreshold - delta
	}
	if proposed < crvThresholdMin {
		proposed = crvThresholdMin
	}
	if proposed > crvThresholdMax {
		proposed = crvThresholdMax
	}
	if proposed < originalThreshold-delta || proposed > originalThreshold+delta {
		return FixProposal{}, fmt.Errorf("reflexion: no valid threshold within both absolute bounds and +/-20%% of %.3f", originalThreshold)
	}
	return FixProposal{Kind: FixCRVThreshold, CRVThreshold: proposed}, nil
}

// ProposeReorder proposes a new dependency edge: afterTask will additionally
// depend on beforeTask. It validates the result preserves every existing
// edge (it only adds one) and remains acyclic (spec.md §4.10 "must preserve
// all dependencies, cycle-free").
func ProposeReorder(dag *workflow.DAG, afterTask, beforeTask string) (FixProposal, error) {
	if _, ok := dag.Tasks[afterTask]; !ok {
		return FixProposal{}, fmt.Errorf("reflexion: unknown task %q", afterTask)
	}
	if _, ok := dag.Tasks[beforeTask]; !ok {
		return FixProposal{}, fmt.Errorf("reflexion: unknown task %q", beforeTask)
	}
	if afterTask == beforeTask {
		return FixProposal{}, fmt.Errorf("reflexion: cannot reorder a task relative to itself")
	}

	trial := cloneDAG(dag)
	trial.DependsOn(afterTask, beforeTask)
	if _, err := trial.TopoSort(); err != nil {
		return FixProposal{}, fmt.Errorf("reflexion: proposed reorder introduces a cycle: %w", err)
	}

	return FixProposal{Kind: FixReorder, ReorderAfter: afterTask, ReorderBefore: beforeTask}, nil
}

// cloneDAG produces a shallow structural copy of dag sufficient for trial
// mutation: task definitions are shared (never mutated), but the
// dependency and conditional maps are independent.
func cloneDAG(dag *workflow.DAG) *workflow.DAG {
	clone := &workflow.DAG{
		Tasks:         dag.Tasks,
		Order:         append([]string(nil), dag.Order...),
		Dependencies:  make(map[string][]string, len(dag.Dependencies)),
		ConditionalOn: make(map[string]map[string]string, len(dag.ConditionalOn)),
	}
	for task, deps := range dag.Dependencies {
		clone.Dependencies[task] = append([]string(nil), deps...)
	}
	for task, cond := range dag.ConditionalOn {
		m := make(map[string]string, len(cond))
		for k, v := range cond {
			m[k] = v
		}
		clone.ConditionalOn[task] = m
	}
	return clone
}

// ApplyReorder applies a validated FixReorder proposal to dag in place.
// Callers must only pass a proposal previously returned by ProposeReorder
// for this same dag shape.
func ApplyReorder(dag *workflow.DAG, fix FixProposal) error {
	if fix.Kind != FixReorder {
		return fmt.Errorf("reflexion: ApplyReorder called with fix kind %q", fix.Kind)
	}
	dag.DependsOn(fix.ReorderAfter, fix.ReorderBefore)
	if _, err := dag.TopoSort(); err != nil {
		return fmt.Errorf("reflexion: applied reorder introduced a cycle: %w", err)
	}
	return nil
}

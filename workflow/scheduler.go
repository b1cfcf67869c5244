package workflow

// readySet computes the tasks that may transition from pending to ready
// given the current state: every dependency must be in a terminal-success
// phase, and any conditional dependency on a decision task must have
// resolved to the required branch (spec.md §3 "a task becomes ready only
// when all its dependencies are in a terminal-success state"). Grounded
// on graph/scheduler.go's frontier-dispatch model, simplified from an
// edge-routing frontier with deterministic OrderKey ordering to a
// dependency-satisfaction scan, since this DAG's edges are static
// declarations rather than runtime routing decisions.
func readySet(dag *DAG, state *State) []string {
	var ready []string
	for _, id := range dag.Order {
		ts := state.Tasks[id]
		if ts.Phase != PhasePending {
			continue
		}
		if isReady(dag, state, id) {
			ready = append(ready, id)
		}
	}
	return ready
}

func isReady(dag *DAG, state *State, taskID string) bool {
	for _, dep := range dag.Dependencies[taskID] {
		depState := state.Tasks[dep]
		if !depState.Phase.Terminal() {
			return false
		}
		if branch, conditional := dag.ConditionalOn[taskID][dep]; conditional {
			if depState.Phase != PhaseSucceeded || depState.DecisionBranch != branch {
				return false
			}
			continue
		}
		if !depState.Phase.TerminalSuccess() {
			return false
		}
	}
	return true
}

// skipSet computes tasks that can never become ready because a
// conditional dependency resolved to a different branch, or an upstream
// dependency terminally failed without a retry remaining (spec.md §4.9
// "Skipped" transition). Returns task ids to mark PhaseSkipped.
func skipSet(dag *DAG, state *State) []string {
	var skip []string
	for _, id := range dag.Order {
		ts := state.Tasks[id]
		if ts.Phase != PhasePending {
			continue
		}
		if shouldSkip(dag, state, id) {
			skip = append(skip, id)
		}
	}
	return skip
}

func shouldSkip(dag *DAG, state *State, taskID string) bool {
	for _, dep := range dag.Dependencies[taskID] {
		depState := state.Tasks[dep]
		if !depState.Phase.Terminal() {
			continue
		}
		if branch, conditional := dag.ConditionalOn[taskID][dep]; conditional {
			if depState.Phase != PhaseSucceeded || depState.DecisionBranch != branch {
				return true
			}
			continue
		}
		if !depState.Phase.TerminalSuccess() {
			return true
		}
	}
	return false
}

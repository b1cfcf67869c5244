package workflow

import "time"

// TaskType is a closed tagged variant distinguishing how a task's routing is
// interpreted by the scheduler (spec.md §9 "Polymorphic task kinds").
type TaskType string

const (
	// TaskAction invokes a tool through the Tool Execution Layer.
	TaskAction TaskType = "action"
	// TaskDecision returns a branch choice that gates which downstream
	// tasks become ready; a dependency may be declared conditional on a
	// predecessor decision's output via DependsOnBranch.
	TaskDecision TaskType = "decision"
	// TaskParallel is accepted as a type tag only: the Orchestrator runs a
	// parallel task like an action task, invoking its Tool, and does not
	// expand it into a sub-DAG of child tasks.
	TaskParallel TaskType = "parallel"
)

// RiskTier classifies the governance sensitivity of a task's action, driving
// Goal-Guard routing (spec.md §4.7).
type RiskTier string

const (
	RiskLow      RiskTier = "LOW"
	RiskMedium   RiskTier = "MEDIUM"
	RiskHigh     RiskTier = "HIGH"
	RiskCritical RiskTier = "CRITICAL"
)

// Phase enumerates the task state machine's phases (spec.md §3).
type Phase string

const (
	PhasePending          Phase = "pending"
	PhaseReady            Phase = "ready"
	PhaseRunning          Phase = "running"
	PhaseAwaitingApproval Phase = "awaiting_approval"
	PhaseSucceeded        Phase = "succeeded"
	PhaseFailed           Phase = "failed"
	PhaseSkipped          Phase = "skipped"
	PhaseCompensated      Phase = "compensated"
)

// Terminal reports whether a phase is terminal: no further scheduler action
// will move the task out of it without external intervention (approval,
// rollback).
func (p Phase) Terminal() bool {
	switch p {
	case PhaseSucceeded, PhaseFailed, PhaseSkipped, PhaseCompensated:
		return true
	default:
		return false
	}
}

// TerminalSuccess reports whether the phase counts as a satisfied
// dependency for downstream tasks (spec.md §3 invariant: "a task becomes
// ready only when all its dependencies are in a terminal-success state").
func (p Phase) TerminalSuccess() bool {
	return p == PhaseSucceeded || p == PhaseSkipped
}

// Status enumerates workflow-level status (spec.md §3).
type Status string

const (
	StatusPending      Status = "pending"
	StatusRunning      Status = "running"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCompensating Status = "compensating"
	StatusCompensated  Status = "compensated"
	StatusAborted      Status = "aborted"
)

// CompensationSpec describes the tool-declared inverse action registered
// after a successful side-effecting task (spec.md §3, glossary "Compensation").
type CompensationSpec struct {
	// Tool names the tool used to compensate.
	Tool string
	// Args are the static arguments merged with the original invocation's
	// inputs and result when the compensation executes.
	Args map[string]any
}

// RetryPolicy configures exponential backoff retries for a task, matching
// spec.md §3/§4.9's (max_attempts, backoff_ms, backoff_multiplier, jitter)
// tuple. Grounded on graph/policy.go's RetryPolicy/computeBackoff, adapted
// from time.Duration fields to the millisecond-denominated fields spec.md
// names explicitly.
type RetryPolicy struct {
	// MaxAttempts caps the total number of execution attempts, including
	// the first. A value of 1 means no retries.
	MaxAttempts int
	// BackoffMS is the base delay, in milliseconds, before the first retry.
	BackoffMS int64
	// BackoffMultiplier scales the delay after each subsequent retry:
	// delay = BackoffMS * BackoffMultiplier^(attempt-1).
	BackoffMultiplier float64
	// Jitter, when true, perturbs each computed delay by up to ±25%.
	Jitter bool
}

// Validate reports whether the policy is well-formed.
func (rp *RetryPolicy) Validate() error {
	if rp == nil {
		return nil
	}
	if rp.MaxAttempts < 1 {
		return NewTaskError(CodeInvalidSpec, "retry policy: max_attempts must be >= 1", false)
	}
	if rp.BackoffMultiplier < 0 {
		return NewTaskError(CodeInvalidSpec, "retry policy: backoff_multiplier must be >= 0", false)
	}
	return nil
}

// TaskSpec is the immutable specification of a task within a Workflow
// (spec.md §3 "Task"). It never mutates after submission; mutable execution
// state lives in TaskState.
type TaskSpec struct {
	ID   string
	Name string
	Type TaskType

	// Tool names the tool the task invokes. Decision tasks invoke their
	// Tool too; the Orchestrator reads the chosen branch from the string
	// "branch" field of its output.
	Tool string
	// Inputs is the static input map merged with upstream decision/parallel
	// context at dispatch time.
	Inputs map[string]any
	// OutputSchema, when non-nil, is validated against the tool's result by
	// the Tool Execution Layer in addition to the tool's own declared
	// output schema.
	OutputSchema map[string]any

	Retry   *RetryPolicy
	Timeout time.Duration

	RiskTier            RiskTier
	RequiredPermissions []Permission
	AllowedTools        []string

	Compensation *CompensationSpec

	// IdempotencyKey is carried on the spec only. The Orchestrator does not
	// pass it to the Tool Execution Layer, which always derives the key from
	// (task_id, step_id, tool_id, normalized_args), so setting it does not
	// change the key any attempt uses.
	IdempotencyKey string
}

// Permission mirrors spec.md §3 "Principal"/"Action": (action, resource,
// optional intent, optional data_zone, optional conditions).
type Permission struct {
	Action     string
	Resource   string
	Intent     Intent
	DataZone   DataZone
	Conditions map[string]any
}

// Intent is the closed enumeration of policy-sense action intents.
type Intent string

const (
	IntentRead    Intent = "READ"
	IntentWrite   Intent = "WRITE"
	IntentDelete  Intent = "DELETE"
	IntentExecute Intent = "EXECUTE"
	IntentAdmin   Intent = "ADMIN"
)

// DataZone is the closed enumeration of policy-sense data sensitivity zones.
type DataZone string

const (
	ZonePublic       DataZone = "PUBLIC"
	ZoneInternal     DataZone = "INTERNAL"
	ZoneConfidential DataZone = "CONFIDENTIAL"
	ZoneRestricted   DataZone = "RESTRICTED"
)

// TaskState is the mutable execution record for a single task within a
// workflow run (spec.md §3 "Task state attributes").
type TaskState struct {
	TaskID         string
	Phase          Phase
	Attempt        int
	LastError      *TaskError
	Output         map[string]any
	StartedAt      *time.Time
	EndedAt        *time.Time
	ApprovalToken  string
	IdempotencyKey string
	// DecisionBranch holds the branch label a decision task produced, used
	// by the scheduler to resolve conditional dependencies on this task.
	DecisionBranch string
}

// DAG is the dependency mapping of a Workflow: task-id -> ids of tasks that
// must complete (in a terminal-success phase) before this task may become
// ready. A dependency may additionally constrain on a specific decision
// branch via DependsOnBranch.
type DAG struct {
	Tasks        map[string]*TaskSpec
	Order        []string // declaration order, used for deterministic iteration in tests/events
	Dependencies map[string][]string
	// ConditionalOn maps task-id -> (decision task-id -> required branch).
	// A task with a conditional dependency on a decision task only becomes
	// ready if that decision resolved to the required branch; otherwise it
	// is marked skipped once the decision completes.
	ConditionalOn map[string]map[string]string
}

// NewDAG constructs an empty DAG ready for AddTask/DependsOn calls.
func NewDAG() *DAG {
	return &DAG{
		Tasks:         make(map[string]*TaskSpec),
		Dependencies:  make(map[string][]string),
		ConditionalOn: make(map[string]map[string]string),
	}
}

// AddTask registers a task spec. Returns a CodeInvalidSpec *TaskError on an
// empty or duplicate id.
func (d *DAG) AddTask(spec *TaskSpec) error {
	if spec == nil || spec.ID == "" {
		return NewTaskError(CodeInvalidSpec, "task id must be non-empty", false)
	}
	if _, exists := d.Tasks[spec.ID]; exists {
		return NewTaskError(CodeInvalidSpec, "duplicate task id: "+spec.ID, false)
	}
	d.Tasks[spec.ID] = spec
	d.Order = append(d.Order, spec.ID)
	return nil
}

// DependsOn declares that task depends on each of prereqs.
func (d *DAG) DependsOn(task string, prereqs ...string) {
	d.Dependencies[task] = append(d.Dependencies[task], prereqs...)
}

// DependsOnBranch declares a conditional dependency: task only becomes
// ready if decisionTask resolves to branch.
func (d *DAG) DependsOnBranch(task, decisionTask, branch string) {
	d.Dependencies[task] = append(d.Dependencies[task], decisionTask)
	if d.ConditionalOn[task] == nil {
		d.ConditionalOn[task] = make(map[string]string)
	}
	d.ConditionalOn[task][decisionTask] = branch
}

// Validate checks the DAG invariants from spec.md §3: every dependency
// references a defined task, and the dependency graph is acyclic.
func (d *DAG) Validate() error {
	for task, deps := range d.Dependencies {
		if _, ok := d.Tasks[task]; !ok {
			return NewTaskError(CodeInvalidSpec, "dependency declared for unknown task: "+task, false)
		}
		for _, dep := range deps {
			if _, ok := d.Tasks[dep]; !ok {
				return NewTaskError(CodeInvalidSpec, "task "+task+" depends on unknown task: "+dep, false)
			}
		}
	}
	if _, err := d.TopoSort(); err != nil {
		return err
	}
	return nil
}

// TopoSort returns a topological ordering of task ids, or a CodeInvalidSpec
// *TaskError if the dependency graph contains a cycle. Used at submission time only; the
// scheduler itself computes the ready set incrementally (see scheduler.go).
func (d *DAG) TopoSort() ([]string, error) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(d.Tasks))
	var order []string
	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case black:
			return nil
		case gray:
			return NewTaskError(CodeInvalidSpec, "cycle detected at task: "+id, false)
		}
		color[id] = gray
		for _, dep := range d.Dependencies[id] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[id] = black
		order = append(order, id)
		return nil
	}
	for _, id := range d.Order {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Spec is the immutable workflow specification submitted by a caller
// (spec.md §6 "Workflow specification").
type Spec struct {
	ID              string
	TenantID        string
	Name            string
	Goal            string
	Constraints     string
	SuccessCriteria string
	DAG             *DAG
	// PrincipalID and Permissions identify the caller on whose behalf every
	// task's policy-gate evaluation runs (spec.md §3 "Principal").
	PrincipalID string
	Permissions []Permission
}

// State is the mutable execution record for a workflow run (spec.md §3
// "A workflow holds an immutable specification plus a mutable execution
// record").
type State struct {
	WorkflowID string
	TenantID   string
	Status     Status
	Tasks      map[string]*TaskState
	Context    map[string]any
	StartedAt  *time.Time
	EndedAt    *time.Time
	// Version supports StateStore optimistic concurrency (spec.md §4.1).
	Version int
	// CompensationStack records successful side-effecting tasks in
	// completion order for LIFO saga unwind (spec.md §4.9).
	CompensationStack []CompensationRecord
}

// CompensationRecord is one entry of the saga compensation stack.
type CompensationRecord struct {
	TaskID       string
	Spec         CompensationSpec
	OriginalArgs map[string]any
	Result       map[string]any
	CompletedAt  time.Time
}

// NewState constructs the initial pending state for a workflow spec, with
// every task in PhasePending (spec.md §4.9 "Submission").
func NewState(spec *Spec) *State {
	st := &State{
		WorkflowID: spec.ID,
		TenantID:   spec.TenantID,
		Status:     StatusPending,
		Tasks:      make(map[string]*TaskState, len(spec.DAG.Tasks)),
		Context:    make(map[string]any),
	}
	for id := range spec.DAG.Tasks {
		st.Tasks[id] = &TaskState{TaskID: id, Phase: PhasePending}
	}
	return st
}

// AllTerminal reports whether every task in the state has reached a
// terminal phase.
func (s *State) AllTerminal() bool {
	for _, ts := range s.Tasks {
		if !ts.Phase.Terminal() {
			return false
		}
	}
	return true
}

// AllSucceeded reports whether every task ended succeeded or skipped
// (spec.md §8 "For every workflow that ends completed, every task's phase
// is succeeded or skipped").
func (s *State) AllSucceeded() bool {
	for _, ts := range s.Tasks {
		if !ts.Phase.TerminalSuccess() {
			return false
		}
	}
	return true
}

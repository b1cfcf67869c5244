// Package policygate implements the Goal-Guard policy gate (spec.md
// §4.7): a finite-state machine that evaluates whether a principal may
// execute an action, routing HIGH/CRITICAL risk actions to a
// human-approval workflow backed by single-use tokens. Grounded on
// graph/policy.go's NodePolicy configuration shape, generalized from
// retry-eligibility predicates to permission/risk-tier evaluation.
package policygate

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/wfguard/orchestrator/workflow"
)

// State is the gate's per-evaluation FSM state (spec.md §4.7 "idle ->
// evaluating -> {allowed, denied, pending_human} -> idle").
type State string

const (
	StateIdle          State = "idle"
	StateEvaluating    State = "evaluating"
	StateAllowed       State = "allowed"
	StateDenied        State = "denied"
	StatePendingHuman  State = "pending_human"
)

// Principal is the caller on whose behalf a task's action is evaluated
// (spec.md §3 "Principal").
type Principal struct {
	ID          string
	Permissions []workflow.Permission
}

// Decision is the gate's outcome for one evaluation.
type Decision struct {
	State        State
	Reason       string
	Code         workflow.Code
	RequiredApprovers int
	ApprovalToken string
}

// ApprovalRequest captures a pending human-approval need (spec.md §4.7).
type ApprovalRequest struct {
	TaskID            string
	WorkflowID        string
	RiskTier          workflow.RiskTier
	RequiredApprovers int
	Approvals         []string
	CreatedAt         time.Time
	ExpiresAt         time.Time
	Token             string
	Consumed          bool
}

// requiredApprovers maps risk tier to the number of distinct approvals
// needed before a gated action proceeds (spec.md §4.7).
func requiredApprovers(tier workflow.RiskTier) int {
	switch tier {
	case workflow.RiskCritical:
		return 2
	case workflow.RiskHigh:
		return 1
	default:
		return 0
	}
}

// defaultTokenTTL is the approval token lifetime when none is configured
// (spec.md §6 APPROVAL_TOKEN_TTL_SEC default).
const defaultTokenTTL = time.Hour

// Gate is the Goal-Guard policy evaluator.
type Gate struct {
	mu       sync.Mutex
	pending  map[string]*ApprovalRequest // token -> request
	tokenTTL time.Duration
}

// NewGate constructs a Gate with the given approval-token TTL. A zero TTL
// uses the spec default of one hour.
func NewGate(tokenTTL time.Duration) *Gate {
	if tokenTTL <= 0 {
		tokenTTL = defaultTokenTTL
	}
	return &Gate{pending: make(map[string]*ApprovalRequest), tokenTTL: tokenTTL}
}

// Evaluate decides whether principal may execute action. A task whose
// risk tier is HIGH or CRITICAL and which otherwise passes permission and
// allowlist checks transitions to pending_human and mints an approval
// token rather than proceeding directly.
func (g *Gate) Evaluate(ctx context.Context, principal Principal, taskID, workflowID string, riskTier workflow.RiskTier, required []workflow.Permission, allowedTools []string, tool string) (Decision, error) {
	for _, req := range required {
		if !hasPermission(principal.Permissions, req) {
			return Decision{State: StateDenied, Code: workflow.CodeInsufficientPermissions, Reason: fmt.Sprintf("missing permission: %s on %s", req.Action, req.Resource)}, nil
		}
	}
	if len(allowedTools) > 0 && tool != "" && !contains(allowedTools, tool) {
		return Decision{State: StateDenied, Code: workflow.CodeToolNotAllowed, Reason: fmt.Sprintf("tool %q not in action allowlist", tool)}, nil
	}

	approvers := requiredApprovers(riskTier)
	if approvers == 0 {
		return Decision{State: StateAllowed}, nil
	}

	token, err := g.createApprovalRequest(taskID, workflowID, riskTier, approvers)
	if err != nil {
		return Decision{}, err
	}
	return Decision{State: StatePendingHuman, Code: workflow.CodePendingHuman, RequiredApprovers: approvers, ApprovalToken: token}, nil
}

func hasPermission(granted []workflow.Permission, required workflow.Permission) bool {
	for _, g := range granted {
		if g.Action == required.Action && g.Resource == required.Resource {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func (g *Gate) createApprovalRequest(taskID, workflowID string, tier workflow.RiskTier, approvers int) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending[token] = &ApprovalRequest{
		TaskID:            taskID,
		WorkflowID:        workflowID,
		RiskTier:          tier,
		RequiredApprovers: approvers,
		CreatedAt:         now,
		ExpiresAt:         now.Add(g.tokenTTL),
		Token:             token,
	}
	return token, nil
}

// generateToken produces a 128-bit, hex-encoded random token (spec.md
// §4.7 "128-bit entropy via crypto/rand").
func generateToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("policygate: generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Approve records one approver's sign-off against token. Once the
// required number of distinct approvers has signed, the request is
// consumed atomically (compare-and-swap on Consumed) and the gate reports
// the action as allowed; a second Approve call against a consumed or
// expired token fails.
func (g *Gate) Approve(_ context.Context, token, approverID string) (Decision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	req, ok := g.pending[token]
	if !ok {
		return Decision{}, workflow.ErrTokenConsumed
	}
	if req.Consumed {
		return Decision{}, workflow.ErrTokenConsumed
	}
	if time.Now().UTC().After(req.ExpiresAt) {
		delete(g.pending, token)
		return Decision{}, workflow.ErrTokenExpired
	}
	if !contains(req.Approvals, approverID) {
		req.Approvals = append(req.Approvals, approverID)
	}
	if len(req.Approvals) < req.RequiredApprovers {
		return Decision{State: StatePendingHuman, Code: workflow.CodePendingHuman, RequiredApprovers: req.RequiredApprovers - len(req.Approvals)}, nil
	}
	req.Consumed = true
	delete(g.pending, token)
	return Decision{State: StateAllowed}, nil
}

// Deny records an explicit rejection, consuming the token so it cannot be
// approved afterward.
func (g *Gate) Deny(_ context.Context, token, reason string) (Decision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	req, ok := g.pending[token]
	if !ok || req.Consumed {
		return Decision{}, workflow.ErrTokenConsumed
	}
	req.Consumed = true
	delete(g.pending, token)
	return Decision{State: StateDenied, Code: workflow.CodeInsufficientPermissions, Reason: reason}, nil
}

// Pending returns the approval request for token, if any remains pending.
func (g *Gate) Pending(token string) (ApprovalRequest, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	req, ok := g.pending[token]
	if !ok {
		return ApprovalRequest{}, false
	}
	return *req, true
}

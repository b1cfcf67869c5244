// Package crv implements the Circuit Reasoning Validation Gate (spec.md
// §4.6): an ordered pipeline of validators run against a task's proposed
// commit before it is applied to workflow state, producing a confidence
// score and, on failure, one of the closed CRV failure codes. Grounded on
// the general validator-pipeline + gate-chain shape of graph/policy.go's
// NodePolicy/RetryPolicy composition, adapted to schema/predicate
// validators instead of retry predicates.
package crv

import (
	"context"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/wfguard/orchestrator/workflow"
)

// Commit is the proposed state transition a task is asking the gate to
// accept (spec.md §3 "Commit"). ID is a caller-assigned unique identifier
// (a uuid, by convention) used to correlate a blocked commit with its
// audit entry.
type Commit struct {
	ID         string
	TaskID     string
	WorkflowID string
	Result     map[string]any
	Confidence float64
}

// Verdict is the gate's decision for one Commit.
type Verdict struct {
	Passed     bool
	Confidence float64
	Code       workflow.CRVCode
	Message    string
}

// Validator is a single check in the CRV pipeline. It returns the verdict
// contribution of just this validator; the Gate combines contributions
// per its BlockOnFailure/RequiredConfidence configuration.
type Validator interface {
	Name() string
	Validate(ctx context.Context, c Commit) (Verdict, error)
}

// Gate runs an ordered Validator pipeline against a Commit (spec.md §4.6).
type Gate struct {
	validators         []Validator
	blockOnFailure     bool
	requiredConfidence float64
}

// NewGate constructs a Gate. requiredConfidence is the minimum Commit
// confidence accepted even when every validator passes (spec.md §4.6
// "required_confidence").
func NewGate(validators []Validator, blockOnFailure bool, requiredConfidence float64) *Gate {
	return &Gate{validators: validators, blockOnFailure: blockOnFailure, requiredConfidence: requiredConfidence}
}

// Evaluate runs every validator in order. If blockOnFailure is set, the
// first failing validator's verdict is returned immediately; otherwise
// all validators run and the lowest-confidence failing verdict (if any)
// is returned.
func (g *Gate) Evaluate(ctx context.Context, c Commit) (Verdict, error) {
	if c.Confidence < g.requiredConfidence {
		return Verdict{
			Passed:     false,
			Confidence: c.Confidence,
			Code:       workflow.CRVLowConfidence,
			Message:    fmt.Sprintf("commit confidence %.3f below required %.3f", c.Confidence, g.requiredConfidence),
		}, nil
	}

	var worst *Verdict
	for _, v := range g.validators {
		verdict, err := v.Validate(ctx, c)
		if err != nil {
			return Verdict{}, fmt.Errorf("crv: validator %s: %w", v.Name(), err)
		}
		if !verdict.Passed {
			if g.blockOnFailure {
				return verdict, nil
			}
			if worst == nil || verdict.Confidence < worst.Confidence {
				vv := verdict
				worst = &vv
			}
		}
	}
	if worst != nil {
		return *worst, nil
	}
	return Verdict{Passed: true, Confidence: c.Confidence}, nil
}

// NotNullValidator fails a commit whose Result is empty or whose named
// required fields are absent or nil.
type NotNullValidator struct {
	RequiredFields []string
}

func (v *NotNullValidator) Name() string { return "not_null" }

func (v *NotNullValidator) Validate(_ context.Context, c Commit) (Verdict, error) {
	if len(c.Result) == 0 {
		return Verdict{Code: workflow.CRVMissingData, Message: "commit result is empty"}, nil
	}
	for _, field := range v.RequiredFields {
		if val, ok := c.Result[field]; !ok || val == nil {
			return Verdict{Code: workflow.CRVMissingData, Message: fmt.Sprintf("required field %q missing", field)}, nil
		}
	}
	return Verdict{Passed: true, Confidence: c.Confidence}, nil
}

// SchemaValidator fails a commit whose Result does not conform to a JSON
// Schema. Backed by santhosh-tekuri/jsonschema/v6 (spec.md §4.6 "schema
// conformance" built-in validator).
type SchemaValidator struct {
	Schema map[string]any
}

func (v *SchemaValidator) Name() string { return "schema_conformance" }

func (v *SchemaValidator) Validate(_ context.Context, c Commit) (Verdict, error) {
	compiler := jsonschema.NewCompiler()
	const resourceURL = "mem://crv-schema.json"
	if err := compiler.AddResource(resourceURL, v.Schema); err != nil {
		return Verdict{}, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile(resourceURL)
	if err != nil {
		return Verdict{}, fmt.Errorf("compile schema: %w", err)
	}
	if err := compiled.Validate(any(c.Result)); err != nil {
		return Verdict{Code: workflow.CRVConflict, Message: err.Error()}, nil
	}
	return Verdict{Passed: true, Confidence: c.Confidence}, nil
}

// MaxSizeValidator fails a commit whose canonical JSON encoding exceeds a
// byte ceiling, guarding against runaway tool output.
type MaxSizeValidator struct {
	MaxBytes int
}

func (v *MaxSizeValidator) Name() string { return "max_size" }

func (v *MaxSizeValidator) Validate(_ context.Context, c Commit) (Verdict, error) {
	raw, err := workflow.CanonicalJSON(c.Result)
	if err != nil {
		return Verdict{}, err
	}
	if len(raw) > v.MaxBytes {
		return Verdict{Code: workflow.CRVOutOfScope, Message: fmt.Sprintf("commit result %d bytes exceeds max %d", len(raw), v.MaxBytes)}, nil
	}
	return Verdict{Passed: true, Confidence: c.Confidence}, nil
}

// PredicateValidator wraps a caller-supplied function for ad hoc domain
// checks that don't warrant a dedicated validator type.
type PredicateValidator struct {
	ValidatorName string
	Code          workflow.CRVCode
	Predicate     func(Commit) (bool, string)
}

func (v *PredicateValidator) Name() string { return v.ValidatorName }

func (v *PredicateValidator) Validate(_ context.Context, c Commit) (Verdict, error) {
	ok, msg := v.Predicate(c)
	if !ok {
		return Verdict{Code: v.Code, Message: msg}, nil
	}
	return Verdict{Passed: true, Confidence: c.Confidence}, nil
}

package tool

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/wfguard/orchestrator/workflow"
	"github.com/wfguard/orchestrator/workflow/cache"
)

// ComputeIdempotencyKey derives the stable key for one tool invocation
// from the (task_id, step_id, tool_id, normalized_args) tuple (spec.md
// §3/§4.8). Grounded on graph/checkpoint.go's computeIdempotencyKey:
// same SHA-256-over-sorted-fields shape, adapted from
// (runID, stepID, frontier, state) to this tuple, with args canonicalized
// via workflow.CanonicalJSON so key order never affects the hash.
func ComputeIdempotencyKey(taskID string, stepID int, toolName string, args map[string]any) (string, error) {
	argsJSON, err := workflow.CanonicalJSON(args)
	if err != nil {
		return "", fmt.Errorf("tool: canonicalize args: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(taskID))
	h.Write([]byte(fmt.Sprintf(":%d:", stepID)))
	h.Write([]byte(toolName))
	h.Write([]byte(":"))
	h.Write(argsJSON)
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}

// Layer is the Tool Execution Layer: it wraps a Registry lookup with
// idempotency-key derivation, result caching, schema validation, and
// timeout enforcement (spec.md §4.8's five-step algorithm).
type Layer struct {
	registry *Registry
	cache    cache.Cache
}

// NewLayer constructs a Layer over registry, using resultCache for
// cache_replay idempotency on side-effecting tools.
func NewLayer(registry *Registry, resultCache cache.Cache) *Layer {
	return &Layer{registry: registry, cache: resultCache}
}

// Invocation is one request to execute a tool on behalf of a task.
type Invocation struct {
	TaskID string
	StepID int
	Tool   string
	Args   map[string]any
	// OutputSchema, if set, is validated in addition to the tool's own
	// declared output schema (spec.md §4.8 step 5).
	OutputSchema map[string]any
	Timeout      time.Duration
}

// Result is the outcome of one Execute call.
type Result struct {
	Output         map[string]any
	IdempotencyKey string
	Replayed       bool
}

// Execute runs the five-step Tool Execution Layer algorithm from spec.md
// §4.8:
//  1. compute the idempotency key;
//  2. for side-effecting tools using cache_replay, check the result cache
//     and return a cached success without invoking the tool;
//  3. validate input against the tool's declared input schema;
//  4. invoke the tool under a deadline;
//  5. validate output against the tool's declared output schema and any
//     task-level OutputSchema, then cache a successful result.
func (l *Layer) Execute(ctx context.Context, inv Invocation) (Result, error) {
	t, spec, ok := l.registry.Lookup(inv.Tool)
	if !ok {
		return Result{}, &workflow.TaskError{
			Code: workflow.CodeToolError, TaskID: inv.TaskID,
			Message: fmt.Sprintf("tool not registered: %s", inv.Tool),
		}
	}

	key, err := ComputeIdempotencyKey(inv.TaskID, inv.StepID, inv.Tool, inv.Args)
	if err != nil {
		return Result{}, &workflow.TaskError{Code: workflow.CodeToolError, TaskID: inv.TaskID, Message: err.Error(), Cause: err}
	}

	if spec.SideEffecting && spec.Idempotency == StrategyCacheReplay && l.cache != nil {
		if cached, ok, err := l.cache.Get(ctx, key); err != nil {
			return Result{}, &workflow.TaskError{Code: workflow.CodeToolError, TaskID: inv.TaskID, Message: err.Error(), Cause: err}
		} else if ok {
			return Result{Output: cached, IdempotencyKey: key, Replayed: true}, nil
		}
	}

	args := inv.Args
	if spec.Idempotency == StrategyRequestID {
		args = mergeIdempotencyKey(inv.Args, key)
	}

	if spec.InputSchema != nil {
		if err := validateSchema(spec.InputSchema, args); err != nil {
			return Result{}, &workflow.TaskError{
				Code: workflow.CodeInputSchemaViolation, TaskID: inv.TaskID,
				Message: err.Error(), Cause: err,
			}
		}
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if inv.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	output, err := t.Call(callCtx, args)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return Result{}, &workflow.TaskError{Code: workflow.CodeTimeout, TaskID: inv.TaskID, Message: "tool call exceeded deadline", Retryable: true, Cause: err}
		}
		if callCtx.Err() == context.Canceled {
			return Result{}, &workflow.TaskError{Code: workflow.CodeCancelled, TaskID: inv.TaskID, Message: "tool call cancelled", Cause: err}
		}
		return Result{}, &workflow.TaskError{Code: workflow.CodeToolError, TaskID: inv.TaskID, Message: err.Error(), Retryable: true, Cause: err}
	}

	if spec.OutputSchema != nil {
		if err := validateSchema(spec.OutputSchema, output); err != nil {
			return Result{}, &workflow.TaskError{Code: workflow.CodeOutputSchemaViolation, TaskID: inv.TaskID, Message: err.Error(), Cause: err}
		}
	}
	if inv.OutputSchema != nil {
		if err := validateSchema(inv.OutputSchema, output); err != nil {
			return Result{}, &workflow.TaskError{Code: workflow.CodeOutputSchemaViolation, TaskID: inv.TaskID, Message: err.Error(), Cause: err}
		}
	}

	if spec.SideEffecting && spec.Idempotency == StrategyCacheReplay && l.cache != nil {
		if err := l.cache.Set(ctx, key, output); err != nil {
			return Result{}, &workflow.TaskError{Code: workflow.CodeToolError, TaskID: inv.TaskID, Message: err.Error(), Cause: err}
		}
	}

	return Result{Output: output, IdempotencyKey: key}, nil
}

func mergeIdempotencyKey(args map[string]any, key string) map[string]any {
	merged := make(map[string]any, len(args)+1)
	for k, v := range args {
		merged[k] = v
	}
	merged["idempotency_key"] = key
	return merged
}

// validateSchema compiles and evaluates a JSON Schema document against
// value, using santhosh-tekuri/jsonschema/v6 (the CRV Gate's schema
// conformance validator uses the same library through its own code in
// crv.go).
func validateSchema(schema map[string]any, value map[string]any) error {
	compiler := jsonschema.NewCompiler()
	const resourceURL = "mem://schema.json"
	if err := compiler.AddResource(resourceURL, schema); err != nil {
		return fmt.Errorf("tool: add schema resource: %w", err)
	}
	compiled, err := compiler.Compile(resourceURL)
	if err != nil {
		return fmt.Errorf("tool: compile schema: %w", err)
	}
	if err := compiled.Validate(any(value)); err != nil {
		return fmt.Errorf("tool: schema validation failed: %w", err)
	}
	return nil
}

package crv

import (
	"context"
	"fmt"
	"regexp"

	"github.com/wfguard/orchestrator/workflow"
)

// RangeValidator fails a commit whose named numeric field falls outside
// [Min, Max].
type RangeValidator struct {
	Field    string
	Min, Max float64
}

func (v *RangeValidator) Name() string { return "range" }

func (v *RangeValidator) Validate(_ context.Context, c Commit) (Verdict, error) {
	raw, ok := c.Result[v.Field]
	if !ok {
		return Verdict{Code: workflow.CRVMissingData, Message: fmt.Sprintf("field %q missing for range check", v.Field)}, nil
	}
	num, ok := toFloat(raw)
	if !ok {
		return Verdict{Code: workflow.CRVConflict, Message: fmt.Sprintf("field %q is not numeric", v.Field)}, nil
	}
	if num < v.Min || num > v.Max {
		return Verdict{Code: workflow.CRVConflict, Message: fmt.Sprintf("field %q value %v outside range [%v, %v]", v.Field, num, v.Min, v.Max)}, nil
	}
	return Verdict{Passed: true, Confidence: c.Confidence}, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// RegexValidator fails a commit whose named string field does not match
// Pattern.
type RegexValidator struct {
	Field   string
	Pattern *regexp.Regexp
}

func (v *RegexValidator) Name() string { return "regex" }

func (v *RegexValidator) Validate(_ context.Context, c Commit) (Verdict, error) {
	raw, ok := c.Result[v.Field]
	if !ok {
		return Verdict{Code: workflow.CRVMissingData, Message: fmt.Sprintf("field %q missing for regex check", v.Field)}, nil
	}
	str, ok := raw.(string)
	if !ok {
		return Verdict{Code: workflow.CRVConflict, Message: fmt.Sprintf("field %q is not a string", v.Field)}, nil
	}
	if !v.Pattern.MatchString(str) {
		return Verdict{Code: workflow.CRVConflict, Message: fmt.Sprintf("field %q does not match pattern %s", v.Field, v.Pattern.String())}, nil
	}
	return Verdict{Passed: true, Confidence: c.Confidence}, nil
}

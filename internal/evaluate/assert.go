package evaluate

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/oliveagle/jsonpath"

	"github.com/osbits/winfleet/internal/checkdef"
	"github.com/osbits/winfleet/internal/winrm"
)

// AssertionResult captures the outcome of a single assertion.
type AssertionResult struct {
	Kind    string
	Op      string
	Path    string
	Passed  bool
	Message string
}

// Custom evaluates a custom script check: the baseline execution verdict
// plus operator-defined assertions over the parsed payload. Failed
// assertions demote a successful execution to WARNING; they never upgrade
// a FAILED one.
func Custom(p checkdef.CustomParams, exec winrm.Result) (Evaluation, []AssertionResult) {
	ev := baseline(exec)

	results := make([]AssertionResult, 0, len(p.Assertions))
	failed := 0
	for _, a := range p.Assertions {
		res := evalAssertion(a, ev.Data)
		if !res.Passed {
			failed++
		}
		results = append(results, res)
	}

	if failed > 0 && ev.Status == StatusSuccess {
		ev.Status = StatusWarning
		if ev.Message == "" {
			ev.Message = fmt.Sprintf("%d of %d assertions failed", failed, len(p.Assertions))
		}
	}

	return ev, results
}

func evalAssertion(a checkdef.Assertion, data any) AssertionResult {
	res := AssertionResult{Kind: a.Kind, Op: a.Op, Path: a.Path}

	switch strings.ToLower(strings.TrimSpace(a.Kind)) {
	case "jsonpath", "":
		val, err := jsonpath.JsonPathLookup(data, a.Path)
		if err != nil {
			if strings.EqualFold(a.Op, "exists") {
				res.Passed = false
				res.Message = "jsonpath value does not exist"
				return res
			}
			res.Passed = false
			res.Message = fmt.Sprintf("jsonpath lookup: %v", err)
			return res
		}
		res.Passed, res.Message = compare(val, a.Value, a.Op)
	case "expr":
		expr, err := govaluate.NewEvaluableExpression(a.Expr)
		if err != nil {
			res.Passed = false
			res.Message = fmt.Sprintf("invalid expression %q: %v", a.Expr, err)
			return res
		}
		params := map[string]any{}
		if obj, ok := data.(map[string]any); ok {
			for k, v := range obj {
				params[k] = v
			}
		}
		out, err := expr.Evaluate(params)
		if err != nil {
			res.Passed = false
			res.Message = fmt.Sprintf("evaluate expression: %v", err)
			return res
		}
		pass, ok := out.(bool)
		if !ok {
			res.Passed = false
			res.Message = fmt.Sprintf("expression result %v is not boolean", out)
			return res
		}
		res.Passed = pass
		if !pass {
			res.Message = fmt.Sprintf("expression %q is false", a.Expr)
		}
	default:
		res.Passed = false
		res.Message = fmt.Sprintf("unsupported assertion kind %q", a.Kind)
	}

	return res
}

func compare(actual, expected any, op string) (bool, string) {
	switch strings.ToLower(strings.TrimSpace(op)) {
	case "exists":
		if actual == nil {
			return false, "jsonpath value does not exist"
		}
		return true, ""
	case "eq", "":
		if stringify(actual) != stringify(expected) {
			return false, fmt.Sprintf("got %v, want %v", actual, expected)
		}
		return true, ""
	case "ne":
		if stringify(actual) == stringify(expected) {
			return false, fmt.Sprintf("got %v, want anything else", actual)
		}
		return true, ""
	case "contains":
		if !strings.Contains(stringify(actual), stringify(expected)) {
			return false, fmt.Sprintf("%v does not contain %v", actual, expected)
		}
		return true, ""
	case "gt", "lt":
		a, aok := toFloat(actual)
		b, bok := toFloat(expected)
		if !aok || !bok {
			return false, fmt.Sprintf("non-numeric comparison: %v %s %v", actual, op, expected)
		}
		if strings.EqualFold(op, "gt") && !(a > b) {
			return false, fmt.Sprintf("%v is not greater than %v", actual, expected)
		}
		if strings.EqualFold(op, "lt") && !(a < b) {
			return false, fmt.Sprintf("%v is not less than %v", actual, expected)
		}
		return true, ""
	default:
		return false, fmt.Sprintf("unsupported op %q", op)
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// Package evaluate turns raw execution results into typed check verdicts.
// All functions are pure and total: they never fail and always produce a
// definite status.
package evaluate

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/osbits/winfleet/internal/checkdef"
	"github.com/osbits/winfleet/internal/winrm"
)

// Status is the normalized verdict of one check.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
	StatusWarning Status = "WARNING"
)

// Evaluation is the immutable outcome of evaluating one execution result.
type Evaluation struct {
	Status  Status
	Message string
	Data    any
}

// ParseResultData interprets raw probe output. Strict JSON first, then the
// true/false literals case-insensitively, then a number, else the trimmed
// raw string is kept as-is so unparseable output never fails a check.
func ParseResultData(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return map[string]any{}
	}

	var parsed any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
		return parsed
	}

	switch strings.ToLower(trimmed) {
	case "true":
		return true
	case "false":
		return false
	}

	if n, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return n
	}

	return trimmed
}

// existsField extracts the payload's exists flag. The second return is
// false when the payload is not an object or carries no boolean exists.
func existsField(data any) (bool, bool) {
	obj, ok := data.(map[string]any)
	if !ok {
		return false, false
	}
	b, ok := obj["exists"].(bool)
	return b, ok
}

// baseline derives the starting verdict from execution success alone.
func baseline(exec winrm.Result) Evaluation {
	status := StatusSuccess
	if !exec.Success {
		status = StatusFailed
	}
	return Evaluation{
		Status:  status,
		Message: strings.TrimSpace(exec.Error),
		Data:    ParseResultData(exec.Output),
	}
}

// Execution evaluates checks whose only criterion is that the probe ran:
// ping, system info and user info.
func Execution(exec winrm.Result) Evaluation {
	return baseline(exec)
}

// Registry evaluates a registry check result. A payload reporting
// exists:false forces FAILED even when execution succeeded, and a FAILED
// status is never downgraded by the expected-value comparison.
func Registry(p checkdef.RegistryParams, exec winrm.Result) Evaluation {
	ev := baseline(exec)

	exists, hasExists := existsField(ev.Data)
	if hasExists && !exists {
		ev.Status = StatusFailed
		if ev.Message == "" {
			ev.Message = "Registry path/value not found"
		}
	}

	hasValueName := strings.TrimSpace(p.ValueName) != ""
	if ev.Status != StatusFailed && p.ExpectedValue != nil && hasValueName && hasExists && exists {
		actual := ""
		if obj, ok := ev.Data.(map[string]any); ok {
			actual = stringify(obj["value"])
		}
		if actual != *p.ExpectedValue {
			ev.Status = StatusWarning
			ev.Message = fmt.Sprintf("Expected %q but got %q", *p.ExpectedValue, actual)
		}
	}

	return ev
}

// File evaluates a file check result against the expected existence.
func File(p checkdef.FileParams, exec winrm.Result) Evaluation {
	ev := baseline(exec)

	exists, hasExists := existsField(ev.Data)
	if !hasExists {
		return ev
	}

	expectExists := p.ExpectExists()
	switch {
	case exists && !expectExists:
		ev.Status = StatusFailed
		if ev.Message == "" {
			ev.Message = "Expected path to be missing, but it exists"
		}
	case !exists && expectExists:
		ev.Status = StatusFailed
		if ev.Message == "" {
			ev.Message = "File/path not found"
		}
	}
	// exists:false with expectExists:false keeps the baseline: absence was
	// the desired state.

	return ev
}

// Service evaluates a service lookup result. A payload reporting
// exists:false means no service matched by name or executable path.
func Service(_ checkdef.ServiceParams, exec winrm.Result) Evaluation {
	ev := baseline(exec)

	if exists, hasExists := existsField(ev.Data); hasExists && !exists {
		ev.Status = StatusFailed
		if ev.Message == "" {
			ev.Message = "Service not found"
		}
	}

	return ev
}

// stringify renders a parsed JSON value the way the expected-value
// comparison wants it: numbers without a trailing fraction, booleans as
// true/false, nil as empty.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// PCModel derives a "<Manufacturer> <Model>" label from a system-info
// payload; empty when neither field is present.
func PCModel(data any) string {
	obj, ok := data.(map[string]any)
	if !ok {
		return ""
	}
	manufacturer := strings.TrimSpace(stringify(firstField(obj, "Manufacturer", "manufacturer")))
	model := strings.TrimSpace(stringify(firstField(obj, "Model", "model")))
	return strings.TrimSpace(manufacturer + " " + model)
}

func firstField(obj map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := obj[k]; ok {
			return v
		}
	}
	return nil
}

package evaluate

import (
	"strings"
	"testing"
	"time"

	"github.com/osbits/winfleet/internal/checkdef"
	"github.com/osbits/winfleet/internal/winrm"
)

func strptr(s string) *string { return &s }
func boolptr(b bool) *bool    { return &b }

func okExec(output string) winrm.Result {
	return winrm.Result{Success: true, Output: output, Duration: 12 * time.Millisecond}
}

func failedExec(errMsg string) winrm.Result {
	return winrm.Result{Success: false, Error: errMsg, Duration: 12 * time.Millisecond}
}

func TestParseResultData(t *testing.T) {
	if got := ParseResultData(`{"a":1}`); got == nil {
		t.Fatal("json object should parse")
	} else if m, ok := got.(map[string]any); !ok || m["a"] != float64(1) {
		t.Errorf("got %#v, want map with a=1", got)
	}

	if got := ParseResultData("true"); got != true {
		t.Errorf("ParseResultData(true) = %#v", got)
	}
	if got := ParseResultData("FALSE"); got != false {
		t.Errorf("ParseResultData(FALSE) = %#v", got)
	}
	if got := ParseResultData("42"); got != float64(42) {
		t.Errorf("ParseResultData(42) = %#v", got)
	}
	if got := ParseResultData("not-json"); got != "not-json" {
		t.Errorf("ParseResultData(not-json) = %#v", got)
	}
	if got := ParseResultData("  "); len(got.(map[string]any)) != 0 {
		t.Errorf("blank output should yield empty object, got %#v", got)
	}
}

func TestRegistryMissingOverridesExecutionSuccess(t *testing.T) {
	p := checkdef.RegistryParams{Path: `HKEY_LOCAL_MACHINE\SOFTWARE\X`}
	ev := Registry(p, okExec(`{"path":"HKEY_LOCAL_MACHINE\\SOFTWARE\\X","exists":false}`))
	if ev.Status != StatusFailed {
		t.Fatalf("status = %s, want FAILED", ev.Status)
	}
	if ev.Message != "Registry path/value not found" {
		t.Errorf("message = %q", ev.Message)
	}
}

func TestRegistryMissingNeverWarns(t *testing.T) {
	p := checkdef.RegistryParams{
		Path:          `HKEY_LOCAL_MACHINE\SOFTWARE\X`,
		ValueName:     "Enabled",
		ExpectedValue: strptr("1"),
	}
	ev := Registry(p, okExec(`{"exists":false}`))
	if ev.Status != StatusFailed {
		t.Fatalf("FAILED must never downgrade to WARNING, got %s", ev.Status)
	}
}

func TestRegistryValueMismatchWarns(t *testing.T) {
	p := checkdef.RegistryParams{
		Path:          `HKEY_LOCAL_MACHINE\SOFTWARE\X`,
		ValueName:     "Enabled",
		ExpectedValue: strptr("1"),
	}
	ev := Registry(p, okExec(`{"exists":true,"valueName":"Enabled","value":0}`))
	if ev.Status != StatusWarning {
		t.Fatalf("status = %s, want WARNING", ev.Status)
	}
	if !strings.Contains(ev.Message, "Expected") {
		t.Errorf("message = %q, want Expected...", ev.Message)
	}
	if !strings.Contains(ev.Message, "0") {
		t.Errorf("message should carry the actual value, got %q", ev.Message)
	}
}

func TestRegistryValueMatch(t *testing.T) {
	p := checkdef.RegistryParams{
		Path:          `HKEY_LOCAL_MACHINE\SOFTWARE\X`,
		ValueName:     "Enabled",
		ExpectedValue: strptr("1"),
	}
	ev := Registry(p, okExec(`{"exists":true,"value":1}`))
	if ev.Status != StatusSuccess {
		t.Fatalf("status = %s, want SUCCESS", ev.Status)
	}
}

func TestRegistryNoValueNameSkipsComparison(t *testing.T) {
	p := checkdef.RegistryParams{
		Path:          `HKEY_LOCAL_MACHINE\SOFTWARE\X`,
		ExpectedValue: strptr("1"),
	}
	ev := Registry(p, okExec(`{"exists":true}`))
	if ev.Status != StatusSuccess {
		t.Fatalf("comparison requires a value name, got %s", ev.Status)
	}
}

func TestRegistryExecutionFailure(t *testing.T) {
	ev := Registry(checkdef.RegistryParams{Path: `HKLM\X`}, failedExec("access denied"))
	if ev.Status != StatusFailed {
		t.Fatalf("status = %s, want FAILED", ev.Status)
	}
	if ev.Message != "access denied" {
		t.Errorf("message = %q", ev.Message)
	}
}

func TestFileEvaluations(t *testing.T) {
	cases := []struct {
		name        string
		checkExists *bool
		payload     string
		want        Status
	}{
		{"present and expected", boolptr(true), `{"exists":true}`, StatusSuccess},
		{"missing but expected", boolptr(true), `{"exists":false}`, StatusFailed},
		{"missing and desired", boolptr(false), `{"exists":false}`, StatusSuccess},
		{"present but undesired", boolptr(false), `{"exists":true}`, StatusFailed},
		{"default expects present", nil, `{"exists":false}`, StatusFailed},
	}
	for _, tc := range cases {
		p := checkdef.FileParams{Path: `C:\Temp\x.txt`, CheckExists: tc.checkExists}
		ev := File(p, okExec(tc.payload))
		if ev.Status != tc.want {
			t.Errorf("%s: status = %s, want %s", tc.name, ev.Status, tc.want)
		}
	}
}

func TestServiceNotFoundFails(t *testing.T) {
	p := checkdef.ServiceParams{ServiceName: "Spooler"}
	ev := Service(p, okExec(`{"query":{"serviceName":"Spooler","executablePath":""},"exists":false}`))
	if ev.Status != StatusFailed {
		t.Fatalf("status = %s, want FAILED", ev.Status)
	}

	ev = Service(p, okExec(`{"exists":true,"matchedBy":"serviceName","state":"Running"}`))
	if ev.Status != StatusSuccess {
		t.Fatalf("status = %s, want SUCCESS", ev.Status)
	}
}

func TestExecutionBaseline(t *testing.T) {
	if ev := Execution(okExec(`{"reachable":true}`)); ev.Status != StatusSuccess {
		t.Errorf("status = %s, want SUCCESS", ev.Status)
	}
	if ev := Execution(failedExec("timeout")); ev.Status != StatusFailed || ev.Message != "timeout" {
		t.Errorf("got %+v, want FAILED/timeout", ev)
	}
}

func TestPCModel(t *testing.T) {
	data := ParseResultData(`{"Manufacturer":"Dell Inc.","Model":"OptiPlex 7090"}`)
	if got := PCModel(data); got != "Dell Inc. OptiPlex 7090" {
		t.Errorf("PCModel = %q", got)
	}
	if got := PCModel(ParseResultData(`{}`)); got != "" {
		t.Errorf("PCModel on empty payload = %q, want empty", got)
	}
	if got := PCModel("raw string"); got != "" {
		t.Errorf("PCModel on non-object = %q, want empty", got)
	}
}

func TestCustomAssertions(t *testing.T) {
	p := checkdef.CustomParams{
		Script: "noop",
		Assertions: []checkdef.Assertion{
			{Kind: "jsonpath", Op: "eq", Path: "$.state", Value: "Running"},
			{Kind: "jsonpath", Op: "exists", Path: "$.pid"},
			{Kind: "expr", Expr: "uptime > 1"},
		},
	}
	ev, results := Custom(p, okExec(`{"state":"Running","pid":123,"uptime":5.5}`))
	if ev.Status != StatusSuccess {
		t.Fatalf("status = %s, want SUCCESS, results %+v", ev.Status, results)
	}
	for _, r := range results {
		if !r.Passed {
			t.Errorf("assertion %s %s failed: %s", r.Kind, r.Path, r.Message)
		}
	}
}

func TestCustomFailedAssertionWarns(t *testing.T) {
	p := checkdef.CustomParams{
		Assertions: []checkdef.Assertion{
			{Kind: "jsonpath", Op: "eq", Path: "$.state", Value: "Running"},
		},
	}
	ev, results := Custom(p, okExec(`{"state":"Stopped"}`))
	if ev.Status != StatusWarning {
		t.Fatalf("status = %s, want WARNING", ev.Status)
	}
	if len(results) != 1 || results[0].Passed {
		t.Errorf("assertion should have failed: %+v", results)
	}
}

func TestCustomFailedExecutionStaysFailed(t *testing.T) {
	p := checkdef.CustomParams{
		Assertions: []checkdef.Assertion{{Kind: "jsonpath", Op: "exists", Path: "$.x"}},
	}
	ev, _ := Custom(p, failedExec("boom"))
	if ev.Status != StatusFailed {
		t.Fatalf("assertions must not upgrade FAILED, got %s", ev.Status)
	}
}

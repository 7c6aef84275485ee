// Package probe runs checks end to end: generate the script for a check
// definition, dispatch it over the command channel, evaluate the outcome,
// persist the result and roll the machine's status up.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/osbits/winfleet/internal/checkdef"
	"github.com/osbits/winfleet/internal/evaluate"
	"github.com/osbits/winfleet/internal/psscript"
	"github.com/osbits/winfleet/internal/registrypath"
	"github.com/osbits/winfleet/internal/scanauth"
	"github.com/osbits/winfleet/internal/storage"
	"github.com/osbits/winfleet/internal/winrm"
)

// Outcome is what one (machine, check) execution produced.
type Outcome struct {
	Definition checkdef.Definition
	Evaluation evaluate.Evaluation
	Assertions []evaluate.AssertionResult
	DurationMS int64
	ResultID   string
	// PCModel is non-empty only for system-info payloads that carried one.
	PCModel string
}

// Pipeline wires the channel, evaluator and storage together.
type Pipeline struct {
	store   *storage.Store
	channel winrm.Channel
	logger  *slog.Logger
}

// New builds a pipeline.
func New(store *storage.Store, channel winrm.Channel, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{store: store, channel: channel, logger: logger}
}

// RunCheck executes one definition against one machine and updates the
// machine's rolled-up status from that single result. The returned error
// covers persistence only; execution and evaluation failures surface as a
// FAILED outcome.
func (p *Pipeline) RunCheck(ctx context.Context, machine storage.Machine, def checkdef.Definition, override *scanauth.Override) (Outcome, error) {
	out, err := p.runOne(ctx, machine, def, override)
	if err != nil {
		return out, err
	}
	if err := p.updateHealth(ctx, machine.ID, statusFor(out.Evaluation.Status), out.PCModel); err != nil {
		return out, err
	}
	return out, nil
}

// RunAll executes every active definition of one kind against the machine
// and rolls the status up across all of them.
func (p *Pipeline) RunAll(ctx context.Context, machine storage.Machine, kind checkdef.Kind, override *scanauth.Override) ([]Outcome, error) {
	defs, err := p.store.ListCheckDefinitions(ctx, kind, true)
	if err != nil {
		return nil, err
	}
	return p.runBatch(ctx, machine, defs, override)
}

// RunSuite performs a full check of one machine: the built-in ping, system
// info and user info probes plus every active registry, file and service
// definition. The machine status reflects the worst result in the suite.
func (p *Pipeline) RunSuite(ctx context.Context, machine storage.Machine, override *scanauth.Override) ([]Outcome, error) {
	defs := []checkdef.Definition{
		{Kind: checkdef.KindPing, Name: "ping"},
		{Kind: checkdef.KindSystemInfo, Name: "system info"},
		{Kind: checkdef.KindUserInfo, Name: "user info"},
	}
	for _, kind := range []checkdef.Kind{checkdef.KindRegistry, checkdef.KindFile, checkdef.KindService} {
		stored, err := p.store.ListCheckDefinitions(ctx, kind, true)
		if err != nil {
			return nil, err
		}
		defs = append(defs, stored...)
	}
	return p.runBatch(ctx, machine, defs, override)
}

// RecordUnreachable persists a FAILED ping result without dispatching
// anything, used when a preflight already showed the host is down.
func (p *Pipeline) RecordUnreachable(ctx context.Context, machine storage.Machine, reason string) error {
	if reason == "" {
		reason = "host unreachable"
	}
	ev := evaluate.Evaluation{Status: evaluate.StatusFailed, Message: reason, Data: map[string]any{}}
	if _, err := p.persist(ctx, machine, checkdef.Definition{Kind: checkdef.KindPing, Name: "ping"}, ev, 0); err != nil {
		return err
	}
	return p.updateHealth(ctx, machine.ID, storage.MachineStatusError, "")
}

func (p *Pipeline) runBatch(ctx context.Context, machine storage.Machine, defs []checkdef.Definition, override *scanauth.Override) ([]Outcome, error) {
	worst := evaluate.StatusSuccess
	pcModel := ""
	outcomes := make([]Outcome, 0, len(defs))
	for _, def := range defs {
		out, err := p.runOne(ctx, machine, def, override)
		if err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, out)
		worst = worse(worst, out.Evaluation.Status)
		if out.PCModel != "" {
			pcModel = out.PCModel
		}
	}
	if len(outcomes) == 0 {
		return outcomes, nil
	}
	return outcomes, p.updateHealth(ctx, machine.ID, statusFor(worst), pcModel)
}

func (p *Pipeline) runOne(ctx context.Context, machine storage.Machine, def checkdef.Definition, override *scanauth.Override) (Outcome, error) {
	target := winrm.Target{Hostname: machine.Hostname, IPAddress: machine.IPAddress}

	var (
		ev         evaluate.Evaluation
		assertions []evaluate.AssertionResult
		duration   int64
	)

	switch def.Kind {
	case checkdef.KindPing:
		exec := p.channel.Execute(ctx, psscript.Ping(), target, override)
		ev, duration = evaluate.Execution(exec), exec.Duration.Milliseconds()

	case checkdef.KindRegistry:
		params, err := def.Registry()
		if err != nil {
			ev = invalidParams(err)
			break
		}
		params.Path = registrypath.Normalize(params.Path)
		params.ValueName = registrypath.NormalizeValueName(params.ValueName)
		script := psscript.RegistryKey(params.Path)
		if params.ValueName != "" {
			script = psscript.RegistryValue(params.Path, params.ValueName)
		}
		exec := p.channel.Execute(ctx, script, target, override)
		ev, duration = evaluate.Registry(params, exec), exec.Duration.Milliseconds()

	case checkdef.KindFile:
		params, err := def.File()
		if err != nil {
			ev = invalidParams(err)
			break
		}
		exec := p.channel.Execute(ctx, psscript.FileInfo(params.Path), target, override)
		ev, duration = evaluate.File(params, exec), exec.Duration.Milliseconds()

	case checkdef.KindService:
		params, err := def.Service()
		if err != nil {
			ev = invalidParams(err)
			break
		}
		exec := p.channel.Execute(ctx, psscript.Service(params.ServiceName, params.ExecutablePath), target, override)
		ev, duration = evaluate.Service(params, exec), exec.Duration.Milliseconds()

	case checkdef.KindSystemInfo:
		exec := p.channel.Execute(ctx, psscript.SystemInfo(), target, override)
		ev, duration = evaluate.Execution(exec), exec.Duration.Milliseconds()

	case checkdef.KindUserInfo:
		params, err := def.UserInfo()
		if err != nil {
			ev = invalidParams(err)
			break
		}
		exec := p.userInfo(ctx, target, params.Normalized(), override)
		ev, duration = evaluate.Execution(exec), exec.Duration.Milliseconds()

	case checkdef.KindCustom:
		params, err := def.Custom()
		if err != nil {
			ev = invalidParams(err)
			break
		}
		exec := p.channel.Execute(ctx, params.Script, target, override)
		ev, assertions = evaluate.Custom(params, exec)
		duration = exec.Duration.Milliseconds()

	default:
		ev = invalidParams(fmt.Errorf("unknown check kind %q", def.Kind))
	}

	out := Outcome{
		Definition: def,
		Evaluation: ev,
		Assertions: assertions,
		DurationMS: duration,
	}
	if def.Kind == checkdef.KindSystemInfo && ev.Status == evaluate.StatusSuccess {
		out.PCModel = evaluate.PCModel(ev.Data)
	}

	id, err := p.persist(ctx, machine, def, ev, duration)
	if err != nil {
		return out, err
	}
	out.ResultID = id
	return out, nil
}

// userInfo runs the requested user lookup variant. The combined mode runs
// both probes, wraps their payloads under currentUser/lastUser and sums
// the durations; it succeeds only when both probes did.
func (p *Pipeline) userInfo(ctx context.Context, target winrm.Target, mode checkdef.UserInfoMode, override *scanauth.Override) winrm.Result {
	switch mode {
	case checkdef.UserInfoCurrentOnly:
		return p.channel.Execute(ctx, psscript.CurrentUser(), target, override)
	case checkdef.UserInfoLastOnly:
		return p.channel.Execute(ctx, psscript.LastUser(), target, override)
	}

	current := p.channel.Execute(ctx, psscript.CurrentUser(), target, override)
	last := p.channel.Execute(ctx, psscript.LastUser(), target, override)

	combined := map[string]any{
		"currentUser": evaluate.ParseResultData(current.Output),
		"lastUser":    evaluate.ParseResultData(last.Output),
	}
	raw, err := json.Marshal(combined)
	if err != nil {
		raw = []byte("{}")
	}

	var errs []string
	for _, msg := range []string{current.Error, last.Error} {
		if strings.TrimSpace(msg) != "" {
			errs = append(errs, strings.TrimSpace(msg))
		}
	}

	return winrm.Result{
		Success:  current.Success && last.Success,
		Output:   string(raw),
		Error:    strings.Join(errs, "; "),
		Duration: current.Duration + last.Duration,
	}
}

func (p *Pipeline) persist(ctx context.Context, machine storage.Machine, def checkdef.Definition, ev evaluate.Evaluation, durationMS int64) (string, error) {
	id, err := p.store.InsertCheckResult(ctx, storage.CheckResult{
		MachineID:  machine.ID,
		CheckKind:  def.Kind,
		CheckName:  def.Name,
		Status:     string(ev.Status),
		ResultData: ev.Data,
		Message:    ev.Message,
		DurationMS: durationMS,
	})
	if err != nil {
		return "", fmt.Errorf("persist check result: %w", err)
	}

	audit := storage.AuditEvent{
		EventType: "CHECK_EXECUTED",
		Level:     auditLevel(ev.Status),
		Message:   fmt.Sprintf("%s %q on %s: %s", def.Kind, def.Name, machine.Hostname, ev.Status),
		MachineID: machine.ID,
		Metadata:  map[string]any{"check_kind": string(def.Kind), "status": string(ev.Status), "result_id": id},
	}
	if err := p.store.InsertAuditEvent(ctx, audit); err != nil {
		p.logger.Warn("audit write failed", "machine", machine.ID, "error", err)
	}
	return id, nil
}

func (p *Pipeline) updateHealth(ctx context.Context, machineID, status, pcModel string) error {
	if err := p.store.UpdateMachineHealth(ctx, machineID, status, pcModel); err != nil {
		return fmt.Errorf("update machine health: %w", err)
	}
	return nil
}

func invalidParams(err error) evaluate.Evaluation {
	return evaluate.Evaluation{
		Status:  evaluate.StatusFailed,
		Message: fmt.Sprintf("invalid check parameters: %v", err),
		Data:    map[string]any{},
	}
}

// statusFor maps a check verdict onto the machine status rollup.
func statusFor(s evaluate.Status) string {
	switch s {
	case evaluate.StatusFailed:
		return storage.MachineStatusError
	case evaluate.StatusWarning:
		return storage.MachineStatusWarning
	default:
		return storage.MachineStatusOnline
	}
}

// worse keeps the most severe of two verdicts: FAILED > WARNING > SUCCESS.
func worse(a, b evaluate.Status) evaluate.Status {
	rank := func(s evaluate.Status) int {
		switch s {
		case evaluate.StatusFailed:
			return 2
		case evaluate.StatusWarning:
			return 1
		}
		return 0
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}

func auditLevel(s evaluate.Status) string {
	switch s {
	case evaluate.StatusFailed:
		return "ERROR"
	case evaluate.StatusWarning:
		return "WARN"
	}
	return "INFO"
}

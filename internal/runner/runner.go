// Package runner schedules recurring checks across the fleet.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-ping/ping"
	"github.com/miekg/dns"
	"github.com/robfig/cron/v3"

	"github.com/osbits/winfleet/internal/checkdef"
	"github.com/osbits/winfleet/internal/config"
	"github.com/osbits/winfleet/internal/probe"
	"github.com/osbits/winfleet/internal/storage"
)

// KindFullCheck is the job kind that runs the whole suite instead of a
// single check kind.
const KindFullCheck = "FULL_CHECK"

// ReportSender delivers the scheduled status report.
type ReportSender interface {
	Send(ctx context.Context) error
}

// Runner owns the cron schedule and per-tick machine iteration.
type Runner struct {
	cfg      config.RunnerConfig
	jobs     []config.JobConfig
	store    *storage.Store
	pipeline *probe.Pipeline
	report   ReportSender
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger
}

// New builds a runner. report may be nil when reporting is disabled.
func New(cfg config.RunnerConfig, jobs []config.JobConfig, store *storage.Store, pipeline *probe.Pipeline, report ReportSender, reportSchedule string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:      cfg,
		jobs:     jobs,
		store:    store,
		pipeline: pipeline,
		report:   report,
		schedule: reportSchedule,
		cron:     cron.New(),
		logger:   logger,
	}
}

// Start registers every job with the cron scheduler and starts it.
func (r *Runner) Start(ctx context.Context) error {
	for _, job := range r.jobs {
		job := job
		if job.Kind != KindFullCheck {
			if _, err := checkdef.ParseKind(job.Kind); err != nil {
				return fmt.Errorf("job %q: %w", job.ID, err)
			}
		}
		_, err := r.cron.AddFunc(job.Schedule, func() {
			r.RunJob(ctx, job)
		})
		if err != nil {
			return fmt.Errorf("job %q: invalid schedule %q: %w", job.ID, job.Schedule, err)
		}
		r.logger.Info("scheduled job", "job", job.ID, "kind", job.Kind, "schedule", job.Schedule)
	}

	if r.report != nil && r.schedule != "" {
		_, err := r.cron.AddFunc(r.schedule, func() {
			if err := r.report.Send(ctx); err != nil {
				r.logger.Error("report delivery failed", "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("report: invalid schedule %q: %w", r.schedule, err)
		}
		r.logger.Info("scheduled report", "schedule", r.schedule)
	}

	r.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for running jobs to finish.
func (r *Runner) Stop() {
	<-r.cron.Stop().Done()
}

// RunJob executes one job tick: select machines, then process each one
// sequentially. Machines are independent units; a failure on one never
// stops the rest.
func (r *Runner) RunJob(ctx context.Context, job config.JobConfig) {
	machines, err := r.selectMachines(ctx, job.LocationID)
	if err != nil {
		r.logger.Error("machine selection failed", "job", job.ID, "error", err)
		return
	}
	r.logger.Info("job tick", "job", job.ID, "kind", job.Kind, "machines", len(machines))

	for _, machine := range machines {
		if err := r.runMachine(ctx, job, machine); err != nil {
			r.logger.Error("machine processing failed",
				"job", job.ID, "machine", machine.ID, "hostname", machine.Hostname, "error", err)
		}
	}
}

func (r *Runner) selectMachines(ctx context.Context, locationID string) ([]storage.Machine, error) {
	machines, err := r.store.ListMachines(ctx)
	if err != nil {
		return nil, err
	}
	if locationID == "" {
		return machines, nil
	}
	filtered := machines[:0]
	for _, m := range machines {
		if m.LocationID == locationID {
			filtered = append(filtered, m)
		}
	}
	return filtered, nil
}

func (r *Runner) runMachine(ctx context.Context, job config.JobConfig, machine storage.Machine) error {
	if machine.IPAddress == "" && r.cfg.DNSServer != "" {
		if ip, err := r.resolveIPv4(ctx, machine.Hostname); err != nil {
			r.logger.Warn("hostname resolution failed", "hostname", machine.Hostname, "error", err)
		} else {
			machine.IPAddress = ip
		}
	}

	if r.cfg.PreflightICMP {
		if reachable := r.preflight(machine); !reachable {
			r.logger.Warn("preflight failed, skipping dispatch",
				"job", job.ID, "machine", machine.ID, "hostname", machine.Hostname)
			return r.pipeline.RecordUnreachable(ctx, machine, "host unreachable")
		}
	}

	switch job.Kind {
	case KindFullCheck:
		_, err := r.pipeline.RunSuite(ctx, machine, nil)
		return err
	}

	kind, err := checkdef.ParseKind(job.Kind)
	if err != nil {
		return err
	}
	switch kind {
	case checkdef.KindPing, checkdef.KindSystemInfo, checkdef.KindUserInfo:
		_, err := r.pipeline.RunCheck(ctx, machine, builtinDefinition(kind), nil)
		return err
	default:
		_, err := r.pipeline.RunAll(ctx, machine, kind, nil)
		return err
	}
}

// builtinDefinition synthesizes a definition for the parameterless kinds
// that need no stored row.
func builtinDefinition(kind checkdef.Kind) checkdef.Definition {
	name := strings.ToLower(strings.ReplaceAll(string(kind), "_", " "))
	return checkdef.Definition{Kind: kind, Name: name}
}

// preflight sends a single ICMP echo and reports whether the host
// answered within the configured timeout.
func (r *Runner) preflight(machine storage.Machine) bool {
	addr := machine.IPAddress
	if addr == "" {
		addr = machine.Hostname
	}
	pinger, err := ping.NewPinger(addr)
	if err != nil {
		r.logger.Warn("preflight setup failed", "address", addr, "error", err)
		return false
	}
	pinger.Count = 1
	pinger.Timeout = r.cfg.PreflightTimeout.Duration
	pinger.SetPrivileged(true)
	if err := pinger.Run(); err != nil {
		r.logger.Warn("preflight ping failed", "address", addr, "error", err)
		return false
	}
	return pinger.Statistics().PacketsRecv > 0
}

// resolveIPv4 asks the configured DNS server for an A record.
func (r *Runner) resolveIPv4(ctx context.Context, hostname string) (string, error) {
	if strings.TrimSpace(hostname) == "" {
		return "", fmt.Errorf("no hostname to resolve")
	}

	client := &dns.Client{Timeout: r.cfg.DNSTimeout.Duration}
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(hostname), dns.TypeA)

	server := r.cfg.DNSServer
	if !strings.Contains(server, ":") {
		server += ":53"
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.DNSTimeout.Duration+time.Second)
	defer cancel()

	resp, _, err := client.ExchangeContext(ctx, msg, server)
	if err != nil {
		return "", fmt.Errorf("dns query %q via %s: %w", hostname, server, err)
	}
	for _, answer := range resp.Answer {
		if a, ok := answer.(*dns.A); ok {
			return a.A.String(), nil
		}
	}
	return "", fmt.Errorf("no A record for %q", hostname)
}

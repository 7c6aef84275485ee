// Package report renders the fleet status summary and emails it.
package report

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/smtp"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/jordan-wright/email"

	"github.com/osbits/winfleet/internal/config"
	"github.com/osbits/winfleet/internal/storage"
)

const bodyTemplate = `Fleet health report - {{ .GeneratedAt.Format "2006-01-02 15:04 MST" }}

Machines: {{ .Total }} total, {{ .Online }} online, {{ .Warning }} warning, {{ .Error }} error, {{ .Unknown }} unknown
{{ range .Machines }}
{{ .Hostname }} ({{ .IPAddress }}) [{{ .Status }}]{{ if .PCModel }} {{ .PCModel }}{{ end }}
{{- if .LastCheck }}
  last check: {{ .LastCheck.CheckName }} -> {{ .LastCheck.Status }}{{ if .LastCheck.Message }} ({{ .LastCheck.Message }}){{ end }}
{{- end }}
{{- if .LastSeen }}
  last seen: {{ .LastSeen.Format "2006-01-02 15:04 MST" }}
{{- end }}
{{ end }}`

var tmpl = template.Must(template.New("report").Parse(bodyTemplate))

// MachineSummary is one machine's line in the report.
type MachineSummary struct {
	Hostname  string
	IPAddress string
	Status    string
	PCModel   string
	LastSeen  *time.Time
	LastCheck *storage.CheckResult
}

// Summary is the rendered report model.
type Summary struct {
	GeneratedAt time.Time
	Total       int
	Online      int
	Warning     int
	Error       int
	Unknown     int
	Machines    []MachineSummary
}

// Reporter builds and delivers the status report.
type Reporter struct {
	store    *storage.Store
	cfg      config.ReportConfig
	password string
	logger   *slog.Logger
}

// New builds a reporter. The SMTP password is looked up through the
// resolved secrets map when password_ref is set.
func New(store *storage.Store, cfg config.ReportConfig, secrets map[string]string, logger *slog.Logger) (*Reporter, error) {
	pass, ok := secrets[cfg.PasswordRef]
	if cfg.PasswordRef != "" && !ok {
		return nil, fmt.Errorf("missing secret %q", cfg.PasswordRef)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{store: store, cfg: cfg, password: pass, logger: logger}, nil
}

// Build assembles the summary from storage.
func (r *Reporter) Build(ctx context.Context) (*Summary, error) {
	machines, err := r.store.ListMachines(ctx)
	if err != nil {
		return nil, fmt.Errorf("list machines: %w", err)
	}
	latest, err := r.store.LatestResultPerMachine(ctx)
	if err != nil {
		return nil, fmt.Errorf("load latest results: %w", err)
	}

	s := &Summary{GeneratedAt: time.Now(), Total: len(machines)}
	for _, m := range machines {
		switch m.Status {
		case storage.MachineStatusOnline:
			s.Online++
		case storage.MachineStatusWarning:
			s.Warning++
		case storage.MachineStatusError:
			s.Error++
		default:
			s.Unknown++
		}
		entry := MachineSummary{
			Hostname:  m.Hostname,
			IPAddress: m.IPAddress,
			Status:    m.Status,
			PCModel:   m.PCModel,
			LastSeen:  m.LastSeen,
		}
		if result, ok := latest[m.ID]; ok {
			result := result
			entry.LastCheck = &result
		}
		s.Machines = append(s.Machines, entry)
	}

	// Problem machines first, then by hostname.
	sort.SliceStable(s.Machines, func(i, j int) bool {
		ri, rj := statusRank(s.Machines[i].Status), statusRank(s.Machines[j].Status)
		if ri != rj {
			return ri > rj
		}
		return s.Machines[i].Hostname < s.Machines[j].Hostname
	})
	return s, nil
}

// Render produces the report body.
func (r *Reporter) Render(s *Summary) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, s); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return buf.String(), nil
}

// Send builds, renders and emails the report.
func (r *Reporter) Send(ctx context.Context) error {
	summary, err := r.Build(ctx)
	if err != nil {
		return err
	}
	body, err := r.Render(summary)
	if err != nil {
		return err
	}

	subject := r.cfg.Subject
	if summary.Error > 0 {
		subject = fmt.Sprintf("%s: %d machine(s) in error", subject, summary.Error)
	}

	em := email.NewEmail()
	em.From = r.cfg.From
	em.To = append([]string{}, r.cfg.To...)
	em.Subject = subject
	em.Text = []byte(body)

	addr := fmt.Sprintf("%s:%d", r.cfg.SMTPHost, r.cfg.SMTPPort)
	var auth smtp.Auth
	if r.cfg.Username != "" {
		auth = smtp.PlainAuth("", r.cfg.Username, r.password, r.cfg.SMTPHost)
	}
	tlsConfig := &tls.Config{
		ServerName: r.cfg.SMTPHost,
	}
	if err := em.SendWithTLS(addr, auth, tlsConfig); err != nil {
		return fmt.Errorf("send report to %s: %w", strings.Join(r.cfg.To, ", "), err)
	}
	r.logger.Info("report delivered", "recipients", len(r.cfg.To), "machines", summary.Total)
	return nil
}

func statusRank(status string) int {
	switch status {
	case storage.MachineStatusError:
		return 3
	case storage.MachineStatusWarning:
		return 2
	case storage.MachineStatusUnknown:
		return 1
	}
	return 0
}

// Package config loads the YAML service configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to allow YAML unmarshalling from strings.
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("duration must be a string, got %s", value.ShortTag())
	}
}

// SecretSpec defines how to resolve a secret, e.g. "env:WINRM_PASSWORD".
type SecretSpec struct {
	Source string
	Value  string
}

// UnmarshalYAML parses secret definitions.
func (s *SecretSpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("secret must be scalar, got %s", value.ShortTag())
	}
	raw := strings.TrimSpace(value.Value)
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid secret spec %q", raw)
	}
	s.Source = strings.TrimSpace(parts[0])
	s.Value = strings.TrimSpace(parts[1])
	return nil
}

// Config is the root configuration.
type Config struct {
	Version int                   `yaml:"version"`
	Service ServiceConfig         `yaml:"service"`
	Storage StorageConfig         `yaml:"storage"`
	WinRM   WinRMConfig           `yaml:"winrm"`
	Runner  RunnerConfig          `yaml:"runner"`
	API     APIConfig             `yaml:"api"`
	Report  ReportConfig          `yaml:"report"`
	Jobs    []JobConfig           `yaml:"jobs"`
	Secrets map[string]SecretSpec `yaml:"secrets"`
}

// ServiceConfig contains global settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// StorageConfig configures the sqlite store.
type StorageConfig struct {
	Path            string `yaml:"path"`
	ResultRetention int    `yaml:"result_retention"`
	AuditRetention  int    `yaml:"audit_retention"`
}

// WinRMConfig configures the remote execution facility and default
// credentials.
type WinRMConfig struct {
	// Command and Args invoke the execution facility,
	// e.g. command: python3, args: [scripts/winrm-exec.py].
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Timeout Duration `yaml:"timeout"`
	// MaxRetries is carried for configuration compatibility; the channel
	// performs single-attempt execution and does not consult it.
	MaxRetries    int    `yaml:"max_retries"`
	SkipTLSVerify bool   `yaml:"skip_tls_verify"`
	AdminUser     string `yaml:"admin_user"`
	AdminPassRef  string `yaml:"admin_password_ref"`
}

// RunnerConfig configures scheduled execution behaviour.
type RunnerConfig struct {
	// PreflightICMP pings a host before dispatching the facility and
	// fails fast when it does not answer.
	PreflightICMP    bool     `yaml:"preflight_icmp"`
	PreflightTimeout Duration `yaml:"preflight_timeout"`
	// DNSServer resolves machine hostnames that have no stored IP,
	// e.g. "10.0.0.53:53". Empty disables the fallback.
	DNSServer  string   `yaml:"dns_server"`
	DNSTimeout Duration `yaml:"dns_timeout"`
}

// APIConfig configures the HTTP surface.
type APIConfig struct {
	Listen string `yaml:"listen"`
}

// ReportConfig configures the emailed status report.
type ReportConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Schedule    string   `yaml:"schedule"`
	SMTPHost    string   `yaml:"smtp_host"`
	SMTPPort    int      `yaml:"smtp_port"`
	Username    string   `yaml:"username"`
	PasswordRef string   `yaml:"password_ref"`
	From        string   `yaml:"from"`
	To          []string `yaml:"to"`
	Subject     string   `yaml:"subject"`
}

// JobConfig schedules one check kind across a set of machines. An empty
// selector means every machine; otherwise LocationID restricts the set.
type JobConfig struct {
	ID         string `yaml:"id"`
	Kind       string `yaml:"kind"`
	Schedule   string `yaml:"schedule"`
	LocationID string `yaml:"location_id"`
}

// Load reads and validates the configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Service.Name == "" {
		c.Service.Name = "winfleet"
	}
	if c.Service.Timezone == "" {
		c.Service.Timezone = "UTC"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "winfleet.db"
	}
	if c.Storage.ResultRetention <= 0 {
		c.Storage.ResultRetention = 500
	}
	if c.Storage.AuditRetention <= 0 {
		c.Storage.AuditRetention = 1000
	}
	if c.WinRM.Timeout.Duration <= 0 {
		c.WinRM.Timeout.Duration = 30 * time.Second
	}
	if c.WinRM.MaxRetries <= 0 {
		c.WinRM.MaxRetries = 3
	}
	if c.Runner.PreflightTimeout.Duration <= 0 {
		c.Runner.PreflightTimeout.Duration = 2 * time.Second
	}
	if c.Runner.DNSTimeout.Duration <= 0 {
		c.Runner.DNSTimeout.Duration = 3 * time.Second
	}
	if c.API.Listen == "" {
		c.API.Listen = ":8080"
	}
	if c.Report.SMTPPort <= 0 {
		c.Report.SMTPPort = 587
	}
	if c.Report.Subject == "" {
		c.Report.Subject = "Fleet health report"
	}
}

func (c *Config) validate() error {
	if c.WinRM.Command == "" {
		return fmt.Errorf("winrm.command is required")
	}
	seen := map[string]bool{}
	for _, job := range c.Jobs {
		if job.ID == "" {
			return fmt.Errorf("job id is required")
		}
		if seen[job.ID] {
			return fmt.Errorf("duplicate job id %q", job.ID)
		}
		seen[job.ID] = true
		if job.Schedule == "" {
			return fmt.Errorf("job %q: schedule is required", job.ID)
		}
		if job.Kind == "" {
			return fmt.Errorf("job %q: kind is required", job.ID)
		}
	}
	if c.Report.Enabled {
		if c.Report.SMTPHost == "" || c.Report.From == "" || len(c.Report.To) == 0 {
			return fmt.Errorf("report: smtp_host, from and to are required when enabled")
		}
		if c.Report.Schedule == "" {
			return fmt.Errorf("report: schedule is required when enabled")
		}
	}
	return nil
}

// ResolveSecrets resolves secret references into a map.
func (c *Config) ResolveSecrets() (map[string]string, error) {
	resolved := make(map[string]string, len(c.Secrets))
	for key, spec := range c.Secrets {
		switch spec.Source {
		case "env":
			val, ok := os.LookupEnv(spec.Value)
			if !ok {
				return nil, fmt.Errorf("missing env var %q for secret %q", spec.Value, key)
			}
			resolved[key] = val
		default:
			return nil, fmt.Errorf("unsupported secret source %q for secret %q", spec.Source, key)
		}
	}
	return resolved, nil
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
winrm:
  command: python3
  args: [scripts/winrm-exec.py]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.WinRM.Timeout.Duration != 30*time.Second {
		t.Errorf("default timeout = %v, want 30s", cfg.WinRM.Timeout.Duration)
	}
	if cfg.WinRM.MaxRetries != 3 {
		t.Errorf("default max_retries = %d, want 3", cfg.WinRM.MaxRetries)
	}
	if cfg.Storage.Path == "" || cfg.API.Listen == "" {
		t.Errorf("defaults missing: %+v", cfg)
	}
}

func TestLoadParsesJobsAndDurations(t *testing.T) {
	path := writeConfig(t, `
winrm:
  command: python3
  timeout: 45s
runner:
  preflight_icmp: true
  preflight_timeout: 500ms
jobs:
  - id: nightly-ping
    kind: PING
    schedule: "0 2 * * *"
  - id: hq-registry
    kind: REGISTRY_CHECK
    schedule: "@hourly"
    location_id: hq
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.WinRM.Timeout.Duration != 45*time.Second {
		t.Errorf("timeout = %v", cfg.WinRM.Timeout.Duration)
	}
	if cfg.Runner.PreflightTimeout.Duration != 500*time.Millisecond {
		t.Errorf("preflight timeout = %v", cfg.Runner.PreflightTimeout.Duration)
	}
	if len(cfg.Jobs) != 2 || cfg.Jobs[1].LocationID != "hq" {
		t.Errorf("jobs = %+v", cfg.Jobs)
	}
}

func TestLoadRejectsMissingFacility(t *testing.T) {
	path := writeConfig(t, `
service:
  name: test
`)
	if _, err := Load(path); err == nil {
		t.Fatal("missing winrm.command must fail validation")
	}
}

func TestLoadRejectsDuplicateJobIDs(t *testing.T) {
	path := writeConfig(t, `
winrm:
  command: python3
jobs:
  - id: a
    kind: PING
    schedule: "@hourly"
  - id: a
    kind: PING
    schedule: "@hourly"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("duplicate job ids must fail validation")
	}
}

func TestResolveSecrets(t *testing.T) {
	t.Setenv("WINFLEET_TEST_SECRET", "s3cret")
	path := writeConfig(t, `
winrm:
  command: python3
secrets:
  admin_password: env:WINFLEET_TEST_SECRET
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	secrets, err := cfg.ResolveSecrets()
	if err != nil {
		t.Fatal(err)
	}
	if secrets["admin_password"] != "s3cret" {
		t.Errorf("secrets = %+v", secrets)
	}
}

func TestReportValidation(t *testing.T) {
	path := writeConfig(t, `
winrm:
  command: python3
report:
  enabled: true
`)
	if _, err := Load(path); err == nil {
		t.Fatal("enabled report without smtp settings must fail")
	}
}

package report

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/osbits/winfleet/internal/checkdef"
	"github.com/osbits/winfleet/internal/config"
	"github.com/osbits/winfleet/internal/storage"
)

func newTestReporter(t *testing.T) (*Reporter, *storage.Store) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "report.db"), storage.Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	r, err := New(store, config.ReportConfig{Subject: "Fleet health report"}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	return r, store
}

func TestBuildCountsAndSorts(t *testing.T) {
	ctx := context.Background()
	r, store := newTestReporter(t)

	healthy, err := store.CreateMachine(ctx, "aaa-healthy", "10.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	broken, err := store.CreateMachine(ctx, "zzz-broken", "10.0.0.2")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.UpdateMachineHealth(ctx, healthy.ID, storage.MachineStatusOnline, ""); err != nil {
		t.Fatal(err)
	}
	if err := store.UpdateMachineHealth(ctx, broken.ID, storage.MachineStatusError, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := store.InsertCheckResult(ctx, storage.CheckResult{
		MachineID: broken.ID,
		CheckKind: checkdef.KindPing,
		CheckName: "ping",
		Status:    "FAILED",
		Message:   "execution timed out after 30s",
	}); err != nil {
		t.Fatal(err)
	}

	summary, err := r.Build(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Total != 2 || summary.Online != 1 || summary.Error != 1 {
		t.Errorf("summary = %+v", summary)
	}
	// Error machines sort before healthy ones regardless of hostname.
	if summary.Machines[0].Hostname != "zzz-broken" {
		t.Errorf("sort order = %v", summary.Machines)
	}
	if summary.Machines[0].LastCheck == nil || summary.Machines[0].LastCheck.Message != "execution timed out after 30s" {
		t.Errorf("last check = %+v", summary.Machines[0].LastCheck)
	}
}

func TestRenderIncludesMachineLines(t *testing.T) {
	ctx := context.Background()
	r, store := newTestReporter(t)

	m, err := store.CreateMachine(ctx, "ws-render", "10.0.0.3")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.UpdateMachineHealth(ctx, m.ID, storage.MachineStatusWarning, "Dell OptiPlex"); err != nil {
		t.Fatal(err)
	}

	summary, err := r.Build(ctx)
	if err != nil {
		t.Fatal(err)
	}
	body, err := r.Render(summary)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"ws-render", "10.0.0.3", "[WARNING]", "Dell OptiPlex", "1 warning"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
}

func TestNewRequiresReferencedSecret(t *testing.T) {
	store, err := storage.Open(filepath.Join(t.TempDir(), "report.db"), storage.Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	_, err = New(store, config.ReportConfig{PasswordRef: "smtp_password"}, nil, nil)
	if err == nil {
		t.Fatal("missing referenced secret must fail")
	}
}

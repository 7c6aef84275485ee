package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/osbits/winfleet/internal/checkdef"
)

func openTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "winfleet.db"), opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestMachineLifecycle(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, Options{})

	m, err := store.CreateMachine(ctx, "ws-001", "10.0.0.15")
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != MachineStatusUnknown {
		t.Errorf("new machine status = %q, want UNKNOWN", m.Status)
	}
	if m.LastSeen != nil {
		t.Errorf("new machine last_seen = %v, want nil", m.LastSeen)
	}

	if err := store.UpdateMachineHealth(ctx, m.ID, MachineStatusOnline, "HP EliteDesk 800 G6"); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetMachine(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != MachineStatusOnline || got.PCModel != "HP EliteDesk 800 G6" {
		t.Errorf("after health update: %+v", got)
	}
	if got.LastSeen == nil {
		t.Error("last_seen not stamped")
	}

	// Empty model keeps the previous one.
	if err := store.UpdateMachineHealth(ctx, m.ID, MachineStatusWarning, ""); err != nil {
		t.Fatal(err)
	}
	got, err = store.GetMachine(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.PCModel != "HP EliteDesk 800 G6" {
		t.Errorf("pc_model overwritten: %q", got.PCModel)
	}

	if err := store.DeleteMachine(ctx, m.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetMachine(ctx, m.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("get deleted machine err = %v, want ErrNotFound", err)
	}
}

func TestLocationMatchingAdapters(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, Options{})

	if _, err := store.CreateLocation(ctx, "HQ", "10.0.0.1", "10.0.0.100"); err != nil {
		t.Fatal(err)
	}
	// Unparseable bounds are stored but excluded from matching.
	if _, err := store.CreateLocation(ctx, "Broken", "not-an-ip", "10.0.1.50"); err != nil {
		t.Fatal(err)
	}

	ranges, err := store.LocationsForMatching(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ranges) != 1 || ranges[0].Name != "HQ" {
		t.Fatalf("matchable ranges = %+v", ranges)
	}

	m, err := store.CreateMachine(ctx, "ws-002", "10.0.0.40")
	if err != nil {
		t.Fatal(err)
	}
	hq, err := store.ListLocations(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var hqID string
	for _, l := range hq {
		if l.Name == "HQ" {
			hqID = l.ID
		}
	}

	if err := store.SetMachineLocation(ctx, m.ID, hqID); err != nil {
		t.Fatal(err)
	}
	mm, err := store.MachineForMatching(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if mm == nil || mm.LocationID != hqID {
		t.Errorf("machine for matching = %+v", mm)
	}

	if err := store.SetMachineLocation(ctx, m.ID, ""); err != nil {
		t.Fatal(err)
	}
	mm, err = store.MachineForMatching(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if mm.LocationID != "" {
		t.Errorf("location not cleared: %+v", mm)
	}

	// Missing machine yields nil, not an error.
	mm, err = store.MachineForMatching(ctx, "no-such-id")
	if err != nil || mm != nil {
		t.Errorf("missing machine = %+v, err = %v", mm, err)
	}

	// Deleting the location clears assignments.
	if err := store.SetMachineLocation(ctx, m.ID, hqID); err != nil {
		t.Fatal(err)
	}
	if err := store.DeleteLocation(ctx, hqID); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetMachine(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.LocationID != "" {
		t.Errorf("assignment survived location delete: %+v", got)
	}
}

func TestCheckDefinitionRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, Options{})

	created, err := store.CreateCheckDefinition(ctx, checkdef.Definition{
		Kind:     checkdef.KindRegistry,
		Name:     "agent version",
		IsActive: true,
		Params: map[string]any{
			"path":          `HKLM\SOFTWARE\Agent`,
			"valueName":     "Version",
			"expectedValue": "2.1.0",
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := store.GetCheckDefinition(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	params, err := got.Registry()
	if err != nil {
		t.Fatal(err)
	}
	if params.Path != `HKLM\SOFTWARE\Agent` || params.ValueName != "Version" {
		t.Errorf("params = %+v", params)
	}
	if params.ExpectedValue == nil || *params.ExpectedValue != "2.1.0" {
		t.Errorf("expectedValue = %v", params.ExpectedValue)
	}

	got.IsActive = false
	if _, err := store.UpdateCheckDefinition(ctx, *got); err != nil {
		t.Fatal(err)
	}
	active, err := store.ListCheckDefinitions(ctx, checkdef.KindRegistry, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 0 {
		t.Errorf("deactivated definition still listed: %+v", active)
	}

	if _, err := store.CreateCheckDefinition(ctx, checkdef.Definition{Kind: "BOGUS", Name: "x"}); err == nil {
		t.Error("unknown kind must be rejected")
	}
}

func TestCheckResultRetention(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, Options{ResultRetention: 5})

	m, err := store.CreateMachine(ctx, "ws-003", "10.0.0.50")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 12; i++ {
		_, err := store.InsertCheckResult(ctx, CheckResult{
			MachineID: m.ID,
			CheckKind: checkdef.KindPing,
			CheckName: "ping",
			Status:    "SUCCESS",
			Message:   fmt.Sprintf("attempt %d", i),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	results, err := store.ListCheckResults(ctx, m.ID, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 5 {
		t.Fatalf("retained %d results, want 5", len(results))
	}
	if results[0].Message != "attempt 11" {
		t.Errorf("newest result = %+v", results[0])
	}
}

func TestListCheckResultsFilterByKind(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, Options{})

	m, err := store.CreateMachine(ctx, "ws-004", "10.0.0.60")
	if err != nil {
		t.Fatal(err)
	}
	kinds := []checkdef.Kind{checkdef.KindPing, checkdef.KindFile, checkdef.KindPing}
	for _, k := range kinds {
		if _, err := store.InsertCheckResult(ctx, CheckResult{
			MachineID: m.ID, CheckKind: k, CheckName: string(k), Status: "SUCCESS",
			ResultData: map[string]any{"exists": true},
		}); err != nil {
			t.Fatal(err)
		}
	}

	pings, err := store.ListCheckResults(ctx, m.ID, checkdef.KindPing, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pings) != 2 {
		t.Errorf("ping results = %d, want 2", len(pings))
	}
	data, ok := pings[0].ResultData.(map[string]any)
	if !ok || data["exists"] != true {
		t.Errorf("result data = %#v", pings[0].ResultData)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, Options{})

	err := store.SetSettings(ctx, map[string]string{
		"scanAuth.enabled":  "true",
		"scanAuth.username": "fleet-admin",
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := store.GetSettings(ctx, []string{"scanAuth.enabled", "scanAuth.username", "scanAuth.password"})
	if err != nil {
		t.Fatal(err)
	}
	if got["scanAuth.enabled"] != "true" || got["scanAuth.username"] != "fleet-admin" {
		t.Errorf("settings = %+v", got)
	}
	if _, present := got["scanAuth.password"]; present {
		t.Error("unset key must be absent, not empty")
	}

	// Upsert overwrites.
	if err := store.SetSettings(ctx, map[string]string{"scanAuth.enabled": "false"}); err != nil {
		t.Fatal(err)
	}
	got, err = store.GetSettings(ctx, []string{"scanAuth.enabled"})
	if err != nil {
		t.Fatal(err)
	}
	if got["scanAuth.enabled"] != "false" {
		t.Errorf("after upsert = %+v", got)
	}

	if err := store.DeleteSetting(ctx, "scanAuth.enabled"); err != nil {
		t.Fatal(err)
	}
	got, err = store.GetSettings(ctx, []string{"scanAuth.enabled"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("after delete = %+v", got)
	}
}

func TestAuditLogRetention(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, Options{AuditRetention: 4})

	for i := 0; i < 10; i++ {
		err := store.InsertAuditEvent(ctx, AuditEvent{
			EventType: "SCAN_COMPLETED",
			Message:   fmt.Sprintf("scan %d", i),
			Metadata:  map[string]any{"sequence": i},
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	events, err := store.ListAuditEvents(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 4 {
		t.Fatalf("retained %d events, want 4", len(events))
	}
	if events[0].Message != "scan 9" {
		t.Errorf("newest event = %+v", events[0])
	}
	if events[0].Level != "INFO" {
		t.Errorf("default level = %q", events[0].Level)
	}
	if events[0].Metadata["sequence"] != float64(9) {
		t.Errorf("metadata = %+v", events[0].Metadata)
	}
}

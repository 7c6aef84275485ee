package location

import (
	"context"
	"testing"
)

func TestIPv4ToInt(t *testing.T) {
	cases := []struct {
		in   string
		want uint32
		ok   bool
	}{
		{"10.0.0.1", 10<<24 | 1, true},
		{"0.0.0.0", 0, true},
		{"255.255.255.255", 0xFFFFFFFF, true},
		{"192.168.1.10", 192<<24 | 168<<16 | 1<<8 | 10, true},
		{"  10.0.0.1  ", 10<<24 | 1, true},
		{"10.0.0.256", 0, false},
		{"10.0.0", 0, false},
		{"10.0.0.0.1", 0, false},
		{"10.0.0.+1", 0, false},
		{"10.0.0.0x1", 0, false},
		{"10.0..1", 0, false},
		{"", 0, false},
		{"not-an-ip", 0, false},
	}
	for _, tc := range cases {
		got, ok := IPv4ToInt(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Errorf("IPv4ToInt(%q) = (%d, %v), want (%d, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func mustInt(t *testing.T, ip string) uint32 {
	t.Helper()
	n, ok := IPv4ToInt(ip)
	if !ok {
		t.Fatalf("bad test ip %q", ip)
	}
	return n
}

func TestFindMatchingOverlapIsDeterministic(t *testing.T) {
	// A starts lower and sorts first; overlap resolution picks A.
	locations := []Location{
		{ID: "A", Name: "A", StartIPInt: mustInt(t, "10.0.0.1"), EndIPInt: mustInt(t, "10.0.0.50")},
		{ID: "B", Name: "B", StartIPInt: mustInt(t, "10.0.0.25"), EndIPInt: mustInt(t, "10.0.0.75")},
	}

	if id, ok := FindMatching("10.0.0.30", locations); !ok || id != "A" {
		t.Errorf("FindMatching(10.0.0.30) = (%q, %v), want A", id, ok)
	}
	if id, ok := FindMatching("10.0.0.60", locations); !ok || id != "B" {
		t.Errorf("FindMatching(10.0.0.60) = (%q, %v), want B", id, ok)
	}
	if _, ok := FindMatching("10.0.1.1", locations); ok {
		t.Error("ip outside every range must not match")
	}
	if _, ok := FindMatching("bogus", locations); ok {
		t.Error("unparseable ip must not match")
	}
}

func TestFindMatchingInclusiveBounds(t *testing.T) {
	locations := []Location{
		{ID: "A", StartIPInt: mustInt(t, "10.0.0.10"), EndIPInt: mustInt(t, "10.0.0.20")},
	}
	for _, ip := range []string{"10.0.0.10", "10.0.0.20"} {
		if id, ok := FindMatching(ip, locations); !ok || id != "A" {
			t.Errorf("range bounds are inclusive, %s -> (%q, %v)", ip, id, ok)
		}
	}
	if _, ok := FindMatching("10.0.0.9", locations); ok {
		t.Error("10.0.0.9 is below the range")
	}
	if _, ok := FindMatching("10.0.0.21", locations); ok {
		t.Error("10.0.0.21 is above the range")
	}
}

type fakeStore struct {
	locations []Location
	machines  map[string]*Machine
	writes    []string
}

func (f *fakeStore) LocationsForMatching(context.Context) ([]Location, error) {
	return f.locations, nil
}

func (f *fakeStore) MachinesForMatching(context.Context) ([]Machine, error) {
	out := make([]Machine, 0, len(f.machines))
	for _, m := range f.machines {
		out = append(out, *m)
	}
	return out, nil
}

func (f *fakeStore) MachineForMatching(_ context.Context, id string) (*Machine, error) {
	m, ok := f.machines[id]
	if !ok {
		return nil, nil
	}
	copied := *m
	return &copied, nil
}

func (f *fakeStore) SetMachineLocation(_ context.Context, machineID, locationID string) error {
	f.machines[machineID].LocationID = locationID
	f.writes = append(f.writes, machineID)
	return nil
}

func TestRecomputeOneWritesOnlyOnChange(t *testing.T) {
	store := &fakeStore{
		locations: []Location{
			{ID: "hq", StartIPInt: mustInt(t, "10.0.0.1"), EndIPInt: mustInt(t, "10.0.0.50")},
		},
		machines: map[string]*Machine{
			"m1": {ID: "m1", IPAddress: "10.0.0.30"},
			"m2": {ID: "m2", IPAddress: "10.0.0.30", LocationID: "hq"},
		},
	}
	rc := NewRecomputer(store, nil)

	if err := rc.RecomputeOne(context.Background(), "m1"); err != nil {
		t.Fatal(err)
	}
	if store.machines["m1"].LocationID != "hq" {
		t.Errorf("m1 not assigned: %+v", store.machines["m1"])
	}

	store.writes = nil
	if err := rc.RecomputeOne(context.Background(), "m2"); err != nil {
		t.Fatal(err)
	}
	if len(store.writes) != 0 {
		t.Error("unchanged assignment must not be written")
	}

	if err := rc.RecomputeOne(context.Background(), "missing"); err != nil {
		t.Errorf("missing machine is not an error, got %v", err)
	}
}

func TestRecomputeOneClearsStaleAssignment(t *testing.T) {
	store := &fakeStore{
		machines: map[string]*Machine{
			"m1": {ID: "m1", IPAddress: "10.9.9.9", LocationID: "hq"},
		},
	}
	rc := NewRecomputer(store, nil)

	if err := rc.RecomputeOne(context.Background(), "m1"); err != nil {
		t.Fatal(err)
	}
	if store.machines["m1"].LocationID != "" {
		t.Errorf("stale assignment should clear, got %q", store.machines["m1"].LocationID)
	}
}

func TestRecomputeAllCounts(t *testing.T) {
	store := &fakeStore{
		locations: []Location{
			{ID: "hq", StartIPInt: mustInt(t, "10.0.0.1"), EndIPInt: mustInt(t, "10.0.0.50")},
		},
		machines: map[string]*Machine{
			"m1": {ID: "m1", IPAddress: "10.0.0.2"},
			"m2": {ID: "m2", IPAddress: "10.0.0.3", LocationID: "hq"},
			"m3": {ID: "m3", IPAddress: "unparseable"},
		},
	}
	rc := NewRecomputer(store, nil)

	updated, total, err := rc.RecomputeAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if updated != 1 {
		t.Errorf("updated = %d, want 1 (m1 only)", updated)
	}
}

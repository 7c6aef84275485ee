// Package location maps machine IPv4 addresses to logical locations via
// inclusive integer ranges and keeps stored assignments in sync.
package location

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Location is one range definition ready for matching: both bounds are
// present and the list handed to FindMatching is sorted by
// (StartIPInt, EndIPInt, Name).
type Location struct {
	ID         string
	Name       string
	StartIPInt uint32
	EndIPInt   uint32
}

// Machine is the slice of a machine row the matcher needs.
type Machine struct {
	ID         string
	IPAddress  string
	LocationID string // empty means unassigned
}

// Store is the persistence surface the recomputer operates on.
type Store interface {
	// LocationsForMatching returns definitions with both bounds present,
	// sorted ascending by (startIpInt, endIpInt, name).
	LocationsForMatching(ctx context.Context) ([]Location, error)
	MachinesForMatching(ctx context.Context) ([]Machine, error)
	MachineForMatching(ctx context.Context, machineID string) (*Machine, error)
	// SetMachineLocation writes the assignment; empty locationID clears it.
	SetMachineLocation(ctx context.Context, machineID, locationID string) error
}

// IPv4ToInt converts a dotted-quad address to its 32-bit value. It accepts
// exactly four dot-separated pure-digit octets in [0,255] after trimming;
// anything else (signs, hex, missing octets) is rejected.
func IPv4ToInt(text string) (uint32, bool) {
	s := strings.TrimSpace(text)
	if s == "" {
		return 0, false
	}
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return 0, false
	}
	var ip uint32
	for _, part := range parts {
		if part == "" {
			return 0, false
		}
		for _, r := range part {
			if r < '0' || r > '9' {
				return 0, false
			}
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > 255 {
			return 0, false
		}
		ip = ip<<8 | uint32(n)
	}
	return ip, true
}

// FindMatching returns the ID of the first location whose inclusive range
// contains the IP, scanning in list order. The sorted input makes overlap
// resolution deterministic: the lowest-starting range wins.
func FindMatching(ip string, locations []Location) (string, bool) {
	ipInt, ok := IPv4ToInt(ip)
	if !ok {
		return "", false
	}
	for _, loc := range locations {
		if ipInt >= loc.StartIPInt && ipInt <= loc.EndIPInt {
			return loc.ID, true
		}
	}
	return "", false
}

// Recomputer refreshes stored machine→location assignments.
type Recomputer struct {
	store  Store
	logger *slog.Logger
}

// NewRecomputer builds a recomputer over the given store.
func NewRecomputer(store Store, logger *slog.Logger) *Recomputer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recomputer{store: store, logger: logger}
}

// RecomputeOne refreshes a single machine's assignment, writing only when
// the desired location differs from the stored one. A missing machine is
// not an error.
func (r *Recomputer) RecomputeOne(ctx context.Context, machineID string) error {
	machine, err := r.store.MachineForMatching(ctx, machineID)
	if err != nil {
		return fmt.Errorf("load machine %s: %w", machineID, err)
	}
	if machine == nil {
		return nil
	}

	locations, err := r.store.LocationsForMatching(ctx)
	if err != nil {
		return fmt.Errorf("load locations: %w", err)
	}

	desired, _ := FindMatching(machine.IPAddress, locations)
	if desired == machine.LocationID {
		return nil
	}
	if err := r.store.SetMachineLocation(ctx, machine.ID, desired); err != nil {
		return fmt.Errorf("assign location for machine %s: %w", machine.ID, err)
	}
	r.logger.Info("machine location updated", "machine_id", machine.ID, "location_id", desired)
	return nil
}

// RecomputeAll refreshes every machine independently: one read of the
// location list, then per-machine read-modify-write with no batch
// transaction. Returns how many assignments changed and how many machines
// were visited.
func (r *Recomputer) RecomputeAll(ctx context.Context) (updated, total int, err error) {
	machines, err := r.store.MachinesForMatching(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("load machines: %w", err)
	}
	locations, err := r.store.LocationsForMatching(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("load locations: %w", err)
	}

	for _, machine := range machines {
		desired, _ := FindMatching(machine.IPAddress, locations)
		if desired == machine.LocationID {
			continue
		}
		if err := r.store.SetMachineLocation(ctx, machine.ID, desired); err != nil {
			return updated, len(machines), fmt.Errorf("assign location for machine %s: %w", machine.ID, err)
		}
		updated++
	}

	r.logger.Info("location recompute finished", "updated", updated, "total", len(machines))
	return updated, len(machines), nil
}

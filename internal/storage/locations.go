package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/osbits/winfleet/internal/location"
)

// LocationDefinition is one named IPv4 range. The integer bounds are
// derived from the dotted-quad forms at write time; definitions missing
// either bound are stored but excluded from matching.
type LocationDefinition struct {
	ID         string
	Name       string
	StartIP    string
	EndIP      string
	StartIPInt *int64
	EndIPInt   *int64
}

func locationBounds(startIP, endIP string) (startInt, endInt *int64) {
	if n, ok := location.IPv4ToInt(startIP); ok {
		v := int64(n)
		startInt = &v
	}
	if n, ok := location.IPv4ToInt(endIP); ok {
		v := int64(n)
		endInt = &v
	}
	return startInt, endInt
}

// CreateLocation inserts a location definition.
func (s *Store) CreateLocation(ctx context.Context, name, startIP, endIP string) (*LocationDefinition, error) {
	id := uuid.NewString()
	startInt, endInt := locationBounds(startIP, endIP)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO locations (id, name, start_ip, end_ip, start_ip_int, end_ip_int)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, name, startIP, endIP, startInt, endInt)
	if err != nil {
		return nil, fmt.Errorf("insert location: %w", err)
	}
	return s.GetLocation(ctx, id)
}

// GetLocation retrieves a location by ID.
func (s *Store) GetLocation(ctx context.Context, id string) (*LocationDefinition, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, start_ip, end_ip, start_ip_int, end_ip_int FROM locations WHERE id = ?
	`, id)
	return scanLocation(row)
}

// ListLocations returns all location definitions ordered by name.
func (s *Store) ListLocations(ctx context.Context) ([]LocationDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, start_ip, end_ip, start_ip_int, end_ip_int FROM locations ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	defer rows.Close()

	var out []LocationDefinition
	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// UpdateLocation rewrites a definition, rederiving the integer bounds.
func (s *Store) UpdateLocation(ctx context.Context, id, name, startIP, endIP string) (*LocationDefinition, error) {
	startInt, endInt := locationBounds(startIP, endIP)
	res, err := s.db.ExecContext(ctx, `
		UPDATE locations SET name = ?, start_ip = ?, end_ip = ?, start_ip_int = ?, end_ip_int = ? WHERE id = ?
	`, name, startIP, endIP, startInt, endInt, id)
	if err != nil {
		return nil, fmt.Errorf("update location: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetLocation(ctx, id)
}

// DeleteLocation removes a definition and clears assignments pointing at it.
func (s *Store) DeleteLocation(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE machines SET location_id = NULL WHERE location_id = ?`, id); err != nil {
		return fmt.Errorf("clear location assignments: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM locations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete location: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// LocationsForMatching implements location.Store: only definitions with
// both bounds, sorted so overlap resolution is deterministic.
func (s *Store) LocationsForMatching(ctx context.Context) ([]location.Location, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, start_ip_int, end_ip_int
		FROM locations
		WHERE start_ip_int IS NOT NULL AND end_ip_int IS NOT NULL
		ORDER BY start_ip_int ASC, end_ip_int ASC, name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list locations for matching: %w", err)
	}
	defer rows.Close()

	var out []location.Location
	for rows.Next() {
		var (
			l        location.Location
			startInt int64
			endInt   int64
		)
		if err := rows.Scan(&l.ID, &l.Name, &startInt, &endInt); err != nil {
			return nil, fmt.Errorf("scan location range: %w", err)
		}
		l.StartIPInt = uint32(startInt)
		l.EndIPInt = uint32(endInt)
		out = append(out, l)
	}
	return out, rows.Err()
}

// MachinesForMatching implements location.Store.
func (s *Store) MachinesForMatching(ctx context.Context) ([]location.Machine, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, ip_address, location_id FROM machines`)
	if err != nil {
		return nil, fmt.Errorf("list machines for matching: %w", err)
	}
	defer rows.Close()

	var out []location.Machine
	for rows.Next() {
		m, err := scanMatchMachine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// MachineForMatching implements location.Store; a missing machine yields nil.
func (s *Store) MachineForMatching(ctx context.Context, machineID string) (*location.Machine, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, ip_address, location_id FROM machines WHERE id = ?`, machineID)
	m, err := scanMatchMachine(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return m, err
}

// SetMachineLocation implements location.Store; empty locationID clears.
func (s *Store) SetMachineLocation(ctx context.Context, machineID, locationID string) error {
	var value any
	if locationID != "" {
		value = locationID
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE machines SET location_id = ?, updated_at = ? WHERE id = ?
	`, value, nowStamp(), machineID)
	if err != nil {
		return fmt.Errorf("set machine location: %w", err)
	}
	return nil
}

func scanLocation(row rowScanner) (*LocationDefinition, error) {
	var (
		l        LocationDefinition
		startIP  sql.NullString
		endIP    sql.NullString
		startInt sql.NullInt64
		endInt   sql.NullInt64
	)
	err := row.Scan(&l.ID, &l.Name, &startIP, &endIP, &startInt, &endInt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan location: %w", err)
	}
	l.StartIP = startIP.String
	l.EndIP = endIP.String
	if startInt.Valid {
		v := startInt.Int64
		l.StartIPInt = &v
	}
	if endInt.Valid {
		v := endInt.Int64
		l.EndIPInt = &v
	}
	return &l, nil
}

func scanMatchMachine(row rowScanner) (*location.Machine, error) {
	var (
		m          location.Machine
		locationID sql.NullString
	)
	err := row.Scan(&m.ID, &m.IPAddress, &locationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan machine for matching: %w", err)
	}
	m.LocationID = locationID.String
	return &m, nil
}

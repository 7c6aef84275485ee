package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Machine status values rolled up from check results.
const (
	MachineStatusUnknown = "UNKNOWN"
	MachineStatusOnline  = "ONLINE"
	MachineStatusWarning = "WARNING"
	MachineStatusError   = "ERROR"
)

// Machine is one managed Windows host.
type Machine struct {
	ID         string
	Hostname   string
	IPAddress  string
	LocationID string // empty means unassigned
	Status     string
	PCModel    string
	LastSeen   *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

const machineColumns = `id, hostname, ip_address, location_id, status, pc_model, last_seen, created_at, updated_at`

// CreateMachine inserts a machine and returns it.
func (s *Store) CreateMachine(ctx context.Context, hostname, ipAddress string) (*Machine, error) {
	id := uuid.NewString()
	now := nowStamp()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO machines (id, hostname, ip_address, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, hostname, ipAddress, MachineStatusUnknown, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert machine: %w", err)
	}
	return s.GetMachine(ctx, id)
}

// GetMachine retrieves a machine by ID.
func (s *Store) GetMachine(ctx context.Context, id string) (*Machine, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+machineColumns+` FROM machines WHERE id = ?`, id)
	return scanMachine(row)
}

// ListMachines returns all machines ordered by hostname.
func (s *Store) ListMachines(ctx context.Context) ([]Machine, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+machineColumns+` FROM machines ORDER BY hostname`)
	if err != nil {
		return nil, fmt.Errorf("list machines: %w", err)
	}
	defer rows.Close()

	var out []Machine
	for rows.Next() {
		m, err := scanMachine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// UpdateMachine updates hostname and IP address.
func (s *Store) UpdateMachine(ctx context.Context, id, hostname, ipAddress string) (*Machine, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE machines SET hostname = ?, ip_address = ?, updated_at = ? WHERE id = ?
	`, hostname, ipAddress, nowStamp(), id)
	if err != nil {
		return nil, fmt.Errorf("update machine: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetMachine(ctx, id)
}

// DeleteMachine removes a machine and its check results.
func (s *Store) DeleteMachine(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM check_results WHERE machine_id = ?`, id); err != nil {
		return fmt.Errorf("delete machine results: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM machines WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete machine: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateMachineHealth stamps the rolled-up status and last_seen, and
// refreshes the PC model when a non-empty one is supplied.
func (s *Store) UpdateMachineHealth(ctx context.Context, id, status, pcModel string) error {
	now := nowStamp()
	var err error
	if pcModel != "" {
		_, err = s.db.ExecContext(ctx, `
			UPDATE machines SET status = ?, last_seen = ?, pc_model = ?, updated_at = ? WHERE id = ?
		`, status, now, pcModel, now, id)
	} else {
		_, err = s.db.ExecContext(ctx, `
			UPDATE machines SET status = ?, last_seen = ?, updated_at = ? WHERE id = ?
		`, status, now, now, id)
	}
	if err != nil {
		return fmt.Errorf("update machine health: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMachine(row rowScanner) (*Machine, error) {
	var (
		m          Machine
		locationID sql.NullString
		pcModel    sql.NullString
		lastSeen   sql.NullString
		createdAt  string
		updatedAt  string
	)
	err := row.Scan(&m.ID, &m.Hostname, &m.IPAddress, &locationID, &m.Status, &pcModel, &lastSeen, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan machine: %w", err)
	}
	m.LocationID = locationID.String
	m.PCModel = pcModel.String
	m.LastSeen = parseStamp(lastSeen)
	if t, err := time.Parse(timeFormat, createdAt); err == nil {
		m.CreatedAt = t
	}
	if t, err := time.Parse(timeFormat, updatedAt); err == nil {
		m.UpdatedAt = t
	}
	return &m, nil
}

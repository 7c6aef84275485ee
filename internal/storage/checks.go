package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/osbits/winfleet/internal/checkdef"
)

// CreateCheckDefinition inserts a check definition.
func (s *Store) CreateCheckDefinition(ctx context.Context, def checkdef.Definition) (*checkdef.Definition, error) {
	if _, err := checkdef.ParseKind(string(def.Kind)); err != nil {
		return nil, err
	}
	def.ID = uuid.NewString()
	params, err := json.Marshal(orEmpty(def.Params))
	if err != nil {
		return nil, fmt.Errorf("encode check params: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO check_definitions (id, kind, name, is_active, params)
		VALUES (?, ?, ?, ?, ?)
	`, def.ID, string(def.Kind), def.Name, boolInt(def.IsActive), string(params))
	if err != nil {
		return nil, fmt.Errorf("insert check definition: %w", err)
	}
	return s.GetCheckDefinition(ctx, def.ID)
}

// GetCheckDefinition retrieves one definition by ID.
func (s *Store) GetCheckDefinition(ctx context.Context, id string) (*checkdef.Definition, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, name, is_active, params FROM check_definitions WHERE id = ?
	`, id)
	return scanCheckDefinition(row)
}

// ListCheckDefinitions returns definitions ordered by name, optionally
// restricted to one kind and to active definitions only.
func (s *Store) ListCheckDefinitions(ctx context.Context, kind checkdef.Kind, activeOnly bool) ([]checkdef.Definition, error) {
	query := `SELECT id, kind, name, is_active, params FROM check_definitions`
	var (
		where []string
		args  []any
	)
	if kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(kind))
	}
	if activeOnly {
		where = append(where, "is_active = 1")
	}
	for i, clause := range where {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}
	query += " ORDER BY name ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list check definitions: %w", err)
	}
	defer rows.Close()

	var out []checkdef.Definition
	for rows.Next() {
		def, err := scanCheckDefinition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *def)
	}
	return out, rows.Err()
}

// UpdateCheckDefinition rewrites name, active flag and params.
func (s *Store) UpdateCheckDefinition(ctx context.Context, def checkdef.Definition) (*checkdef.Definition, error) {
	params, err := json.Marshal(orEmpty(def.Params))
	if err != nil {
		return nil, fmt.Errorf("encode check params: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE check_definitions SET name = ?, is_active = ?, params = ? WHERE id = ?
	`, def.Name, boolInt(def.IsActive), string(params), def.ID)
	if err != nil {
		return nil, fmt.Errorf("update check definition: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetCheckDefinition(ctx, def.ID)
}

// DeleteCheckDefinition removes one definition.
func (s *Store) DeleteCheckDefinition(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM check_definitions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete check definition: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CheckResult is one persisted evaluation outcome.
type CheckResult struct {
	ID         string
	MachineID  string
	CheckKind  checkdef.Kind
	CheckName  string
	Status     string
	ResultData any
	Message    string
	DurationMS int64
	CreatedAt  time.Time
}

// InsertCheckResult persists one result and prunes history beyond the
// per-machine retention limit.
func (s *Store) InsertCheckResult(ctx context.Context, r CheckResult) (string, error) {
	r.ID = uuid.NewString()
	data, err := json.Marshal(r.ResultData)
	if err != nil {
		return "", fmt.Errorf("encode result data: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO check_results (id, machine_id, check_kind, check_name, status, result_data, message, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.MachineID, string(r.CheckKind), r.CheckName, r.Status, string(data), r.Message, r.DurationMS, nowStamp())
	if err != nil {
		return "", fmt.Errorf("insert check result: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		DELETE FROM check_results
		WHERE machine_id = ? AND id NOT IN (
			SELECT id FROM check_results WHERE machine_id = ? ORDER BY created_at DESC LIMIT ?
		)
	`, r.MachineID, r.MachineID, s.resultLimit)
	if err != nil {
		return "", fmt.Errorf("prune check results: %w", err)
	}
	return r.ID, nil
}

// ListCheckResults returns recent results for a machine, newest first,
// optionally restricted to one kind.
func (s *Store) ListCheckResults(ctx context.Context, machineID string, kind checkdef.Kind, limit int) ([]CheckResult, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, machine_id, check_kind, check_name, status, result_data, message, duration_ms, created_at
		FROM check_results WHERE machine_id = ?`
	args := []any{machineID}
	if kind != "" {
		query += ` AND check_kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list check results: %w", err)
	}
	defer rows.Close()

	var out []CheckResult
	for rows.Next() {
		r, err := scanCheckResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// LatestResultPerMachine returns each machine's most recent result,
// feeding the status report.
func (s *Store) LatestResultPerMachine(ctx context.Context) (map[string]CheckResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, machine_id, check_kind, check_name, status, result_data, message, duration_ms, created_at
		FROM check_results
		WHERE id IN (
			SELECT id FROM check_results AS inner_results
			WHERE inner_results.machine_id = check_results.machine_id
			ORDER BY inner_results.created_at DESC LIMIT 1
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("latest results: %w", err)
	}
	defer rows.Close()

	out := map[string]CheckResult{}
	for rows.Next() {
		r, err := scanCheckResult(rows)
		if err != nil {
			return nil, err
		}
		out[r.MachineID] = *r
	}
	return out, rows.Err()
}

func scanCheckDefinition(row rowScanner) (*checkdef.Definition, error) {
	var (
		def      checkdef.Definition
		kind     string
		isActive int
		params   string
	)
	err := row.Scan(&def.ID, &kind, &def.Name, &isActive, &params)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan check definition: %w", err)
	}
	def.Kind = checkdef.Kind(kind)
	def.IsActive = isActive != 0
	if err := json.Unmarshal([]byte(params), &def.Params); err != nil {
		return nil, fmt.Errorf("decode check params: %w", err)
	}
	return &def, nil
}

func scanCheckResult(row rowScanner) (*CheckResult, error) {
	var (
		r         CheckResult
		kind      string
		data      sql.NullString
		message   sql.NullString
		createdAt string
	)
	err := row.Scan(&r.ID, &r.MachineID, &kind, &r.CheckName, &r.Status, &data, &message, &r.DurationMS, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan check result: %w", err)
	}
	r.CheckKind = checkdef.Kind(kind)
	r.Message = message.String
	if data.Valid && data.String != "" {
		if err := json.Unmarshal([]byte(data.String), &r.ResultData); err != nil {
			r.ResultData = data.String
		}
	}
	if t, err := time.Parse(timeFormat, createdAt); err == nil {
		r.CreatedAt = t
	}
	return &r, nil
}

func orEmpty(params map[string]any) map[string]any {
	if params == nil {
		return map[string]any{}
	}
	return params
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

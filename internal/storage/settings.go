package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GetSettings returns the stored values for the requested keys. Keys with
// no stored row are absent from the result. Satisfies scanauth.Settings.
func (s *Store) GetSettings(ctx context.Context, keys []string) (map[string]string, error) {
	out := map[string]string{}
	if len(keys) == 0 {
		return out, nil
	}

	placeholders := strings.Repeat("?,", len(keys))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings WHERE key IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out[key] = value
	}
	return out, rows.Err()
}

// AllSettings returns every stored key/value pair.
func (s *Store) AllSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out[key] = value
	}
	return out, rows.Err()
}

// SetSettings upserts the supplied key/value pairs.
func (s *Store) SetSettings(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin settings write: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for key, value := range values {
		if strings.TrimSpace(key) == "" {
			return errors.New("setting key must not be blank")
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO settings (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, key, value)
		if err != nil {
			return fmt.Errorf("write setting %q: %w", key, err)
		}
	}
	return tx.Commit()
}

// DeleteSetting removes one key; a missing key is not an error.
func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete setting: %w", err)
	}
	return nil
}

// AuditEvent is one row in the audit log.
type AuditEvent struct {
	ID        string
	EventType string
	Level     string
	Message   string
	MachineID string
	Metadata  map[string]any
	CreatedAt time.Time
}

// InsertAuditEvent records an event and prunes the log past the retention
// limit. Failures here should not abort the caller's operation.
func (s *Store) InsertAuditEvent(ctx context.Context, ev AuditEvent) error {
	if ev.Level == "" {
		ev.Level = "INFO"
	}
	var metadata any
	if len(ev.Metadata) > 0 {
		raw, err := json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("encode audit metadata: %w", err)
		}
		metadata = string(raw)
	}
	var machineID any
	if ev.MachineID != "" {
		machineID = ev.MachineID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, event_type, level, message, machine_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), ev.EventType, ev.Level, ev.Message, machineID, metadata, nowStamp())
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		DELETE FROM audit_log WHERE id NOT IN (
			SELECT id FROM audit_log ORDER BY created_at DESC LIMIT ?
		)
	`, s.auditLimit)
	if err != nil {
		return fmt.Errorf("prune audit log: %w", err)
	}
	return nil
}

// ListAuditEvents returns recent events, newest first.
func (s *Store) ListAuditEvents(ctx context.Context, limit int) ([]AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, level, message, machine_id, metadata, created_at
		FROM audit_log ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []AuditEvent
	for rows.Next() {
		var (
			ev        AuditEvent
			machineID sql.NullString
			metadata  sql.NullString
			createdAt string
		)
		if err := rows.Scan(&ev.ID, &ev.EventType, &ev.Level, &ev.Message, &machineID, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		ev.MachineID = machineID.String
		if metadata.Valid && metadata.String != "" {
			_ = json.Unmarshal([]byte(metadata.String), &ev.Metadata)
		}
		if t, err := time.Parse(timeFormat, createdAt); err == nil {
			ev.CreatedAt = t
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

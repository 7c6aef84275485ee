// Package storage wraps sqlite persistence for machines, locations, check
// definitions, check results, settings and the audit log.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Fixed-width fraction so lexicographic ordering of stored stamps matches
// chronological ordering.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Options configures storage behaviour.
type Options struct {
	// ResultRetention caps how many check results are kept per machine.
	ResultRetention int
	// AuditRetention caps how many audit events are kept in total.
	AuditRetention int
}

// Store wraps the sqlite database.
type Store struct {
	db          *sql.DB
	resultLimit int
	auditLimit  int
}

// Open initialises a sqlite store with WAL enabled and required schema.
func Open(path string, opts Options) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := configureSQLite(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	resultLimit := opts.ResultRetention
	if resultLimit <= 0 {
		resultLimit = 500
	}
	auditLimit := opts.AuditRetention
	if auditLimit <= 0 {
		auditLimit = 1000
	}

	store := &Store{
		db:          db,
		resultLimit: resultLimit,
		auditLimit:  auditLimit,
	}

	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func configureSQLite(db *sql.DB) error {
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA foreign_keys = ON;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS machines (
			id TEXT PRIMARY KEY,
			hostname TEXT NOT NULL,
			ip_address TEXT NOT NULL,
			location_id TEXT,
			status TEXT NOT NULL DEFAULT 'UNKNOWN',
			pc_model TEXT,
			last_seen TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_machines_hostname ON machines (hostname);`,
		`CREATE TABLE IF NOT EXISTS locations (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			start_ip TEXT,
			end_ip TEXT,
			start_ip_int INTEGER,
			end_ip_int INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS check_definitions (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			name TEXT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			params TEXT NOT NULL DEFAULT '{}'
		);`,
		`CREATE INDEX IF NOT EXISTS idx_check_definitions_kind ON check_definitions (kind, name);`,
		`CREATE TABLE IF NOT EXISTS check_results (
			id TEXT PRIMARY KEY,
			machine_id TEXT NOT NULL,
			check_kind TEXT NOT NULL,
			check_name TEXT NOT NULL,
			status TEXT NOT NULL,
			result_data TEXT,
			message TEXT,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_check_results_machine ON check_results (machine_id, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			level TEXT NOT NULL DEFAULT 'INFO',
			message TEXT NOT NULL,
			machine_id TEXT,
			metadata TEXT,
			created_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_created ON audit_log (created_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func nowStamp() string {
	return time.Now().UTC().Format(timeFormat)
}

func parseStamp(raw sql.NullString) *time.Time {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	t, err := time.Parse(timeFormat, raw.String)
	if err != nil {
		return nil
	}
	return &t
}

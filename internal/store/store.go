// Package store wraps SQLite access for blotters, their parsed records,
// published posts, subscribers, and pipeline job bookkeeping.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrConflict signals an idempotent insert that already happened.
	ErrConflict = errors.New("conflict")
	// ErrNotFound signals a lookup by id or token that matched nothing.
	ErrNotFound = errors.New("not found")
)

// Blotter lifecycle statuses. A blotter moves pending -> extracting ->
// parsing -> persisting and lands on exactly one of the last three.
const (
	StatusPending    = "pending"
	StatusExtracting = "extracting"
	StatusParsing    = "parsing"
	StatusPersisting = "persisting"
	StatusSuccess    = "success"
	StatusPartial    = "partial"
	StatusFailed     = "failed"
)

// Store is the single handle for all database access.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database and applies migrations. Foreign keys
// and the busy timeout ride on the DSN so every pooled connection gets them.
func Open(path string) (*Store, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS blotters (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			filename TEXT NOT NULL,
			county TEXT NOT NULL DEFAULT '',
			source_type TEXT NOT NULL DEFAULT 'pdf',
			file_path TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			incident_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			uploaded_at TIMESTAMP,
			updated_at TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			blotter_id INTEGER NOT NULL REFERENCES blotters(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			cfs_number TEXT NOT NULL DEFAULT '',
			date TEXT NOT NULL DEFAULT '',
			time TEXT NOT NULL DEFAULT '',
			incident_type TEXT NOT NULL DEFAULT '',
			location TEXT NOT NULL DEFAULT '',
			details TEXT NOT NULL DEFAULT '',
			county TEXT NOT NULL DEFAULT '',
			officer TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS command_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			record_id INTEGER NOT NULL REFERENCES records(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			ts TEXT NOT NULL DEFAULT '',
			officer TEXT NOT NULL DEFAULT '',
			entry TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS posts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			blotter_id INTEGER NOT NULL DEFAULT 0,
			record_id INTEGER NOT NULL DEFAULT 0,
			title TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			city TEXT NOT NULL DEFAULT '',
			county TEXT NOT NULL DEFAULT '',
			agency_type TEXT NOT NULL DEFAULT '',
			agency_name TEXT NOT NULL DEFAULT '',
			incident_date TEXT NOT NULL DEFAULT '',
			incident_type TEXT NOT NULL DEFAULT '',
			llm_status TEXT NOT NULL DEFAULT '',
			model_name TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS subscribers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT NOT NULL UNIQUE,
			counties TEXT NOT NULL DEFAULT '[]',
			token TEXT NOT NULL UNIQUE,
			active INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			filename TEXT NOT NULL DEFAULT '',
			blotter_id INTEGER NOT NULL DEFAULT 0,
			stage TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT '',
			params_json TEXT NOT NULL DEFAULT '{}',
			idempotency_key TEXT,
			created_at TIMESTAMP,
			updated_at TIMESTAMP,
			started_at TIMESTAMP,
			finished_at TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS job_logs (
			job_id INTEGER NOT NULL,
			line TEXT NOT NULL,
			created_at TIMESTAMP
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_idem ON jobs(idempotency_key);`,
		`CREATE INDEX IF NOT EXISTS idx_records_blotter ON records(blotter_id);`,
		`CREATE INDEX IF NOT EXISTS idx_records_county ON records(county);`,
		`CREATE INDEX IF NOT EXISTS idx_records_date ON records(date);`,
		`CREATE INDEX IF NOT EXISTS idx_command_logs_record ON command_logs(record_id);`,
		`CREATE INDEX IF NOT EXISTS idx_blotters_county ON blotters(county);`,
		`CREATE INDEX IF NOT EXISTS idx_blotters_uploaded ON blotters(uploaded_at);`,
		`CREATE INDEX IF NOT EXISTS idx_posts_county ON posts(county);`,
		`CREATE INDEX IF NOT EXISTS idx_posts_date ON posts(incident_date);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Blotter is one ingested source document and its processing outcome.
type Blotter struct {
	ID            int64     `json:"id"`
	Filename      string    `json:"filename"`
	County        string    `json:"county"`
	SourceType    string    `json:"source_type"`
	FilePath      string    `json:"file_path"`
	Notes         string    `json:"notes"`
	Status        string    `json:"status"`
	IncidentCount int       `json:"incident_count"`
	LastError     *string   `json:"last_error"`
	UploadedAt    time.Time `json:"uploaded_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Record is one incident row. Seq preserves document order within a blotter.
type Record struct {
	ID           int64        `json:"id"`
	BlotterID    int64        `json:"blotter_id"`
	Seq          int          `json:"seq"`
	CFSNumber    string       `json:"cfs_number"`
	Date         string       `json:"date"`
	Time         string       `json:"time"`
	IncidentType string       `json:"incident_type"`
	Location     string       `json:"location"`
	Details      string       `json:"details"`
	County       string       `json:"county"`
	Officer      string       `json:"officer"`
	CreatedAt    time.Time    `json:"created_at"`
	CommandLogs  []CommandLog `json:"command_logs,omitempty"`
}

// CommandLog is one timeline entry under a record. Seq preserves narrative order.
type CommandLog struct {
	ID        int64  `json:"id"`
	RecordID  int64  `json:"record_id"`
	Seq       int    `json:"seq"`
	Timestamp string `json:"timestamp"`
	Officer   string `json:"officer"`
	Entry     string `json:"entry"`
}

// Health returns err if the database is not reachable.
func (s *Store) Health(ctx context.Context) error {
	row := s.db.QueryRowContext(ctx, `SELECT 1`)
	var v int
	if err := row.Scan(&v); err != nil {
		return fmt.Errorf("db health: %w", err)
	}
	return nil
}

const busyAttempts = 5

// execRetry runs an exec statement, retrying briefly when sqlite reports the
// database busy or locked under concurrent writers.
func (s *Store) execRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	var err error
	for attempt := 0; attempt < busyAttempts; attempt++ {
		res, err = s.db.ExecContext(ctx, query, args...)
		if err == nil || !isBusy(err) {
			return res, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 50 * time.Millisecond):
		}
	}
	return res, err
}

// queryRowRetry runs a single-row query through scan, retrying on busy the
// same way execRetry does.
func (s *Store) queryRowRetry(ctx context.Context, scan func(*sql.Row) error, query string, args ...any) error {
	var err error
	for attempt := 0; attempt < busyAttempts; attempt++ {
		err = scan(s.db.QueryRowContext(ctx, query, args...))
		if err == nil || !isBusy(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 50 * time.Millisecond):
		}
	}
	return err
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// truncate caps error text stored on rows.
func truncate(msg string, limit int) string {
	if len(msg) <= limit {
		return msg
	}
	return msg[:limit]
}

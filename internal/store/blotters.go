package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const blotterColumns = `id, filename, county, source_type, file_path, notes, status, incident_count, last_error, uploaded_at, updated_at`

// InsertBlotter creates the audit row before processing begins. The row
// outlives any later failure, carrying the status and error for inspection.
func (s *Store) InsertBlotter(ctx context.Context, b *Blotter) (int64, error) {
	ts := now()
	if b.Status == "" {
		b.Status = StatusPending
	}
	res, err := s.execRetry(ctx, `INSERT INTO blotters(filename, county, source_type, file_path, notes, status, incident_count, uploaded_at, updated_at)
		VALUES(?,?,?,?,?,?,?,?,?)`,
		b.Filename, b.County, b.SourceType, b.FilePath, b.Notes, b.Status, 0, ts, ts)
	if err != nil {
		return 0, fmt.Errorf("insert blotter: %w", err)
	}
	id, _ := res.LastInsertId()
	b.ID = id
	b.UploadedAt = ts
	b.UpdatedAt = ts
	return id, nil
}

// UpdateBlotterStatus advances the lifecycle column.
func (s *Store) UpdateBlotterStatus(ctx context.Context, id int64, status string) error {
	_, err := s.execRetry(ctx, `UPDATE blotters SET status=?, updated_at=? WHERE id=?`, status, now(), id)
	return err
}

// SetBlotterCounty stamps the resolved county on the audit row. Resolution
// can happen after insert, once the text or the first record reveals it.
func (s *Store) SetBlotterCounty(ctx context.Context, id int64, county string) error {
	_, err := s.execRetry(ctx, `UPDATE blotters SET county=?, updated_at=? WHERE id=?`, county, now(), id)
	return err
}

// MarkBlotterFailed records the terminal failure and its cause.
func (s *Store) MarkBlotterFailed(ctx context.Context, id int64, errMsg string) error {
	msg := truncate(errMsg, 240)
	_, err := s.execRetry(ctx, `UPDATE blotters SET status=?, last_error=?, updated_at=? WHERE id=?`,
		StatusFailed, msg, now(), id)
	return err
}

// SaveIncidents writes every record and command log for a blotter in one
// transaction and stamps the final status and count. Any failure rolls the
// whole batch back, leaving the blotter without partial records.
func (s *Store) SaveIncidents(ctx context.Context, blotterID int64, records []Record, status string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	ts := now()
	for i := range records {
		rec := &records[i]
		res, err := tx.ExecContext(ctx, `INSERT INTO records(blotter_id, seq, cfs_number, date, time, incident_type, location, details, county, officer, created_at)
			VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
			blotterID, i, rec.CFSNumber, rec.Date, rec.Time, rec.IncidentType, rec.Location, rec.Details, rec.County, rec.Officer, ts)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("insert record %d: %w", i, err)
		}
		recordID, _ := res.LastInsertId()
		rec.ID = recordID
		rec.BlotterID = blotterID
		rec.Seq = i
		for j, entry := range rec.CommandLogs {
			if _, err := tx.ExecContext(ctx, `INSERT INTO command_logs(record_id, seq, ts, officer, entry) VALUES(?,?,?,?,?)`,
				recordID, j, entry.Timestamp, entry.Officer, entry.Entry); err != nil {
				tx.Rollback()
				return fmt.Errorf("insert command log %d/%d: %w", i, j, err)
			}
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE blotters SET status=?, incident_count=?, last_error=NULL, updated_at=? WHERE id=?`,
		status, len(records), ts, blotterID); err != nil {
		tx.Rollback()
		return fmt.Errorf("finish blotter: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

func (s *Store) GetBlotter(ctx context.Context, id int64) (*Blotter, error) {
	var b Blotter
	err := s.queryRowRetry(ctx, func(row *sql.Row) error {
		return scanBlotter(row.Scan, &b)
	}, `SELECT `+blotterColumns+` FROM blotters WHERE id=?`, id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// FindBlotterByFilename returns the most recent blotter for a filename, or
// nil when the file has never been ingested.
func (s *Store) FindBlotterByFilename(ctx context.Context, filename string) (*Blotter, error) {
	var b Blotter
	err := s.queryRowRetry(ctx, func(row *sql.Row) error {
		return scanBlotter(row.Scan, &b)
	}, `SELECT `+blotterColumns+` FROM blotters WHERE filename=? ORDER BY uploaded_at DESC LIMIT 1`, filename)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) ListBlotters(ctx context.Context, limit, offset int) ([]Blotter, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+blotterColumns+` FROM blotters ORDER BY uploaded_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var blotters []Blotter
	for rows.Next() {
		var b Blotter
		if err := scanBlotter(rows.Scan, &b); err != nil {
			return nil, err
		}
		blotters = append(blotters, b)
	}
	return blotters, rows.Err()
}

func scanBlotter(scan func(...any) error, b *Blotter) error {
	var lastErr sql.NullString
	if err := scan(&b.ID, &b.Filename, &b.County, &b.SourceType, &b.FilePath, &b.Notes, &b.Status, &b.IncidentCount, &lastErr, &b.UploadedAt, &b.UpdatedAt); err != nil {
		return err
	}
	if lastErr.Valid {
		b.LastError = &lastErr.String
	}
	return nil
}

// RecordFilter narrows ListRecords. Zero values mean no constraint.
type RecordFilter struct {
	County    string
	Date      string
	BlotterID int64
	Search    string
	Arrests   bool
	Limit     int
	Offset    int
}

const recordColumns = `id, blotter_id, seq, cfs_number, date, time, incident_type, location, details, county, officer, created_at`

func (s *Store) ListRecords(ctx context.Context, f RecordFilter) ([]Record, int, error) {
	var clauses []string
	var args []any
	if f.County != "" {
		clauses = append(clauses, "county=?")
		args = append(args, f.County)
	}
	if f.Date != "" {
		clauses = append(clauses, "date=?")
		args = append(args, f.Date)
	}
	if f.BlotterID > 0 {
		clauses = append(clauses, "blotter_id=?")
		args = append(args, f.BlotterID)
	}
	if f.Search != "" {
		clauses = append(clauses, "(incident_type LIKE ? OR details LIKE ? OR location LIKE ?)")
		q := "%" + f.Search + "%"
		args = append(args, q, q, q)
	}
	if f.Arrests {
		clauses = append(clauses, "(incident_type LIKE '%arrest%' OR details LIKE '%arrest%')")
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := s.queryRowRetry(ctx, func(row *sql.Row) error {
		return row.Scan(&total)
	}, `SELECT COUNT(*) FROM records`+where, args...); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + recordColumns + ` FROM records` + where + ` ORDER BY blotter_id DESC, seq ASC`
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(" LIMIT %d", limit)
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", f.Offset)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.BlotterID, &rec.Seq, &rec.CFSNumber, &rec.Date, &rec.Time, &rec.IncidentType, &rec.Location, &rec.Details, &rec.County, &rec.Officer, &rec.CreatedAt); err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}
	return records, total, rows.Err()
}

// GetRecord returns one record with its command logs in narrative order.
func (s *Store) GetRecord(ctx context.Context, id int64) (*Record, error) {
	var rec Record
	err := s.queryRowRetry(ctx, func(row *sql.Row) error {
		return row.Scan(&rec.ID, &rec.BlotterID, &rec.Seq, &rec.CFSNumber, &rec.Date, &rec.Time, &rec.IncidentType, &rec.Location, &rec.Details, &rec.County, &rec.Officer, &rec.CreatedAt)
	}, `SELECT `+recordColumns+` FROM records WHERE id=?`, id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	logs, err := s.commandLogs(ctx, id)
	if err != nil {
		return nil, err
	}
	rec.CommandLogs = logs
	return &rec, nil
}

func (s *Store) commandLogs(ctx context.Context, recordID int64) ([]CommandLog, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, record_id, seq, ts, officer, entry FROM command_logs WHERE record_id=? ORDER BY seq ASC`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	logs := []CommandLog{}
	for rows.Next() {
		var entry CommandLog
		if err := rows.Scan(&entry.ID, &entry.RecordID, &entry.Seq, &entry.Timestamp, &entry.Officer, &entry.Entry); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

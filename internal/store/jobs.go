package store

import (
	"context"
	"database/sql"
	"time"
)

// Job is one persisted unit of pipeline work for a blotter file.
type Job struct {
	ID             int64      `json:"id"`
	Filename       string     `json:"filename"`
	BlotterID      int64      `json:"blotter_id"`
	Stage          string     `json:"stage"`
	Status         string     `json:"status"`
	ParamsJSON     string     `json:"params_json"`
	IdempotencyKey string     `json:"idempotency_key"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	StartedAt      *time.Time `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at"`
}

const jobColumns = `id, filename, blotter_id, stage, status, params_json, idempotency_key, created_at, updated_at, started_at, finished_at`

// InsertJobIdempotent records a job unless its idempotency key already
// exists; the existing job comes back with ErrConflict in that case.
func (s *Store) InsertJobIdempotent(ctx context.Context, j *Job) (*Job, error) {
	existing, err := s.FetchJobByIdempotency(ctx, j.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, ErrConflict
	}
	if j.ParamsJSON == "" {
		j.ParamsJSON = "{}"
	}
	res, err := s.execRetry(ctx, `INSERT INTO jobs(filename, blotter_id, stage, status, params_json, idempotency_key, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?,?)`,
		j.Filename, j.BlotterID, j.Stage, j.Status, j.ParamsJSON, j.IdempotencyKey, j.CreatedAt, j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	id, _ := res.LastInsertId()
	j.ID = id
	return j, nil
}

// FetchJobByIdempotency returns the existing job for a key, or nil.
func (s *Store) FetchJobByIdempotency(ctx context.Context, key string) (*Job, error) {
	var j *Job
	err := s.queryRowRetry(ctx, func(row *sql.Row) error {
		var scanErr error
		j, scanErr = scanJob(row.Scan)
		return scanErr
	}, `SELECT `+jobColumns+` FROM jobs WHERE idempotency_key=?`, key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return j, nil
}

func (s *Store) GetJob(ctx context.Context, id int64) (*Job, error) {
	var j *Job
	err := s.queryRowRetry(ctx, func(row *sql.Row) error {
		var scanErr error
		j, scanErr = scanJob(row.Scan)
		return scanErr
	}, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return j, nil
}

func (s *Store) MarkJobStarted(ctx context.Context, id int64, ts time.Time) error {
	_, err := s.execRetry(ctx, `UPDATE jobs SET status='running', started_at=?, updated_at=? WHERE id=?`, ts, ts, id)
	return err
}

func (s *Store) MarkJobFinished(ctx context.Context, id int64, status string, ts time.Time) error {
	_, err := s.execRetry(ctx, `UPDATE jobs SET status=?, finished_at=?, updated_at=? WHERE id=?`, status, ts, ts, id)
	return err
}

// SetJobBlotter links a job to the blotter row it created.
func (s *Store) SetJobBlotter(ctx context.Context, id, blotterID int64, ts time.Time) error {
	_, err := s.execRetry(ctx, `UPDATE jobs SET blotter_id=?, updated_at=? WHERE id=?`, blotterID, ts, id)
	return err
}

func (s *Store) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func scanJob(scan func(...any) error) (*Job, error) {
	var j Job
	var idem sql.NullString
	var started, finished sql.NullTime
	if err := scan(&j.ID, &j.Filename, &j.BlotterID, &j.Stage, &j.Status, &j.ParamsJSON, &idem, &j.CreatedAt, &j.UpdatedAt, &started, &finished); err != nil {
		return nil, err
	}
	j.IdempotencyKey = idem.String
	if started.Valid {
		j.StartedAt = &started.Time
	}
	if finished.Valid {
		j.FinishedAt = &finished.Time
	}
	return &j, nil
}

func (s *Store) AppendJobLog(ctx context.Context, jobID int64, line string, ts time.Time) error {
	_, err := s.execRetry(ctx, `INSERT INTO job_logs(job_id, line, created_at) VALUES(?,?,?)`, jobID, line, ts)
	return err
}

func (s *Store) JobLogs(ctx context.Context, jobID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT line FROM job_logs WHERE job_id=? ORDER BY created_at ASC, rowid ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// Reset clears all ingested data. Guarded behind the dangerous-ops flag at
// the API layer.
func (s *Store) Reset(ctx context.Context) error {
	for _, table := range []string{"command_logs", "records", "posts", "blotters", "job_logs", "jobs"} {
		if _, err := s.execRetry(ctx, `DELETE FROM `+table); err != nil {
			return err
		}
	}
	return nil
}

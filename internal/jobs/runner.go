// Package jobs records pipeline work as durable job rows and executes them
// on the shared worker queue. Every job is deduplicated by an idempotency
// key over its filename, stage, and params, so a watcher double-fire or a
// repeated upload of the same file runs once.
package jobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mtblotter/internal/config"
	"mtblotter/internal/queue"
	"mtblotter/internal/store"
)

// Job status values.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Stage names one pipeline phase.
type Stage string

const (
	StageExtract   Stage = "extract"
	StageParse     Stage = "parse"
	StagePersist   Stage = "persist"
	StageSummarize Stage = "summarize"
	StageDigest    Stage = "digest"
)

// chain maps each stage to its successor. A handler that returns nil params
// ends the chain early.
var chain = map[Stage]Stage{
	StageExtract: StageParse,
	StageParse:   StagePersist,
	StagePersist: StageSummarize,
}

const logRingSize = 200

// ExecutionContext hands a running stage its job identity, a log sink, and
// a hook to link the job row to the blotter it works on.
type ExecutionContext struct {
	Store      *store.Store
	JobID      int64
	Logf       func(format string, args ...any)
	SetBlotter func(blotterID int64)
}

// StageFunc runs one phase for filename. The returned params feed the next
// stage in the chain; nil params stop the chain.
type StageFunc func(ctx context.Context, exec ExecutionContext, filename string, params map[string]any) (map[string]any, error)

// Registry maps stages to implementations.
type Registry map[Stage]StageFunc

// Runner persists jobs and executes them on the worker queue.
type Runner struct {
	store *store.Store
	q     *queue.Queue
	reg   Registry
	log   zerolog.Logger

	logMu     sync.Mutex
	logBuffer map[int64][]string
	recent    []string
	tails     []chan string
}

// NewRunner constructs a runner over the store and queue.
func NewRunner(st *store.Store, q *queue.Queue, reg Registry, logger zerolog.Logger) *Runner {
	return &Runner{
		store:     st,
		q:         q,
		reg:       reg,
		log:       logger.With().Str("component", "jobs").Logger(),
		logBuffer: make(map[int64][]string),
	}
}

// Enqueue inserts a job row and hands it to the worker queue. A job whose
// idempotency key already exists is not queued again; the existing row is
// returned instead.
func (r *Runner) Enqueue(ctx context.Context, source, filename string, stage Stage, params map[string]any) (*store.Job, error) {
	if params == nil {
		params = map[string]any{}
	}
	payload, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	job := &store.Job{
		Filename:       filename,
		Stage:          string(stage),
		Status:         StatusQueued,
		ParamsJSON:     string(payload),
		IdempotencyKey: idempotencyKey(filename, stage, payload),
		CreatedAt:      config.Now(),
		UpdatedAt:      config.Now(),
	}
	j, err := r.store.InsertJobIdempotent(ctx, job)
	if errors.Is(err, store.ErrConflict) {
		r.log.Debug().Str("file", filename).Str("stage", string(stage)).Int64("job", j.ID).Msg("duplicate job, reusing existing row")
		return j, nil
	}
	if err != nil {
		return nil, err
	}

	queued := r.q.Enqueue(queue.Job{
		ID:     fmt.Sprintf("%s#%d", stage, j.ID),
		Source: source,
		Work: func(ctx context.Context) error {
			return r.execute(ctx, j, source)
		},
	})
	if !queued {
		r.finish(j.ID, StatusFailed)
		r.appendLog(j.ID, "dropped: worker queue full")
		return nil, fmt.Errorf("worker queue full")
	}
	return j, nil
}

func (r *Runner) execute(ctx context.Context, job *store.Job, source string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.appendLog(job.ID, fmt.Sprintf("panic: %v", rec))
			r.finish(job.ID, StatusFailed)
			err = fmt.Errorf("stage %s panicked: %v", job.Stage, rec)
		}
	}()

	stage := Stage(job.Stage)
	fn, ok := r.reg[stage]
	if !ok {
		r.appendLog(job.ID, "no handler for stage "+job.Stage)
		r.finish(job.ID, StatusFailed)
		return fmt.Errorf("no handler for stage %s", job.Stage)
	}
	_ = r.store.MarkJobStarted(ctx, job.ID, config.Now())

	params := map[string]any{}
	if job.ParamsJSON != "" {
		_ = json.Unmarshal([]byte(job.ParamsJSON), &params)
	}
	exec := ExecutionContext{
		Store: r.store,
		JobID: job.ID,
		Logf: func(format string, args ...any) {
			r.appendLog(job.ID, fmt.Sprintf(format, args...))
		},
		SetBlotter: func(blotterID int64) {
			_ = r.store.SetJobBlotter(context.Background(), job.ID, blotterID, config.Now())
		},
	}

	next, err := fn(ctx, exec, job.Filename, params)
	if err != nil {
		r.appendLog(job.ID, "error: "+err.Error())
		r.finish(job.ID, StatusFailed)
		return err
	}
	r.finish(job.ID, StatusSucceeded)

	if succ, ok := chain[stage]; ok && next != nil {
		if _, err := r.Enqueue(context.Background(), source, job.Filename, succ, next); err != nil {
			r.appendLog(job.ID, fmt.Sprintf("chain to %s failed: %v", succ, err))
		}
	}
	return nil
}

// finish writes the terminal status on a fresh context so a stage that hit
// its timeout still gets marked.
func (r *Runner) finish(jobID int64, status string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = r.store.MarkJobFinished(ctx, jobID, status, config.Now())
}

func (r *Runner) appendLog(jobID int64, msg string) {
	ts := config.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = r.store.AppendJobLog(ctx, jobID, msg, ts)
	cancel()

	line := fmt.Sprintf("%s job=%d %s", ts.Format(time.RFC3339), jobID, msg)
	r.logMu.Lock()
	defer r.logMu.Unlock()
	r.logBuffer[jobID] = append(r.logBuffer[jobID], line)
	if len(r.logBuffer[jobID]) > logRingSize {
		r.logBuffer[jobID] = r.logBuffer[jobID][len(r.logBuffer[jobID])-logRingSize:]
	}
	r.recent = append(r.recent, line)
	if len(r.recent) > logRingSize {
		r.recent = r.recent[len(r.recent)-logRingSize:]
	}
	for _, tail := range r.tails {
		select {
		case tail <- line:
		default:
		}
	}
}

// Tail returns a live feed of job log lines plus a stop function that
// releases the subscription. A tail that falls behind misses lines rather
// than blocking the runner.
func (r *Runner) Tail() (<-chan string, func()) {
	ch := make(chan string, 32)
	r.logMu.Lock()
	r.tails = append(r.tails, ch)
	r.logMu.Unlock()
	stop := func() {
		r.logMu.Lock()
		defer r.logMu.Unlock()
		for i, tail := range r.tails {
			if tail == ch {
				r.tails = append(r.tails[:i], r.tails[i+1:]...)
				return
			}
		}
	}
	return ch, stop
}

// Logs returns the in-memory log ring for one job.
func (r *Runner) Logs(jobID int64) []string {
	r.logMu.Lock()
	defer r.logMu.Unlock()
	return append([]string(nil), r.logBuffer[jobID]...)
}

// Recent returns the most recent log lines across all jobs.
func (r *Runner) Recent() []string {
	r.logMu.Lock()
	defer r.logMu.Unlock()
	return append([]string(nil), r.recent...)
}

func idempotencyKey(filename string, stage Stage, params []byte) string {
	h := sha256.Sum256([]byte(filename + "|" + string(stage) + "|" + string(params)))
	return hex.EncodeToString(h[:])
}

// Package backfill reconciles the inbox directory against ingested
// blotters and queues the files that never made it through.
package backfill

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"mtblotter/internal/jobs"
	"mtblotter/internal/store"
	"mtblotter/internal/watch"
)

// Candidate is one inbox file eligible for ingestion.
type Candidate struct {
	Filename string
	Path     string
	County   string
	ModTime  time.Time
}

// Summary reports one reconciliation pass.
type Summary struct {
	Scanned     int `json:"scanned"`
	AlreadySeen int `json:"already_seen"`
	Missing     int `json:"missing"`
	Selected    int `json:"selected"`
	Enqueued    int `json:"enqueued"`
}

// Backfill scans the inbox, diffs it against the blotters table by
// filename, and queues what is missing.
type Backfill struct {
	store  *store.Store
	runner *jobs.Runner
	inbox  string
	limit  int
	log    zerolog.Logger
}

func New(st *store.Store, runner *jobs.Runner, inbox string, limit int, logger zerolog.Logger) *Backfill {
	return &Backfill{
		store:  st,
		runner: runner,
		inbox:  inbox,
		limit:  limit,
		log:    logger.With().Str("component", "backfill").Logger(),
	}
}

// Scan walks the inbox for ingestible files, county subdirectories
// included.
func (b *Backfill) Scan() ([]Candidate, error) {
	var out []Candidate
	err := filepath.WalkDir(b.inbox, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !watch.Ingestible(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, Candidate{
			Filename: d.Name(),
			Path:     path,
			County:   watch.CountyFromPath(b.inbox, path),
			ModTime:  info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan inbox: %w", err)
	}
	return out, nil
}

// SelectMissing keeps candidates seen reports as unknown, newest first,
// bounded by limit. Zero limit means unbounded.
func SelectMissing(candidates []Candidate, seen func(filename string) (bool, error), limit int) ([]Candidate, Summary, error) {
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ModTime.After(candidates[j].ModTime)
	})
	summary := Summary{Scanned: len(candidates)}
	var missing []Candidate
	for _, c := range candidates {
		ok, err := seen(c.Filename)
		if err != nil {
			return nil, summary, err
		}
		if ok {
			summary.AlreadySeen++
			continue
		}
		missing = append(missing, c)
	}
	summary.Missing = len(missing)
	if limit > 0 && limit < len(missing) {
		missing = missing[:limit]
	}
	summary.Selected = len(missing)
	return missing, summary, nil
}

// Run performs one pass: scan, diff, enqueue.
func (b *Backfill) Run(ctx context.Context) (Summary, error) {
	candidates, err := b.Scan()
	if err != nil {
		return Summary{}, err
	}
	seen := func(filename string) (bool, error) {
		blotter, err := b.store.FindBlotterByFilename(ctx, filename)
		if err != nil {
			return false, err
		}
		return blotter != nil, nil
	}
	selected, summary, err := SelectMissing(candidates, seen, b.limit)
	if err != nil {
		return summary, fmt.Errorf("diff blotters: %w", err)
	}
	for _, c := range selected {
		params := map[string]any{"path": c.Path, "county": c.County}
		if _, err := b.runner.Enqueue(ctx, "backfill", c.Filename, jobs.StageExtract, params); err != nil {
			b.log.Warn().Err(err).Str("file", c.Filename).Msg("enqueue backfill")
			continue
		}
		summary.Enqueued++
	}
	b.log.Info().
		Int("scanned", summary.Scanned).
		Int("already_seen", summary.AlreadySeen).
		Int("missing", summary.Missing).
		Int("enqueued", summary.Enqueued).
		Msg("backfill pass finished")
	return summary, nil
}

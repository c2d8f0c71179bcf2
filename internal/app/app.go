// Package app assembles the service: store, pipeline, job runner, inbox
// watcher, digest scheduler, and HTTP server.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"mtblotter/internal/backfill"
	"mtblotter/internal/config"
	"mtblotter/internal/events"
	"mtblotter/internal/extract"
	"mtblotter/internal/httpapi"
	"mtblotter/internal/jobs"
	"mtblotter/internal/metrics"
	"mtblotter/internal/notify"
	"mtblotter/internal/parse"
	"mtblotter/internal/pipeline"
	"mtblotter/internal/queue"
	"mtblotter/internal/store"
	"mtblotter/internal/summarize"
	"mtblotter/internal/watch"
)

// App owns the wired components and their lifecycle.
type App struct {
	cfg      config.Config
	log      zerolog.Logger
	store    *store.Store
	bus      *events.Bus
	metrics  *metrics.Metrics
	queue    *queue.Queue
	runner   *jobs.Runner
	pipeline *pipeline.Pipeline
	watcher  *watch.Watcher
	notifier *notify.Notifier
	handler  http.Handler
}

func New(cfg config.Config, logger zerolog.Logger) (*App, error) {
	for _, dir := range []string{cfg.InboxDir, cfg.WorkDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	summ, err := summarize.New(cfg.LLM, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	bus := events.NewBus()
	m := metrics.New()
	pl := pipeline.New(cfg, st, extract.New(cfg, logger), parse.New(parse.DefaultConfig()), summ, bus, m, logger)
	notifier := notify.New(st, cfg.Digest, logger)

	registry := pl.Registry()
	registry[jobs.StageDigest] = func(ctx context.Context, exec jobs.ExecutionContext, filename string, params map[string]any) (map[string]any, error) {
		d, err := notifier.Run(ctx)
		if err != nil {
			return nil, err
		}
		bus.Publish(events.Event{Type: events.DigestSent, Count: d.Total})
		exec.Logf("digest for %s: %d posts", d.Date, d.Total)
		return nil, nil
	}

	q := queue.New(cfg.JobQueueSize, cfg.WorkerCount, time.Duration(cfg.JobTimeoutSec)*time.Second, logger)
	runner := jobs.NewRunner(st, q, registry, logger)
	watcher := watch.New(cfg, runner, logger)
	bf := backfill.New(st, runner, cfg.InboxDir, cfg.BackfillLimit, logger)
	router := httpapi.NewRouter(cfg, st, runner, q, m, notifier, bf, logger)

	return &App{
		cfg:      cfg,
		log:      logger.With().Str("component", "app").Logger(),
		store:    st,
		bus:      bus,
		metrics:  m,
		queue:    q,
		runner:   runner,
		pipeline: pl,
		watcher:  watcher,
		notifier: notifier,
		handler:  router.Routes(),
	}, nil
}

// Run starts the workers, watcher, schedulers, and HTTP server, then blocks
// until ctx is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	a.queue.Start(ctx)
	if err := a.watcher.Start(ctx); err != nil {
		return err
	}
	go a.logEvents(ctx)
	go a.digestLoop(ctx)

	srv := &http.Server{
		Addr:              a.cfg.HTTPPort,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	a.log.Info().Str("addr", a.cfg.HTTPPort).Msg("http server listening")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		a.log.Warn().Err(err).Msg("http shutdown")
	}
	a.queue.Stop(shutCtx)
	return a.store.Close()
}

// logEvents mirrors pipeline events into the service log so operators can
// follow ingestion without polling the API.
func (a *App) logEvents(ctx context.Context) {
	sub := a.bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub:
			evt := a.log.Info()
			if ev.Type == events.BlotterFailed {
				evt = a.log.Warn().Str("error", ev.Error)
			}
			evt.Str("event", ev.Type).
				Int64("blotter", ev.BlotterID).
				Str("file", ev.Filename).
				Str("county", ev.County).
				Int("count", ev.Count).
				Msg("pipeline event")
		}
	}
}

// digestLoop queues one digest job per day at the configured hour. The job
// filename carries the date, so a restart inside the same hour does not send
// the digest twice.
func (a *App) digestLoop(ctx context.Context) {
	if !a.cfg.Digest.Enabled {
		return
	}
	for {
		next := nextDigestTime(time.Now().UTC(), a.cfg.Digest.Hour)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		day := next.Format("2006-01-02")
		params := map[string]any{"scheduled_for": day}
		if _, err := a.runner.Enqueue(ctx, "scheduler", "daily-digest-"+day, jobs.StageDigest, params); err != nil {
			a.log.Warn().Err(err).Msg("digest enqueue failed")
		}
	}
}

func nextDigestTime(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}

func (a *App) Store() *store.Store { return a.store }
func (a *App) Runner() *jobs.Runner { return a.runner }
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }
func (a *App) Handler() http.Handler { return a.handler }

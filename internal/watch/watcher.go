// Package watch monitors the inbox directory and queues newly arrived
// blotter files for ingestion.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"mtblotter/internal/config"
	"mtblotter/internal/jobs"
)

// Watcher reacts to files created in the inbox or moved into it. A file
// inside a first-level subdirectory inherits that directory's name as its
// county label.
type Watcher struct {
	cfg    config.Config
	runner *jobs.Runner
	log    zerolog.Logger

	// settle and polls control how long a file's size must hold still
	// before it counts as fully written.
	settle time.Duration
	polls  int
}

func New(cfg config.Config, runner *jobs.Runner, logger zerolog.Logger) *Watcher {
	return &Watcher{
		cfg:    cfg,
		runner: runner,
		log:    logger.With().Str("component", "watch").Logger(),
		settle: 250 * time.Millisecond,
		polls:  20,
	}
}

// Start begins watching the inbox and its county subdirectories. It
// returns after registration; event handling runs until ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	if !w.cfg.EnableWatcher {
		w.log.Info().Msg("watcher disabled")
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	if err := fw.Add(w.cfg.InboxDir); err != nil {
		fw.Close()
		return fmt.Errorf("watch %s: %w", w.cfg.InboxDir, err)
	}
	entries, err := os.ReadDir(w.cfg.InboxDir)
	if err != nil {
		fw.Close()
		return fmt.Errorf("read inbox: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if err := fw.Add(filepath.Join(w.cfg.InboxDir, entry.Name())); err != nil {
			w.log.Warn().Err(err).Str("dir", entry.Name()).Msg("watch county directory")
		}
	}
	go w.loop(ctx, fw)
	w.log.Info().Str("dir", w.cfg.InboxDir).Msg("watching inbox")
	return nil
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher) {
	defer fw.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-fw.Events:
			if !ok {
				return
			}
			if evt.Op&(fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			info, err := os.Stat(evt.Name)
			if err != nil {
				continue
			}
			if info.IsDir() {
				// a county directory created after startup
				if err := fw.Add(evt.Name); err != nil {
					w.log.Warn().Err(err).Str("dir", evt.Name).Msg("watch county directory")
				}
				continue
			}
			if !Ingestible(evt.Name) {
				continue
			}
			go w.admit(ctx, evt.Name)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("watcher error")
		}
	}
}

// admit waits for the file to finish writing, then queues extraction.
func (w *Watcher) admit(ctx context.Context, path string) {
	if !w.waitStable(ctx, path) {
		w.log.Warn().Str("file", path).Msg("file never settled")
		return
	}
	county := CountyFromPath(w.cfg.InboxDir, path)
	params := map[string]any{"path": path, "county": county}
	if _, err := w.runner.Enqueue(ctx, "watcher", filepath.Base(path), jobs.StageExtract, params); err != nil {
		w.log.Error().Err(err).Str("file", path).Msg("enqueue ingest")
		return
	}
	w.log.Info().Str("file", filepath.Base(path)).Str("county", county).Msg("queued new blotter")
}

// waitStable polls until two consecutive stats report the same non-zero
// size. Zero stays unstable; mail handoff writes never legitimately leave
// an empty file behind.
func (w *Watcher) waitStable(ctx context.Context, path string) bool {
	var last int64 = -1
	for i := 0; i < w.polls; i++ {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(w.settle):
		}
		info, err := os.Stat(path)
		if err != nil {
			return false
		}
		if info.Size() > 0 && info.Size() == last {
			return true
		}
		last = info.Size()
	}
	return false
}

// Ingestible reports whether name has a file type the pipeline accepts.
func Ingestible(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf", ".txt", ".csv", ".xlsx":
		return true
	}
	return false
}

// CountyFromPath reads the county label from a first-level inbox
// subdirectory, as in inbox/Gallatin/report.pdf. Files at the inbox root
// carry no label.
func CountyFromPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return ""
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 2 || parts[0] == ".." {
		return ""
	}
	return parts[0]
}

package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"mtblotter/internal/jobs"
	"mtblotter/internal/store"
)

func (rt *Router) health(w http.ResponseWriter, req *http.Request) {
	if err := rt.store.Health(req.Context()); err != nil {
		rt.respondError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) status(w http.ResponseWriter, req *http.Request) {
	dash, err := rt.store.Dashboard(req.Context())
	if err != nil {
		rt.fail(w, err)
		return
	}
	qs := rt.q.Stats()
	rt.metrics.UpdateQueue(qs.Length, qs.Capacity, qs.WorkerCount)

	var last *store.Blotter
	if len(dash.Recent) > 0 {
		last = &dash.Recent[0]
	}
	rt.respondJSON(w, http.StatusOK, map[string]any{
		"healthy":         rt.q.Healthy(),
		"uptime_seconds":  int(time.Since(rt.started).Seconds()),
		"blotters":        dash.Blotters,
		"records":         dash.Records,
		"posts":           dash.Posts,
		"failed_blotters": dash.Failed,
		"subscribers":     dash.Subscribers,
		"last_blotter":    last,
		"queue": map[string]any{
			"length":    qs.Length,
			"capacity":  qs.Capacity,
			"workers":   qs.WorkerCount,
			"processed": qs.Processed,
			"failed":    qs.Failed,
		},
		"metrics": rt.metrics.Snapshot(),
	})
}

func (rt *Router) listJobs(w http.ResponseWriter, req *http.Request) {
	limit := queryInt(req, "limit", 50)
	list, err := rt.store.ListJobs(req.Context(), limit)
	if err != nil {
		rt.fail(w, err)
		return
	}
	if list == nil {
		list = []store.Job{}
	}
	rt.respondJSON(w, http.StatusOK, map[string]any{"jobs": list})
}

func (rt *Router) getJob(w http.ResponseWriter, req *http.Request) {
	id, err := urlID(req)
	if err != nil {
		rt.respondError(w, http.StatusNotFound, "not found")
		return
	}
	job, err := rt.store.GetJob(req.Context(), id)
	if err != nil {
		rt.fail(w, err)
		return
	}
	logs, err := rt.store.JobLogs(req.Context(), id)
	if err != nil {
		rt.fail(w, err)
		return
	}
	if logs == nil {
		logs = []string{}
	}
	rt.respondJSON(w, http.StatusOK, map[string]any{"job": job, "logs": logs})
}

// reprocess runs a previously ingested blotter through the pipeline again
// as a fresh batch. The request timestamp lands in the job params so the
// rerun is not deduplicated against the original ingestion.
func (rt *Router) reprocess(w http.ResponseWriter, req *http.Request) {
	var body struct {
		BlotterID int64 `json:"blotter_id"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		rt.respondError(w, http.StatusBadRequest, "invalid json")
		return
	}
	b, err := rt.store.GetBlotter(req.Context(), body.BlotterID)
	if err != nil {
		rt.fail(w, err)
		return
	}
	params := map[string]any{
		"path":         b.FilePath,
		"county":       b.County,
		"requested_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
	job, err := rt.runner.Enqueue(req.Context(), "reprocess", b.Filename, jobs.StageExtract, params)
	if err != nil {
		rt.fail(w, err)
		return
	}
	rt.respondJSON(w, http.StatusAccepted, map[string]any{"job": job})
}

func (rt *Router) runBackfill(w http.ResponseWriter, req *http.Request) {
	summary, err := rt.backfill.Run(req.Context())
	if err != nil {
		rt.fail(w, err)
		return
	}
	rt.respondJSON(w, http.StatusOK, summary)
}

func (rt *Router) runDigest(w http.ResponseWriter, req *http.Request) {
	d, err := rt.notifier.Run(req.Context())
	if err != nil {
		rt.log.Error().Err(err).Msg("digest run failed")
		rt.respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	rt.respondJSON(w, http.StatusOK, map[string]any{"date": d.Date, "posts": d.Total})
}

// streamLogs replays the recent job log ring, then follows new lines as
// server-sent events until the client disconnects.
func (rt *Router) streamLogs(w http.ResponseWriter, req *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		rt.respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	tail, stop := rt.runner.Tail()
	defer stop()

	for _, line := range rt.runner.Recent() {
		fmt.Fprintf(w, "data: %s\n\n", line)
	}
	flusher.Flush()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case line := <-tail:
			fmt.Fprintf(w, "data: %s\n\n", line)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func (rt *Router) listSubscribers(w http.ResponseWriter, req *http.Request) {
	subs, err := rt.store.ListActiveSubscribers(req.Context())
	if err != nil {
		rt.fail(w, err)
		return
	}
	if subs == nil {
		subs = []store.Subscriber{}
	}
	rt.respondJSON(w, http.StatusOK, map[string]any{"subscribers": subs})
}

func (rt *Router) reset(w http.ResponseWriter, req *http.Request) {
	if !rt.cfg.EnableDangerousOps {
		rt.respondError(w, http.StatusForbidden, "dangerous ops disabled")
		return
	}
	if err := rt.store.Reset(req.Context()); err != nil {
		rt.fail(w, err)
		return
	}
	rt.log.Warn().Msg("database reset")
	rt.respondJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

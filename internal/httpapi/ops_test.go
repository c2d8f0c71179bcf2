package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mtblotter/internal/backfill"
	"mtblotter/internal/config"
	"mtblotter/internal/jobs"
	"mtblotter/internal/metrics"
	"mtblotter/internal/notify"
	"mtblotter/internal/queue"
	"mtblotter/internal/store"
)

func TestHealth(t *testing.T) {
	api := newTestAPI(t, config.Config{})
	if w := api.get(t, "/ops/health"); w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
}

func TestStatus(t *testing.T) {
	api := newTestAPI(t, config.Config{})
	seedBlotter(t, api.st, "gcso-daily.txt", nil)
	seedPost(t, api.st, "Gallatin", "Crash on Frontage Road")

	w := api.get(t, "/ops/status")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["healthy"] != true {
		t.Errorf("healthy = %v, want true", body["healthy"])
	}
	if body["blotters"].(float64) != 1 || body["posts"].(float64) != 1 {
		t.Errorf("counts = %v blotters, %v posts", body["blotters"], body["posts"])
	}
	q := body["queue"].(map[string]any)
	if q["capacity"].(float64) != 8 || q["workers"].(float64) != 1 {
		t.Errorf("queue = %v", q)
	}
	last, ok := body["last_blotter"].(map[string]any)
	if !ok || last["filename"] != "gcso-daily.txt" {
		t.Errorf("last_blotter = %v", body["last_blotter"])
	}
	if _, ok := body["metrics"].(map[string]any); !ok {
		t.Errorf("metrics missing: %v", body["metrics"])
	}
}

func TestJobsEndpoints(t *testing.T) {
	api := newTestAPI(t, config.Config{})
	job, err := api.rt.runner.Enqueue(context.Background(), "test", "gcso-daily.txt", jobs.StageExtract, map[string]any{"path": "/tmp/gcso-daily.txt"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	body := decodeBody(t, api.get(t, "/ops/jobs"))
	if got := len(body["jobs"].([]any)); got != 1 {
		t.Fatalf("jobs = %d, want 1", got)
	}

	w := api.get(t, "/ops/jobs/"+itoa(job.ID))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body = decodeBody(t, w)
	if got := body["job"].(map[string]any)["id"].(float64); int64(got) != job.ID {
		t.Errorf("job id = %v, want %d", got, job.ID)
	}
	if _, ok := body["logs"].([]any); !ok {
		t.Errorf("logs missing: %v", body["logs"])
	}

	if w := api.get(t, "/ops/jobs/999"); w.Code != http.StatusNotFound {
		t.Errorf("missing job status = %d, want 404", w.Code)
	}
}

func TestReprocessCreatesFreshJob(t *testing.T) {
	api := newTestAPI(t, config.Config{})
	id := seedBlotter(t, api.st, "gcso-daily.txt", nil)

	first := api.postJSON(t, "/ops/reprocess", map[string]any{"blotter_id": id})
	if first.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", first.Code, first.Body.String())
	}
	second := api.postJSON(t, "/ops/reprocess", map[string]any{"blotter_id": id})
	if second.Code != http.StatusAccepted {
		t.Fatalf("second status = %d", second.Code)
	}

	firstID := decodeBody(t, first)["job"].(map[string]any)["id"].(float64)
	secondID := decodeBody(t, second)["job"].(map[string]any)["id"].(float64)
	if firstID == secondID {
		t.Errorf("repeat reprocess reused job %v", firstID)
	}

	if w := api.postJSON(t, "/ops/reprocess", map[string]any{"blotter_id": 999}); w.Code != http.StatusNotFound {
		t.Errorf("missing blotter status = %d, want 404", w.Code)
	}
}

func TestBackfillEndpoint(t *testing.T) {
	inbox := t.TempDir()
	if err := os.MkdirAll(filepath.Join(inbox, "Gallatin"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(inbox, "Gallatin", "old-blotter.pdf"), []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatal(err)
	}
	api := newTestAPI(t, config.Config{InboxDir: inbox})

	w := api.postJSON(t, "/ops/backfill", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["scanned"].(float64) != 1 || body["enqueued"].(float64) != 1 {
		t.Errorf("summary = %v", body)
	}
}

func TestDigestEndpoint(t *testing.T) {
	api := newTestAPI(t, config.Config{})

	w := api.postJSON(t, "/ops/digest", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["posts"].(float64) != 0 {
		t.Errorf("posts = %v, want 0", body["posts"])
	}
	if body["date"] == "" {
		t.Error("date missing")
	}
}

func TestSubscribersEndpoint(t *testing.T) {
	api := newTestAPI(t, config.Config{})
	if _, err := api.st.UpsertSubscriber(context.Background(), "reader@example.com", []string{"Gallatin"}); err != nil {
		t.Fatal(err)
	}

	body := decodeBody(t, api.get(t, "/ops/subscribers"))
	subs := body["subscribers"].([]any)
	if len(subs) != 1 {
		t.Fatalf("subscribers = %d, want 1", len(subs))
	}
	if email := subs[0].(map[string]any)["email"]; email != "reader@example.com" {
		t.Errorf("email = %v", email)
	}
}

func TestResetRequiresDangerousOps(t *testing.T) {
	api := newTestAPI(t, config.Config{})
	seedPost(t, api.st, "Gallatin", "Crash on Frontage Road")

	if w := api.postJSON(t, "/ops/reset", nil); w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}

	gated := newTestAPI(t, config.Config{EnableDangerousOps: true})
	seedPost(t, gated.st, "Gallatin", "Crash on Frontage Road")
	if w := gated.postJSON(t, "/ops/reset", nil); w.Code != http.StatusOK {
		t.Fatalf("reset status = %d", w.Code)
	}
	body := decodeBody(t, gated.get(t, "/api/posts"))
	if body["total"].(float64) != 0 {
		t.Errorf("posts after reset = %v, want 0", body["total"])
	}
}

// A dropped enqueue writes to the runner's log ring synchronously, so the
// stream handler's replay phase must carry it even though no worker ran.
func TestStreamLogsReplaysRecent(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "sse.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	full := queue.New(0, 0, time.Second, zerolog.Nop())
	runner := jobs.NewRunner(st, full, jobs.Registry{}, zerolog.Nop())
	if _, err := runner.Enqueue(context.Background(), "test", "gcso-daily.txt", jobs.StageExtract, nil); err == nil {
		t.Fatal("enqueue into full queue should fail")
	}

	cfg := config.Config{InboxDir: t.TempDir()}
	rt := NewRouter(cfg, st, runner, full, metrics.New(), notify.New(st, cfg.Digest, zerolog.Nop()), backfill.New(st, runner, cfg.InboxDir, 10, zerolog.Nop()), zerolog.Nop())
	handler := rt.Routes()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/ops/logs", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	out := w.Body.String()
	if !strings.Contains(out, "data: ") {
		t.Fatalf("no events in stream:\n%s", out)
	}
	if !strings.Contains(out, "dropped: worker queue full") {
		t.Errorf("drop line missing from replay:\n%s", out)
	}
}

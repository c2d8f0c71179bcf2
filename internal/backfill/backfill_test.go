package backfill

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mtblotter/internal/jobs"
	"mtblotter/internal/queue"
	"mtblotter/internal/store"
)

func writeInboxFile(t *testing.T, inbox, rel string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(inbox, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("blotter content"), 0o644); err != nil {
		t.Fatal(err)
	}
	ts := time.Now().Add(-age)
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestScanFindsIngestibleFiles(t *testing.T) {
	inbox := t.TempDir()
	writeInboxFile(t, inbox, "root-report.pdf", 0)
	writeInboxFile(t, inbox, filepath.Join("Gallatin", "gcso-daily.txt"), 0)
	writeInboxFile(t, inbox, filepath.Join("Hill", "export.csv"), 0)
	writeInboxFile(t, inbox, filepath.Join("Hill", "notes.docx"), 0)

	b := New(nil, nil, inbox, 0, zerolog.Nop())
	candidates, err := b.Scan()
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(candidates) != 3 {
		t.Fatalf("candidates = %d, want 3 (docx excluded)", len(candidates))
	}

	counties := map[string]string{}
	for _, c := range candidates {
		counties[c.Filename] = c.County
	}
	want := map[string]string{
		"root-report.pdf": "",
		"gcso-daily.txt":  "Gallatin",
		"export.csv":      "Hill",
	}
	for file, county := range want {
		if counties[file] != county {
			t.Errorf("county for %s = %q, want %q", file, counties[file], county)
		}
	}
}

func TestSelectMissingNewestFirstAndLimit(t *testing.T) {
	now := time.Now()
	var candidates []Candidate
	for i := 0; i < 6; i++ {
		candidates = append(candidates, Candidate{
			Filename: fmt.Sprintf("file-%d.pdf", i),
			ModTime:  now.Add(time.Duration(i) * time.Minute),
		})
	}
	seen := func(filename string) (bool, error) {
		return filename == "file-5.pdf" || filename == "file-2.pdf", nil
	}

	selected, summary, err := SelectMissing(candidates, seen, 2)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if summary.Scanned != 6 || summary.AlreadySeen != 2 || summary.Missing != 4 || summary.Selected != 2 {
		t.Errorf("summary = %+v", summary)
	}
	if len(selected) != 2 {
		t.Fatalf("selected = %d, want 2", len(selected))
	}
	if selected[0].Filename != "file-4.pdf" || selected[1].Filename != "file-3.pdf" {
		t.Errorf("selection order = %s, %s; want newest missing first", selected[0].Filename, selected[1].Filename)
	}
}

func TestSelectMissingPropagatesLookupError(t *testing.T) {
	boom := errors.New("db down")
	_, _, err := SelectMissing([]Candidate{{Filename: "a.pdf"}}, func(string) (bool, error) {
		return false, boom
	}, 0)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want lookup error", err)
	}
}

func newRunPair(t *testing.T, stage jobs.StageFunc) (*jobs.Runner, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "backfill.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	q := queue.New(8, 1, 5*time.Second, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	q.Start(ctx)

	return jobs.NewRunner(st, q, jobs.Registry{jobs.StageExtract: stage}, zerolog.Nop()), st
}

func TestRunQueuesOnlyMissingFiles(t *testing.T) {
	inbox := t.TempDir()
	writeInboxFile(t, inbox, filepath.Join("Gallatin", "seen.pdf"), 3*time.Hour)
	writeInboxFile(t, inbox, filepath.Join("Gallatin", "new-a.pdf"), 2*time.Hour)
	writeInboxFile(t, inbox, "new-b.txt", time.Hour)

	got := make(chan string, 4)
	runner, st := newRunPair(t, func(ctx context.Context, exec jobs.ExecutionContext, filename string, params map[string]any) (map[string]any, error) {
		got <- filename
		return nil, nil
	})
	ctx := context.Background()
	if _, err := st.InsertBlotter(ctx, &store.Blotter{Filename: "seen.pdf"}); err != nil {
		t.Fatal(err)
	}

	b := New(st, runner, inbox, 10, zerolog.Nop())
	summary, err := b.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Scanned != 3 || summary.AlreadySeen != 1 || summary.Enqueued != 2 {
		t.Errorf("summary = %+v, want scanned 3, seen 1, enqueued 2", summary)
	}

	var files []string
	for i := 0; i < 2; i++ {
		select {
		case f := <-got:
			files = append(files, f)
		case <-time.After(5 * time.Second):
			t.Fatal("backfilled job never ran")
		}
	}
	sort.Strings(files)
	if files[0] != "new-a.pdf" || files[1] != "new-b.txt" {
		t.Errorf("queued files = %v", files)
	}
}

func TestRunRespectsLimit(t *testing.T) {
	inbox := t.TempDir()
	writeInboxFile(t, inbox, "old.pdf", 3*time.Hour)
	writeInboxFile(t, inbox, "newer.pdf", 2*time.Hour)
	writeInboxFile(t, inbox, "newest.pdf", time.Hour)

	got := make(chan string, 4)
	runner, st := newRunPair(t, func(ctx context.Context, exec jobs.ExecutionContext, filename string, params map[string]any) (map[string]any, error) {
		got <- filename
		return nil, nil
	})

	b := New(st, runner, inbox, 1, zerolog.Nop())
	summary, err := b.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Selected != 1 || summary.Enqueued != 1 {
		t.Errorf("summary = %+v, want one selection", summary)
	}

	select {
	case f := <-got:
		if f != "newest.pdf" {
			t.Errorf("queued %s, want the newest missing file", f)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("backfilled job never ran")
	}
}

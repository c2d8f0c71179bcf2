package jobs

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mtblotter/internal/queue"
	"mtblotter/internal/store"
)

func testRunner(t *testing.T, workers int, reg Registry) (*Runner, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	q := queue.New(8, workers, 5*time.Second, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	q.Start(ctx)

	return NewRunner(st, q, reg, zerolog.Nop()), st
}

func TestIdempotentEnqueue(t *testing.T) {
	runner, _ := testRunner(t, 0, Registry{})
	ctx := context.Background()

	j1, err := runner.Enqueue(ctx, "test", "blotter1.pdf", StageExtract, map[string]any{"county": "Gallatin"})
	if err != nil {
		t.Fatalf("enqueue1: %v", err)
	}
	j2, err := runner.Enqueue(ctx, "test", "blotter1.pdf", StageExtract, map[string]any{"county": "Gallatin"})
	if err != nil {
		t.Fatalf("enqueue2: %v", err)
	}
	if j1.ID != j2.ID {
		t.Fatalf("expected idempotent job, got %d vs %d", j1.ID, j2.ID)
	}

	j3, err := runner.Enqueue(ctx, "test", "blotter1.pdf", StageExtract, map[string]any{"county": "Hill"})
	if err != nil {
		t.Fatalf("enqueue3: %v", err)
	}
	if j3.ID == j1.ID {
		t.Fatalf("different params should produce a fresh job")
	}
}

func TestStageChaining(t *testing.T) {
	persistDone := make(chan map[string]any, 1)
	reg := Registry{
		StageExtract: func(ctx context.Context, exec ExecutionContext, filename string, params map[string]any) (map[string]any, error) {
			exec.Logf("extracted %s", filename)
			return map[string]any{"text": "ready"}, nil
		},
		StageParse: func(ctx context.Context, exec ExecutionContext, filename string, params map[string]any) (map[string]any, error) {
			if params["text"] != "ready" {
				t.Errorf("parse params = %v", params)
			}
			return map[string]any{"records": float64(2)}, nil
		},
		StagePersist: func(ctx context.Context, exec ExecutionContext, filename string, params map[string]any) (map[string]any, error) {
			persistDone <- params
			return nil, nil
		},
	}
	runner, st := testRunner(t, 1, reg)

	if _, err := runner.Enqueue(context.Background(), "test", "chain.pdf", StageExtract, nil); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case params := <-persistDone:
		if params["records"] != float64(2) {
			t.Fatalf("persist params = %v", params)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("chain never reached the persist stage")
	}

	waitForJobs(t, st, 3)
	jobsList, err := st.ListJobs(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	for _, j := range jobsList {
		if j.Status != StatusSucceeded {
			t.Fatalf("job %d (%s) status = %q", j.ID, j.Stage, j.Status)
		}
	}
}

func TestStageFailureMarksJob(t *testing.T) {
	reg := Registry{
		StageExtract: func(ctx context.Context, exec ExecutionContext, filename string, params map[string]any) (map[string]any, error) {
			return nil, errors.New("no such file")
		},
	}
	runner, st := testRunner(t, 1, reg)

	j, err := runner.Enqueue(context.Background(), "test", "missing.pdf", StageExtract, nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitForStatus(t, st, j.ID, StatusFailed)

	lines := runner.Logs(j.ID)
	if len(lines) == 0 || !strings.Contains(lines[len(lines)-1], "no such file") {
		t.Fatalf("log ring missing failure line: %v", lines)
	}
}

func TestStagePanicMarksJobFailed(t *testing.T) {
	reg := Registry{
		StageExtract: func(ctx context.Context, exec ExecutionContext, filename string, params map[string]any) (map[string]any, error) {
			panic("bad regex")
		},
	}
	runner, st := testRunner(t, 1, reg)

	j, err := runner.Enqueue(context.Background(), "test", "panic.pdf", StageExtract, nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitForStatus(t, st, j.ID, StatusFailed)
}

func waitForStatus(t *testing.T, st *store.Store, jobID int64, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := st.GetJob(context.Background(), jobID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("job status = %q, want %q", got.Status, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func waitForJobs(t *testing.T, st *store.Store, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		jobsList, err := st.ListJobs(context.Background(), 50)
		if err != nil {
			t.Fatal(err)
		}
		finished := 0
		for _, j := range jobsList {
			if j.Status == StatusSucceeded || j.Status == StatusFailed {
				finished++
			}
		}
		if finished >= want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("only %d of %d jobs finished", finished, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

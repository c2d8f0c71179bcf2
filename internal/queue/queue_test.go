package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestQueueProcessesJob(t *testing.T) {
	q := New(10, 1, time.Second, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	var processed int32
	done := make(chan struct{})
	ok := q.Enqueue(Job{
		ID:     "job1",
		Source: "test",
		Work: func(ctx context.Context) error {
			atomic.AddInt32(&processed, 1)
			close(done)
			return nil
		},
	})
	if !ok {
		t.Fatalf("expected enqueue to succeed")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("job did not complete")
	}
	if atomic.LoadInt32(&processed) != 1 {
		t.Fatalf("job not processed")
	}
}

func TestQueueBoundedWhenFull(t *testing.T) {
	q := New(1, 0, 100*time.Millisecond, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	ok := q.Enqueue(Job{ID: "slow", Source: "test", Work: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	if !ok {
		t.Fatalf("expected first enqueue to succeed")
	}

	if ok := q.Enqueue(Job{ID: "drop", Source: "test", Work: func(ctx context.Context) error { return nil }}); ok {
		t.Fatalf("expected enqueue to be rejected when queue is full")
	}
}

func TestEnqueueWithRetryDropsWhenFull(t *testing.T) {
	q := New(1, 0, time.Second, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	// No workers, so the single slot never frees up.
	first := q.Enqueue(Job{ID: "first", Source: "test", Work: func(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }})
	if !first {
		t.Fatalf("expected initial enqueue to succeed")
	}

	enqueued, dropped := q.EnqueueWithRetry(ctx, Job{ID: "retry", Source: "test", Work: func(ctx context.Context) error { return nil }}, 200*time.Millisecond, 50*time.Millisecond)
	if enqueued {
		t.Fatalf("expected enqueue to fail due to full queue")
	}
	if !dropped {
		t.Fatalf("expected enqueue to be reported as dropped after retries")
	}
}

func TestQueueRecoversFromPanic(t *testing.T) {
	q := New(4, 1, time.Second, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	done := make(chan struct{})
	q.Enqueue(Job{ID: "boom", Source: "test", Work: func(ctx context.Context) error {
		panic("parser blew up")
	}})
	q.Enqueue(Job{ID: "after", Source: "test", Work: func(ctx context.Context) error {
		close(done)
		return nil
	}})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("worker did not survive the panic")
	}
}

func TestQueueCountsFailures(t *testing.T) {
	q := New(4, 1, time.Second, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	var finishErr error
	done := make(chan struct{})
	q.Enqueue(Job{ID: "bad", Source: "test", Work: func(ctx context.Context) error {
		return errors.New("no such file")
	}, OnFinish: func(err error) {
		finishErr = err
		close(done)
	}})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("job did not finish")
	}
	if finishErr == nil {
		t.Fatalf("OnFinish should see the work error")
	}
	stats := q.Stats()
	if stats.Processed != 1 || stats.Failed != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestStopDrainsQueue(t *testing.T) {
	q := New(4, 1, time.Second, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	var ran int32
	for i := 0; i < 3; i++ {
		q.Enqueue(Job{ID: "drain", Source: "test", Work: func(ctx context.Context) error {
			atomic.AddInt32(&ran, 1)
			return nil
		}})
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	q.Stop(stopCtx)

	if got := atomic.LoadInt32(&ran); got != 3 {
		t.Fatalf("drained %d jobs, want 3", got)
	}
}

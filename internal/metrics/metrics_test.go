package metrics

import (
	"sync"
	"testing"
)

func TestSnapshotReflectsCounters(t *testing.T) {
	m := New()
	m.RecordBlotter(false, 12)
	m.RecordBlotter(false, 3)
	m.RecordBlotter(true, 0)
	m.RecordOCRFallback()
	m.RecordPosts(15)
	m.UpdateQueue(2, 64, 4)

	snap := m.Snapshot()
	if snap.BlottersProcessed != 2 {
		t.Errorf("BlottersProcessed = %d, want 2", snap.BlottersProcessed)
	}
	if snap.BlottersFailed != 1 {
		t.Errorf("BlottersFailed = %d, want 1", snap.BlottersFailed)
	}
	if snap.RecordsParsed != 15 {
		t.Errorf("RecordsParsed = %d, want 15", snap.RecordsParsed)
	}
	if snap.PostsWritten != 15 {
		t.Errorf("PostsWritten = %d, want 15", snap.PostsWritten)
	}
	if snap.OCRFallbacks != 1 {
		t.Errorf("OCRFallbacks = %d, want 1", snap.OCRFallbacks)
	}
	if snap.QueueLength != 2 || snap.QueueCapacity != 64 || snap.WorkerCount != 4 {
		t.Errorf("queue stats = %d/%d/%d, want 2/64/4", snap.QueueLength, snap.QueueCapacity, snap.WorkerCount)
	}
}

func TestConcurrentUpdates(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.RecordBlotter(false, 1)
			}
		}()
	}
	wg.Wait()

	snap := m.Snapshot()
	if snap.BlottersProcessed != 800 {
		t.Fatalf("BlottersProcessed = %d, want 800", snap.BlottersProcessed)
	}
	if snap.RecordsParsed != 800 {
		t.Fatalf("RecordsParsed = %d, want 800", snap.RecordsParsed)
	}
}

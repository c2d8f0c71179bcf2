// Package metrics keeps shared operational counters for the ingestion
// pipeline and worker queue.
package metrics

import "sync/atomic"

// Metrics collects pipeline and queue counters. All methods are safe for
// concurrent use.
type Metrics struct {
	blottersProcessed int64
	blottersFailed    int64
	recordsParsed     int64
	postsWritten      int64
	ocrFallbacks      int64

	queueLength   int64
	queueCapacity int64
	workerCount   int64
}

// Snapshot is a point-in-time view of the counters.
type Snapshot struct {
	BlottersProcessed int64 `json:"blotters_processed"`
	BlottersFailed    int64 `json:"blotters_failed"`
	RecordsParsed     int64 `json:"records_parsed"`
	PostsWritten      int64 `json:"posts_written"`
	OCRFallbacks      int64 `json:"ocr_fallbacks"`
	QueueLength       int   `json:"queue_length"`
	QueueCapacity     int   `json:"queue_capacity"`
	WorkerCount       int   `json:"worker_count"`
}

func New() *Metrics {
	return &Metrics{}
}

// RecordBlotter counts one finished pipeline run. Records are only added
// for runs that persisted.
func (m *Metrics) RecordBlotter(failed bool, records int) {
	if failed {
		atomic.AddInt64(&m.blottersFailed, 1)
		return
	}
	atomic.AddInt64(&m.blottersProcessed, 1)
	atomic.AddInt64(&m.recordsParsed, int64(records))
}

// RecordOCRFallback counts a PDF that fell through to OCR.
func (m *Metrics) RecordOCRFallback() {
	atomic.AddInt64(&m.ocrFallbacks, 1)
}

// RecordPosts counts summaries written for persisted records.
func (m *Metrics) RecordPosts(n int) {
	atomic.AddInt64(&m.postsWritten, int64(n))
}

// UpdateQueue records current worker queue occupancy.
func (m *Metrics) UpdateQueue(length, capacity, workers int) {
	atomic.StoreInt64(&m.queueLength, int64(length))
	atomic.StoreInt64(&m.queueCapacity, int64(capacity))
	atomic.StoreInt64(&m.workerCount, int64(workers))
}

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		BlottersProcessed: atomic.LoadInt64(&m.blottersProcessed),
		BlottersFailed:    atomic.LoadInt64(&m.blottersFailed),
		RecordsParsed:     atomic.LoadInt64(&m.recordsParsed),
		PostsWritten:      atomic.LoadInt64(&m.postsWritten),
		OCRFallbacks:      atomic.LoadInt64(&m.ocrFallbacks),
		QueueLength:       int(atomic.LoadInt64(&m.queueLength)),
		QueueCapacity:     int(atomic.LoadInt64(&m.queueCapacity)),
		WorkerCount:       int(atomic.LoadInt64(&m.workerCount)),
	}
}

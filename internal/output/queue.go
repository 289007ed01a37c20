package output

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const flushInterval = 120 * time.Millisecond

// TextInserter delivers one block of text. Implemented by Inserter.
type TextInserter interface {
	InsertText(ctx context.Context, text string) bool
}

// RealtimeQueue buffers streaming insertion deltas and flushes them on a
// fixed cadence while the accept predicate holds. Deltas enqueued while the
// predicate is false stay buffered; they flush once the predicate holds
// again or when Flush is called directly at finalization.
type RealtimeQueue struct {
	inserter TextInserter
	accept   func() bool
	logger   *slog.Logger

	mu      sync.Mutex
	pending string
}

// NewRealtimeQueue builds a queue flushing into inserter while accept holds.
func NewRealtimeQueue(inserter TextInserter, accept func() bool, logger *slog.Logger) *RealtimeQueue {
	return &RealtimeQueue{inserter: inserter, accept: accept, logger: logger}
}

// Enqueue appends one streaming delta.
func (q *RealtimeQueue) Enqueue(delta string) {
	if delta == "" {
		return
	}
	q.mu.Lock()
	q.pending += delta
	q.mu.Unlock()
}

// Pending reports the currently buffered text length.
func (q *RealtimeQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Run flushes on the insertion cadence until ctx is cancelled.
func (q *RealtimeQueue) Run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !q.accept() {
				continue
			}
			q.Flush(ctx)
		}
	}
}

// Flush drains the buffered text into the inserter immediately. A failed
// insert drops the batch; the inserter has already run its retry and
// fallback paths by the time it reports failure.
func (q *RealtimeQueue) Flush(ctx context.Context) {
	q.mu.Lock()
	text := q.pending
	q.pending = ""
	q.mu.Unlock()

	if text == "" {
		return
	}
	if !q.inserter.InsertText(ctx, text) {
		q.logger.Error("output: realtime insertion failed, delta dropped", "chars", len(text))
	}
}

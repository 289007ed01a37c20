package output

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeInserter struct {
	mu      sync.Mutex
	inserts []string
	ok      bool
}

func (f *fakeInserter) InsertText(_ context.Context, text string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts = append(f.inserts, text)
	return f.ok
}

func (f *fakeInserter) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.inserts...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRealtimeQueueCoalescesDeltas(t *testing.T) {
	inserter := &fakeInserter{ok: true}
	queue := NewRealtimeQueue(inserter, func() bool { return true }, discardLogger())

	queue.Enqueue("The")
	queue.Enqueue(" quick")
	queue.Enqueue("")
	require.Equal(t, len("The quick"), queue.Pending())

	queue.Flush(context.Background())
	require.Equal(t, []string{"The quick"}, inserter.all())
	require.Zero(t, queue.Pending())
}

func TestRealtimeQueueFlushEmptyIsNoOp(t *testing.T) {
	inserter := &fakeInserter{ok: true}
	queue := NewRealtimeQueue(inserter, func() bool { return true }, discardLogger())

	queue.Flush(context.Background())
	require.Empty(t, inserter.all())
}

func TestRealtimeQueueDropsBatchOnFailedInsert(t *testing.T) {
	inserter := &fakeInserter{ok: false}
	queue := NewRealtimeQueue(inserter, func() bool { return true }, discardLogger())

	queue.Enqueue("hello")
	queue.Flush(context.Background())
	require.Zero(t, queue.Pending())
	require.Equal(t, []string{"hello"}, inserter.all())
}

func TestRealtimeQueueRunHonorsPredicate(t *testing.T) {
	inserter := &fakeInserter{ok: true}
	var acceptMu sync.Mutex
	accepting := false
	queue := NewRealtimeQueue(inserter, func() bool {
		acceptMu.Lock()
		defer acceptMu.Unlock()
		return accepting
	}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go queue.Run(ctx)

	queue.Enqueue("held")
	time.Sleep(3 * flushInterval)
	require.Empty(t, inserter.all())
	require.NotZero(t, queue.Pending())

	acceptMu.Lock()
	accepting = true
	acceptMu.Unlock()

	require.Eventually(t, func() bool {
		return len(inserter.all()) == 1
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"held"}, inserter.all())
}

func TestRealtimeQueueRunStopsOnCancel(t *testing.T) {
	inserter := &fakeInserter{ok: true}
	queue := NewRealtimeQueue(inserter, func() bool { return true }, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		queue.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}

	// Ticks after cancellation must not flush into a dead session.
	queue.Enqueue("late")
	time.Sleep(2 * flushInterval)
	require.Empty(t, inserter.all())
}

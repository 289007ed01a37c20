package audio

import "sync"

// ChunkBuffer accumulates captured PCM bytes between the realtime capture
// callback and the periodic network send loop. It is the only object shared
// directly across those two threads and is guarded by its own lock.
type ChunkBuffer struct {
	mu   sync.Mutex
	data []byte
}

// Append adds captured bytes to the buffer. Empty input is a no-op.
func (b *ChunkBuffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, p...)
}

// TakeAll atomically returns and clears the buffered bytes. An empty buffer
// yields nil.
func (b *ChunkBuffer) TakeAll() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.data) == 0 {
		return nil
	}
	out := b.data
	b.data = nil
	return out
}

// Clear discards buffered bytes.
func (b *ChunkBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = nil
}

// Len reports the currently buffered byte count.
func (b *ChunkBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Package buffer implements the coalescing write buffer: increments for the
// same key accumulate in memory and are flushed to the backing store as a
// single per-key add, with any flush failure restored into the live
// buffer rather than dropped.
package buffer

import (
	"context"
	"sync"
	"time"

	"github.com/gourl/gourl/internal/metrics"
	"github.com/gourl/gourl/pkg/logger"
)

// Incrementer is the per-key increment capability the buffer flushes into.
// *shardmgr.Manager satisfies this.
type Incrementer interface {
	Increment(ctx context.Context, key string, delta int64) (int64, error)
}

// keyPrefix decorates a page key into the storage key consulted by the
// ring, mirroring the decoration the counter service applies on the read
// path so increment and get route identically.
const keyPrefix = "visits:"

// Buffer accumulates pending per-key deltas and flushes them periodically.
type Buffer struct {
	mu        sync.Mutex
	pending   map[string]int64
	lastFlush time.Time

	inc      Incrementer
	log      *logger.Logger
	interval time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a Buffer that flushes into inc every interval, and starts its
// background flusher loop.
func New(inc Incrementer, interval time.Duration, log *logger.Logger) *Buffer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	b := &Buffer{
		pending:   make(map[string]int64),
		lastFlush: time.Now(),
		inc:       inc,
		log:       log,
		interval:  interval,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	go b.run()
	return b
}

// Enqueue adds 1 to the pending delta for key, creating the entry if
// absent. Safe for concurrent use and against a concurrent Flush.
func (b *Buffer) Enqueue(key string) {
	b.mu.Lock()
	b.pending[key]++
	size := len(b.pending)
	b.mu.Unlock()
	metrics.SetBufferSize(size)
}

// Pending returns the delta currently buffered for key (0 if none).
func (b *Buffer) Pending(key string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending[key]
}

// Delete removes key from the buffer without flushing it. Used by reset,
// which drops pending local state rather than persisting it.
func (b *Buffer) Delete(key string) {
	b.mu.Lock()
	delete(b.pending, key)
	b.mu.Unlock()
}

// Size returns the number of distinct keys currently buffered.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// LastFlushTime returns the time the last flush of a non-empty buffer
// (successful or not) completed. A Flush that finds the buffer empty does
// not update it.
func (b *Buffer) LastFlushTime() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastFlush
}

// Flush atomically snapshots the buffer and replaces it with an empty map,
// so concurrent Enqueue calls accumulate into the fresh map. Each snapshot
// entry is flushed individually; on failure its delta is merged back into
// whatever has accumulated live since the snapshot, so no accepted
// increment is ever dropped by a flush, only deferred.
func (b *Buffer) Flush(ctx context.Context) {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	snapshot := b.pending
	b.pending = make(map[string]int64)
	b.mu.Unlock()

	start := time.Now()
	defer func() { metrics.RecordFlushDuration(time.Since(start)) }()

	for key, delta := range snapshot {
		if delta <= 0 {
			continue
		}
		if _, err := b.inc.Increment(ctx, keyPrefix+key, delta); err != nil {
			if b.log != nil {
				b.log.Error("flush failed, restoring delta to buffer",
					"key", key, "delta", delta, "error", err.Error())
			}
			b.mu.Lock()
			b.pending[key] += delta
			b.mu.Unlock()
		}
	}

	b.mu.Lock()
	b.lastFlush = time.Now()
	size := len(b.pending)
	b.mu.Unlock()
	metrics.SetBufferSize(size)
}

// Stop halts the background flusher loop. It does not perform a final
// flush; callers that need to drain on shutdown should call Flush
// explicitly beforehand.
func (b *Buffer) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
		<-b.doneCh
	})
}

func (b *Buffer) run() {
	defer close(b.doneCh)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.Flush(context.Background())
		}
	}
}

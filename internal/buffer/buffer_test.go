package buffer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeIncrementer records Increment calls and can be made to fail for a
// chosen key a fixed number of times.
type fakeIncrementer struct {
	mu       sync.Mutex
	values   map[string]int64
	failKey  string
	failN    int
	attempts int
}

func newFakeIncrementer() *fakeIncrementer {
	return &fakeIncrementer{values: make(map[string]int64)}
}

func (f *fakeIncrementer) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if key == f.failKey && f.attempts < f.failN {
		f.attempts++
		return 0, errors.New("simulated shard failure")
	}
	f.values[key] += delta
	return f.values[key], nil
}

func (f *fakeIncrementer) valueOf(key string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[key]
}

func TestBuffer_EnqueueCoalescesDeltas(t *testing.T) {
	fi := newFakeIncrementer()
	b := New(fi, time.Hour, nil)
	defer b.Stop()

	b.Enqueue("page-A")
	b.Enqueue("page-A")
	b.Enqueue("page-A")

	assert.Equal(t, int64(3), b.Pending("page-A"))
	assert.Equal(t, 1, b.Size())
}

func TestBuffer_FlushAppliesDeltaAndDrainsBuffer(t *testing.T) {
	fi := newFakeIncrementer()
	b := New(fi, time.Hour, nil)
	defer b.Stop()

	b.Enqueue("page-A")
	b.Enqueue("page-A")

	b.Flush(context.Background())

	assert.Equal(t, int64(2), fi.valueOf("visits:page-A"))
	assert.Equal(t, int64(0), b.Pending("page-A"))
	assert.Equal(t, 0, b.Size())
}

func TestBuffer_FlushRestoresDeltaOnFailure(t *testing.T) {
	fi := newFakeIncrementer()
	fi.failKey = "visits:page-A"
	fi.failN = 1
	b := New(fi, time.Hour, nil)
	defer b.Stop()

	b.Enqueue("page-A")
	b.Flush(context.Background())

	// The flush failed, so the delta must still be visible in the buffer.
	assert.Equal(t, int64(1), b.Pending("page-A"))
	assert.Equal(t, int64(0), fi.valueOf("visits:page-A"))

	// A second flush succeeds and drains it.
	b.Flush(context.Background())
	assert.Equal(t, int64(0), b.Pending("page-A"))
	assert.Equal(t, int64(1), fi.valueOf("visits:page-A"))
}

func TestBuffer_FlushRestoredDeltaMergesWithLaterEnqueue(t *testing.T) {
	fi := newFakeIncrementer()
	fi.failKey = "visits:page-A"
	fi.failN = 1
	b := New(fi, time.Hour, nil)
	defer b.Stop()

	b.Enqueue("page-A")

	// The first flush fails and restores delta=1; a later enqueue adds to
	// the restored delta rather than replacing it.
	b.Flush(context.Background())
	b.Enqueue("page-A") // arrives after the failed flush restored delta=1

	assert.Equal(t, int64(2), b.Pending("page-A"))

	b.Flush(context.Background())
	assert.Equal(t, int64(2), fi.valueOf("visits:page-A"))
	assert.Equal(t, int64(0), b.Pending("page-A"))
}

func TestBuffer_DeleteDropsPendingKey(t *testing.T) {
	fi := newFakeIncrementer()
	b := New(fi, time.Hour, nil)
	defer b.Stop()

	b.Enqueue("page-A")
	b.Delete("page-A")

	assert.Equal(t, int64(0), b.Pending("page-A"))
	assert.Equal(t, 0, b.Size())
}

func TestBuffer_BackgroundFlusherRunsOnInterval(t *testing.T) {
	fi := newFakeIncrementer()
	b := New(fi, 10*time.Millisecond, nil)
	defer b.Stop()

	b.Enqueue("page-A")

	require.Eventually(t, func() bool {
		return fi.valueOf("visits:page-A") == 1
	}, time.Second, 5*time.Millisecond)
}

func TestBuffer_FlushOnEmptyBufferIsNoop(t *testing.T) {
	fi := newFakeIncrementer()
	b := New(fi, time.Hour, nil)
	defer b.Stop()

	before := b.LastFlushTime()
	b.Flush(context.Background())
	assert.Equal(t, before, b.LastFlushTime())
}

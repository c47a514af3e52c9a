package shardmgr

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gourl/gourl/internal/shardclient"
)

// fakeClient is an in-memory shardclient.Client for tests.
type fakeClient struct {
	mu       sync.Mutex
	values   map[string]int64
	pingErr  error
	mgetErr  error
	failIncr int // number of Incr calls to fail before succeeding
	incrHits int
}

func newFakeClient() *fakeClient {
	return &fakeClient{values: make(map[string]int64)}
}

func (f *fakeClient) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.incrHits++
	if f.incrHits <= f.failIncr {
		return 0, errors.New("simulated transient failure")
	}
	f.values[key] += delta
	return f.values[key], nil
}

func (f *fakeClient) Get(ctx context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[key], nil
}

func (f *fakeClient) MGet(ctx context.Context, keys []string) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mgetErr != nil {
		return nil, f.mgetErr
	}
	out := make([]int64, len(keys))
	for i, k := range keys {
		out[i] = f.values[k]
	}
	return out, nil
}

func (f *fakeClient) Del(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, existed := f.values[key]
	delete(f.values, key)
	return existed, nil
}

func (f *fakeClient) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeClient) Close() error { return nil }

func newTestManager(t *testing.T, shards map[string]*fakeClient) *Manager {
	t.Helper()
	clients := make(map[string]shardclient.Client, len(shards))
	for id, c := range shards {
		clients[id] = c
	}
	m := newWithClients(Config{
		VirtualNodes:  50,
		RetryAttempts: 3,
		ProbeInterval: time.Hour, // disabled for unit tests; set manually below
	}, nil, clients)
	t.Cleanup(m.Shutdown)
	return m
}

func TestManager_IncrementAndGet(t *testing.T) {
	m := newTestManager(t, map[string]*fakeClient{
		"s1": newFakeClient(),
		"s2": newFakeClient(),
		"s3": newFakeClient(),
	})

	ctx := context.Background()
	v, err := m.Increment(ctx, "visits:page-A", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = m.Increment(ctx, "visits:page-A", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	res, err := m.Get(ctx, "visits:page-A")
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Value)
}

func TestManager_GetMissingKeyIsZeroNotError(t *testing.T) {
	m := newTestManager(t, map[string]*fakeClient{"s1": newFakeClient()})

	res, err := m.Get(context.Background(), "visits:never-seen")
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Value)
}

func TestManager_RetryThenSucceed(t *testing.T) {
	fc := newFakeClient()
	fc.failIncr = 2 // fails twice, succeeds on third attempt

	m := newTestManager(t, map[string]*fakeClient{"s1": fc})

	v, err := m.Increment(context.Background(), "visits:page-A", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)
}

func TestManager_RetryExhaustionFails(t *testing.T) {
	fc := newFakeClient()
	fc.failIncr = 100 // always fails

	m := newTestManager(t, map[string]*fakeClient{"s1": fc})

	_, err := m.Increment(context.Background(), "visits:page-A", 1)
	assert.ErrorIs(t, err, ErrShardUnavailable)
}

func TestManager_FallbackOnUnhealthyShard(t *testing.T) {
	m := newTestManager(t, map[string]*fakeClient{
		"s1": newFakeClient(),
		"s2": newFakeClient(),
		"s3": newFakeClient(),
	})

	shard, err := m.ring.Route("visits:page-A")
	require.NoError(t, err)

	// Mark the routed shard unhealthy directly; the fallback chain should
	// still find a healthy shard.
	m.healthMu.Lock()
	m.health[shard] = false
	m.healthMu.Unlock()

	v, err := m.Increment(context.Background(), "visits:page-A", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestManager_NoHealthyShardsFails(t *testing.T) {
	m := newTestManager(t, map[string]*fakeClient{
		"s1": newFakeClient(),
		"s2": newFakeClient(),
	})

	m.healthMu.Lock()
	for shard := range m.health {
		m.health[shard] = false
	}
	m.healthMu.Unlock()

	_, err := m.Increment(context.Background(), "visits:page-A", 1)
	assert.ErrorIs(t, err, ErrNoHealthyShards)
}

func TestManager_MGetGroupsByShardAndToleratesFailure(t *testing.T) {
	good := newFakeClient()
	bad := newFakeClient()

	m := newTestManager(t, map[string]*fakeClient{"s1": good, "s2": bad})

	ctx := context.Background()
	_, err := m.Increment(ctx, "visits:a", 3)
	require.NoError(t, err)
	_, err = m.Increment(ctx, "visits:b", 7)
	require.NoError(t, err)

	bad.mu.Lock()
	bad.mgetErr = errors.New("down")
	bad.mu.Unlock()

	results, err := m.MGet(ctx, []string{"visits:a", "visits:b"})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestManager_Reset(t *testing.T) {
	m := newTestManager(t, map[string]*fakeClient{"s1": newFakeClient()})
	ctx := context.Background()

	_, err := m.Increment(ctx, "visits:page-B", 5)
	require.NoError(t, err)

	existed, err := m.Reset(ctx, "visits:page-B")
	require.NoError(t, err)
	assert.True(t, existed)

	res, err := m.Get(ctx, "visits:page-B")
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Value)

	existed, err = m.Reset(ctx, "visits:page-B")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestManager_Status(t *testing.T) {
	m := newTestManager(t, map[string]*fakeClient{
		"s1": newFakeClient(),
		"s2": newFakeClient(),
	})

	status := m.Status()
	assert.Equal(t, 2, status.Shards)
	assert.Equal(t, 2, status.HealthyShards)
	assert.Len(t, status.Distribution, 2)
}

func TestManager_ProbeLoopFlipsHealthAndNotifies(t *testing.T) {
	fc := newFakeClient()
	var transitions []bool
	var mu sync.Mutex

	clients := map[string]shardclient.Client{"s1": fc}
	m := newWithClients(Config{
		VirtualNodes:  10,
		ProbeInterval: 10 * time.Millisecond,
		OnHealthChange: func(shard string, healthy bool) {
			mu.Lock()
			defer mu.Unlock()
			transitions = append(transitions, healthy)
		},
	}, nil, clients)
	defer m.Shutdown()

	fc.mu.Lock()
	fc.pingErr = errors.New("simulated outage")
	fc.mu.Unlock()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(transitions) >= 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.False(t, transitions[0])
	mu.Unlock()
}

func TestNew_RequiresAtLeastOneShard(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.Error(t, err)
}

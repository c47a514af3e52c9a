// Package shardmgr owns the consistent-hash ring together with one shard
// client per backing shard, routes operations to the right shard with
// unhealthy-shard fallback, retries transient failures, and runs the
// periodic health probe.
package shardmgr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gourl/gourl/internal/metrics"
	"github.com/gourl/gourl/internal/ring"
	"github.com/gourl/gourl/internal/shardclient"
	"github.com/gourl/gourl/pkg/logger"
)

// Errors returned by Manager operations.
var (
	ErrShardUnavailable = errors.New("shardmgr: shard unavailable after retries")
	ErrNoHealthyShards  = errors.New("shardmgr: no healthy shards available")
)

// retryBackoffUnit is the per-attempt backoff multiplier (spec: 0.1*attempt
// seconds).
const retryBackoffUnit = 100 * time.Millisecond

// Config configures a Manager.
type Config struct {
	ShardURLs     []string
	VirtualNodes  int
	RetryAttempts int
	ShardTimeout  time.Duration
	PoolSize      int
	ProbeInterval time.Duration

	// OnHealthChange, if set, is invoked from the probe loop on every
	// health-bit transition. Used to feed the durable shard registry.
	OnHealthChange func(shard string, healthy bool)
}

// Result is a value paired with the shard it came from.
type Result struct {
	Value int64
	Shard string
}

// Status is a snapshot of the shard manager's routing state.
type Status struct {
	Shards        int
	HealthyShards int
	Health        map[string]bool
	Distribution  map[string]int
}

// Manager routes keyed operations to shards via the ring, retrying
// transient failures and falling back around unhealthy shards.
type Manager struct {
	cfg     Config
	log     *logger.Logger
	ring    *ring.Ring
	clients map[string]shardclient.Client

	healthMu sync.RWMutex
	health   map[string]bool

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New constructs a Manager: it builds the ring, establishes one client per
// shard URL, seeds health to true (construction only fails on a malformed
// URL; the client itself dials lazily), and starts the health-probe loop.
func New(cfg Config, log *logger.Logger) (*Manager, error) {
	if len(cfg.ShardURLs) == 0 {
		return nil, fmt.Errorf("shardmgr: at least one shard url is required")
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.ShardTimeout <= 0 {
		cfg.ShardTimeout = 5 * time.Second
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 30 * time.Second
	}

	m := &Manager{
		cfg:     cfg,
		log:     log,
		ring:    ring.New(cfg.VirtualNodes),
		clients: make(map[string]shardclient.Client, len(cfg.ShardURLs)),
		health:  make(map[string]bool, len(cfg.ShardURLs)),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	for _, url := range cfg.ShardURLs {
		client, err := shardclient.New(url, cfg.PoolSize, cfg.ShardTimeout)
		if err != nil {
			for _, c := range m.clients {
				_ = c.Close()
			}
			return nil, fmt.Errorf("shardmgr: failed to construct client for %s: %w", url, err)
		}
		m.clients[url] = client
		m.health[url] = true
		m.ring.Add(url)
		metrics.SetShardHealth(url, true)
	}

	go m.probeLoop()
	return m, nil
}

// newWithClients builds a Manager from already-constructed clients,
// bypassing shardclient.New. Used by tests to inject fakes.
func newWithClients(cfg Config, log *logger.Logger, clients map[string]shardclient.Client) *Manager {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.ShardTimeout <= 0 {
		cfg.ShardTimeout = 5 * time.Second
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 30 * time.Second
	}

	m := &Manager{
		cfg:     cfg,
		log:     log,
		ring:    ring.New(cfg.VirtualNodes),
		clients: clients,
		health:  make(map[string]bool, len(clients)),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	for shard := range clients {
		m.health[shard] = true
		m.ring.Add(shard)
	}

	go m.probeLoop()
	return m
}

// route resolves key to a healthy shard, following the fallback chain
// (hashing "fallback_"+shard iteratively) when the primarily routed shard
// is unhealthy.
func (m *Manager) route(key string) (string, error) {
	shard, err := m.ring.Route(key)
	if err != nil {
		return "", err
	}
	if m.isHealthy(shard) {
		return shard, nil
	}

	metrics.RecordFallbackRoute()
	candidate := shard
	for i := 0; i < len(m.ring.Shards()); i++ {
		candidate, err = m.ring.Route("fallback_" + candidate)
		if err != nil {
			return "", err
		}
		if m.isHealthy(candidate) {
			return candidate, nil
		}
	}
	return "", ErrNoHealthyShards
}

func (m *Manager) isHealthy(shard string) bool {
	m.healthMu.RLock()
	defer m.healthMu.RUnlock()
	return m.health[shard]
}

// Increment routes key, incrementing it by delta on the owning shard, and
// retries transient failures up to cfg.RetryAttempts times with linear
// backoff.
func (m *Manager) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	shard, err := m.route(key)
	if err != nil {
		return 0, err
	}

	var lastErr error
	for attempt := 1; attempt <= m.cfg.RetryAttempts; attempt++ {
		v, err := m.clients[shard].Incr(ctx, key, delta)
		if err == nil {
			return v, nil
		}
		lastErr = err
		metrics.RecordShardRetry(shard)
		if attempt < m.cfg.RetryAttempts {
			if sleepErr := sleepCtx(ctx, time.Duration(attempt)*retryBackoffUnit); sleepErr != nil {
				return 0, sleepErr
			}
		}
	}
	return 0, fmt.Errorf("%w: %v", ErrShardUnavailable, lastErr)
}

// Get routes key and returns its current value. A missing key yields 0,
// not an error.
func (m *Manager) Get(ctx context.Context, key string) (Result, error) {
	shard, err := m.route(key)
	if err != nil {
		return Result{}, err
	}

	var lastErr error
	for attempt := 1; attempt <= m.cfg.RetryAttempts; attempt++ {
		v, err := m.clients[shard].Get(ctx, key)
		if err == nil {
			return Result{Value: v, Shard: shard}, nil
		}
		lastErr = err
		metrics.RecordShardRetry(shard)
		if attempt < m.cfg.RetryAttempts {
			if sleepErr := sleepCtx(ctx, time.Duration(attempt)*retryBackoffUnit); sleepErr != nil {
				return Result{}, sleepErr
			}
		}
	}
	return Result{}, fmt.Errorf("%w: %v", ErrShardUnavailable, lastErr)
}

// MGet groups keys by routed shard and issues one MGet per shard in
// parallel. A shard-level failure yields 0 for each of that shard's keys
// rather than failing the whole call; callers are assumed tolerant of
// best-effort results in the batch path.
func (m *Manager) MGet(ctx context.Context, keys []string) (map[string]Result, error) {
	groups := make(map[string][]string)
	for _, k := range keys {
		shard, err := m.route(k)
		if err != nil {
			return nil, err
		}
		groups[shard] = append(groups[shard], k)
	}

	results := make(map[string]Result, len(keys))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for shard, shardKeys := range groups {
		shard, shardKeys := shard, shardKeys
		g.Go(func() error {
			vals, err := m.clients[shard].MGet(gctx, shardKeys)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if m.log != nil {
					m.log.Error("mget shard failure", "shard", shard, "error", err.Error())
				}
				for _, k := range shardKeys {
					results[k] = Result{Value: 0, Shard: shard}
				}
				return nil
			}
			for i, k := range shardKeys {
				results[k] = Result{Value: vals[i], Shard: shard}
			}
			return nil
		})
	}
	_ = g.Wait() // per-shard errors are absorbed above, never propagated
	return results, nil
}

// Reset deletes key on its routed shard and reports whether it previously
// existed.
func (m *Manager) Reset(ctx context.Context, key string) (bool, error) {
	shard, err := m.route(key)
	if err != nil {
		return false, err
	}
	existed, err := m.clients[shard].Del(ctx, key)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrShardUnavailable, err)
	}
	return existed, nil
}

// Status reports the current shard count, health map, and ring
// distribution.
func (m *Manager) Status() Status {
	m.healthMu.RLock()
	health := make(map[string]bool, len(m.health))
	healthy := 0
	for k, v := range m.health {
		health[k] = v
		if v {
			healthy++
		}
	}
	m.healthMu.RUnlock()

	return Status{
		Shards:        len(health),
		HealthyShards: healthy,
		Health:        health,
		Distribution:  m.ring.Distribution(),
	}
}

// Shutdown stops the health-probe loop and closes every shard client.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		<-m.doneCh
		for _, c := range m.clients {
			_ = c.Close()
		}
	})
}

func (m *Manager) probeLoop() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.probeOnce()
		}
	}
}

// probeOnce pings every shard once and flips health bits on edge
// transitions, logging and notifying OnHealthChange each time.
func (m *Manager) probeOnce() {
	for shard, client := range m.clients {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ShardTimeout)
		err := client.Ping(ctx)
		cancel()
		healthy := err == nil

		m.healthMu.Lock()
		prev := m.health[shard]
		m.health[shard] = healthy
		m.healthMu.Unlock()

		if prev == healthy {
			continue
		}

		if m.log != nil {
			if healthy {
				m.log.Info("shard back online", "shard", shard)
			} else {
				m.log.Error("shard marked unhealthy", "shard", shard, "error", errString(err))
			}
		}
		metrics.SetShardHealth(shard, healthy)
		if m.cfg.OnHealthChange != nil {
			m.cfg.OnHealthChange(shard, healthy)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

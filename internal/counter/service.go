// Package counter orchestrates the visit-counter read/write path: the
// write buffer, the read cache, and the shard manager behind them. It is
// the only component callers (HTTP handlers) talk to.
package counter

import (
	"context"
	"fmt"
	"time"

	"github.com/gourl/gourl/internal/buffer"
	"github.com/gourl/gourl/internal/metrics"
	"github.com/gourl/gourl/internal/readcache"
	"github.com/gourl/gourl/internal/shardmgr"
	"github.com/gourl/gourl/pkg/logger"
)

const keyPrefix = "visits:"

// ShardManager is the capability the service routes increments, reads,
// and resets through. *shardmgr.Manager satisfies this.
type ShardManager interface {
	Increment(ctx context.Context, key string, delta int64) (int64, error)
	Get(ctx context.Context, key string) (shardmgr.Result, error)
	MGet(ctx context.Context, keys []string) (map[string]shardmgr.Result, error)
	Reset(ctx context.Context, key string) (bool, error)
	Status() shardmgr.Status
}

// Source identifies where a Get's value was resolved from.
type Source string

const (
	SourceInMemory    Source = "in_memory"
	SourceWriteBuffer Source = "write_buffer"
	SourceShardPrefix Source = "redis_"
)

// Status is the orchestration-level snapshot returned by the status
// operation. It deliberately carries no hit/miss counters — those are
// Prometheus series, not part of this data model.
type Status struct {
	Healthy       bool
	Shards        shardmgr.Status
	BufferSize    int
	CacheSize     int
	LastFlushTime time.Time
}

// Service is the visit-counter orchestration service.
type Service struct {
	shards ShardManager
	buf    *buffer.Buffer
	cache  *readcache.Cache
	log    *logger.Logger
}

// New wires a Service around an already-constructed shard manager, write
// buffer, and read cache. All three are expected to already be running
// their own background loops.
func New(shards ShardManager, buf *buffer.Buffer, cache *readcache.Cache, log *logger.Logger) *Service {
	return &Service{shards: shards, buf: buf, cache: cache, log: log}
}

// Increment records one visit for pageID. It never touches the shard
// directly: the delta lands in the write buffer, and any cached value for
// the key is invalidated so the next Get is forced to reconcile with the
// buffer.
func (s *Service) Increment(ctx context.Context, pageID string) error {
	s.buf.Enqueue(pageID)
	s.cache.Invalidate(keyPrefix + pageID)
	metrics.RecordIncrement()
	return nil
}

// Get returns the current visit count for pageID along with the source it
// was resolved from. A shard failure degrades to the write buffer's view
// rather than returning an error, so callers always get a usable count.
func (s *Service) Get(ctx context.Context, pageID string) (int64, Source, error) {
	cacheKey := keyPrefix + pageID

	if v, ok := s.cache.Lookup(cacheKey); ok {
		metrics.RecordCacheHit()
		metrics.RecordRead(string(SourceInMemory))
		return v, SourceInMemory, nil
	}
	metrics.RecordCacheMiss()

	// Force a synchronous flush so the shard reflects buffered increments
	// before we read it, then re-check the buffer for anything that
	// arrived after the snapshot was taken.
	s.buf.Flush(ctx)

	res, err := s.shards.Get(ctx, cacheKey)
	if err != nil {
		if s.log != nil {
			s.log.Error("get degraded to write buffer", "page_id", pageID, "error", err.Error())
		}
		v := s.buf.Pending(pageID)
		metrics.RecordRead(string(SourceWriteBuffer))
		return v, SourceWriteBuffer, nil
	}

	count := res.Value + s.buf.Pending(pageID)
	s.cache.Insert(cacheKey, count)

	source := Source(fmt.Sprintf("%s%s", SourceShardPrefix, res.Shard))
	metrics.RecordRead(string(source))
	return count, source, nil
}

// Reset clears pageID's buffered delta, its cache entry, and its value on
// the owning shard, reporting whether it previously existed.
func (s *Service) Reset(ctx context.Context, pageID string) (bool, error) {
	cacheKey := keyPrefix + pageID

	s.cache.Invalidate(cacheKey)
	s.buf.Delete(pageID)

	existed, err := s.shards.Reset(ctx, cacheKey)
	if err != nil {
		return false, fmt.Errorf("counter: reset failed for %s: %w", pageID, err)
	}
	return existed, nil
}

// Status reports the current health of the service's shard layer together
// with buffer and cache occupancy.
func (s *Service) Status(ctx context.Context) Status {
	shardStatus := s.shards.Status()
	return Status{
		Healthy:       shardStatus.HealthyShards > 0,
		Shards:        shardStatus,
		BufferSize:    s.buf.Size(),
		CacheSize:     s.cache.Size(),
		LastFlushTime: s.buf.LastFlushTime(),
	}
}

package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler(t *testing.T) {
	handler := Handler()
	require.NotNil(t, handler)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "counter_cache_hits_total")
}

func TestRecordRequest(t *testing.T) {
	RecordRequest("GET", "/api/v1/status", 200, 100*time.Millisecond)
	RecordRequest("POST", "/api/v1/counter/page-A", 202, 50*time.Millisecond)
	RecordRequest("GET", "/other", 404, 10*time.Millisecond)
}

func TestRecordRateLimited(t *testing.T) {
	RecordRateLimited()
}

func TestRecordIncrement(t *testing.T) {
	RecordIncrement()
}

func TestRecordRead(t *testing.T) {
	RecordRead("in_memory")
	RecordRead("redis_redis://shard-a")
}

func TestRecordCacheHitAndMiss(t *testing.T) {
	RecordCacheHit()
	RecordCacheMiss()
}

func TestSetBufferSize(t *testing.T) {
	SetBufferSize(3)
	SetBufferSize(0)
}

func TestRecordFlushDuration(t *testing.T) {
	RecordFlushDuration(5 * time.Millisecond)
}

func TestSetShardHealth(t *testing.T) {
	SetShardHealth("redis://shard-a", true)
	SetShardHealth("redis://shard-a", false)
}

func TestRecordShardRetry(t *testing.T) {
	RecordShardRetry("redis://shard-a")
}

func TestRecordFallbackRoute(t *testing.T) {
	RecordFallbackRoute()
}

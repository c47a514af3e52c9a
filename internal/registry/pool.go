// Package registry persists durable, metadata-only bookkeeping about the
// shard topology: which shard URLs are members of the ring, and an
// append-only log of health transitions observed by the shard manager's
// probe loop. It never sits on the counter hot path — increment, get, and
// reset never wait on it, and it never opens a transaction spanning more
// than one shard's worth of state.
package registry

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool wraps pgxpool.Pool with the lifecycle helpers the registry needs.
type Pool struct {
	*pgxpool.Pool
}

// NewPool opens a connection pool against dsn and verifies connectivity.
func NewPool(ctx context.Context, dsn string, maxConns int32) (*Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("registry: failed to parse dsn: %w", err)
	}
	if maxConns > 0 {
		poolConfig.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("registry: failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("registry: failed to ping: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// HealthCheck verifies the registry database connection is healthy.
func (p *Pool) HealthCheck(ctx context.Context) error {
	return p.Ping(ctx)
}

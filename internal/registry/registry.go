package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// HealthEvent is a single recorded health transition for a shard.
type HealthEvent struct {
	ID         uuid.UUID
	ShardURL   string
	Healthy    bool
	ObservedAt time.Time
}

// Registry persists shard membership and the health-transition audit log.
// Every method is best-effort bookkeeping: failures here are logged by
// callers and never block a counter operation.
type Registry struct {
	pool *Pool
}

// New wraps pool in a Registry. Callers should call Migrate once at
// startup before using it.
func New(pool *Pool) *Registry {
	return &Registry{pool: pool}
}

// Migrate applies the registry's schema.
func (r *Registry) Migrate(ctx context.Context) error {
	_, err := NewMigrator(r.pool).Up(ctx)
	return err
}

// RecordShard inserts shardURL into the membership table if it is not
// already there. It never removes other rows: shards that are no longer
// configured stay recorded until RemoveShard is called for them.
func (r *Registry) RecordShard(ctx context.Context, shardURL string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO shard_members (shard_url) VALUES ($1)
		ON CONFLICT (shard_url) DO NOTHING
	`, shardURL)
	if err != nil {
		return fmt.Errorf("registry: failed to record shard %s: %w", shardURL, err)
	}
	return nil
}

// RemoveShard deletes shardURL from the membership table.
func (r *Registry) RemoveShard(ctx context.Context, shardURL string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM shard_members WHERE shard_url = $1`, shardURL)
	if err != nil {
		return fmt.Errorf("registry: failed to remove shard %s: %w", shardURL, err)
	}
	return nil
}

// Members returns every shard URL currently recorded as a ring member.
func (r *Registry) Members(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT shard_url FROM shard_members ORDER BY shard_url`)
	if err != nil {
		return nil, fmt.Errorf("registry: failed to list members: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, err
		}
		members = append(members, url)
	}
	return members, rows.Err()
}

// RecordHealthEvent appends a health transition to the audit log. Meant to
// be wired as a shardmgr.Config.OnHealthChange callback.
func (r *Registry) RecordHealthEvent(ctx context.Context, shardURL string, healthy bool) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO shard_health_events (id, shard_url, healthy) VALUES ($1, $2, $3)
	`, uuid.New(), shardURL, healthy)
	if err != nil {
		return fmt.Errorf("registry: failed to record health event for %s: %w", shardURL, err)
	}
	return nil
}

// RecentHealthEvents returns the most recent health events, newest first,
// bounded by limit.
func (r *Registry) RecentHealthEvents(ctx context.Context, limit int) ([]HealthEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, shard_url, healthy, observed_at
		FROM shard_health_events
		ORDER BY observed_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("registry: failed to list health events: %w", err)
	}
	defer rows.Close()

	var events []HealthEvent
	for rows.Next() {
		var e HealthEvent
		if err := rows.Scan(&e.ID, &e.ShardURL, &e.Healthy, &e.ObservedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

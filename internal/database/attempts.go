package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AttemptCache counts ingestion attempts per protocol://ip:port key. With a
// zero TTL counters never expire.
type AttemptCache struct {
	db  *DB
	ttl time.Duration
}

// NewAttemptCache creates an attempt counter store.
func NewAttemptCache(db *DB, ttl time.Duration) *AttemptCache {
	return &AttemptCache{db: db, ttl: ttl}
}

// expiredBefore returns the instant before which a counter is considered
// reset. The zero time never matches.
func (c *AttemptCache) expiredBefore() time.Time {
	if c.ttl <= 0 {
		return time.Time{}
	}
	return Now().Add(-c.ttl)
}

// Attempts returns the current attempt count for key.
func (c *AttemptCache) Attempts(ctx context.Context, key string) (int, error) {
	var attempts int
	var updatedAt time.Time
	err := c.db.QueryRowContext(ctx,
		`SELECT attempts, updated_at FROM ingest_attempts WHERE cache_key = ?`, key,
	).Scan(&attempts, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read attempts for %s: %w", key, err)
	}

	if c.ttl > 0 && updatedAt.Before(c.expiredBefore()) {
		return 0, nil
	}
	return attempts, nil
}

// Incr records one attempt for key and returns the new count.
func (c *AttemptCache) Incr(ctx context.Context, key string) (int, error) {
	var attempts int
	err := c.db.QueryRowContext(ctx, `
		INSERT INTO ingest_attempts (cache_key, attempts, updated_at)
		VALUES (?, 1, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			attempts = CASE WHEN ingest_attempts.updated_at < ? THEN 1 ELSE ingest_attempts.attempts + 1 END,
			updated_at = excluded.updated_at
		RETURNING attempts`,
		key, Now(), c.expiredBefore(),
	).Scan(&attempts)
	if err != nil {
		return 0, fmt.Errorf("failed to record attempt for %s: %w", key, err)
	}
	return attempts, nil
}

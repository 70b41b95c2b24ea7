package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrLimitExceeded is returned when a device has used up its window quota.
var ErrLimitExceeded = errors.New("rate limit exceeded")

// DB interface for database operations
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// RateLimiter provides PostgreSQL-based rate limiting with sliding window
type RateLimiter struct {
	db     DB
	window time.Duration
}

// NewRateLimiter creates a new rate limiter with sliding window
func NewRateLimiter(db *pgxpool.Pool, window time.Duration) *RateLimiter {
	return &RateLimiter{
		db:     db,
		window: window,
	}
}

// NewRateLimiterWithDB creates a rate limiter with custom DB interface
func NewRateLimiterWithDB(db DB, window time.Duration) *RateLimiter {
	return &RateLimiter{
		db:     db,
		window: window,
	}
}

// CheckIngestLimit checks if a device has exceeded its ingest rate limit.
// Returns error if limit exceeded, nil otherwise
func (r *RateLimiter) CheckIngestLimit(ctx context.Context, deviceID string, limit int) error {
	if limit <= 0 {
		return nil // No limit configured
	}

	now := time.Now()
	windowStart := now.Add(-r.window)
	key := fmt.Sprintf("ingest_rate:%s", deviceID)

	// Use ON CONFLICT to atomically increment or insert counter
	query := `
		WITH current_count AS (
			INSERT INTO rate_limit_counters (key, count, window_start, window_end, device_id)
			VALUES ($1, 1, $2, $3, $4)
			ON CONFLICT (key)
			DO UPDATE SET
				count = CASE
					WHEN rate_limit_counters.window_end < $2 THEN 1
					ELSE rate_limit_counters.count + 1
				END,
				window_start = CASE
					WHEN rate_limit_counters.window_end < $2 THEN $2
					ELSE rate_limit_counters.window_start
				END,
				window_end = $3
			RETURNING count, window_start
		)
		SELECT count FROM current_count
	`

	var count int
	err := r.db.QueryRow(ctx, query, key, windowStart, now, deviceID).Scan(&count)
	if err != nil {
		return fmt.Errorf("check rate limit: %w", err)
	}

	if count > limit {
		return fmt.Errorf("%w: %d/%d requests in window", ErrLimitExceeded, count, limit)
	}

	return nil
}

// CleanupExpired removes expired rate limit counters (run via cron)
func (r *RateLimiter) CleanupExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM rate_limit_counters WHERE window_end < NOW() - INTERVAL '1 hour'`
	result, err := r.db.Exec(ctx, query)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

// ResetLimit resets the rate limit for a device (admin operation)
func (r *RateLimiter) ResetLimit(ctx context.Context, deviceID string) error {
	key := fmt.Sprintf("ingest_rate:%s", deviceID)
	query := `DELETE FROM rate_limit_counters WHERE key = $1`
	_, err := r.db.Exec(ctx, query, key)
	return err
}

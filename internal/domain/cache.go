package domain

import (
	"context"
	"time"
)

// Cache is the caching surface used by the API layer: raw tenant-scoped
// key/value entries, typed run summary caching, and windowed counters for
// ingest accounting. The Community tier runs an in-process LRU, Pro runs
// Redis or a two-phase LRU-over-Redis combination.
type Cache interface {
	// Get retrieves a value; a miss returns nil with no error.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a value with an expiry.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value.
	Delete(ctx context.Context, tenantID string, key string) error

	// GetSummary retrieves a cached value tier summary for a run.
	GetSummary(ctx context.Context, tenantID string, runID string) ([]CLVSummaryRow, error)

	// SetSummary caches a run's summary so repeated reads skip the
	// score table.
	SetSummary(ctx context.Context, tenantID string, runID string, rows []CLVSummaryRow, ttl time.Duration) error

	// IncrementCounter bumps a windowed counter and returns the new
	// count; an elapsed window restarts at 1.
	IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig selects and configures the cache implementation.
type CacheConfig struct {
	// Type is "memory" or "redis".
	Type string

	// Local LRU settings; also the L1 of the two-phase cache.
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (Pro tier).
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// EnableTwoPhase layers the local LRU over Redis.
	EnableTwoPhase bool
}

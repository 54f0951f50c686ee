package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

// New builds the configured cache: in-process LRU for the Community tier,
// Redis for Pro, or the two-phase combination when enabled.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil
	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// TwoPhaseCache layers a short-lived local LRU over Redis. Reads prefer the
// local layer and backfill it on a Redis hit; writes go to both, the local
// copy capped at the local TTL.
type TwoPhaseCache struct {
	local    *LRUCache
	remote   *RedisCache
	localTTL time.Duration
}

// NewTwoPhaseCache creates the layered cache.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}

	localTTL := cfg.LocalTTL
	if localTTL == 0 {
		localTTL = 5 * time.Minute
	}

	return &TwoPhaseCache{
		local:    NewLRUCache(cfg.LocalMaxSize),
		remote:   remote,
		localTTL: localTTL,
	}, nil
}

// capTTL limits the local copy's lifetime to min(ttl, localTTL).
func (c *TwoPhaseCache) capTTL(ttl time.Duration) time.Duration {
	if ttl < c.localTTL {
		return ttl
	}
	return c.localTTL
}

// Get reads locally first, then from Redis, backfilling the local layer on
// a remote hit.
func (c *TwoPhaseCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if val, err := c.local.Get(ctx, tenantID, key); err != nil || val != nil {
		return val, err
	}

	val, err := c.remote.Get(ctx, tenantID, key)
	if err == nil && val != nil {
		_ = c.local.Set(ctx, tenantID, key, val, c.localTTL)
	}
	return val, err
}

// Set writes to both layers.
func (c *TwoPhaseCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if err := c.local.Set(ctx, tenantID, key, value, c.capTTL(ttl)); err != nil {
		return err
	}
	return c.remote.Set(ctx, tenantID, key, value, ttl)
}

// Delete removes from both layers.
func (c *TwoPhaseCache) Delete(ctx context.Context, tenantID string, key string) error {
	if err := c.local.Delete(ctx, tenantID, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, tenantID, key)
}

// GetSummary reads a run summary locally first, then from Redis.
func (c *TwoPhaseCache) GetSummary(ctx context.Context, tenantID string, runID string) ([]domain.CLVSummaryRow, error) {
	if rows, err := c.local.GetSummary(ctx, tenantID, runID); err != nil || rows != nil {
		return rows, err
	}

	rows, err := c.remote.GetSummary(ctx, tenantID, runID)
	if err == nil && rows != nil {
		_ = c.local.SetSummary(ctx, tenantID, runID, rows, c.localTTL)
	}
	return rows, err
}

// SetSummary writes a run summary to both layers.
func (c *TwoPhaseCache) SetSummary(ctx context.Context, tenantID string, runID string, rows []domain.CLVSummaryRow, ttl time.Duration) error {
	if err := c.local.SetSummary(ctx, tenantID, runID, rows, c.capTTL(ttl)); err != nil {
		return err
	}
	return c.remote.SetSummary(ctx, tenantID, runID, rows, ttl)
}

// IncrementCounter always counts in Redis; a local counter would diverge
// across nodes.
func (c *TwoPhaseCache) IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error) {
	return c.remote.IncrementCounter(ctx, tenantID, key, window)
}

// Ping checks both layers.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("local cache ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close closes both layers.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats reports the local layer's size and capacity.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}

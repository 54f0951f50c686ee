package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opensource-finance/heron/internal/domain"
)

// incrScript bumps a counter and arms its expiry only on the first
// increment, so the window starts when the counter does.
var incrScript = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return current
`)

// RedisCache is the Pro tier cache and the L2 of the two-phase cache. Keys
// are prefixed heron:<tenant>: so a shared Redis can serve many tenants.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

func redisKey(tenantID, key string) string {
	return "heron:" + tenantID + ":" + key
}

// Get retrieves a value; a miss returns nil with no error.
func (c *RedisCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	val, err := c.client.Get(ctx, redisKey(tenantID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return val, err
}

// Set stores a value with a TTL.
func (c *RedisCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}
	return c.client.Set(ctx, redisKey(tenantID, key), value, ttl).Err()
}

// Delete removes a value.
func (c *RedisCache) Delete(ctx context.Context, tenantID string, key string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}
	return c.client.Del(ctx, redisKey(tenantID, key)).Err()
}

// GetSummary retrieves a cached value tier summary for a run.
func (c *RedisCache) GetSummary(ctx context.Context, tenantID string, runID string) ([]domain.CLVSummaryRow, error) {
	data, err := c.Get(ctx, tenantID, "summary:"+runID)
	if err != nil || data == nil {
		return nil, err
	}

	var rows []domain.CLVSummaryRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// SetSummary caches a run's value tier summary.
func (c *RedisCache) SetSummary(ctx context.Context, tenantID string, runID string, rows []domain.CLVSummaryRow, ttl time.Duration) error {
	data, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	return c.Set(ctx, tenantID, "summary:"+runID, data, ttl)
}

// IncrementCounter bumps a windowed counter atomically and returns the new
// count.
func (c *RedisCache) IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("tenantID is required")
	}

	fullKey := redisKey(tenantID, "counter:"+key)
	return incrScript.Run(ctx, c.client, []string{fullKey}, window.Milliseconds()).Int64()
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

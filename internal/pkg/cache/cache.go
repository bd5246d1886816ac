// Package cache provides the Redis-backed fast layer: the per-user daily
// spin lock, the request rate counter and the per-day usage aggregates.
// All state lives in Redis with explicit per-key expiry, so every service
// instance observes the same locks and counters.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"spin-campaign-service/internal/config"
)

// Cache wraps the shared Redis client used by the allocation engine.
type Cache struct {
	client *redis.Client
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg *config.RedisConfig) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	log.Info().Str("addr", cfg.Addr()).Int("db", cfg.DB).Msg("Connected to Redis")

	return &Cache{client: client}, nil
}

// Close closes the underlying Redis client.
func (c *Cache) Close() error {
	return c.client.Close()
}

// IncrRate increments a rate-limit counter and arms its expiry on first
// use. Returns the counter value after the increment.
func (c *Cache) IncrRate(ctx context.Context, key string, window time.Duration) (int64, error) {
	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment rate counter: %w", err)
	}
	if count == 1 {
		if err := c.client.Expire(ctx, key, window).Err(); err != nil {
			return 0, fmt.Errorf("failed to expire rate counter: %w", err)
		}
	}
	return count, nil
}

// AcquireDailyLock sets the per-user daily spin marker with set-if-absent
// semantics. Returns false when the marker already exists.
func (c *Cache) AcquireDailyLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire daily lock: %w", err)
	}
	return ok, nil
}

// ReleaseDailyLock deletes the per-user daily spin marker so a legitimate
// retry is not blocked by a transient failure.
func (c *Cache) ReleaseDailyLock(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to release daily lock: %w", err)
	}
	return nil
}

// RecordUsage bumps the per-day usage hash for a reward. The hash feeds
// admin dashboards only; the durable counters remain the source of truth.
func (c *Cache) RecordUsage(ctx context.Context, dayKey, rewardID string, ttl time.Duration) error {
	key := usageKey(dayKey)
	pipe := c.client.TxPipeline()
	pipe.HIncrBy(ctx, key, rewardID, 1)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// UsageForDay reads the per-reward usage aggregates for a day.
func (c *Cache) UsageForDay(ctx context.Context, dayKey string) (map[string]int64, error) {
	raw, err := c.client.HGetAll(ctx, usageKey(dayKey)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read usage hash: %w", err)
	}
	usage := make(map[string]int64, len(raw))
	for rewardID, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse usage for %s: %w", rewardID, err)
		}
		usage[rewardID] = n
	}
	return usage, nil
}

// ClearDay removes the usage hash of a finished campaign day.
func (c *Cache) ClearDay(ctx context.Context, dayKey string) error {
	if err := c.client.Del(ctx, usageKey(dayKey)).Err(); err != nil {
		return fmt.Errorf("failed to clear day %s: %w", dayKey, err)
	}
	return nil
}

func usageKey(dayKey string) string {
	return "rw:" + dayKey
}

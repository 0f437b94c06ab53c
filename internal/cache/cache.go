package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/therealutkarshpriyadarshi/transcribe/pkg/models"
)

// Cache provides caching functionality using Redis
type Cache struct {
	client *redis.Client
}

// NewCache creates a new cache instance
func NewCache(host string, port int, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Usage Summary Cache Operations

func usageKey(userID int64) string {
	return fmt.Sprintf("usage:summary:%d", userID)
}

// SetUsageSummary caches a user's usage report
func (c *Cache) SetUsageSummary(ctx context.Context, summary *models.UsageSummary, ttl time.Duration) error {
	return c.SetWithJSON(ctx, usageKey(summary.UserID), summary, ttl)
}

// GetUsageSummary retrieves a cached usage report. A miss returns nil, nil.
func (c *Cache) GetUsageSummary(ctx context.Context, userID int64) (*models.UsageSummary, error) {
	var summary models.UsageSummary
	found, err := c.getJSON(ctx, usageKey(userID), &summary)
	if err != nil || !found {
		return nil, err
	}
	return &summary, nil
}

// DeleteUsageSummary invalidates a cached usage report
func (c *Cache) DeleteUsageSummary(ctx context.Context, userID int64) error {
	return c.client.Del(ctx, usageKey(userID)).Err()
}

// Job Status Cache Operations

func jobKey(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}

// SetJobResult caches the latest status of a transcription job
func (c *Cache) SetJobResult(ctx context.Context, result *models.JobResult, ttl time.Duration) error {
	return c.SetWithJSON(ctx, jobKey(result.JobID), result, ttl)
}

// GetJobResult retrieves a job status. A miss returns nil, nil.
func (c *Cache) GetJobResult(ctx context.Context, jobID string) (*models.JobResult, error) {
	var result models.JobResult
	found, err := c.getJSON(ctx, jobKey(jobID), &result)
	if err != nil || !found {
		return nil, err
	}
	return &result, nil
}

// Stats Cache Operations

// StatRetries counts jobs sent back for another attempt
const StatRetries = "retries"

// OutcomeStat is the counter for jobs that ended with code
func OutcomeStat(code string) string {
	return "outcome:" + code
}

// IncrementStat increments a statistic counter
func (c *Cache) IncrementStat(ctx context.Context, stat string) error {
	key := fmt.Sprintf("stats:%s", stat)
	return c.client.Incr(ctx, key).Err()
}

// GetStat retrieves a statistic value
func (c *Cache) GetStat(ctx context.Context, stat string) (int64, error) {
	key := fmt.Sprintf("stats:%s", stat)
	v, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

// Rate Limiting Operations

// CheckRateLimit checks if a rate limit has been exceeded
func (c *Cache) CheckRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (bool, error) {
	rateLimitKey := fmt.Sprintf("ratelimit:%s", key)

	// Increment counter
	count, err := c.client.Incr(ctx, rateLimitKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	// Set expiry on first request
	if count == 1 {
		if err := c.client.Expire(ctx, rateLimitKey, window).Err(); err != nil {
			return false, fmt.Errorf("failed to set expiry: %w", err)
		}
	}

	// Check if limit exceeded
	return count <= limit, nil
}

// Locking Operations for Distributed Systems

// AcquireLock attempts to acquire a distributed lock
func (c *Cache) AcquireLock(ctx context.Context, resource string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("lock:%s", resource)
	return c.client.SetNX(ctx, key, "locked", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Cache) ReleaseLock(ctx context.Context, resource string) error {
	key := fmt.Sprintf("lock:%s", resource)
	return c.client.Del(ctx, key).Err()
}

// SetWithJSON sets a value with JSON marshaling
func (c *Cache) SetWithJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

func (c *Cache) getJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil // Cache miss
		}
		return false, fmt.Errorf("failed to get value from cache: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal value: %w", err)
	}

	return true, nil
}

// Health check
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

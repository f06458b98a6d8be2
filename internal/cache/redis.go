package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DiffCache memoises raw provider diffs so back-to-back runs against the same
// ref skip the provider round trip. A nil *DiffCache is a valid no-op cache,
// so callers never branch on configuration.
type DiffCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// New connects to Redis. An empty addr returns a nil cache.
func New(addr, password string, ttl time.Duration, logger *slog.Logger) (*DiffCache, error) {
	if addr == "" {
		return nil, nil
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &DiffCache{client: client, ttl: ttl, logger: logger}, nil
}

func diffKey(projectID int64, kind, ref string) string {
	return fmt.Sprintf("codecrow:diff:%d:%s:%s", projectID, kind, ref)
}

// GetDiff returns the cached diff, or "" on a miss. Errors are logged and
// reported as misses.
func (c *DiffCache) GetDiff(ctx context.Context, projectID int64, kind, ref string) string {
	if c == nil {
		return ""
	}
	val, err := c.client.Get(ctx, diffKey(projectID, kind, ref)).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("diff cache read failed", "error", err)
		}
		return ""
	}
	return val
}

// PutDiff stores the diff under the (project, kind, ref) key. Best-effort.
func (c *DiffCache) PutDiff(ctx context.Context, projectID int64, kind, ref, diff string) {
	if c == nil || diff == "" {
		return
	}
	if err := c.client.Set(ctx, diffKey(projectID, kind, ref), diff, c.ttl).Err(); err != nil {
		c.logger.Warn("diff cache write failed", "error", err)
	}
}

// Close releases the Redis connection. Safe on a nil cache.
func (c *DiffCache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

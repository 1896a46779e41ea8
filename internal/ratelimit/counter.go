package ratelimit

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// Counter increments the hit count of key within a window of the given length
// and returns the new count.
type Counter interface {
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
}

// MemoryCounter keeps counts in a process-local fiber.Storage.
type MemoryCounter struct {
	mu      sync.Mutex
	storage fiber.Storage
}

func (c *MemoryCounter) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var count int64
	raw, err := c.storage.Get(key)
	if err != nil {
		return 0, err
	}
	if raw != nil {
		count, _ = strconv.ParseInt(string(raw), 10, 64)
	}
	count++
	err = c.storage.Set(key, []byte(strconv.FormatInt(count, 10)), window)
	return count, err
}

func NewMemoryCounter(storage fiber.Storage) *MemoryCounter {
	return &MemoryCounter{storage: storage}
}

// RedisCounter shares counts between instances.
type RedisCounter struct {
	rdb redis.UniversalClient
}

func (c *RedisCounter) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := c.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func NewRedisCounter(rdb redis.UniversalClient) *RedisCounter {
	return &RedisCounter{rdb: rdb}
}

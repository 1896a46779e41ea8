package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/storage/memory/v2"
	"github.com/redis/go-redis/v9"
)

func newMemoryLimiter(t *testing.T, limit int) *FixedWindow {
	t.Helper()
	storage := memory.New()
	t.Cleanup(func() { storage.Close() })
	return NewFixedWindow(NewMemoryCounter(storage), limit, time.Minute)
}

func TestFixedWindowLimit(t *testing.T) {
	limiter := newMemoryLimiter(t, 3)
	base := time.Date(2026, 3, 1, 10, 0, 5, 0, time.UTC)
	limiter.now = func() time.Time { return base }
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res, err := limiter.Allow(ctx, "10.0.0.1")
		if err != nil {
			t.Fatalf("Allow failed: %v", err)
		}
		if !res.Allowed || res.Count != int64(i) {
			t.Fatalf("hit %d: expected allowed, got %+v", i, res)
		}
	}
	res, err := limiter.Allow(ctx, "10.0.0.1")
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if res.Allowed {
		t.Fatal("expected fourth hit to be rejected")
	}
	if res.RetryAfter != 55*time.Second {
		t.Fatalf("expected retry after 55s, got %s", res.RetryAfter)
	}

	other, err := limiter.Allow(ctx, "10.0.0.2")
	if err != nil || !other.Allowed {
		t.Fatalf("other callers must have their own window: %+v (%v)", other, err)
	}

	limiter.now = func() time.Time { return base.Add(time.Minute) }
	res, err = limiter.Allow(ctx, "10.0.0.1")
	if err != nil || !res.Allowed || res.Count != 1 {
		t.Fatalf("expected a fresh window, got %+v (%v)", res, err)
	}
}

func TestRedisCounter(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	limiter := NewFixedWindow(NewRedisCounter(rdb), 2, time.Minute)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return base }
	ctx := context.Background()

	for range 2 {
		if res, err := limiter.Allow(ctx, "hook"); err != nil || !res.Allowed {
			t.Fatalf("expected allowed, got %+v (%v)", res, err)
		}
	}
	res, err := limiter.Allow(ctx, "hook")
	if err != nil || res.Allowed {
		t.Fatalf("expected rejection, got %+v (%v)", res, err)
	}

	keys := mr.Keys()
	if len(keys) != 1 {
		t.Fatalf("expected one counter key, got %v", keys)
	}
	if ttl := mr.TTL(keys[0]); ttl != time.Minute {
		t.Fatalf("expected window ttl, got %s", ttl)
	}
}

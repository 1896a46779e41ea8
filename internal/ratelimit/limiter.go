package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/khanghh/kgate/params"
)

type Result struct {
	Allowed    bool
	Count      int64
	Limit      int
	RetryAfter time.Duration
}

// FixedWindow allows Limit hits per key in each aligned window.
type FixedWindow struct {
	counter Counter
	limit   int
	window  time.Duration
	now     func() time.Time
}

func (l *FixedWindow) Allow(ctx context.Context, key string) (*Result, error) {
	now := l.now()
	windowIndex := now.UnixNano() / int64(l.window)
	windowEnd := time.Unix(0, (windowIndex+1)*int64(l.window))

	counterKey := params.RateLimitKeyPrefix + key + ":" + strconv.FormatInt(windowIndex, 10)
	// keys carry the window index, so a full window TTL is enough to expire them
	count, err := l.counter.Increment(ctx, counterKey, l.window)
	if err != nil {
		return nil, err
	}
	result := &Result{
		Allowed: count <= int64(l.limit),
		Count:   count,
		Limit:   l.limit,
	}
	if !result.Allowed {
		result.RetryAfter = windowEnd.Sub(now)
	}
	return result, nil
}

func NewFixedWindow(counter Counter, limit int, window time.Duration) *FixedWindow {
	if limit <= 0 {
		limit = params.RateLimitDefaultMax
	}
	if window <= 0 {
		window = params.RateLimitWindow
	}
	return &FixedWindow{
		counter: counter,
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

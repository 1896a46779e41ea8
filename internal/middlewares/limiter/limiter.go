package limiter

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/khanghh/kgate/internal/audit"
	"github.com/khanghh/kgate/internal/metrics"
	"github.com/khanghh/kgate/internal/ratelimit"
)

type Limiter interface {
	Allow(ctx context.Context, key string) (*ratelimit.Result, error)
}

type AuditRecorder interface {
	Record(ctx context.Context, event audit.Event)
}

type Config struct {
	Limiter  Limiter
	Audit    AuditRecorder
	Prefixes []string // paths outside these prefixes are not limited
}

func (c *Config) applies(path string) bool {
	for _, prefix := range c.Prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// New limits requests under the configured prefixes per caller IP. A counter
// failure rejects the request.
func New(config Config) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		if !config.applies(ctx.Path()) {
			return ctx.Next()
		}
		ip := ctx.IP()
		result, err := config.Limiter.Allow(ctx.UserContext(), ip)
		if err != nil {
			slog.Error("Rate limit check failed", "ip", ip, "error", err)
			return fiber.ErrInternalServerError
		}
		ctx.Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		if result.Allowed {
			return ctx.Next()
		}

		metrics.RateLimited.Inc()
		if config.Audit != nil {
			config.Audit.Record(ctx.UserContext(), audit.Event{
				Actor:     ip,
				Area:      audit.AreaWebhook,
				Action:    audit.ActionRateLimited,
				IP:        ip,
				UserAgent: ctx.Get(fiber.HeaderUserAgent),
				Details:   map[string]any{"path": ctx.Path(), "count": result.Count},
			})
		}
		ctx.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(math.Ceil(result.RetryAfter.Seconds()))))
		return fiber.ErrTooManyRequests
	}
}

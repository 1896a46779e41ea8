package tenancy

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/khanghh/kgate/internal/tenants"
)

const (
	HeaderRequestID   = "X-Request-Id"
	requestContextKey = "requestContext"
)

// RequestContext carries what the tenancy middleware learned about a request.
type RequestContext struct {
	RequestID    string
	Tenant       string
	IsDemo       bool
	OriginalPath string
}

type TenantResolver interface {
	Resolve(ctx context.Context, host string) (*tenants.Tenant, error)
}

type Config struct {
	Resolver            TenantResolver
	PassthroughPrefixes []string // never rewritten under the tenant prefix
}

// FromContext returns the request context set by the middleware, or nil.
func FromContext(ctx *fiber.Ctx) *RequestContext {
	rc, _ := ctx.Locals(requestContextKey).(*RequestContext)
	return rc
}

func requestID(ctx *fiber.Ctx) string {
	if id, err := uuid.Parse(ctx.Get(HeaderRequestID)); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

func (c *Config) shouldRewrite(path string, tenant string) bool {
	for _, prefix := range c.PassthroughPrefixes {
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}
	tenantRoot := "/" + tenant
	return path != tenantRoot && !strings.HasPrefix(path, tenantRoot+"/")
}

// New resolves the tenant from the request host and rewrites the route to
// /<tenant><path> so tenant routes are matched the same way on every host.
// The middleware does not look at authentication.
func New(config Config) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		// the rewrite below reuses the request path buffer
		path := strings.Clone(ctx.Path())
		host := strings.Clone(ctx.Hostname())
		rc := &RequestContext{
			RequestID:    requestID(ctx),
			OriginalPath: path,
		}

		tenant, err := config.Resolver.Resolve(ctx.UserContext(), host)
		switch {
		case err == nil:
			rc.Tenant = tenant.Slug
			rc.IsDemo = tenant.IsDemo
		case errors.Is(err, tenants.ErrTenantNotFound):
		default:
			slog.Error("Tenant lookup failed", "host", host, "error", err)
			return fiber.ErrInternalServerError
		}

		if rc.Tenant != "" && config.shouldRewrite(path, rc.Tenant) {
			ctx.Path("/" + rc.Tenant + path)
		}
		ctx.Locals(requestContextKey, rc)
		ctx.Request().Header.Set(HeaderRequestID, rc.RequestID)
		ctx.Set(HeaderRequestID, rc.RequestID)
		return ctx.Next()
	}
}

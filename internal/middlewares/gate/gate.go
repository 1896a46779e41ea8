package gate

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/khanghh/kgate/internal/audit"
	"github.com/khanghh/kgate/internal/authz"
	"github.com/khanghh/kgate/internal/dispatch"
	"github.com/khanghh/kgate/internal/metrics"
	"github.com/khanghh/kgate/internal/middlewares/sessions"
	"github.com/khanghh/kgate/internal/middlewares/tenancy"
)

const (
	HeaderPrincipalID    = "X-Principal-Id"
	HeaderPrincipalRole  = "X-Principal-Role"
	HeaderPrincipalEmail = "X-Principal-Email"
	HeaderTenantID       = "X-Tenant-Id"

	principalContextKey = "principal"
	gateContextKey      = "gate"
)

var principalHeaders = []string{HeaderPrincipalID, HeaderPrincipalRole, HeaderPrincipalEmail, HeaderTenantID}

type GrantLoader interface {
	LoadGrants(ctx context.Context, userID uint, principalRole string) ([]authz.Grant, error)
}

type AuditRecorder interface {
	Record(ctx context.Context, event audit.Event)
}

type Dispatcher interface {
	Go(name string, task dispatch.Task) bool
}

type Config struct {
	Sessions       *sessions.Manager
	Grants         GrantLoader
	Resolver       *authz.Resolver
	Audit          AuditRecorder
	Dispatcher     Dispatcher
	LoginPath      string
	PublicPaths    []string // matched exactly against the original path
	PublicPrefixes []string
	Routes         []*RouteRule // matched against the tenant-rewritten path, e.g. /:tenant/sites/*
	DefaultDeny    bool         // reject sessions no route rule matches instead of admitting them
}

type Gate struct {
	Config
	publicPaths map[string]struct{}
}

// Principal returns the session the gate admitted the request with, or nil.
func Principal(ctx *fiber.Ctx) *sessions.Session {
	sess, _ := ctx.Locals(principalContextKey).(*sessions.Session)
	return sess
}

func (g *Gate) isPublic(path string) bool {
	if _, ok := g.publicPaths[path]; ok {
		return true
	}
	for _, prefix := range g.PublicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (g *Gate) redirectToLogin(ctx *fiber.Ctx, originalPath string) error {
	returnTo := originalPath
	if query := ctx.Request().URI().QueryString(); len(query) > 0 {
		returnTo += "?" + string(query)
	}
	metrics.GateDecisions.WithLabelValues("redirect").Inc()
	return ctx.Redirect(g.LoginPath+"?returnTo="+url.QueryEscape(returnTo), fiber.StatusFound)
}

func (g *Gate) deny(ctx *fiber.Ctx, sess *sessions.Session, action string, details map[string]any) error {
	details["path"] = ctx.Path()
	if rc := tenancy.FromContext(ctx); rc != nil {
		details["requestId"] = rc.RequestID
	}
	g.Audit.Record(ctx.UserContext(), audit.Event{
		Actor:     strconv.FormatUint(uint64(sess.PrincipalID), 10),
		Area:      audit.AreaAuthz,
		Action:    action,
		IP:        ctx.IP(),
		UserAgent: ctx.Get(fiber.HeaderUserAgent),
		Details:   details,
	})
	metrics.GateDecisions.WithLabelValues("forbidden").Inc()
	return fiber.ErrForbidden
}

// grantNames loads the principal's grants for audit details. A failed load is
// logged and leaves the list out.
func (g *Gate) grantNames(ctx *fiber.Ctx, sess *sessions.Session) []string {
	grants, err := g.Grants.LoadGrants(ctx.UserContext(), sess.PrincipalID, sess.Role)
	if err != nil {
		slog.Warn("Failed to load grants for audit", "principalID", sess.PrincipalID, "error", err)
		return nil
	}
	names := make([]string, len(grants))
	for i, grant := range grants {
		names[i] = grant.String()
	}
	return names
}

// checkPermission answers perm at scope from freshly loaded grants. Denials are
// audited with the grants the principal holds.
func (g *Gate) checkPermission(ctx *fiber.Ctx, sess *sessions.Session, perm authz.PermissionKey, scopeType authz.ScopeType, scopeID string) error {
	grants, err := g.Grants.LoadGrants(ctx.UserContext(), sess.PrincipalID, sess.Role)
	if err != nil {
		slog.Error("Failed to load grants", "principalID", sess.PrincipalID, "error", err)
		metrics.GateDecisions.WithLabelValues("error").Inc()
		return fiber.ErrInternalServerError
	}
	decision := g.Resolver.Decide(grants, perm, scopeType, scopeID)
	if decision.Allowed {
		return nil
	}
	names := make([]string, len(grants))
	for i, grant := range grants {
		names[i] = grant.String()
	}
	return g.deny(ctx, sess, audit.ActionAccessDenied, map[string]any{
		"requiredPermission": string(perm),
		"scope":              authz.Scope{Type: scopeType, ID: scopeID}.String(),
		"grants":             names,
		"reason":             decision.Reason,
	})
}

func (g *Gate) annotate(ctx *fiber.Ctx, sess *sessions.Session) {
	tenant := sess.TenantID
	requestID := ""
	if rc := tenancy.FromContext(ctx); rc != nil {
		requestID = rc.RequestID
		if rc.Tenant != "" {
			tenant = rc.Tenant
		}
	}
	header := &ctx.Request().Header
	header.Set(HeaderPrincipalID, strconv.FormatUint(uint64(sess.PrincipalID), 10))
	header.Set(HeaderPrincipalRole, sess.Role)
	header.Set(HeaderPrincipalEmail, sess.Email)
	header.Set(HeaderTenantID, tenant)
	if requestID != "" {
		header.Set(tenancy.HeaderRequestID, requestID)
	}
	ctx.Locals(principalContextKey, sess)
}

func (g *Gate) touch(sess *sessions.Session) {
	token, at := sess.Token, time.Now()
	g.Dispatcher.Go("session_touch", func(ctx context.Context) error {
		return g.Sessions.Store.Touch(ctx, token, at)
	})
}

func (g *Gate) handle(ctx *fiber.Ctx) error {
	ctx.Locals(gateContextKey, g)
	// only the gate may set principal headers
	for _, header := range principalHeaders {
		ctx.Request().Header.Del(header)
	}
	originalPath := ctx.Path()
	if rc := tenancy.FromContext(ctx); rc != nil {
		originalPath = rc.OriginalPath
	}
	if g.isPublic(originalPath) {
		metrics.GateDecisions.WithLabelValues("public").Inc()
		return ctx.Next()
	}

	sess, err := g.Sessions.Current(ctx)
	if err != nil {
		if sessions.IsUnauthenticated(err) {
			return g.redirectToLogin(ctx, originalPath)
		}
		slog.Error("Session lookup failed", "error", err)
		metrics.GateDecisions.WithLabelValues("error").Inc()
		return fiber.ErrInternalServerError
	}

	rule, params := matchRoute(g.Routes, ctx.Path())
	if rule == nil && g.DefaultDeny {
		return g.deny(ctx, sess, audit.ActionAccessDenied, map[string]any{"reason": "no_route_rule"})
	}
	if rule != nil {
		if !rule.AllowsRole(sess.Role) {
			return g.deny(ctx, sess, audit.ActionAccessDenied, map[string]any{
				"requiredRoles":      roleNames(rule.Roles),
				"requiredPermission": string(rule.Permission),
				"grants":             g.grantNames(ctx, sess),
			})
		}
		if rule.TenantScoped() && authz.RoleKey(sess.Role) != authz.RoleSystemOwner && params[tenantParam] != sess.TenantID {
			return g.deny(ctx, sess, audit.ActionTenantMismatch, map[string]any{
				"tenant":          params[tenantParam],
				"principalTenant": sess.TenantID,
			})
		}
		if rule.Permission != "" {
			if err := g.checkPermission(ctx, sess, rule.Permission, rule.ScopeType, params[rule.ScopeParam]); err != nil {
				return err
			}
		}
	}

	g.annotate(ctx, sess)
	g.touch(sess)
	metrics.GateDecisions.WithLabelValues("allowed").Inc()
	return ctx.Next()
}

// New returns the request gate. Requests off the public allow-list need a live
// session and must pass the first matching route rule.
func New(config Config) fiber.Handler {
	if config.LoginPath == "" {
		config.LoginPath = "/login"
	}
	if config.Resolver == nil {
		config.Resolver = authz.NewResolver()
	}
	g := &Gate{
		Config:      config,
		publicPaths: make(map[string]struct{}, len(config.PublicPaths)),
	}
	for _, path := range config.PublicPaths {
		g.publicPaths[path] = struct{}{}
	}
	return g.handle
}

// RequirePermission checks perm for the principal admitted by the gate. For a
// non-global scope the scope id is read from the route parameter param.
func RequirePermission(perm authz.PermissionKey, scopeType authz.ScopeType, param string) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		g, _ := ctx.Locals(gateContextKey).(*Gate)
		sess := Principal(ctx)
		if g == nil || sess == nil {
			return fiber.ErrUnauthorized
		}
		scopeID := ""
		if scopeType != authz.ScopeGlobal {
			scopeID = ctx.Params(param)
		}
		if err := g.checkPermission(ctx, sess, perm, scopeType, scopeID); err != nil {
			return err
		}
		return ctx.Next()
	}
}

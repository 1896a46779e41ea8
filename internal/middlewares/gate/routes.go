package gate

import (
	"fmt"
	"slices"
	"strings"

	"github.com/khanghh/kgate/internal/authz"
)

const tenantParam = "tenant"

type RouteRuleOptions struct {
	Pattern    string
	Roles      []string
	Permission string
	ScopeType  string
	ScopeParam string
}

// RouteRule protects the paths matching Pattern. Segments starting with ':'
// bind a parameter and a trailing '*' matches any remainder, including none.
// A rule with a :tenant segment is tenant scoped.
type RouteRule struct {
	Pattern    string
	Roles      []authz.RoleKey // empty allows any authenticated principal
	Permission authz.PermissionKey
	ScopeType  authz.ScopeType
	ScopeParam string

	segments []string
	wildcard bool
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func NewRouteRule(opts RouteRuleOptions) (*RouteRule, error) {
	if !strings.HasPrefix(opts.Pattern, "/") {
		return nil, fmt.Errorf("route %q: pattern must start with /", opts.Pattern)
	}
	rule := &RouteRule{
		Pattern:    opts.Pattern,
		ScopeType:  authz.ScopeGlobal,
		ScopeParam: opts.ScopeParam,
		segments:   splitPath(opts.Pattern),
	}
	if n := len(rule.segments); n > 0 && rule.segments[n-1] == "*" {
		rule.segments = rule.segments[:n-1]
		rule.wildcard = true
	}
	for _, seg := range rule.segments {
		if seg == "*" || seg == ":" {
			return nil, fmt.Errorf("route %q: invalid segment %q", opts.Pattern, seg)
		}
	}

	for _, raw := range opts.Roles {
		role, err := authz.ParseRoleKey(raw)
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", opts.Pattern, err)
		}
		rule.Roles = append(rule.Roles, role)
	}

	if opts.Permission == "" {
		return rule, nil
	}
	perm, err := authz.ParsePermissionKey(opts.Permission)
	if err != nil {
		return nil, fmt.Errorf("route %q: %w", opts.Pattern, err)
	}
	rule.Permission = perm
	if opts.ScopeType != "" {
		scopeType, err := authz.ParseScopeType(opts.ScopeType)
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", opts.Pattern, err)
		}
		rule.ScopeType = scopeType
	}
	if rule.ScopeType != authz.ScopeGlobal && !slices.Contains(rule.segments, ":"+opts.ScopeParam) {
		return nil, fmt.Errorf("route %q: scope parameter %q is not in the pattern", opts.Pattern, opts.ScopeParam)
	}
	return rule, nil
}

// Match reports whether path matches the rule and returns the bound parameters.
func (r *RouteRule) Match(path string) (map[string]string, bool) {
	parts := splitPath(path)
	if len(parts) < len(r.segments) || (!r.wildcard && len(parts) != len(r.segments)) {
		return nil, false
	}
	params := make(map[string]string)
	for i, seg := range r.segments {
		if name, ok := strings.CutPrefix(seg, ":"); ok {
			params[name] = parts[i]
			continue
		}
		if seg != parts[i] {
			return nil, false
		}
	}
	return params, true
}

func (r *RouteRule) AllowsRole(role string) bool {
	return len(r.Roles) == 0 || slices.Contains(r.Roles, authz.RoleKey(role))
}

func (r *RouteRule) TenantScoped() bool {
	return slices.Contains(r.segments, ":"+tenantParam)
}

func roleNames(roles []authz.RoleKey) []string {
	names := make([]string, len(roles))
	for i, role := range roles {
		names[i] = string(role)
	}
	return names
}

// matchRoute returns the first rule matching path.
func matchRoute(rules []*RouteRule, path string) (*RouteRule, map[string]string) {
	for _, rule := range rules {
		if params, ok := rule.Match(path); ok {
			return rule, params
		}
	}
	return nil, nil
}

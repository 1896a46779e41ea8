package authz

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	identifierPattern    = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	permissionKeyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*\.[a-z][a-z0-9_]*$`)
)

// PermissionKey identifies a permission as <module>.<action>.
type PermissionKey string

func ParsePermissionKey(s string) (PermissionKey, error) {
	if !permissionKeyPattern.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPermissionKey, s)
	}
	return PermissionKey(s), nil
}

func (k PermissionKey) Module() string {
	module, _, _ := strings.Cut(string(k), ".")
	return module
}

func (k PermissionKey) Action() string {
	_, action, _ := strings.Cut(string(k), ".")
	return action
}

type RoleKey string

const (
	RoleSystemOwner RoleKey = "system_owner"
	RoleTenantAdmin RoleKey = "tenant_admin"
	RoleStandard    RoleKey = "standard"
)

func ParseRoleKey(s string) (RoleKey, error) {
	if !identifierPattern.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRoleKey, s)
	}
	return RoleKey(s), nil
}

// IsPrincipalRole reports whether k is one of the roles a principal record carries.
func (k RoleKey) IsPrincipalRole() bool {
	switch k {
	case RoleSystemOwner, RoleTenantAdmin, RoleStandard:
		return true
	}
	return false
}

type ScopeType string

const (
	ScopeGlobal  ScopeType = "global"
	ScopeClient  ScopeType = "client"
	ScopeSite    ScopeType = "site"
	ScopeProject ScopeType = "project"
)

func ParseScopeType(s string) (ScopeType, error) {
	switch t := ScopeType(s); t {
	case ScopeGlobal, ScopeClient, ScopeSite, ScopeProject:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidScopeType, s)
}

type Scope struct {
	Type ScopeType
	ID   string
}

func GlobalScope() Scope {
	return Scope{Type: ScopeGlobal}
}

// ParseScope validates a (type, id) pair: global scopes carry no id, all
// others require one.
func ParseScope(scopeType, scopeID string) (Scope, error) {
	t, err := ParseScopeType(scopeType)
	if err != nil {
		return Scope{}, err
	}
	if t == ScopeGlobal && scopeID != "" {
		return Scope{}, ErrScopeIDNotAllowed
	}
	if t != ScopeGlobal && scopeID == "" {
		return Scope{}, ErrScopeIDRequired
	}
	return Scope{Type: t, ID: scopeID}, nil
}

func (s Scope) String() string {
	if s.Type == ScopeGlobal {
		return string(ScopeGlobal)
	}
	return string(s.Type) + ":" + s.ID
}

// Grant is a role held by a principal at a scope, with the role's permissions
// flattened for lookup.
type Grant struct {
	Role        RoleKey
	Scope       Scope
	Permissions map[PermissionKey]struct{}
	Active      bool
	ExpiresAt   *time.Time
}

func NewGrant(role RoleKey, scope Scope, perms ...PermissionKey) Grant {
	set := make(map[PermissionKey]struct{}, len(perms))
	for _, perm := range perms {
		set[perm] = struct{}{}
	}
	return Grant{
		Role:        role,
		Scope:       scope,
		Permissions: set,
		Active:      true,
	}
}

func (g Grant) Effective(now time.Time) bool {
	return g.Active && (g.ExpiresAt == nil || g.ExpiresAt.After(now))
}

func (g Grant) Allows(perm PermissionKey) bool {
	_, ok := g.Permissions[perm]
	return ok
}

func (g Grant) String() string {
	return string(g.Role) + "@" + g.Scope.String()
}

package authz

import "time"

const (
	ReasonSystemOwner   = "system_owner"
	ReasonGlobalGrant   = "global_grant"
	ReasonScopedGrant   = "scoped_grant"
	ReasonNoMatchingRow = "no_matching_grant"
)

type Decision struct {
	Allowed bool
	Reason  string
	Grant   *Grant
}

// Resolver answers permission questions over a principal's grants. Scopes do
// not inherit from each other: a client grant says nothing about that
// client's sites. Callers that want a hierarchy pass it to CanAny.
type Resolver struct {
	now func() time.Time
}

func (r *Resolver) Decide(grants []Grant, perm PermissionKey, scopeType ScopeType, scopeID string) Decision {
	now := r.now()
	effective := make([]Grant, 0, len(grants))
	for _, g := range grants {
		if g.Effective(now) {
			effective = append(effective, g)
		}
	}

	for i := range effective {
		g := effective[i]
		if g.Role == RoleSystemOwner && g.Scope.Type == ScopeGlobal {
			return Decision{Allowed: true, Reason: ReasonSystemOwner, Grant: &g}
		}
	}
	for i := range effective {
		g := effective[i]
		if g.Scope.Type == ScopeGlobal && g.Allows(perm) {
			return Decision{Allowed: true, Reason: ReasonGlobalGrant, Grant: &g}
		}
	}
	if scopeType != ScopeGlobal && scopeID != "" {
		for i := range effective {
			g := effective[i]
			if g.Scope.Type == scopeType && g.Scope.ID == scopeID && g.Allows(perm) {
				return Decision{Allowed: true, Reason: ReasonScopedGrant, Grant: &g}
			}
		}
	}
	return Decision{Reason: ReasonNoMatchingRow}
}

func (r *Resolver) Can(grants []Grant, perm PermissionKey, scopeType ScopeType, scopeID string) bool {
	return r.Decide(grants, perm, scopeType, scopeID).Allowed
}

// CanAny checks each scope in order, e.g. a site then its owning client.
func (r *Resolver) CanAny(grants []Grant, perm PermissionKey, scopes ...Scope) bool {
	if len(scopes) == 0 {
		return r.Can(grants, perm, ScopeGlobal, "")
	}
	for _, scope := range scopes {
		if r.Can(grants, perm, scope.Type, scope.ID) {
			return true
		}
	}
	return false
}

func (r *Resolver) HasRole(grants []Grant, role RoleKey) bool {
	now := r.now()
	for _, g := range grants {
		if g.Role == role && g.Effective(now) {
			return true
		}
	}
	return false
}

func NewResolver() *Resolver {
	return &Resolver{now: time.Now}
}

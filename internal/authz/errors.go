package authz

import "errors"

var (
	ErrInvalidPermissionKey = errors.New("invalid permission key")
	ErrInvalidRoleKey       = errors.New("invalid role key")
	ErrInvalidScopeType     = errors.New("invalid scope type")
	ErrScopeIDRequired      = errors.New("scope id is required for non-global scope")
	ErrScopeIDNotAllowed    = errors.New("global scope does not take an id")
)

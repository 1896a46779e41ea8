package tenants

import "errors"

var (
	ErrTenantNotFound = errors.New("tenant not found")
	ErrInvalidSlug    = errors.New("invalid tenant slug")
	ErrSlugTaken      = errors.New("tenant slug already exists")
	ErrDomainTaken    = errors.New("custom domain already in use")
)

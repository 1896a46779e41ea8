package users

import (
	"errors"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrEmailTaken       = errors.New("email already registered")
	ErrInvalidEmail     = errors.New("invalid email address")
	ErrPasswordTooShort = errors.New("password too short")
	ErrInvalidRole      = errors.New("invalid principal role")
	ErrTenantRequired   = errors.New("tenant is required for non system owners")
	ErrTenantNotAllowed = errors.New("system owners cannot belong to a tenant")
	ErrRoleNotFound     = errors.New("role not found")
	ErrGrantNotFound    = errors.New("grant not found")
	ErrConcurrentUpdate = errors.New("too many concurrent updates")
	ErrAccountLocked    = errors.New("account is locked")
)

const mysqlErrDuplicateEntry = 1062

func isDuplicateKeyError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlErrDuplicateEntry
}

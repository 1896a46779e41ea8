package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrMissingCredentials = errors.New("email and password are required")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidTOTPCode    = errors.New("invalid verification code")
	ErrAlreadyEnrolled    = errors.New("two-factor authentication already enabled")
	ErrEnrollmentExpired  = errors.New("enrollment not started or expired")
)

// LockedError is returned while an account is locked.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.UTC().Format(time.RFC3339))
}

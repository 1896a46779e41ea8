package twofactor

import "errors"

var (
	ErrTOTPVerifyFailed   = errors.New("TOTP verification failed")
	ErrTOTPCodeReused     = errors.New("TOTP code already used")
	ErrEnrollmentNotFound = errors.New("enrollment not found or expired")
)

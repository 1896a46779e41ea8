package auth

import (
	"context"
	"errors"

	"github.com/khanghh/kgate/internal/audit"
	"github.com/khanghh/kgate/internal/metrics"
	"github.com/khanghh/kgate/internal/twofactor"
	"github.com/khanghh/kgate/internal/users"
	"github.com/khanghh/kgate/model"
)

// authenticatePassword re-checks credentials for the enrollment steps with
// the same lockout accounting as Login.
func (s *LoginService) authenticatePassword(ctx context.Context, req EnrollmentRequest, event *audit.Event) (*model.User, error) {
	now := s.now()
	email := users.NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return nil, ErrMissingCredentials
	}
	event.Actor = email
	hasher := s.userService.Hasher()

	user, err := s.userService.GetUserByEmail(ctx, email)
	if errors.Is(err, users.ErrUserNotFound) {
		hasher.DummyVerify(req.Password)
		s.record(ctx, *event, audit.ActionLoginFailure, "unknown_principal")
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	event.Actor = actorID(user)
	if user.Disabled {
		hasher.DummyVerify(req.Password)
		s.record(ctx, *event, audit.ActionLoginFailure, "principal_disabled")
		return nil, ErrInvalidCredentials
	}
	if decision := s.policy.Decide(user.FailedAttempts, user.LockedUntil, now); decision.Locked {
		s.record(ctx, *event, audit.ActionLoginLocked, "locked")
		return nil, &LockedError{Until: *decision.LockedUntil}
	}
	if !hasher.Verify(req.Password, user.PasswordHash) {
		if err := s.registerFailure(ctx, user, now, *event, audit.ActionLoginFailure, "bad_password"); err != nil {
			return nil, err
		}
		return nil, ErrInvalidCredentials
	}
	if user.TOTPEnabled {
		return nil, ErrAlreadyEnrolled
	}
	return user, nil
}

// BeginEnrollment starts TOTP enrollment for a principal without a second
// factor. The secret stays pending until CompleteEnrollment verifies a code.
func (s *LoginService) BeginEnrollment(ctx context.Context, req EnrollmentRequest) (*EnrollmentStart, error) {
	event := audit.Event{Area: audit.AreaAuth, IP: req.IP, UserAgent: req.UserAgent, Details: map[string]any{}}
	user, err := s.authenticatePassword(ctx, req, &event)
	if err != nil {
		return nil, err
	}
	enrollment, err := s.twoFactorService.BeginEnrollment(ctx, user.ID, user.Email, s.now())
	if err != nil {
		return nil, err
	}
	s.record(ctx, event, audit.ActionEnrollmentStarted, "")
	return &EnrollmentStart{
		Secret:    enrollment.Secret,
		URI:       enrollment.URI,
		ExpiresAt: enrollment.ExpiresAt,
	}, nil
}

// CompleteEnrollment enables TOTP and returns the plaintext backup codes,
// which are never shown again. No session is issued.
func (s *LoginService) CompleteEnrollment(ctx context.Context, req EnrollmentRequest) ([]string, error) {
	event := audit.Event{Area: audit.AreaAuth, IP: req.IP, UserAgent: req.UserAgent, Details: map[string]any{}}
	user, err := s.authenticatePassword(ctx, req, &event)
	if err != nil {
		return nil, err
	}

	now := s.now()
	secret, err := s.twoFactorService.CompleteEnrollment(ctx, user.ID, req.Code, now)
	switch {
	case errors.Is(err, twofactor.ErrEnrollmentNotFound):
		return nil, ErrEnrollmentExpired
	case errors.Is(err, twofactor.ErrTOTPVerifyFailed):
		if err := s.registerFailure(ctx, user, now, event, audit.ActionMFAFailure, "bad_enrollment_code"); err != nil {
			return nil, err
		}
		return nil, ErrInvalidTOTPCode
	case err != nil:
		return nil, err
	}

	codes, hashes, err := s.twoFactorService.NewBackupCodes(user.ID)
	if err != nil {
		return nil, err
	}
	if err := s.userService.EnableTOTP(ctx, user.ID, secret, hashes); err != nil {
		return nil, err
	}
	// enrollment is already committed, a concurrent lock stays in place
	if err := s.userService.ResetFailedAttempts(ctx, user, now); err != nil && !errors.Is(err, users.ErrAccountLocked) {
		return nil, err
	}
	s.record(ctx, event, audit.ActionEnrollmentCompleted, "")
	metrics.LoginAttempts.WithLabelValues("enrolled").Inc()
	return codes, nil
}

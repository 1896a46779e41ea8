package auth

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/khanghh/kgate/internal/audit"
	"github.com/khanghh/kgate/internal/lockout"
	"github.com/khanghh/kgate/internal/metrics"
	"github.com/khanghh/kgate/internal/middlewares/sessions"
	"github.com/khanghh/kgate/internal/twofactor"
	"github.com/khanghh/kgate/internal/users"
	"github.com/khanghh/kgate/model"
	"github.com/khanghh/kgate/params"
)

const reasonTOTPReused = "totp_reused"

// LoginService owns the failed attempt counters and the session lifecycle.
type LoginService struct {
	userService        *users.UserService
	twoFactorService   *twofactor.TwoFactorService
	sessionStore       *sessions.Store
	auditLogger        *audit.Logger
	dispatcher         Dispatcher
	notifier           LockoutNotifier
	policy             lockout.Policy
	sessionDuration    time.Duration
	rememberMeDuration time.Duration
	now                func() time.Time
}

func actorID(user *model.User) string {
	return strconv.FormatUint(uint64(user.ID), 10)
}

func (s *LoginService) record(ctx context.Context, event audit.Event, action string, reason string) {
	event.Action = action
	event.Reason = reason
	s.auditLogger.Record(ctx, event)
}

// Login runs the authentication state machine for one attempt.
func (s *LoginService) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	now := s.now()
	email := users.NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return nil, ErrMissingCredentials
	}
	event := audit.Event{
		Actor:     email,
		Area:      audit.AreaAuth,
		IP:        req.IP,
		UserAgent: req.UserAgent,
		Details:   map[string]any{"tenant": req.Tenant},
	}
	hasher := s.userService.Hasher()

	user, err := s.userService.GetUserByEmail(ctx, email)
	if errors.Is(err, users.ErrUserNotFound) {
		hasher.DummyVerify(req.Password)
		s.record(ctx, event, audit.ActionLoginFailure, "unknown_principal")
		metrics.LoginAttempts.WithLabelValues("rejected").Inc()
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	event.Actor = actorID(user)
	event.Details["email"] = user.Email

	if user.Disabled {
		hasher.DummyVerify(req.Password)
		s.record(ctx, event, audit.ActionLoginFailure, "principal_disabled")
		metrics.LoginAttempts.WithLabelValues("rejected").Inc()
		return nil, ErrInvalidCredentials
	}

	if decision := s.policy.Decide(user.FailedAttempts, user.LockedUntil, now); decision.Locked {
		s.record(ctx, event, audit.ActionLoginLocked, "locked")
		metrics.LoginAttempts.WithLabelValues("locked").Inc()
		return nil, &LockedError{Until: *decision.LockedUntil}
	}

	if !hasher.Verify(req.Password, user.PasswordHash) {
		if err := s.registerFailure(ctx, user, now, event, audit.ActionLoginFailure, "bad_password"); err != nil {
			return nil, err
		}
		metrics.LoginAttempts.WithLabelValues("rejected").Inc()
		return nil, ErrInvalidCredentials
	}

	principal := principalOf(user)
	if user.TOTPEnabled {
		if strings.TrimSpace(req.TOTPCode) == "" {
			s.record(ctx, event, audit.ActionMFARequired, "")
			metrics.LoginAttempts.WithLabelValues("awaiting_totp").Inc()
			return &LoginResult{State: StateAwaitingTOTP}, nil
		}
		reason, err := s.verifySecondFactor(ctx, user, req.TOTPCode, now)
		if errors.Is(err, ErrInvalidTOTPCode) && reason == reasonTOTPReused {
			// the code was valid, so it is not a guess and does not count toward the lock
			s.record(ctx, event, audit.ActionMFAFailure, reason)
			metrics.LoginAttempts.WithLabelValues("rejected").Inc()
			return nil, ErrInvalidTOTPCode
		}
		if errors.Is(err, ErrInvalidTOTPCode) {
			if err := s.registerFailure(ctx, user, now, event, audit.ActionMFAFailure, reason); err != nil {
				return nil, err
			}
			metrics.LoginAttempts.WithLabelValues("rejected").Inc()
			return nil, ErrInvalidTOTPCode
		}
		if err != nil {
			return nil, err
		}
		if reason != "" {
			s.record(ctx, event, audit.ActionBackupCodeUsed, reason)
		}
	} else if user.FirstLogin {
		s.record(ctx, event, audit.ActionEnrollmentRequired, "")
		metrics.LoginAttempts.WithLabelValues("requires_enrollment").Inc()
		return &LoginResult{State: StateRequiresEnrollment, Principal: principal}, nil
	}

	if err := s.userService.ResetFailedAttempts(ctx, user, now); err != nil {
		if errors.Is(err, users.ErrAccountLocked) {
			s.record(ctx, event, audit.ActionLoginLocked, "locked_concurrently")
			metrics.LoginAttempts.WithLabelValues("locked").Inc()
			return nil, &LockedError{Until: *user.LockedUntil}
		}
		return nil, err
	}
	ttl := s.sessionDuration
	if req.RememberMe {
		ttl = s.rememberMeDuration
	}
	sess, err := s.sessionStore.Create(ctx, sessions.Session{
		PrincipalID:    user.ID,
		Email:          user.Email,
		Role:           user.Role,
		TenantID:       user.TenantID,
		IPAddress:      req.IP,
		UserAgent:      req.UserAgent,
		RememberMe:     req.RememberMe,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		LastActivityAt: now,
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, event, audit.ActionLoginSuccess, "")
	metrics.LoginAttempts.WithLabelValues("authenticated").Inc()
	return &LoginResult{
		State:        StateAuthenticated,
		Principal:    principal,
		Session:      sess,
		RedirectHint: RedirectHint(user.Role, user.TenantID),
	}, nil
}

// verifySecondFactor accepts a 6 digit TOTP code or a backup code. On success
// the returned reason is non-empty only when a backup code was consumed.
func (s *LoginService) verifySecondFactor(ctx context.Context, user *model.User, code string, now time.Time) (string, error) {
	if s.twoFactorService.LooksLikeTOTP(code) {
		secret := ""
		if user.TOTPSecret != nil {
			secret = *user.TOTPSecret
		}
		err := s.twoFactorService.VerifyTOTP(ctx, user.ID, secret, code, now)
		switch {
		case err == nil:
			return "", nil
		case errors.Is(err, twofactor.ErrTOTPVerifyFailed):
			return "bad_totp", ErrInvalidTOTPCode
		case errors.Is(err, twofactor.ErrTOTPCodeReused):
			return reasonTOTPReused, ErrInvalidTOTPCode
		default:
			return "", err
		}
	}

	canonical := twofactor.CanonicalizeBackupCode(code)
	if len(canonical) != params.BackupCodeLength {
		return "bad_backup_code", ErrInvalidTOTPCode
	}
	consumed, err := s.userService.ConsumeBackupCode(ctx, user.ID, s.twoFactorService.HashBackupCode(user.ID, canonical))
	if err != nil {
		return "", err
	}
	if !consumed {
		return "bad_backup_code", ErrInvalidTOTPCode
	}
	return "backup_code", nil
}

// registerFailure counts a failed attempt and, when it starts a lock, sends
// the lock notice in the background.
func (s *LoginService) registerFailure(ctx context.Context, user *model.User, now time.Time, event audit.Event, action string, reason string) error {
	result, err := s.userService.RecordFailedAttempt(ctx, user, now)
	if err != nil {
		return err
	}
	event.Details["failedAttempts"] = result.FailedAttempts
	s.record(ctx, event, action, reason)
	if result.LockedNow {
		email, lockedUntil := user.Email, *result.LockedUntil
		s.dispatcher.Go("lockout_notice", func(ctx context.Context) error {
			return s.notifier.NotifyLocked(ctx, email, result.FailedAttempts, lockedUntil)
		})
	}
	return nil
}

func (s *LoginService) Logout(ctx context.Context, sess *sessions.Session, ip string, userAgent string) error {
	err := s.sessionStore.Delete(ctx, sess)
	if err != nil && !errors.Is(err, sessions.ErrSessionNotFound) {
		return err
	}
	s.auditLogger.Record(ctx, audit.Event{
		Actor:     strconv.FormatUint(uint64(sess.PrincipalID), 10),
		Area:      audit.AreaAuth,
		Action:    audit.ActionLogout,
		IP:        ip,
		UserAgent: userAgent,
	})
	return nil
}

func NewLoginService(
	cfg Config,
	userService *users.UserService,
	twoFactorService *twofactor.TwoFactorService,
	sessionStore *sessions.Store,
	auditLogger *audit.Logger,
	dispatcher Dispatcher,
	notifier LockoutNotifier) *LoginService {
	if cfg.SessionDuration <= 0 {
		cfg.SessionDuration = params.SessionDuration
	}
	if cfg.RememberMeDuration <= 0 {
		cfg.RememberMeDuration = params.RememberMeDuration
	}
	return &LoginService{
		userService:        userService,
		twoFactorService:   twoFactorService,
		sessionStore:       sessionStore,
		auditLogger:        auditLogger,
		dispatcher:         dispatcher,
		notifier:           notifier,
		policy:             lockout.DefaultPolicy(),
		sessionDuration:    cfg.SessionDuration,
		rememberMeDuration: cfg.RememberMeDuration,
		now:                time.Now,
	}
}

package auth

import (
	"context"
	"time"

	"github.com/khanghh/kgate/internal/authz"
	"github.com/khanghh/kgate/internal/dispatch"
	"github.com/khanghh/kgate/internal/middlewares/sessions"
	"github.com/khanghh/kgate/model"
)

// LoginState is where a successful Login call leaves the attempt. A rejected
// attempt is reported as an error instead of a state.
type LoginState string

const (
	StateAwaitingTOTP       LoginState = "awaiting_totp"
	StateAuthenticated      LoginState = "authenticated"
	StateRequiresEnrollment LoginState = "requires_enrollment"
)

type LoginRequest struct {
	Email      string
	Password   string
	TOTPCode   string
	RememberMe bool
	IP         string
	UserAgent  string
	Tenant     string // tenant of the request host, for audit only
}

type Principal struct {
	ID          uint   `json:"id,string"`
	Email       string `json:"email"`
	Role        string `json:"role"`
	TenantID    string `json:"tenantId,omitempty"`
	TOTPEnabled bool   `json:"totpEnabled,omitempty"`
}

type LoginResult struct {
	State        LoginState
	Principal    *Principal
	Session      *sessions.Session
	RedirectHint string
}

type EnrollmentRequest struct {
	Email     string
	Password  string
	Code      string
	IP        string
	UserAgent string
}

type EnrollmentStart struct {
	Secret    string    `json:"secret"`
	URI       string    `json:"uri"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type LockoutNotifier interface {
	NotifyLocked(ctx context.Context, email string, failedAttempts int, lockedUntil time.Time) error
}

type Dispatcher interface {
	Go(name string, task dispatch.Task) bool
}

type Config struct {
	SessionDuration    time.Duration
	RememberMeDuration time.Duration
}

func principalOf(user *model.User) *Principal {
	return &Principal{
		ID:          user.ID,
		Email:       user.Email,
		Role:        user.Role,
		TenantID:    user.TenantID,
		TOTPEnabled: user.TOTPEnabled,
	}
}

// RedirectHint is where the principal lands after login.
func RedirectHint(role string, tenantID string) string {
	switch authz.RoleKey(role) {
	case authz.RoleSystemOwner:
		return "/admin"
	case authz.RoleTenantAdmin:
		return "/" + tenantID + "/admin"
	default:
		return "/" + tenantID + "/dashboard"
	}
}

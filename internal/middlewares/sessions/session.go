package sessions

import "time"

type Session struct {
	Token          string    `redis:"-"` // opaque bearer token, never stored
	PrincipalID    uint      `redis:"principal_id"`
	Email          string    `redis:"email"`
	Role           string    `redis:"role"`
	TenantID       string    `redis:"tenant_id"`
	IPAddress      string    `redis:"ip"`
	UserAgent      string    `redis:"user_agent"`
	RememberMe     bool      `redis:"remember_me"`
	CreatedAt      time.Time `redis:"created_at"`
	ExpiresAt      time.Time `redis:"expires_at"`
	LastActivityAt time.Time `redis:"last_activity_at"`
}

func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

func (s *Session) MaxAge(now time.Time) time.Duration {
	return max(s.ExpiresAt.Sub(now), 0)
}

package auth

import (
	"context"
	"log/slog"

	"github.com/khanghh/kgate/internal/audit"
)

// Unlock clears the lockout state of a principal.
func (s *LoginService) Unlock(ctx context.Context, email string, operator string) error {
	user, err := s.userService.GetUserByEmail(ctx, email)
	if err != nil {
		return err
	}
	if err := s.userService.Unlock(ctx, user); err != nil {
		return err
	}
	s.auditLogger.Record(ctx, audit.Event{
		Actor:   operator,
		Area:    audit.AreaAdmin,
		Action:  audit.ActionUnlock,
		Details: map[string]any{"principalId": actorID(user)},
	})
	return nil
}

// DisablePrincipal soft-disables a principal and revokes every live session.
func (s *LoginService) DisablePrincipal(ctx context.Context, email string, operator string) (int, error) {
	user, err := s.userService.GetUserByEmail(ctx, email)
	if err != nil {
		return 0, err
	}
	if err := s.userService.SetDisabled(ctx, user.ID, true); err != nil {
		return 0, err
	}
	revoked, err := s.sessionStore.RevokeAll(ctx, user.ID)
	if err != nil {
		slog.Error("Could not revoke sessions of disabled principal", "principalID", user.ID, "error", err)
		return revoked, err
	}
	s.auditLogger.Record(ctx, audit.Event{
		Actor:  operator,
		Area:   audit.AreaAdmin,
		Action: audit.ActionPrincipalDisabled,
		Details: map[string]any{
			"principalId":  actorID(user),
			"revokedCount": revoked,
		},
	})
	return revoked, nil
}

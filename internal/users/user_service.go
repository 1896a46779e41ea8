package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/khanghh/kgate/internal/authz"
	"github.com/khanghh/kgate/internal/lockout"
	"github.com/khanghh/kgate/model"
	"github.com/khanghh/kgate/params"
	"gorm.io/gorm"
)

const passwordMinLength = 8

type CreateUserOptions struct {
	Email      string
	Password   string
	Role       string
	TenantID   string
	FirstLogin bool
}

type GrantRoleOptions struct {
	UserID    uint
	RoleKey   string
	ScopeType string
	ScopeID   string
	ExpiresAt *time.Time
}

// FailureResult is the lockout state persisted after a failed attempt.
type FailureResult struct {
	FailedAttempts int
	LockedUntil    *time.Time
	LockedNow      bool // this failure started the lock
}

type UserService struct {
	db             *gorm.DB
	userRepo       UserRepository
	backupCodeRepo BackupCodeRepository
	grantRepo      GrantRepository
	roleRepo       RoleRepository
	hasher         *PasswordHasher
	policy         lockout.Policy
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *UserService) Hasher() *PasswordHasher {
	return s.hasher
}

func (s *UserService) GetUserByID(ctx context.Context, userID uint) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	return user, err
}

func (s *UserService) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := s.userRepo.FindByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	return user, err
}

func (s *UserService) CreateUser(ctx context.Context, opts CreateUserOptions) (*model.User, error) {
	email := NormalizeEmail(opts.Email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidEmail
	}
	if len(opts.Password) < passwordMinLength {
		return nil, ErrPasswordTooShort
	}
	role, err := authz.ParseRoleKey(opts.Role)
	if err != nil || !role.IsPrincipalRole() {
		return nil, ErrInvalidRole
	}
	if role == authz.RoleSystemOwner && opts.TenantID != "" {
		return nil, ErrTenantNotAllowed
	}
	if role != authz.RoleSystemOwner && opts.TenantID == "" {
		return nil, ErrTenantRequired
	}

	passwordHash, err := s.hasher.Hash(opts.Password)
	if err != nil {
		return nil, err
	}

	user := model.User{
		Email:        email,
		PasswordHash: passwordHash,
		Role:         string(role),
		TenantID:     opts.TenantID,
		FirstLogin:   opts.FirstLogin,
	}
	if err := s.userRepo.Create(ctx, &user); err != nil {
		if isDuplicateKeyError(err) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return &user, nil
}

// RecordFailedAttempt increments the failure counter with compare-and-set,
// reloading and retrying when another request updated it first. user is
// updated in place with the stored state.
func (s *UserService) RecordFailedAttempt(ctx context.Context, user *model.User, now time.Time) (*FailureResult, error) {
	for range params.FailedAttemptMaxRetries {
		if s.policy.Decide(user.FailedAttempts, user.LockedUntil, now).Locked {
			return &FailureResult{FailedAttempts: user.FailedAttempts, LockedUntil: user.LockedUntil}, nil
		}
		failed, lockedUntil := s.policy.RegisterFailure(user.FailedAttempts, user.LockedUntil, now)
		swapped, err := s.userRepo.CompareAndSwapFailures(ctx, user.ID, user.FailedAttempts, failed, lockedUntil)
		if err != nil {
			return nil, err
		}
		if swapped {
			user.FailedAttempts = failed
			user.LockedUntil = lockedUntil
			return &FailureResult{
				FailedAttempts: failed,
				LockedUntil:    lockedUntil,
				LockedNow:      lockedUntil != nil,
			}, nil
		}

		fresh, err := s.GetUserByID(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		user.FailedAttempts = fresh.FailedAttempts
		user.LockedUntil = fresh.LockedUntil
	}
	return nil, ErrConcurrentUpdate
}

// ResetFailedAttempts clears the counter after a successful attempt with
// compare-and-set on the counter user was read with. A lock taken by a
// concurrent request since then is kept and reported as ErrAccountLocked, with
// user refreshed from the store.
func (s *UserService) ResetFailedAttempts(ctx context.Context, user *model.User, now time.Time) error {
	for range params.FailedAttemptMaxRetries {
		if s.policy.Decide(user.FailedAttempts, user.LockedUntil, now).Locked {
			return ErrAccountLocked
		}
		swapped, err := s.userRepo.CompareAndSwapFailures(ctx, user.ID, user.FailedAttempts, 0, nil)
		if err != nil {
			return err
		}
		if swapped {
			user.FailedAttempts = 0
			user.LockedUntil = nil
			return nil
		}

		fresh, err := s.GetUserByID(ctx, user.ID)
		if err != nil {
			return err
		}
		// mysql counts a row already at 0 and NULL as unaffected
		if fresh.FailedAttempts == 0 && fresh.LockedUntil == nil {
			user.FailedAttempts = 0
			user.LockedUntil = nil
			return nil
		}
		user.FailedAttempts = fresh.FailedAttempts
		user.LockedUntil = fresh.LockedUntil
	}
	return ErrConcurrentUpdate
}

// Unlock clears the counter and any active lock.
func (s *UserService) Unlock(ctx context.Context, user *model.User) error {
	_, err := s.userRepo.Updates(ctx, user.ID, map[string]interface{}{
		"failed_attempts": 0,
		"locked_until":    nil,
	})
	if err != nil {
		return err
	}
	user.FailedAttempts = 0
	user.LockedUntil = nil
	return nil
}

// EnableTOTP stores the verified secret, replaces the backup codes and clears
// the first login flag in one transaction.
func (s *UserService) EnableTOTP(ctx context.Context, userID uint, secret string, backupCodeHashes []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := s.userRepo.WithTx(tx).Updates(ctx, userID, map[string]interface{}{
			"totp_secret":  secret,
			"totp_enabled": true,
			"first_login":  false,
		})
		if err != nil {
			return err
		}
		if rows == 0 {
			return ErrUserNotFound
		}
		return s.backupCodeRepo.WithTx(tx).Replace(ctx, userID, backupCodeHashes)
	})
}

func (s *UserService) ConsumeBackupCode(ctx context.Context, userID uint, codeHash string) (bool, error) {
	return s.backupCodeRepo.Consume(ctx, userID, codeHash)
}

func (s *UserService) CountBackupCodes(ctx context.Context, userID uint) (int64, error) {
	return s.backupCodeRepo.Count(ctx, userID)
}

func (s *UserService) SetDisabled(ctx context.Context, userID uint, disabled bool) error {
	rows, err := s.userRepo.Updates(ctx, userID, map[string]interface{}{"disabled": disabled})
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *UserService) UpsertRole(ctx context.Context, key string, name string, permissionKeys []string, dangerous map[string]bool) (*model.Role, error) {
	roleKey, err := authz.ParseRoleKey(key)
	if err != nil {
		return nil, err
	}
	role := model.Role{
		Key:          string(roleKey),
		Name:         name,
		IsSystemRole: roleKey.IsPrincipalRole(),
	}
	for _, raw := range permissionKeys {
		perm, err := authz.ParsePermissionKey(raw)
		if err != nil {
			return nil, err
		}
		role.Permissions = append(role.Permissions, model.Permission{
			Key:         string(perm),
			Module:      perm.Module(),
			Action:      perm.Action(),
			IsDangerous: dangerous[raw],
		})
	}
	if err := s.roleRepo.Upsert(ctx, &role); err != nil {
		return nil, err
	}
	return &role, nil
}

func (s *UserService) GrantRole(ctx context.Context, opts GrantRoleOptions) (*model.UserRole, error) {
	roleKey, err := authz.ParseRoleKey(opts.RoleKey)
	if err != nil {
		return nil, err
	}
	scope, err := authz.ParseScope(opts.ScopeType, opts.ScopeID)
	if err != nil {
		return nil, err
	}
	if _, err := s.roleRepo.FindByKey(ctx, string(roleKey)); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoleNotFound
		}
		return nil, err
	}
	grant := model.UserRole{
		UserID:    opts.UserID,
		RoleKey:   string(roleKey),
		ScopeType: string(scope.Type),
		ScopeID:   scope.ID,
		IsActive:  true,
		ExpiresAt: opts.ExpiresAt,
	}
	if err := s.grantRepo.Create(ctx, &grant); err != nil {
		return nil, err
	}
	return &grant, nil
}

// RevokeGrant deactivates a grant. The row is kept for history.
func (s *UserService) RevokeGrant(ctx context.Context, grantID string) error {
	rows, err := s.grantRepo.SetActive(ctx, grantID, false)
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrGrantNotFound
	}
	return nil
}

// LoadGrants reads the principal's grants fresh from the store. Rows that fail
// validation are skipped. A system owner principal always carries an implicit
// global system_owner grant.
func (s *UserService) LoadGrants(ctx context.Context, userID uint, principalRole string) ([]authz.Grant, error) {
	rows, err := s.grantRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load grants: %w", err)
	}

	grants := make([]authz.Grant, 0, len(rows)+1)
	if principalRole == string(authz.RoleSystemOwner) {
		grants = append(grants, authz.NewGrant(authz.RoleSystemOwner, authz.GlobalScope()))
	}
	for _, row := range rows {
		grant, err := toGrant(row)
		if err != nil {
			slog.Warn("Skipping invalid grant", "grantID", row.ID, "error", err)
			continue
		}
		grants = append(grants, grant)
	}
	return grants, nil
}

func toGrant(row model.UserRole) (authz.Grant, error) {
	role, err := authz.ParseRoleKey(row.RoleKey)
	if err != nil {
		return authz.Grant{}, err
	}
	scope, err := authz.ParseScope(row.ScopeType, row.ScopeID)
	if err != nil {
		return authz.Grant{}, err
	}
	perms := make([]authz.PermissionKey, 0, len(row.Role.Permissions))
	for _, p := range row.Role.Permissions {
		perm, err := authz.ParsePermissionKey(p.Key)
		if err != nil {
			return authz.Grant{}, err
		}
		perms = append(perms, perm)
	}
	grant := authz.NewGrant(role, scope, perms...)
	grant.Active = row.IsActive
	grant.ExpiresAt = row.ExpiresAt
	return grant, nil
}

func NewUserService(db *gorm.DB, userRepo UserRepository, backupCodeRepo BackupCodeRepository, grantRepo GrantRepository, roleRepo RoleRepository, hasher *PasswordHasher) *UserService {
	return &UserService{
		db:             db,
		userRepo:       userRepo,
		backupCodeRepo: backupCodeRepo,
		grantRepo:      grantRepo,
		roleRepo:       roleRepo,
		hasher:         hasher,
		policy:         lockout.DefaultPolicy(),
	}
}

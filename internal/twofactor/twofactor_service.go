package twofactor

import (
	"context"
	"errors"
	"time"

	"github.com/khanghh/kgate/internal/store"
	"github.com/khanghh/kgate/params"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
)

type TwoFactorService struct {
	masterKey   string
	issuer      string
	verifier    *TOTPVerifier
	guard       *stepGuard
	enrollments *enrollmentStore
}

func (s *TwoFactorService) LooksLikeTOTP(code string) bool {
	return s.verifier.LooksLikeTOTP(code)
}

// VerifyTOTP checks code against secret and marks its step as used.
func (s *TwoFactorService) VerifyTOTP(ctx context.Context, principalID uint, secret string, code string, now time.Time) error {
	step, ok := s.verifier.MatchStep(code, secret, now)
	if !ok {
		return ErrTOTPVerifyFailed
	}
	accepted, err := s.guard.Accept(ctx, principalID, step)
	if err != nil {
		return err
	}
	if !accepted {
		return ErrTOTPCodeReused
	}
	return nil
}

func (s *TwoFactorService) HashBackupCode(principalID uint, code string) string {
	return HashBackupCode(s.masterKey, principalID, code)
}

// NewBackupCodes returns fresh plaintext codes and their hashes. Only the
// hashes are persisted, the plaintext is shown to the principal once.
func (s *TwoFactorService) NewBackupCodes(principalID uint) ([]string, []string, error) {
	codes, err := GenerateBackupCodes(params.BackupCodeCount, params.BackupCodeLength)
	if err != nil {
		return nil, nil, err
	}
	hashes := make([]string, len(codes))
	for i, code := range codes {
		hashes[i] = s.HashBackupCode(principalID, code)
	}
	return codes, hashes, nil
}

// BeginEnrollment generates a secret and keeps it pending until a code is
// verified against it.
func (s *TwoFactorService) BeginEnrollment(ctx context.Context, principalID uint, accountName string, now time.Time) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: accountName,
		Period:      params.TOTPPeriod,
		Digits:      otp.Digits(params.TOTPDigits),
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, err
	}
	enrollment := Enrollment{
		PrincipalID: principalID,
		Secret:      key.Secret(),
		URI:         key.URL(),
		ExpiresAt:   now.Add(params.EnrollmentExpiration),
	}
	if err := s.enrollments.Put(ctx, enrollment, params.EnrollmentExpiration); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// CompleteEnrollment verifies code against the pending secret and returns the
// secret to persist. The pending enrollment is removed on success.
func (s *TwoFactorService) CompleteEnrollment(ctx context.Context, principalID uint, code string, now time.Time) (string, error) {
	enrollment, err := s.enrollments.Load(ctx, principalID)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrEnrollmentNotFound
	}
	if err != nil {
		return "", err
	}
	if !now.Before(enrollment.ExpiresAt) {
		return "", ErrEnrollmentNotFound
	}
	// the step is not marked as used, the same code may log in right after
	if _, ok := s.verifier.MatchStep(code, enrollment.Secret, now); !ok {
		return "", ErrTOTPVerifyFailed
	}
	if err := s.enrollments.Remove(ctx, principalID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", err
	}
	return enrollment.Secret, nil
}

func NewTwoFactorService(rdb redis.UniversalClient, masterKey string, issuer string) *TwoFactorService {
	return &TwoFactorService{
		masterKey:   masterKey,
		issuer:      issuer,
		verifier:    NewTOTPVerifier(),
		guard:       newStepGuard(rdb),
		enrollments: newEnrollmentStore(store.NewRedisStorage(rdb)),
	}
}

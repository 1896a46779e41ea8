package twofactor

import (
	"context"
	"strconv"
	"time"

	"github.com/khanghh/kgate/internal/store"
	"github.com/khanghh/kgate/params"
)

// Enrollment is a generated TOTP secret waiting for its first verified code.
type Enrollment struct {
	PrincipalID uint      `redis:"principal_id"`
	Secret      string    `redis:"secret"`
	URI         string    `redis:"uri"`
	ExpiresAt   time.Time `redis:"expires_at"`
}

type enrollmentStore struct {
	store.Store[Enrollment]
}

func enrollmentKey(principalID uint) string {
	return strconv.FormatUint(uint64(principalID), 10)
}

func (s *enrollmentStore) Put(ctx context.Context, e Enrollment, expiresIn time.Duration) error {
	return s.Set(ctx, enrollmentKey(e.PrincipalID), e, expiresIn)
}

func (s *enrollmentStore) Load(ctx context.Context, principalID uint) (*Enrollment, error) {
	e, err := s.Get(ctx, enrollmentKey(principalID))
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *enrollmentStore) Remove(ctx context.Context, principalID uint) error {
	return s.Delete(ctx, enrollmentKey(principalID))
}

func newEnrollmentStore(storage store.Storage) *enrollmentStore {
	return &enrollmentStore{
		Store: store.New[Enrollment](storage, params.EnrollmentKeyPrefix),
	}
}

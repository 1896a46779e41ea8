package users

import (
	"sync"

	"github.com/khanghh/kgate/params"
	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher hashes with bcrypt. The salt is embedded in the hash.
type PasswordHasher struct {
	cost      int
	dummyOnce sync.Once
	dummyHash []byte
}

func (h *PasswordHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify compares in constant time. A malformed hash never matches.
func (h *PasswordHasher) Verify(password string, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// DummyVerify burns the same work as Verify so unknown emails cannot be told
// apart by response time.
func (h *PasswordHasher) DummyVerify(password string) {
	h.dummyOnce.Do(func() {
		h.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("kgate-dummy-password"), h.cost)
	})
	bcrypt.CompareHashAndPassword(h.dummyHash, []byte(password))
}

func NewPasswordHasher(cost int) *PasswordHasher {
	if cost == 0 {
		cost = params.PasswordHashCost
	}
	return &PasswordHasher{cost: cost}
}

package sessions

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/khanghh/kgate/internal/common"
)

type cookieClaims struct {
	SessionToken string `json:"sid"`
	jwt.RegisteredClaims
}

// CookieSigner wraps the opaque session token in a short HS256 JWT so a
// tampered cookie is rejected before any store lookup.
type CookieSigner struct {
	key []byte
}

func (s *CookieSigner) Sign(token string, expiresAt time.Time) (string, error) {
	claims := cookieClaims{
		SessionToken: token,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

// Verify returns the session token carried by a signed cookie value.
func (s *CookieSigner) Verify(value string) (string, error) {
	var claims cookieClaims
	token, err := jwt.ParseWithClaims(value, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid || claims.SessionToken == "" {
		return "", ErrInvalidCookie
	}
	return claims.SessionToken, nil
}

func NewCookieSigner(masterKey string) *CookieSigner {
	return &CookieSigner{key: []byte(common.CalculateHash(masterKey, "session-cookie"))}
}

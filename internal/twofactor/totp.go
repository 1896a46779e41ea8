package twofactor

import (
	"crypto/subtle"
	"strings"
	"time"

	"github.com/khanghh/kgate/params"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// TOTPVerifier checks RFC 6238 codes, accepting skew steps on either side of
// the current one.
type TOTPVerifier struct {
	period uint
	skew   int
	digits otp.Digits
}

func normalizeCode(code string) string {
	return strings.Join(strings.Fields(code), "")
}

func isDigits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// LooksLikeTOTP reports whether code has the shape of a TOTP code rather than
// a backup code.
func (v *TOTPVerifier) LooksLikeTOTP(code string) bool {
	return isDigits(normalizeCode(code), v.digits.Length())
}

// MatchStep returns the time step the code belongs to.
func (v *TOTPVerifier) MatchStep(code string, secret string, now time.Time) (int64, bool) {
	code = normalizeCode(code)
	if !isDigits(code, v.digits.Length()) || secret == "" {
		return 0, false
	}
	opts := totp.ValidateOpts{
		Period:    v.period,
		Digits:    v.digits,
		Algorithm: otp.AlgorithmSHA1,
	}
	for i := -v.skew; i <= v.skew; i++ {
		at := now.Add(time.Duration(i) * time.Duration(v.period) * time.Second)
		expected, err := totp.GenerateCodeCustom(secret, at, opts)
		if err != nil {
			return 0, false
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return at.Unix() / int64(v.period), true
		}
	}
	return 0, false
}

func (v *TOTPVerifier) Verify(code string, secret string, now time.Time) bool {
	_, ok := v.MatchStep(code, secret, now)
	return ok
}

func NewTOTPVerifier() *TOTPVerifier {
	return &TOTPVerifier{
		period: params.TOTPPeriod,
		skew:   params.TOTPSkew,
		digits: otp.Digits(params.TOTPDigits),
	}
}

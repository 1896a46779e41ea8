package twofactor

import (
	"crypto/rand"
	"strings"

	"github.com/khanghh/kgate/internal/common"
)

// 32 symbols without 0/O and 1/I, so a random byte masked to 5 bits is unbiased.
const backupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func GenerateBackupCodes(count int, length int) ([]string, error) {
	codes := make([]string, 0, count)
	raw := make([]byte, length)
	for range count {
		if _, err := rand.Read(raw); err != nil {
			return nil, err
		}
		var sb strings.Builder
		for _, b := range raw {
			sb.WriteByte(backupCodeAlphabet[b&31])
		}
		codes = append(codes, sb.String())
	}
	return codes, nil
}

// CanonicalizeBackupCode accepts user input with separators and any case.
func CanonicalizeBackupCode(code string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '-' || r == ' ' || r == '\t':
			return -1
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		}
		return r
	}, code)
}

func HashBackupCode(masterKey string, principalID uint, code string) string {
	return common.CalculateHash(masterKey, "backup-code", principalID, CanonicalizeBackupCode(code))
}

package twofactor

import (
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const testSecret = "JBSWY3DPEHPK3PXP"

func codeAt(t *testing.T, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(testSecret, at, totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	return code
}

func TestVerifyAcceptsAdjacentSteps(t *testing.T) {
	v := NewTOTPVerifier()
	now := time.Unix(1_700_000_015, 0)

	for _, offset := range []time.Duration{-30 * time.Second, 0, 30 * time.Second} {
		if !v.Verify(codeAt(t, now.Add(offset)), testSecret, now) {
			t.Fatalf("expected code at %s offset to verify", offset)
		}
	}
}

func TestVerifyRejectsTwoStepsAway(t *testing.T) {
	v := NewTOTPVerifier()
	now := time.Unix(1_700_000_015, 0)
	current := codeAt(t, now)

	for _, offset := range []time.Duration{-60 * time.Second, 60 * time.Second} {
		code := codeAt(t, now.Add(offset))
		if code == current {
			continue
		}
		if v.Verify(code, testSecret, now) {
			t.Fatalf("expected code at %s offset to be rejected", offset)
		}
	}
}

func TestVerifyRejectsMalformedInput(t *testing.T) {
	v := NewTOTPVerifier()
	now := time.Unix(1_700_000_015, 0)
	code := codeAt(t, now)

	for _, bad := range []string{"", "12345", "1234567", "abcdef", code + "0"} {
		if v.Verify(bad, testSecret, now) {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
	if v.Verify(code, "", now) {
		t.Fatal("expected empty secret to be rejected")
	}
	if v.Verify(code, "not base32!", now) {
		t.Fatal("expected invalid secret to be rejected")
	}
	if !v.Verify(code[:3]+" "+code[3:], testSecret, now) {
		t.Fatal("expected whitespace inside code to be ignored")
	}
}

func TestMatchStep(t *testing.T) {
	v := NewTOTPVerifier()
	now := time.Unix(1_700_000_015, 0)
	step, ok := v.MatchStep(codeAt(t, now.Add(30*time.Second)), testSecret, now)
	if !ok {
		t.Fatal("expected match")
	}
	if want := now.Unix()/30 + 1; step != want {
		t.Fatalf("expected step %d, got %d", want, step)
	}
}

func TestBackupCodes(t *testing.T) {
	codes, err := GenerateBackupCodes(10, 8)
	if err != nil {
		t.Fatalf("GenerateBackupCodes failed: %v", err)
	}
	if len(codes) != 10 {
		t.Fatalf("expected 10 codes, got %d", len(codes))
	}
	seen := map[string]bool{}
	for _, code := range codes {
		if len(code) != 8 {
			t.Fatalf("expected 8 chars, got %q", code)
		}
		for _, c := range code {
			if c == '0' || c == 'O' || c == '1' || c == 'I' {
				t.Fatalf("ambiguous symbol in %q", code)
			}
		}
		seen[code] = true
	}
	if len(seen) != len(codes) {
		t.Fatal("expected distinct codes")
	}

	if CanonicalizeBackupCode(" abcd-efgh ") != "ABCDEFGH" {
		t.Fatalf("unexpected canonical form %q", CanonicalizeBackupCode(" abcd-efgh "))
	}
	if HashBackupCode("k", 1, "abcd-efgh") != HashBackupCode("k", 1, "ABCDEFGH") {
		t.Fatal("expected hash over canonical form")
	}
	if HashBackupCode("k", 1, "ABCDEFGH") == HashBackupCode("k", 2, "ABCDEFGH") {
		t.Fatal("expected hash bound to principal")
	}
}

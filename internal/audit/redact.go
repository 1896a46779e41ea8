package audit

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cast"
)

const Redacted = "[REDACTED]"

var sensitiveKeyParts = []string{
	"password", "secret", "token", "key", "auth", "api_key", "otp", "code", "cookie", "session",
}

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^eyJ[A-Za-z0-9_\-]*\.[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]*$`), // jwt
	regexp.MustCompile(`(?:sk_live|sk_test|pk_live|rk_live|whsec)_[A-Za-z0-9]+`),
	regexp.MustCompile(`xox[bap]-[A-Za-z0-9\-]+`),
	regexp.MustCompile(`ghp_[A-Za-z0-9]+`),
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`AIza[0-9A-Za-z_\-]{35}`),
	regexp.MustCompile(`(?i)^bearer\s+\S+`),
}

var (
	opaqueTokenPattern = regexp.MustCompile(`^[A-Za-z0-9+/_\-]{32,}={0,2}$`)
	digitPattern       = regexp.MustCompile(`[0-9]`)
)

// isOpaqueToken matches long random strings. Paths and plain words are left alone.
func isOpaqueToken(value string) bool {
	return !strings.HasPrefix(value, "/") && opaqueTokenPattern.MatchString(value) && digitPattern.MatchString(value)
}

func isSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(key, part) {
			return true
		}
	}
	return false
}

// LooksLikeSecret reports whether value has the shape of a credential.
func LooksLikeSecret(value string) bool {
	if _, err := uuid.Parse(value); err == nil {
		return false
	}
	for _, re := range secretPatterns {
		if re.MatchString(value) {
			return true
		}
	}
	return isOpaqueToken(value)
}

// Sanitize returns a redacted copy of details. Nested maps and slices are
// walked. The input is never modified.
func Sanitize(details map[string]any) map[string]any {
	if details == nil {
		return nil
	}
	out := make(map[string]any, len(details))
	for key, val := range details {
		if isSensitiveKey(key) {
			out[key] = Redacted
			continue
		}
		out[key] = sanitizeValue(val)
	}
	return out
}

func sanitizeValue(val any) any {
	switch v := val.(type) {
	case nil:
		return nil
	case string:
		if LooksLikeSecret(v) {
			return Redacted
		}
		return v
	case []string:
		items := make([]any, len(v))
		for i, item := range v {
			items[i] = sanitizeValue(item)
		}
		return items
	case []any:
		items := make([]any, len(v))
		for i, item := range v {
			items[i] = sanitizeValue(item)
		}
		return items
	case map[string]any:
		return Sanitize(v)
	case map[string]string:
		m := make(map[string]any, len(v))
		for key, item := range v {
			m[key] = item
		}
		return Sanitize(m)
	case map[any]any:
		return Sanitize(cast.ToStringMap(v))
	default:
		return v
	}
}

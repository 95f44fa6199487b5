// internal/sanitize/sanitize.go

// Package sanitize scrubs credentials and other secrets from strings and
// structured values before they reach logs, artifacts, or action traces.
package sanitize

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"
)

// Redacted replaces every secret value found during sanitization.
const Redacted = "***REDACTED***"

// sensitiveKeys holds key names that mark a map value as a secret. Keys are
// compared after lowercasing and stripping '_' and '-'.
var sensitiveKeys = map[string]struct{}{
	"password":     {},
	"passwd":       {},
	"pwd":          {},
	"apikey":       {},
	"secret":       {},
	"secretkey":    {},
	"token":        {},
	"authtoken":    {},
	"accesstoken":  {},
	"refreshtoken": {},
	"private":      {},
	"privatekey":   {},
	"credential":   {},
	"credentials":  {},
	"auth":         {},
}

// valuePatterns match secrets embedded in free text. Each pattern captures a
// prefix in group 1 and the secret in group 2; the prefix survives, the
// secret does not.
var valuePatterns = []*regexp.Regexp{
	// JSON pairs: "password": "hunter2"
	regexp.MustCompile(`(?i)("(?:password|passwd|pwd|api[_-]?key|secret|token)"\s*:\s*")([^"]+)`),
	// Query params and assignments: password=hunter2
	regexp.MustCompile(`(?i)\b((?:password|passwd|pwd|api[_-]?key|secret|token)=)([^\s&"']+)`),
	// Prose: Password: hunter2
	regexp.MustCompile(`(?i)\b((?:password|passwd|pwd|api[_-]?key|secret|token):\s*)(\S+)`),
	// Authorization headers: Bearer eyJhbGci...
	regexp.MustCompile(`(?i)\b(bearer\s+)([A-Za-z0-9\-._~+/]+=*)`),
}

// String redacts secret values embedded in s, preserving the surrounding
// syntax. Sanitizing already-sanitized text is a no-op.
func String(s string) string {
	for _, re := range valuePatterns {
		s = re.ReplaceAllString(s, "${1}"+Redacted)
	}
	return s
}

// IsSensitiveKey reports whether a map key names a secret. The comparison is
// case-insensitive and ignores '_' and '-'.
func IsSensitiveKey(key string) bool {
	norm := strings.ToLower(key)
	norm = strings.ReplaceAll(norm, "_", "")
	norm = strings.ReplaceAll(norm, "-", "")
	_, ok := sensitiveKeys[norm]
	return ok
}

// Map returns a copy of m with sensitive values redacted. Values under
// sensitive keys are replaced outright; everything else is recursed into.
// The input map is never mutated.
func Map(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if IsSensitiveKey(k) {
			out[k] = Redacted
			continue
		}
		out[k] = Value(v)
	}
	return out
}

// Slice returns a copy of xs with each element sanitized.
func Slice(xs []any) []any {
	if xs == nil {
		return nil
	}
	out := make([]any, len(xs))
	for i, v := range xs {
		out[i] = Value(v)
	}
	return out
}

// Value sanitizes an arbitrary value: strings through String, maps and
// slices recursively, everything else unchanged.
func Value(v any) any {
	switch t := v.(type) {
	case string:
		return String(t)
	case map[string]any:
		return Map(t)
	case []any:
		return Slice(t)
	default:
		return v
	}
}

// LooksLikeSecret reports whether free text typed into a page resembles a
// credential: 6 to 50 characters, no whitespace, at least one letter and one
// digit or symbol, and not an email address or URL.
func LooksLikeSecret(s string) bool {
	if len(s) < 6 || len(s) > 50 {
		return false
	}
	if strings.ContainsAny(s, " \t\n\r") {
		return false
	}
	if strings.Contains(s, "@") && strings.Contains(s, ".") {
		return false
	}
	if u, err := url.Parse(s); err == nil && u.Scheme != "" && u.Host != "" {
		return false
	}
	var hasLetter, hasOther bool
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r) || unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasOther = true
		}
	}
	return hasLetter && hasOther
}

// TypedText redacts text that was typed into the page when it matches a
// known credential or looks like one. Emails and plain words pass through
// with only pattern-based scrubbing.
func TypedText(text string, knownSecrets ...string) string {
	for _, secret := range knownSecrets {
		if secret != "" && text == secret {
			return Redacted
		}
	}
	if LooksLikeSecret(text) {
		return Redacted
	}
	return String(text)
}

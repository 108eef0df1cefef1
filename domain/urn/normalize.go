package urn

import (
	"regexp"
	"strings"
)

// Normalizer rewrites a raw parameter value before it enters a URN.
type Normalizer func(string) string

var idSafe = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

// SanitizeID collapses characters outside the identifier alphabet into
// underscores.
func SanitizeID(raw string) string {
	return idSafe.ReplaceAllString(strings.TrimSpace(raw), "_")
}

// EmailToUsername reduces an email address to its sanitized local part.
func EmailToUsername(email string) string {
	if at := strings.IndexByte(email, '@'); at >= 0 {
		return SanitizeID(email[:at])
	}
	return SanitizeID(email)
}

// Lowercase lowercases the value.
func Lowercase(v string) string {
	return strings.ToLower(v)
}

// Normalizers is the named normalizer table referenced by registry
// transformation declarations.
var Normalizers = map[string]Normalizer{
	"sanitize_id":       SanitizeID,
	"email_to_username": EmailToUsername,
	"lowercase":         Lowercase,
}

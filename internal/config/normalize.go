package config

import (
	"regexp"
	"strings"
)

const DefaultAccountID = "default"

var (
	validIDRe    = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)
	invalidChars = regexp.MustCompile(`[^a-z0-9_-]+`)
	leadingDash  = regexp.MustCompile(`^-+`)
	trailingDash = regexp.MustCompile(`-+$`)
)

// NormalizeAccountID converts a user-provided name into a valid account
// id: lowercase, max 64 chars, only [a-z0-9_-], invalid characters
// collapsed to "-", leading/trailing dashes stripped. An empty result
// falls back to "default".
func NormalizeAccountID(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return DefaultAccountID
	}

	lower := strings.ToLower(trimmed)
	if validIDRe.MatchString(lower) {
		return lower
	}

	result := invalidChars.ReplaceAllString(lower, "-")
	result = leadingDash.ReplaceAllString(result, "")
	result = trailingDash.ReplaceAllString(result, "")

	if len(result) > 64 {
		result = result[:64]
	}
	if result == "" {
		return DefaultAccountID
	}
	return result
}

// Package errors redacts credentials from errors and strings before they reach logs or reports.
package errors

import (
	"fmt"
	"regexp"
	"strings"
)

// Credential patterns to redact. Order matters: the Anthropic pattern must run
// before the generic sk- pattern.
var credentialPatterns = []*regexp.Regexp{
	// Anthropic API key: sk-ant-api03-...
	regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{10,}`),
	// OpenAI keys: sk-..., sk-proj-...
	regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`),
	// Google API keys always start with AIza and are 39 chars long
	regexp.MustCompile(`AIza[0-9A-Za-z_-]{35}`),
	// Telegram bot token: 123456789:ABC-DEF...
	regexp.MustCompile(`\d{8,12}:[a-zA-Z0-9_-]{30,}`),
	regexp.MustCompile(`Bearer\s+[a-zA-Z0-9_.-]+`),
	regexp.MustCompile(`(?i)authorization[:\s]+[^\s]+`),
	// api_key=... and Gemini's ?key=... query parameter
	regexp.MustCompile(`(?i)(api[_-]?)?key=[^\s&"']+`),
	regexp.MustCompile(`(?i)x-api-key[:\s]+[^\s]+`),
	regexp.MustCompile(`(?i)x-goog-api-key[:\s]+[^\s]+`),
	// SMTP AUTH echoes and DSN-style passwords
	regexp.MustCompile(`(?i)password[=:]\s*[^\s&"']+`),
}

const redactedPlaceholder = "[REDACTED]"

// SanitizeError returns err with any credentials in its message redacted.
// The original error stays reachable through errors.Unwrap.
func SanitizeError(err error) error {
	if err == nil {
		return nil
	}

	sanitized := SanitizeString(err.Error())
	if sanitized == err.Error() {
		return err
	}

	return &sanitizedError{
		original:  err,
		sanitized: sanitized,
	}
}

// SanitizeString redacts credential patterns from a string.
func SanitizeString(s string) string {
	result := s
	for _, pattern := range credentialPatterns {
		result = pattern.ReplaceAllString(result, redactedPlaceholder)
	}
	return result
}

// Wrapf is fmt.Errorf("...: %w", err) for errors that may carry credentials.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}

	msg := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", msg, SanitizeError(err))
}

type sanitizedError struct {
	original  error
	sanitized string
}

func (e *sanitizedError) Error() string {
	return e.sanitized
}

func (e *sanitizedError) Unwrap() error {
	return e.original
}

// ContainsCredentials reports whether s appears to contain credentials.
func ContainsCredentials(s string) bool {
	for _, pattern := range credentialPatterns {
		if pattern.MatchString(s) {
			return true
		}
	}
	return false
}

// MaskCredential partially masks a credential for display, e.g. "sk-ant-api03-..." -> "sk-ant-***...".
func MaskCredential(s string) string {
	if len(s) < 10 {
		return strings.Repeat("*", len(s))
	}

	switch {
	case strings.HasPrefix(s, "sk-ant-"):
		return "sk-ant-***..."
	case strings.HasPrefix(s, "sk-"):
		return "sk-***..."
	case strings.HasPrefix(s, "AIza"):
		return "AIza***..."
	}

	// Telegram bot token (number:token)
	if idx := strings.Index(s, ":"); idx > 0 && idx < 15 {
		parts := strings.SplitN(s, ":", 2)
		if len(parts) == 2 && len(parts[0]) <= 12 {
			return parts[0] + ":***..."
		}
	}

	return s[:4] + "***..."
}

package ai

import (
	"errors"
	"strings"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
)

const (
	// Provider token windows reset per minute.
	throttleBaseBackoff = 60 * time.Second
	throttleMaxBackoff  = 120 * time.Second
)

// Lower-cased fragments the REST backends put in throttling errors.
// OpenAI and Ollama answer 429, Gemini reports RESOURCE_EXHAUSTED or UNAVAILABLE.
var (
	rateLimitMarkers = []string{"rate_limit_error", "rate limit", "429", "too many requests", "resource_exhausted"}
	overloadMarkers  = []string{"overloaded", "503", `"unavailable"`}
)

func containsAny(err error, markers []string) bool {
	msg := strings.ToLower(err.Error())
	for _, m := range markers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// isRateLimitError reports whether a backend refused the call for quota reasons.
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *anthropic.APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRateLimitErr()
	}
	return containsAny(err, rateLimitMarkers)
}

// isOverloadedError reports whether the backend is temporarily unavailable.
func isOverloadedError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *anthropic.APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsOverloadedErr()
	}
	return containsAny(err, overloadMarkers)
}

// getBackoffDuration waits a full token window (capped) after throttling and
// 2^attempt seconds after any other failure.
func getBackoffDuration(err error, attempt int) time.Duration {
	if !isRateLimitError(err) && !isOverloadedError(err) {
		return time.Duration(1<<attempt) * time.Second
	}
	return min(throttleBaseBackoff*time.Duration(attempt), throttleMaxBackoff)
}
